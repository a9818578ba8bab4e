// Package notifsvc dispatches session notifications through RabbitMQ.
// Publishing is fire-and-forget from the caller's point of view: a
// decision response is never blocked on the broker, and failures are
// logged, not surfaced.
package notifsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
)

type amqpService struct {
	url    string
	queue  string
	logger core.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

var _ core.Notifier = (*amqpService)(nil)

func NewAMQPService(conf *core.Config, logger core.Logger) *amqpService {
	return &amqpService{
		url:    conf.Broker.URL,
		queue:  conf.Broker.Queue,
		logger: logger,
	}
}

func (svc *amqpService) Notify(n core.Notification) {
	go func() {
		if err := svc.publish(n); err != nil {
			svc.logger.Error(fmt.Sprintf("publishing %s notification for session %s: %v", n.Kind, n.SessionID, err), err)
		}
	}()
}

func (svc *amqpService) publish(n core.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "marshaling notification")
	}

	ch, err := svc.channel()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = ch.PublishWithContext(ctx,
		"",        // default exchange
		svc.queue, // routing key = queue name
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		// channel may have gone stale; drop it so the next publish redials
		svc.reset()
		return errors.Wrap(err, "publishing notification")
	}
	return nil
}

// channel returns the cached channel, dialing and declaring the queue on
// first use or after a reset.
func (svc *amqpService) channel() (*amqp.Channel, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if svc.ch != nil {
		return svc.ch, nil
	}

	conn, err := amqp.Dial(svc.url)
	if err != nil {
		return nil, errors.Wrap(err, "dialing broker")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "opening channel")
	}
	// durable so notifications survive broker restarts
	if _, err = ch.QueueDeclare(svc.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errors.Wrap(err, "declaring queue")
	}

	svc.conn = conn
	svc.ch = ch
	return ch, nil
}

func (svc *amqpService) reset() {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.ch != nil {
		_ = svc.ch.Close()
		svc.ch = nil
	}
	if svc.conn != nil {
		_ = svc.conn.Close()
		svc.conn = nil
	}
}

func (svc *amqpService) Close() {
	svc.reset()
}
