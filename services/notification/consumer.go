package notifsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/mail"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/user"
)

// Consumer drains the notification queue and delivers each notification to
// its recipients by email. It runs a reconnect loop with exponential backoff
// and never stops on processing errors; poison messages are rejected without
// requeue so the loop cannot spin on them.
type Consumer struct {
	url     string
	queue   string
	usrSvc  user.ServiceInterface
	mailSvc core.EmailService
	logger  core.Logger
}

func NewConsumer(conf *core.Config, usrSvc user.ServiceInterface, mailSvc core.EmailService, logger core.Logger) *Consumer {
	return &Consumer{
		url:     conf.Broker.URL,
		queue:   conf.Broker.Queue,
		usrSvc:  usrSvc,
		mailSvc: mailSvc,
		logger:  logger,
	}
}

func (c *Consumer) Run() {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.logger.Warn(fmt.Sprintf("notification consumer: dialing broker: %v; retrying in %s", err, backoff))
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		if err = c.consumeLoop(conn); err != nil {
			c.logger.Warn(fmt.Sprintf("notification consumer: consume loop ended: %v; reconnecting", err))
			_ = conn.Close()
			time.Sleep(2 * time.Second)
		}
	}
}

func (c *Consumer) consumeLoop(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return errors.Wrap(err, "opening channel")
	}
	defer func() { _ = ch.Close() }()

	if err = ch.Qos(50, 0, false); err != nil {
		c.logger.Warn(fmt.Sprintf("notification consumer: setting QoS: %v", err))
	}
	if _, err = ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return errors.Wrap(err, "declaring queue")
	}

	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return errors.Wrap(err, "consuming queue")
	}

	for d := range msgs {
		if err := c.handle(d.Body); err != nil {
			c.logger.Error(fmt.Sprintf("notification consumer: handling message: %v", err), err)
			_ = d.Nack(false, false) // reject, do not requeue
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

func (c *Consumer) handle(body []byte) error {
	var n core.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return errors.Wrap(err, "unmarshaling notification")
	}

	messages := make([]*core.EmailMessage, 0, len(n.Recipients))
	for _, r := range n.Recipients {
		usr, err := c.usrSvc.GetByID(context.Background(), r.UserID)
		if err != nil || usr.Email == "" {
			continue // recipient without a reachable address is skipped
		}
		messages = append(messages, &core.EmailMessage{
			To:      []mail.Address{{Name: usr.Name, Address: usr.Email}},
			Subject: n.Subject,
			BodyStr: renderBody(n),
		})
	}
	if len(messages) > 0 {
		c.mailSvc.SendMessages(messages...)
	}
	return nil
}

func renderBody(n core.Notification) string {
	body := n.Subject
	if name, ok := n.Payload["session_name"].(string); ok && name != "" {
		body = fmt.Sprintf("%s: %s", n.Subject, name)
	}
	return body
}
