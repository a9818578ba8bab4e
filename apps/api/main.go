package main

import (
	"context"
	"database/sql"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	echoapi "github.com/trezcool/darasa/apps/api/echo"
	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/attendance"
	"github.com/trezcool/darasa/core/cancellation"
	"github.com/trezcool/darasa/core/roster"
	"github.com/trezcool/darasa/core/session"
	"github.com/trezcool/darasa/core/user"
	emailsvc "github.com/trezcool/darasa/services/email"
	logsvc "github.com/trezcool/darasa/services/logger"
	notifsvc "github.com/trezcool/darasa/services/notification"
	videosvc "github.com/trezcool/darasa/services/video"
	"github.com/trezcool/darasa/storage/database"
	"github.com/trezcool/darasa/storage/database/sqlxrepos"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	db, err := setUpDB(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = db.Close(); err != nil {
			logger.Error(fmt.Sprintf("closing database: %v", err), err)
		}
	}()

	// repositories
	usrRepo := sqlxrepos.NewUserRepository(db)
	sessRepo := sqlxrepos.NewSessionRepository(db)
	eventRepo := sqlxrepos.NewEventRepository(db)
	cancelRepo := sqlxrepos.NewCancellationRepository(db)
	changeRepo := sqlxrepos.NewChangeRepository(db)
	attRepo := sqlxrepos.NewAttendanceRepository(db)
	rosterRepo := sqlxrepos.NewRosterRepository(db)
	mirror := sqlxrepos.NewTimetableMirror(db)

	// services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}

	var roomSvc session.RoomService
	if conf.VideoService.Enabled {
		roomSvc = videosvc.NewService(conf, logger)
	} else {
		roomSvc = videosvc.NewDummyService()
	}

	var notifier core.Notifier
	if conf.Broker.Enabled {
		amqpSvc := notifsvc.NewAMQPService(conf, logger)
		defer amqpSvc.Close()
		notifier = amqpSvc
	} else {
		notifier = notifsvc.NewConsoleService(logger)
	}

	var rdb *redis.Client
	if conf.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     conf.Redis.Addr,
			Password: conf.Redis.Password,
			DB:       conf.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
	}

	usrSvc := user.NewService(usrRepo, mailSvc, conf)
	rosterSvc := roster.NewService(rosterRepo, usrSvc)
	sessSvc := session.NewService(sessRepo, eventRepo, roomSvc, mirror, rosterSvc, notifier, logger)
	cancelSvc := cancellation.NewService(cancelRepo, sessSvc, logger)
	changeSvc := cancellation.NewChangeService(changeRepo, sessSvc, logger)
	attSvc := attendance.NewService(attRepo, rosterSvc, logger)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	core.ParseEmailTemplates(conf, logger)
	user.LoadCommonPasswords(conf)

	// deliver queued notifications in the background
	if conf.Broker.Enabled {
		consumer := notifsvc.NewConsumer(conf, usrSvc, mailSvc, logger)
		go consumer.Run()
	}

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err = http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:          conf,
			Logger:        logger,
			UserSvc:       usrSvc,
			SessionSvc:    sessSvc,
			CancelSvc:     cancelSvc,
			ChangeSvc:     changeSvc,
			AttendanceSvc: attSvc,
			RosterSvc:     rosterSvc,
			Validate:      validate,
			Translator:    translator,
			Redis:         rdb,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func setUpDB(conf *core.Config) (*sql.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}
