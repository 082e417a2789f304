package main

import (
	"context"
	"fmt"
	"time"

	"estate-backend/internal/cache"
	"estate-backend/internal/config"
	"estate-backend/internal/database"
	"estate-backend/internal/logger"
	"estate-backend/internal/payments"
	"estate-backend/internal/paynow"
	"estate-backend/internal/properties"
	"estate-backend/internal/storage"
	"estate-backend/internal/tasks"

	"github.com/sirupsen/logrus"
)

const (
	dbAttempts = 10
	dbDelay    = 3 * time.Second
)

// boot loads config, sets up logging and connects to a migrated database.
func boot(service string) (*config.Config, *logrus.Entry, error) {
	cfg := config.Load()
	log := logger.Init(service, cfg.LogLevel)

	if err := database.WaitForDB(cfg, dbAttempts, dbDelay); err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(database.DB); err != nil {
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return cfg, log, nil
}

func newMailer(cfg *config.Config) tasks.Mailer {
	if cfg.SMTPAddr == "" {
		return tasks.LogMailer{}
	}
	return &tasks.SMTPMailer{Addr: cfg.SMTPAddr, User: cfg.SMTPUser, Pass: cfg.SMTPPass, From: cfg.MailFrom}
}

// newDispatcher registers every background job this service knows.
func newDispatcher(cfg *config.Config, store *storage.Local) *tasks.Dispatcher {
	mailer := newMailer(cfg)
	d := tasks.NewDispatcher()
	d.Register(tasks.JobPaymentSucceeded, payments.SucceededHandler(mailer))
	d.Register(tasks.JobMediaProcess, properties.MediaProcessHandler(store))
	d.Register(tasks.JobSendEmail, tasks.EmailHandler(mailer))
	return d
}

// newPublisher queues jobs on RabbitMQ when AMQP_URL is set, otherwise runs them
// in-process in the background. The returned func drains or closes it.
func newPublisher(cfg *config.Config, d *tasks.Dispatcher, log *logrus.Entry) (tasks.Publisher, func(), error) {
	if cfg.AMQPURL == "" {
		log.Warn("AMQP_URL not set, jobs run in-process")
		p := tasks.NewInlinePublisher(d, true)
		return p, p.Wait, nil
	}
	p, err := tasks.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPQueue)
	if err != nil {
		return nil, nil, fmt.Errorf("amqp publisher: %w", err)
	}
	return p, func() {
		if err := p.Close(); err != nil {
			log.WithError(err).Warn("amqp publisher close failed")
		}
	}, nil
}

// newPaymentService wires the Paynow client and, when REDIS_ADDR is set, webhook replay dedupe.
func newPaymentService(cfg *config.Config, pub tasks.Publisher, log *logrus.Entry) (*payments.Service, func()) {
	gw := paynow.NewClient(cfg.PaynowInitiateURL, cfg.PaynowRemoteURL)
	if cfg.RedisAddr == "" {
		return payments.NewService(cfg, gw, pub), func() {}
	}

	dd := payments.NewRedisDeduper(cfg.RedisAddr)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := dd.Ping(ctx); err != nil {
		log.WithError(err).Warn("redis unavailable, webhook dedupe disabled")
		_ = dd.Close()
		return payments.NewService(cfg, gw, pub), func() {}
	}
	return payments.NewService(cfg, gw, pub, payments.WithDeduper(dd)), func() { _ = dd.Close() }
}

func newScheduler(cfg *config.Config, svc *payments.Service, pc *cache.Cache) *tasks.Scheduler {
	s := &tasks.Scheduler{}
	s.Every("poll-pending-payments", cfg.PendingPollEvery, func(ctx context.Context) error {
		n, err := svc.PollPending(ctx)
		if n > 0 {
			logger.Log.WithField("count", n).Info("polled pending payments")
		}
		return err
	})
	s.Every("unfeature-expired", time.Hour, properties.UnfeatureJob(pc))
	return s
}
