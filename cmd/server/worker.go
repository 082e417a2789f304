package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"

	"estate-backend/internal/cache"
	"estate-backend/internal/storage"
	"estate-backend/internal/tasks"

	"github.com/spf13/cobra"
)

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume queued jobs and run periodic tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := boot("estate-worker")
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			d := newDispatcher(cfg, storage.NewLocal(cfg.MediaRoot))
			pub, closePub, err := newPublisher(cfg, d, log)
			if err != nil {
				return err
			}
			defer closePub()
			svc, closeSvc := newPaymentService(cfg, pub, log)
			defer closeSvc()

			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				newScheduler(cfg, svc, cache.New(cfg.MemcachedHost)).Run(ctx)
			}()

			if cfg.AMQPURL == "" {
				log.Warn("AMQP_URL not set, running periodic tasks only")
				wg.Wait()
				return nil
			}

			consumer, err := tasks.NewConsumer(cfg.AMQPURL, cfg.AMQPQueue, d)
			if err != nil {
				stop()
				wg.Wait()
				return err
			}
			defer consumer.Close()

			err = consumer.Run(ctx)
			stop()
			wg.Wait()
			log.Info("worker stopped")
			return err
		},
	}
}
