package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"estate-backend/internal/cache"
	"estate-backend/internal/server"
	"estate-backend/internal/storage"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			withScheduler, _ := cmd.Flags().GetBool("scheduler")

			cfg, log, err := boot("estate-api")
			if err != nil {
				return err
			}

			pc := cache.New(cfg.MemcachedHost)
			store := storage.NewLocal(cfg.MediaRoot)
			pub, closePub, err := newPublisher(cfg, newDispatcher(cfg, store), log)
			if err != nil {
				return err
			}
			defer closePub()
			svc, closeSvc := newPaymentService(cfg, pub, log)
			defer closeSvc()

			app := server.New(cfg, server.Deps{
				Cache:     pc,
				Payments:  svc,
				Store:     store,
				Publisher: pub,
			})

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if withScheduler {
				go newScheduler(cfg, svc, pc).Run(ctx)
			}

			errCh := make(chan error, 1)
			go func() {
				log.WithField("port", cfg.HTTPPort).Info("HTTP server listening")
				errCh <- app.Listen(":" + cfg.HTTPPort)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return app.ShutdownWithContext(shutdownCtx)
		},
	}
	cmd.Flags().Bool("scheduler", false, "also run the periodic tasks in this process")
	return cmd
}
