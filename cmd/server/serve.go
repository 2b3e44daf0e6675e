package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/stay-reservation/internal/config"
	"github.com/iliyamo/stay-reservation/internal/database"
	"github.com/iliyamo/stay-reservation/internal/handler"
	"github.com/iliyamo/stay-reservation/internal/middleware"
	"github.com/iliyamo/stay-reservation/internal/queue"
	"github.com/iliyamo/stay-reservation/internal/router"
	"github.com/iliyamo/stay-reservation/internal/scheduler"
)

func newServeCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the expiry sweeper and the notification consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if migrateUp && a.db != nil {
				applied, err := database.Migrate(ctx, a.db)
				if err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
				for _, v := range applied {
					log.Printf("migrate: applied %s", v)
				}
			}

			// sweeper
			s := &scheduler.Scheduler{Sweeper: a.sweeper, Interval: cfg.SweepInterval, Now: utcNow}
			go func() { _ = s.Run(ctx) }()

			// notification log writer
			if cfg.Notify && cfg.Consume {
				c := queue.NewConsumer(cfg.RabbitURL, "")
				go func() { _ = c.Run(ctx) }()
			}

			cacheCfg := config.LoadCacheConfig()
			admin := handler.NewAdminHandler(a.lifecycle, a.payments, a.sweeper, a.recorder, a.rates, nil)
			admin.Quotes = middleware.NewCachePurger(cacheCfg, a.rdb)
			e := router.New(router.Deps{
				DB:           a.pinger(),
				Redis:        a.rdb,
				JWTSecret:    cfg.JWTSecret,
				GuestLimit:   config.LoadRateLimitConfig(),
				WebhookLimit: config.LoadWebhookRateLimitConfig(),
				Cache:        cacheCfg,
				Auth:         handler.NewAuthHandler(a.operators, cfg.JWTSecret, time.Duration(cfg.AccessTTLMin)*time.Minute, nil),
				Reservations: handler.NewReservationHandler(a.lifecycle, nil),
				Webhooks:     handler.NewWebhookHandler(a.payments, nil),
				Admin:        admin,
			})

			addr := ":" + cfg.Port
			log.Printf("listening on %s (env=%s, storage=%s)", addr, cfg.Env, cfg.Storage)
			go func() {
				<-ctx.Done()
				shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
				defer done()
				if err := e.Shutdown(shutdownCtx); err != nil {
					log.Printf("shutdown: %v", err)
				}
			}()
			if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "apply database migrations on startup")
	return cmd
}
