package main

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/stay-reservation/internal/config"
	"github.com/iliyamo/stay-reservation/internal/database"
	"github.com/iliyamo/stay-reservation/internal/handler"
	"github.com/iliyamo/stay-reservation/internal/metrics"
	"github.com/iliyamo/stay-reservation/internal/queue"
	"github.com/iliyamo/stay-reservation/internal/repository"
	"github.com/iliyamo/stay-reservation/internal/repository/memory"
	"github.com/iliyamo/stay-reservation/internal/service"
	"github.com/iliyamo/stay-reservation/internal/utils"
)

// operatorStore is implemented by repository.OperatorRepo and memory.Operators.
type operatorStore interface {
	handler.OperatorFinder
	Create(ctx context.Context, email, password, role string, cost int) (uint64, error)
}

// app holds the wired services shared by every command.
type app struct {
	cfg config.Config

	db        *sql.DB // nil with memory storage
	rdb       *redis.Client
	publisher *queue.Publisher // nil when notifications are off

	store     service.ReservationStore
	ledger    service.PaymentLedger
	rates     handler.RateWriter
	operators operatorStore
	recorder  *metrics.Recorder

	lifecycle *service.Lifecycle
	payments  *service.Payments
	sweeper   *service.Sweeper
}

// newApp connects the configured storage, Redis and RabbitMQ publisher
// and builds the services on top.  Redis and RabbitMQ are optional: the
// service keeps working without them.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg}

	switch cfg.Storage {
	case config.StorageMySQL:
		db, err := database.Open(ctx, cfg.DB)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.store = repository.NewReservationRepo(db)
		a.ledger = repository.NewPaymentRepo(db)
		a.rates = repository.NewUnitRateRepo(db, cfg.Rates)
		a.operators = repository.NewOperatorRepo(db)
	default:
		log.Printf("storage: using in-memory store, data is lost on exit")
		a.store = memory.NewStore()
		a.ledger = memory.NewLedger()
		a.rates = memory.NewRates(cfg.Rates)
		a.operators = memory.NewOperators(utils.HashPassword)
	}

	a.rdb = config.NewRedisClient(config.LoadRedisConfig())
	a.recorder = metrics.NewRecorder(a.rdb, "stay")

	var notifier service.Notifier
	if cfg.Notify {
		a.publisher = queue.NewPublisher(cfg.RabbitURL)
		notifier = a.publisher
	}

	a.lifecycle = service.NewLifecycle(a.store, a.rates, notifier, a.recorder, service.Policy{
		HoldDuration:           cfg.HoldDuration,
		HoldsBlockAvailability: cfg.HoldsBlockAvailability,
	})
	a.payments = service.NewPayments(a.ledger, a.lifecycle, cfg.WebhookSecret)
	a.payments.Tolerance = cfg.WebhookTolerance
	a.sweeper = service.NewSweeper(a.lifecycle, cfg.ReminderWindow)

	if cfg.WebhookSecret == "" {
		log.Printf("webhook: WEBHOOK_SECRET is empty, signatures are NOT verified")
	}
	return a, nil
}

func (a *app) pinger() handler.Pinger {
	if a.db == nil {
		return nil
	}
	return a.db
}

func (a *app) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			log.Printf("rabbitmq: close: %v", err)
		}
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

func utcNow() time.Time { return time.Now().UTC() }
