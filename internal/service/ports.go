// Package service holds the reservation lifecycle, the expiry and
// reminder sweeper and the payment webhook pipeline.  Every operation
// takes the current instant as an argument; nothing in this package
// reads the wall clock.
package service

import (
	"context"
	"time"

	"github.com/iliyamo/stay-reservation/internal/model"
	"github.com/iliyamo/stay-reservation/internal/pricing"
)

// ReservationStore is the persistence contract of the lifecycle.  Each
// transition method is one atomic conditional operation in the store.
type ReservationStore interface {
	Insert(ctx context.Context, res *model.Reservation) error
	GetByCode(ctx context.Context, code string) (*model.Reservation, error)
	HasOverlap(ctx context.Context, unitID uint64, checkIn, checkOut time.Time, statuses []model.Status, now time.Time) (bool, error)
	Confirm(ctx context.Context, code string, now time.Time) (*model.Reservation, error)
	Expire(ctx context.Context, id string, now time.Time) (bool, error)
	Cancel(ctx context.Context, code, reason string, now time.Time) (*model.Reservation, error)
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error)
	ListRemindable(ctx context.Context, from, until time.Time, limit int) ([]model.Reservation, error)
	ClaimReminder(ctx context.Context, id string, from, until time.Time) (bool, error)
	ListByUnit(ctx context.Context, unitID uint64) ([]model.Reservation, error)
}

// RateSource returns the rate policy of a unit.
type RateSource interface {
	PolicyFor(ctx context.Context, unitID uint64) (pricing.Policy, error)
}

// PaymentLedger is the append-only store of payment events.  Append
// reports duplicate=true when the external event id is already recorded.
type PaymentLedger interface {
	Append(ctx context.Context, ev *model.PaymentEvent) (duplicate bool, err error)
	Events(ctx context.Context, reference string) ([]model.PaymentEvent, error)
}

// Notifier delivers guest-facing messages.  Calls are fire and forget:
// a returned error is logged by the caller and never retried.
type Notifier interface {
	SendReminder(ctx context.Context, s model.ReservationSummary) error
	ReservationConfirmed(ctx context.Context, s model.ReservationSummary) error
}

// Metrics receives write-only counters.
type Metrics interface {
	ReservationCreated(ctx context.Context, channel string)
	ReservationConfirmed(ctx context.Context, channel string)
	PaymentEventReceived(ctx context.Context, duplicate bool, at time.Time)
}

type nopNotifier struct{}

func (nopNotifier) SendReminder(context.Context, model.ReservationSummary) error { return nil }
func (nopNotifier) ReservationConfirmed(context.Context, model.ReservationSummary) error { return nil }

type nopMetrics struct{}

func (nopMetrics) ReservationCreated(context.Context, string) {}
func (nopMetrics) ReservationConfirmed(context.Context, string) {}
func (nopMetrics) PaymentEventReceived(context.Context, bool, time.Time) {}
