package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/stay-reservation/internal/model"
	"github.com/iliyamo/stay-reservation/internal/pricing"
	"github.com/iliyamo/stay-reservation/internal/repository/memory"
)

type notifierMock struct{ mock.Mock }

func (m *notifierMock) SendReminder(ctx context.Context, s model.ReservationSummary) error {
	return m.Called(ctx, s).Error(0)
}

func (m *notifierMock) ReservationConfirmed(ctx context.Context, s model.ReservationSummary) error {
	return m.Called(ctx, s).Error(0)
}

type metricsMock struct{ mock.Mock }

func (m *metricsMock) ReservationCreated(ctx context.Context, channel string) { m.Called(ctx, channel) }

func (m *metricsMock) ReservationConfirmed(ctx context.Context, channel string) {
	m.Called(ctx, channel)
}

func (m *metricsMock) PaymentEventReceived(ctx context.Context, duplicate bool, at time.Time) {
	m.Called(ctx, duplicate, at)
}

// t0 is a Wednesday morning two days before the test stays begin.
var t0 = time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

func testPolicy() pricing.Policy {
	return pricing.Policy{
		BaseRate:          decimal.NewFromInt(12000),
		WeekendMultiplier: decimal.RequireFromString("1.5"),
		DepositFraction:   decimal.RequireFromString("0.3"),
		Currency:          "ARS",
	}
}

type fixture struct {
	store     *memory.Store
	rates     *memory.Rates
	ledger    *memory.Ledger
	notifier  *notifierMock
	metrics   *metricsMock
	lifecycle *Lifecycle
	sweeper   *Sweeper
	payments  *Payments
}

func newFixture(t *testing.T, policy Policy) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.NewStore(),
		rates:    memory.NewRates(testPolicy()),
		ledger:   memory.NewLedger(),
		notifier: &notifierMock{},
		metrics:  &metricsMock{},
	}
	f.notifier.On("SendReminder", mock.Anything, mock.Anything).Return(nil).Maybe()
	f.notifier.On("ReservationConfirmed", mock.Anything, mock.Anything).Return(nil).Maybe()
	f.metrics.On("ReservationCreated", mock.Anything, mock.Anything).Maybe()
	f.metrics.On("ReservationConfirmed", mock.Anything, mock.Anything).Maybe()
	f.metrics.On("PaymentEventReceived", mock.Anything, mock.Anything, mock.Anything).Maybe()

	f.lifecycle = NewLifecycle(f.store, f.rates, f.notifier, f.metrics, policy)
	f.sweeper = NewSweeper(f.lifecycle, 10*time.Minute)
	f.payments = NewPayments(f.ledger, f.lifecycle, "")
	return f
}

func stay(unitID uint64, in, out string) CreateInput {
	ci, _ := pricing.ParseDay(in)
	co, _ := pricing.ParseDay(out)
	email := "ana@example.com"
	return CreateInput{
		UnitID:   unitID,
		CheckIn:  ci,
		CheckOut: co,
		Guests:   2,
		Contact:  model.Contact{Name: "Ana", Phone: "+5491100000000", Email: &email},
	}
}

func (f *fixture) hold(t *testing.T, in CreateInput, now time.Time) *model.Reservation {
	t.Helper()
	res, err := f.lifecycle.Create(context.Background(), in, now)
	require.NoError(t, err)
	return res
}

func (f *fixture) status(t *testing.T, code string) model.Status {
	t.Helper()
	res, err := f.store.GetByCode(context.Background(), code)
	require.NoError(t, err)
	return res.Status
}
