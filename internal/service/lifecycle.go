package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/stay-reservation/internal/model"
	"github.com/iliyamo/stay-reservation/internal/pricing"
	"github.com/iliyamo/stay-reservation/internal/repository"
	"github.com/iliyamo/stay-reservation/internal/utils"
)

const (
	// DefaultHoldDuration is how long a pre-reservation waits for confirmation.
	DefaultHoldDuration = 30 * time.Minute
	// CodeLength is the number of characters in a reservation code.
	CodeLength = 8
	// DefaultChannel is stamped on reservations created without one.
	DefaultChannel = "web"

	maxCodeAttempts = 5
)

// Policy holds the lifecycle knobs that come from configuration.
type Policy struct {
	HoldDuration time.Duration
	// HoldsBlockAvailability makes unexpired PRE_RESERVED holds block new
	// pre-reservations in addition to CONFIRMED bookings.
	HoldsBlockAvailability bool
}

// Lifecycle creates reservations and drives their state transitions.
// It holds no locks; every transition is delegated to one conditional
// operation of the store.
type Lifecycle struct {
	store    ReservationStore
	rates    RateSource
	notifier Notifier
	metrics  Metrics
	policy   Policy

	// newCode is swapped in tests to force code collisions.
	newCode func() (string, error)
}

// NewLifecycle wires a Lifecycle.  A nil notifier or metrics sink is
// replaced by a no-op.
func NewLifecycle(store ReservationStore, rates RateSource, notifier Notifier, metrics Metrics, policy Policy) *Lifecycle {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if policy.HoldDuration <= 0 {
		policy.HoldDuration = DefaultHoldDuration
	}
	return &Lifecycle{
		store:    store,
		rates:    rates,
		notifier: notifier,
		metrics:  metrics,
		policy:   policy,
		newCode:  func() (string, error) { return utils.NewReservationCode(CodeLength) },
	}
}

// CreateInput is the request to hold a unit for a stay.
type CreateInput struct {
	UnitID   uint64
	CheckIn  time.Time
	CheckOut time.Time
	Guests   int
	Contact  model.Contact
	Channel  string
}

// NormalizeCode canonicalizes a user-typed reservation code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (l *Lifecycle) validate(in *CreateInput, now time.Time) error {
	if in.UnitID == 0 {
		return model.Invalid("unit_id", "is required")
	}
	in.CheckIn = pricing.Day(in.CheckIn)
	in.CheckOut = pricing.Day(in.CheckOut)
	if in.CheckIn.IsZero() || in.CheckOut.IsZero() {
		return model.Invalid("check_in", "check_in and check_out are required")
	}
	if !in.CheckIn.Before(in.CheckOut) {
		return model.Invalid("check_out", "must be after check_in")
	}
	if in.CheckIn.Before(pricing.Day(now)) {
		return model.Invalid("check_in", "must not be in the past")
	}
	if in.Guests <= 0 {
		return model.Invalid("guests", "must be positive")
	}
	in.Contact.Name = strings.TrimSpace(in.Contact.Name)
	in.Contact.Phone = strings.TrimSpace(in.Contact.Phone)
	if in.Contact.Name == "" {
		return model.Invalid("contact_name", "is required")
	}
	if in.Contact.Phone == "" {
		return model.Invalid("contact_phone", "is required")
	}
	if in.Contact.Email != nil {
		e := strings.ToLower(strings.TrimSpace(*in.Contact.Email))
		if e == "" {
			in.Contact.Email = nil
		} else if !strings.Contains(e, "@") {
			return model.Invalid("contact_email", "is not an email address")
		} else {
			in.Contact.Email = &e
		}
	}
	in.Channel = strings.ToLower(strings.TrimSpace(in.Channel))
	if in.Channel == "" {
		in.Channel = DefaultChannel
	}
	return nil
}

// blockingStatuses lists the statuses that make a unit unavailable.
func (l *Lifecycle) blockingStatuses() []model.Status {
	if l.policy.HoldsBlockAvailability {
		return []model.Status{model.StatusConfirmed, model.StatusPreReserved}
	}
	return []model.Status{model.StatusConfirmed}
}

// Availability reports whether the unit is free for [checkIn, checkOut).
func (l *Lifecycle) Availability(ctx context.Context, unitID uint64, checkIn, checkOut, now time.Time) (bool, error) {
	in, out := pricing.Day(checkIn), pricing.Day(checkOut)
	if !in.Before(out) {
		return false, model.Invalid("check_out", "must be after check_in")
	}
	overlap, err := l.store.HasOverlap(ctx, unitID, in, out, l.blockingStatuses(), now)
	if err != nil {
		return false, err
	}
	return !overlap, nil
}

// Quote prices a stay on a unit without holding it.
func (l *Lifecycle) Quote(ctx context.Context, unitID uint64, checkIn, checkOut time.Time) (pricing.Quote, error) {
	if unitID == 0 {
		return pricing.Quote{}, model.Invalid("unit_id", "is required")
	}
	policy, err := l.rates.PolicyFor(ctx, unitID)
	if err != nil {
		return pricing.Quote{}, err
	}
	q, err := pricing.Price(policy, checkIn, checkOut)
	if errors.Is(err, pricing.ErrEmptyRange) {
		return pricing.Quote{}, model.Invalid("check_out", "must be after check_in")
	}
	return q, err
}

// Create validates the request, checks availability, prices the stay
// and stores a PRE_RESERVED hold expiring HoldDuration after now.
func (l *Lifecycle) Create(ctx context.Context, in CreateInput, now time.Time) (*model.Reservation, error) {
	if err := l.validate(&in, now); err != nil {
		return nil, err
	}
	policy, err := l.rates.PolicyFor(ctx, in.UnitID)
	if err != nil {
		return nil, fmt.Errorf("load rate policy: %w", err)
	}
	if policy.MaxGuests > 0 && in.Guests > policy.MaxGuests {
		return nil, model.Invalid("guests", fmt.Sprintf("unit sleeps at most %d", policy.MaxGuests))
	}
	free, err := l.Availability(ctx, in.UnitID, in.CheckIn, in.CheckOut, now)
	if err != nil {
		return nil, err
	}
	if !free {
		return nil, model.ErrUnavailable
	}
	quote, err := pricing.Price(policy, in.CheckIn, in.CheckOut)
	if err != nil {
		return nil, fmt.Errorf("price stay: %w", err)
	}

	expires := now.Add(l.policy.HoldDuration)
	res := &model.Reservation{
		ID:            uuid.NewString(),
		UnitID:        in.UnitID,
		CheckIn:       in.CheckIn,
		CheckOut:      in.CheckOut,
		Guests:        in.Guests,
		Status:        model.StatusPreReserved,
		TotalPrice:    quote.TotalPrice,
		DepositAmount: quote.DepositAmount,
		Currency:      quote.Currency,
		ExpiresAt:     &expires,
		Contact:       in.Contact,
		Channel:       in.Channel,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for attempt := 0; ; attempt++ {
		code, err := l.newCode()
		if err != nil {
			return nil, fmt.Errorf("generate code: %w", err)
		}
		res.Code = code
		err = l.store.Insert(ctx, res)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrDuplicateCode) || attempt+1 >= maxCodeAttempts {
			return nil, err
		}
	}
	l.metrics.ReservationCreated(ctx, res.Channel)
	return res, nil
}

// Get returns the reservation with the given code.
func (l *Lifecycle) Get(ctx context.Context, code string) (*model.Reservation, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, model.Invalid("code", "is required")
	}
	return l.store.GetByCode(ctx, code)
}

// ListByUnit returns every reservation on a unit, newest first.
func (l *Lifecycle) ListByUnit(ctx context.Context, unitID uint64) ([]model.Reservation, error) {
	if unitID == 0 {
		return nil, model.Invalid("unit_id", "is required")
	}
	return l.store.ListByUnit(ctx, unitID)
}

// Confirm makes a hold binding.  Exactly one of any number of concurrent
// callers succeeds; the others receive model.ErrInvalidState.  A hold
// past its deadline yields model.ErrExpired and an overlap with another
// confirmed booking yields model.ErrConflict.  These outcomes are
// returned, not logged.
func (l *Lifecycle) Confirm(ctx context.Context, code string, now time.Time) (*model.Reservation, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, model.Invalid("code", "is required")
	}
	res, err := l.store.Confirm(ctx, code, now)
	if err != nil {
		return nil, err
	}
	l.metrics.ReservationConfirmed(ctx, res.Channel)
	if err := l.notifier.ReservationConfirmed(ctx, res.Summary()); err != nil {
		log.Printf("lifecycle: confirmation notice for %s failed: %v", res.Code, err)
	}
	return res, nil
}

// Expire moves an overdue hold to EXPIRED.  It returns
// model.ErrInvalidState when the reservation is not an overdue hold,
// which includes losing the race to a concurrent confirm.
func (l *Lifecycle) Expire(ctx context.Context, id string, now time.Time) error {
	ok, err := l.store.Expire(ctx, id, now)
	if err != nil {
		return err
	}
	if !ok {
		return model.ErrInvalidState
	}
	return nil
}

// Cancel moves a PRE_RESERVED or CONFIRMED reservation to CANCELLED.
func (l *Lifecycle) Cancel(ctx context.Context, code, reason string, now time.Time) (*model.Reservation, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, model.Invalid("code", "is required")
	}
	reason = strings.TrimSpace(reason)
	if len(reason) > 255 {
		return nil, model.Invalid("reason", "must be at most 255 characters")
	}
	return l.store.Cancel(ctx, code, reason, now)
}
