package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/stay-reservation/internal/model"
)

func TestCreate_HoldsUnitWithPriceAndDeadline(t *testing.T) {
	f := newFixture(t, Policy{})
	in := stay(7, "2025-01-03", "2025-01-06")
	in.Channel = " WhatsApp "

	res, err := f.lifecycle.Create(context.Background(), in, t0)
	require.NoError(t, err)

	assert.Equal(t, model.StatusPreReserved, res.Status)
	assert.Len(t, res.Code, CodeLength)
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, "48000", res.TotalPrice.String())
	assert.Equal(t, "14400", res.DepositAmount.String())
	assert.Equal(t, "ARS", res.Currency)
	require.NotNil(t, res.ExpiresAt)
	assert.Equal(t, t0.Add(DefaultHoldDuration), *res.ExpiresAt)
	assert.Equal(t, "whatsapp", res.Channel)
	assert.Equal(t, 3, res.Nights())
	f.metrics.AssertCalled(t, "ReservationCreated", mock.Anything, "whatsapp")

	stored, err := f.store.GetByCode(context.Background(), res.Code)
	require.NoError(t, err)
	assert.Equal(t, res.ID, stored.ID)
}

func TestCreate_RejectsInvalidInput(t *testing.T) {
	f := newFixture(t, Policy{})
	cases := map[string]func(*CreateInput){
		"no unit":        func(in *CreateInput) { in.UnitID = 0 },
		"zero guests":    func(in *CreateInput) { in.Guests = 0 },
		"empty range":    func(in *CreateInput) { in.CheckOut = in.CheckIn },
		"reversed range": func(in *CreateInput) { in.CheckIn, in.CheckOut = in.CheckOut, in.CheckIn },
		"past check-in":  func(in *CreateInput) { in.CheckIn = t0.AddDate(0, 0, -1) },
		"no name":        func(in *CreateInput) { in.Contact.Name = "  " },
		"no phone":       func(in *CreateInput) { in.Contact.Phone = "" },
		"bad email": func(in *CreateInput) {
			e := "not-an-email"
			in.Contact.Email = &e
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := stay(1, "2025-01-03", "2025-01-06")
			mutate(&in)
			_, err := f.lifecycle.Create(context.Background(), in, t0)
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrValidation)
		})
	}
	list, err := f.store.ListByUnit(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreate_MaxGuestsFromUnitPolicy(t *testing.T) {
	f := newFixture(t, Policy{})
	p := testPolicy()
	p.MaxGuests = 2
	require.NoError(t, f.rates.Upsert(context.Background(), 3, p))

	in := stay(3, "2025-01-03", "2025-01-04")
	in.Guests = 3
	_, err := f.lifecycle.Create(context.Background(), in, t0)
	assert.ErrorIs(t, err, model.ErrValidation)

	in.Guests = 2
	_, err = f.lifecycle.Create(context.Background(), in, t0)
	assert.NoError(t, err)
}

func TestCreate_UnavailableOnlyAgainstConfirmed(t *testing.T) {
	f := newFixture(t, Policy{})
	ctx := context.Background()

	first := f.hold(t, stay(1, "2025-01-03", "2025-01-06"), t0)

	// an unconfirmed hold does not block by default
	second := f.hold(t, stay(1, "2025-01-04", "2025-01-05"), t0)

	_, err := f.lifecycle.Confirm(ctx, first.Code, t0.Add(time.Minute))
	require.NoError(t, err)

	_, err = f.lifecycle.Create(ctx, stay(1, "2025-01-05", "2025-01-08"), t0)
	assert.ErrorIs(t, err, model.ErrUnavailable)

	// check-out day is free for the next arrival
	_, err = f.lifecycle.Create(ctx, stay(1, "2025-01-06", "2025-01-08"), t0)
	assert.NoError(t, err)

	// another unit is unaffected
	_, err = f.lifecycle.Create(ctx, stay(2, "2025-01-03", "2025-01-06"), t0)
	assert.NoError(t, err)

	_, err = f.lifecycle.Confirm(ctx, second.Code, t0.Add(time.Minute))
	assert.ErrorIs(t, err, model.ErrConflict)
	assert.Equal(t, model.StatusPreReserved, f.status(t, second.Code))
}

func TestCreate_HoldsBlockAvailabilityPolicy(t *testing.T) {
	f := newFixture(t, Policy{HoldsBlockAvailability: true})
	ctx := context.Background()

	f.hold(t, stay(1, "2025-01-03", "2025-01-06"), t0)
	_, err := f.lifecycle.Create(ctx, stay(1, "2025-01-04", "2025-01-05"), t0.Add(time.Minute))
	assert.ErrorIs(t, err, model.ErrUnavailable)

	// once the hold has lapsed it no longer blocks, even before a sweep
	_, err = f.lifecycle.Create(ctx, stay(1, "2025-01-04", "2025-01-05"), t0.Add(DefaultHoldDuration))
	assert.NoError(t, err)
}

func TestCreate_RetriesOnCodeCollision(t *testing.T) {
	f := newFixture(t, Policy{})
	codes := []string{"AAAAAAAA", "AAAAAAAA", "BBBBBBBB"}
	f.lifecycle.newCode = func() (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}

	first := f.hold(t, stay(1, "2025-01-03", "2025-01-04"), t0)
	second := f.hold(t, stay(2, "2025-01-03", "2025-01-04"), t0)
	assert.Equal(t, "AAAAAAAA", first.Code)
	assert.Equal(t, "BBBBBBBB", second.Code)
}

func TestCreate_GivesUpAfterRepeatedCollisions(t *testing.T) {
	f := newFixture(t, Policy{})
	f.lifecycle.newCode = func() (string, error) { return "SAMECODE", nil }

	f.hold(t, stay(1, "2025-01-03", "2025-01-04"), t0)
	_, err := f.lifecycle.Create(context.Background(), stay(2, "2025-01-03", "2025-01-04"), t0)
	assert.Error(t, err)
}

func TestConfirm_ExactlyOneWinner(t *testing.T) {
	f := newFixture(t, Policy{})
	res := f.hold(t, stay(1, "2025-01-03", "2025-01-06"), t0)

	const callers = 32
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		invalids int
		start    = make(chan struct{})
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.lifecycle.Confirm(context.Background(), res.Code, t0.Add(time.Minute))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, model.ErrInvalidState):
				invalids++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, callers-1, invalids)
	assert.Equal(t, model.StatusConfirmed, f.status(t, res.Code))
	f.metrics.AssertNumberOfCalls(t, "ReservationConfirmed", 1)
	f.notifier.AssertNumberOfCalls(t, "ReservationConfirmed", 1)
}

func TestConfirm_NoDoubleBookingAcrossRacingHolds(t *testing.T) {
	f := newFixture(t, Policy{})
	ranges := [][2]string{
		{"2025-01-03", "2025-01-06"},
		{"2025-01-04", "2025-01-05"},
		{"2025-01-05", "2025-01-09"},
		{"2025-01-02", "2025-01-04"},
		{"2025-01-01", "2025-01-10"},
	}
	var holds []*model.Reservation
	for _, r := range ranges {
		for i := 0; i < 3; i++ {
			holds = append(holds, f.hold(t, stay(9, r[0], r[1]), t0))
		}
	}

	var wg sync.WaitGroup
	for _, h := range holds {
		wg.Add(1)
		go func(code string) {
			defer wg.Done()
			_, err := f.lifecycle.Confirm(context.Background(), code, t0.Add(time.Minute))
			if err != nil && !model.IsRaceOutcome(err) {
				t.Errorf("unexpected error: %v", err)
			}
		}(h.Code)
	}
	wg.Wait()

	all, err := f.store.ListByUnit(context.Background(), 9)
	require.NoError(t, err)
	var confirmed []model.Reservation
	for _, r := range all {
		if r.Status == model.StatusConfirmed {
			confirmed = append(confirmed, r)
		}
	}
	require.NotEmpty(t, confirmed)
	for i := range confirmed {
		for j := i + 1; j < len(confirmed); j++ {
			assert.False(t, confirmed[i].Overlaps(confirmed[j].CheckIn, confirmed[j].CheckOut),
				"%s overlaps %s", confirmed[i].Code, confirmed[j].Code)
		}
	}
}

func TestConfirm_ExpiredHoldWithoutSweep(t *testing.T) {
	f := newFixture(t, Policy{})
	res := f.hold(t, stay(1, "2025-01-03", "2025-01-06"), t0)

	_, err := f.lifecycle.Confirm(context.Background(), res.Code, *res.ExpiresAt)
	assert.ErrorIs(t, err, model.ErrExpired)
	assert.Equal(t, model.StatusPreReserved, f.status(t, res.Code))
	f.metrics.AssertNotCalled(t, "ReservationConfirmed", mock.Anything, mock.Anything)
}

func TestConfirm_TerminalStatesAndUnknownCode(t *testing.T) {
	f := newFixture(t, Policy{})
	ctx := context.Background()
	res := f.hold(t, stay(1, "2025-01-03", "2025-01-06"), t0)

	got, err := f.lifecycle.Confirm(ctx, "  "+strings.ToLower(res.Code)+" ", t0.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, got.ConfirmedAt)
	assert.Nil(t, got.ExpiresAt)

	_, err = f.lifecycle.Confirm(ctx, res.Code, t0.Add(2*time.Minute))
	assert.ErrorIs(t, err, model.ErrInvalidState)

	_, err = f.lifecycle.Confirm(ctx, "NOPE2345", t0)
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = f.lifecycle.Confirm(ctx, "", t0)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestExpire_OnlyAfterDeadline(t *testing.T) {
	f := newFixture(t, Policy{})
	ctx := context.Background()
	res := f.hold(t, stay(1, "2025-01-03", "2025-01-06"), t0)

	assert.ErrorIs(t, f.lifecycle.Expire(ctx, res.ID, t0.Add(time.Minute)), model.ErrInvalidState)
	require.NoError(t, f.lifecycle.Expire(ctx, res.ID, *res.ExpiresAt))
	assert.Equal(t, model.StatusExpired, f.status(t, res.Code))
	assert.ErrorIs(t, f.lifecycle.Expire(ctx, res.ID, *res.ExpiresAt), model.ErrInvalidState)

	_, err := f.lifecycle.Confirm(ctx, res.Code, *res.ExpiresAt)
	assert.ErrorIs(t, err, model.ErrInvalidState)
}

func TestCancel_FromHoldAndBooking(t *testing.T) {
	f := newFixture(t, Policy{})
	ctx := context.Background()
	hold := f.hold(t, stay(1, "2025-01-03", "2025-01-04"), t0)
	booked := f.hold(t, stay(1, "2025-01-10", "2025-01-12"), t0)
	_, err := f.lifecycle.Confirm(ctx, booked.Code, t0)
	require.NoError(t, err)

	got, err := f.lifecycle.Cancel(ctx, hold.Code, "guest changed plans", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)
	require.NotNil(t, got.CancelledAt)
	require.NotNil(t, got.CancelReason)
	assert.Equal(t, "guest changed plans", *got.CancelReason)

	_, err = f.lifecycle.Cancel(ctx, booked.Code, "", t0.Add(time.Minute))
	require.NoError(t, err)

	_, err = f.lifecycle.Cancel(ctx, hold.Code, "", t0.Add(2*time.Minute))
	assert.ErrorIs(t, err, model.ErrInvalidState)
	_, err = f.lifecycle.Confirm(ctx, hold.Code, t0.Add(2*time.Minute))
	assert.ErrorIs(t, err, model.ErrInvalidState)

	// the cancelled booking frees the unit
	_, err = f.lifecycle.Create(ctx, stay(1, "2025-01-10", "2025-01-12"), t0)
	assert.NoError(t, err)
}

func TestQuote_UsesUnitPolicy(t *testing.T) {
	f := newFixture(t, Policy{})
	in := stay(1, "2025-01-03", "2025-01-06")
	q, err := f.lifecycle.Quote(context.Background(), 1, in.CheckIn, in.CheckOut)
	require.NoError(t, err)
	assert.Equal(t, "48000", q.TotalPrice.String())
	assert.Len(t, q.Nights, 3)

	_, err = f.lifecycle.Quote(context.Background(), 1, in.CheckOut, in.CheckIn)
	assert.ErrorIs(t, err, model.ErrValidation)
}
