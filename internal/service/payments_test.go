package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/stay-reservation/internal/model"
	"github.com/iliyamo/stay-reservation/internal/repository/memory"
)

func paid(eventID, reference string) IngestInput {
	return IngestInput{
		ExternalEventID:   eventID,
		ExternalReference: reference,
		ReportedStatus:    "approved",
		Amount:            decimal.NewFromInt(14400),
		Currency:          "ars",
	}
}

func TestIngest_PaidEventConfirmsHold(t *testing.T) {
	f := newFixture(t, Policy{})
	res := f.hold(t, stay(1, "2025-01-03", "2025-01-06"), t0)

	got, err := f.payments.Ingest(context.Background(), paid("evt_1", res.Code), t0.Add(5*time.Minute))
	require.NoError(t, err)
	assert.False(t, got.Idempotent)
	assert.Equal(t, OutcomeConfirmed, got.Outcome)
	assert.Equal(t, res.ID, got.ReservationID)
	assert.Equal(t, 1, got.EventCount)
	assert.Equal(t, "approved", got.PaymentStatus)
	assert.Equal(t, model.StatusConfirmed, f.status(t, res.Code))
	f.metrics.AssertCalled(t, "PaymentEventReceived", mock.Anything, false, t0.Add(5*time.Minute))
}

func TestIngest_RedeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t, Policy{})
	res := f.hold(t, stay(1, "2025-01-03", "2025-01-06"), t0)
	ctx := context.Background()

	first, err := f.payments.Ingest(ctx, paid("evt_1", res.Code), t0.Add(time.Minute))
	require.NoError(t, err)
	require.False(t, first.Idempotent)

	for i := 0; i < 5; i++ {
		again, err := f.payments.Ingest(ctx, paid("evt_1", res.Code), t0.Add(time.Duration(i+2)*time.Minute))
		require.NoError(t, err)
		assert.True(t, again.Idempotent)
		assert.Equal(t, OutcomeDuplicate, again.Outcome)
		assert.Equal(t, 1, again.EventCount)
	}

	events, err := f.ledger.Events(ctx, res.Code)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	f.metrics.AssertNumberOfCalls(t, "ReservationConfirmed", 1)
	f.metrics.AssertNumberOfCalls(t, "PaymentEventReceived", 6)
}

func TestIngest_ConcurrentRedeliveriesRecordOnce(t *testing.T) {
	f := newFixture(t, Policy{})
	res := f.hold(t, stay(1, "2025-01-03", "2025-01-06"), t0)

	const deliveries = 16
	results := make([]IngestResult, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := f.payments.Ingest(context.Background(), paid("evt_same", res.Code), t0.Add(time.Minute))
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()

	fresh, confirmed := 0, 0
	for _, r := range results {
		if !r.Idempotent {
			fresh++
		}
		if r.Outcome == OutcomeConfirmed {
			confirmed++
		}
	}
	assert.Equal(t, 1, fresh)
	assert.Equal(t, 1, confirmed)
	f.metrics.AssertNumberOfCalls(t, "ReservationConfirmed", 1)
	events, err := f.ledger.Events(context.Background(), res.Code)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, model.StatusConfirmed, f.status(t, res.Code))
}

func TestIngest_ConcurrentEventsGetDistinctSequences(t *testing.T) {
	f := newFixture(t, Policy{})
	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := paid(fmt.Sprintf("evt_%02d", i), "ORDER-77")
			in.ReportedStatus = "pending"
			_, err := f.payments.Ingest(context.Background(), in, t0)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	events, err := f.ledger.Events(context.Background(), "ORDER-77")
	require.NoError(t, err)
	require.Len(t, events, n)
	seqs := make([]int, 0, n)
	for _, e := range events {
		seqs = append(seqs, int(e.Sequence))
	}
	sort.Ints(seqs)
	for i, s := range seqs {
		assert.Equal(t, i+1, s)
	}
}

func TestIngest_FoldIsLastWriteWins(t *testing.T) {
	f := newFixture(t, Policy{})
	res := f.hold(t, stay(1, "2025-01-03", "2025-01-06"), t0)
	ctx := context.Background()

	pending := paid("evt_a", res.Code)
	pending.ReportedStatus = "pending"
	got, err := f.payments.Ingest(ctx, pending, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecorded, got.Outcome)
	assert.Empty(t, got.ReservationID)
	assert.Equal(t, model.StatusPreReserved, f.status(t, res.Code))

	got, err = f.payments.Ingest(ctx, paid("evt_b", res.Code), t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, OutcomeConfirmed, got.Outcome)
	assert.Equal(t, 2, got.EventCount)

	refund := paid("evt_c", res.Code)
	refund.ReportedStatus = "refunded"
	got, err = f.payments.Ingest(ctx, refund, t0.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecorded, got.Outcome)
	assert.Equal(t, "refunded", got.PaymentStatus)

	state, events, err := f.payments.State(ctx, res.Code)
	require.NoError(t, err)
	assert.Len(t, events, 3)
	assert.Equal(t, uint64(3), state.LastSequence)
	assert.False(t, state.Paid())
	assert.Equal(t, "ARS", state.Currency)
	// a payment state change never undoes a booking
	assert.Equal(t, model.StatusConfirmed, f.status(t, res.Code))
}

func TestIngest_UnknownReferenceIsRecordedUnmatched(t *testing.T) {
	f := newFixture(t, Policy{})
	got, err := f.payments.Ingest(context.Background(), paid("evt_x", "ZZZZ9999"), t0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnmatched, got.Outcome)
	assert.Equal(t, 1, got.EventCount)

	got, err = f.payments.Ingest(context.Background(), paid("evt_y", ""), t0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecorded, got.Outcome)
}

func TestIngest_ExpiredHoldIsNeverForced(t *testing.T) {
	f := newFixture(t, Policy{})
	ctx := context.Background()
	lapsed := f.hold(t, stay(1, "2025-01-03", "2025-01-06"), t0)
	swept := f.hold(t, stay(2, "2025-01-03", "2025-01-06"), t0)
	after := t0.Add(time.Hour)
	require.NoError(t, f.lifecycle.Expire(ctx, swept.ID, after))

	got, err := f.payments.Ingest(ctx, paid("evt_1", lapsed.Code), after)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExpired, got.Outcome)
	assert.ErrorIs(t, got.TransitionErr, model.ErrExpired)
	assert.Equal(t, lapsed.ID, got.ReservationID)
	assert.Equal(t, model.StatusPreReserved, f.status(t, lapsed.Code))

	got, err = f.payments.Ingest(ctx, paid("evt_2", swept.Code), after)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExpired, got.Outcome)
	assert.ErrorIs(t, got.TransitionErr, model.ErrExpired)
	assert.Equal(t, model.StatusExpired, f.status(t, swept.Code))
}

func TestIngest_TerminalReservations(t *testing.T) {
	f := newFixture(t, Policy{})
	ctx := context.Background()
	booked := f.hold(t, stay(1, "2025-01-03", "2025-01-06"), t0)
	_, err := f.lifecycle.Confirm(ctx, booked.Code, t0)
	require.NoError(t, err)
	cancelled := f.hold(t, stay(2, "2025-01-03", "2025-01-06"), t0)
	_, err = f.lifecycle.Cancel(ctx, cancelled.Code, "", t0)
	require.NoError(t, err)

	got, err := f.payments.Ingest(ctx, paid("evt_1", booked.Code), t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyConfirmed, got.Outcome)
	assert.NoError(t, got.TransitionErr)

	got, err = f.payments.Ingest(ctx, paid("evt_2", cancelled.Code), t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, got.Outcome)
	assert.ErrorIs(t, got.TransitionErr, model.ErrInvalidState)
	assert.Equal(t, model.StatusCancelled, f.status(t, cancelled.Code))
}

func TestIngest_RejectsMalformedEvents(t *testing.T) {
	f := newFixture(t, Policy{})
	ctx := context.Background()

	_, err := f.payments.Ingest(ctx, paid("  ", "REF"), t0)
	assert.ErrorIs(t, err, model.ErrValidation)

	in := paid("evt_1", "REF")
	in.ReportedStatus = ""
	_, err = f.payments.Ingest(ctx, in, t0)
	assert.ErrorIs(t, err, model.ErrValidation)

	in = paid("evt_1", "REF")
	in.Amount = decimal.NewFromInt(-1)
	_, err = f.payments.Ingest(ctx, in, t0)
	assert.ErrorIs(t, err, model.ErrValidation)

	events, err := f.ledger.Events(ctx, "REF")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestIngest_RejectsValuesTheLedgerCannotStoreVerbatim(t *testing.T) {
	f := newFixture(t, Policy{})
	ctx := context.Background()

	cases := []struct {
		name  string
		edit  func(*IngestInput)
		field string
	}{
		{"long status", func(in *IngestInput) { in.ReportedStatus = strings.Repeat("s", 65) }, "status"},
		{"long reference", func(in *IngestInput) { in.ExternalReference = strings.Repeat("R", 129) }, "reference"},
		{"long currency", func(in *IngestInput) { in.Currency = "DOGECOINS" }, "currency"},
		{"sub-cent amount", func(in *IngestInput) { in.Amount = decimal.RequireFromString("120.005") }, "amount"},
		{"amount overflow", func(in *IngestInput) { in.Amount = decimal.New(1, 12) }, "amount"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := paid("evt_1", "REF")
			tc.edit(&in)
			_, err := f.payments.Ingest(ctx, in, t0)
			var verr *model.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}

	in := paid("evt_ok", "REF")
	in.Amount = decimal.RequireFromString("120.500")
	_, err := f.payments.Ingest(ctx, in, t0)
	require.NoError(t, err, "trailing zeros are still cents")

	events, err := f.ledger.Events(ctx, "REF")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

// flakyStore fails the first Confirm with a storage error after nothing
// was written.
type flakyStore struct {
	*memory.Store
	mu    sync.Mutex
	fails int
}

func (s *flakyStore) Confirm(ctx context.Context, code string, now time.Time) (*model.Reservation, error) {
	s.mu.Lock()
	if s.fails > 0 {
		s.fails--
		s.mu.Unlock()
		return nil, errors.New("i/o timeout")
	}
	s.mu.Unlock()
	return s.Store.Confirm(ctx, code, now)
}

func TestIngest_RedeliveryFinishesConfirmAfterStorageFailure(t *testing.T) {
	f := newFixture(t, Policy{})
	store := &flakyStore{Store: f.store, fails: 1}
	f.lifecycle = NewLifecycle(store, f.rates, f.notifier, f.metrics, Policy{})
	f.payments = NewPayments(f.ledger, f.lifecycle, "")
	ctx := context.Background()
	res := f.hold(t, stay(1, "2025-01-03", "2025-01-06"), t0)

	_, err := f.payments.Ingest(ctx, paid("evt_1", res.Code), t0.Add(time.Minute))
	require.Error(t, err)
	assert.Equal(t, model.StatusPreReserved, f.status(t, res.Code))

	got, err := f.payments.Ingest(ctx, paid("evt_1", res.Code), t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, got.Idempotent)
	assert.Equal(t, OutcomeConfirmed, got.Outcome)
	assert.Equal(t, res.ID, got.ReservationID)
	assert.Equal(t, 1, got.EventCount)
	assert.Equal(t, model.StatusConfirmed, f.status(t, res.Code))

	got, err = f.payments.Ingest(ctx, paid("evt_1", res.Code), t0.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, got.Outcome)

	events, err := f.ledger.Events(ctx, res.Code)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	f.metrics.AssertNumberOfCalls(t, "ReservationConfirmed", 1)
}

func TestIngest_RedeliveryLeavesLapsedHoldAlone(t *testing.T) {
	f := newFixture(t, Policy{})
	store := &flakyStore{Store: f.store, fails: 1}
	f.lifecycle = NewLifecycle(store, f.rates, f.notifier, f.metrics, Policy{})
	f.payments = NewPayments(f.ledger, f.lifecycle, "")
	ctx := context.Background()
	res := f.hold(t, stay(1, "2025-01-03", "2025-01-06"), t0)

	_, err := f.payments.Ingest(ctx, paid("evt_1", res.Code), t0.Add(time.Minute))
	require.Error(t, err)

	got, err := f.payments.Ingest(ctx, paid("evt_1", res.Code), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, got.Outcome)
	assert.ErrorIs(t, got.TransitionErr, model.ErrExpired)
	assert.Equal(t, model.StatusPreReserved, f.status(t, res.Code))
}

func TestPaymentsState_UnknownReference(t *testing.T) {
	f := newFixture(t, Policy{})
	_, _, err := f.payments.State(context.Background(), "nothing")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, _, err = f.payments.State(context.Background(), " ")
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t, Policy{})
	body := []byte(`{"event_id":"evt_1","status":"approved"}`)

	open := NewPayments(f.ledger, f.lifecycle, "")
	assert.NoError(t, open.Authenticate(body, "", t0))

	p := NewPayments(f.ledger, f.lifecycle, "whsec_test")
	p.Tolerance = 5 * time.Minute
	header := SignPayload(body, "whsec_test", t0)

	assert.NoError(t, p.Authenticate(body, header, t0.Add(time.Minute)))
	assert.ErrorIs(t, p.Authenticate(body, "", t0), model.ErrInvalidSignature)
	assert.ErrorIs(t, p.Authenticate([]byte(`{"event_id":"evt_2"}`), header, t0), model.ErrInvalidSignature)
	assert.ErrorIs(t, p.Authenticate(body, SignPayload(body, "other", t0), t0), model.ErrInvalidSignature)
	assert.ErrorIs(t, p.Authenticate(body, header, t0.Add(time.Hour)), model.ErrInvalidSignature)
}
