package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/stay-reservation/internal/model"
)

// Ingest outcomes.
const (
	OutcomeDuplicate        = "duplicate"
	OutcomeRecorded         = "recorded"
	OutcomeUnmatched        = "unmatched"
	OutcomeConfirmed        = "confirmed"
	OutcomeAlreadyConfirmed = "already_confirmed"
	OutcomeExpired          = "expired"
	OutcomeRejected         = "rejected"
)

// Column limits of payment_events.
const (
	maxReferenceLen = 128
	maxStatusLen    = 64
	maxCurrencyLen  = 8
)

// maxAmount is the first value DECIMAL(14,2) cannot hold.
var maxAmount = decimal.New(1, 12)

// Payments is the webhook ingestion pipeline.  The ledger is the only
// basis for idempotency: an event is recorded before any reservation is
// touched, so a redelivery finds it and never records it twice.
type Payments struct {
	ledger    PaymentLedger
	store     ReservationStore
	lifecycle *Lifecycle
	metrics   Metrics
	secret    string
	// Tolerance bounds the age of a signature timestamp; zero disables
	// the check.
	Tolerance time.Duration
}

// NewPayments wires the pipeline.  An empty secret turns signature
// verification off.
func NewPayments(ledger PaymentLedger, l *Lifecycle, secret string) *Payments {
	return &Payments{
		ledger:    ledger,
		store:     l.store,
		lifecycle: l,
		metrics:   l.metrics,
		secret:    secret,
	}
}

// Authenticate verifies the signature of a raw webhook body and returns
// model.ErrInvalidSignature when it does not match.
func (p *Payments) Authenticate(raw []byte, header string, now time.Time) error {
	if p.secret == "" {
		return nil
	}
	if !VerifySignature(raw, header, p.secret) {
		return model.ErrInvalidSignature
	}
	if p.Tolerance > 0 {
		age, ok := signatureAge(header, now)
		if !ok || age > p.Tolerance {
			return model.ErrInvalidSignature
		}
	}
	return nil
}

// IngestInput is one provider event.
type IngestInput struct {
	ExternalEventID   string          `json:"event_id"`
	ExternalReference string          `json:"reference"`
	ReportedStatus    string          `json:"status"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
}

// IngestResult tells the provider what happened to an event.
// TransitionErr carries the race outcome (model.ErrExpired,
// model.ErrInvalidState or model.ErrConflict) when the payment could not
// confirm its reservation.
type IngestResult struct {
	Idempotent    bool   `json:"idempotent"`
	ReservationID string `json:"reservation_id,omitempty"`
	EventCount    int    `json:"event_count"`
	PaymentStatus string `json:"payment_status,omitempty"`
	Outcome       string `json:"outcome"`
	Detail        string `json:"detail,omitempty"`
	TransitionErr error  `json:"-"`
}

func (r *IngestResult) fail(outcome string, err error) {
	r.Outcome = outcome
	r.TransitionErr = err
	r.Detail = err.Error()
}

// Ingest records an event and, when the folded payment state for its
// reference is paid, confirms the matching hold.  A redelivered event
// id is not recorded again and reports Idempotent=true with the current
// event count; if its hold is still waiting, the confirm is retried.
func (p *Payments) Ingest(ctx context.Context, in IngestInput, now time.Time) (IngestResult, error) {
	in.ExternalEventID = strings.TrimSpace(in.ExternalEventID)
	in.ExternalReference = strings.TrimSpace(in.ExternalReference)
	in.ReportedStatus = strings.ToLower(strings.TrimSpace(in.ReportedStatus))
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if in.ExternalEventID == "" {
		return IngestResult{}, model.Invalid("event_id", "is required")
	}
	if len(in.ExternalEventID) > 128 {
		return IngestResult{}, model.Invalid("event_id", "must be at most 128 characters")
	}
	if in.ReportedStatus == "" {
		return IngestResult{}, model.Invalid("status", "is required")
	}
	if len(in.ReportedStatus) > maxStatusLen {
		return IngestResult{}, model.Invalid("status", "must be at most 64 characters")
	}
	if len(in.ExternalReference) > maxReferenceLen {
		return IngestResult{}, model.Invalid("reference", "must be at most 128 characters")
	}
	if len(in.Currency) > maxCurrencyLen {
		return IngestResult{}, model.Invalid("currency", "must be at most 8 characters")
	}
	if in.Amount.IsNegative() {
		return IngestResult{}, model.Invalid("amount", "must not be negative")
	}
	if !in.Amount.Equal(in.Amount.Truncate(2)) {
		return IngestResult{}, model.Invalid("amount", "must have at most 2 decimal places")
	}
	if in.Amount.GreaterThanOrEqual(maxAmount) {
		return IngestResult{}, model.Invalid("amount", "is too large")
	}

	ev := &model.PaymentEvent{
		ExternalEventID:   in.ExternalEventID,
		ExternalReference: in.ExternalReference,
		ReportedStatus:    in.ReportedStatus,
		Amount:            in.Amount,
		Currency:          in.Currency,
		ReceivedAt:        now,
	}
	duplicate, err := p.ledger.Append(ctx, ev)
	if err != nil {
		return IngestResult{}, err
	}
	p.metrics.PaymentEventReceived(ctx, duplicate, now)

	events, err := p.ledger.Events(ctx, in.ExternalReference)
	if err != nil {
		return IngestResult{}, err
	}
	state := model.FoldPayments(in.ExternalReference, events)
	out := IngestResult{
		Idempotent:    duplicate,
		EventCount:    state.EventCount,
		PaymentStatus: state.Status,
		Outcome:       OutcomeRecorded,
	}
	if duplicate {
		out.Outcome = OutcomeDuplicate
		return out, p.resume(ctx, &out, in.ExternalReference, state, now)
	}
	if in.ExternalReference == "" || !state.Paid() {
		return out, nil
	}

	code := NormalizeCode(in.ExternalReference)
	res, err := p.store.GetByCode(ctx, code)
	if errors.Is(err, model.ErrNotFound) {
		out.Outcome = OutcomeUnmatched
		return out, nil
	}
	if err != nil {
		return out, err
	}
	out.ReservationID = res.ID

	switch res.Status {
	case model.StatusConfirmed:
		out.Outcome = OutcomeAlreadyConfirmed
		return out, nil
	case model.StatusExpired:
		out.fail(OutcomeExpired, model.ErrExpired)
		return out, nil
	case model.StatusCancelled:
		out.fail(OutcomeRejected, model.ErrInvalidState)
		return out, nil
	}

	_, err = p.lifecycle.Confirm(ctx, code, now)
	switch {
	case err == nil:
		out.Outcome = OutcomeConfirmed
	case errors.Is(err, model.ErrExpired):
		out.fail(OutcomeExpired, err)
	case errors.Is(err, model.ErrInvalidState):
		// lost to a concurrent confirm, or the hold was just resolved
		if cur, gerr := p.store.GetByCode(ctx, code); gerr == nil && cur.Status == model.StatusConfirmed {
			out.Outcome = OutcomeAlreadyConfirmed
		} else {
			out.fail(OutcomeRejected, err)
		}
	case model.IsRaceOutcome(err):
		out.fail(OutcomeRejected, err)
	default:
		return out, err
	}
	return out, nil
}

// resume applies the confirm that an earlier delivery of the same event
// recorded but did not finish, e.g. after a storage timeout.  Only a
// hold still PRE_RESERVED is touched; the outcome stays "duplicate"
// unless this call is the one that confirms it.
func (p *Payments) resume(ctx context.Context, out *IngestResult, reference string, state model.PaymentState, now time.Time) error {
	if reference == "" || !state.Paid() {
		return nil
	}
	code := NormalizeCode(reference)
	res, err := p.store.GetByCode(ctx, code)
	if errors.Is(err, model.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	out.ReservationID = res.ID
	if res.Status != model.StatusPreReserved {
		return nil
	}
	_, err = p.lifecycle.Confirm(ctx, code, now)
	switch {
	case err == nil:
		out.Outcome = OutcomeConfirmed
	case model.IsRaceOutcome(err):
		out.TransitionErr = err
		out.Detail = err.Error()
	default:
		return err
	}
	return nil
}

// State returns the folded payment state and the raw events of a reference.
func (p *Payments) State(ctx context.Context, reference string) (model.PaymentState, []model.PaymentEvent, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return model.PaymentState{}, nil, model.Invalid("reference", "is required")
	}
	events, err := p.ledger.Events(ctx, reference)
	if err != nil {
		return model.PaymentState{}, nil, err
	}
	if len(events) == 0 {
		return model.PaymentState{}, nil, model.ErrNotFound
	}
	return model.FoldPayments(reference, events), events, nil
}
