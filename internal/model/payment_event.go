package model

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentEvent is one webhook delivery recorded in the ledger.  Rows
// are append-only; ExternalEventID is the idempotency key and Sequence
// orders events sharing the same ExternalReference.
type PaymentEvent struct {
	ExternalEventID   string          `json:"external_event_id"`
	ExternalReference string          `json:"external_reference,omitempty"`
	ReportedStatus    string          `json:"reported_status"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	ReceivedAt        time.Time       `json:"received_at"`
	Sequence          uint64          `json:"sequence"`
}

// PaymentState is the folded view of every event received for one
// external reference.
type PaymentState struct {
	Reference    string          `json:"external_reference"`
	Status       string          `json:"status"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	LastSequence uint64          `json:"last_sequence"`
	EventCount   int             `json:"event_count"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Paid reports whether the folded status denotes a settled payment.
func (s PaymentState) Paid() bool { return IsPaidStatus(s.Status) }

// IsPaidStatus recognises the provider statuses that mean the payer's
// money was captured.
func IsPaidStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "approved", "paid", "succeeded", "success", "completed":
		return true
	}
	return false
}

// FoldPayments replays events in sequence order; the event with the
// highest sequence is authoritative for status and amount.  Input order
// does not matter.
func FoldPayments(reference string, events []PaymentEvent) PaymentState {
	ordered := make([]PaymentEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Sequence < ordered[j].Sequence })

	st := PaymentState{Reference: reference, EventCount: len(ordered)}
	for _, ev := range ordered {
		st.LastSequence = ev.Sequence
		st.Status = ev.ReportedStatus
		st.Amount = ev.Amount
		st.Currency = ev.Currency
		st.UpdatedAt = ev.ReceivedAt
	}
	return st
}
