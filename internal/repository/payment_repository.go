package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/stay-reservation/internal/model"
)

// PaymentRepo is the append-only payment event ledger.  Rows in
// payment_events are never updated or deleted; payment_refs only carries
// the sequence counter for each external reference.
type PaymentRepo struct {
	db *sql.DB
}

// NewPaymentRepo returns a new PaymentRepo bound to the given database.
func NewPaymentRepo(db *sql.DB) *PaymentRepo { return &PaymentRepo{db: db} }

// Append records ev unless its external event id is already present.
// It reports duplicate=true for redeliveries and leaves the ledger
// untouched in that case.  Sequence assignment for a reference is
// serialized by a locking read on its payment_refs row, so two
// concurrent appends never share a sequence number.  On success
// ev.Sequence holds the assigned value.
func (r *PaymentRepo) Append(ctx context.Context, ev *model.PaymentEvent) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx,
		`INSERT IGNORE INTO payment_refs (external_reference, last_sequence, updated_at) VALUES (?, 0, ?)`,
		ev.ExternalReference, ev.ReceivedAt,
	); err != nil {
		return false, err
	}
	var last uint64
	if err := tx.QueryRowContext(ctx,
		`SELECT last_sequence FROM payment_refs WHERE external_reference = ? FOR UPDATE`,
		ev.ExternalReference,
	).Scan(&last); err != nil {
		return false, err
	}

	var seen int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM payment_events WHERE external_event_id = ?`, ev.ExternalEventID,
	).Scan(&seen); err != nil {
		return false, err
	}
	if seen > 0 {
		return true, nil
	}

	ev.Sequence = last + 1
	_, err = tx.ExecContext(ctx,
		`INSERT INTO payment_events (external_event_id, external_reference, sequence, reported_status, amount, currency, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ExternalEventID, ev.ExternalReference, ev.Sequence, ev.ReportedStatus, ev.Amount, ev.Currency, ev.ReceivedAt,
	)
	if isDuplicateKey(err) {
		// same event id delivered concurrently under another reference
		ev.Sequence = 0
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE payment_refs SET last_sequence = ?, updated_at = ? WHERE external_reference = ?`,
		ev.Sequence, ev.ReceivedAt, ev.ExternalReference,
	); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	committed = true
	return false, nil
}

// Events returns every event recorded for reference in sequence order.
func (r *PaymentRepo) Events(ctx context.Context, reference string) ([]model.PaymentEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT external_event_id, external_reference, sequence, reported_status, amount, currency, received_at
		 FROM payment_events WHERE external_reference = ? ORDER BY sequence`,
		reference,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.PaymentEvent, 0)
	for rows.Next() {
		var ev model.PaymentEvent
		if err := rows.Scan(&ev.ExternalEventID, &ev.ExternalReference, &ev.Sequence, &ev.ReportedStatus,
			&ev.Amount, &ev.Currency, &ev.ReceivedAt); err != nil {
			return nil, err
		}
		ev.ReceivedAt = ev.ReceivedAt.UTC()
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
