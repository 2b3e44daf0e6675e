package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/iliyamo/stay-reservation/internal/model"
)

// ReservationRepo stores reservations in MySQL.  Every state transition
// is a single conditional UPDATE (optionally inside a transaction) whose
// affected-row count decides the outcome; nothing here reads a status
// and then writes it back.  All timestamps are stored in UTC.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

const reservationColumns = `id, code, unit_id, check_in, check_out, guests, status,
	total_price, deposit_amount, currency, expires_at, confirmed_at, cancelled_at,
	cancel_reason, reminder_sent, contact_name, contact_phone, contact_email, channel,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(s rowScanner) (*model.Reservation, error) {
	var res model.Reservation
	var status string
	var expiresAt, confirmedAt, cancelledAt sql.NullTime
	var cancelReason, email sql.NullString
	err := s.Scan(
		&res.ID, &res.Code, &res.UnitID, &res.CheckIn, &res.CheckOut, &res.Guests, &status,
		&res.TotalPrice, &res.DepositAmount, &res.Currency, &expiresAt, &confirmedAt, &cancelledAt,
		&cancelReason, &res.ReminderSent, &res.Contact.Name, &res.Contact.Phone, &email, &res.Channel,
		&res.CreatedAt, &res.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	res.Status = model.Status(status)
	res.ExpiresAt = nullTime(expiresAt)
	res.ConfirmedAt = nullTime(confirmedAt)
	res.CancelledAt = nullTime(cancelledAt)
	res.CancelReason = nullString(cancelReason)
	res.Contact.Email = nullString(email)
	return &res, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

// Insert persists a new reservation.  It returns ErrDuplicateCode when
// the code is already taken.
func (r *ReservationRepo) Insert(ctx context.Context, res *model.Reservation) error {
	const q = `INSERT INTO reservations (id, code, unit_id, check_in, check_out, guests, status,
		total_price, deposit_amount, currency, expires_at, reminder_sent, contact_name,
		contact_phone, contact_email, channel, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, q,
		res.ID, res.Code, res.UnitID, res.CheckIn.Format(model.DateLayout), res.CheckOut.Format(model.DateLayout),
		res.Guests, string(res.Status), res.TotalPrice, res.DepositAmount, res.Currency, res.ExpiresAt,
		res.Contact.Name, res.Contact.Phone, res.Contact.Email, res.Channel, res.CreatedAt, res.UpdatedAt,
	)
	if isDuplicateKey(err) {
		return ErrDuplicateCode
	}
	return err
}

// GetByCode returns the reservation with the given code or
// model.ErrNotFound.
func (r *ReservationRepo) GetByCode(ctx context.Context, code string) (*model.Reservation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE code = ?`, code)
	res, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	return res, err
}

// HasOverlap reports whether any reservation on the unit in one of the
// given statuses intersects [checkIn, checkOut).  PRE_RESERVED rows only
// count while their hold is still running at now.
func (r *ReservationRepo) HasOverlap(ctx context.Context, unitID uint64, checkIn, checkOut time.Time, statuses []model.Status, now time.Time) (bool, error) {
	if len(statuses) == 0 {
		return false, nil
	}
	placeholders := make([]string, 0, len(statuses))
	args := make([]any, 0, len(statuses)+4)
	args = append(args, unitID)
	for _, s := range statuses {
		placeholders = append(placeholders, "?")
		args = append(args, string(s))
	}
	args = append(args, checkOut.Format(model.DateLayout), checkIn.Format(model.DateLayout), now)
	q := `SELECT EXISTS(SELECT 1 FROM reservations
		  WHERE unit_id = ? AND status IN (` + strings.Join(placeholders, ",") + `)
			AND check_in < ? AND check_out > ?
			AND (status <> 'PRE_RESERVED' OR expires_at > ?))`
	var exists bool
	if err := r.db.QueryRowContext(ctx, q, args...).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// Confirm moves a PRE_RESERVED reservation whose hold is still running
// to CONFIRMED.  The transaction first locks the unit's row in
// unit_locks so confirmations on one unit serialize in the database,
// then applies the conditional update and re-checks for confirmed
// overlaps with a locking read.  On overlap the transaction is rolled
// back and model.ErrConflict returned.  When the update matches no row
// the current state decides between model.ErrExpired,
// model.ErrInvalidState and model.ErrNotFound.
func (r *ReservationRepo) Confirm(ctx context.Context, code string, now time.Time) (*model.Reservation, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	// unit and dates are immutable, so reading them up front is safe
	var id string
	var unitID uint64
	var checkIn, checkOut time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT id, unit_id, check_in, check_out FROM reservations WHERE code = ?`, code,
	).Scan(&id, &unitID, &checkIn, &checkOut)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := lockUnitTx(ctx, tx, unitID); err != nil {
		return nil, err
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE reservations SET status = 'CONFIRMED', confirmed_at = ?, expires_at = NULL, updated_at = ?
		 WHERE id = ? AND status = 'PRE_RESERVED' AND expires_at > ?`,
		now, now, id, now,
	)
	if err != nil {
		return nil, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, classifyTx(ctx, tx, id, now)
	}

	var overlapping int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reservations
		 WHERE unit_id = ? AND status = 'CONFIRMED' AND id <> ? AND check_in < ? AND check_out > ?
		 FOR UPDATE`,
		unitID, id, checkOut.Format(model.DateLayout), checkIn.Format(model.DateLayout),
	).Scan(&overlapping)
	if err != nil {
		return nil, err
	}
	if overlapping > 0 {
		return nil, model.ErrConflict
	}

	res, err := scanReservation(tx.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return res, nil
}

// lockUnitTx takes the per-unit row lock held until the transaction
// ends.  The row is created on first use.
func lockUnitTx(ctx context.Context, tx *sql.Tx, unitID uint64) error {
	if _, err := tx.ExecContext(ctx, `INSERT IGNORE INTO unit_locks (unit_id) VALUES (?)`, unitID); err != nil {
		return err
	}
	var locked uint64
	return tx.QueryRowContext(ctx, `SELECT unit_id FROM unit_locks WHERE unit_id = ? FOR UPDATE`, unitID).Scan(&locked)
}

// classifyTx explains why a conditional transition matched no row.  The
// locking read sees the latest committed state rather than the
// transaction snapshot.
func classifyTx(ctx context.Context, tx *sql.Tx, id string, now time.Time) error {
	var status string
	var expiresAt sql.NullTime
	err := tx.QueryRowContext(ctx,
		`SELECT status, expires_at FROM reservations WHERE id = ? FOR UPDATE`, id,
	).Scan(&status, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	if err != nil {
		return err
	}
	return transitionError(model.Status(status), nullTime(expiresAt), now)
}

// transitionError maps the state found after a failed confirmation to
// the outcome reported to the caller.
func transitionError(status model.Status, expiresAt *time.Time, now time.Time) error {
	if status == model.StatusPreReserved && expiresAt != nil && !expiresAt.After(now) {
		return model.ErrExpired
	}
	return model.ErrInvalidState
}

// Expire moves a PRE_RESERVED reservation whose deadline has passed to
// EXPIRED.  It reports whether this call performed the transition.
func (r *ReservationRepo) Expire(ctx context.Context, id string, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE reservations SET status = 'EXPIRED', updated_at = ?
		 WHERE id = ? AND status = 'PRE_RESERVED' AND expires_at <= ?`,
		now, id, now,
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n == 1, err
}

// Cancel moves a PRE_RESERVED or CONFIRMED reservation to CANCELLED and
// returns the updated row.
func (r *ReservationRepo) Cancel(ctx context.Context, code, reason string, now time.Time) (*model.Reservation, error) {
	var why any
	if reason != "" {
		why = reason
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE reservations SET status = 'CANCELLED', cancelled_at = ?, cancel_reason = ?, expires_at = NULL, updated_at = ?
		 WHERE code = ? AND status IN ('PRE_RESERVED', 'CONFIRMED')`,
		now, why, now, code,
	)
	if err != nil {
		return nil, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	res, err := r.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, model.ErrInvalidState
	}
	return res, nil
}

// ListExpirable returns PRE_RESERVED reservations whose deadline is at
// or before now, oldest deadline first.
func (r *ReservationRepo) ListExpirable(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	return r.list(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE status = 'PRE_RESERVED' AND expires_at <= ?
		 ORDER BY expires_at LIMIT ?`,
		now, limit,
	)
}

// ListRemindable returns PRE_RESERVED reservations without a reminder
// whose deadline falls in (from, until].
func (r *ReservationRepo) ListRemindable(ctx context.Context, from, until time.Time, limit int) ([]model.Reservation, error) {
	return r.list(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE status = 'PRE_RESERVED' AND reminder_sent = 0 AND expires_at > ? AND expires_at <= ?
		 ORDER BY expires_at LIMIT ?`,
		from, until, limit,
	)
}

// ClaimReminder sets reminder_sent on a reservation that still matches
// the reminder predicate.  Only the caller that gets true may send.
func (r *ReservationRepo) ClaimReminder(ctx context.Context, id string, from, until time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE reservations SET reminder_sent = 1, updated_at = ?
		 WHERE id = ? AND status = 'PRE_RESERVED' AND reminder_sent = 0 AND expires_at > ? AND expires_at <= ?`,
		from, id, from, until,
	)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n == 1, err
}

// ListByUnit returns every reservation on a unit, newest first.
func (r *ReservationRepo) ListByUnit(ctx context.Context, unitID uint64) ([]model.Reservation, error) {
	return r.list(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE unit_id = ? ORDER BY created_at DESC`,
		unitID,
	)
}

func (r *ReservationRepo) list(ctx context.Context, q string, args ...any) ([]model.Reservation, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Reservation, 0)
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
