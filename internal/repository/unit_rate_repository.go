package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/iliyamo/stay-reservation/internal/pricing"
)

// UnitRateRepo reads per-unit rate cards from unit_rates.  Units without
// a row are priced with Defaults.
type UnitRateRepo struct {
	db       *sql.DB
	Defaults pricing.Policy
}

// NewUnitRateRepo returns a UnitRateRepo falling back to defaults.
func NewUnitRateRepo(db *sql.DB, defaults pricing.Policy) *UnitRateRepo {
	return &UnitRateRepo{db: db, Defaults: defaults}
}

// PolicyFor returns the rate policy of a unit.
func (r *UnitRateRepo) PolicyFor(ctx context.Context, unitID uint64) (pricing.Policy, error) {
	const q = `SELECT base_rate, weekend_multiplier, deposit_fraction, weekend_nights, max_guests, currency
			   FROM unit_rates WHERE unit_id = ?`
	p := r.Defaults
	var nights, currency sql.NullString
	err := r.db.QueryRowContext(ctx, q, unitID).Scan(
		&p.BaseRate, &p.WeekendMultiplier, &p.DepositFraction, &nights, &p.MaxGuests, &currency,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return r.Defaults, nil
	}
	if err != nil {
		return pricing.Policy{}, err
	}
	if nights.Valid && strings.TrimSpace(nights.String) != "" {
		wd, err := pricing.ParseWeekdays(nights.String)
		if err != nil {
			return pricing.Policy{}, err
		}
		p.WeekendNights = wd
	}
	if currency.Valid && currency.String != "" {
		p.Currency = currency.String
	}
	return p, nil
}

// Upsert stores the rate card for a unit.
func (r *UnitRateRepo) Upsert(ctx context.Context, unitID uint64, p pricing.Policy) error {
	var nights any
	if p.WeekendNights != nil {
		nights = pricing.FormatWeekdays(p.WeekendNights)
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO unit_rates (unit_id, base_rate, weekend_multiplier, deposit_fraction, weekend_nights, max_guests, currency)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE base_rate = VALUES(base_rate), weekend_multiplier = VALUES(weekend_multiplier),
			 deposit_fraction = VALUES(deposit_fraction), weekend_nights = VALUES(weekend_nights),
			 max_guests = VALUES(max_guests), currency = VALUES(currency)`,
		unitID, p.BaseRate, p.WeekendMultiplier, p.DepositFraction, nights, p.MaxGuests, p.Currency,
	)
	return err
}
