// Package pricing computes stay prices from a unit's rate policy.  Every
// function here is pure: the same policy and dates always yield the same
// amounts, with decimal arithmetic throughout.
package pricing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultWeekendNights are the two nights preceding the Sunday rest day.
var DefaultWeekendNights = []time.Weekday{time.Friday, time.Saturday}

// Policy is the rate card for a unit.
type Policy struct {
	BaseRate          decimal.Decimal
	WeekendMultiplier decimal.Decimal
	DepositFraction   decimal.Decimal
	// WeekendNights lists the weekdays whose night is billed at the
	// weekend rate.  Nil means DefaultWeekendNights.
	WeekendNights []time.Weekday
	// MaxGuests caps the party size; zero disables the check.
	MaxGuests int
	Currency  string
}

// IsWeekendNight reports whether the night starting on day is billed at
// the weekend rate.
func (p Policy) IsWeekendNight(day time.Time) bool {
	nights := p.WeekendNights
	if nights == nil {
		nights = DefaultWeekendNights
	}
	wd := day.Weekday()
	for _, n := range nights {
		if n == wd {
			return true
		}
	}
	return false
}

// Night is the price of a single night.
type Night struct {
	Date    time.Time       `json:"date"`
	Weekend bool            `json:"weekend"`
	Price   decimal.Decimal `json:"price"`
}

// Quote is the full price breakdown for a stay.
type Quote struct {
	Nights        []Night         `json:"nights"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	DepositAmount decimal.Decimal `json:"deposit_amount"`
	Currency      string          `json:"currency"`
}

var (
	ErrEmptyRange     = errors.New("check_out must be after check_in")
	ErrNegativeAmount = errors.New("rate policy amounts must not be negative")
)

// Price enumerates each night in [checkIn, checkOut) and returns the
// total and the deposit.  Dates are truncated to their calendar day in
// UTC.  The deposit is rounded to cents.
func Price(p Policy, checkIn, checkOut time.Time) (Quote, error) {
	in := Day(checkIn)
	out := Day(checkOut)
	if !in.Before(out) {
		return Quote{}, ErrEmptyRange
	}
	if p.BaseRate.IsNegative() || p.WeekendMultiplier.IsNegative() || p.DepositFraction.IsNegative() {
		return Quote{}, ErrNegativeAmount
	}

	q := Quote{TotalPrice: decimal.Zero, Currency: p.Currency}
	for d := in; d.Before(out); d = d.AddDate(0, 0, 1) {
		n := Night{Date: d, Price: p.BaseRate}
		if p.IsWeekendNight(d) {
			n.Weekend = true
			n.Price = p.BaseRate.Mul(p.WeekendMultiplier)
		}
		q.Nights = append(q.Nights, n)
		q.TotalPrice = q.TotalPrice.Add(n.Price)
	}
	q.DepositAmount = q.TotalPrice.Mul(p.DepositFraction).Round(2)
	return q, nil
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD date.
func ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", s, time.UTC)
}
