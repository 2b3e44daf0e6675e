package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a reservation.  PRE_RESERVED is the
// only non-terminal state besides CONFIRMED, which may still be
// cancelled explicitly.
type Status string

const (
	StatusPreReserved Status = "PRE_RESERVED"
	StatusConfirmed   Status = "CONFIRMED"
	StatusCancelled   Status = "CANCELLED"
	StatusExpired     Status = "EXPIRED"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPreReserved, StatusConfirmed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// DateLayout is the wire and storage format for check-in/check-out dates.
const DateLayout = "2006-01-02"

// Contact holds the guest's contact details captured at creation.
type Contact struct {
	Name  string  `json:"name"`
	Phone string  `json:"phone"`
	Email *string `json:"email,omitempty"`
}

// Reservation is a hold or a booking on a unit for a date range.
//
// Fields:
//  ID            – opaque UUID assigned at creation.
//  Code          – short shareable code, unique.
//  UnitID        – accommodation unit, owned by the catalogue.
//  CheckIn       – first night (UTC midnight).
//  CheckOut      – departure day (UTC midnight), exclusive.
//  Status        – lifecycle state.
//  TotalPrice    – sum of nightly prices.
//  DepositAmount – amount required to confirm.
//  ExpiresAt     – hold deadline, nil once the hold is resolved.
//  ReminderSent  – set once when the expiry reminder goes out.
type Reservation struct {
	ID            string          `json:"id"`
	Code          string          `json:"code"`
	UnitID        uint64          `json:"unit_id"`
	CheckIn       time.Time       `json:"check_in"`
	CheckOut      time.Time       `json:"check_out"`
	Guests        int             `json:"guests"`
	Status        Status          `json:"status"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	DepositAmount decimal.Decimal `json:"deposit_amount"`
	Currency      string          `json:"currency"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
	ConfirmedAt   *time.Time      `json:"confirmed_at,omitempty"`
	CancelledAt   *time.Time      `json:"cancelled_at,omitempty"`
	CancelReason  *string         `json:"cancel_reason,omitempty"`
	ReminderSent  bool            `json:"reminder_sent"`
	Contact       Contact         `json:"contact"`
	Channel       string          `json:"channel"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Nights returns the number of nights between check-in and check-out.
func (r Reservation) Nights() int {
	return int(r.CheckOut.Sub(r.CheckIn).Hours() / 24)
}

// Overlaps reports whether the half-open range [in, out) intersects the
// reservation's stay.
func (r Reservation) Overlaps(in, out time.Time) bool {
	return r.CheckIn.Before(out) && in.Before(r.CheckOut)
}

// Summary returns the public view handed to guests and collaborators.
func (r Reservation) Summary() ReservationSummary {
	return ReservationSummary{
		ID:            r.ID,
		Code:          r.Code,
		UnitID:        r.UnitID,
		CheckIn:       r.CheckIn.Format(DateLayout),
		CheckOut:      r.CheckOut.Format(DateLayout),
		Guests:        r.Guests,
		Status:        r.Status,
		TotalPrice:    r.TotalPrice.StringFixed(2),
		DepositAmount: r.DepositAmount.StringFixed(2),
		Currency:      r.Currency,
		ExpiresAt:     r.ExpiresAt,
		ContactName:   r.Contact.Name,
		ContactPhone:  r.Contact.Phone,
		ContactEmail:  r.Contact.Email,
		Channel:       r.Channel,
	}
}

// ReservationSummary is the flattened representation returned by the API
// and published to the notification queue.  Monetary values are
// rendered with two decimals so consumers never see float formatting.
type ReservationSummary struct {
	ID            string     `json:"id"`
	Code          string     `json:"code"`
	UnitID        uint64     `json:"unit_id"`
	CheckIn       string     `json:"check_in"`
	CheckOut      string     `json:"check_out"`
	Guests        int        `json:"guests"`
	Status        Status     `json:"status"`
	TotalPrice    string     `json:"total_price"`
	DepositAmount string     `json:"deposit_amount"`
	Currency      string     `json:"currency"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	ContactName   string     `json:"contact_name"`
	ContactPhone  string     `json:"contact_phone"`
	ContactEmail  *string    `json:"contact_email,omitempty"`
	Channel       string     `json:"channel"`
}
