// Package queue defines message payloads exchanged over the message broker.
package queue

import (
	"time"

	"github.com/iliyamo/stay-reservation/internal/model"
)

// Queue names.  Both are durable and fed through the default exchange.
const (
	ReminderQueue  = "reservation.reminder"
	ConfirmedQueue = "reservation.confirmed"
)

// Notification kinds.
const (
	KindReminder  = "reminder"
	KindConfirmed = "confirmed"
)

// NotificationEvent is published when a guest has to be told something
// about a reservation.  It carries the full summary so consumers can
// render a message without querying the primary database.
type NotificationEvent struct {
	Kind        string                   `json:"kind"`
	Reservation model.ReservationSummary `json:"reservation"`
	OccurredAt  string                   `json:"occurred_at"`
}

// NewNotificationEvent stamps a summary with its kind and time.
func NewNotificationEvent(kind string, s model.ReservationSummary, at time.Time) NotificationEvent {
	return NotificationEvent{Kind: kind, Reservation: s, OccurredAt: at.UTC().Format(time.RFC3339)}
}

// queueFor maps a notification kind to its queue.
func queueFor(kind string) string {
	if kind == KindReminder {
		return ReminderQueue
	}
	return ConfirmedQueue
}
