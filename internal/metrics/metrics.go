// Package metrics keeps reservation and ledger counters in Redis so every
// instance of the service reports into the same place.
package metrics

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Recorder writes counters with HINCRBY and the ledger staleness gauge
// with SET.  A Recorder built on a nil client records nothing, matching
// the way the rest of the service degrades when Redis is down.
type Recorder struct {
	rdb    *redis.Client
	prefix string
}

// NewRecorder returns a Recorder namespacing its keys with prefix.
func NewRecorder(rdb *redis.Client, prefix string) *Recorder {
	if prefix == "" {
		prefix = "metrics"
	}
	return &Recorder{rdb: rdb, prefix: prefix}
}

func (r *Recorder) key(name string) string { return r.prefix + ":" + name }

// ReservationCreated counts a new hold for channel.
func (r *Recorder) ReservationCreated(ctx context.Context, channel string) {
	r.incr(ctx, "reservations:created", channel)
}

// ReservationConfirmed counts a confirmation for channel.
func (r *Recorder) ReservationConfirmed(ctx context.Context, channel string) {
	r.incr(ctx, "reservations:confirmed", channel)
}

// PaymentEventReceived counts a webhook delivery and moves the
// last-event gauge forward.
func (r *Recorder) PaymentEventReceived(ctx context.Context, duplicate bool, at time.Time) {
	if r.rdb == nil {
		return
	}
	field := "accepted"
	if duplicate {
		field = "duplicate"
	}
	pipe := r.rdb.TxPipeline()
	pipe.HIncrBy(ctx, r.key("payments:events"), field, 1)
	pipe.Set(ctx, r.key("payments:last_event_at"), at.Unix(), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("metrics: payment event: %v", err)
	}
}

func (r *Recorder) incr(ctx context.Context, name, field string) {
	if r.rdb == nil {
		return
	}
	if field == "" {
		field = "unknown"
	}
	if err := r.rdb.HIncrBy(ctx, r.key(name), field, 1).Err(); err != nil {
		log.Printf("metrics: %s: %v", name, err)
	}
}

// Snapshot is the read side served to operators.
type Snapshot struct {
	Created       map[string]int64 `json:"reservations_created"`
	Confirmed     map[string]int64 `json:"reservations_confirmed"`
	PaymentEvents map[string]int64 `json:"payment_events"`
	LastEventAt   *time.Time       `json:"last_payment_event_at,omitempty"`
	// LedgerStaleness is the age of the newest payment event in seconds;
	// -1 when no event was ever received.
	LedgerStaleness float64 `json:"ledger_staleness_seconds"`
}

// Snapshot reads every counter and derives the staleness gauge at now.
func (r *Recorder) Snapshot(ctx context.Context, now time.Time) (Snapshot, error) {
	s := Snapshot{
		Created:         map[string]int64{},
		Confirmed:       map[string]int64{},
		PaymentEvents:   map[string]int64{},
		LedgerStaleness: -1,
	}
	if r.rdb == nil {
		return s, nil
	}
	var err error
	if s.Created, err = r.hash(ctx, "reservations:created"); err != nil {
		return s, err
	}
	if s.Confirmed, err = r.hash(ctx, "reservations:confirmed"); err != nil {
		return s, err
	}
	if s.PaymentEvents, err = r.hash(ctx, "payments:events"); err != nil {
		return s, err
	}
	last, err := r.rdb.Get(ctx, r.key("payments:last_event_at")).Int64()
	if errors.Is(err, redis.Nil) {
		return s, nil
	}
	if err != nil {
		return s, err
	}
	at := time.Unix(last, 0).UTC()
	s.LastEventAt = &at
	s.LedgerStaleness = now.Sub(at).Seconds()
	return s, nil
}

func (r *Recorder) hash(ctx context.Context, name string) (map[string]int64, error) {
	raw, err := r.rdb.HGetAll(ctx, r.key(name)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}
