package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/iliyamo/stay-reservation/internal/model"
)

const (
	// DefaultReminderWindow is how long before the deadline a reminder goes out.
	DefaultReminderWindow = 10 * time.Minute
	// DefaultSweepBatch bounds the rows fetched per scan.
	DefaultSweepBatch = 200
)

// Sweeper expires overdue holds and reminds guests whose hold is about to
// lapse.  Both scans may run concurrently with themselves and with
// Lifecycle.Confirm: selection is advisory and each row is resolved by a
// conditional transition in the store.
type Sweeper struct {
	lifecycle *Lifecycle
	store     ReservationStore
	notifier  Notifier
	Window    time.Duration
	BatchSize int
}

// NewSweeper returns a Sweeper sharing the lifecycle's store and notifier.
func NewSweeper(l *Lifecycle, window time.Duration) *Sweeper {
	if window <= 0 {
		window = DefaultReminderWindow
	}
	return &Sweeper{
		lifecycle: l,
		store:     l.store,
		notifier:  l.notifier,
		Window:    window,
		BatchSize: DefaultSweepBatch,
	}
}

// SweepResult reports what one sweep changed.
type SweepResult struct {
	Expired  int `json:"expired"`
	Reminded int `json:"reminded"`
}

// Run performs an expiry pass followed by a reminder pass.
func (s *Sweeper) Run(ctx context.Context, now time.Time) (SweepResult, error) {
	var out SweepResult
	var err1, err2 error
	out.Expired, err1 = s.ExpirePreReservations(ctx, now)
	out.Reminded, err2 = s.SendReminders(ctx, now, s.Window)
	return out, errors.Join(err1, err2)
}

// ExpirePreReservations expires every PRE_RESERVED hold whose deadline is
// at or before now and returns the number of rows this call transitioned.
// Rows confirmed or expired by someone else in the meantime are skipped
// and not counted.
func (s *Sweeper) ExpirePreReservations(ctx context.Context, now time.Time) (int, error) {
	expired := 0
	var errs []error
	for {
		batch, err := s.store.ListExpirable(ctx, now, s.BatchSize)
		if err != nil {
			return expired, errors.Join(append(errs, err)...)
		}
		progressed := 0
		for _, r := range batch {
			if err := ctx.Err(); err != nil {
				return expired, errors.Join(append(errs, err)...)
			}
			err := s.lifecycle.Expire(ctx, r.ID, now)
			switch {
			case err == nil:
				expired++
				progressed++
			case model.IsRaceOutcome(err):
			default:
				errs = append(errs, err)
			}
		}
		// a full batch where nothing moved only holds failing rows
		if len(batch) < s.BatchSize || progressed == 0 {
			break
		}
	}
	return expired, errors.Join(errs...)
}

// SendReminders reminds guests whose hold expires in (now, now+window].
// The reminder flag is claimed with a conditional update before the
// message is sent, so a reservation is reminded at most once however many
// sweeps overlap.  A failed send is logged and not retried.
func (s *Sweeper) SendReminders(ctx context.Context, now time.Time, window time.Duration) (int, error) {
	until := now.Add(window)
	batch, err := s.store.ListRemindable(ctx, now, until, s.BatchSize)
	if err != nil {
		return 0, err
	}
	sent := 0
	var errs []error
	for _, r := range batch {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		claimed, err := s.store.ClaimReminder(ctx, r.ID, now, until)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !claimed {
			continue
		}
		sent++
		r.ReminderSent = true
		if err := s.notifier.SendReminder(ctx, r.Summary()); err != nil {
			log.Printf("sweeper: reminder for %s failed: %v", r.Code, err)
		}
	}
	return sent, errors.Join(errs...)
}
