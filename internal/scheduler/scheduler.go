// Package scheduler triggers the reservation sweeper on a fixed interval.
package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/iliyamo/stay-reservation/internal/service"
)

// Sweep is the work run on every tick.
type Sweep interface {
	Run(ctx context.Context, now time.Time) (service.SweepResult, error)
}

// Scheduler runs Sweep every Interval until its context ends.  Sweeps
// run on the goroutine calling Run, so they never overlap within one
// process, and ticks that fire during a slow sweep are dropped by the
// ticker.  Overlapping sweeps across processes are safe because every
// transition is conditional.
type Scheduler struct {
	Sweeper  Sweep
	Interval time.Duration
	// Timeout bounds one sweep; zero means Interval.
	Timeout time.Duration
	Now     func() time.Time
}

func (s *Scheduler) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	// kick immediately
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = s.Interval
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now()
	}
	res, err := s.Sweeper.Run(ctx, now)
	if err != nil {
		log.Printf("scheduler: sweep failed: %v", err)
	}
	if res.Expired > 0 || res.Reminded > 0 {
		log.Printf("scheduler: expired=%d reminded=%d", res.Expired, res.Reminded)
	}
}
