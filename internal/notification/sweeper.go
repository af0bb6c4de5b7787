package notification

import (
	"context"
	"fmt"
	"time"

	"timeclock-backend/internal/model"
)

// SessionChecker reports a session that has been open suspiciously long.
// Implemented by the tracker.
type SessionChecker interface {
	Sweep(ctx context.Context) *model.ActiveTracking
}

// Sweeper periodically checks for forgotten sessions and dispatches
// forgot-to-clock-out reminders. It also drives the tracker's pause-limit
// enforcement as a side effect of the check.
type Sweeper struct {
	checker  SessionChecker
	pool     *WorkerPool
	interval time.Duration

	// lastNotified suppresses repeat reminders for the same session start.
	lastNotified time.Time
}

// NewSweeper creates a sweeper over the given checker and pool.
func NewSweeper(checker SessionChecker, pool *WorkerPool, interval time.Duration) *Sweeper {
	return &Sweeper{checker: checker, pool: pool, interval: interval}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce performs a single check.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	overdue := s.checker.Sweep(ctx)
	if overdue == nil {
		return
	}
	if overdue.EnterAt.Equal(s.lastNotified) {
		return
	}
	s.lastNotified = overdue.EnterAt

	s.pool.Dispatch(Job{
		Kind:   KindForgotClockOut,
		UserID: overdue.UserID,
		Title:  "Still on the clock?",
		Message: fmt.Sprintf("You have been clocked in at %s since %s. Forgot to clock out?",
			overdue.LocationName, overdue.EnterAt.Local().Format("15:04")),
	})
}
