// Package tracker decides whether a confirmed fence transition becomes an
// actual clock event. It is the only writer of the active tracking ledger.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"timeclock-backend/config"
	"timeclock-backend/internal/aggregate"
	"timeclock-backend/internal/geofence"
	"timeclock-backend/internal/model"
	"timeclock-backend/internal/store"
)

// ErrSessionActive is returned when a start is requested while a session is
// already open.
var ErrSessionActive = errors.New("a tracking session is already active")

// ErrNoActiveSession is returned for stop/pause/resume without an open session.
var ErrNoActiveSession = errors.New("no tracking session is active")

// ErrUnknownLocation is returned when a fence id has no registry entry.
var ErrUnknownLocation = errors.New("unknown location")

// Tracker is the auto-action state machine. All session mutation happens
// under its mutex; geofence confirmations, manual actions and the reminder
// sweep may arrive concurrently.
type Tracker struct {
	mu    sync.Mutex
	store store.Store
	agg   *aggregate.Aggregator
	cfg   config.TrackingConfig
	loc   *time.Location

	// skip holds locations the user dismissed for the day; entries expire at
	// the next local midnight.
	skip *cache.Cache

	// onCandidate surfaces a confirmed enter the machine will not act on
	// because auto-start is disabled, so the UI can offer a manual start.
	onCandidate func(model.Location)

	now          func() time.Time
	retryBase    time.Duration
	retryRetries int
}

// New creates a tracker for the configured user.
func New(s store.Store, agg *aggregate.Aggregator, cfg config.TrackingConfig, loc *time.Location, onCandidate func(model.Location)) *Tracker {
	return &Tracker{
		store:        s,
		agg:          agg,
		cfg:          cfg,
		loc:          loc,
		skip:         cache.New(cache.NoExpiration, 30*time.Minute),
		onCandidate:  onCandidate,
		now:          time.Now,
		retryBase:    200 * time.Millisecond,
		retryRetries: 4,
	}
}

// Active returns the current session, or nil when off the clock.
func (t *Tracker) Active(ctx context.Context) (*model.ActiveTracking, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.GetActiveTracking(ctx, t.cfg.UserID)
}

// HandleConfirmed consumes a debounced fence transition. Errors degrade to
// the idle state and are logged; a geofence callback must never crash the
// host process.
func (t *Tracker) HandleConfirmed(ctx context.Context, c geofence.Confirmed) {
	t.mu.Lock()
	defer t.mu.Unlock()

	act, err := t.store.GetActiveTracking(ctx, t.cfg.UserID)
	if err != nil {
		zap.L().Error("failed to read active tracking", zap.Error(err))
		return
	}
	act = t.enforcePauseLimitLocked(ctx, act)

	switch c.Transition {
	case geofence.TransitionEnter:
		t.handleEnterLocked(ctx, act, c)
	case geofence.TransitionExit:
		t.handleExitLocked(ctx, act, c)
	}
}

func (t *Tracker) handleEnterLocked(ctx context.Context, act *model.ActiveTracking, c geofence.Confirmed) {
	if act != nil {
		if act.LocationID == c.FenceID {
			return
		}
		// Overlapping fences are a configuration problem. One session at a
		// time; the second start is refused, not crashed on.
		zap.L().Warn("enter refused, another session is active",
			zap.Int64("fence_id", c.FenceID),
			zap.Int64("active_location_id", act.LocationID))
		return
	}

	if t.dismissedLocked(c.FenceID) {
		zap.L().Info("auto start suppressed by skip list", zap.Int64("fence_id", c.FenceID))
		return
	}

	loc, err := t.store.LocationByID(ctx, c.FenceID)
	if err != nil {
		zap.L().Warn("enter for unknown fence ignored", zap.Int64("fence_id", c.FenceID), zap.Error(err))
		return
	}

	if !t.cfg.AutoStartEnabled {
		if t.onCandidate != nil {
			candidate := *loc
			go t.onCandidate(candidate)
		}
		return
	}

	if err := t.startLocked(ctx, loc, c.ConfirmedAt, model.SourceAutomatic); err != nil {
		zap.L().Error("automatic start failed", zap.Int64("fence_id", c.FenceID), zap.Error(err))
	}
}

func (t *Tracker) handleExitLocked(ctx context.Context, act *model.ActiveTracking, c geofence.Confirmed) {
	if act == nil || act.LocationID != c.FenceID {
		return
	}

	// The recorded exit approximates the real departure, not the moment the
	// debounce window confirmed it.
	exitAt := c.ConfirmedAt.Add(-time.Duration(t.cfg.ExitAdjustmentMinutes) * time.Minute)
	if exitAt.Before(act.EnterAt) {
		exitAt = act.EnterAt
	}
	if err := t.closeLocked(ctx, act, exitAt, false); err != nil {
		zap.L().Error("automatic stop failed", zap.Int64("fence_id", c.FenceID), zap.Error(err))
	}
}

// ManualStart opens a session by user request.
func (t *Tracker) ManualStart(ctx context.Context, locationID int64) (*model.ActiveTracking, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	act, err := t.store.GetActiveTracking(ctx, t.cfg.UserID)
	if err != nil {
		return nil, err
	}
	if act != nil {
		return nil, ErrSessionActive
	}

	loc, err := t.store.LocationByID(ctx, locationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrUnknownLocation, locationID)
		}
		return nil, err
	}

	if err := t.startLocked(ctx, loc, t.now(), model.SourceManual); err != nil {
		return nil, err
	}
	return t.store.GetActiveTracking(ctx, t.cfg.UserID)
}

// ManualStop closes the session at face value, with no exit adjustment.
func (t *Tracker) ManualStop(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	act, err := t.store.GetActiveTracking(ctx, t.cfg.UserID)
	if err != nil {
		return err
	}
	if act == nil {
		return ErrNoActiveSession
	}

	exitAt := t.now()
	if exitAt.Before(act.EnterAt) {
		exitAt = act.EnterAt
	}
	return t.closeLocked(ctx, act, exitAt, false)
}

// Pause suspends time accrual. Paused time is recorded as break minutes when
// the session closes.
func (t *Tracker) Pause(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	act, err := t.store.GetActiveTracking(ctx, t.cfg.UserID)
	if err != nil {
		return err
	}
	if act == nil {
		return ErrNoActiveSession
	}
	if act.Paused() {
		return nil
	}

	now := t.now()
	act.PauseStartedAt = &now
	return t.withRetry(ctx, "pause", func() error {
		return t.store.UpdateActiveTracking(ctx, act)
	})
}

// Resume ends a pause. If the accumulated pause has crossed the configured
// limit the session is force-closed instead.
func (t *Tracker) Resume(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	act, err := t.store.GetActiveTracking(ctx, t.cfg.UserID)
	if err != nil {
		return err
	}
	if act == nil {
		return ErrNoActiveSession
	}
	if closed := t.enforcePauseLimitLocked(ctx, act); closed == nil {
		return nil
	}
	if !act.Paused() {
		return nil
	}

	now := t.now()
	act.PausedSeconds += int(now.Sub(*act.PauseStartedAt).Seconds())
	act.PauseStartedAt = nil
	return t.withRetry(ctx, "resume", func() error {
		return t.store.UpdateActiveTracking(ctx, act)
	})
}

// Dismiss puts a location on the skip list for the rest of the local day, so
// a declined auto-start prompt does not re-trigger.
func (t *Tracker) Dismiss(locationID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now().In(t.loc)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, t.loc).AddDate(0, 0, 1)
	t.skip.Set(t.skipKey(locationID, now), true, midnight.Sub(now))
}

func (t *Tracker) dismissedLocked(locationID int64) bool {
	_, found := t.skip.Get(t.skipKey(locationID, t.now().In(t.loc)))
	return found
}

func (t *Tracker) skipKey(locationID int64, day time.Time) string {
	return fmt.Sprintf("%s|%d", day.Format(model.DateLayout), locationID)
}

// Reload reconciles the ledger after a process restart. insideFences is what
// the event source currently reports; a persisted session whose fence is no
// longer inside is closed at the reload time and flagged for review.
func (t *Tracker) Reload(ctx context.Context, insideFences []int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	act, err := t.store.GetActiveTracking(ctx, t.cfg.UserID)
	if err != nil {
		return err
	}
	if act == nil {
		return nil
	}
	if act = t.enforcePauseLimitLocked(ctx, act); act == nil {
		return nil
	}

	for _, id := range insideFences {
		if id == act.LocationID {
			zap.L().Info("resumed tracking session after restart",
				zap.Int64("location_id", act.LocationID),
				zap.Time("enter_at", act.EnterAt))
			return nil
		}
	}

	zap.L().Warn("persisted session's fence no longer inside, force closing",
		zap.Int64("location_id", act.LocationID),
		zap.Time("enter_at", act.EnterAt))
	exitAt := t.now()
	if exitAt.Before(act.EnterAt) {
		exitAt = act.EnterAt
	}
	return t.closeLocked(ctx, act, exitAt, true)
}

// Sweep enforces the pause limit and reports a session that has been open
// long enough to warrant a forgot-to-clock-out reminder.
func (t *Tracker) Sweep(ctx context.Context) *model.ActiveTracking {
	t.mu.Lock()
	defer t.mu.Unlock()

	act, err := t.store.GetActiveTracking(ctx, t.cfg.UserID)
	if err != nil {
		zap.L().Error("sweep failed to read active tracking", zap.Error(err))
		return nil
	}
	if act = t.enforcePauseLimitLocked(ctx, act); act == nil {
		return nil
	}

	if t.now().Sub(act.EnterAt) >= time.Duration(t.cfg.ReminderAfterHours)*time.Hour {
		overdue := *act
		return &overdue
	}
	return nil
}

// enforcePauseLimitLocked force-closes a session whose accumulated pause has
// exceeded the limit, at the moment the limit was crossed. Returns the still
// open session, or nil when none remains.
func (t *Tracker) enforcePauseLimitLocked(ctx context.Context, act *model.ActiveTracking) *model.ActiveTracking {
	if act == nil {
		return nil
	}
	limit := time.Duration(t.cfg.PauseLimitMinutes) * time.Minute
	if act.PauseTotal(t.now()) < limit {
		return act
	}

	crossedAt := t.now()
	if act.PauseStartedAt != nil {
		crossedAt = act.PauseStartedAt.Add(limit - time.Duration(act.PausedSeconds)*time.Second)
	}
	if crossedAt.Before(act.EnterAt) {
		crossedAt = act.EnterAt
	}

	zap.L().Warn("pause limit exceeded, force closing session",
		zap.Int64("location_id", act.LocationID),
		zap.Duration("pause_limit", limit))
	if err := t.closeLocked(ctx, act, crossedAt, true); err != nil {
		zap.L().Error("pause limit force close failed", zap.Error(err))
		return act
	}
	return nil
}

func (t *Tracker) startLocked(ctx context.Context, loc *model.Location, enterAt time.Time, source model.TrackingSource) error {
	act := &model.ActiveTracking{
		UserID:       t.cfg.UserID,
		LocationID:   loc.ID,
		LocationName: loc.Name,
		EnterAt:      enterAt,
		Source:       source,
	}
	err := t.withRetry(ctx, "start", func() error {
		return t.store.CreateActiveTracking(ctx, act)
	})
	if errors.Is(err, store.ErrActiveExists) {
		return ErrSessionActive
	}
	if err != nil {
		return err
	}
	zap.L().Info("tracking session started",
		zap.Int64("location_id", loc.ID),
		zap.String("location", loc.Name),
		zap.String("source", string(source)))
	return nil
}

// closeLocked folds the finished interval into the daily ledger and clears
// the ledger row. The fold happens first: losing the active row is cheap,
// losing worked hours is not.
func (t *Tracker) closeLocked(ctx context.Context, act *model.ActiveTracking, exitAt time.Time, needsReview bool) error {
	breakDuration := act.PauseTotal(exitAt)
	if span := exitAt.Sub(act.EnterAt); breakDuration > span {
		breakDuration = span
	}
	breakMinutes := int(breakDuration.Minutes())

	if err := t.agg.FoldInterval(ctx, act.LocationID, act.LocationName, act.EnterAt, exitAt, breakMinutes, needsReview); err != nil {
		return fmt.Errorf("failed to fold closed interval: %w", err)
	}

	err := t.withRetry(ctx, "clear", func() error {
		return t.store.ClearActiveTracking(ctx, act.UserID)
	})
	if err != nil {
		return err
	}
	zap.L().Info("tracking session closed",
		zap.Int64("location_id", act.LocationID),
		zap.Time("enter_at", act.EnterAt),
		zap.Time("exit_at", exitAt),
		zap.Int("break_minutes", breakMinutes),
		zap.Bool("needs_review", needsReview))
	return nil
}

// withRetry retries a ledger write with exponential backoff. A clock event
// that still cannot be persisted is surfaced loudly: a visible gap beats a
// silently lost punch.
func (t *Tracker) withRetry(ctx context.Context, op string, fn func() error) error {
	backoff := t.retryBase
	var err error
	for attempt := 0; attempt <= t.retryRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if errors.Is(err, store.ErrActiveExists) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	zap.L().Error("ledger write dropped after retries, manual reconciliation needed",
		zap.String("op", op),
		zap.Error(err))
	return fmt.Errorf("ledger write %s failed after retries: %w", op, err)
}
