// Package geofence turns raw, jittery fence transition callbacks into
// confirmed enter/exit events. A transition only matures after it has stood
// uncontradicted for its configured timeout; a fence that toggles back in the
// meantime produces nothing at all.
package geofence

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Transition is the direction of a fence crossing.
type Transition string

const (
	TransitionEnter Transition = "enter"
	TransitionExit  Transition = "exit"
)

// Event is a raw callback from the OS geofencing service. It is not persisted
// beyond the debounce window.
type Event struct {
	FenceID        int64
	Transition     Transition
	OccurredAt     time.Time
	AccuracyMeters float64
}

// Confirmed is a matured transition handed to the tracker.
type Confirmed struct {
	FenceID     int64
	Transition  Transition
	ConfirmedAt time.Time
}

// intent is a candidate transition waiting out its debounce window.
type intent struct {
	transition      Transition
	firstObservedAt time.Time
	confirmCount    int
	timer           *time.Timer
}

// Debouncer absorbs GPS jitter before any clock decision is made. The entry
// and exit windows are asymmetric; see config.TrackingConfig.
type Debouncer struct {
	mu      sync.Mutex
	intents map[int64]*intent
	closed  bool

	entryTimeout time.Duration
	exitTimeout  time.Duration
	maxAccuracy  float64
	confirm      func(Confirmed)
}

// NewDebouncer creates a debouncer that calls confirm for every transition
// surviving its debounce window. maxAccuracy <= 0 disables the accuracy gate.
func NewDebouncer(entryTimeout, exitTimeout time.Duration, maxAccuracy float64, confirm func(Confirmed)) *Debouncer {
	return &Debouncer{
		intents:      make(map[int64]*intent),
		entryTimeout: entryTimeout,
		exitTimeout:  exitTimeout,
		maxAccuracy:  maxAccuracy,
		confirm:      confirm,
	}
}

// Observe feeds one raw fence event into the debouncer.
func (d *Debouncer) Observe(ev Event) {
	if d.maxAccuracy > 0 && ev.AccuracyMeters > d.maxAccuracy {
		zap.L().Debug("fence event discarded, accuracy too poor",
			zap.Int64("fence_id", ev.FenceID),
			zap.Float64("accuracy_m", ev.AccuracyMeters))
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	existing, ok := d.intents[ev.FenceID]
	if ok {
		if existing.transition == ev.Transition {
			// Duplicate report of the same pending transition.
			existing.confirmCount++
			return
		}
		// Opposite transition before maturity: the fence flapped back.
		// Discard the intent, emit nothing.
		existing.timer.Stop()
		delete(d.intents, ev.FenceID)
		zap.L().Debug("fence flap rejected",
			zap.Int64("fence_id", ev.FenceID),
			zap.String("pending", string(existing.transition)))
		return
	}

	timeout := d.entryTimeout
	if ev.Transition == TransitionExit {
		timeout = d.exitTimeout
	}

	in := &intent{
		transition:      ev.Transition,
		firstObservedAt: ev.OccurredAt,
		confirmCount:    1,
	}
	fenceID := ev.FenceID
	in.timer = time.AfterFunc(timeout, func() {
		d.mature(fenceID)
	})
	d.intents[fenceID] = in
}

// mature fires when an intent's debounce window elapses without contradiction.
func (d *Debouncer) mature(fenceID int64) {
	d.mu.Lock()
	in, ok := d.intents[fenceID]
	if !ok || d.closed {
		d.mu.Unlock()
		return
	}
	delete(d.intents, fenceID)
	// The confirmed time is when the transition was first reported, not when
	// the window matured. Events delivered late keep their real timestamps.
	c := Confirmed{
		FenceID:     fenceID,
		Transition:  in.transition,
		ConfirmedAt: in.firstObservedAt,
	}
	d.mu.Unlock()

	// The callback runs without the lock so it may feed further events back in.
	d.confirm(c)
}

// Pending reports whether a candidate transition is waiting for the given
// fence. Read-only, for the UI and for tests.
func (d *Debouncer) Pending(fenceID int64) (Transition, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	in, ok := d.intents[fenceID]
	if !ok {
		return "", false
	}
	return in.transition, true
}

// Close cancels all pending intents. No confirmations fire afterwards.
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for id, in := range d.intents {
		in.timer.Stop()
		delete(d.intents, id)
	}
}
