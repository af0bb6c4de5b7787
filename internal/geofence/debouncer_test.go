package geofence

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type confirmRecorder struct {
	mu        sync.Mutex
	confirmed []Confirmed
}

func (r *confirmRecorder) record(c Confirmed) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confirmed = append(r.confirmed, c)
}

func (r *confirmRecorder) all() []Confirmed {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Confirmed, len(r.confirmed))
	copy(out, r.confirmed)
	return out
}

func TestDebouncer_ConfirmsAfterTimeout(t *testing.T) {
	rec := &confirmRecorder{}
	d := NewDebouncer(30*time.Millisecond, 20*time.Millisecond, 0, rec.record)
	defer d.Close()

	d.Observe(Event{FenceID: 1, Transition: TransitionEnter, OccurredAt: time.Now()})

	assert.Eventually(t, func() bool {
		return len(rec.all()) == 1
	}, time.Second, 5*time.Millisecond)

	got := rec.all()[0]
	assert.Equal(t, int64(1), got.FenceID)
	assert.Equal(t, TransitionEnter, got.Transition)
}

// A fence that toggles back before its intent matures must emit nothing.
func TestDebouncer_FlapRejected(t *testing.T) {
	rec := &confirmRecorder{}
	d := NewDebouncer(40*time.Millisecond, 40*time.Millisecond, 0, rec.record)
	defer d.Close()

	now := time.Now()
	d.Observe(Event{FenceID: 7, Transition: TransitionEnter, OccurredAt: now})
	d.Observe(Event{FenceID: 7, Transition: TransitionExit, OccurredAt: now.Add(10 * time.Millisecond)})

	time.Sleep(120 * time.Millisecond)
	assert.Empty(t, rec.all(), "no transition shorter than the timeout may be confirmed")
}

// Exit flaps at the fence boundary while a session is open: exit observed,
// then re-enter within the exit timeout. No stop may be confirmed.
func TestDebouncer_ExitFlapKeepsSessionOpen(t *testing.T) {
	rec := &confirmRecorder{}
	d := NewDebouncer(20*time.Millisecond, 50*time.Millisecond, 0, rec.record)
	defer d.Close()

	now := time.Now()
	d.Observe(Event{FenceID: 3, Transition: TransitionExit, OccurredAt: now})
	d.Observe(Event{FenceID: 3, Transition: TransitionEnter, OccurredAt: now.Add(5 * time.Millisecond)})

	time.Sleep(150 * time.Millisecond)
	for _, c := range rec.all() {
		assert.NotEqual(t, TransitionExit, c.Transition, "exit flap must not confirm a stop")
	}
}

func TestDebouncer_DuplicateEventsCountOnce(t *testing.T) {
	rec := &confirmRecorder{}
	d := NewDebouncer(40*time.Millisecond, 40*time.Millisecond, 0, rec.record)
	defer d.Close()

	now := time.Now()
	d.Observe(Event{FenceID: 2, Transition: TransitionEnter, OccurredAt: now})
	d.Observe(Event{FenceID: 2, Transition: TransitionEnter, OccurredAt: now.Add(5 * time.Millisecond)})
	d.Observe(Event{FenceID: 2, Transition: TransitionEnter, OccurredAt: now.Add(10 * time.Millisecond)})

	assert.Eventually(t, func() bool {
		return len(rec.all()) == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	assert.Len(t, rec.all(), 1, "duplicate reports must collapse into one confirmation")
}

func TestDebouncer_IndependentFences(t *testing.T) {
	rec := &confirmRecorder{}
	d := NewDebouncer(20*time.Millisecond, 20*time.Millisecond, 0, rec.record)
	defer d.Close()

	now := time.Now()
	d.Observe(Event{FenceID: 1, Transition: TransitionEnter, OccurredAt: now})
	d.Observe(Event{FenceID: 2, Transition: TransitionEnter, OccurredAt: now})

	assert.Eventually(t, func() bool {
		return len(rec.all()) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestDebouncer_AccuracyGate(t *testing.T) {
	rec := &confirmRecorder{}
	d := NewDebouncer(10*time.Millisecond, 10*time.Millisecond, 50, rec.record)
	defer d.Close()

	d.Observe(Event{FenceID: 1, Transition: TransitionEnter, OccurredAt: time.Now(), AccuracyMeters: 500})

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.all(), "events with poor accuracy must be discarded")
}

func TestDebouncer_CloseCancelsPending(t *testing.T) {
	rec := &confirmRecorder{}
	d := NewDebouncer(20*time.Millisecond, 20*time.Millisecond, 0, rec.record)

	d.Observe(Event{FenceID: 1, Transition: TransitionEnter, OccurredAt: time.Now()})
	d.Close()

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, rec.all())
}

func TestDebouncer_Pending(t *testing.T) {
	rec := &confirmRecorder{}
	d := NewDebouncer(time.Minute, time.Minute, 0, rec.record)
	defer d.Close()

	d.Observe(Event{FenceID: 9, Transition: TransitionExit, OccurredAt: time.Now()})

	tr, ok := d.Pending(9)
	assert.True(t, ok)
	assert.Equal(t, TransitionExit, tr)

	_, ok = d.Pending(10)
	assert.False(t, ok)
}
