// Package sync replicates the daily hours ledger to and from the remote
// multi-device store. The local ledger stays authoritative for this device;
// sync failure only delays visibility elsewhere.
package sync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"timeclock-backend/internal/model"
	"timeclock-backend/internal/store"
)

// State is the reconciler's connectivity state.
type State string

const (
	StateOffline State = "offline"
	StateSyncing State = "syncing"
	StateIdle    State = "idle"
)

// Reconciler runs the push/pull cycle with capped exponential backoff.
// Conflict policy is last-writer-wins per whole row on UpdatedAt; see
// store.ApplyRemote.
type Reconciler struct {
	store  store.Store
	client *Client
	userID string

	interval       time.Duration
	backoffInitial time.Duration
	backoffMax     time.Duration

	mu             sync.Mutex
	state          State
	cancelInflight context.CancelFunc

	// pending holds pulled rows deferred because the local copy was dirty.
	// They are re-applied once the local push for that row has succeeded or
	// been superseded by a newer remote version.
	pending map[string]model.DailyHoursEntry

	kick chan struct{}
	now  func() time.Time
}

// NewReconciler creates a reconciler over the given store and remote client.
func NewReconciler(s store.Store, c *Client, userID string, interval, backoffInitial, backoffMax time.Duration) *Reconciler {
	return &Reconciler{
		store:          s,
		client:         c,
		userID:         userID,
		interval:       interval,
		backoffInitial: backoffInitial,
		backoffMax:     backoffMax,
		state:          StateOffline,
		pending:        make(map[string]model.DailyHoursEntry),
		kick:           make(chan struct{}, 1),
		now:            time.Now,
	}
}

// State returns the current connectivity state.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Reconciler) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Kick requests an immediate cycle, cancelling one already in flight. Wired
// to the connectivity-restored and app-foregrounded signals. Partial pushes
// already sent are not rolled back; the protocol is idempotent.
func (r *Reconciler) Kick() {
	r.mu.Lock()
	if r.cancelInflight != nil {
		r.cancelInflight()
	}
	r.mu.Unlock()

	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Run executes sync cycles until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	zap.L().Info("sync reconciler starting", zap.Duration("interval", r.interval))
	backoff := r.backoffInitial

	for {
		cycleCtx, cancel := context.WithCancel(ctx)
		r.mu.Lock()
		r.cancelInflight = cancel
		r.mu.Unlock()

		err := r.SyncOnce(cycleCtx)

		r.mu.Lock()
		r.cancelInflight = nil
		r.mu.Unlock()
		cancel()

		var wait time.Duration
		if err != nil {
			if ctx.Err() != nil {
				zap.L().Info("sync reconciler shutting down")
				return
			}
			r.setState(StateOffline)
			wait = backoff
			backoff *= 2
			if backoff > r.backoffMax {
				backoff = r.backoffMax
			}
			zap.L().Warn("sync cycle failed", zap.Error(err), zap.Duration("retry_in", wait))
		} else {
			r.setState(StateIdle)
			backoff = r.backoffInitial
			wait = r.interval
		}

		select {
		case <-ctx.Done():
			zap.L().Info("sync reconciler shutting down")
			return
		case <-time.After(wait):
		case <-r.kick:
		}
	}
}

// SyncOnce runs one push+pull cycle. The dirty snapshot is read before the
// network round trip and results are reapplied afterwards, so no ledger lock
// is ever held while awaiting the network.
func (r *Reconciler) SyncOnce(ctx context.Context) error {
	r.setState(StateSyncing)

	if err := r.push(ctx); err != nil {
		return err
	}
	if err := r.applyPending(ctx); err != nil {
		return err
	}
	return r.pull(ctx)
}

func (r *Reconciler) push(ctx context.Context) error {
	dirty, err := r.store.DirtyEntries(ctx, r.userID)
	if err != nil {
		return err
	}
	if len(dirty) == 0 {
		return nil
	}

	resp, err := r.client.Push(ctx, dirty)
	if err != nil {
		return err
	}

	snapshot := make(map[string]model.DailyHoursEntry, len(dirty))
	for _, e := range dirty {
		snapshot[e.ID] = e
	}

	acceptedRows := make([]model.DailyHoursEntry, 0, len(resp.Accepted))
	for _, id := range resp.Accepted {
		if e, ok := snapshot[id]; ok {
			acceptedRows = append(acceptedRows, e)
		}
	}
	if err := r.store.MarkClean(ctx, acceptedRows); err != nil {
		return err
	}
	// A pushed tombstone the remote accepted is a confirmed deletion; the
	// local row can finally go away for real.
	if err := r.store.PurgeTombstones(ctx, resp.Accepted); err != nil {
		return err
	}

	for _, rej := range resp.Rejected {
		// Rejected rows stay dirty and retry next cycle; always logged so the
		// user can audit what the remote refused.
		zap.L().Warn("remote store rejected entry",
			zap.String("entry_id", rej.ID),
			zap.String("reason", rej.Reason))
	}

	zap.L().Info("push complete",
		zap.Int("pushed", len(dirty)),
		zap.Int("accepted", len(resp.Accepted)),
		zap.Int("rejected", len(resp.Rejected)))
	return nil
}

// applyPending retries remote rows that were deferred behind local dirty
// state in earlier cycles.
func (r *Reconciler) applyPending(ctx context.Context) error {
	r.mu.Lock()
	if len(r.pending) == 0 {
		r.mu.Unlock()
		return nil
	}
	batch := make([]model.DailyHoursEntry, 0, len(r.pending))
	for _, e := range r.pending {
		batch = append(batch, e)
	}
	r.mu.Unlock()

	res, err := r.store.ApplyRemote(ctx, batch)
	if err != nil {
		return err
	}
	if err := r.store.PurgeTombstones(ctx, res.Applied); err != nil {
		return err
	}

	r.mu.Lock()
	for _, id := range res.Applied {
		delete(r.pending, id)
	}
	for _, id := range res.Skipped {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	return nil
}

func (r *Reconciler) pull(ctx context.Context) error {
	checkpoint, err := r.store.Checkpoint(ctx, r.userID)
	if err != nil {
		return err
	}

	newCheckpoint := checkpoint
	var deferredFloor time.Time
	applied, deferred := 0, 0

	for offset := 0; ; offset += r.client.PageSize() {
		page, err := r.client.Pull(ctx, checkpoint, offset)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			break
		}

		res, err := r.store.ApplyRemote(ctx, page)
		if err != nil {
			return err
		}
		if err := r.store.PurgeTombstones(ctx, res.Applied); err != nil {
			return err
		}
		applied += len(res.Applied)
		deferred += len(res.Deferred)

		deferredSet := make(map[string]bool, len(res.Deferred))
		for _, id := range res.Deferred {
			deferredSet[id] = true
		}
		r.mu.Lock()
		for _, e := range page {
			if deferredSet[e.ID] {
				// Keep the newest deferred version; also pin the checkpoint
				// below it so a restart cannot lose the held row.
				if held, ok := r.pending[e.ID]; !ok || e.UpdatedAt.After(held.UpdatedAt) {
					r.pending[e.ID] = e
				}
				if deferredFloor.IsZero() || e.UpdatedAt.Before(deferredFloor) {
					deferredFloor = e.UpdatedAt
				}
			}
			if e.UpdatedAt.After(newCheckpoint) {
				newCheckpoint = e.UpdatedAt
			}
		}
		r.mu.Unlock()

		if len(page) < r.client.PageSize() {
			break
		}
	}

	if !deferredFloor.IsZero() && deferredFloor.Add(-time.Nanosecond).Before(newCheckpoint) {
		newCheckpoint = deferredFloor.Add(-time.Nanosecond)
	}
	if newCheckpoint.After(checkpoint) {
		if err := r.store.SetCheckpoint(ctx, r.userID, newCheckpoint); err != nil {
			return err
		}
	}

	if applied > 0 || deferred > 0 {
		zap.L().Info("pull complete",
			zap.Int("applied", applied),
			zap.Int("deferred", deferred),
			zap.Time("checkpoint", newCheckpoint))
	}
	return nil
}
