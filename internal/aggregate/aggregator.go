// Package aggregate folds closed tracking intervals into the canonical
// per-day hours ledger and owns all manual mutation of it.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"timeclock-backend/internal/model"
	"timeclock-backend/internal/store"
)

// ErrInvalidEntry is returned for manual input that violates the ledger
// invariants. Bad input is rejected, never coerced.
var ErrInvalidEntry = errors.New("invalid daily hours entry")

// ErrEntryDeleted is returned when mutating a soft-deleted entry.
var ErrEntryDeleted = errors.New("entry has been deleted")

// Aggregator maintains the daily_hours table. A single mutex serializes all
// mutation: geofence folds and user edits may arrive concurrently.
type Aggregator struct {
	mu    sync.Mutex
	store store.Store

	userID string
	loc    *time.Location
	now    func() time.Time
}

// New creates an aggregator for one user. Day boundaries are computed in loc.
func New(s store.Store, userID string, loc *time.Location) *Aggregator {
	return &Aggregator{
		store:  s,
		userID: userID,
		loc:    loc,
		now:    time.Now,
	}
}

// piece is one per-day slice of a closed interval.
type piece struct {
	date  string
	start time.Time
	end   time.Time
}

// splitAtMidnights cuts [enterAt, exitAt] at every local midnight. Each day's
// slice ends at 23:59 at the latest; the minute before midnight is the
// boundary, so a crossing never double-counts.
func (a *Aggregator) splitAtMidnights(enterAt, exitAt time.Time) []piece {
	enterAt = enterAt.In(a.loc)
	exitAt = exitAt.In(a.loc)
	if !exitAt.After(enterAt) {
		return nil
	}

	var pieces []piece
	cur := enterAt
	for {
		dayStart := time.Date(cur.Year(), cur.Month(), cur.Day(), 0, 0, 0, 0, a.loc)
		nextMidnight := dayStart.AddDate(0, 0, 1)
		date := dayStart.Format(model.DateLayout)

		if exitAt.After(nextMidnight) {
			pieces = append(pieces, piece{date: date, start: cur, end: nextMidnight.Add(-time.Minute)})
			cur = nextMidnight
			continue
		}

		end := exitAt
		if exitAt.Equal(nextMidnight) {
			end = nextMidnight.Add(-time.Minute)
		}
		if end.After(cur) {
			pieces = append(pieces, piece{date: date, start: cur, end: end})
		}
		return pieces
	}
}

// FoldInterval folds a closed tracking interval into the ledger, one entry
// per calendar day touched. Break minutes are attributed to the day the
// interval ends on. needsReview marks the produced entries as imprecise, e.g.
// after a cold-start force close.
func (a *Aggregator) FoldInterval(ctx context.Context, locationID int64, locationName string, enterAt, exitAt time.Time, breakMinutes int, needsReview bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	pieces := a.splitAtMidnights(enterAt, exitAt)
	if len(pieces) == 0 {
		zap.L().Warn("fold skipped, interval is empty",
			zap.Int64("location_id", locationID),
			zap.Time("enter_at", enterAt),
			zap.Time("exit_at", exitAt))
		return nil
	}

	remainingBreak := breakMinutes
	for i := len(pieces) - 1; i >= 0; i-- {
		p := pieces[i]
		minutes := int(p.end.Sub(p.start).Minutes())

		pieceBreak := remainingBreak
		if pieceBreak > minutes {
			pieceBreak = minutes
		}
		remainingBreak -= pieceBreak

		if err := a.foldPiece(ctx, locationID, locationName, p, minutes, pieceBreak, needsReview); err != nil {
			return err
		}
	}
	return nil
}

func (a *Aggregator) foldPiece(ctx context.Context, locationID int64, locationName string, p piece, minutes, breakMinutes int, needsReview bool) error {
	existing, err := a.store.EntryByKey(ctx, a.userID, p.date, locationID)
	if err != nil {
		return err
	}

	firstEntry := p.start.Format(model.ClockLayout)
	lastExit := p.end.Format(model.ClockLayout)
	now := a.now().UTC()

	if existing == nil {
		entry := &model.DailyHoursEntry{
			ID:           uuid.NewString(),
			UserID:       a.userID,
			Date:         p.date,
			LocationID:   locationID,
			LocationName: locationName,
			TotalMinutes: minutes,
			BreakMinutes: breakMinutes,
			FirstEntry:   firstEntry,
			LastExit:     lastExit,
			Source:       model.EntrySourceGps,
			NeedsReview:  needsReview,
			UpdatedAt:    now,
			Dirty:        true,
		}
		return a.store.SaveEntry(ctx, entry)
	}

	if existing.Source != model.EntrySourceGps {
		// Manual, edited and absence entries are authoritative. The fold is
		// suppressed and the conflict surfaced instead of merged away.
		existing.NeedsReview = true
		existing.UpdatedAt = now
		existing.Dirty = true
		zap.L().Warn("automatic fold suppressed by user-authored entry",
			zap.String("entry_id", existing.ID),
			zap.String("date", p.date),
			zap.Int64("location_id", locationID),
			zap.String("source", string(existing.Source)),
			zap.Int("dropped_minutes", minutes))
		return a.store.SaveEntry(ctx, existing)
	}

	existing.TotalMinutes += minutes
	existing.BreakMinutes += breakMinutes
	if existing.FirstEntry == "" || firstEntry < existing.FirstEntry {
		existing.FirstEntry = firstEntry
	}
	if lastExit > existing.LastExit {
		existing.LastExit = lastExit
	}
	if needsReview {
		existing.NeedsReview = true
	}
	existing.UpdatedAt = now
	existing.Dirty = true
	return a.store.SaveEntry(ctx, existing)
}

// UpsertParams carries a manual entry or edit.
type UpsertParams struct {
	ID           string // empty for a new entry
	Date         string
	LocationID   int64
	LocationName string
	TotalMinutes int
	BreakMinutes int
	FirstEntry   string
	LastExit     string
	Notes        string
}

func (p *UpsertParams) validate() error {
	if _, err := time.Parse(model.DateLayout, p.Date); err != nil {
		return fmt.Errorf("%w: date must be %s", ErrInvalidEntry, model.DateLayout)
	}
	if p.BreakMinutes < 0 || p.TotalMinutes < p.BreakMinutes {
		return fmt.Errorf("%w: total minutes must be >= break minutes >= 0", ErrInvalidEntry)
	}
	for _, clock := range []string{p.FirstEntry, p.LastExit} {
		if clock == "" {
			continue
		}
		if _, err := time.Parse(model.ClockLayout, clock); err != nil {
			return fmt.Errorf("%w: clock times must be %s", ErrInvalidEntry, model.ClockLayout)
		}
	}
	return nil
}

// Upsert creates or edits an entry by hand. A new entry gets source=manual, an
// edit switches to edited; either way the row outranks later automatic folds.
func (a *Aggregator) Upsert(ctx context.Context, p UpsertParams) (*model.DailyHoursEntry, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now().UTC()

	if p.ID == "" {
		entry := &model.DailyHoursEntry{
			ID:           uuid.NewString(),
			UserID:       a.userID,
			Date:         p.Date,
			LocationID:   p.LocationID,
			LocationName: p.LocationName,
			TotalMinutes: p.TotalMinutes,
			BreakMinutes: p.BreakMinutes,
			FirstEntry:   p.FirstEntry,
			LastExit:     p.LastExit,
			Source:       model.EntrySourceManual,
			Notes:        p.Notes,
			UpdatedAt:    now,
			Dirty:        true,
		}
		if err := a.store.SaveEntry(ctx, entry); err != nil {
			return nil, err
		}
		return entry, nil
	}

	entry, err := a.store.EntryByID(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if entry.Deleted() {
		return nil, ErrEntryDeleted
	}

	entry.Date = p.Date
	entry.LocationID = p.LocationID
	if p.LocationName != "" {
		entry.LocationName = p.LocationName
	}
	entry.TotalMinutes = p.TotalMinutes
	entry.BreakMinutes = p.BreakMinutes
	entry.FirstEntry = p.FirstEntry
	entry.LastExit = p.LastExit
	entry.Notes = p.Notes
	entry.Source = model.EntrySourceEdited
	entry.NeedsReview = false
	entry.UpdatedAt = now
	entry.Dirty = true
	if err := a.store.SaveEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// RecordAbsence creates a zero-duration entry carrying the absence reason.
func (a *Aggregator) RecordAbsence(ctx context.Context, date, reason string) (*model.DailyHoursEntry, error) {
	if _, err := time.Parse(model.DateLayout, date); err != nil {
		return nil, fmt.Errorf("%w: date must be %s", ErrInvalidEntry, model.DateLayout)
	}
	if reason == "" {
		return nil, fmt.Errorf("%w: absence entries need a reason", ErrInvalidEntry)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := &model.DailyHoursEntry{
		ID:        uuid.NewString(),
		UserID:    a.userID,
		Date:      date,
		Source:    model.EntrySourceAbsence,
		Notes:     reason,
		UpdatedAt: a.now().UTC(),
		Dirty:     true,
	}
	if err := a.store.SaveEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Delete soft-deletes an entry. The tombstone stays until the reconciler has
// confirmed the remote deletion, so a stale pull cannot resurrect the row.
func (a *Aggregator) Delete(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, err := a.store.EntryByID(ctx, id)
	if err != nil {
		return err
	}
	if entry.Deleted() {
		return nil
	}

	now := a.now().UTC()
	entry.DeletedAt = &now
	entry.UpdatedAt = now
	entry.Dirty = true
	return a.store.SaveEntry(ctx, entry)
}

// Verify marks an entry as confirmed by a supervisor.
func (a *Aggregator) Verify(ctx context.Context, id string, verified bool) (*model.DailyHoursEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, err := a.store.EntryByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.Deleted() {
		return nil, ErrEntryDeleted
	}

	entry.Verified = verified
	entry.UpdatedAt = a.now().UTC()
	entry.Dirty = true
	if err := a.store.SaveEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// EntriesByPeriod lists live entries between two instants, inclusive, using
// the aggregator's calendar days.
func (a *Aggregator) EntriesByPeriod(ctx context.Context, start, end time.Time) ([]model.DailyHoursEntry, error) {
	startDate := start.In(a.loc).Format(model.DateLayout)
	endDate := end.In(a.loc).Format(model.DateLayout)
	return a.store.EntriesByPeriod(ctx, a.userID, startDate, endDate)
}
