// Package store is the persistence layer for the tracking ledger and the
// daily hours table. All mutation goes through transactions; callers above it
// (tracker, aggregator, reconciler) decide policy.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"timeclock-backend/internal/model"
)

// ErrActiveExists is returned when a second active session would be created
// for a user. The earlier write wins.
var ErrActiveExists = errors.New("an active tracking session already exists")

// ErrNotFound is returned for lookups of missing rows.
var ErrNotFound = errors.New("record not found")

// RejectedEntry names a pushed entry the remote side refused, with a reason.
type RejectedEntry struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// ApplyResult reports the outcome of applying a pulled batch.
type ApplyResult struct {
	Applied  []string // inserted or overwritten
	Deferred []string // locally dirty, held back until pushed
	Skipped  []string // local copy is same age or newer
}

// Store defines the interface for all database operations.
type Store interface {
	DB() *gorm.DB

	// Active tracking ledger: 0 or 1 row per user.
	GetActiveTracking(ctx context.Context, userID string) (*model.ActiveTracking, error)
	CreateActiveTracking(ctx context.Context, at *model.ActiveTracking) error
	UpdateActiveTracking(ctx context.Context, at *model.ActiveTracking) error
	ClearActiveTracking(ctx context.Context, userID string) error

	// Daily hours.
	EntryByID(ctx context.Context, id string) (*model.DailyHoursEntry, error)
	EntryByKey(ctx context.Context, userID, date string, locationID int64) (*model.DailyHoursEntry, error)
	SaveEntry(ctx context.Context, e *model.DailyHoursEntry) error
	EntriesByPeriod(ctx context.Context, userID, startDate, endDate string) ([]model.DailyHoursEntry, error)

	// Sync bookkeeping.
	DirtyEntries(ctx context.Context, userID string) ([]model.DailyHoursEntry, error)
	MarkClean(ctx context.Context, snapshot []model.DailyHoursEntry) error
	PurgeTombstones(ctx context.Context, ids []string) error
	ApplyRemote(ctx context.Context, remote []model.DailyHoursEntry) (ApplyResult, error)
	Checkpoint(ctx context.Context, userID string) (time.Time, error)
	SetCheckpoint(ctx context.Context, userID string, at time.Time) error

	// Remote-store side of the sync protocol.
	AcceptPushed(ctx context.Context, entries []model.DailyHoursEntry) (accepted []string, rejected []RejectedEntry, err error)
	EntriesSince(ctx context.Context, since time.Time, limit, offset int) ([]model.DailyHoursEntry, error)

	// Location registry read model.
	Locations(ctx context.Context) ([]model.Location, error)
	LocationByID(ctx context.Context, id int64) (*model.Location, error)

	// Push subscriptions.
	SaveSubscription(ctx context.Context, sub *model.PushSubscription) error
	DeleteSubscription(ctx context.Context, endpoint string) error
	SubscriptionsForUser(ctx context.Context, userID string) ([]model.PushSubscription, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB { return s.db }

func (s *gormStore) GetActiveTracking(ctx context.Context, userID string) (*model.ActiveTracking, error) {
	var at model.ActiveTracking
	err := s.db.WithContext(ctx).First(&at, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load active tracking: %w", err)
	}
	return &at, nil
}

// CreateActiveTracking opens a session. It refuses to replace an existing one:
// two concurrent starts are an invariant violation resolved in favor of the
// earlier write.
func (s *gormStore) CreateActiveTracking(ctx context.Context, at *model.ActiveTracking) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.ActiveTracking
		err := tx.First(&existing, "user_id = ?", at.UserID).Error
		if err == nil {
			return ErrActiveExists
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to check active tracking: %w", err)
		}
		if err := tx.Create(at).Error; err != nil {
			return fmt.Errorf("failed to create active tracking: %w", err)
		}
		return nil
	})
}

func (s *gormStore) UpdateActiveTracking(ctx context.Context, at *model.ActiveTracking) error {
	if err := s.db.WithContext(ctx).Save(at).Error; err != nil {
		return fmt.Errorf("failed to update active tracking: %w", err)
	}
	return nil
}

func (s *gormStore) ClearActiveTracking(ctx context.Context, userID string) error {
	if err := s.db.WithContext(ctx).Delete(&model.ActiveTracking{}, "user_id = ?", userID).Error; err != nil {
		return fmt.Errorf("failed to clear active tracking: %w", err)
	}
	return nil
}

func (s *gormStore) EntryByID(ctx context.Context, id string) (*model.DailyHoursEntry, error) {
	var e model.DailyHoursEntry
	err := s.db.WithContext(ctx).First(&e, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load entry %s: %w", id, err)
	}
	return &e, nil
}

// EntryByKey finds the live entry for a day and location. Tombstones are
// excluded: a new fold after a deletion starts a fresh row.
func (s *gormStore) EntryByKey(ctx context.Context, userID, date string, locationID int64) (*model.DailyHoursEntry, error) {
	var e model.DailyHoursEntry
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND date = ? AND location_id = ? AND deleted_at IS NULL", userID, date, locationID).
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load entry for %s/%s: %w", userID, date, err)
	}
	return &e, nil
}

func (s *gormStore) SaveEntry(ctx context.Context, e *model.DailyHoursEntry) error {
	if err := s.db.WithContext(ctx).Save(e).Error; err != nil {
		return fmt.Errorf("failed to save entry %s: %w", e.ID, err)
	}
	return nil
}

func (s *gormStore) EntriesByPeriod(ctx context.Context, userID, startDate, endDate string) ([]model.DailyHoursEntry, error) {
	var entries []model.DailyHoursEntry
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND date >= ? AND date <= ? AND deleted_at IS NULL", userID, startDate, endDate).
		Order("date ASC, location_id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	return entries, nil
}

func (s *gormStore) DirtyEntries(ctx context.Context, userID string) ([]model.DailyHoursEntry, error) {
	var entries []model.DailyHoursEntry
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND dirty = ?", userID, true).
		Order("updated_at ASC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list dirty entries: %w", err)
	}
	return entries, nil
}

// MarkClean clears the dirty flag, but only for rows unchanged since the
// snapshot was pushed: a row edited mid-push stays dirty for the next cycle.
func (s *gormStore) MarkClean(ctx context.Context, snapshot []model.DailyHoursEntry) error {
	if len(snapshot) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, e := range snapshot {
			if err := tx.Model(&model.DailyHoursEntry{}).
				Where("id = ? AND updated_at = ?", e.ID, e.UpdatedAt).
				Update("dirty", false).Error; err != nil {
				return fmt.Errorf("failed to mark entry %s clean: %w", e.ID, err)
			}
		}
		return nil
	})
}

// PurgeTombstones hard-deletes soft-deleted rows whose deletion the remote
// side has confirmed. Dirty tombstones are kept until their push succeeds.
func (s *gormStore) PurgeTombstones(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).
		Where("id IN ? AND deleted_at IS NOT NULL AND dirty = ?", ids, false).
		Delete(&model.DailyHoursEntry{}).Error; err != nil {
		return fmt.Errorf("failed to purge tombstones: %w", err)
	}
	return nil
}

// ApplyRemote folds a pulled batch into the local table with last-writer-wins
// per row. Rows are replaced whole, never merged field-by-field: a partial
// merge of time totals can fabricate hours.
func (s *gormStore) ApplyRemote(ctx context.Context, remote []model.DailyHoursEntry) (ApplyResult, error) {
	var res ApplyResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, r := range remote {
			var local model.DailyHoursEntry
			err := tx.First(&local, "id = ?", r.ID).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				r.Dirty = false
				if err := tx.Create(&r).Error; err != nil {
					return fmt.Errorf("failed to insert remote entry %s: %w", r.ID, err)
				}
				res.Applied = append(res.Applied, r.ID)
			case err != nil:
				return fmt.Errorf("failed to load local entry %s: %w", r.ID, err)
			case local.Dirty:
				// Local unsynced change outranks the pull; the remote row is
				// re-fetched after the next successful push of this id.
				res.Deferred = append(res.Deferred, r.ID)
			case r.UpdatedAt.After(local.UpdatedAt):
				r.Dirty = false
				r.CreatedAt = local.CreatedAt
				if err := tx.Save(&r).Error; err != nil {
					return fmt.Errorf("failed to overwrite entry %s: %w", r.ID, err)
				}
				res.Applied = append(res.Applied, r.ID)
			default:
				// Same or older: replaying a batch is a no-op.
				res.Skipped = append(res.Skipped, r.ID)
			}
		}
		return nil
	})
	if err != nil {
		return ApplyResult{}, err
	}
	return res, nil
}

func (s *gormStore) Checkpoint(ctx context.Context, userID string) (time.Time, error) {
	var st model.SyncState
	err := s.db.WithContext(ctx).First(&st, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to load sync checkpoint: %w", err)
	}
	return st.Checkpoint, nil
}

func (s *gormStore) SetCheckpoint(ctx context.Context, userID string, at time.Time) error {
	st := model.SyncState{UserID: userID, Checkpoint: at}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"checkpoint", "updated_at"}),
	}).Create(&st).Error
	if err != nil {
		return fmt.Errorf("failed to save sync checkpoint: %w", err)
	}
	return nil
}

// AcceptPushed is the remote-store side of a push batch. Acceptance is
// per-row: one bad row never blocks the rest. Replayed rows whose UpdatedAt is
// not newer are accepted without effect.
func (s *gormStore) AcceptPushed(ctx context.Context, entries []model.DailyHoursEntry) ([]string, []RejectedEntry, error) {
	var accepted []string
	var rejected []RejectedEntry

	for _, e := range entries {
		if reason := validatePushed(&e); reason != "" {
			rejected = append(rejected, RejectedEntry{ID: e.ID, Reason: reason})
			continue
		}

		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var existing model.DailyHoursEntry
			err := tx.First(&existing, "id = ?", e.ID).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				e.Dirty = false
				return tx.Create(&e).Error
			case err != nil:
				return err
			case e.UpdatedAt.After(existing.UpdatedAt):
				e.Dirty = false
				e.CreatedAt = existing.CreatedAt
				return tx.Save(&e).Error
			default:
				return nil
			}
		})
		if err != nil {
			rejected = append(rejected, RejectedEntry{ID: e.ID, Reason: err.Error()})
			continue
		}
		accepted = append(accepted, e.ID)
	}
	return accepted, rejected, nil
}

func validatePushed(e *model.DailyHoursEntry) string {
	switch {
	case e.ID == "":
		return "missing id"
	case e.UserID == "":
		return "missing user id"
	case !e.Source.Valid():
		return "unknown source"
	case e.BreakMinutes < 0 || e.TotalMinutes < e.BreakMinutes:
		return "total minutes must be >= break minutes >= 0"
	case e.Source == model.EntrySourceAbsence && e.TotalMinutes != 0:
		return "absence entries must have zero minutes"
	}
	if _, err := time.Parse(model.DateLayout, e.Date); err != nil {
		return "invalid date"
	}
	return ""
}

// EntriesSince serves a pull page: every row, tombstones included, changed
// after the checkpoint, oldest first so the caller's checkpoint advances
// monotonically.
func (s *gormStore) EntriesSince(ctx context.Context, since time.Time, limit, offset int) ([]model.DailyHoursEntry, error) {
	var entries []model.DailyHoursEntry
	q := s.db.WithContext(ctx).
		Where("updated_at > ?", since).
		Order("updated_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list entries since %s: %w", since, err)
	}
	return entries, nil
}

func (s *gormStore) Locations(ctx context.Context) ([]model.Location, error) {
	var locations []model.Location
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&locations).Error; err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	return locations, nil
}

func (s *gormStore) LocationByID(ctx context.Context, id int64) (*model.Location, error) {
	var loc model.Location
	err := s.db.WithContext(ctx).First(&loc, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load location %d: %w", id, err)
	}
	return &loc, nil
}

func (s *gormStore) SaveSubscription(ctx context.Context, sub *model.PushSubscription) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "p256dh", "auth"}),
	}).Create(sub).Error
	if err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	return nil
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	if err := s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint}).Error; err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

func (s *gormStore) SubscriptionsForUser(ctx context.Context, userID string) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}
