package model

import "time"

// EntrySource is the closed set of origins a daily hours entry can have.
// Every consumer switches over all four values.
type EntrySource string

const (
	EntrySourceGps     EntrySource = "gps"
	EntrySourceManual  EntrySource = "manual"
	EntrySourceEdited  EntrySource = "edited"
	EntrySourceAbsence EntrySource = "absence"
)

// Valid reports whether s is one of the known entry sources.
func (s EntrySource) Valid() bool {
	switch s {
	case EntrySourceGps, EntrySourceManual, EntrySourceEdited, EntrySourceAbsence:
		return true
	}
	return false
}

// Locked reports whether the entry is user-authored, in which case automatic
// folds must not touch its hours.
func (s EntrySource) Locked() bool {
	return s == EntrySourceManual || s == EntrySourceEdited
}

// DateLayout is the storage format of DailyHoursEntry.Date, a calendar day in
// the user's timezone.
const DateLayout = "2006-01-02"

// ClockLayout is the display format of FirstEntry/LastExit.
const ClockLayout = "15:04"

// DailyHoursEntry is one row per (user, date, location) and the unit of sync.
//
// DeletedAt is a plain column, not gorm.DeletedAt: soft-deleted rows must stay
// visible to the sync reconciler as tombstones until the remote side confirms
// the deletion, so gorm's automatic scoping would get in the way.
type DailyHoursEntry struct {
	ID           string      `gorm:"primaryKey;size:36"`
	UserID       string      `gorm:"size:64;not null;index:idx_daily_hours_user_date"`
	Date         string      `gorm:"size:10;not null;index:idx_daily_hours_user_date"`
	LocationID   int64       `gorm:"not null"`
	LocationName string      `gorm:"size:256;not null"`
	TotalMinutes int         `gorm:"not null"`
	BreakMinutes int         `gorm:"not null"`
	FirstEntry   string      `gorm:"size:5"`
	LastExit     string      `gorm:"size:5"`
	Source       EntrySource `gorm:"size:16;not null"`
	Verified     bool        `gorm:"not null;default:false"`
	NeedsReview  bool        `gorm:"not null;default:false"`
	Notes        string
	// UpdatedAt is the row's conflict-resolution version and is set
	// explicitly by the aggregator; gorm must not touch it.
	UpdatedAt time.Time `gorm:"not null;index;autoUpdateTime:false"`
	DeletedAt *time.Time
	Dirty     bool `gorm:"not null;default:false;index"`
	CreatedAt time.Time
}

// Deleted reports whether the entry carries a soft-delete tombstone.
func (e *DailyHoursEntry) Deleted() bool {
	return e.DeletedAt != nil
}
