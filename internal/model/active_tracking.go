package model

import "time"

// TrackingSource tells whether a session was opened by geofence detection or
// by the user.
type TrackingSource string

const (
	SourceAutomatic TrackingSource = "automatic"
	SourceManual    TrackingSource = "manual"
)

// ActiveTracking is the single authoritative "currently on the clock" record.
// At most one row exists per user; its existence is equivalent to "session is
// open". Only the tracker writes this table.
type ActiveTracking struct {
	UserID         string         `gorm:"primaryKey;size:64"`
	LocationID     int64          `gorm:"not null"`
	LocationName   string         `gorm:"size:256;not null"`
	EnterAt        time.Time      `gorm:"not null"`
	Source         TrackingSource `gorm:"size:16;not null"`
	PausedSeconds  int            `gorm:"not null;default:0"`
	PauseStartedAt *time.Time
	UpdatedAt      time.Time
}

// Paused reports whether the session is currently paused.
func (a *ActiveTracking) Paused() bool {
	return a.PauseStartedAt != nil
}

// PauseTotal returns the accumulated pause duration, including a still-open
// pause measured up to now.
func (a *ActiveTracking) PauseTotal(now time.Time) time.Duration {
	total := time.Duration(a.PausedSeconds) * time.Second
	if a.PauseStartedAt != nil && now.After(*a.PauseStartedAt) {
		total += now.Sub(*a.PauseStartedAt)
	}
	return total
}
