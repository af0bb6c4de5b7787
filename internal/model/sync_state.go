package model

import "time"

// SyncState stores the per-user pull checkpoint of the sync reconciler.
// Checkpoint is the newest remote UpdatedAt that has been applied locally.
type SyncState struct {
	UserID     string    `gorm:"primaryKey;size:64"`
	Checkpoint time.Time `gorm:"not null"`
	UpdatedAt  time.Time
}
