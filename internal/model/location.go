package model

import "time"

// Location is the read model of a job site owned by the location registry.
// The core only resolves names and colors from it; fence geometry lives
// elsewhere.
type Location struct {
	ID        int64  `gorm:"primaryKey"` // fence id from the registry
	Name      string `gorm:"size:256;not null"`
	Color     string `gorm:"size:16"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
