package models

import "time"

// Event is a host's contribution campaign owning a fixed set of cards.
type Event struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	HostID string `gorm:"type:text;not null;index"`       // Owning host identifier.
	Name   string `gorm:"type:text;not null"`             // Display name.
	Slug   string `gorm:"type:text;not null;uniqueIndex"` // Public URL slug.

	Description string     `gorm:"type:text"` // Optional description.
	Date        *time.Time // Event date, if scheduled.
	ThemeColor  string     `gorm:"type:text"` // UI accent color.

	NumCards   int   `gorm:"not null"`           // Number of cards generated.
	MinValue   int64 `gorm:"not null"`           // Lowest card value in minor units.
	MaxValue   int64 `gorm:"not null"`           // Highest card value in minor units.
	GoalAmount int64 `gorm:"not null;default:0"` // Fundraising goal in minor units, 0 when unset.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
