package models

import "time"

// UnlockAttempt is the rate-limit ledger row for one (email, event, card) key.
type UnlockAttempt struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Email      string `gorm:"type:text;not null;uniqueIndex:idx_unlock_attempts_key,priority:1"` // Normalized guest email.
	EventID    uint64 `gorm:"not null;uniqueIndex:idx_unlock_attempts_key,priority:2"`           // Event ID.
	CardNumber int    `gorm:"not null;uniqueIndex:idx_unlock_attempts_key,priority:3"`           // Card number within the event.

	Attempts        int        `gorm:"not null;default:0"` // Attempts recorded in the current window.
	WindowStartedAt time.Time  `gorm:"not null"`           // Start of the current counting window.
	LockedUntil     *time.Time // Lockout expiry, if locked.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"`       // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime;index"` // Last update timestamp.
}
