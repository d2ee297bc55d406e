package models

import "time"

// HostPayoutAccount links a host to a connected gateway account for card value payouts.
type HostPayoutAccount struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	HostID          string `gorm:"type:text;not null;uniqueIndex"` // Host identifier.
	StripeAccountID string `gorm:"type:text;not null"`             // Connected account handle.

	ChargesEnabled   bool `gorm:"not null;default:false"` // Gateway allows charges.
	PayoutsEnabled   bool `gorm:"not null;default:false"` // Gateway allows payouts.
	DetailsSubmitted bool `gorm:"not null;default:false"` // Onboarding details submitted.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
