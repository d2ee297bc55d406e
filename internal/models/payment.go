package models

import (
	"time"

	"gorm.io/datatypes"
)

// Payment states.
const (
	// PaymentStatusPending marks a gateway session not yet confirmed as paid.
	PaymentStatusPending = "pending"
	// PaymentStatusPaid marks a session the gateway reported as paid.
	PaymentStatusPaid = "paid"
)

// Payment tracks one gateway checkout session opened for a card.
type Payment struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	CardID  uint64 `gorm:"not null;index"` // Paid card ID.
	EventID uint64 `gorm:"not null;index"` // Owning event ID.

	Amount         int64  `gorm:"not null"`                      // Card value, platform fee excluded.
	TransactionFee int64  `gorm:"not null;default:0"`            // Flat platform fee.
	Currency       string `gorm:"type:text;not null;default:''"` // ISO currency code, lowercase.

	GuestEmail string `gorm:"type:text;not null;index"` // Paying guest email.
	GuestName  string `gorm:"type:text"`                // Paying guest display name.

	Status          string     `gorm:"type:text;not null;default:'pending';index"` // One of the PaymentStatus* values.
	StripeSessionID string     `gorm:"type:text;uniqueIndex"`                      // Gateway session handle.
	PaidAt          *time.Time // Confirmation timestamp.

	TransferID string         `gorm:"type:text"`  // Host payout transfer handle, once created.
	Metadata   datatypes.JSON `gorm:"type:jsonb"` // Metadata sent to the gateway.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`       // Last update timestamp.
}
