package models

import "time"

// Card lifecycle states.
const (
	// CardStatusAvailable marks a card nobody has claimed.
	CardStatusAvailable = "available"
	// CardStatusReserved marks a card held by a guest until ReservedUntil.
	CardStatusReserved = "reserved"
	// CardStatusRevealed is terminal; the card value is visible to its guest.
	CardStatusRevealed = "revealed"
)

// Card is a numbered unit of contribution with a hidden value.
type Card struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	EventID    uint64 `gorm:"not null;uniqueIndex:idx_cards_event_number,priority:1"` // Owning event ID.
	CardNumber int    `gorm:"not null;uniqueIndex:idx_cards_event_number,priority:2"` // Number shown to guests, unique per event.

	Status string `gorm:"type:text;not null;default:'available';index"` // One of the CardStatus* values.
	Value  int64  `gorm:"not null"`                                     // Value in minor currency units, fixed at creation.

	UnlockCode    *string    `gorm:"type:text"`       // Hashed one-time code, set only while reserved.
	GuestEmail    *string    `gorm:"type:text;index"` // Normalized email of the reserving or revealing guest.
	GuestName     *string    `gorm:"type:text"`       // Display name supplied at checkout.
	ReservedUntil *time.Time // Reservation expiry.
	RevealedAt    *time.Time // Reveal timestamp.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// ReservationExpired reports whether a reserved card is past its reservation window.
func (c *Card) ReservationExpired(now time.Time) bool {
	if c == nil || c.Status != CardStatusReserved || c.ReservedUntil == nil {
		return false
	}
	return !now.Before(*c.ReservedUntil)
}

// ReservedBy reports whether the card is reserved for the given normalized email.
func (c *Card) ReservedBy(email string) bool {
	if c == nil || c.Status != CardStatusReserved || c.GuestEmail == nil {
		return false
	}
	return *c.GuestEmail == email
}
