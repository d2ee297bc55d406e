package cards

import (
	"time"

	"github.com/contribuicha/cardreveal/internal/models"
)

// PublicCard is the guest-facing projection of a card. It never carries codes or guest identity.
type PublicCard struct {
	ID         uint64 `json:"id"`
	CardNumber int    `json:"card_number"`
	Status     string `json:"status"`
}

// HostCard is the host-facing projection. Unlock codes are never exposed.
type HostCard struct {
	ID            uint64     `json:"id"`
	CardNumber    int        `json:"card_number"`
	Status        string     `json:"status"`
	Value         int64      `json:"value"`
	GuestEmail    string     `json:"guest_email,omitempty"`
	GuestName     string     `json:"guest_name,omitempty"`
	ReservedUntil *time.Time `json:"reserved_until,omitempty"`
	RevealedAt    *time.Time `json:"revealed_at,omitempty"`
}

// Public projects cards for the public event view. Expired reservations are shown as available.
func Public(list []models.Card, now time.Time) []PublicCard {
	out := make([]PublicCard, 0, len(list))
	for i := range list {
		status := list[i].Status
		if list[i].ReservationExpired(now) {
			status = models.CardStatusAvailable
		}
		out = append(out, PublicCard{ID: list[i].ID, CardNumber: list[i].CardNumber, Status: status})
	}
	return out
}

// ForHost projects cards for the owning host.
func ForHost(list []models.Card) []HostCard {
	out := make([]HostCard, 0, len(list))
	for _, c := range list {
		out = append(out, HostCard{
			ID:            c.ID,
			CardNumber:    c.CardNumber,
			Status:        c.Status,
			Value:         c.Value,
			GuestEmail:    deref(c.GuestEmail),
			GuestName:     deref(c.GuestName),
			ReservedUntil: c.ReservedUntil,
			RevealedAt:    c.RevealedAt,
		})
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
