// Package cards owns card status transitions. Every write to cards.status goes through Machine,
// and every transition is a conditional UPDATE whose RowsAffected decides the winner.
package cards

import (
	"context"
	"errors"
	"time"

	"github.com/contribuicha/cardreveal/internal/apperr"
	"github.com/contribuicha/cardreveal/internal/metrics"
	"github.com/contribuicha/cardreveal/internal/models"
	"gorm.io/gorm"
)

// Transition labels.
const (
	TransitionReserve  = "available_reserved"
	TransitionExpire   = "reserved_available"
	TransitionRelease  = "reserved_released"
	TransitionReveal   = "reserved_revealed"
	TransitionPaid     = "paid_revealed"
	TransitionAttach   = "reserved_code_attached"
	TransitionDetach   = "reserved_code_detached"
	transitionCheckout = "checkout_reserved"
)

// Machine applies compare-and-set transitions to card rows.
type Machine struct {
	db      *gorm.DB
	metrics *metrics.Metrics
}

// NewMachine constructs a Machine. m may be nil.
func NewMachine(db *gorm.DB, m *metrics.Metrics) *Machine {
	return &Machine{db: db, metrics: m}
}

// WithTx returns a Machine bound to an open transaction.
func (m *Machine) WithTx(tx *gorm.DB) *Machine {
	return &Machine{db: tx, metrics: m.metrics}
}

// FindByNumber loads a card by event and card number.
func (m *Machine) FindByNumber(ctx context.Context, eventID uint64, cardNumber int) (*models.Card, error) {
	var card models.Card
	errFind := m.db.WithContext(ctx).
		Where("event_id = ? AND card_number = ?", eventID, cardNumber).
		First(&card).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound(apperr.ReasonCardNotFound, "card not found")
		}
		return nil, apperr.Internal("load card", errFind)
	}
	return &card, nil
}

// FindByID loads a card by primary key scoped to its event.
func (m *Machine) FindByID(ctx context.Context, eventID, cardID uint64) (*models.Card, error) {
	var card models.Card
	errFind := m.db.WithContext(ctx).
		Where("id = ? AND event_id = ?", cardID, eventID).
		First(&card).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound(apperr.ReasonCardNotFound, "card not found")
		}
		return nil, apperr.Internal("load card", errFind)
	}
	return &card, nil
}

// ListByEvent returns all cards of an event ordered by number.
func (m *Machine) ListByEvent(ctx context.Context, eventID uint64) ([]models.Card, error) {
	var cards []models.Card
	if errFind := m.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("card_number ASC").
		Find(&cards).Error; errFind != nil {
		return nil, apperr.Internal("list cards", errFind)
	}
	return cards, nil
}

// Reserve moves an available card to reserved with an unlock code hash.
func (m *Machine) Reserve(ctx context.Context, cardID uint64, email, codeHash string, until time.Time) (bool, error) {
	return m.apply(ctx, TransitionReserve,
		m.db.WithContext(ctx).Model(&models.Card{}).
			Where("id = ? AND status = ?", cardID, models.CardStatusAvailable),
		map[string]any{
			"status":         models.CardStatusReserved,
			"unlock_code":    codeHash,
			"guest_email":    email,
			"reserved_until": until,
		})
}

// ReserveForCheckout reserves a card for a paying guest. A card already reserved by the same
// email is refreshed so a retried checkout keeps working. Any issued code is left in place.
func (m *Machine) ReserveForCheckout(ctx context.Context, cardID uint64, email, name string, until time.Time) (bool, error) {
	return m.apply(ctx, transitionCheckout,
		m.db.WithContext(ctx).Model(&models.Card{}).
			Where("id = ? AND (status = ? OR (status = ? AND guest_email = ?))",
				cardID, models.CardStatusAvailable, models.CardStatusReserved, email),
		map[string]any{
			"status":         models.CardStatusReserved,
			"guest_email":    email,
			"guest_name":     name,
			"reserved_until": until,
		})
}

// AttachCode gives a live code-less reservation held by email an unlock code hash and a new deadline.
func (m *Machine) AttachCode(ctx context.Context, cardID uint64, email, codeHash string, now, until time.Time) (bool, error) {
	return m.apply(ctx, TransitionAttach,
		m.db.WithContext(ctx).Model(&models.Card{}).
			Where("id = ? AND status = ? AND guest_email = ? AND unlock_code IS NULL AND reserved_until > ?",
				cardID, models.CardStatusReserved, email, now),
		map[string]any{
			"unlock_code":    codeHash,
			"reserved_until": until,
		})
}

// DetachCode removes codeHash from a reservation held by email, leaving the reservation in place.
func (m *Machine) DetachCode(ctx context.Context, cardID uint64, email, codeHash string) (bool, error) {
	return m.apply(ctx, TransitionDetach,
		m.db.WithContext(ctx).Model(&models.Card{}).
			Where("id = ? AND status = ? AND guest_email = ? AND unlock_code = ?",
				cardID, models.CardStatusReserved, email, codeHash),
		map[string]any{"unlock_code": nil})
}

// ExpireReservation returns a reserved card whose deadline has passed to available.
func (m *Machine) ExpireReservation(ctx context.Context, cardID uint64, now time.Time) (bool, error) {
	return m.apply(ctx, TransitionExpire,
		m.db.WithContext(ctx).Model(&models.Card{}).
			Where("id = ? AND status = ? AND reserved_until <= ?", cardID, models.CardStatusReserved, now),
		clearedReservation())
}

// ReleaseReservation undoes a reservation made with codeHash by email.
func (m *Machine) ReleaseReservation(ctx context.Context, cardID uint64, email, codeHash string) (bool, error) {
	return m.apply(ctx, TransitionRelease,
		m.db.WithContext(ctx).Model(&models.Card{}).
			Where("id = ? AND status = ? AND guest_email = ? AND unlock_code = ?",
				cardID, models.CardStatusReserved, email, codeHash),
		clearedReservation())
}

// ReleaseCheckoutReservation undoes a code-less reservation taken by email for checkout.
func (m *Machine) ReleaseCheckoutReservation(ctx context.Context, cardID uint64, email string) (bool, error) {
	return m.apply(ctx, TransitionRelease,
		m.db.WithContext(ctx).Model(&models.Card{}).
			Where("id = ? AND status = ? AND guest_email = ? AND unlock_code IS NULL",
				cardID, models.CardStatusReserved, email),
		clearedReservation())
}

// RevealWithCode reveals a card whose live reservation matches email and codeHash.
func (m *Machine) RevealWithCode(ctx context.Context, cardID uint64, email, codeHash string, now time.Time) (bool, error) {
	return m.apply(ctx, TransitionReveal,
		m.db.WithContext(ctx).Model(&models.Card{}).
			Where("id = ? AND status = ? AND guest_email = ? AND unlock_code = ? AND reserved_until > ?",
				cardID, models.CardStatusReserved, email, codeHash, now),
		map[string]any{
			"status":         models.CardStatusRevealed,
			"revealed_at":    now,
			"unlock_code":    nil,
			"reserved_until": nil,
		})
}

// RevealPaid reveals a card for the guest who paid for it. A revealed card is left untouched
// and reported as false.
func (m *Machine) RevealPaid(ctx context.Context, cardID uint64, email, name string, now time.Time) (bool, error) {
	updates := map[string]any{
		"status":         models.CardStatusRevealed,
		"revealed_at":    now,
		"unlock_code":    nil,
		"reserved_until": nil,
		"guest_email":    email,
	}
	if name != "" {
		updates["guest_name"] = name
	}
	return m.apply(ctx, TransitionPaid,
		m.db.WithContext(ctx).Model(&models.Card{}).
			Where("id = ? AND status <> ?", cardID, models.CardStatusRevealed),
		updates)
}

func (m *Machine) apply(ctx context.Context, transition string, scoped *gorm.DB, updates map[string]any) (bool, error) {
	res := scoped.Updates(updates)
	if res.Error != nil {
		return false, apperr.Internal("card transition "+transition, res.Error)
	}
	if res.RowsAffected != 1 {
		return false, nil
	}
	m.metrics.CardTransition(transition)
	return true, nil
}

func clearedReservation() map[string]any {
	return map[string]any{
		"status":         models.CardStatusAvailable,
		"unlock_code":    nil,
		"guest_email":    nil,
		"guest_name":     nil,
		"reserved_until": nil,
	}
}
