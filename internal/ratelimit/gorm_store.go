package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/contribuicha/cardreveal/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore keeps the attempt ledger in the unlock_attempts table.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore constructs a GormStore.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Record locks the ledger row for key, applies policy and saves the result in one transaction.
func (s *GormStore) Record(ctx context.Context, key Key, policy Policy, now time.Time) (Decision, error) {
	if s == nil || s.db == nil {
		return Decision{}, fmt.Errorf("rate limiter: nil store")
	}
	var decision Decision
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed := models.UnlockAttempt{
			Email:           key.Email,
			EventID:         key.EventID,
			CardNumber:      key.CardNumber,
			WindowStartedAt: now,
		}
		if errCreate := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; errCreate != nil {
			return fmt.Errorf("seed ledger row: %w", errCreate)
		}

		var row models.UnlockAttempt
		if errFind := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("email = ? AND event_id = ? AND card_number = ?", key.Email, key.EventID, key.CardNumber).
			First(&row).Error; errFind != nil {
			return fmt.Errorf("load ledger row: %w", errFind)
		}

		decision = applyPolicy(&row, policy, now)

		if errUpdate := tx.Model(&models.UnlockAttempt{}).
			Where("id = ?", row.ID).
			Updates(map[string]any{
				"attempts":          row.Attempts,
				"window_started_at": row.WindowStartedAt,
				"locked_until":      row.LockedUntil,
				"updated_at":        now,
			}).Error; errUpdate != nil {
			return fmt.Errorf("save ledger row: %w", errUpdate)
		}
		return nil
	})
	if errTx != nil {
		return Decision{}, errTx
	}
	return decision, nil
}

// Reset zeroes the counter and lifts any lockout for key.
func (s *GormStore) Reset(ctx context.Context, key Key, now time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("rate limiter: nil store")
	}
	return s.db.WithContext(ctx).Model(&models.UnlockAttempt{}).
		Where("email = ? AND event_id = ? AND card_number = ?", key.Email, key.EventID, key.CardNumber).
		Updates(map[string]any{
			"attempts":          0,
			"window_started_at": now,
			"locked_until":      nil,
			"updated_at":        now,
		}).Error
}

// applyPolicy mutates row for one new attempt and returns the decision.
// An active lockout leaves the counter untouched.
func applyPolicy(row *models.UnlockAttempt, policy Policy, now time.Time) Decision {
	if row.LockedUntil != nil && now.Before(*row.LockedUntil) {
		until := *row.LockedUntil
		return Decision{Allowed: false, AttemptsRemaining: 0, LockedUntil: &until}
	}
	if row.LockedUntil != nil || row.WindowStartedAt.IsZero() || (policy.Window > 0 && !now.Before(row.WindowStartedAt.Add(policy.Window))) {
		row.Attempts = 0
		row.WindowStartedAt = now
		row.LockedUntil = nil
	}

	row.Attempts++
	if row.Attempts > policy.MaxAttempts {
		until := now.Add(policy.Lockout)
		row.LockedUntil = &until
		return Decision{Allowed: false, AttemptsRemaining: 0, LockedUntil: &until}
	}
	return Decision{Allowed: true, AttemptsRemaining: policy.MaxAttempts - row.Attempts}
}
