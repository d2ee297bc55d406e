package db

import (
	"fmt"

	"github.com/contribuicha/cardreveal/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates the schema for all persisted models.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errMigrate := conn.AutoMigrate(
		&models.Event{},
		&models.Card{},
		&models.Payment{},
		&models.UnlockAttempt{},
		&models.HostPayoutAccount{},
		&models.Setting{},
	); errMigrate != nil {
		return fmt.Errorf("db: auto migrate: %w", errMigrate)
	}

	// Reconciliation scans pending payments by age.
	if errIndex := conn.Exec(
		"CREATE INDEX IF NOT EXISTS idx_payments_status_created_at ON payments (status, created_at)",
	).Error; errIndex != nil {
		return fmt.Errorf("db: create payments status index: %w", errIndex)
	}
	// Lazy expiry looks up reserved cards by deadline.
	if errIndex := conn.Exec(
		"CREATE INDEX IF NOT EXISTS idx_cards_status_reserved_until ON cards (status, reserved_until)",
	).Error; errIndex != nil {
		return fmt.Errorf("db: create cards reservation index: %w", errIndex)
	}
	// At most one paid payment per card.
	if errIndex := conn.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_card_paid ON payments (card_id) WHERE status = 'paid'",
	).Error; errIndex != nil {
		return fmt.Errorf("db: create paid payment index: %w", errIndex)
	}
	return nil
}
