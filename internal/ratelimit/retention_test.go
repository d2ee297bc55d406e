package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/contribuicha/cardreveal/internal/models"
)

func TestRetentionCleanerDeletesIdleRows(t *testing.T) {
	conn := setupLimiterDB(t)
	now := time.Now().UTC()
	old := now.AddDate(0, 0, -30)
	future := now.Add(time.Hour)

	rows := []models.UnlockAttempt{
		{Email: "old@x.com", EventID: 1, CardNumber: 1, Attempts: 2, WindowStartedAt: old},
		{Email: "locked@x.com", EventID: 1, CardNumber: 2, Attempts: 6, WindowStartedAt: old, LockedUntil: &future},
		{Email: "fresh@x.com", EventID: 1, CardNumber: 3, Attempts: 1, WindowStartedAt: now},
	}
	if errCreate := conn.Create(&rows).Error; errCreate != nil {
		t.Fatalf("seed: %v", errCreate)
	}
	if errUpdate := conn.Model(&models.UnlockAttempt{}).
		Where("email IN ?", []string{"old@x.com", "locked@x.com"}).
		UpdateColumn("updated_at", old).Error; errUpdate != nil {
		t.Fatalf("age rows: %v", errUpdate)
	}

	cleaner := NewRetentionCleaner(conn)
	if deleted := cleaner.CleanupOnce(context.Background()); deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}

	var remaining []string
	if errPluck := conn.Model(&models.UnlockAttempt{}).Order("email").Pluck("email", &remaining).Error; errPluck != nil {
		t.Fatalf("pluck: %v", errPluck)
	}
	if len(remaining) != 2 || remaining[0] != "fresh@x.com" || remaining[1] != "locked@x.com" {
		t.Fatalf("unexpected remaining rows %v", remaining)
	}
}
