package cards

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/contribuicha/cardreveal/internal/apperr"
	"github.com/contribuicha/cardreveal/internal/models"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupCardsDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:cards_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	sqlDB, errDB := conn.DB()
	if errDB != nil {
		t.Fatalf("sql db: %v", errDB)
	}
	sqlDB.SetMaxOpenConns(1)
	if errMigrate := conn.AutoMigrate(&models.Card{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func seedCard(t *testing.T, conn *gorm.DB, number int, value int64) models.Card {
	t.Helper()
	card := models.Card{EventID: 1, CardNumber: number, Status: models.CardStatusAvailable, Value: value}
	if errCreate := conn.Create(&card).Error; errCreate != nil {
		t.Fatalf("seed card: %v", errCreate)
	}
	return card
}

func reload(t *testing.T, conn *gorm.DB, id uint64) models.Card {
	t.Helper()
	var card models.Card
	if errFind := conn.First(&card, id).Error; errFind != nil {
		t.Fatalf("reload card: %v", errFind)
	}
	return card
}

func TestReserveOnlyFromAvailable(t *testing.T) {
	conn := setupCardsDB(t)
	machine := NewMachine(conn, nil)
	ctx := context.Background()
	card := seedCard(t, conn, 7, 5000)
	until := time.Now().UTC().Add(time.Hour)

	ok, err := machine.Reserve(ctx, card.ID, "a@x.com", "hash-a", until)
	if err != nil || !ok {
		t.Fatalf("first reserve: ok=%v err=%v", ok, err)
	}
	ok, err = machine.Reserve(ctx, card.ID, "b@x.com", "hash-b", until)
	if err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if ok {
		t.Fatalf("second reserve must lose the race")
	}

	got := reload(t, conn, card.ID)
	if got.Status != models.CardStatusReserved || got.GuestEmail == nil || *got.GuestEmail != "a@x.com" {
		t.Fatalf("unexpected card after reserve %+v", got)
	}
	if got.UnlockCode == nil || *got.UnlockCode != "hash-a" {
		t.Fatalf("expected code hash stored")
	}
}

func TestConcurrentReserveHasSingleWinner(t *testing.T) {
	conn := setupCardsDB(t)
	machine := NewMachine(conn, nil)
	card := seedCard(t, conn, 7, 5000)
	until := time.Now().UTC().Add(time.Hour)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := machine.Reserve(context.Background(), card.ID, fmt.Sprintf("g%d@x.com", i), fmt.Sprintf("h%d", i), until)
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("wins = %d, want 1", wins.Load())
	}
}

func TestRevealWithCodeRequiresLiveMatchingReservation(t *testing.T) {
	conn := setupCardsDB(t)
	machine := NewMachine(conn, nil)
	ctx := context.Background()
	card := seedCard(t, conn, 7, 5000)
	now := time.Now().UTC()

	if _, err := machine.Reserve(ctx, card.ID, "a@x.com", "hash-a", now.Add(time.Hour)); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if ok, _ := machine.RevealWithCode(ctx, card.ID, "b@x.com", "hash-a", now); ok {
		t.Fatalf("reveal with wrong email succeeded")
	}
	if ok, _ := machine.RevealWithCode(ctx, card.ID, "a@x.com", "hash-b", now); ok {
		t.Fatalf("reveal with wrong code succeeded")
	}
	if ok, _ := machine.RevealWithCode(ctx, card.ID, "a@x.com", "hash-a", now.Add(2*time.Hour)); ok {
		t.Fatalf("reveal after expiry succeeded")
	}
	ok, err := machine.RevealWithCode(ctx, card.ID, "a@x.com", "hash-a", now)
	if err != nil || !ok {
		t.Fatalf("reveal: ok=%v err=%v", ok, err)
	}

	got := reload(t, conn, card.ID)
	if got.Status != models.CardStatusRevealed || got.RevealedAt == nil {
		t.Fatalf("expected revealed card, got %+v", got)
	}
	if got.UnlockCode != nil {
		t.Fatalf("unlock code must be cleared on reveal")
	}
	if got.Value != 5000 {
		t.Fatalf("value changed: %d", got.Value)
	}
}

func TestRevealedIsTerminal(t *testing.T) {
	conn := setupCardsDB(t)
	machine := NewMachine(conn, nil)
	ctx := context.Background()
	card := seedCard(t, conn, 7, 5000)
	now := time.Now().UTC()

	if _, err := machine.Reserve(ctx, card.ID, "a@x.com", "hash-a", now.Add(time.Hour)); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if ok, _ := machine.RevealWithCode(ctx, card.ID, "a@x.com", "hash-a", now); !ok {
		t.Fatalf("reveal failed")
	}

	if ok, _ := machine.Reserve(ctx, card.ID, "b@x.com", "hash-b", now.Add(time.Hour)); ok {
		t.Fatalf("revealed card was reserved")
	}
	if ok, _ := machine.ExpireReservation(ctx, card.ID, now.Add(48*time.Hour)); ok {
		t.Fatalf("revealed card was expired")
	}
	if ok, _ := machine.ReleaseReservation(ctx, card.ID, "a@x.com", "hash-a"); ok {
		t.Fatalf("revealed card was released")
	}
	if ok, _ := machine.ReserveForCheckout(ctx, card.ID, "a@x.com", "A", now.Add(time.Hour)); ok {
		t.Fatalf("revealed card was reserved for checkout")
	}
	if ok, _ := machine.RevealPaid(ctx, card.ID, "c@x.com", "C", now); ok {
		t.Fatalf("revealed card was revealed twice")
	}
	if got := reload(t, conn, card.ID); got.Status != models.CardStatusRevealed || *got.GuestEmail != "a@x.com" {
		t.Fatalf("revealed card mutated: %+v", got)
	}
}

func TestExpireReservationOnlyAfterDeadline(t *testing.T) {
	conn := setupCardsDB(t)
	machine := NewMachine(conn, nil)
	ctx := context.Background()
	card := seedCard(t, conn, 7, 5000)
	now := time.Now().UTC()

	if _, err := machine.Reserve(ctx, card.ID, "a@x.com", "hash-a", now.Add(time.Hour)); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if ok, _ := machine.ExpireReservation(ctx, card.ID, now); ok {
		t.Fatalf("live reservation expired")
	}
	ok, err := machine.ExpireReservation(ctx, card.ID, now.Add(2*time.Hour))
	if err != nil || !ok {
		t.Fatalf("expire: ok=%v err=%v", ok, err)
	}
	got := reload(t, conn, card.ID)
	if got.Status != models.CardStatusAvailable || got.UnlockCode != nil || got.GuestEmail != nil || got.ReservedUntil != nil {
		t.Fatalf("expected cleared available card, got %+v", got)
	}
}

func TestReserveForCheckoutAllowsSameGuestRetry(t *testing.T) {
	conn := setupCardsDB(t)
	machine := NewMachine(conn, nil)
	ctx := context.Background()
	card := seedCard(t, conn, 3, 2000)
	until := time.Now().UTC().Add(time.Hour)

	if ok, err := machine.ReserveForCheckout(ctx, card.ID, "a@x.com", "Ana", until); err != nil || !ok {
		t.Fatalf("first checkout reserve: ok=%v err=%v", ok, err)
	}
	if ok, err := machine.ReserveForCheckout(ctx, card.ID, "a@x.com", "Ana", until); err != nil || !ok {
		t.Fatalf("retry by same guest: ok=%v err=%v", ok, err)
	}
	if ok, _ := machine.ReserveForCheckout(ctx, card.ID, "b@x.com", "Bia", until); ok {
		t.Fatalf("other guest reserved a held card")
	}

	if ok, _ := machine.ReleaseCheckoutReservation(ctx, card.ID, "b@x.com"); ok {
		t.Fatalf("other guest released a held card")
	}
	if ok, err := machine.ReleaseCheckoutReservation(ctx, card.ID, "a@x.com"); err != nil || !ok {
		t.Fatalf("release checkout reservation: ok=%v err=%v", ok, err)
	}
	if got := reload(t, conn, card.ID); got.Status != models.CardStatusAvailable || got.GuestEmail != nil {
		t.Fatalf("expected released card, got %+v", got)
	}
}

func TestRevealPaidCopiesGuestIdentity(t *testing.T) {
	conn := setupCardsDB(t)
	machine := NewMachine(conn, nil)
	ctx := context.Background()
	card := seedCard(t, conn, 3, 2000)
	now := time.Now().UTC()

	if _, err := machine.ReserveForCheckout(ctx, card.ID, "a@x.com", "Ana", now.Add(time.Hour)); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	ok, err := machine.RevealPaid(ctx, card.ID, "a@x.com", "Ana Souza", now)
	if err != nil || !ok {
		t.Fatalf("reveal paid: ok=%v err=%v", ok, err)
	}
	got := reload(t, conn, card.ID)
	if got.Status != models.CardStatusRevealed || got.GuestName == nil || *got.GuestName != "Ana Souza" {
		t.Fatalf("unexpected card %+v", got)
	}
	ok, err = machine.RevealPaid(ctx, card.ID, "a@x.com", "Ana Souza", now)
	if err != nil || ok {
		t.Fatalf("second reveal paid should be a no-op: ok=%v err=%v", ok, err)
	}
}

func TestFindByNumberNotFound(t *testing.T) {
	conn := setupCardsDB(t)
	machine := NewMachine(conn, nil)

	_, err := machine.FindByNumber(context.Background(), 1, 99)
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPublicViewRedactsGuestData(t *testing.T) {
	email := "a@x.com"
	code := "hash"
	past := time.Now().UTC().Add(-time.Minute)
	list := []models.Card{
		{ID: 1, CardNumber: 1, Status: models.CardStatusReserved, GuestEmail: &email, UnlockCode: &code, ReservedUntil: &past},
		{ID: 2, CardNumber: 2, Status: models.CardStatusRevealed, GuestEmail: &email},
	}
	out := Public(list, time.Now().UTC())
	if out[0].Status != models.CardStatusAvailable {
		t.Fatalf("expired reservation should display as available, got %s", out[0].Status)
	}
	if out[1].Status != models.CardStatusRevealed {
		t.Fatalf("unexpected status %s", out[1].Status)
	}
}

func TestAttachCodeOnlyToOwnCodelessReservation(t *testing.T) {
	conn := setupCardsDB(t)
	machine := NewMachine(conn, nil)
	ctx := context.Background()
	card := seedCard(t, conn, 4, 2500)
	now := time.Now().UTC()

	if ok, err := machine.AttachCode(ctx, card.ID, "a@x.com", "hash-a", now, now.Add(time.Hour)); err != nil || ok {
		t.Fatalf("expected attach to fail on an available card: ok=%v err=%v", ok, err)
	}
	if ok, err := machine.ReserveForCheckout(ctx, card.ID, "a@x.com", "Ana", now.Add(10*time.Minute)); err != nil || !ok {
		t.Fatalf("reserve for checkout: ok=%v err=%v", ok, err)
	}
	if ok, err := machine.AttachCode(ctx, card.ID, "b@x.com", "hash-b", now, now.Add(time.Hour)); err != nil || ok {
		t.Fatalf("expected attach by another email to fail: ok=%v err=%v", ok, err)
	}
	if ok, err := machine.AttachCode(ctx, card.ID, "a@x.com", "hash-a", now.Add(11*time.Minute), now.Add(time.Hour)); err != nil || ok {
		t.Fatalf("expected attach after the deadline to fail: ok=%v err=%v", ok, err)
	}
	if ok, err := machine.AttachCode(ctx, card.ID, "a@x.com", "hash-a", now, now.Add(time.Hour)); err != nil || !ok {
		t.Fatalf("expected attach to succeed: ok=%v err=%v", ok, err)
	}
	if ok, err := machine.AttachCode(ctx, card.ID, "a@x.com", "hash-c", now, now.Add(time.Hour)); err != nil || ok {
		t.Fatalf("expected second attach to fail: ok=%v err=%v", ok, err)
	}
	got := reload(t, conn, card.ID)
	if got.UnlockCode == nil || *got.UnlockCode != "hash-a" || got.ReservedUntil == nil || !got.ReservedUntil.After(now.Add(30*time.Minute)) {
		t.Fatalf("unexpected card after attach: %+v", got)
	}

	if ok, err := machine.DetachCode(ctx, card.ID, "a@x.com", "hash-other"); err != nil || ok {
		t.Fatalf("expected detach with a different hash to fail: ok=%v err=%v", ok, err)
	}
	if ok, err := machine.DetachCode(ctx, card.ID, "a@x.com", "hash-a"); err != nil || !ok {
		t.Fatalf("expected detach to succeed: ok=%v err=%v", ok, err)
	}
	got = reload(t, conn, card.ID)
	if got.Status != models.CardStatusReserved || got.UnlockCode != nil || got.GuestEmail == nil {
		t.Fatalf("expected code-less reservation after detach: %+v", got)
	}
}
