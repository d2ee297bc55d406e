package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/contribuicha/cardreveal/internal/apperr"
	"github.com/contribuicha/cardreveal/internal/cards"
	internaldb "github.com/contribuicha/cardreveal/internal/db"
	"github.com/contribuicha/cardreveal/internal/events"
	"github.com/contribuicha/cardreveal/internal/gateway/gatewaytest"
	"github.com/contribuicha/cardreveal/internal/models"
	"github.com/contribuicha/cardreveal/internal/reconcile"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type fixture struct {
	conn    *gorm.DB
	gateway *gatewaytest.Fake
	service *Service
	event   models.Event
	card    models.Card
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:checkout_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	sqlDB, errDB := conn.DB()
	if errDB != nil {
		t.Fatalf("sql db: %v", errDB)
	}
	sqlDB.SetMaxOpenConns(1)
	if errMigrate := internaldb.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	event := models.Event{HostID: "host-1", Name: "Chá do Léo", Slug: "cha-do-leo", NumCards: 5, MinValue: 1000, MaxValue: 5000}
	if errCreate := conn.Create(&event).Error; errCreate != nil {
		t.Fatalf("create event: %v", errCreate)
	}
	card := models.Card{EventID: event.ID, CardNumber: 3, Status: models.CardStatusAvailable, Value: 2500}
	if errCreate := conn.Create(&card).Error; errCreate != nil {
		t.Fatalf("create card: %v", errCreate)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	machine := cards.NewMachine(conn, nil)
	fake := gatewaytest.NewFake()
	service := NewService(conn, machine, events.NewService(conn, machine), fake, Config{
		PublicBaseURL: "https://contribuicha.test/",
		SuccessPath:   "/events/{slug}/success?session_id={CHECKOUT_SESSION_ID}",
		CancelPath:    "/events/{slug}",
	}, WithClock(func() time.Time { return now }))
	return &fixture{conn: conn, gateway: fake, service: service, event: event, card: card, now: now}
}

func (f *fixture) reloadCard(t *testing.T) models.Card {
	t.Helper()
	var card models.Card
	if errFind := f.conn.First(&card, f.card.ID).Error; errFind != nil {
		t.Fatalf("reload card: %v", errFind)
	}
	return card
}

func TestStartCheckoutOpensSessionAndPersistsPayment(t *testing.T) {
	f := newFixture(t)

	result, err := f.service.StartCheckout(context.Background(), f.card.ID, f.event.ID, "  ", "Guest@X.com")
	if err != nil {
		t.Fatalf("start checkout: %v", err)
	}
	if result.SessionID == "" || !strings.Contains(result.SessionURL, result.SessionID) {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Fee != 300 || result.Amount != 2800 {
		t.Fatalf("expected amount 2800 with fee 300, got %+v", result)
	}

	params := f.gateway.Created[0]
	if params.Currency != "brl" || params.CustomerEmail != "guest@x.com" {
		t.Fatalf("unexpected session params: %+v", params)
	}
	if len(params.LineItems) != 2 || params.LineItems[0].Amount != 2500 || params.LineItems[1].Amount != 300 {
		t.Fatalf("unexpected line items: %+v", params.LineItems)
	}
	if params.Metadata["type"] != MetadataType || params.Metadata["card_id"] != fmt.Sprint(f.card.ID) ||
		params.Metadata["event_id"] != fmt.Sprint(f.event.ID) || params.Metadata["amount"] != "2500" {
		t.Fatalf("unexpected metadata: %v", params.Metadata)
	}
	if params.SuccessURL != "https://contribuicha.test/events/cha-do-leo/success?session_id={CHECKOUT_SESSION_ID}" {
		t.Fatalf("unexpected success url: %s", params.SuccessURL)
	}
	if params.CancelURL != "https://contribuicha.test/events/cha-do-leo" {
		t.Fatalf("unexpected cancel url: %s", params.CancelURL)
	}

	var payment models.Payment
	if errFind := f.conn.Where("stripe_session_id = ?", result.SessionID).First(&payment).Error; errFind != nil {
		t.Fatalf("load payment: %v", errFind)
	}
	if payment.Status != models.PaymentStatusPending || payment.Amount != 2500 || payment.TransactionFee != 300 {
		t.Fatalf("unexpected payment: %+v", payment)
	}
	if payment.GuestName != DefaultGuestName || payment.GuestEmail != "guest@x.com" {
		t.Fatalf("unexpected guest identity: %+v", payment)
	}

	card := f.reloadCard(t)
	if card.Status != models.CardStatusReserved || card.UnlockCode != nil {
		t.Fatalf("expected code-less reservation, got %+v", card)
	}
}

func TestStartCheckoutRetryBySameGuest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.service.StartCheckout(ctx, f.card.ID, f.event.ID, "Ana", "a@x.com"); err != nil {
		t.Fatalf("first checkout: %v", err)
	}
	if _, err := f.service.StartCheckout(ctx, f.card.ID, f.event.ID, "Ana", "a@x.com"); err != nil {
		t.Fatalf("retry checkout: %v", err)
	}
	_, err := f.service.StartCheckout(ctx, f.card.ID, f.event.ID, "Bia", "b@x.com")
	if appErr, ok := apperr.As(err); !ok || appErr.Reason != apperr.ReasonReservedByOther {
		t.Fatalf("expected reserved_by_other, got %v", err)
	}
}

func TestStartCheckoutErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.StartCheckout(ctx, f.card.ID, f.event.ID, "Ana", "nope")
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = f.service.StartCheckout(ctx, f.card.ID+100, f.event.ID, "Ana", "a@x.com")
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	zero := models.Card{EventID: f.event.ID, CardNumber: 4, Status: models.CardStatusAvailable, Value: 0}
	if errCreate := f.conn.Create(&zero).Error; errCreate != nil {
		t.Fatalf("create card: %v", errCreate)
	}
	_, err = f.service.StartCheckout(ctx, zero.ID, f.event.ID, "Ana", "a@x.com")
	if appErr, ok := apperr.As(err); !ok || appErr.Reason != apperr.ReasonInvalidAmount {
		t.Fatalf("expected invalid_amount, got %v", err)
	}

	if errUpdate := f.conn.Model(&models.Card{}).Where("id = ?", f.card.ID).Update("status", models.CardStatusRevealed).Error; errUpdate != nil {
		t.Fatalf("update: %v", errUpdate)
	}
	_, err = f.service.StartCheckout(ctx, f.card.ID, f.event.ID, "Ana", "a@x.com")
	if !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestStartCheckoutReleasesCardWhenGatewayFails(t *testing.T) {
	f := newFixture(t)
	f.gateway.CreateErr = errors.New("gateway down")

	_, err := f.service.StartCheckout(context.Background(), f.card.ID, f.event.ID, "Ana", "a@x.com")
	if appErr, ok := apperr.As(err); !ok || appErr.Kind != apperr.KindUpstream || appErr.Reason != apperr.ReasonGatewayFailed {
		t.Fatalf("expected gateway_failed, got %v", err)
	}
	if card := f.reloadCard(t); card.Status != models.CardStatusAvailable {
		t.Fatalf("expected card released, got %s", card.Status)
	}
	var count int64
	f.conn.Model(&models.Payment{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected no payment rows, got %d", count)
	}
}

func TestStartCheckoutTakesExpiredReservation(t *testing.T) {
	f := newFixture(t)
	past := f.now.Add(-time.Minute)
	other := "old@x.com"
	hash := "hash"
	if errUpdate := f.conn.Model(&models.Card{}).Where("id = ?", f.card.ID).Updates(map[string]any{
		"status":         models.CardStatusReserved,
		"guest_email":    other,
		"unlock_code":    hash,
		"reserved_until": past,
	}).Error; errUpdate != nil {
		t.Fatalf("update: %v", errUpdate)
	}

	if _, err := f.service.StartCheckout(context.Background(), f.card.ID, f.event.ID, "Ana", "a@x.com"); err != nil {
		t.Fatalf("start checkout: %v", err)
	}
	card := f.reloadCard(t)
	if card.GuestEmail == nil || *card.GuestEmail != "a@x.com" || card.UnlockCode != nil {
		t.Fatalf("expected fresh reservation for a@x.com, got %+v", card)
	}
}

func TestStartCheckoutSucceedsWhenPaymentInsertFails(t *testing.T) {
	f := newFixture(t)
	failInsert := true
	if errRegister := f.conn.Callback().Create().Before("gorm:create").Register("test:fail_payment_insert", func(db *gorm.DB) {
		if failInsert && db.Statement.Table == "payments" {
			_ = db.AddError(errors.New("payments insert failed"))
		}
	}); errRegister != nil {
		t.Fatalf("register callback: %v", errRegister)
	}

	result, err := f.service.StartCheckout(context.Background(), f.card.ID, f.event.ID, "Ana", "a@x.com")
	if err != nil {
		t.Fatalf("start checkout: %v", err)
	}
	if result.SessionID == "" || !strings.Contains(result.SessionURL, result.SessionID) {
		t.Fatalf("expected session url despite insert failure, got %+v", result)
	}
	var count int64
	f.conn.Model(&models.Payment{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected no payment rows while inserts fail, got %d", count)
	}
	if card := f.reloadCard(t); card.Status != models.CardStatusReserved {
		t.Fatalf("expected card held for checkout, got %s", card.Status)
	}

	failInsert = false
	f.gateway.MarkPaid(result.SessionID, "Ana")
	reconciler := reconcile.NewReconciler(f.conn, cards.NewMachine(f.conn, nil), f.gateway, reconcile.WithClock(func() time.Time { return f.now }))
	outcome, err := reconciler.ReconcileSession(context.Background(), result.SessionID)
	if err != nil {
		t.Fatalf("reconcile session: %v", err)
	}
	if !outcome.Paid || !outcome.PaymentUpdated || !outcome.CardUpdated || outcome.CardID != f.card.ID {
		t.Fatalf("unexpected outcome %+v", outcome)
	}

	var payment models.Payment
	if errFind := f.conn.Where("stripe_session_id = ?", result.SessionID).First(&payment).Error; errFind != nil {
		t.Fatalf("expected rebuilt payment: %v", errFind)
	}
	if payment.Status != models.PaymentStatusPaid || payment.Amount != f.card.Value || payment.EventID != f.event.ID || payment.GuestEmail != "a@x.com" {
		t.Fatalf("unexpected rebuilt payment %+v", payment)
	}
	card := f.reloadCard(t)
	if card.Status != models.CardStatusRevealed || card.GuestEmail == nil || *card.GuestEmail != "a@x.com" {
		t.Fatalf("expected card revealed to a@x.com, got %+v", card)
	}
}
