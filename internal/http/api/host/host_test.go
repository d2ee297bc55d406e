package host

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/contribuicha/cardreveal/internal/cards"
	"github.com/contribuicha/cardreveal/internal/config"
	internaldb "github.com/contribuicha/cardreveal/internal/db"
	"github.com/contribuicha/cardreveal/internal/events"
	"github.com/contribuicha/cardreveal/internal/gateway"
	"github.com/contribuicha/cardreveal/internal/gateway/gatewaytest"
	"github.com/contribuicha/cardreveal/internal/models"
	"github.com/contribuicha/cardreveal/internal/reconcile"
	"github.com/contribuicha/cardreveal/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const testSecret = "host-test-secret"

type hostFixture struct {
	conn    *gorm.DB
	router  *gin.Engine
	gateway *gatewaytest.Fake
}

func setupHost(t *testing.T) *hostFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:host_%d?mode=memory&cache=shared", time.Now().UnixNano())
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

	machine := cards.NewMachine(conn, nil)
	fake := gatewaytest.NewFake()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	RegisterHostRoutes(router, conn, config.JWTConfig{Secret: testSecret}, events.NewService(conn, machine), reconcile.NewReconciler(conn, machine, fake), fake)
	return &hostFixture{conn: conn, router: router, gateway: fake}
}

func tokenFor(t *testing.T, hostID string) string {
	t.Helper()
	token, err := security.GenerateHostToken(testSecret, hostID, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

func (f *hostFixture) do(t *testing.T, token, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var raw []byte
	if body != nil {
		var errMarshal error
		raw, errMarshal = json.Marshal(body)
		if errMarshal != nil {
			t.Fatalf("marshal body: %v", errMarshal)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	responseRecorder := httptest.NewRecorder()
	f.router.ServeHTTP(responseRecorder, req)

	var payload map[string]any
	if responseRecorder.Body.Len() > 0 {
		if errDecode := json.Unmarshal(responseRecorder.Body.Bytes(), &payload); errDecode != nil {
			t.Fatalf("decode response: %v (%s)", errDecode, responseRecorder.Body.String())
		}
	}
	return responseRecorder, payload
}

func TestHostRoutesRequireToken(t *testing.T) {
	f := setupHost(t)

	responseRecorder, _ := f.do(t, "", http.MethodGet, "/v0/host/events", nil)
	if responseRecorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", responseRecorder.Code)
	}
	responseRecorder, _ = f.do(t, "not-a-jwt", http.MethodGet, "/v0/host/events", nil)
	if responseRecorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", responseRecorder.Code)
	}
}

func TestHostCreatesEventAndCards(t *testing.T) {
	f := setupHost(t)
	token := tokenFor(t, "host-a")

	responseRecorder, payload := f.do(t, token, http.MethodPost, "/v0/host/events", gin.H{"name": "Chá Revelação"})
	if responseRecorder.Code != http.StatusCreated {
		t.Fatalf("create event: %d %s", responseRecorder.Code, responseRecorder.Body.String())
	}
	eventID := uint64(payload["id"].(float64))

	path := fmt.Sprintf("/v0/host/events/%d/cards", eventID)
	responseRecorder, payload = f.do(t, token, http.MethodPost, path, gin.H{"count": 5, "min_value": 1000, "max_value": 3000})
	if responseRecorder.Code != http.StatusCreated {
		t.Fatalf("create cards: %d %s", responseRecorder.Code, responseRecorder.Body.String())
	}
	if list := payload["cards"].([]any); len(list) != 5 {
		t.Fatalf("expected 5 cards, got %d", len(list))
	}

	responseRecorder, _ = f.do(t, token, http.MethodPost, path, gin.H{"count": 5, "min_value": 1000, "max_value": 3000})
	if responseRecorder.Code != http.StatusConflict {
		t.Fatalf("expected conflict on second generation, got %d", responseRecorder.Code)
	}

	other := tokenFor(t, "host-b")
	responseRecorder, _ = f.do(t, other, http.MethodGet, path, nil)
	if responseRecorder.Code != http.StatusNotFound {
		t.Fatalf("expected other host to get 404, got %d", responseRecorder.Code)
	}
}

func TestHostListsCardsWithGuestFilter(t *testing.T) {
	f := setupHost(t)
	token := tokenFor(t, "host-a")
	event := models.Event{HostID: "host-a", Name: "E", Slug: "e", NumCards: 2, MinValue: 100, MaxValue: 100}
	if errCreate := f.conn.Create(&event).Error; errCreate != nil {
		t.Fatalf("create event: %v", errCreate)
	}
	email := "Maria@X.com"
	code := "secret-hash"
	until := time.Now().UTC().Add(time.Hour)
	rows := []models.Card{
		{EventID: event.ID, CardNumber: 1, Status: models.CardStatusReserved, Value: 100, GuestEmail: &email, UnlockCode: &code, ReservedUntil: &until},
		{EventID: event.ID, CardNumber: 2, Status: models.CardStatusAvailable, Value: 100},
	}
	if errCreate := f.conn.Create(&rows).Error; errCreate != nil {
		t.Fatalf("create cards: %v", errCreate)
	}

	responseRecorder, payload := f.do(t, token, http.MethodGet, fmt.Sprintf("/v0/host/events/%d/cards?guest=maria", event.ID), nil)
	if responseRecorder.Code != http.StatusOK {
		t.Fatalf("list cards: %d %s", responseRecorder.Code, responseRecorder.Body.String())
	}
	list := payload["cards"].([]any)
	if len(list) != 1 {
		t.Fatalf("expected one matching card, got %d", len(list))
	}
	card := list[0].(map[string]any)
	if card["guest_email"] != email {
		t.Fatalf("expected guest identity for host, got %v", card)
	}
	if _, leaked := card["unlock_code"]; leaked {
		t.Fatalf("host view leaks unlock code: %v", card)
	}
}

func TestHostPayoutAccountAndReconcile(t *testing.T) {
	f := setupHost(t)
	token := tokenFor(t, "host-a")
	f.gateway.PutAccount(gateway.Account{ID: "acct_1", ChargesEnabled: true, PayoutsEnabled: true, DetailsSubmitted: true})
	f.gateway.PutAccount(gateway.Account{ID: "acct_2"})

	responseRecorder, _ := f.do(t, token, http.MethodGet, "/v0/host/payout-account", nil)
	if responseRecorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before linking, got %d", responseRecorder.Code)
	}
	responseRecorder, _ = f.do(t, token, http.MethodPut, "/v0/host/payout-account", gin.H{"stripe_account_id": "bogus"})
	if responseRecorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad account id, got %d", responseRecorder.Code)
	}
	responseRecorder, payload := f.do(t, token, http.MethodPut, "/v0/host/payout-account", gin.H{"stripe_account_id": "acct_1"})
	if responseRecorder.Code != http.StatusOK {
		t.Fatalf("put payout account: %d %s", responseRecorder.Code, responseRecorder.Body.String())
	}
	if payload["payouts_enabled"] != true || payload["charges_enabled"] != true {
		t.Fatalf("expected flags from gateway, got %v", payload)
	}
	responseRecorder, payload = f.do(t, token, http.MethodPut, "/v0/host/payout-account", gin.H{"stripe_account_id": "acct_2"})
	if responseRecorder.Code != http.StatusOK || payload["stripe_account_id"] != "acct_2" {
		t.Fatalf("update payout account: %d %s", responseRecorder.Code, responseRecorder.Body.String())
	}
	var count int64
	f.conn.Model(&models.HostPayoutAccount{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected a single account row, got %d", count)
	}

	responseRecorder, _ = f.do(t, token, http.MethodPost, "/v0/host/reconcile?window=bad", nil)
	if responseRecorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad window, got %d", responseRecorder.Code)
	}
	responseRecorder, payload = f.do(t, token, http.MethodPost, "/v0/host/reconcile?window=24h", nil)
	if responseRecorder.Code != http.StatusOK {
		t.Fatalf("reconcile: %d %s", responseRecorder.Code, responseRecorder.Body.String())
	}
	if payload["checked"] != float64(0) {
		t.Fatalf("expected empty summary, got %v", payload)
	}
}

func TestHostPayoutAccountIgnoresSelfReportedFlags(t *testing.T) {
	f := setupHost(t)
	token := tokenFor(t, "host-a")

	responseRecorder, _ := f.do(t, token, http.MethodPut, "/v0/host/payout-account", gin.H{"stripe_account_id": "acct_unknown", "payouts_enabled": true})
	if responseRecorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for account unknown to the gateway, got %d", responseRecorder.Code)
	}

	f.gateway.PutAccount(gateway.Account{ID: "acct_new"})
	responseRecorder, payload := f.do(t, token, http.MethodPut, "/v0/host/payout-account", gin.H{
		"stripe_account_id": "acct_new",
		"charges_enabled":   true,
		"payouts_enabled":   true,
		"details_submitted": true,
	})
	if responseRecorder.Code != http.StatusOK {
		t.Fatalf("put payout account: %d %s", responseRecorder.Code, responseRecorder.Body.String())
	}
	if payload["payouts_enabled"] != false || payload["charges_enabled"] != false {
		t.Fatalf("expected body flags to be ignored, got %v", payload)
	}
	var stored models.HostPayoutAccount
	if errFind := f.conn.Where("host_id = ?", "host-a").First(&stored).Error; errFind != nil {
		t.Fatalf("load account: %v", errFind)
	}
	if stored.PayoutsEnabled || stored.ChargesEnabled {
		t.Fatalf("expected stored flags false, got %+v", stored)
	}

	// Onboarding completes on the gateway side.
	f.gateway.PutAccount(gateway.Account{ID: "acct_new", ChargesEnabled: true, PayoutsEnabled: true, DetailsSubmitted: true})
	responseRecorder, payload = f.do(t, token, http.MethodGet, "/v0/host/payout-account", nil)
	if responseRecorder.Code != http.StatusOK || payload["payouts_enabled"] != true {
		t.Fatalf("expected refreshed flags, got %d %v", responseRecorder.Code, payload)
	}
	if errFind := f.conn.Where("host_id = ?", "host-a").First(&stored).Error; errFind != nil {
		t.Fatalf("reload account: %v", errFind)
	}
	if !stored.PayoutsEnabled || !stored.ChargesEnabled || !stored.DetailsSubmitted {
		t.Fatalf("expected refreshed flags persisted, got %+v", stored)
	}

	f.gateway.AccountErr = errors.New("gateway down")
	responseRecorder, payload = f.do(t, token, http.MethodGet, "/v0/host/payout-account", nil)
	if responseRecorder.Code != http.StatusOK || payload["payouts_enabled"] != true {
		t.Fatalf("expected stored flags when gateway fails, got %d %v", responseRecorder.Code, payload)
	}
	responseRecorder, _ = f.do(t, token, http.MethodPut, "/v0/host/payout-account", gin.H{"stripe_account_id": "acct_new"})
	if responseRecorder.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 when gateway fails on link, got %d", responseRecorder.Code)
	}
}

func TestHostListsPayments(t *testing.T) {
	f := setupHost(t)
	token := tokenFor(t, "host-a")
	event := models.Event{HostID: "host-a", Name: "E", Slug: "e", NumCards: 1, MinValue: 100, MaxValue: 100}
	if errCreate := f.conn.Create(&event).Error; errCreate != nil {
		t.Fatalf("create event: %v", errCreate)
	}
	payments := []models.Payment{
		{CardID: 1, EventID: event.ID, Amount: 100, GuestEmail: "a@x.com", Status: models.PaymentStatusPending, StripeSessionID: "cs_1"},
		{CardID: 1, EventID: event.ID, Amount: 100, GuestEmail: "b@x.com", Status: models.PaymentStatusPaid, StripeSessionID: "cs_2"},
	}
	if errCreate := f.conn.Create(&payments).Error; errCreate != nil {
		t.Fatalf("create payments: %v", errCreate)
	}

	responseRecorder, payload := f.do(t, token, http.MethodGet, fmt.Sprintf("/v0/host/events/%d/payments?status=paid", event.ID), nil)
	if responseRecorder.Code != http.StatusOK {
		t.Fatalf("list payments: %d %s", responseRecorder.Code, responseRecorder.Body.String())
	}
	list := payload["payments"].([]any)
	if len(list) != 1 || list[0].(map[string]any)["stripe_session_id"] != "cs_2" {
		t.Fatalf("unexpected payments: %v", list)
	}
}
