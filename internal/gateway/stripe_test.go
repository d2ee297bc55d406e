package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStripeCreateSessionEncodesForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk_test_123" {
			t.Errorf("missing bearer key")
		}
		if r.Header.Get("Idempotency-Key") != "checkout-7" {
			t.Errorf("missing idempotency key")
		}
		if errParse := r.ParseForm(); errParse != nil {
			t.Errorf("parse form: %v", errParse)
		}
		checks := map[string]string{
			"mode":                                          "payment",
			"customer_email":                                "a@x.com",
			"line_items[0][price_data][currency]":           "brl",
			"line_items[0][price_data][unit_amount]":        "5000",
			"line_items[0][price_data][product_data][name]": "Contribuição - Chá",
			"line_items[1][price_data][unit_amount]":        "300",
			"metadata[card_id]":                             "7",
			"metadata[type]":                                "card_contribution",
			"success_url":                                   "https://app/success?session_id={CHECKOUT_SESSION_ID}",
		}
		for key, want := range checks {
			if got := r.PostForm.Get(key); got != want {
				t.Errorf("form %s = %q, want %q", key, got, want)
			}
		}
		_, _ = w.Write([]byte(`{"id":"cs_test_1","url":"https://checkout.stripe.com/c/pay/cs_test_1"}`))
	}))
	defer srv.Close()

	client := NewStripeClient(StripeConfig{SecretKey: "sk_test_123", BaseURL: srv.URL}, nil)
	session, err := client.CreateSession(context.Background(), SessionParams{
		Currency:      "brl",
		CustomerEmail: "a@x.com",
		LineItems: []LineItem{
			{Name: "Contribuição - Chá", Description: "Card #7", Amount: 5000},
			{Name: "Taxa da plataforma", Amount: 300},
		},
		Metadata:       map[string]string{"type": "card_contribution", "card_id": "7"},
		SuccessURL:     "https://app/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:      "https://app/cancel",
		IdempotencyKey: "checkout-7",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.ID != "cs_test_1" || session.URL == "" {
		t.Fatalf("unexpected session %+v", session)
	}
}

func TestStripeGetSessionStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/checkout/sessions/cs_paid":
			_, _ = w.Write([]byte(`{"id":"cs_paid","payment_status":"paid","amount_total":5300,"currency":"brl","payment_intent":"pi_1","metadata":{"card_id":"7"},"customer_details":{"email":"a@x.com","name":"Ana"}}`))
		case "/v1/checkout/sessions/cs_open":
			_, _ = w.Write([]byte(`{"id":"cs_open","payment_status":"unpaid","payment_intent":{"id":"pi_2"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such checkout.session"}}`))
		}
	}))
	defer srv.Close()
	client := NewStripeClient(StripeConfig{SecretKey: "sk", BaseURL: srv.URL}, nil)
	ctx := context.Background()

	paid, err := client.GetSessionStatus(ctx, "cs_paid")
	if err != nil {
		t.Fatalf("get paid: %v", err)
	}
	if !paid.Paid || paid.CustomerEmail != "a@x.com" || paid.CustomerName != "Ana" || paid.PaymentIntent != "pi_1" || paid.Metadata["card_id"] != "7" {
		t.Fatalf("unexpected status %+v", paid)
	}

	open, err := client.GetSessionStatus(ctx, "cs_open")
	if err != nil {
		t.Fatalf("get open: %v", err)
	}
	if open.Paid || open.PaymentIntent != "pi_2" {
		t.Fatalf("unexpected status %+v", open)
	}

	if _, err := client.GetSessionStatus(ctx, "cs_missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestStripeCreateTransfer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/transfers" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if errParse := r.ParseForm(); errParse != nil {
			t.Errorf("parse form: %v", errParse)
		}
		if r.PostForm.Get("destination") != "acct_1" || r.PostForm.Get("amount") != "5000" || r.PostForm.Get("currency") != "brl" {
			t.Errorf("unexpected form %v", r.PostForm)
		}
		if r.Header.Get("Idempotency-Key") != "payout-1" {
			t.Errorf("missing idempotency key")
		}
		_, _ = w.Write([]byte(`{"id":"tr_1","object":"transfer"}`))
	}))
	defer srv.Close()
	client := NewStripeClient(StripeConfig{SecretKey: "sk", BaseURL: srv.URL}, nil)

	transfer, err := client.CreateTransfer(context.Background(), TransferParams{
		Destination: "acct_1", Amount: 5000, Currency: "brl", IdempotencyKey: "payout-1",
	})
	if err != nil {
		t.Fatalf("create transfer: %v", err)
	}
	if transfer.ID != "tr_1" {
		t.Fatalf("unexpected transfer %+v", transfer)
	}
	if _, err := client.CreateTransfer(context.Background(), TransferParams{Destination: "acct_1"}); err == nil {
		t.Fatalf("expected error for zero amount")
	}
}

func TestStripeErrorSurfacesMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"type":"card_error","code":"card_declined","message":"Your card was declined."}}`))
	}))
	defer srv.Close()
	client := NewStripeClient(StripeConfig{SecretKey: "sk", BaseURL: srv.URL}, nil)

	_, err := client.CreateSession(context.Background(), SessionParams{Currency: "brl", LineItems: []LineItem{{Name: "x", Amount: 1}}})
	var stripeErr *StripeError
	if !errors.As(err, &stripeErr) {
		t.Fatalf("expected StripeError, got %v", err)
	}
	if stripeErr.Code != "card_declined" || stripeErr.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("unexpected error %+v", stripeErr)
	}
}

func TestStripeGetAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("unexpected method %s", r.Method)
		}
		switch r.URL.Path {
		case "/v1/accounts/acct_1":
			_, _ = w.Write([]byte(`{"id":"acct_1","object":"account","charges_enabled":true,"payouts_enabled":false,"details_submitted":true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such account"}}`))
		}
	}))
	defer srv.Close()
	client := NewStripeClient(StripeConfig{SecretKey: "sk", BaseURL: srv.URL}, nil)
	ctx := context.Background()

	account, err := client.GetAccount(ctx, "acct_1")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.ID != "acct_1" || !account.ChargesEnabled || account.PayoutsEnabled || !account.DetailsSubmitted {
		t.Fatalf("unexpected account %+v", account)
	}
	if _, err := client.GetAccount(ctx, "acct_missing"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if _, err := client.GetAccount(ctx, " "); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound for blank id, got %v", err)
	}
}
