package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/contribuicha/cardreveal/internal/metrics"
	log "github.com/sirupsen/logrus"
)

const maxErrorBodyBytes = 512

// StripeConfig configures StripeClient.
type StripeConfig struct {
	SecretKey string
	BaseURL   string
	Timeout   time.Duration
}

// StripeClient implements Gateway against the Stripe REST API using form-encoded requests.
type StripeClient struct {
	secretKey string
	baseURL   string
	client    *http.Client
	metrics   *metrics.Metrics
}

// NewStripeClient constructs a StripeClient. m may be nil.
func NewStripeClient(cfg StripeConfig, m *metrics.Metrics) *StripeClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.stripe.com"
	}
	return &StripeClient{
		secretKey: cfg.SecretKey,
		baseURL:   baseURL,
		client:    &http.Client{Timeout: timeout},
		metrics:   m,
	}
}

// StripeError is a non-2xx reply from Stripe.
type StripeError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
}

func (e *StripeError) Error() string {
	return fmt.Sprintf("gateway: stripe status=%d type=%s code=%s: %s", e.StatusCode, e.Type, e.Code, e.Message)
}

type stripeSession struct {
	ID              string            `json:"id"`
	URL             string            `json:"url"`
	PaymentStatus   string            `json:"payment_status"`
	Status          string            `json:"status"`
	CustomerEmail   string            `json:"customer_email"`
	AmountTotal     int64             `json:"amount_total"`
	Currency        string            `json:"currency"`
	PaymentIntent   json.RawMessage   `json:"payment_intent"`
	Metadata        map[string]string `json:"metadata"`
	CustomerDetails *struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"customer_details"`
}

// CreateSession opens a one-off payment checkout session.
func (c *StripeClient) CreateSession(ctx context.Context, params SessionParams) (session Session, err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveUpstream("stripe", "create_session", err, time.Since(start)) }()

	if len(params.LineItems) == 0 {
		return Session{}, errors.New("gateway: session needs at least one line item")
	}
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", params.SuccessURL)
	form.Set("cancel_url", params.CancelURL)
	if params.CustomerEmail != "" {
		form.Set("customer_email", params.CustomerEmail)
	}
	for i, item := range params.LineItems {
		prefix := fmt.Sprintf("line_items[%d]", i)
		form.Set(prefix+"[quantity]", "1")
		form.Set(prefix+"[price_data][currency]", params.Currency)
		form.Set(prefix+"[price_data][unit_amount]", strconv.FormatInt(item.Amount, 10))
		form.Set(prefix+"[price_data][product_data][name]", item.Name)
		if item.Description != "" {
			form.Set(prefix+"[price_data][product_data][description]", item.Description)
		}
	}
	setMetadata(form, "metadata", params.Metadata)
	setMetadata(form, "payment_intent_data[metadata]", params.Metadata)

	var out stripeSession
	if errDo := c.do(ctx, http.MethodPost, "/v1/checkout/sessions", form, params.IdempotencyKey, &out); errDo != nil {
		return Session{}, errDo
	}
	if out.ID == "" || out.URL == "" {
		return Session{}, errors.New("gateway: stripe returned a session without id or url")
	}
	return Session{ID: out.ID, URL: out.URL}, nil
}

// GetSessionStatus retrieves a checkout session. A session is paid when payment_status is "paid".
func (c *StripeClient) GetSessionStatus(ctx context.Context, sessionID string) (status SessionStatus, err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveUpstream("stripe", "get_session", err, time.Since(start)) }()

	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return SessionStatus{}, ErrSessionNotFound
	}
	var out stripeSession
	if errDo := c.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(sessionID), nil, "", &out); errDo != nil {
		var stripeErr *StripeError
		if errors.As(errDo, &stripeErr) && (stripeErr.StatusCode == http.StatusNotFound || stripeErr.Code == "resource_missing") {
			return SessionStatus{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return SessionStatus{}, errDo
	}
	return out.toStatus(), nil
}

// CreateTransfer sends funds to a connected account.
func (c *StripeClient) CreateTransfer(ctx context.Context, params TransferParams) (transfer Transfer, err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveUpstream("stripe", "create_transfer", err, time.Since(start)) }()

	if params.Amount <= 0 {
		return Transfer{}, errors.New("gateway: transfer amount must be positive")
	}
	if strings.TrimSpace(params.Destination) == "" {
		return Transfer{}, errors.New("gateway: transfer destination required")
	}
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(params.Amount, 10))
	form.Set("currency", params.Currency)
	form.Set("destination", params.Destination)
	if params.Description != "" {
		form.Set("description", params.Description)
	}
	if params.TransferGroup != "" {
		form.Set("transfer_group", params.TransferGroup)
	}
	setMetadata(form, "metadata", params.Metadata)

	var out struct {
		ID string `json:"id"`
	}
	if errDo := c.do(ctx, http.MethodPost, "/v1/transfers", form, params.IdempotencyKey, &out); errDo != nil {
		return Transfer{}, errDo
	}
	if out.ID == "" {
		return Transfer{}, errors.New("gateway: stripe returned a transfer without id")
	}
	return Transfer{ID: out.ID}, nil
}

// GetAccount retrieves a connected account and its capability flags.
func (c *StripeClient) GetAccount(ctx context.Context, accountID string) (account Account, err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveUpstream("stripe", "get_account", err, time.Since(start)) }()

	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return Account{}, ErrAccountNotFound
	}
	var out struct {
		ID               string `json:"id"`
		ChargesEnabled   bool   `json:"charges_enabled"`
		PayoutsEnabled   bool   `json:"payouts_enabled"`
		DetailsSubmitted bool   `json:"details_submitted"`
	}
	if errDo := c.do(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(accountID), nil, "", &out); errDo != nil {
		var stripeErr *StripeError
		if errors.As(errDo, &stripeErr) && (stripeErr.StatusCode == http.StatusNotFound || stripeErr.Code == "resource_missing" || stripeErr.Code == "account_invalid") {
			return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
		}
		return Account{}, errDo
	}
	return Account{
		ID:               out.ID,
		ChargesEnabled:   out.ChargesEnabled,
		PayoutsEnabled:   out.PayoutsEnabled,
		DetailsSubmitted: out.DetailsSubmitted,
	}, nil
}

func (c *StripeClient) do(ctx context.Context, method, path string, form url.Values, idempotencyKey string, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, errReq := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if errReq != nil {
		return fmt.Errorf("gateway: build request: %w", errReq)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, errResp := c.client.Do(req)
	if errResp != nil {
		return fmt.Errorf("gateway: %s %s: %w", method, path, errResp)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("gateway: close response body error: %v", errClose)
		}
	}()

	payload, errRead := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if errRead != nil {
		return fmt.Errorf("gateway: read response: %w", errRead)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return parseStripeError(resp.StatusCode, payload)
	}
	if errDecode := json.Unmarshal(payload, out); errDecode != nil {
		return fmt.Errorf("gateway: decode response: %w", errDecode)
	}
	return nil
}

func parseStripeError(status int, payload []byte) error {
	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	stripeErr := &StripeError{StatusCode: status}
	if errDecode := json.Unmarshal(payload, &envelope); errDecode == nil {
		stripeErr.Type = envelope.Error.Type
		stripeErr.Code = envelope.Error.Code
		stripeErr.Message = envelope.Error.Message
	}
	if stripeErr.Message == "" {
		trimmed := strings.TrimSpace(string(payload))
		if len(trimmed) > maxErrorBodyBytes {
			trimmed = trimmed[:maxErrorBodyBytes] + "...(truncated)"
		}
		stripeErr.Message = trimmed
	}
	return stripeErr
}

func setMetadata(form url.Values, prefix string, metadata map[string]string) {
	for k, v := range metadata {
		form.Set(prefix+"["+k+"]", v)
	}
}

func (s stripeSession) toStatus() SessionStatus {
	status := SessionStatus{
		ID:            s.ID,
		Paid:          s.PaymentStatus == "paid",
		PaymentStatus: s.PaymentStatus,
		CustomerEmail: s.CustomerEmail,
		AmountTotal:   s.AmountTotal,
		Currency:      s.Currency,
		Metadata:      s.Metadata,
	}
	if s.CustomerDetails != nil {
		if status.CustomerEmail == "" {
			status.CustomerEmail = s.CustomerDetails.Email
		}
		status.CustomerName = s.CustomerDetails.Name
	}
	// payment_intent is either an ID string or an expanded object.
	if len(s.PaymentIntent) > 0 {
		var id string
		if errID := json.Unmarshal(s.PaymentIntent, &id); errID == nil {
			status.PaymentIntent = id
		} else {
			var obj struct {
				ID string `json:"id"`
			}
			if errObj := json.Unmarshal(s.PaymentIntent, &obj); errObj == nil {
				status.PaymentIntent = obj.ID
			}
		}
	}
	return status
}
