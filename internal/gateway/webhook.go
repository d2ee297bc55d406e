package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Webhook verification errors.
var (
	ErrMissingSignature = errors.New("gateway: missing webhook signature")
	ErrInvalidSignature = errors.New("gateway: invalid webhook signature")
	ErrStaleSignature   = errors.New("gateway: webhook timestamp outside tolerance")
)

// DefaultWebhookTolerance bounds the age of a signed webhook.
const DefaultWebhookTolerance = 5 * time.Minute

// Event is a webhook event envelope.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ComputeSignature returns hex(HMAC-SHA256(secret, "timestamp.payload")).
func ComputeSignature(timestamp int64, payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader builds a Stripe-Signature header value.
func SignatureHeader(timestamp int64, payload []byte, secret string) string {
	return fmt.Sprintf("t=%d,v1=%s", timestamp, ComputeSignature(timestamp, payload, secret))
}

// VerifySignature checks a Stripe-Signature header against payload. Any v1 entry may match.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrMissingSignature
	}
	var timestamp int64
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			parsed, errParse := strconv.ParseInt(value, 10, 64)
			if errParse != nil {
				return ErrInvalidSignature
			}
			timestamp = parsed
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == 0 || len(signatures) == 0 {
		return ErrInvalidSignature
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(timestamp, 0))
		if age > tolerance || age < -tolerance {
			return ErrStaleSignature
		}
	}
	expected := []byte(ComputeSignature(timestamp, payload, secret))
	for _, sig := range signatures {
		if hmac.Equal(expected, []byte(sig)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// ParseEvent decodes a webhook body.
func ParseEvent(payload []byte) (Event, error) {
	var evt Event
	if errDecode := json.Unmarshal(payload, &evt); errDecode != nil {
		return Event{}, fmt.Errorf("gateway: decode webhook event: %w", errDecode)
	}
	if evt.Type == "" {
		return Event{}, errors.New("gateway: webhook event without type")
	}
	return evt, nil
}

// SessionFromEvent extracts the checkout session carried by a checkout.session.* event.
func SessionFromEvent(evt Event) (SessionStatus, error) {
	if !strings.HasPrefix(evt.Type, "checkout.session.") {
		return SessionStatus{}, fmt.Errorf("gateway: event %s does not carry a checkout session", evt.Type)
	}
	var session stripeSession
	if errDecode := json.Unmarshal(evt.Data.Object, &session); errDecode != nil {
		return SessionStatus{}, fmt.Errorf("gateway: decode session object: %w", errDecode)
	}
	if session.ID == "" {
		return SessionStatus{}, errors.New("gateway: session object without id")
	}
	return session.toStatus(), nil
}
