package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/contribuicha/cardreveal/internal/metrics"
	log "github.com/sirupsen/logrus"
)

const maxErrorBodyBytes = 512

// ResendConfig configures ResendClient.
type ResendConfig struct {
	APIKey  string
	BaseURL string
	From    string
	Timeout time.Duration
}

// ResendClient sends email through the Resend REST API.
type ResendClient struct {
	apiKey  string
	baseURL string
	from    string
	client  *http.Client
	metrics *metrics.Metrics
}

// NewResendClient constructs a ResendClient. m may be nil.
func NewResendClient(cfg ResendConfig, m *metrics.Metrics) *ResendClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.resend.com"
	}
	return &ResendClient{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		from:    cfg.From,
		client:  &http.Client{Timeout: timeout},
		metrics: m,
	}
}

type sendEmailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

type sendEmailResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	Name    string `json:"name"`
}

// Send posts the message to /emails. 4xx responses wrap ErrRejected.
func (c *ResendClient) Send(ctx context.Context, msg Message) (id string, err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveUpstream("resend", "send_email", err, time.Since(start)) }()

	body, errMarshal := json.Marshal(sendEmailRequest{
		From:    c.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
	})
	if errMarshal != nil {
		return "", fmt.Errorf("notify: encode email: %w", errMarshal)
	}

	req, errReq := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(body))
	if errReq != nil {
		return "", fmt.Errorf("notify: build request: %w", errReq)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, errResp := c.client.Do(req)
	if errResp != nil {
		return "", fmt.Errorf("notify: send email: %w", errResp)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("notify: close response body error: %v", errClose)
		}
	}()

	payload, errRead := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if errRead != nil {
		return "", fmt.Errorf("notify: read response: %w", errRead)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		errStatus := fmt.Errorf("notify: resend status=%d body=%s", resp.StatusCode, summarize(payload))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return "", errors.Join(ErrRejected, errStatus)
		}
		return "", errStatus
	}

	var decoded sendEmailResponse
	if errDecode := json.Unmarshal(payload, &decoded); errDecode != nil {
		return "", fmt.Errorf("notify: decode response: %w", errDecode)
	}
	if strings.TrimSpace(decoded.ID) == "" {
		return "", errors.New("notify: resend returned no message id")
	}
	return decoded.ID, nil
}

func summarize(payload []byte) string {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > maxErrorBodyBytes {
		return string(trimmed[:maxErrorBodyBytes]) + "...(truncated)"
	}
	return string(trimmed)
}
