// Package unlock issues one-time unlock codes for cards and verifies them.
package unlock

import (
	"context"
	"time"

	"github.com/contribuicha/cardreveal/internal/apperr"
	"github.com/contribuicha/cardreveal/internal/cards"
	"github.com/contribuicha/cardreveal/internal/metrics"
	"github.com/contribuicha/cardreveal/internal/models"
	"github.com/contribuicha/cardreveal/internal/notify"
	"github.com/contribuicha/cardreveal/internal/ratelimit"
	internalsettings "github.com/contribuicha/cardreveal/internal/settings"
	"github.com/contribuicha/cardreveal/internal/util"
)

// Limiter gates issue and verify attempts per (email, event, card).
type Limiter interface {
	CheckAndRecordAttempt(ctx context.Context, email string, eventID uint64, cardNumber int) (ratelimit.Decision, error)
	Reset(ctx context.Context, email string, eventID uint64, cardNumber int) error
}

// EventLookup resolves the event a card belongs to.
type EventLookup interface {
	FindByID(ctx context.Context, id uint64) (*models.Event, error)
}

// Service issues and verifies unlock codes.
type Service struct {
	machine   *cards.Machine
	limiter   Limiter
	notifier  notify.Notifier
	events    EventLookup
	generator CodeGenerator
	metrics   *metrics.Metrics
	now       func() time.Time
	ttl       func() time.Duration
}

// Option customizes a Service.
type Option func(*Service)

// WithGenerator overrides the code generator.
func WithGenerator(g CodeGenerator) Option {
	return func(s *Service) { s.generator = g }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithReservationTTL pins the reservation TTL instead of reading settings.
func WithReservationTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = func() time.Duration { return ttl } }
}

// WithMetrics records outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService constructs a Service.
func NewService(machine *cards.Machine, limiter Limiter, notifier notify.Notifier, events EventLookup, opts ...Option) *Service {
	s := &Service{
		machine:   machine,
		limiter:   limiter,
		notifier:  notifier,
		events:    events,
		generator: HOTPGenerator{},
		now:       func() time.Time { return time.Now().UTC() },
		ttl: func() time.Duration {
			return internalsettings.Seconds(internalsettings.ReservationTTLSecondsKey, internalsettings.DefaultReservationTTLSeconds)
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func normalizeEmail(email string) (string, error) {
	normalized := util.NormalizeEmail(email)
	if !util.ValidEmail(normalized) {
		return "", apperr.Validation(apperr.ReasonInvalidEmail, "invalid email address")
	}
	return normalized, nil
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if appErr, ok := apperr.As(err); ok && appErr.Reason != "" {
		return appErr.Reason
	}
	return apperr.KindOf(err).String()
}
