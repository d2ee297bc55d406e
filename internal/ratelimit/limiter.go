// Package ratelimit bounds unlock-code attempts per (email, event, card).
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/contribuicha/cardreveal/internal/apperr"
	internalsettings "github.com/contribuicha/cardreveal/internal/settings"
	log "github.com/sirupsen/logrus"
)

// Key identifies one attempt ledger entry.
type Key struct {
	Email      string
	EventID    uint64
	CardNumber int
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%d:%s", k.EventID, k.CardNumber, k.Email)
}

// Decision is the outcome of recording one attempt.
type Decision struct {
	Allowed           bool
	AttemptsRemaining int
	LockedUntil       *time.Time
}

// Policy holds the thresholds applied to every key.
type Policy struct {
	MaxAttempts int           // Attempts allowed per window; the next one locks the key.
	Window      time.Duration // Counting window measured from the first attempt.
	Lockout     time.Duration // Cooldown once the threshold is exceeded.
}

// PolicyFromSettings reads the current policy from the settings snapshot.
func PolicyFromSettings() Policy {
	return Policy{
		MaxAttempts: internalsettings.Int(internalsettings.UnlockMaxAttemptsKey, internalsettings.DefaultUnlockMaxAttempts, 1),
		Window:      internalsettings.Seconds(internalsettings.UnlockAttemptWindowSecondsKey, internalsettings.DefaultUnlockAttemptWindowSeconds),
		Lockout:     internalsettings.Seconds(internalsettings.UnlockLockoutSecondsKey, internalsettings.DefaultUnlockLockoutSeconds),
	}
}

// Store persists attempt counters. Record must increment and evaluate a key atomically.
type Store interface {
	Record(ctx context.Context, key Key, policy Policy, now time.Time) (Decision, error)
	Reset(ctx context.Context, key Key, now time.Time) error
}

// Limiter applies the configured policy on top of a Store.
type Limiter struct {
	store  Store
	policy func() Policy
	now    func() time.Time
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithPolicy pins the policy instead of reading settings on each call.
func WithPolicy(p Policy) Option {
	return func(l *Limiter) { l.policy = func() Policy { return p } }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New constructs a Limiter backed by store.
func New(store Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		policy: PolicyFromSettings,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewKey builds a key with the email normalized.
func NewKey(email string, eventID uint64, cardNumber int) Key {
	return Key{Email: strings.ToLower(strings.TrimSpace(email)), EventID: eventID, CardNumber: cardNumber}
}

// CheckAndRecordAttempt counts one attempt for the key and reports whether it may proceed.
// Storage failures deny the attempt.
func (l *Limiter) CheckAndRecordAttempt(ctx context.Context, email string, eventID uint64, cardNumber int) (Decision, error) {
	key := NewKey(email, eventID, cardNumber)
	policy := l.policy()
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = internalsettings.DefaultUnlockMaxAttempts
	}
	decision, errRecord := l.store.Record(ctx, key, policy, l.now())
	if errRecord != nil {
		log.WithError(errRecord).Warnf("rate limiter: record attempt failed event=%d card=%d", eventID, cardNumber)
		return Decision{Allowed: false}, apperr.Internal("rate limiter unavailable", errRecord)
	}
	return decision, nil
}

// Reset clears the counter and any lockout for the key.
func (l *Limiter) Reset(ctx context.Context, email string, eventID uint64, cardNumber int) error {
	if errReset := l.store.Reset(ctx, NewKey(email, eventID, cardNumber), l.now()); errReset != nil {
		return fmt.Errorf("rate limiter: reset: %w", errReset)
	}
	return nil
}
