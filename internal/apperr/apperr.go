// Package apperr defines the error taxonomy shared by the reservation, unlock,
// checkout and reconciliation components.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an error by the recovery action it implies.
type Kind int

// Error kinds.
const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindRateLimited
	KindValidation
	KindUpstream
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindRateLimited:
		return "rate_limited"
	case KindValidation:
		return "validation_error"
	case KindUpstream:
		return "upstream_error"
	default:
		return "internal"
	}
}

// Machine-readable reasons rendered to clients.
const (
	ReasonLockedOut          = "locked_out"
	ReasonWrongCode          = "wrong_code"
	ReasonReservedByOther    = "reserved_by_other"
	ReasonAlreadyRevealed    = "already_revealed"
	ReasonNoLongerAvailable  = "no_longer_available"
	ReasonReservationExpired = "reservation_expired"
	ReasonCardNotFound       = "card_not_found"
	ReasonEventNotFound      = "event_not_found"
	ReasonPaymentNotFound    = "payment_not_found"
	ReasonInvalidEmail       = "invalid_email"
	ReasonInvalidCode        = "invalid_code"
	ReasonInvalidAmount      = "invalid_amount"
	ReasonInvalidRequest     = "invalid_request"
	ReasonNotificationFailed = "notification_failed"
	ReasonGatewayFailed      = "gateway_failed"
	ReasonStorageFailed      = "storage_failed"
)

// Error is a classified failure carrying a user-safe message.
type Error struct {
	Kind    Kind
	Reason  string
	Message string

	// LockedUntil is set on rate-limited errors.
	LockedUntil *time.Time
	// AttemptsRemaining is set on wrong-code errors; -1 when unknown.
	AttemptsRemaining int

	Err error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// RetryAfter returns the remaining lockout relative to now, rounded up to a second.
func (e *Error) RetryAfter(now time.Time) time.Duration {
	if e == nil || e.LockedUntil == nil {
		return 0
	}
	remaining := e.LockedUntil.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return remaining.Truncate(time.Second) + time.Second
}

func newError(kind Kind, reason, message string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message, AttemptsRemaining: -1, Err: err}
}

// NotFound builds a KindNotFound error.
func NotFound(reason, message string) *Error {
	return newError(KindNotFound, reason, message, nil)
}

// Conflict builds a KindConflict error.
func Conflict(reason, message string) *Error {
	return newError(KindConflict, reason, message, nil)
}

// Validation builds a KindValidation error.
func Validation(reason, message string) *Error {
	return newError(KindValidation, reason, message, nil)
}

// RateLimited builds a lockout error.
func RateLimited(lockedUntil *time.Time) *Error {
	e := newError(KindRateLimited, ReasonLockedOut, "too many attempts, try again later", nil)
	e.LockedUntil = lockedUntil
	e.AttemptsRemaining = 0
	return e
}

// WrongCode builds the error returned when a submitted code does not match.
func WrongCode(attemptsRemaining int) *Error {
	e := newError(KindValidation, ReasonWrongCode, "the code does not match", nil)
	e.AttemptsRemaining = attemptsRemaining
	return e
}

// Upstream wraps a notification or gateway failure.
func Upstream(reason, message string, err error) *Error {
	return newError(KindUpstream, reason, message, err)
}

// Internal wraps a storage failure.
func Internal(message string, err error) *Error {
	return newError(KindInternal, ReasonStorageFailed, message, err)
}

// As extracts an *Error from err.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) && target != nil {
		return target, true
	}
	return nil, false
}

// KindOf returns the kind of err, KindInternal for unclassified errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// HTTPStatus maps a kind to the response status used by the HTTP layer.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindValidation:
		return http.StatusBadRequest
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
