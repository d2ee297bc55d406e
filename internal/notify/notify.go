// Package notify delivers unlock codes to guests by email.
package notify

import (
	"context"
	"errors"
)

// ErrRejected marks a message the provider refused outright. Callers treat it as a hard failure.
var ErrRejected = errors.New("notify: message rejected")

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Notifier sends a message and returns the provider's message ID.
type Notifier interface {
	Send(ctx context.Context, msg Message) (string, error)
}
