// Package gateway talks to the payment provider: checkout sessions, their status and host payouts.
package gateway

import (
	"context"
	"errors"
)

// Lookup errors.
var (
	// ErrSessionNotFound is returned when the provider does not know a session ID.
	ErrSessionNotFound = errors.New("gateway: session not found")
	// ErrAccountNotFound is returned when the provider does not know a connected account ID.
	ErrAccountNotFound = errors.New("gateway: account not found")
)

// LineItem is one priced row on the checkout page.
type LineItem struct {
	Name        string
	Description string
	Amount      int64 // Unit amount in minor units.
}

// SessionParams opens a checkout session.
type SessionParams struct {
	Currency       string
	CustomerEmail  string
	LineItems      []LineItem
	Metadata       map[string]string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

// Session is an opened checkout session.
type Session struct {
	ID  string
	URL string
}

// SessionStatus is the provider's view of a session.
type SessionStatus struct {
	ID            string
	Paid          bool
	PaymentStatus string
	CustomerEmail string
	CustomerName  string
	AmountTotal   int64
	Currency      string
	PaymentIntent string
	Metadata      map[string]string
}

// TransferParams moves funds to a connected account.
type TransferParams struct {
	Destination    string
	Amount         int64
	Currency       string
	Description    string
	TransferGroup  string
	Metadata       map[string]string
	IdempotencyKey string
}

// Transfer is a created payout transfer.
type Transfer struct {
	ID string
}

// Account is the provider's view of a host's connected account.
type Account struct {
	ID               string
	ChargesEnabled   bool
	PayoutsEnabled   bool
	DetailsSubmitted bool
}

// Gateway is the payment provider contract used by checkout, reconciliation and payout setup.
type Gateway interface {
	CreateSession(ctx context.Context, params SessionParams) (Session, error)
	GetSessionStatus(ctx context.Context, sessionID string) (SessionStatus, error)
	CreateTransfer(ctx context.Context, params TransferParams) (Transfer, error)
	GetAccount(ctx context.Context, accountID string) (Account, error)
}
