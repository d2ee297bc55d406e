// Package gatewaytest provides an in-memory payment gateway for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/contribuicha/cardreveal/internal/gateway"
)

// Fake implements gateway.Gateway in memory.
type Fake struct {
	mu        sync.Mutex
	sessions  map[string]gateway.SessionStatus
	transfers map[string]gateway.Transfer
	accounts  map[string]gateway.Account
	seq       int

	Created     []gateway.SessionParams
	Transfers   []gateway.TransferParams
	StatusCalls int

	CreateErr   error
	StatusErr   map[string]error
	TransferErr error
	AccountErr  error
}

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{
		sessions:  make(map[string]gateway.SessionStatus),
		transfers: make(map[string]gateway.Transfer),
		accounts:  make(map[string]gateway.Account),
		StatusErr: make(map[string]error),
	}
}

// CreateSession records params and opens an unpaid session.
func (f *Fake) CreateSession(_ context.Context, params gateway.SessionParams) (gateway.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return gateway.Session{}, f.CreateErr
	}
	f.seq++
	id := fmt.Sprintf("cs_test_%d", f.seq)
	var total int64
	for _, item := range params.LineItems {
		total += item.Amount
	}
	f.Created = append(f.Created, params)
	f.sessions[id] = gateway.SessionStatus{
		ID:            id,
		PaymentStatus: "unpaid",
		CustomerEmail: params.CustomerEmail,
		AmountTotal:   total,
		Currency:      params.Currency,
		Metadata:      maps.Clone(params.Metadata),
	}
	return gateway.Session{ID: id, URL: "https://checkout.test/pay/" + id}, nil
}

// GetSessionStatus returns the stored session.
func (f *Fake) GetSessionStatus(_ context.Context, sessionID string) (gateway.SessionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StatusCalls++
	if err := f.StatusErr[sessionID]; err != nil {
		return gateway.SessionStatus{}, err
	}
	status, ok := f.sessions[sessionID]
	if !ok {
		return gateway.SessionStatus{}, gateway.ErrSessionNotFound
	}
	return status, nil
}

// CreateTransfer records params. Repeated idempotency keys return the first transfer.
func (f *Fake) CreateTransfer(_ context.Context, params gateway.TransferParams) (gateway.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TransferErr != nil {
		return gateway.Transfer{}, f.TransferErr
	}
	if params.IdempotencyKey != "" {
		if existing, ok := f.transfers[params.IdempotencyKey]; ok {
			return existing, nil
		}
	}
	f.seq++
	transfer := gateway.Transfer{ID: fmt.Sprintf("tr_test_%d", f.seq)}
	f.Transfers = append(f.Transfers, params)
	if params.IdempotencyKey != "" {
		f.transfers[params.IdempotencyKey] = transfer
	}
	return transfer, nil
}

// GetAccount returns the stored connected account.
func (f *Fake) GetAccount(_ context.Context, accountID string) (gateway.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AccountErr != nil {
		return gateway.Account{}, f.AccountErr
	}
	account, ok := f.accounts[accountID]
	if !ok {
		return gateway.Account{}, gateway.ErrAccountNotFound
	}
	return account, nil
}

// PutAccount stores or replaces a connected account.
func (f *Fake) PutAccount(account gateway.Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[account.ID] = account
}

// PutSession stores or replaces a session.
func (f *Fake) PutSession(status gateway.SessionStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[status.ID] = status
}

// MarkPaid flags a session as paid by customerName.
func (f *Fake) MarkPaid(sessionID, customerName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := f.sessions[sessionID]
	status.ID = sessionID
	status.Paid = true
	status.PaymentStatus = "paid"
	status.CustomerName = customerName
	f.sessions[sessionID] = status
}

// TransferCount returns the number of distinct transfers created.
func (f *Fake) TransferCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Transfers)
}
