// Package reconcile confirms paid checkout sessions and reveals their cards.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/contribuicha/cardreveal/internal/apperr"
	"github.com/contribuicha/cardreveal/internal/cards"
	internaldb "github.com/contribuicha/cardreveal/internal/db"
	"github.com/contribuicha/cardreveal/internal/gateway"
	"github.com/contribuicha/cardreveal/internal/metrics"
	"github.com/contribuicha/cardreveal/internal/models"
	internalsettings "github.com/contribuicha/cardreveal/internal/settings"
	"github.com/contribuicha/cardreveal/internal/util"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	contributionType = "card_contribution"
	defaultGuestName = "Anônimo"

	// sessionFlightTimeout bounds a shared session lookup once it no longer follows any caller.
	sessionFlightTimeout = 30 * time.Second
)

// Summary counts the effects of one reconciliation pass.
type Summary struct {
	Checked         int `json:"checked"`
	PaymentsUpdated int `json:"payments_updated"`
	CardsUpdated    int `json:"cards_updated"`
	Failed          int `json:"failed"`
	Payouts         int `json:"payouts"`
}

// Outcome reports what reconciling one session changed.
type Outcome struct {
	SessionID      string `json:"session_id"`
	Paid           bool   `json:"paid"`
	PaymentUpdated bool   `json:"payment_updated"`
	CardUpdated    bool   `json:"card_updated"`
	CardID         uint64 `json:"card_id,omitempty"`
	EventID        uint64 `json:"event_id,omitempty"`
}

// Reconciler applies gateway payment state to payments and cards.
type Reconciler struct {
	db      *gorm.DB
	machine *cards.Machine
	gateway gateway.Gateway
	metrics *metrics.Metrics
	now     func() time.Time
	payouts bool

	group singleflight.Group
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithMetrics records outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// WithPayouts enables transfers of card values to host payout accounts.
func WithPayouts(enabled bool) Option {
	return func(r *Reconciler) { r.payouts = enabled }
}

// NewReconciler constructs a Reconciler.
func NewReconciler(conn *gorm.DB, machine *cards.Machine, gw gateway.Gateway, opts ...Option) *Reconciler {
	r := &Reconciler{
		db:      conn,
		machine: machine,
		gateway: gw,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReconcilePending checks every pending payment created within window and applies paid sessions.
// Gateway failures are counted and skipped. Running it again over the same state changes nothing.
func (r *Reconciler) ReconcilePending(ctx context.Context, window time.Duration) (Summary, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	r.metrics.ReconcileRun()
	if window <= 0 {
		window = time.Duration(internalsettings.Int(internalsettings.ReconcileWindowHoursKey, internalsettings.DefaultReconcileWindowHours, 1)) * time.Hour
	}
	since := r.now().Add(-window)

	var pending []models.Payment
	if errFind := r.db.WithContext(ctx).
		Where("status = ? AND created_at >= ? AND stripe_session_id <> ''", models.PaymentStatusPending, since).
		Order("created_at ASC").
		Find(&pending).Error; errFind != nil {
		return Summary{}, apperr.Internal("load pending payments", errFind)
	}

	maxConcurrency := internalsettings.Int(internalsettings.ReconcileMaxConcurrencyKey, internalsettings.DefaultReconcileMaxConcurrency, 1)
	sem := make(chan struct{}, maxConcurrency)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		summary Summary
	)
	shouldStop := false

	for i := range pending {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			shouldStop = true
		}
		if shouldStop {
			break
		}

		wg.Add(1)
		payment := pending[i]
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			outcome, errCheck := r.checkPayment(ctx, &payment)
			mu.Lock()
			defer mu.Unlock()
			summary.Checked++
			if errCheck != nil {
				summary.Failed++
				r.metrics.Reconciled("failed")
				log.WithError(errCheck).Warnf("reconcile: check failed session=%s payment_id=%d", payment.StripeSessionID, payment.ID)
				return
			}
			if outcome.PaymentUpdated {
				summary.PaymentsUpdated++
				r.metrics.Reconciled("paid")
			} else {
				r.metrics.Reconciled("unchanged")
			}
			if outcome.CardUpdated {
				summary.CardsUpdated++
			}
		}()
	}
	wg.Wait()

	if r.payouts && ctx.Err() == nil {
		summary.Payouts = r.retryPayouts(ctx, since)
	}

	if summary.Checked > 0 {
		log.Infof("reconcile: checked=%d payments_updated=%d cards_updated=%d failed=%d payouts=%d",
			summary.Checked, summary.PaymentsUpdated, summary.CardsUpdated, summary.Failed, summary.Payouts)
	}
	return summary, ctx.Err()
}

func (r *Reconciler) checkPayment(ctx context.Context, payment *models.Payment) (Outcome, error) {
	status, errStatus := r.gateway.GetSessionStatus(ctx, payment.StripeSessionID)
	if errStatus != nil {
		return Outcome{}, errStatus
	}
	if !status.Paid {
		return Outcome{SessionID: payment.StripeSessionID, CardID: payment.CardID, EventID: payment.EventID}, nil
	}
	return r.ApplyPaid(ctx, payment, status)
}

// ReconcileSession fetches one session from the gateway and applies it. Concurrent calls for the
// same session share one gateway lookup, which runs detached from any single caller's context.
// A session with no payment row is rebuilt from its metadata.
func (r *Reconciler) ReconcileSession(ctx context.Context, sessionID string) (Outcome, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Outcome{}, apperr.Validation(apperr.ReasonInvalidRequest, "session_id is required")
	}
	value, err, _ := r.group.Do(sessionID, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sessionFlightTimeout)
		defer cancel()
		status, errStatus := r.gateway.GetSessionStatus(flightCtx, sessionID)
		if errStatus != nil {
			if errors.Is(errStatus, gateway.ErrSessionNotFound) {
				return Outcome{}, apperr.NotFound(apperr.ReasonPaymentNotFound, "payment session not found")
			}
			return Outcome{}, apperr.Upstream(apperr.ReasonGatewayFailed, "could not reach payment gateway", errStatus)
		}
		return r.ApplySession(flightCtx, status)
	})
	outcome, _ := value.(Outcome)
	return outcome, err
}

// ApplySession applies a session status already obtained from the gateway, as delivered by a webhook.
func (r *Reconciler) ApplySession(ctx context.Context, status gateway.SessionStatus) (Outcome, error) {
	payment, err := r.paymentForSession(ctx, status)
	if err != nil {
		return Outcome{}, err
	}
	if !status.Paid {
		return Outcome{SessionID: status.ID, CardID: payment.CardID, EventID: payment.EventID, Paid: payment.Status == models.PaymentStatusPaid}, nil
	}
	return r.ApplyPaid(ctx, payment, status)
}

func (r *Reconciler) paymentForSession(ctx context.Context, status gateway.SessionStatus) (*models.Payment, error) {
	var payment models.Payment
	errFind := r.db.WithContext(ctx).Where("stripe_session_id = ?", status.ID).First(&payment).Error
	if errFind == nil {
		return &payment, nil
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, apperr.Internal("load payment", errFind)
	}

	rebuilt, errBuild := paymentFromMetadata(status, r.now())
	if errBuild != nil {
		return nil, errBuild
	}
	if errCreate := r.db.WithContext(ctx).Create(rebuilt).Error; errCreate != nil {
		if !internaldb.IsUniqueViolation(errCreate) {
			return nil, apperr.Internal("create payment", errCreate)
		}
		if errReload := r.db.WithContext(ctx).Where("stripe_session_id = ?", status.ID).First(&payment).Error; errReload != nil {
			return nil, apperr.Internal("load payment", errReload)
		}
		return &payment, nil
	}
	log.Warnf("reconcile: rebuilt missing payment row session=%s card_id=%d", status.ID, rebuilt.CardID)
	return rebuilt, nil
}

func paymentFromMetadata(status gateway.SessionStatus, now time.Time) (*models.Payment, error) {
	if status.Metadata["type"] != contributionType {
		return nil, apperr.NotFound(apperr.ReasonPaymentNotFound, "session is not a card contribution")
	}
	cardID, errCard := strconv.ParseUint(status.Metadata["card_id"], 10, 64)
	eventID, errEvent := strconv.ParseUint(status.Metadata["event_id"], 10, 64)
	amount, errAmount := strconv.ParseInt(status.Metadata["amount"], 10, 64)
	if errCard != nil || errEvent != nil || errAmount != nil {
		return nil, apperr.Validation(apperr.ReasonInvalidRequest, "session metadata is incomplete")
	}
	fee := status.AmountTotal - amount
	if fee < 0 {
		fee = 0
	}
	rawMetadata, _ := json.Marshal(status.Metadata)
	return &models.Payment{
		CardID:          cardID,
		EventID:         eventID,
		Amount:          amount,
		TransactionFee:  fee,
		Currency:        status.Currency,
		GuestEmail:      util.NormalizeEmail(status.CustomerEmail),
		GuestName:       status.CustomerName,
		Status:          models.PaymentStatusPending,
		StripeSessionID: status.ID,
		Metadata:        datatypes.JSON(rawMetadata),
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// ApplyPaid marks payment paid and reveals its card in one transaction. Only the call that moves
// the payment out of pending reports PaymentUpdated; the card reveal is idempotent.
func (r *Reconciler) ApplyPaid(ctx context.Context, payment *models.Payment, status gateway.SessionStatus) (Outcome, error) {
	outcome := Outcome{SessionID: payment.StripeSessionID, Paid: true, CardID: payment.CardID, EventID: payment.EventID}
	now := r.now()

	email := payment.GuestEmail
	if email == "" {
		email = util.NormalizeEmail(status.CustomerEmail)
	}
	name := payment.GuestName
	if name == "" {
		name = strings.TrimSpace(status.CustomerName)
	}
	if name == "" {
		name = defaultGuestName
	}

	errTx := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Payment{}).
			Where("id = ? AND status = ?", payment.ID, models.PaymentStatusPending).
			Updates(map[string]any{
				"status":      models.PaymentStatusPaid,
				"paid_at":     now,
				"guest_email": email,
				"guest_name":  name,
			})
		if res.Error != nil {
			return res.Error
		}
		outcome.PaymentUpdated = res.RowsAffected == 1

		revealed, errReveal := r.machine.WithTx(tx).RevealPaid(ctx, payment.CardID, email, name, now)
		if errReveal != nil {
			return errReveal
		}
		outcome.CardUpdated = revealed
		return nil
	})
	if errTx != nil {
		if internaldb.IsUniqueViolation(errTx) {
			// Another session already paid for this card; leave this one pending for manual review.
			log.Errorf("reconcile: duplicate paid session for card card_id=%d session=%s", payment.CardID, payment.StripeSessionID)
			return Outcome{SessionID: payment.StripeSessionID, Paid: true, CardID: payment.CardID, EventID: payment.EventID}, nil
		}
		if _, ok := apperr.As(errTx); ok {
			return Outcome{}, errTx
		}
		return Outcome{}, apperr.Internal("apply paid session", errTx)
	}

	if outcome.PaymentUpdated {
		payment.Status = models.PaymentStatusPaid
		payment.PaidAt = &now
		payment.GuestEmail = email
		payment.GuestName = name
		log.Infof("reconcile: payment confirmed session=%s card_id=%d card_updated=%t by=%s",
			payment.StripeSessionID, payment.CardID, outcome.CardUpdated, util.MaskEmail(email))
		if r.payouts {
			if _, errPayout := r.payout(ctx, payment); errPayout != nil {
				log.WithError(errPayout).Warnf("reconcile: payout failed payment_id=%d", payment.ID)
			}
		}
	}
	return outcome, nil
}

func (r *Reconciler) retryPayouts(ctx context.Context, since time.Time) int {
	var paid []models.Payment
	if errFind := r.db.WithContext(ctx).
		Where("status = ? AND created_at >= ? AND (transfer_id IS NULL OR transfer_id = '')", models.PaymentStatusPaid, since).
		Find(&paid).Error; errFind != nil {
		log.WithError(errFind).Warn("reconcile: load unpaid-out payments failed")
		return 0
	}
	created := 0
	for i := range paid {
		ok, errPayout := r.payout(ctx, &paid[i])
		if errPayout != nil {
			log.WithError(errPayout).Warnf("reconcile: payout failed payment_id=%d", paid[i].ID)
			continue
		}
		if ok {
			created++
		}
	}
	return created
}

// payout transfers the card value to the host's connected account. The idempotency key is derived
// from the payment so retries never double-pay.
func (r *Reconciler) payout(ctx context.Context, payment *models.Payment) (bool, error) {
	if payment.TransferID != "" {
		return false, nil
	}
	var event models.Event
	if errFind := r.db.WithContext(ctx).First(&event, payment.EventID).Error; errFind != nil {
		return false, fmt.Errorf("reconcile: load event: %w", errFind)
	}
	var account models.HostPayoutAccount
	errAccount := r.db.WithContext(ctx).
		Where("host_id = ? AND payouts_enabled = ?", event.HostID, true).
		First(&account).Error
	if errAccount != nil {
		if errors.Is(errAccount, gorm.ErrRecordNotFound) {
			log.Debugf("reconcile: no payout account for host=%s", event.HostID)
			return false, nil
		}
		return false, fmt.Errorf("reconcile: load payout account: %w", errAccount)
	}

	transfer, errTransfer := r.gateway.CreateTransfer(ctx, gateway.TransferParams{
		Destination:   account.StripeAccountID,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		Description:   fmt.Sprintf("Contribuição - %s", event.Name),
		TransferGroup: fmt.Sprintf("event_%d", event.ID),
		Metadata: map[string]string{
			"payment_id": strconv.FormatUint(payment.ID, 10),
			"card_id":    strconv.FormatUint(payment.CardID, 10),
			"event_id":   strconv.FormatUint(payment.EventID, 10),
		},
		IdempotencyKey: fmt.Sprintf("payout-%d", payment.ID),
	})
	if errTransfer != nil {
		return false, fmt.Errorf("reconcile: create transfer: %w", errTransfer)
	}

	res := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND (transfer_id IS NULL OR transfer_id = '')", payment.ID).
		Update("transfer_id", transfer.ID)
	if res.Error != nil {
		return false, fmt.Errorf("reconcile: store transfer id: %w", res.Error)
	}
	payment.TransferID = transfer.ID
	return res.RowsAffected == 1, nil
}
