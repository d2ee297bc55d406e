// Package checkout opens payment sessions for cards.
package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/contribuicha/cardreveal/internal/apperr"
	"github.com/contribuicha/cardreveal/internal/cards"
	"github.com/contribuicha/cardreveal/internal/gateway"
	"github.com/contribuicha/cardreveal/internal/metrics"
	"github.com/contribuicha/cardreveal/internal/models"
	internalsettings "github.com/contribuicha/cardreveal/internal/settings"
	"github.com/contribuicha/cardreveal/internal/util"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MetadataType tags gateway sessions opened for card contributions.
const MetadataType = "card_contribution"

// DefaultGuestName is used when a paying guest leaves the name empty.
const DefaultGuestName = "Anônimo"

// EventLookup resolves the event a card belongs to.
type EventLookup interface {
	FindByID(ctx context.Context, id uint64) (*models.Event, error)
}

// Config holds redirect URL templates. {slug} is replaced with the event slug.
type Config struct {
	PublicBaseURL string
	SuccessPath   string
	CancelPath    string
	Currency      string
}

// Result describes an opened session.
type Result struct {
	SessionURL string `json:"url"`
	SessionID  string `json:"session_id"`
	Amount     int64  `json:"amount"`
	Fee        int64  `json:"fee"`
}

// Service opens checkout sessions.
type Service struct {
	db      *gorm.DB
	machine *cards.Machine
	events  EventLookup
	gateway gateway.Gateway
	cfg     Config
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMetrics records outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService constructs a Service.
func NewService(conn *gorm.DB, machine *cards.Machine, events EventLookup, gw gateway.Gateway, cfg Config, opts ...Option) *Service {
	if strings.TrimSpace(cfg.Currency) == "" {
		cfg.Currency = "brl"
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	s := &Service{
		db:      conn,
		machine: machine,
		events:  events,
		gateway: gw,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartCheckout reserves the card for the guest and opens a gateway session charging its value
// plus the platform fee.
func (s *Service) StartCheckout(ctx context.Context, cardID, eventID uint64, guestName, guestEmail string) (result Result, err error) {
	defer func() {
		label := "ok"
		if err != nil {
			label = apperr.KindOf(err).String()
		}
		s.metrics.Checkout(label)
	}()

	email := util.NormalizeEmail(guestEmail)
	if !util.ValidEmail(email) {
		return Result{}, apperr.Validation(apperr.ReasonInvalidEmail, "invalid email address")
	}
	name := strings.TrimSpace(guestName)
	if name == "" {
		name = DefaultGuestName
	}

	event, err := s.events.FindByID(ctx, eventID)
	if err != nil {
		return Result{}, err
	}
	card, err := s.machine.FindByID(ctx, eventID, cardID)
	if err != nil {
		return Result{}, err
	}
	now := s.now()

	fresh := true
	switch card.Status {
	case models.CardStatusRevealed:
		return Result{}, apperr.Conflict(apperr.ReasonAlreadyRevealed, "card already revealed")
	case models.CardStatusReserved:
		if card.ReservationExpired(now) {
			if _, errExpire := s.machine.ExpireReservation(ctx, card.ID, now); errExpire != nil {
				return Result{}, errExpire
			}
			break
		}
		if !card.ReservedBy(email) {
			return Result{}, apperr.Conflict(apperr.ReasonReservedByOther, "card reserved by another participant")
		}
		fresh = false
	}

	if card.Value <= 0 {
		return Result{}, apperr.Validation(apperr.ReasonInvalidAmount, "card has no value")
	}
	fee := int64(internalsettings.Int(internalsettings.PlatformFeeMinorKey, internalsettings.DefaultPlatformFeeMinor, 0))
	ttl := internalsettings.Seconds(internalsettings.ReservationTTLSecondsKey, internalsettings.DefaultReservationTTLSeconds)

	reserved, err := s.machine.ReserveForCheckout(ctx, card.ID, email, name, now.Add(ttl))
	if err != nil {
		return Result{}, err
	}
	if !reserved {
		return Result{}, apperr.Conflict(apperr.ReasonNoLongerAvailable, "card no longer available")
	}

	metadata := map[string]string{
		"type":     MetadataType,
		"card_id":  strconv.FormatUint(card.ID, 10),
		"event_id": strconv.FormatUint(event.ID, 10),
		"amount":   strconv.FormatInt(card.Value, 10),
	}
	items := []gateway.LineItem{{
		Name:        fmt.Sprintf("Card #%d - %s", card.CardNumber, event.Name),
		Description: "Contribuição para " + event.Name,
		Amount:      card.Value,
	}}
	if fee > 0 {
		items = append(items, gateway.LineItem{Name: "Taxa de serviço", Amount: fee})
	}

	session, errSession := s.gateway.CreateSession(ctx, gateway.SessionParams{
		Currency:       s.cfg.Currency,
		CustomerEmail:  email,
		LineItems:      items,
		Metadata:       metadata,
		SuccessURL:     s.redirectURL(s.cfg.SuccessPath, event.Slug),
		CancelURL:      s.redirectURL(s.cfg.CancelPath, event.Slug),
		IdempotencyKey: "checkout-" + uuid.NewString(),
	})
	if errSession != nil {
		if fresh {
			if _, errRelease := s.machine.ReleaseCheckoutReservation(context.WithoutCancel(ctx), card.ID, email); errRelease != nil {
				log.WithError(errRelease).Errorf("checkout: release reservation failed card_id=%d", card.ID)
			}
		}
		log.WithError(errSession).Warnf("checkout: create session failed event=%d card_id=%d", event.ID, card.ID)
		return Result{}, apperr.Upstream(apperr.ReasonGatewayFailed, "could not open payment session", errSession)
	}

	rawMetadata, _ := json.Marshal(metadata)
	payment := models.Payment{
		CardID:          card.ID,
		EventID:         event.ID,
		Amount:          card.Value,
		TransactionFee:  fee,
		Currency:        s.cfg.Currency,
		GuestEmail:      email,
		GuestName:       name,
		Status:          models.PaymentStatusPending,
		StripeSessionID: session.ID,
		Metadata:        datatypes.JSON(rawMetadata),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if errCreate := s.db.WithContext(ctx).Create(&payment).Error; errCreate != nil {
		// The webhook or the return redirect rebuilds the row from session metadata.
		log.WithError(errCreate).Errorf("checkout: persist payment failed session=%s card_id=%d", session.ID, card.ID)
	}

	log.Infof("checkout: session opened event=%d card_id=%d session=%s by=%s", event.ID, card.ID, session.ID, util.MaskEmail(email))
	return Result{
		SessionURL: session.URL,
		SessionID:  session.ID,
		Amount:     card.Value + fee,
		Fee:        fee,
	}, nil
}

func (s *Service) redirectURL(path, slug string) string {
	return s.cfg.PublicBaseURL + strings.ReplaceAll(path, "{slug}", slug)
}
