// Package events manages events and the bulk creation of their cards.
package events

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/contribuicha/cardreveal/internal/apperr"
	"github.com/contribuicha/cardreveal/internal/cards"
	"github.com/contribuicha/cardreveal/internal/db"
	"github.com/contribuicha/cardreveal/internal/models"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"
)

const maxCardsPerEvent = 1000

// CreateParams describes a new event.
type CreateParams struct {
	HostID      string
	Name        string
	Description string
	Date        *time.Time
	ThemeColor  string
	NumCards    int
	MinValue    int64
	MaxValue    int64
	GoalAmount  int64
}

// PublicEvent is the guest-facing event view.
type PublicEvent struct {
	ID              uint64             `json:"id"`
	Name            string             `json:"name"`
	Slug            string             `json:"slug"`
	Description     string             `json:"description,omitempty"`
	Date            *time.Time         `json:"date,omitempty"`
	ThemeColor      string             `json:"theme_color,omitempty"`
	GoalAmount      int64              `json:"goal_amount"`
	TotalRaised     int64              `json:"total_raised"`
	ProgressPercent float64            `json:"progress_percent"`
	Cards           []cards.PublicCard `json:"cards"`
}

// Service reads events and creates their cards.
type Service struct {
	db      *gorm.DB
	machine *cards.Machine

	mu  sync.Mutex
	rng *rand.Rand
}

// NewService constructs a Service.
func NewService(conn *gorm.DB, machine *cards.Machine) *Service {
	return &Service{
		db:      conn,
		machine: machine,
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// FindByID loads an event by primary key.
func (s *Service) FindByID(ctx context.Context, id uint64) (*models.Event, error) {
	var event models.Event
	if errFind := s.db.WithContext(ctx).First(&event, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound(apperr.ReasonEventNotFound, "event not found")
		}
		return nil, apperr.Internal("load event", errFind)
	}
	return &event, nil
}

// FindBySlug loads an event by its public slug.
func (s *Service) FindBySlug(ctx context.Context, slug string) (*models.Event, error) {
	var event models.Event
	errFind := s.db.WithContext(ctx).Where("slug = ?", strings.TrimSpace(slug)).First(&event).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound(apperr.ReasonEventNotFound, "event not found")
		}
		return nil, apperr.Internal("load event", errFind)
	}
	return &event, nil
}

// FindForHost loads an event only if hostID owns it.
func (s *Service) FindForHost(ctx context.Context, hostID string, id uint64) (*models.Event, error) {
	event, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if event.HostID != hostID {
		return nil, apperr.NotFound(apperr.ReasonEventNotFound, "event not found")
	}
	return event, nil
}

// ListForHost returns the host's events, newest first.
func (s *Service) ListForHost(ctx context.Context, hostID string) ([]models.Event, error) {
	var list []models.Event
	if errFind := s.db.WithContext(ctx).
		Where("host_id = ?", hostID).
		Order("created_at DESC").
		Find(&list).Error; errFind != nil {
		return nil, apperr.Internal("list events", errFind)
	}
	return list, nil
}

// CreateEvent stores a new event and, when NumCards is set, generates its cards in the same transaction.
func (s *Service) CreateEvent(ctx context.Context, params CreateParams) (*models.Event, error) {
	params.Name = strings.TrimSpace(params.Name)
	if params.Name == "" {
		return nil, apperr.Validation(apperr.ReasonInvalidRequest, "name is required")
	}
	if strings.TrimSpace(params.HostID) == "" {
		return nil, apperr.Validation(apperr.ReasonInvalidRequest, "host is required")
	}
	if params.NumCards != 0 {
		if errValidate := validateCardParams(params.NumCards, params.MinValue, params.MaxValue, params.GoalAmount); errValidate != nil {
			return nil, errValidate
		}
	}

	event := models.Event{
		HostID:      params.HostID,
		Name:        params.Name,
		Slug:        slugify(params.Name),
		Description: strings.TrimSpace(params.Description),
		Date:        params.Date,
		ThemeColor:  strings.TrimSpace(params.ThemeColor),
		NumCards:    params.NumCards,
		MinValue:    params.MinValue,
		MaxValue:    params.MaxValue,
		GoalAmount:  params.GoalAmount,
	}
	if event.Slug == "" {
		event.Slug = "event"
	}

	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var taken int64
		if errCount := tx.Model(&models.Event{}).Where("slug = ?", event.Slug).Count(&taken).Error; errCount != nil {
			return apperr.Internal("check slug", errCount)
		}
		if taken > 0 {
			event.Slug = event.Slug + "-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
		}
		if errCreate := tx.Create(&event).Error; errCreate != nil {
			if db.IsUniqueViolation(errCreate) {
				return apperr.Conflict(apperr.ReasonInvalidRequest, "slug already in use")
			}
			return apperr.Internal("create event", errCreate)
		}
		if params.NumCards == 0 {
			return nil
		}
		_, errCards := s.createCards(ctx, tx, event.ID, params.NumCards, params.MinValue, params.MaxValue, params.GoalAmount)
		return errCards
	})
	if errTx != nil {
		return nil, errTx
	}
	log.Infof("event created id=%d slug=%s cards=%d", event.ID, event.Slug, event.NumCards)
	return &event, nil
}

// CreateCardsForEvent populates an event with count available cards valued in [minValue, maxValue].
// It fails with Conflict when the event already has cards.
func (s *Service) CreateCardsForEvent(ctx context.Context, eventID uint64, count int, minValue, maxValue, goalAmount int64) ([]models.Card, error) {
	if errValidate := validateCardParams(count, minValue, maxValue, goalAmount); errValidate != nil {
		return nil, errValidate
	}
	var created []models.Card
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var event models.Event
		if errFind := tx.First(&event, eventID).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return apperr.NotFound(apperr.ReasonEventNotFound, "event not found")
			}
			return apperr.Internal("load event", errFind)
		}
		list, errCards := s.createCards(ctx, tx, eventID, count, minValue, maxValue, goalAmount)
		if errCards != nil {
			return errCards
		}
		if errUpdate := tx.Model(&models.Event{}).Where("id = ?", eventID).Updates(map[string]any{
			"num_cards":   count,
			"min_value":   minValue,
			"max_value":   maxValue,
			"goal_amount": goalAmount,
		}).Error; errUpdate != nil {
			return apperr.Internal("update event", errUpdate)
		}
		created = list
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return created, nil
}

func (s *Service) createCards(ctx context.Context, tx *gorm.DB, eventID uint64, count int, minValue, maxValue, goalAmount int64) ([]models.Card, error) {
	var existing int64
	if errCount := tx.WithContext(ctx).Model(&models.Card{}).Where("event_id = ?", eventID).Count(&existing).Error; errCount != nil {
		return nil, apperr.Internal("count cards", errCount)
	}
	if existing > 0 {
		return nil, apperr.Conflict(apperr.ReasonInvalidRequest, "event already has cards")
	}

	s.mu.Lock()
	values := generateValues(s.rng, count, minValue, maxValue, goalAmount)
	s.mu.Unlock()

	list := make([]models.Card, count)
	for i := range list {
		list[i] = models.Card{
			EventID:    eventID,
			CardNumber: i + 1,
			Status:     models.CardStatusAvailable,
			Value:      values[i],
		}
	}
	if errCreate := tx.WithContext(ctx).CreateInBatches(&list, 200).Error; errCreate != nil {
		if db.IsUniqueViolation(errCreate) {
			return nil, apperr.Conflict(apperr.ReasonInvalidRequest, "event already has cards")
		}
		return nil, apperr.Internal("create cards", errCreate)
	}
	return list, nil
}

// PublicView returns the event, its redacted cards and fundraising progress.
func (s *Service) PublicView(ctx context.Context, slug string, now time.Time) (*PublicEvent, error) {
	event, err := s.FindBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	list, err := s.machine.ListByEvent(ctx, event.ID)
	if err != nil {
		return nil, err
	}

	var raised int64
	for _, c := range list {
		if c.Status == models.CardStatusRevealed {
			raised += c.Value
		}
	}
	progress := 0.0
	if event.GoalAmount > 0 {
		progress = min(float64(raised)*100/float64(event.GoalAmount), 100)
	}

	return &PublicEvent{
		ID:              event.ID,
		Name:            event.Name,
		Slug:            event.Slug,
		Description:     event.Description,
		Date:            event.Date,
		ThemeColor:      event.ThemeColor,
		GoalAmount:      event.GoalAmount,
		TotalRaised:     raised,
		ProgressPercent: progress,
		Cards:           cards.Public(list, now),
	}, nil
}

func validateCardParams(count int, minValue, maxValue, goalAmount int64) error {
	if count <= 0 || count > maxCardsPerEvent {
		return apperr.Validation(apperr.ReasonInvalidRequest, fmt.Sprintf("card count must be between 1 and %d", maxCardsPerEvent))
	}
	if minValue <= 0 || maxValue < minValue {
		return apperr.Validation(apperr.ReasonInvalidAmount, "invalid card value range")
	}
	if goalAmount < 0 {
		return apperr.Validation(apperr.ReasonInvalidAmount, "goal amount must not be negative")
	}
	return nil
}

var stripMarks = runes.Remove(runes.In(unicode.Mn))

func slugify(name string) string {
	folded, _, errTransform := transform.String(transform.Chain(norm.NFD, stripMarks, norm.NFC), name)
	if errTransform != nil {
		folded = name
	}
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
