package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/contribuicha/cardreveal/internal/apperr"
	"github.com/contribuicha/cardreveal/internal/cards"
	dbutil "github.com/contribuicha/cardreveal/internal/db"
	"github.com/contribuicha/cardreveal/internal/events"
	internalhttp "github.com/contribuicha/cardreveal/internal/http"
	"github.com/contribuicha/cardreveal/internal/models"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// EventHandler manages a host's events, cards and payments.
type EventHandler struct {
	db     *gorm.DB
	events *events.Service
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(db *gorm.DB, eventsService *events.Service) *EventHandler {
	return &EventHandler{db: db, events: eventsService}
}

// createEventRequest is the body for event creation.
type createEventRequest struct {
	Name        string     `json:"name"`        // Display name.
	Description string     `json:"description"` // Optional description.
	Date        *time.Time `json:"date"`        // Optional event date.
	ThemeColor  string     `json:"theme_color"` // Optional accent color.
	NumCards    int        `json:"num_cards"`   // Cards to generate now; 0 defers generation.
	MinValue    int64      `json:"min_value"`   // Lowest card value in minor units.
	MaxValue    int64      `json:"max_value"`   // Highest card value in minor units.
	GoalAmount  int64      `json:"goal_amount"` // Optional goal in minor units.
}

// createCardsRequest is the body for card generation.
type createCardsRequest struct {
	Count      int   `json:"count"`
	MinValue   int64 `json:"min_value"`
	MaxValue   int64 `json:"max_value"`
	GoalAmount int64 `json:"goal_amount"`
}

// paymentDTO is the host-facing payment payload.
type paymentDTO struct {
	ID              uint64     `json:"id"`
	CardID          uint64     `json:"card_id"`
	Amount          int64      `json:"amount"`
	TransactionFee  int64      `json:"transaction_fee"`
	Currency        string     `json:"currency"`
	GuestEmail      string     `json:"guest_email"`
	GuestName       string     `json:"guest_name"`
	Status          string     `json:"status"`
	StripeSessionID string     `json:"stripe_session_id"`
	TransferID      string     `json:"transfer_id,omitempty"`
	PaidAt          *time.Time `json:"paid_at"`
	CreatedAt       time.Time  `json:"created_at"`
}

// List returns the host's events.
func (h *EventHandler) List(c *gin.Context) {
	list, err := h.events.ListForHost(c.Request.Context(), getHostID(c))
	if err != nil {
		internalhttp.WriteError(c, err)
		return
	}
	out := make([]gin.H, 0, len(list))
	for i := range list {
		out = append(out, formatEvent(&list[i]))
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

// Create stores a new event for the host.
func (h *EventHandler) Create(c *gin.Context) {
	var body createEventRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json", "reason": apperr.ReasonInvalidRequest})
		return
	}
	event, err := h.events.CreateEvent(c.Request.Context(), events.CreateParams{
		HostID:      getHostID(c),
		Name:        body.Name,
		Description: body.Description,
		Date:        body.Date,
		ThemeColor:  body.ThemeColor,
		NumCards:    body.NumCards,
		MinValue:    body.MinValue,
		MaxValue:    body.MaxValue,
		GoalAmount:  body.GoalAmount,
	})
	if err != nil {
		internalhttp.WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, formatEvent(event))
}

// Get returns one of the host's events.
func (h *EventHandler) Get(c *gin.Context) {
	event, ok := h.loadEvent(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, formatEvent(event))
}

// CreateCards generates the event's cards.
func (h *EventHandler) CreateCards(c *gin.Context) {
	event, ok := h.loadEvent(c)
	if !ok {
		return
	}
	var body createCardsRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json", "reason": apperr.ReasonInvalidRequest})
		return
	}
	list, err := h.events.CreateCardsForEvent(c.Request.Context(), event.ID, body.Count, body.MinValue, body.MaxValue, body.GoalAmount)
	if err != nil {
		internalhttp.WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"cards": cards.ForHost(list)})
}

// ListCards returns the event's cards with guest identity, filtered by status and guest.
func (h *EventHandler) ListCards(c *gin.Context) {
	event, ok := h.loadEvent(c)
	if !ok {
		return
	}
	var (
		statusQ = strings.TrimSpace(c.Query("status"))
		guestQ  = strings.TrimSpace(c.Query("guest"))
	)

	q := h.db.WithContext(c.Request.Context()).
		Model(&models.Card{}).
		Where("event_id = ?", event.ID)
	if statusQ != "" {
		q = q.Where("status = ?", statusQ)
	}
	if guestQ != "" {
		pattern := dbutil.NormalizeLikePattern(h.db, "%"+guestQ+"%")
		q = q.Where(
			dbutil.CaseInsensitiveLikeExpr(h.db, "guest_email")+" OR "+dbutil.CaseInsensitiveLikeExpr(h.db, "guest_name"),
			pattern, pattern,
		)
	}

	var rows []models.Card
	if errFind := q.Order("card_number ASC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list cards failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cards": cards.ForHost(rows)})
}

// ListPayments returns the event's payments, newest first.
func (h *EventHandler) ListPayments(c *gin.Context) {
	event, ok := h.loadEvent(c)
	if !ok {
		return
	}
	var (
		statusQ = strings.TrimSpace(c.Query("status"))
		guestQ  = strings.TrimSpace(c.Query("guest"))
	)

	q := h.db.WithContext(c.Request.Context()).
		Model(&models.Payment{}).
		Where("event_id = ?", event.ID)
	if statusQ != "" {
		q = q.Where("status = ?", statusQ)
	}
	if guestQ != "" {
		pattern := dbutil.NormalizeLikePattern(h.db, "%"+guestQ+"%")
		q = q.Where(
			dbutil.CaseInsensitiveLikeExpr(h.db, "guest_email")+" OR "+dbutil.CaseInsensitiveLikeExpr(h.db, "guest_name"),
			pattern, pattern,
		)
	}

	var rows []models.Payment
	if errFind := q.Order("created_at DESC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list payments failed"})
		return
	}
	out := make([]paymentDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, paymentDTO{
			ID:              row.ID,
			CardID:          row.CardID,
			Amount:          row.Amount,
			TransactionFee:  row.TransactionFee,
			Currency:        row.Currency,
			GuestEmail:      row.GuestEmail,
			GuestName:       row.GuestName,
			Status:          row.Status,
			StripeSessionID: row.StripeSessionID,
			TransferID:      row.TransferID,
			PaidAt:          row.PaidAt,
			CreatedAt:       row.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"payments": out})
}

func formatEvent(event *models.Event) gin.H {
	return gin.H{
		"id":          event.ID,
		"name":        event.Name,
		"slug":        event.Slug,
		"description": event.Description,
		"date":        event.Date,
		"theme_color": event.ThemeColor,
		"num_cards":   event.NumCards,
		"min_value":   event.MinValue,
		"max_value":   event.MaxValue,
		"goal_amount": event.GoalAmount,
		"created_at":  event.CreatedAt,
	}
}

func (h *EventHandler) loadEvent(c *gin.Context) (*models.Event, bool) {
	id, ok := internalhttp.ParseID(strings.TrimSpace(c.Param("id")))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id", "reason": apperr.ReasonInvalidRequest})
		return nil, false
	}
	event, err := h.events.FindForHost(c.Request.Context(), getHostID(c), id)
	if err != nil {
		internalhttp.WriteError(c, err)
		return nil, false
	}
	return event, true
}
