package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/contribuicha/cardreveal/internal/apperr"
	"github.com/contribuicha/cardreveal/internal/events"
	internalhttp "github.com/contribuicha/cardreveal/internal/http"
	"github.com/contribuicha/cardreveal/internal/unlock"
	"github.com/gin-gonic/gin"
)

// UnlockHandler issues and verifies unlock codes.
type UnlockHandler struct {
	events *events.Service
	unlock *unlock.Service
}

// NewUnlockHandler constructs an UnlockHandler.
func NewUnlockHandler(eventsService *events.Service, unlockService *unlock.Service) *UnlockHandler {
	return &UnlockHandler{events: eventsService, unlock: unlockService}
}

// requestCodeRequest is the body for code issuance.
type requestCodeRequest struct {
	Email string `json:"email"`
}

// verifyCodeRequest is the body for code verification.
type verifyCodeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// Request reserves the card and emails a code.
func (h *UnlockHandler) Request(c *gin.Context) {
	eventID, cardNumber, ok := h.resolveCard(c)
	if !ok {
		return
	}
	var body requestCodeRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json", "reason": apperr.ReasonInvalidRequest})
		return
	}

	result, err := h.unlock.Issue(c.Request.Context(), eventID, cardNumber, body.Email)
	if err != nil {
		internalhttp.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":               result.OK,
		"already_reserved": result.AlreadyReserved,
		"message":          result.Message,
		"reserved_until":   result.ReservedUntil,
	})
}

// Verify checks a code and reveals the card value.
func (h *UnlockHandler) Verify(c *gin.Context) {
	eventID, cardNumber, ok := h.resolveCard(c)
	if !ok {
		return
	}
	var body verifyCodeRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json", "reason": apperr.ReasonInvalidRequest})
		return
	}

	result, err := h.unlock.Verify(c.Request.Context(), eventID, cardNumber, body.Email, strings.TrimSpace(body.Code))
	if err != nil {
		internalhttp.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":          result.OK,
		"card_number": result.CardNumber,
		"value":       result.CardValue,
		"message":     result.Message,
	})
}

func (h *UnlockHandler) resolveCard(c *gin.Context) (uint64, int, bool) {
	cardNumber, errParse := strconv.Atoi(strings.TrimSpace(c.Param("number")))
	if errParse != nil || cardNumber <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid card number", "reason": apperr.ReasonInvalidRequest})
		return 0, 0, false
	}
	event, err := h.events.FindBySlug(c.Request.Context(), strings.TrimSpace(c.Param("slug")))
	if err != nil {
		internalhttp.WriteError(c, err)
		return 0, 0, false
	}
	return event.ID, cardNumber, true
}
