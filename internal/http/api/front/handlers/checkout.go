package handlers

import (
	"net/http"
	"strings"

	"github.com/contribuicha/cardreveal/internal/apperr"
	"github.com/contribuicha/cardreveal/internal/checkout"
	"github.com/contribuicha/cardreveal/internal/events"
	internalhttp "github.com/contribuicha/cardreveal/internal/http"
	"github.com/contribuicha/cardreveal/internal/reconcile"
	"github.com/gin-gonic/gin"
)

// CheckoutHandler opens payment sessions and handles the return redirect.
type CheckoutHandler struct {
	events     *events.Service
	checkout   *checkout.Service
	reconciler *reconcile.Reconciler
}

// NewCheckoutHandler constructs a CheckoutHandler.
func NewCheckoutHandler(eventsService *events.Service, checkoutService *checkout.Service, reconciler *reconcile.Reconciler) *CheckoutHandler {
	return &CheckoutHandler{events: eventsService, checkout: checkoutService, reconciler: reconciler}
}

// createCheckoutRequest is the body for opening a session.
type createCheckoutRequest struct {
	CardID     uint64 `json:"card_id"`
	GuestName  string `json:"guest_name"`
	GuestEmail string `json:"guest_email"`
}

// Create reserves the card and returns the gateway URL.
func (h *CheckoutHandler) Create(c *gin.Context) {
	var body createCheckoutRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil || body.CardID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "card_id and guest_email are required", "reason": apperr.ReasonInvalidRequest})
		return
	}
	event, err := h.events.FindBySlug(c.Request.Context(), strings.TrimSpace(c.Param("slug")))
	if err != nil {
		internalhttp.WriteError(c, err)
		return
	}

	result, err := h.checkout.StartCheckout(c.Request.Context(), body.CardID, event.ID, body.GuestName, body.GuestEmail)
	if err != nil {
		internalhttp.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Return reconciles the session the guest was redirected back with.
func (h *CheckoutHandler) Return(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Query("session_id"))
	outcome, err := h.reconciler.ReconcileSession(c.Request.Context(), sessionID)
	if err != nil {
		internalhttp.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": outcome.SessionID,
		"paid":       outcome.Paid,
		"card_id":    outcome.CardID,
		"event_id":   outcome.EventID,
	})
}
