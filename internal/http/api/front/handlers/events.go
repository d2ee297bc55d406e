package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/contribuicha/cardreveal/internal/events"
	internalhttp "github.com/contribuicha/cardreveal/internal/http"
	"github.com/gin-gonic/gin"
)

// EventHandler serves the public event page data.
type EventHandler struct {
	events *events.Service
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(eventsService *events.Service) *EventHandler {
	return &EventHandler{events: eventsService}
}

// Get returns the event with redacted cards, total raised and goal progress.
func (h *EventHandler) Get(c *gin.Context) {
	slug := strings.TrimSpace(c.Param("slug"))
	view, err := h.events.PublicView(c.Request.Context(), slug, time.Now().UTC())
	if err != nil {
		internalhttp.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}
