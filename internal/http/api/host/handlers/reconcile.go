package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/contribuicha/cardreveal/internal/apperr"
	internalhttp "github.com/contribuicha/cardreveal/internal/http"
	"github.com/contribuicha/cardreveal/internal/reconcile"
	"github.com/gin-gonic/gin"
)

// ReconcileHandler triggers on-demand reconciliation.
type ReconcileHandler struct {
	reconciler *reconcile.Reconciler
}

// NewReconcileHandler constructs a ReconcileHandler.
func NewReconcileHandler(reconciler *reconcile.Reconciler) *ReconcileHandler {
	return &ReconcileHandler{reconciler: reconciler}
}

// Run reconciles pending payments within the window query value, default from settings.
func (h *ReconcileHandler) Run(c *gin.Context) {
	var window time.Duration
	if raw := strings.TrimSpace(c.Query("window")); raw != "" {
		parsed, errParse := time.ParseDuration(raw)
		if errParse != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid window", "reason": apperr.ReasonInvalidRequest})
			return
		}
		window = parsed
	}
	summary, err := h.reconciler.ReconcilePending(c.Request.Context(), window)
	if err != nil {
		internalhttp.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
