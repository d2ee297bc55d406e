// Package webhooks receives payment provider callbacks.
package webhooks

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/contribuicha/cardreveal/internal/apperr"
	"github.com/contribuicha/cardreveal/internal/gateway"
	internalhttp "github.com/contribuicha/cardreveal/internal/http"
	"github.com/contribuicha/cardreveal/internal/reconcile"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const maxWebhookBodyBytes = 1 << 20

// StripeHandler applies checkout.session events through the reconciler.
type StripeHandler struct {
	reconciler *reconcile.Reconciler
	secret     string
	tolerance  time.Duration
	now        func() time.Time
}

// NewStripeHandler constructs a StripeHandler. An empty secret rejects every delivery.
func NewStripeHandler(reconciler *reconcile.Reconciler, secret string) *StripeHandler {
	return &StripeHandler{
		reconciler: reconciler,
		secret:     secret,
		tolerance:  gateway.DefaultWebhookTolerance,
		now:        time.Now,
	}
}

// RegisterWebhookRoutes registers the provider callback routes.
func RegisterWebhookRoutes(r *gin.Engine, reconciler *reconcile.Reconciler, secret string) {
	if r == nil || reconciler == nil {
		return
	}
	handler := NewStripeHandler(reconciler, secret)
	r.POST("/v0/webhooks/stripe", handler.Receive)
}

// Receive verifies the signature and applies paid sessions. Unrelated events are acknowledged.
func (h *StripeHandler) Receive(c *gin.Context) {
	if h.secret == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "webhook not configured"})
		return
	}
	payload, errRead := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if errRead != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body failed"})
		return
	}
	if errVerify := gateway.VerifySignature(payload, c.GetHeader("Stripe-Signature"), h.secret, h.tolerance, h.now()); errVerify != nil {
		log.WithError(errVerify).Warn("stripe webhook: signature rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}
	evt, errParse := gateway.ParseEvent(payload)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event"})
		return
	}

	switch evt.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
	default:
		log.Debugf("stripe webhook: ignoring event type=%s id=%s", evt.Type, evt.ID)
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	status, errSession := gateway.SessionFromEvent(evt)
	if errSession != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session object"})
		return
	}
	outcome, err := h.reconciler.ApplySession(c.Request.Context(), status)
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) && (appErr.Kind == apperr.KindNotFound || appErr.Kind == apperr.KindValidation) {
			// Not one of ours; acknowledge so the provider stops retrying.
			log.WithError(err).Warnf("stripe webhook: session not applicable session=%s", status.ID)
			c.JSON(http.StatusOK, gin.H{"received": true, "applied": false})
			return
		}
		internalhttp.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"received":        true,
		"applied":         outcome.Paid,
		"payment_updated": outcome.PaymentUpdated,
	})
}
