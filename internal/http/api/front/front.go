package front

import (
	"github.com/contribuicha/cardreveal/internal/checkout"
	"github.com/contribuicha/cardreveal/internal/events"
	"github.com/contribuicha/cardreveal/internal/http/api/front/handlers"
	"github.com/contribuicha/cardreveal/internal/reconcile"
	"github.com/contribuicha/cardreveal/internal/unlock"
	"github.com/gin-gonic/gin"
)

// Services bundles what the guest-facing routes need.
type Services struct {
	Events     *events.Service
	Unlock     *unlock.Service
	Checkout   *checkout.Service
	Reconciler *reconcile.Reconciler
}

// RegisterFrontRoutes registers the public guest routes.
func RegisterFrontRoutes(r *gin.Engine, svc Services) {
	if r == nil || svc.Events == nil {
		return
	}

	front := r.Group("/v0/front")

	eventHandler := handlers.NewEventHandler(svc.Events)
	front.GET("/events/:slug", eventHandler.Get)

	if svc.Unlock != nil {
		unlockHandler := handlers.NewUnlockHandler(svc.Events, svc.Unlock)
		front.POST("/events/:slug/cards/:number/unlock", unlockHandler.Request)
		front.POST("/events/:slug/cards/:number/verify", unlockHandler.Verify)
	}

	if svc.Checkout != nil && svc.Reconciler != nil {
		checkoutHandler := handlers.NewCheckoutHandler(svc.Events, svc.Checkout, svc.Reconciler)
		front.POST("/events/:slug/checkout", checkoutHandler.Create)
		front.GET("/checkout/return", checkoutHandler.Return)
	}
}
