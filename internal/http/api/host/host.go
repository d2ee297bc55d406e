package host

import (
	"net/http"
	"strings"

	"github.com/contribuicha/cardreveal/internal/config"
	"github.com/contribuicha/cardreveal/internal/events"
	"github.com/contribuicha/cardreveal/internal/gateway"
	"github.com/contribuicha/cardreveal/internal/http/api/host/handlers"
	"github.com/contribuicha/cardreveal/internal/reconcile"
	"github.com/contribuicha/cardreveal/internal/security"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// RegisterHostRoutes registers the authenticated host routes.
func RegisterHostRoutes(r *gin.Engine, db *gorm.DB, jwtCfg config.JWTConfig, eventsService *events.Service, reconciler *reconcile.Reconciler, gw gateway.Gateway) {
	if r == nil || db == nil || eventsService == nil {
		return
	}

	host := r.Group("/v0/host")
	host.Use(hostAuthMiddleware(jwtCfg))

	eventHandler := handlers.NewEventHandler(db, eventsService)
	host.GET("/events", eventHandler.List)
	host.POST("/events", eventHandler.Create)
	host.GET("/events/:id", eventHandler.Get)
	host.POST("/events/:id/cards", eventHandler.CreateCards)
	host.GET("/events/:id/cards", eventHandler.ListCards)
	host.GET("/events/:id/payments", eventHandler.ListPayments)

	if gw != nil {
		payoutHandler := handlers.NewPayoutAccountHandler(db, gw)
		host.GET("/payout-account", payoutHandler.Get)
		host.PUT("/payout-account", payoutHandler.Put)
	}

	if reconciler != nil {
		reconcileHandler := handlers.NewReconcileHandler(reconciler)
		host.POST("/reconcile", reconcileHandler.Run)
	}
}

// hostAuthMiddleware validates host JWTs and stores the host ID in context.
func hostAuthMiddleware(jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseHostToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("hostID", claims.HostID)
		c.Next()
	}
}
