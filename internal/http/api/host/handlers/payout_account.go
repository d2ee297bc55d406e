package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/contribuicha/cardreveal/internal/apperr"
	"github.com/contribuicha/cardreveal/internal/gateway"
	"github.com/contribuicha/cardreveal/internal/models"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PayoutAccountHandler manages the host's connected payout account.
// Capability flags always come from the gateway, never from the request.
type PayoutAccountHandler struct {
	db      *gorm.DB
	gateway gateway.Gateway
}

// NewPayoutAccountHandler constructs a PayoutAccountHandler.
func NewPayoutAccountHandler(db *gorm.DB, gw gateway.Gateway) *PayoutAccountHandler {
	return &PayoutAccountHandler{db: db, gateway: gw}
}

// putPayoutAccountRequest is the body for linking an account.
type putPayoutAccountRequest struct {
	StripeAccountID string `json:"stripe_account_id"`
}

// Get returns the host's payout account with flags refreshed from the gateway.
func (h *PayoutAccountHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	var account models.HostPayoutAccount
	if errFind := h.db.WithContext(ctx).
		Where("host_id = ?", getHostID(c)).
		First(&account).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "payout account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query payout account failed"})
		return
	}

	remote, errAccount := h.gateway.GetAccount(ctx, account.StripeAccountID)
	if errAccount != nil {
		log.WithError(errAccount).Warnf("payout account: refresh %s failed, serving stored flags", account.StripeAccountID)
		c.JSON(http.StatusOK, formatPayoutAccount(&account))
		return
	}
	if applyAccountFlags(&account, remote) {
		if errUpdate := h.saveFlags(ctx, &account); errUpdate != nil {
			log.WithError(errUpdate).Warnf("payout account: persist flags for host %s failed", account.HostID)
		}
	}
	c.JSON(http.StatusOK, formatPayoutAccount(&account))
}

// Put links the host to a connected account after confirming it with the gateway.
func (h *PayoutAccountHandler) Put(c *gin.Context) {
	var body putPayoutAccountRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json", "reason": apperr.ReasonInvalidRequest})
		return
	}
	accountID := strings.TrimSpace(body.StripeAccountID)
	if !strings.HasPrefix(accountID, "acct_") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "stripe_account_id is invalid", "reason": apperr.ReasonInvalidRequest})
		return
	}

	ctx := c.Request.Context()
	remote, errAccount := h.gateway.GetAccount(ctx, accountID)
	if errAccount != nil {
		if errors.Is(errAccount, gateway.ErrAccountNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "stripe account not found", "reason": apperr.ReasonInvalidRequest})
			return
		}
		log.WithError(errAccount).Warnf("payout account: lookup %s failed", accountID)
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment gateway unavailable", "reason": apperr.ReasonGatewayFailed})
		return
	}

	account := models.HostPayoutAccount{
		HostID:          getHostID(c),
		StripeAccountID: accountID,
	}
	applyAccountFlags(&account, remote)
	if errUpsert := h.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "host_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"stripe_account_id", "charges_enabled", "payouts_enabled", "details_submitted", "updated_at"}),
	}).Create(&account).Error; errUpsert != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save payout account failed"})
		return
	}
	c.JSON(http.StatusOK, formatPayoutAccount(&account))
}

func (h *PayoutAccountHandler) saveFlags(ctx context.Context, account *models.HostPayoutAccount) error {
	return h.db.WithContext(ctx).Model(&models.HostPayoutAccount{}).
		Where("id = ?", account.ID).
		Updates(map[string]any{
			"charges_enabled":   account.ChargesEnabled,
			"payouts_enabled":   account.PayoutsEnabled,
			"details_submitted": account.DetailsSubmitted,
			"updated_at":        time.Now().UTC(),
		}).Error
}

// applyAccountFlags copies the gateway's flags onto the row and reports whether any changed.
func applyAccountFlags(account *models.HostPayoutAccount, remote gateway.Account) bool {
	changed := account.ChargesEnabled != remote.ChargesEnabled ||
		account.PayoutsEnabled != remote.PayoutsEnabled ||
		account.DetailsSubmitted != remote.DetailsSubmitted
	account.ChargesEnabled = remote.ChargesEnabled
	account.PayoutsEnabled = remote.PayoutsEnabled
	account.DetailsSubmitted = remote.DetailsSubmitted
	return changed
}

func formatPayoutAccount(account *models.HostPayoutAccount) gin.H {
	return gin.H{
		"host_id":           account.HostID,
		"stripe_account_id": account.StripeAccountID,
		"charges_enabled":   account.ChargesEnabled,
		"payouts_enabled":   account.PayoutsEnabled,
		"details_submitted": account.DetailsSubmitted,
	}
}
