package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/contribuicha/cardreveal/internal/apperr"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// WriteError renders err as a JSON error body with the status of its kind.
// Lockouts carry a Retry-After header; wrong codes carry the attempts left.
func WriteError(c *gin.Context, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		log.WithError(err).Errorf("unclassified error on %s %s", c.Request.Method, c.FullPath())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "reason": apperr.ReasonStorageFailed})
		return
	}

	status := apperr.HTTPStatus(appErr.Kind)
	body := gin.H{"error": appErr.Message, "reason": appErr.Reason}
	if appErr.Reason == apperr.ReasonWrongCode && appErr.AttemptsRemaining >= 0 {
		body["attempts_remaining"] = appErr.AttemptsRemaining
	}
	if appErr.LockedUntil != nil {
		retry := int(appErr.RetryAfter(time.Now()).Seconds())
		body["locked_until"] = appErr.LockedUntil.UTC()
		body["retry_after_seconds"] = retry
		c.Header("Retry-After", strconv.Itoa(retry))
	}
	if status >= http.StatusInternalServerError {
		log.WithError(appErr).Errorf("request failed on %s %s", c.Request.Method, c.FullPath())
	}
	c.JSON(status, body)
}

// ParseID parses a positive numeric path or query value.
func ParseID(raw string) (uint64, bool) {
	id, errParse := strconv.ParseUint(raw, 10, 64)
	if errParse != nil || id == 0 {
		return 0, false
	}
	return id, true
}
