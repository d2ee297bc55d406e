package notify

import (
	"context"

	"github.com/contribuicha/cardreveal/internal/util"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// LogNotifier logs messages instead of sending them. Used when no email provider is configured.
type LogNotifier struct{}

// Send logs the recipient and subject. The body is never logged since it carries the code.
func (LogNotifier) Send(_ context.Context, msg Message) (string, error) {
	id := "log-" + uuid.NewString()
	log.WithFields(log.Fields{
		"to":         util.MaskEmail(msg.To),
		"subject":    msg.Subject,
		"message_id": id,
	}).Warn("notify: email provider not configured, message dropped")
	return id, nil
}
