package unlock

import (
	"context"
	"time"

	"github.com/contribuicha/cardreveal/internal/apperr"
	"github.com/contribuicha/cardreveal/internal/models"
	"github.com/contribuicha/cardreveal/internal/notify"
	"github.com/contribuicha/cardreveal/internal/security"
	"github.com/contribuicha/cardreveal/internal/util"
	log "github.com/sirupsen/logrus"
)

// IssueResult is the outcome of a successful issuance.
type IssueResult struct {
	OK              bool
	AlreadyReserved bool
	Message         string
	MessageID       string
	ReservedUntil   *time.Time
}

// Issue reserves the card for email and sends it a fresh unlock code.
// A guest re-entering their own live reservation that already has a code gets success without a new
// code. A live reservation taken at checkout has no code yet, so one is attached and sent.
func (s *Service) Issue(ctx context.Context, eventID uint64, cardNumber int, email string) (result IssueResult, err error) {
	defer func() { s.metrics.UnlockOutcome("issue", resultLabel(err)) }()

	email, err = normalizeEmail(email)
	if err != nil {
		return IssueResult{}, err
	}
	event, err := s.events.FindByID(ctx, eventID)
	if err != nil {
		return IssueResult{}, err
	}
	card, err := s.machine.FindByNumber(ctx, eventID, cardNumber)
	if err != nil {
		return IssueResult{}, err
	}
	now := s.now()
	attach := false

	switch card.Status {
	case models.CardStatusRevealed:
		return IssueResult{}, apperr.Conflict(apperr.ReasonAlreadyRevealed, "card already revealed")
	case models.CardStatusReserved:
		if card.ReservationExpired(now) {
			if _, errExpire := s.machine.ExpireReservation(ctx, card.ID, now); errExpire != nil {
				return IssueResult{}, errExpire
			}
			// Whether or not this call won the expiry, the reserve CAS below decides the outcome.
			break
		}
		if !card.ReservedBy(email) {
			return IssueResult{}, apperr.Conflict(apperr.ReasonReservedByOther, "card reserved by another participant")
		}
		if card.UnlockCode == nil {
			attach = true
			break
		}
		return IssueResult{
			OK:              true,
			AlreadyReserved: true,
			Message:         "card already reserved for this email",
			ReservedUntil:   card.ReservedUntil,
		}, nil
	}

	decision, err := s.limiter.CheckAndRecordAttempt(ctx, email, eventID, cardNumber)
	if err != nil {
		return IssueResult{}, err
	}
	if !decision.Allowed {
		return IssueResult{}, apperr.RateLimited(decision.LockedUntil)
	}

	code, err := s.generator.Generate()
	if err != nil {
		return IssueResult{}, apperr.Internal("generate unlock code", err)
	}
	hash, err := security.HashUnlockCode(code)
	if err != nil {
		return IssueResult{}, apperr.Internal("hash unlock code", err)
	}
	until := now.Add(s.ttl())

	var reserved bool
	if attach {
		reserved, err = s.machine.AttachCode(ctx, card.ID, email, hash, now, until)
	} else {
		reserved, err = s.machine.Reserve(ctx, card.ID, email, hash, until)
	}
	if err != nil {
		return IssueResult{}, err
	}
	if !reserved {
		return IssueResult{}, apperr.Conflict(apperr.ReasonNoLongerAvailable, "card no longer available")
	}

	msg, err := notify.UnlockCodeMessage(email, notify.UnlockCodeData{EventName: event.Name, CardNumber: card.CardNumber, Code: code})
	if err != nil {
		s.rollback(ctx, card.ID, email, hash, attach)
		return IssueResult{}, apperr.Internal("render unlock email", err)
	}
	messageID, errSend := s.notifier.Send(ctx, msg)
	if errSend != nil {
		s.rollback(ctx, card.ID, email, hash, attach)
		log.WithError(errSend).Warnf("unlock: notification failed event=%d card=%d to=%s", eventID, cardNumber, util.MaskEmail(email))
		return IssueResult{}, apperr.Upstream(apperr.ReasonNotificationFailed, "could not send unlock code", errSend)
	}

	if errReset := s.limiter.Reset(ctx, email, eventID, cardNumber); errReset != nil {
		log.WithError(errReset).Warnf("unlock: reset attempts after issue failed event=%d card=%d", eventID, cardNumber)
	}
	log.Infof("unlock: code issued event=%d card=%d to=%s message_id=%s", eventID, cardNumber, util.MaskEmail(email), messageID)
	return IssueResult{
		OK:            true,
		Message:       "unlock code sent",
		MessageID:     messageID,
		ReservedUntil: &until,
	}, nil
}

// rollback undoes what this call did to the card: a fresh reservation is released, a code attached
// to a checkout reservation is removed. Both are keyed on the code hash so they never touch a
// reservation changed by anyone else.
func (s *Service) rollback(ctx context.Context, cardID uint64, email, hash string, attached bool) {
	ctx = context.WithoutCancel(ctx)
	var released bool
	var errRelease error
	if attached {
		released, errRelease = s.machine.DetachCode(ctx, cardID, email, hash)
	} else {
		released, errRelease = s.machine.ReleaseReservation(ctx, cardID, email, hash)
	}
	if errRelease != nil {
		log.WithError(errRelease).Errorf("unlock: release reservation failed card_id=%d", cardID)
		return
	}
	if !released {
		log.Warnf("unlock: reservation already changed before release card_id=%d", cardID)
	}
}
