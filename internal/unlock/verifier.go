package unlock

import (
	"context"

	"github.com/contribuicha/cardreveal/internal/apperr"
	"github.com/contribuicha/cardreveal/internal/models"
	"github.com/contribuicha/cardreveal/internal/security"
	"github.com/contribuicha/cardreveal/internal/util"
	log "github.com/sirupsen/logrus"
)

// VerifyResult is the outcome of a successful verification. Only the card's own value is returned.
type VerifyResult struct {
	OK         bool
	CardNumber int
	CardValue  int64
	Message    string
}

// Verify checks code for the card reserved by email and reveals the card on success.
// Every call that passes input validation counts as one attempt.
func (s *Service) Verify(ctx context.Context, eventID uint64, cardNumber int, email, code string) (result VerifyResult, err error) {
	defer func() { s.metrics.UnlockOutcome("verify", resultLabel(err)) }()

	email, err = normalizeEmail(email)
	if err != nil {
		return VerifyResult{}, err
	}
	if !ValidCodeFormat(code) {
		return VerifyResult{}, apperr.Validation(apperr.ReasonInvalidCode, "code must be 6 digits")
	}

	decision, err := s.limiter.CheckAndRecordAttempt(ctx, email, eventID, cardNumber)
	if err != nil {
		return VerifyResult{}, err
	}
	if !decision.Allowed {
		return VerifyResult{}, apperr.RateLimited(decision.LockedUntil)
	}

	card, err := s.machine.FindByNumber(ctx, eventID, cardNumber)
	if err != nil {
		return VerifyResult{}, err
	}
	now := s.now()

	switch {
	case card.Status == models.CardStatusRevealed:
		return VerifyResult{}, apperr.Conflict(apperr.ReasonAlreadyRevealed, "card already revealed")
	case card.Status != models.CardStatusReserved:
		return VerifyResult{}, apperr.Conflict(apperr.ReasonReservationExpired, "no active reservation for this card")
	case !card.ReservedBy(email):
		return VerifyResult{}, apperr.Conflict(apperr.ReasonReservedByOther, "card reserved by another participant")
	case card.ReservationExpired(now):
		return VerifyResult{}, apperr.Conflict(apperr.ReasonReservationExpired, "reservation expired, request a new code")
	}

	if card.UnlockCode == nil || !security.CheckUnlockCode(*card.UnlockCode, code) {
		return VerifyResult{}, apperr.WrongCode(decision.AttemptsRemaining)
	}

	revealed, err := s.machine.RevealWithCode(ctx, card.ID, email, *card.UnlockCode, now)
	if err != nil {
		return VerifyResult{}, err
	}
	if !revealed {
		return VerifyResult{}, apperr.Conflict(apperr.ReasonNoLongerAvailable, "card was revealed or released concurrently")
	}

	if errReset := s.limiter.Reset(ctx, email, eventID, cardNumber); errReset != nil {
		log.WithError(errReset).Warnf("unlock: reset attempts after verify failed event=%d card=%d", eventID, cardNumber)
	}
	log.Infof("unlock: card revealed event=%d card=%d by=%s", eventID, cardNumber, util.MaskEmail(email))
	return VerifyResult{
		OK:         true,
		CardNumber: card.CardNumber,
		CardValue:  card.Value,
		Message:    "card revealed",
	}, nil
}
