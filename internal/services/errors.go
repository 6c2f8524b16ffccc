package services

import (
	"errors"

	"github.com/firdaus0729/casino-frontend/internal/blocksource"
	"github.com/firdaus0729/casino-frontend/internal/fairness"
)

var (
	ErrInvalidBlockIdentifier = fairness.ErrInvalidBlockIdentifier
	ErrFairnessMismatch       = fairness.ErrFairnessMismatch
	ErrBlockUnavailable       = blocksource.ErrBlockUnavailable

	ErrRoundClosed  = errors.New("round closed")
	ErrRoundVoided  = errors.New("round voided")
	ErrRoundNotOver = errors.New("round still open")

	ErrInvalidAmount   = errors.New("invalid bet amount")
	ErrInvalidChoice   = errors.New("invalid bet choice")
	ErrInvalidCurrency = errors.New("invalid currency")
	ErrRateLimited     = errors.New("rate limit exceeded")

	ErrRoundNotFound     = errors.New("round not found")
	ErrNoOpenRound       = errors.New("no open round")
	ErrRoundExists       = errors.New("round already exists")
	ErrInvalidTransition = errors.New("invalid round transition")
	ErrBetNotFound       = errors.New("bet not found")
	ErrDuplicateBet      = errors.New("duplicate bet")
	ErrUnknownGame       = errors.New("unknown game")
)

// IsValidationError reports whether err is a rejection the caller caused and
// can fix by changing the request.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidChoice) ||
		errors.Is(err, ErrInvalidCurrency)
}
