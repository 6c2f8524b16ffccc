package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/firdaus0729/casino-frontend/internal/models"
)

// RoundStore holds the only shared mutable state of the engine. Every method
// that changes a round is a single atomic step: callers never observe a
// settled round without its block id and result, or two open rounds for one
// game.
type RoundStore interface {
	// OpenRound returns the round currently accepting bets, or ErrNoOpenRound.
	OpenRound(ctx context.Context, game models.GameType) (*models.Round, error)
	GetRound(ctx context.Context, game models.GameType, height int64) (*models.Round, error)
	// CreateRound stores r as the open round. It fails with ErrRoundExists
	// when another round is already open or r's height is taken.
	CreateRound(ctx context.Context, r *models.Round) error
	// RollRound closes the open round at height and opens next in the same
	// step. It returns the closed round.
	RollRound(ctx context.Context, game models.GameType, height int64, next *models.Round, at time.Time) (*models.Round, error)
	UpdateCutoff(ctx context.Context, game models.GameType, height int64, cutoff time.Time) error
	// VoidRound moves an open or pending round to VOID and adds it to the
	// unresolved set in the same step.
	VoidRound(ctx context.Context, game models.GameType, height int64, reason string, at time.Time) (*models.Round, error)
	// SettleRound stores block id and result of a pending round. Settling a
	// settled round changes nothing and returns the stored round with
	// applied == false. An applied settle adds the round to the unresolved
	// set in the same step.
	SettleRound(ctx context.Context, game models.GameType, height int64, blockID string, result models.Outcome, at time.Time) (round *models.Round, applied bool, err error)
	PendingRounds(ctx context.Context, game models.GameType) ([]*models.Round, error)
	RecentRounds(ctx context.Context, game models.GameType, limit int64) ([]*models.Round, error)
	// UnresolvedRounds returns settled or voided rounds whose bets have not
	// been resolved and announced yet, lowest height first.
	UnresolvedRounds(ctx context.Context, game models.GameType) ([]*models.Round, error)
	MarkRoundResolved(ctx context.Context, game models.GameType, height int64) error

	// AddBet stores bet if its round is still open, else ErrRoundClosed.
	AddBet(ctx context.Context, bet *models.Bet) error
	GetBet(ctx context.Context, id string) (*models.Bet, error)
	RoundBets(ctx context.Context, game models.GameType, height int64) ([]*models.Bet, error)
	// ResolveBet records the derived outcome once. Resolving again is a no-op
	// that returns the stored bet with applied == false.
	ResolveBet(ctx context.Context, id string, outcome models.BetOutcome, payout decimal.Decimal, at time.Time) (bet *models.Bet, applied bool, err error)
	UserBets(ctx context.Context, userID int64, limit int64) ([]*models.Bet, error)

	RateLimiter
	Ping(ctx context.Context) error
	Close() error
}

type RateLimiter interface {
	CheckRateLimit(ctx context.Context, userID int64, action string, limit int, window time.Duration) (bool, error)
}

func clampLimit(limit int64) int64 {
	if limit <= 0 || limit > 100 {
		return 50
	}
	return limit
}
