package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/firdaus0729/casino-frontend/internal/fairness"
	"github.com/firdaus0729/casino-frontend/internal/models"
)

type AdmitRequest struct {
	UserID   int64
	Choice   models.Outcome
	Amount   decimal.Decimal
	Currency string
}

type BetLimits struct {
	Min        decimal.Decimal
	Max        decimal.Decimal
	Currencies []string
}

// BetGate decides whether a bet joins the open round. It never writes round
// state and never waits on the tracker.
type BetGate struct {
	game   models.GameType
	rule   fairness.Rule
	store  RoundStore
	limits BetLimits
}

func NewBetGate(game models.GameType, rule fairness.Rule, store RoundStore, limits BetLimits) *BetGate {
	return &BetGate{game: game, rule: rule, store: store, limits: limits}
}

// Admit validates the request and then attaches the bet to the round open at
// now. The request is checked in full before any round state is read.
func (g *BetGate) Admit(ctx context.Context, req AdmitRequest, now time.Time) (*models.Bet, *models.Round, error) {
	currency, err := g.validate(req)
	if err != nil {
		return nil, nil, err
	}

	round, err := g.store.OpenRound(ctx, g.game)
	if errors.Is(err, ErrNoOpenRound) {
		return nil, nil, fmt.Errorf("%w: no round is open for %s", ErrRoundClosed, g.game)
	}
	if err != nil {
		return nil, nil, err
	}
	if !round.AcceptsAt(now) {
		return nil, round, fmt.Errorf("%w: round %d stopped accepting bets at %s", ErrRoundClosed, round.TargetHeight, round.CutoffAt.Format(time.RFC3339))
	}

	bet := &models.Bet{
		ID:       models.GenerateBetID(),
		UserID:   req.UserID,
		GameType: g.game,
		RoundRef: round.TargetHeight,
		Choice:   req.Choice,
		Amount:   req.Amount,
		Currency: currency,
		PlacedAt: now,
		Payout:   decimal.Zero,
	}
	if err := g.store.AddBet(ctx, bet); err != nil {
		return nil, round, err
	}
	return bet, round, nil
}

func (g *BetGate) validate(req AdmitRequest) (string, error) {
	if !req.Amount.IsPositive() {
		return "", fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidAmount, req.Amount)
	}
	if req.Amount.LessThan(g.limits.Min) || req.Amount.GreaterThan(g.limits.Max) {
		return "", fmt.Errorf("%w: amount %s outside %s..%s", ErrInvalidAmount, req.Amount, g.limits.Min, g.limits.Max)
	}
	if !fairness.Contains(g.rule, req.Choice) {
		return "", fmt.Errorf("%w: %q is not a %s outcome", ErrInvalidChoice, req.Choice, g.game)
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" && len(g.limits.Currencies) > 0 {
		return g.limits.Currencies[0], nil
	}
	for _, c := range g.limits.Currencies {
		if c == currency {
			return currency, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, req.Currency)
}
