package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/firdaus0729/casino-frontend/internal/fairness"
	"github.com/firdaus0729/casino-frontend/internal/models"
)

// hooks are the side channels every lifecycle step reports to. Publishing is
// best effort: round state in the store is the source of truth.
type hooks struct {
	log     *zap.Logger
	events  Broadcaster
	alerts  Alerter
	metrics *Metrics
}

func (h *hooks) publish(ctx context.Context, e Event) {
	if err := h.events.Broadcast(ctx, e); err != nil {
		h.metrics.SinkErrors.WithLabelValues(string(e.Type)).Inc()
		h.log.Error("failed to publish event",
			zap.String("event", string(e.Type)),
			zap.String("game", string(e.GameType)),
			zap.Error(err))
	}
}

// resolveBets records the outcome of every bet on a terminal round. Bets that
// were already resolved keep their stored outcome. The returned slice holds
// all bets of the round as stored after the call.
func resolveBets(ctx context.Context, store RoundStore, rule fairness.Rule, r *models.Round, at time.Time) ([]*models.Bet, error) {
	bets, err := store.RoundBets(ctx, r.GameType, r.TargetHeight)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Bet, 0, len(bets))
	for _, b := range bets {
		if b.Resolved() {
			out = append(out, b)
			continue
		}

		var outcome models.BetOutcome
		switch r.State {
		case models.RoundStateSettled:
			outcome = rule.Resolve(b.Choice, r.Result)
		case models.RoundStateVoid:
			outcome = models.BetOutcomeVoid
		default:
			return nil, fmt.Errorf("%w: round %d is %s", ErrRoundNotOver, r.TargetHeight, r.State)
		}

		resolved, _, err := store.ResolveBet(ctx, b.ID, outcome, fairness.Payout(rule, b.Choice, outcome, b.Amount), at)
		if err != nil {
			return nil, fmt.Errorf("resolve bet %s: %w", b.ID, err)
		}
		out = append(out, resolved)
	}
	return out, nil
}

// finishRound resolves the bets of a terminal round, announces the round
// with its bets and drops it from the unresolved set. A failure leaves the
// round unresolved for the next resolver pass, so the event may be published
// more than once; consumers key on game and height.
func finishRound(ctx context.Context, store RoundStore, rule fairness.Rule, h *hooks, r *models.Round, at time.Time) error {
	bets, err := resolveBets(ctx, store, rule, r, at)
	if err != nil {
		return fmt.Errorf("resolve bets of round %d: %w", r.TargetHeight, err)
	}

	typ := EventRoundSettled
	if r.State == models.RoundStateVoid {
		typ = EventRoundVoided
	}
	e := newEvent(typ, r, at)
	e.Bets = bets
	h.publish(ctx, e)

	return store.MarkRoundResolved(ctx, r.GameType, r.TargetHeight)
}

// voidRound moves a round to VOID, then refunds its bets and tells everyone.
// If the refunds fail the round stays in the unresolved set.
func voidRound(ctx context.Context, store RoundStore, rule fairness.Rule, h *hooks, game models.GameType, height int64, reason string, at time.Time) error {
	r, err := store.VoidRound(ctx, game, height, reason, at)
	if err != nil {
		return err
	}

	h.metrics.RoundsVoided.WithLabelValues(string(game), reason).Inc()
	h.log.Warn("round voided",
		zap.String("game", string(game)),
		zap.Int64("target_height", height),
		zap.String("reason", reason))

	if err := finishRound(ctx, store, rule, h, r, at); err != nil {
		h.log.Error("failed to refund voided round", zap.String("game", string(game)), zap.Int64("target_height", height), zap.Error(err))
		return err
	}
	return nil
}
