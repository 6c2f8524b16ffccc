package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/firdaus0729/casino-frontend/internal/blocksource"
	"github.com/firdaus0729/casino-frontend/internal/fairness"
	"github.com/firdaus0729/casino-frontend/internal/models"
)

// SettlementResolver binds closed rounds to their block. It is the only
// writer of block id and result.
type SettlementResolver struct {
	game          models.GameType
	rule          fairness.Rule
	source        blocksource.Source
	store         RoundStore
	hooks         *hooks
	confirmations int64
	interval      time.Duration
	now           func() time.Time
}

func NewSettlementResolver(game models.GameType, rule fairness.Rule, source blocksource.Source, store RoundStore, h *hooks, confirmations int64, interval time.Duration) *SettlementResolver {
	return &SettlementResolver{
		game:          game,
		rule:          rule,
		source:        source,
		store:         store,
		hooks:         h,
		confirmations: confirmations,
		interval:      interval,
		now:           time.Now,
	}
}

// Settle stores the result of a closed round. A round that is already
// settled is returned as stored without contacting the block source. Bets
// left unresolved by an earlier attempt are picked up by SettlePending.
func (s *SettlementResolver) Settle(ctx context.Context, height int64) (*models.Round, error) {
	r, err := s.store.GetRound(ctx, s.game, height)
	if err != nil {
		return nil, err
	}

	switch r.State {
	case models.RoundStateSettled:
		return r, nil
	case models.RoundStateVoid:
		return nil, fmt.Errorf("%w: %s/%d (%s)", ErrRoundVoided, s.game, height, r.VoidReason)
	case models.RoundStateOpen:
		return nil, fmt.Errorf("%w: %s/%d", ErrRoundNotOver, s.game, height)
	}
	if r.Rule != s.rule.Name() {
		return nil, fmt.Errorf("round %d was opened under rule %s, resolver runs %s", height, r.Rule, s.rule.Name())
	}

	current, err := s.source.CurrentHeight(ctx)
	if err != nil {
		s.hooks.metrics.SourceErrors.WithLabelValues(string(s.game), "height").Inc()
		return nil, fmt.Errorf("current height: %w", err)
	}
	if current < height+s.confirmations {
		return nil, fmt.Errorf("%w: block %d has %d of %d confirmations", ErrBlockUnavailable, height, max(current-height, 0), s.confirmations)
	}

	blockID, err := s.source.BlockID(ctx, height)
	if err != nil {
		if !errors.Is(err, ErrBlockUnavailable) {
			s.hooks.metrics.SourceErrors.WithLabelValues(string(s.game), "block").Inc()
		}
		return nil, fmt.Errorf("block %d: %w", height, err)
	}

	d, err := s.rule.Derive(blockID)
	if err != nil {
		s.hooks.alerts.Alert(ctx, "Unusable block id",
			fmt.Sprintf("%s: block %d returned %q: %v", s.game, height, blockID, err))
		return nil, fmt.Errorf("derive block %d: %w", height, err)
	}

	now := s.now()
	settled, applied, err := s.store.SettleRound(ctx, s.game, height, blockID, d.Outcome, now)
	if err != nil {
		return nil, fmt.Errorf("settle round %d: %w", height, err)
	}

	if !applied {
		return settled, nil
	}

	s.hooks.metrics.RoundsSettled.WithLabelValues(string(s.game), string(settled.Result)).Inc()
	s.hooks.log.Info("round settled",
		zap.String("game", string(s.game)),
		zap.Int64("target_height", height),
		zap.String("block_id", blockID),
		zap.String("result", string(settled.Result)))

	if err := finishRound(ctx, s.store, s.rule, s.hooks, settled, now); err != nil {
		return settled, err
	}
	return settled, nil
}

// SettlePending first finishes terminal rounds whose bets are still
// unresolved, then tries every closed round once. Rounds whose block is not
// there yet stay pending for the next pass.
func (s *SettlementResolver) SettlePending(ctx context.Context) error {
	var errs []error

	unresolved, err := s.store.UnresolvedRounds(ctx, s.game)
	if err != nil {
		errs = append(errs, err)
	}
	for _, r := range unresolved {
		if err := finishRound(ctx, s.store, s.rule, s.hooks, r, s.now()); err != nil {
			errs = append(errs, err)
		}
	}

	pending, err := s.store.PendingRounds(ctx, s.game)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	for _, r := range pending {
		if _, err := s.Settle(ctx, r.TargetHeight); err != nil {
			if errors.Is(err, ErrBlockUnavailable) {
				continue
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *SettlementResolver) Run(ctx context.Context) error {
	log := s.hooks.log.With(zap.String("game", string(s.game)))
	log.Info("settlement resolver started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("settlement resolver stopped")
			return nil
		case <-ticker.C:
			if err := s.SettlePending(ctx); err != nil && ctx.Err() == nil {
				log.Warn("settlement pass failed", zap.Error(err))
			}
		}
	}
}
