package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/firdaus0729/casino-frontend/internal/blocksource"
	"github.com/firdaus0729/casino-frontend/internal/fairness"
	"github.com/firdaus0729/casino-frontend/internal/models"
)

const (
	VoidReasonStall   = "chain_stall"
	VoidReasonTimeout = "block_timeout"
)

type TrackerConfig struct {
	Stride         int64
	CloseOffset    int64
	BlockInterval  time.Duration
	PollInterval   time.Duration
	BackoffMin     time.Duration
	BackoffMax     time.Duration
	StallTimeout   time.Duration
	PendingTimeout time.Duration
}

// RoundTracker owns the lifecycle of one game's rounds: it keeps exactly one
// round open, rolls it when the chain reaches its close height and voids
// rounds whose block cannot be expected anymore.
type RoundTracker struct {
	game   models.GameType
	rule   fairness.Rule
	source blocksource.Source
	store  RoundStore
	hooks  *hooks
	cfg    TrackerConfig
	now    func() time.Time

	mu           sync.RWMutex
	height       int64
	lastProgress time.Time
	stalled      bool
}

func NewRoundTracker(game models.GameType, rule fairness.Rule, source blocksource.Source, store RoundStore, h *hooks, cfg TrackerConfig) *RoundTracker {
	return &RoundTracker{
		game:   game,
		rule:   rule,
		source: source,
		store:  store,
		hooks:  h,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Height is the highest block height observed so far, zero before the first
// successful poll.
func (t *RoundTracker) Height() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.height
}

func (t *RoundTracker) Stalled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stalled
}

// Run polls until ctx is done. Failed polls back off exponentially between
// BackoffMin and BackoffMax; the stall deadline keeps running meanwhile.
func (t *RoundTracker) Run(ctx context.Context) error {
	log := t.hooks.log.With(zap.String("game", string(t.game)))
	log.Info("round tracker started", zap.Duration("poll_interval", t.cfg.PollInterval))

	backoff := time.Duration(0)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("round tracker stopped")
			return nil
		case <-timer.C:
		}

		wait := t.cfg.PollInterval
		if err := t.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			backoff = nextBackoff(backoff, t.cfg.BackoffMin, t.cfg.BackoffMax)
			wait = backoff
			log.Warn("tick failed", zap.Duration("retry_in", wait), zap.Error(err))
		} else {
			backoff = 0
		}
		timer.Reset(wait)
	}
}

func nextBackoff(cur, min, max time.Duration) time.Duration {
	if cur < min {
		return min
	}
	cur *= 2
	if cur > max {
		return max
	}
	return cur
}

// Tick runs one poll: observe the chain, void what can no longer settle, and
// move the open round forward. No round is opened or rolled on a failed poll.
func (t *RoundTracker) Tick(ctx context.Context) error {
	h, err := t.source.CurrentHeight(ctx)
	now := t.now()
	if err != nil {
		t.hooks.metrics.SourceErrors.WithLabelValues(string(t.game), "height").Inc()
		err = fmt.Errorf("current height: %w", err)
	}

	t.observe(h, err == nil, now)
	stalled, serr := t.checkStall(ctx, now)
	// the pending deadline runs whether or not the source answers
	perr := t.expirePending(ctx, now)
	if stalled || err != nil || serr != nil || perr != nil {
		return errors.Join(err, serr, perr)
	}
	return t.advance(ctx, t.Height(), now)
}

func (t *RoundTracker) observe(h int64, ok bool, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.lastProgress.IsZero() {
		t.lastProgress = now
	}
	if !ok || h <= t.height {
		return
	}
	t.height = h
	t.lastProgress = now
	t.hooks.metrics.ChainHeight.WithLabelValues(string(t.game)).Set(float64(h))
	if t.stalled {
		t.stalled = false
		t.hooks.log.Info("chain progress resumed", zap.String("game", string(t.game)), zap.Int64("height", h))
	}
}

// checkStall voids the open round and every pending round whose block has not
// been produced once no progress was seen for StallTimeout. No round is
// opened while stalled.
func (t *RoundTracker) checkStall(ctx context.Context, now time.Time) (bool, error) {
	t.mu.Lock()
	since := now.Sub(t.lastProgress)
	if since <= t.cfg.StallTimeout {
		t.mu.Unlock()
		return false, nil
	}
	first := !t.stalled
	t.stalled = true
	height := t.height
	t.mu.Unlock()

	if first {
		t.hooks.alerts.Alert(ctx, "Chain stall",
			fmt.Sprintf("%s: no block progress since height %d for %s, voiding open and unproduced rounds", t.game, height, since.Round(time.Second)))
	}

	var errs []error
	open, err := t.store.OpenRound(ctx, t.game)
	switch {
	case err == nil:
		errs = append(errs, voidRound(ctx, t.store, t.rule, t.hooks, t.game, open.TargetHeight, VoidReasonStall, now))
	case !errors.Is(err, ErrNoOpenRound):
		errs = append(errs, err)
	}

	pending, err := t.store.PendingRounds(ctx, t.game)
	if err != nil {
		return true, errors.Join(append(errs, err)...)
	}
	for _, r := range pending {
		if r.TargetHeight > height {
			errs = append(errs, voidRound(ctx, t.store, t.rule, t.hooks, t.game, r.TargetHeight, VoidReasonStall, now))
		}
	}
	return true, errors.Join(errs...)
}

// expirePending voids rounds that stayed closed past PendingTimeout without
// being settled.
func (t *RoundTracker) expirePending(ctx context.Context, now time.Time) error {
	pending, err := t.store.PendingRounds(ctx, t.game)
	if err != nil {
		return err
	}
	t.hooks.metrics.PendingRounds.WithLabelValues(string(t.game)).Set(float64(len(pending)))

	var errs []error
	for _, r := range pending {
		if r.ClosedAt == nil || now.Sub(*r.ClosedAt) <= t.cfg.PendingTimeout {
			continue
		}
		t.hooks.alerts.Alert(ctx, "Round timed out",
			fmt.Sprintf("%s: round %d closed at %s never settled, voiding", t.game, r.TargetHeight, r.ClosedAt.Format(time.RFC3339)))
		if err := voidRound(ctx, t.store, t.rule, t.hooks, t.game, r.TargetHeight, VoidReasonTimeout, now); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *RoundTracker) advance(ctx context.Context, h int64, now time.Time) error {
	open, err := t.store.OpenRound(ctx, t.game)
	if errors.Is(err, ErrNoOpenRound) {
		next := t.newRound(t.firstTarget(h), h, now)
		if err := t.store.CreateRound(ctx, next); err != nil {
			return fmt.Errorf("open round: %w", err)
		}
		t.opened(ctx, next, now)
		return nil
	}
	if err != nil {
		return err
	}

	if h >= open.CloseHeight {
		next := t.newRound(t.nextTarget(open.TargetHeight, h), h, now)
		closed, err := t.store.RollRound(ctx, t.game, open.TargetHeight, next, now)
		if err != nil {
			return fmt.Errorf("roll round %d: %w", open.TargetHeight, err)
		}
		t.hooks.log.Info("round closed",
			zap.String("game", string(t.game)),
			zap.Int64("target_height", closed.TargetHeight),
			zap.Int64("height", h))
		t.hooks.publish(ctx, newEvent(EventRoundClosed, closed, now))
		t.opened(ctx, next, now)
		return nil
	}

	cutoff := t.cutoff(open.CloseHeight, h)
	if !cutoff.Equal(open.CutoffAt) {
		return t.store.UpdateCutoff(ctx, t.game, open.TargetHeight, cutoff)
	}
	return nil
}

func (t *RoundTracker) opened(ctx context.Context, r *models.Round, now time.Time) {
	t.hooks.metrics.RoundsOpened.WithLabelValues(string(t.game)).Inc()
	t.hooks.log.Info("round opened",
		zap.String("game", string(t.game)),
		zap.Int64("target_height", r.TargetHeight),
		zap.Int64("close_height", r.CloseHeight),
		zap.Time("cutoff_at", r.CutoffAt))
	t.hooks.publish(ctx, newEvent(EventRoundOpened, r, now))
}

func (t *RoundTracker) newRound(target, h int64, now time.Time) *models.Round {
	closeHeight := target - t.cfg.CloseOffset
	return &models.Round{
		GameType:     t.game,
		Rule:         t.rule.Name(),
		TargetHeight: target,
		CloseHeight:  closeHeight,
		State:        models.RoundStateOpen,
		OpenedAt:     now,
		CutoffAt:     t.cutoff(closeHeight, h),
	}
}

// cutoff estimates when the chain reaches closeHeight, counting from the
// moment the current height was first seen.
func (t *RoundTracker) cutoff(closeHeight, h int64) time.Time {
	t.mu.RLock()
	base := t.lastProgress
	t.mu.RUnlock()
	return base.Add(time.Duration(closeHeight-h) * t.cfg.BlockInterval)
}

func (t *RoundTracker) firstTarget(h int64) int64 {
	return t.nextTarget(h, h)
}

// nextTarget is the first target after prev, in stride steps, whose close
// height is still ahead of h.
func (t *RoundTracker) nextTarget(prev, h int64) int64 {
	target := prev + t.cfg.Stride
	for target-t.cfg.CloseOffset <= h {
		target += t.cfg.Stride
	}
	return target
}
