package services

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firdaus0729/casino-frontend/internal/fairness"
	"github.com/firdaus0729/casino-frontend/internal/models"
)

func newTestTracker(env *testEnv, cfg TrackerConfig) *RoundTracker {
	tr := NewRoundTracker(models.GameTypeOddEven, fairness.OddEven{}, env.source, env.store, env.hooks, cfg)
	tr.now = env.clock.Now
	return tr
}

func TestTrackerRollsAtTargetHeight(t *testing.T) {
	env := newTestEnv(t, 73872866)
	tr := newTestTracker(env, testTrackerConfig())
	ctx := context.Background()

	require.NoError(t, tr.Tick(ctx))
	open, err := env.store.OpenRound(ctx, models.GameTypeOddEven)
	require.NoError(t, err)
	assert.Equal(t, int64(73872867), open.TargetHeight)
	assert.Equal(t, "oddeven-lastchar-v1", open.Rule)

	env.clock.Advance(3 * time.Second)
	env.source.setHeight(73872867)
	require.NoError(t, tr.Tick(ctx))

	closed, err := env.store.GetRound(ctx, models.GameTypeOddEven, 73872867)
	require.NoError(t, err)
	assert.Equal(t, models.RoundStatePending, closed.State)

	open, err = env.store.OpenRound(ctx, models.GameTypeOddEven)
	require.NoError(t, err)
	assert.Equal(t, int64(73872867+1), open.TargetHeight)

	assert.Equal(t, []EventType{EventRoundOpened, EventRoundClosed, EventRoundOpened}, env.sink.types())
}

func TestTrackerStrideAndCloseOffset(t *testing.T) {
	env := newTestEnv(t, 100)
	cfg := testTrackerConfig()
	cfg.Stride = 5
	cfg.CloseOffset = 2
	tr := newTestTracker(env, cfg)
	ctx := context.Background()

	require.NoError(t, tr.Tick(ctx))
	open, err := env.store.OpenRound(ctx, models.GameTypeOddEven)
	require.NoError(t, err)
	assert.Equal(t, int64(105), open.TargetHeight)
	assert.Equal(t, int64(103), open.CloseHeight)

	env.source.setHeight(102)
	require.NoError(t, tr.Tick(ctx))
	open, err = env.store.OpenRound(ctx, models.GameTypeOddEven)
	require.NoError(t, err)
	assert.Equal(t, int64(105), open.TargetHeight, "round stays open below its close height")

	env.source.setHeight(103)
	require.NoError(t, tr.Tick(ctx))
	open, err = env.store.OpenRound(ctx, models.GameTypeOddEven)
	require.NoError(t, err)
	assert.Equal(t, int64(110), open.TargetHeight)

	// a jump past several strides skips to the first round still ahead
	env.source.setHeight(120)
	require.NoError(t, tr.Tick(ctx))
	open, err = env.store.OpenRound(ctx, models.GameTypeOddEven)
	require.NoError(t, err)
	assert.Equal(t, int64(125), open.TargetHeight)
	assert.Greater(t, open.CloseHeight, int64(120))
}

func TestTrackerCutoffFollowsObservedHeight(t *testing.T) {
	env := newTestEnv(t, 100)
	cfg := testTrackerConfig()
	cfg.Stride = 5
	tr := newTestTracker(env, cfg)
	ctx := context.Background()
	start := env.clock.Now()

	require.NoError(t, tr.Tick(ctx))
	open, err := env.store.OpenRound(ctx, models.GameTypeOddEven)
	require.NoError(t, err)
	assert.True(t, start.Add(15*time.Second).Equal(open.CutoffAt))

	// a slow block pushes the estimate out
	env.clock.Advance(4 * time.Second)
	env.source.setHeight(101)
	require.NoError(t, tr.Tick(ctx))
	open, err = env.store.OpenRound(ctx, models.GameTypeOddEven)
	require.NoError(t, err)
	assert.True(t, start.Add(16*time.Second).Equal(open.CutoffAt))

	// no new block, no new estimate
	env.clock.Advance(time.Second)
	require.NoError(t, tr.Tick(ctx))
	again, err := env.store.OpenRound(ctx, models.GameTypeOddEven)
	require.NoError(t, err)
	assert.True(t, open.CutoffAt.Equal(again.CutoffAt))
}

func TestTrackerKeepsExactlyOneOpenRound(t *testing.T) {
	env := newTestEnv(t, 1000)
	cfg := testTrackerConfig()
	cfg.Stride = 3
	cfg.CloseOffset = 1
	tr := newTestTracker(env, cfg)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	height := int64(1000)
	var prev *models.Round
	for i := 0; i < 200; i++ {
		height += int64(rng.Intn(3))
		env.source.setHeight(height)
		env.clock.Advance(time.Second)
		require.NoError(t, tr.Tick(ctx))

		open, err := env.store.OpenRound(ctx, models.GameTypeOddEven)
		require.NoError(t, err)
		assert.Greater(t, open.CloseHeight, height)

		if prev != nil && prev.TargetHeight != open.TargetHeight {
			assert.Greater(t, open.TargetHeight, prev.TargetHeight)
			assert.Zero(t, (open.TargetHeight-prev.TargetHeight)%cfg.Stride)

			old, err := env.store.GetRound(ctx, models.GameTypeOddEven, prev.TargetHeight)
			require.NoError(t, err)
			assert.Equal(t, models.RoundStatePending, old.State)
		}
		prev = open
	}

	rounds, err := env.store.RecentRounds(ctx, models.GameTypeOddEven, 100)
	require.NoError(t, err)
	openCount := 0
	for _, r := range rounds {
		if r.IsOpen() {
			openCount++
		}
	}
	assert.Equal(t, 1, openCount)
}

func TestTrackerStallVoidsRounds(t *testing.T) {
	env := newTestEnv(t, 100)
	tr := newTestTracker(env, testTrackerConfig())
	ctx := context.Background()

	require.NoError(t, tr.Tick(ctx))
	env.source.setHeight(101)
	require.NoError(t, tr.Tick(ctx))

	bet := &models.Bet{
		ID: "bet_stall", UserID: 1, GameType: models.GameTypeOddEven, RoundRef: 102,
		Choice: models.OutcomeOdd, Amount: decimal.New(25, 0), Currency: "USD",
		PlacedAt: env.clock.Now(), Payout: decimal.Zero,
	}
	require.NoError(t, env.store.AddBet(ctx, bet))

	env.clock.Advance(2*time.Minute + time.Second)
	require.NoError(t, tr.Tick(ctx))
	assert.True(t, tr.Stalled())

	voided, err := env.store.GetRound(ctx, models.GameTypeOddEven, 102)
	require.NoError(t, err)
	assert.Equal(t, models.RoundStateVoid, voided.State)
	assert.Equal(t, VoidReasonStall, voided.VoidReason)

	// block 101 exists, so its round is left for settlement
	pending, err := env.store.GetRound(ctx, models.GameTypeOddEven, 101)
	require.NoError(t, err)
	assert.Equal(t, models.RoundStatePending, pending.State)

	refunded, err := env.store.GetBet(ctx, "bet_stall")
	require.NoError(t, err)
	assert.Equal(t, models.BetOutcomeVoid, refunded.Outcome)
	assert.True(t, refunded.Payout.Equal(decimal.New(25, 0)))

	_, err = env.store.OpenRound(ctx, models.GameTypeOddEven)
	require.ErrorIs(t, err, ErrNoOpenRound)
	assert.Equal(t, 1, env.alerts.count())

	ev, ok := env.sink.last(EventRoundVoided)
	require.True(t, ok)
	require.Len(t, ev.Bets, 1)

	// still stalled: nothing opens, no second alert
	env.clock.Advance(time.Second)
	require.NoError(t, tr.Tick(ctx))
	_, err = env.store.OpenRound(ctx, models.GameTypeOddEven)
	require.ErrorIs(t, err, ErrNoOpenRound)
	assert.Equal(t, 1, env.alerts.count())

	env.source.setHeight(102)
	require.NoError(t, tr.Tick(ctx))
	assert.False(t, tr.Stalled())
	open, err := env.store.OpenRound(ctx, models.GameTypeOddEven)
	require.NoError(t, err)
	assert.Equal(t, int64(103), open.TargetHeight)
}

func TestTrackerStallOnSourceFailure(t *testing.T) {
	env := newTestEnv(t, 100)
	tr := newTestTracker(env, testTrackerConfig())
	ctx := context.Background()

	require.NoError(t, tr.Tick(ctx))

	unreachable := errors.New("connection refused")
	env.source.fail(unreachable)

	env.clock.Advance(time.Minute)
	err := tr.Tick(ctx)
	require.ErrorIs(t, err, unreachable)
	open, err := env.store.OpenRound(ctx, models.GameTypeOddEven)
	require.NoError(t, err, "round survives failures inside the stall window")

	env.clock.Advance(time.Minute + time.Second)
	require.ErrorIs(t, tr.Tick(ctx), unreachable)

	voided, err := env.store.GetRound(ctx, models.GameTypeOddEven, open.TargetHeight)
	require.NoError(t, err)
	assert.Equal(t, models.RoundStateVoid, voided.State)
	assert.Equal(t, 1, env.alerts.count())
}

func TestTrackerVoidsRoundsPendingTooLong(t *testing.T) {
	env := newTestEnv(t, 100)
	cfg := testTrackerConfig()
	cfg.PendingTimeout = time.Minute
	cfg.StallTimeout = 10 * time.Minute
	tr := newTestTracker(env, cfg)
	ctx := context.Background()

	require.NoError(t, tr.Tick(ctx))
	env.source.setHeight(101)
	require.NoError(t, tr.Tick(ctx))

	env.clock.Advance(30 * time.Second)
	env.source.setHeight(102)
	require.NoError(t, tr.Tick(ctx))
	r, err := env.store.GetRound(ctx, models.GameTypeOddEven, 101)
	require.NoError(t, err)
	assert.Equal(t, models.RoundStatePending, r.State)

	env.clock.Advance(31 * time.Second)
	env.source.setHeight(103)
	require.NoError(t, tr.Tick(ctx))

	r, err = env.store.GetRound(ctx, models.GameTypeOddEven, 101)
	require.NoError(t, err)
	assert.Equal(t, models.RoundStateVoid, r.State)
	assert.Equal(t, VoidReasonTimeout, r.VoidReason)
	assert.Equal(t, 1, env.alerts.count())

	// 102 closed only 31s ago
	r, err = env.store.GetRound(ctx, models.GameTypeOddEven, 102)
	require.NoError(t, err)
	assert.Equal(t, models.RoundStatePending, r.State)
}

func TestTrackerVoidsProducedRoundWhileSourceIsDown(t *testing.T) {
	env := newTestEnv(t, 100)
	tr := newTestTracker(env, testTrackerConfig())
	ctx := context.Background()

	require.NoError(t, tr.Tick(ctx))
	bet := &models.Bet{
		ID: "bet_produced", UserID: 1, GameType: models.GameTypeOddEven, RoundRef: 101,
		Choice: models.OutcomeEven, Amount: decimal.New(10, 0), Currency: "USD",
		PlacedAt: env.clock.Now(), Payout: decimal.Zero,
	}
	require.NoError(t, env.store.AddBet(ctx, bet))

	env.source.setHeight(101)
	require.NoError(t, tr.Tick(ctx))

	unreachable := errors.New("connection refused")
	env.source.fail(unreachable)

	// the stall voids the open round 102, but block 101 was already seen
	for i := 0; i < 5; i++ {
		env.clock.Advance(time.Minute)
		require.ErrorIs(t, tr.Tick(ctx), unreachable)
	}
	r, err := env.store.GetRound(ctx, models.GameTypeOddEven, 101)
	require.NoError(t, err)
	assert.Equal(t, models.RoundStatePending, r.State)

	env.clock.Advance(time.Minute)
	require.ErrorIs(t, tr.Tick(ctx), unreachable)

	r, err = env.store.GetRound(ctx, models.GameTypeOddEven, 101)
	require.NoError(t, err)
	assert.Equal(t, models.RoundStateVoid, r.State)
	assert.Equal(t, VoidReasonTimeout, r.VoidReason)
	assert.Equal(t, 2, env.alerts.count(), "one stall alert, one timeout alert")

	refunded, err := env.store.GetBet(ctx, "bet_produced")
	require.NoError(t, err)
	assert.Equal(t, models.BetOutcomeVoid, refunded.Outcome)
	assert.True(t, refunded.Payout.Equal(decimal.New(10, 0)))

	pending, err := env.store.PendingRounds(ctx, models.GameTypeOddEven)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestTrackerRunStopsOnCancel(t *testing.T) {
	env := newTestEnv(t, 100)
	cfg := testTrackerConfig()
	cfg.PollInterval = 10 * time.Millisecond
	tr := NewRoundTracker(models.GameTypeOddEven, fairness.OddEven{}, env.source, env.store, env.hooks, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := env.store.OpenRound(context.Background(), models.GameTypeOddEven)
		return err == nil
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("tracker did not stop")
	}
}

func TestNextBackoff(t *testing.T) {
	min, max := 100*time.Millisecond, time.Second
	d := time.Duration(0)
	var seen []time.Duration
	for i := 0; i < 6; i++ {
		d = nextBackoff(d, min, max)
		seen = append(seen, d)
	}
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond,
		800 * time.Millisecond, time.Second, time.Second,
	}, seen)
}
