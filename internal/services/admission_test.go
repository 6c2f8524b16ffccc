package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firdaus0729/casino-frontend/internal/fairness"
	"github.com/firdaus0729/casino-frontend/internal/models"
)

// countingStore records how often round state is read.
type countingStore struct {
	RoundStore
	openReads int
	stale     *models.Round
}

func (s *countingStore) OpenRound(ctx context.Context, game models.GameType) (*models.Round, error) {
	s.openReads++
	if s.stale != nil {
		return s.stale.Clone(), nil
	}
	return s.RoundStore.OpenRound(ctx, game)
}

func testLimits() BetLimits {
	return BetLimits{
		Min:        decimal.New(1, 0),
		Max:        decimal.New(15000, 0),
		Currencies: []string{"USD", "USDT"},
	}
}

func TestAdmitValidatesBeforeReadingRounds(t *testing.T) {
	store := &countingStore{RoundStore: NewMemoryStore()}
	gate := NewBetGate(models.GameTypeOddEven, fairness.OddEven{}, store, testLimits())
	ctx := context.Background()
	now := time.Now()

	tests := []struct {
		name string
		req  AdmitRequest
		want error
	}{
		{"zero amount", AdmitRequest{UserID: 1, Choice: models.OutcomeOdd, Amount: decimal.Zero}, ErrInvalidAmount},
		{"negative amount", AdmitRequest{UserID: 1, Choice: models.OutcomeOdd, Amount: decimal.New(-5, 0)}, ErrInvalidAmount},
		{"below minimum", AdmitRequest{UserID: 1, Choice: models.OutcomeOdd, Amount: decimal.New(5, -1)}, ErrInvalidAmount},
		{"above maximum", AdmitRequest{UserID: 1, Choice: models.OutcomeOdd, Amount: decimal.New(15001, 0)}, ErrInvalidAmount},
		{"choice from another game", AdmitRequest{UserID: 1, Choice: models.OutcomeBanker, Amount: decimal.New(10, 0)}, ErrInvalidChoice},
		{"unknown choice", AdmitRequest{UserID: 1, Choice: "odd", Amount: decimal.New(10, 0)}, ErrInvalidChoice},
		{"unknown currency", AdmitRequest{UserID: 1, Choice: models.OutcomeOdd, Amount: decimal.New(10, 0), Currency: "EUR"}, ErrInvalidCurrency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := gate.Admit(ctx, tt.req, now)
			require.ErrorIs(t, err, tt.want)
			assert.True(t, IsValidationError(err))
		})
	}
	assert.Zero(t, store.openReads)
}

func TestAdmitAcceptsBetIntoOpenRound(t *testing.T) {
	env := newTestEnv(t, 100)
	ctx := context.Background()
	now := env.clock.Now()
	require.NoError(t, env.store.CreateRound(ctx, &models.Round{
		GameType: models.GameTypeOddEven, Rule: "oddeven-lastchar-v1",
		TargetHeight: 101, CloseHeight: 101, State: models.RoundStateOpen,
		OpenedAt: now, CutoffAt: now.Add(3 * time.Second),
	}))
	gate := NewBetGate(models.GameTypeOddEven, fairness.OddEven{}, env.store, testLimits())

	bet, round, err := gate.Admit(ctx, AdmitRequest{
		UserID: 9, Choice: models.OutcomeEven, Amount: decimal.New(15000, 0), Currency: "usdt",
	}, now.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(bet.ID, "bet_"))
	assert.Equal(t, int64(101), bet.RoundRef)
	assert.Equal(t, int64(101), round.TargetHeight)
	assert.Equal(t, "USDT", bet.Currency)
	assert.False(t, bet.Resolved())

	bet, _, err = gate.Admit(ctx, AdmitRequest{
		UserID: 9, Choice: models.OutcomeOdd, Amount: decimal.New(1, 0),
	}, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "USD", bet.Currency)

	stored, err := env.store.RoundBets(ctx, models.GameTypeOddEven, 101)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestAdmitRejectsClosedRounds(t *testing.T) {
	env := newTestEnv(t, 100)
	ctx := context.Background()
	now := env.clock.Now()
	gate := NewBetGate(models.GameTypeOddEven, fairness.OddEven{}, env.store, testLimits())
	req := AdmitRequest{UserID: 3, Choice: models.OutcomeOdd, Amount: decimal.New(10, 0)}

	_, _, err := gate.Admit(ctx, req, now)
	require.ErrorIs(t, err, ErrRoundClosed, "no open round")

	open := &models.Round{
		GameType: models.GameTypeOddEven, Rule: "oddeven-lastchar-v1",
		TargetHeight: 101, CloseHeight: 101, State: models.RoundStateOpen,
		OpenedAt: now, CutoffAt: now.Add(3 * time.Second),
	}
	require.NoError(t, env.store.CreateRound(ctx, open))

	_, _, err = gate.Admit(ctx, req, now.Add(3*time.Second))
	require.ErrorIs(t, err, ErrRoundClosed, "at cutoff")

	// the round rolls between the read and the insert
	stale := &countingStore{RoundStore: env.store, stale: open}
	next := open.Clone()
	next.TargetHeight, next.CloseHeight = 102, 102
	_, err = env.store.RollRound(ctx, models.GameTypeOddEven, 101, next, now)
	require.NoError(t, err)

	staleGate := NewBetGate(models.GameTypeOddEven, fairness.OddEven{}, stale, testLimits())
	_, _, err = staleGate.Admit(ctx, req, now.Add(time.Second))
	require.ErrorIs(t, err, ErrRoundClosed)

	bets, err := env.store.RoundBets(ctx, models.GameTypeOddEven, 101)
	require.NoError(t, err)
	assert.Empty(t, bets, "no bet is attached to a closed round")
}
