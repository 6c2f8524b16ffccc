package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/firdaus0729/casino-frontend/internal/models"
)

type roundKey struct {
	game   models.GameType
	height int64
}

// MemoryStore keeps everything in process. It backs tests and single
// instance deployments that can afford to lose state on restart.
type MemoryStore struct {
	mu         sync.RWMutex
	rounds     map[roundKey]*models.Round
	open       map[models.GameType]int64
	unresolved map[roundKey]struct{}
	bets       map[string]*models.Bet
	roundBets  map[roundKey][]string
	userBets   map[int64][]string
	limits     map[string]*memoryWindow
}

type memoryWindow struct {
	count   int
	resetAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rounds:     make(map[roundKey]*models.Round),
		open:       make(map[models.GameType]int64),
		unresolved: make(map[roundKey]struct{}),
		bets:       make(map[string]*models.Bet),
		roundBets:  make(map[roundKey][]string),
		userBets:   make(map[int64][]string),
		limits:     make(map[string]*memoryWindow),
	}
}

func (s *MemoryStore) OpenRound(ctx context.Context, game models.GameType) (*models.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	height, ok := s.open[game]
	if !ok {
		return nil, ErrNoOpenRound
	}
	return s.rounds[roundKey{game, height}].Clone(), nil
}

func (s *MemoryStore) GetRound(ctx context.Context, game models.GameType, height int64) (*models.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rounds[roundKey{game, height}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%d", ErrRoundNotFound, game, height)
	}
	return r.Clone(), nil
}

func (s *MemoryStore) CreateRound(ctx context.Context, r *models.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.open[r.GameType]; ok {
		return fmt.Errorf("%w: %s already has an open round", ErrRoundExists, r.GameType)
	}
	key := roundKey{r.GameType, r.TargetHeight}
	if _, ok := s.rounds[key]; ok {
		return fmt.Errorf("%w: %s/%d", ErrRoundExists, r.GameType, r.TargetHeight)
	}

	s.rounds[key] = r.Clone()
	s.open[r.GameType] = r.TargetHeight
	return nil
}

func (s *MemoryStore) RollRound(ctx context.Context, game models.GameType, height int64, next *models.Round, at time.Time) (*models.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.rounds[roundKey{game, height}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%d", ErrRoundNotFound, game, height)
	}
	if open, ok := s.open[game]; !ok || open != height || !cur.State.CanTransition(models.RoundStatePending) {
		return nil, fmt.Errorf("%w: %s/%d is %s", ErrInvalidTransition, game, height, cur.State)
	}
	nextKey := roundKey{game, next.TargetHeight}
	if _, ok := s.rounds[nextKey]; ok || next.TargetHeight <= height {
		return nil, fmt.Errorf("%w: %s/%d", ErrRoundExists, game, next.TargetHeight)
	}

	closedAt := at
	cur.State = models.RoundStatePending
	cur.ClosedAt = &closedAt

	s.rounds[nextKey] = next.Clone()
	s.open[game] = next.TargetHeight
	return cur.Clone(), nil
}

func (s *MemoryStore) UpdateCutoff(ctx context.Context, game models.GameType, height int64, cutoff time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rounds[roundKey{game, height}]
	if !ok {
		return fmt.Errorf("%w: %s/%d", ErrRoundNotFound, game, height)
	}
	if r.IsOpen() {
		r.CutoffAt = cutoff
	}
	return nil
}

func (s *MemoryStore) VoidRound(ctx context.Context, game models.GameType, height int64, reason string, at time.Time) (*models.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rounds[roundKey{game, height}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%d", ErrRoundNotFound, game, height)
	}
	if !r.State.CanTransition(models.RoundStateVoid) {
		return nil, fmt.Errorf("%w: %s/%d is %s", ErrInvalidTransition, game, height, r.State)
	}

	voidedAt := at
	r.State = models.RoundStateVoid
	r.VoidReason = reason
	r.VoidedAt = &voidedAt
	if open, ok := s.open[game]; ok && open == height {
		delete(s.open, game)
	}
	s.unresolved[roundKey{game, height}] = struct{}{}
	return r.Clone(), nil
}

func (s *MemoryStore) SettleRound(ctx context.Context, game models.GameType, height int64, blockID string, result models.Outcome, at time.Time) (*models.Round, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rounds[roundKey{game, height}]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s/%d", ErrRoundNotFound, game, height)
	}
	switch r.State {
	case models.RoundStateSettled:
		return r.Clone(), false, nil
	case models.RoundStateVoid:
		return r.Clone(), false, fmt.Errorf("%w: %s/%d", ErrRoundVoided, game, height)
	case models.RoundStateOpen:
		return r.Clone(), false, fmt.Errorf("%w: %s/%d", ErrRoundNotOver, game, height)
	}

	settledAt := at
	r.State = models.RoundStateSettled
	r.BlockID = blockID
	r.Result = result
	r.SettledAt = &settledAt
	s.unresolved[roundKey{game, height}] = struct{}{}
	return r.Clone(), true, nil
}

func (s *MemoryStore) PendingRounds(ctx context.Context, game models.GameType) ([]*models.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Round
	for k, r := range s.rounds {
		if k.game == game && r.State == models.RoundStatePending {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetHeight < out[j].TargetHeight })
	return out, nil
}

func (s *MemoryStore) UnresolvedRounds(ctx context.Context, game models.GameType) ([]*models.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Round
	for k := range s.unresolved {
		if k.game == game {
			out = append(out, s.rounds[k].Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetHeight < out[j].TargetHeight })
	return out, nil
}

func (s *MemoryStore) MarkRoundResolved(ctx context.Context, game models.GameType, height int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.unresolved, roundKey{game, height})
	return nil
}

func (s *MemoryStore) RecentRounds(ctx context.Context, game models.GameType, limit int64) ([]*models.Round, error) {
	limit = clampLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Round
	for k, r := range s.rounds {
		if k.game == game {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetHeight > out[j].TargetHeight })
	if int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) AddBet(ctx context.Context, bet *models.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := roundKey{bet.GameType, bet.RoundRef}
	r, ok := s.rounds[key]
	if !ok {
		return fmt.Errorf("%w: %s/%d", ErrRoundNotFound, bet.GameType, bet.RoundRef)
	}
	if !r.IsOpen() {
		return fmt.Errorf("%w: round %d is %s", ErrRoundClosed, bet.RoundRef, r.State)
	}
	if _, ok := s.bets[bet.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateBet, bet.ID)
	}

	s.bets[bet.ID] = bet.Clone()
	s.roundBets[key] = append(s.roundBets[key], bet.ID)
	s.userBets[bet.UserID] = append(s.userBets[bet.UserID], bet.ID)
	return nil
}

func (s *MemoryStore) GetBet(ctx context.Context, id string) (*models.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBetNotFound, id)
	}
	return b.Clone(), nil
}

func (s *MemoryStore) RoundBets(ctx context.Context, game models.GameType, height int64) ([]*models.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.roundBets[roundKey{game, height}]
	out := make([]*models.Bet, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.bets[id].Clone())
	}
	return out, nil
}

func (s *MemoryStore) ResolveBet(ctx context.Context, id string, outcome models.BetOutcome, payout decimal.Decimal, at time.Time) (*models.Bet, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bets[id]
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrBetNotFound, id)
	}
	if b.Resolved() {
		return b.Clone(), false, nil
	}

	resolvedAt := at
	b.Outcome = outcome
	b.Payout = payout
	b.ResolvedAt = &resolvedAt
	return b.Clone(), true, nil
}

func (s *MemoryStore) UserBets(ctx context.Context, userID int64, limit int64) ([]*models.Bet, error) {
	limit = clampLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.userBets[userID]
	out := make([]*models.Bet, 0, limit)
	for i := len(ids) - 1; i >= 0 && int64(len(out)) < limit; i-- {
		out = append(out, s.bets[ids[i]].Clone())
	}
	return out, nil
}

func (s *MemoryStore) CheckRateLimit(ctx context.Context, userID int64, action string, limit int, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fmt.Sprintf(KeyRateLimit, userID, action)
	now := time.Now()
	w, ok := s.limits[key]
	if !ok || now.After(w.resetAt) {
		w = &memoryWindow{resetAt: now.Add(window)}
		s.limits[key] = w
	}
	w.count++
	return w.count <= limit, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
