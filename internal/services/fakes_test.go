package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"

	"github.com/firdaus0729/casino-frontend/internal/blocksource"
	"github.com/firdaus0729/casino-frontend/internal/models"
)

type fakeSource struct {
	mu         sync.Mutex
	height     int64
	heightErr  error
	blocks     map[int64]string
	blockCalls int
}

func newFakeSource(height int64) *fakeSource {
	return &fakeSource{height: height, blocks: make(map[int64]string)}
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) CurrentHeight(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.heightErr != nil {
		return 0, s.heightErr
	}
	return s.height, nil
}

func (s *fakeSource) BlockID(ctx context.Context, height int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockCalls++
	id, ok := s.blocks[height]
	if !ok || height > s.height {
		return "", fmt.Errorf("%w: %d", blocksource.ErrBlockUnavailable, height)
	}
	return id, nil
}

func (s *fakeSource) setHeight(h int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.height = h
}

func (s *fakeSource) setBlock(h int64, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[h] = id
}

func (s *fakeSource) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heightErr = err
}

func (s *fakeSource) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blockCalls
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Broadcast(ctx context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) types() []EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

func (s *recordingSink) last(t EventType) (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Type == t {
			return s.events[i], true
		}
	}
	return Event{}, false
}

type recordingAlerter struct {
	mu     sync.Mutex
	titles []string
}

func (a *recordingAlerter) Alert(ctx context.Context, title, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.titles = append(a.titles, title)
}

func (a *recordingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.titles)
}

type testEnv struct {
	store   *MemoryStore
	source  *fakeSource
	clock   *fakeClock
	sink    *recordingSink
	alerts  *recordingAlerter
	metrics *Metrics
	hooks   *hooks
}

func newTestEnv(t *testing.T, height int64) *testEnv {
	env := &testEnv{
		store:   NewMemoryStore(),
		source:  newFakeSource(height),
		clock:   newFakeClock(),
		sink:    &recordingSink{},
		alerts:  &recordingAlerter{},
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
	env.hooks = &hooks{
		log:     zaptest.NewLogger(t),
		events:  env.sink,
		alerts:  env.alerts,
		metrics: env.metrics,
	}
	return env
}

func testTrackerConfig() TrackerConfig {
	return TrackerConfig{
		Stride:         1,
		CloseOffset:    0,
		BlockInterval:  3 * time.Second,
		PollInterval:   time.Second,
		BackoffMin:     100 * time.Millisecond,
		BackoffMax:     time.Second,
		StallTimeout:   2 * time.Minute,
		PendingTimeout: 5 * time.Minute,
	}
}

// pendingRound stores a round at height that has already been rolled to
// CLOSED_PENDING_BLOCK, with the given bets attached while it was open.
func (env *testEnv) pendingRound(t *testing.T, game models.GameType, rule string, height int64, bets ...*models.Bet) {
	t.Helper()
	ctx := context.Background()
	now := env.clock.Now()

	r := &models.Round{
		GameType:     game,
		Rule:         rule,
		TargetHeight: height,
		CloseHeight:  height,
		State:        models.RoundStateOpen,
		OpenedAt:     now,
		CutoffAt:     now.Add(time.Minute),
	}
	if err := env.store.CreateRound(ctx, r); err != nil {
		t.Fatalf("create round: %v", err)
	}
	for _, b := range bets {
		b.GameType, b.RoundRef = game, height
		if err := env.store.AddBet(ctx, b); err != nil {
			t.Fatalf("add bet: %v", err)
		}
	}
	next := r.Clone()
	next.TargetHeight, next.CloseHeight = height+1, height+1
	if _, err := env.store.RollRound(ctx, game, height, next, now); err != nil {
		t.Fatalf("roll round: %v", err)
	}
}
