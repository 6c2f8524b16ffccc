package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/firdaus0729/casino-frontend/internal/blocksource"
	"github.com/firdaus0729/casino-frontend/internal/fairness"
	"github.com/firdaus0729/casino-frontend/internal/models"
)

type EngineConfig struct {
	Tracker        TrackerConfig
	Confirmations  int64
	SettleInterval time.Duration
	Limits         BetLimits
	BetsPerMinute  int
	ExplorerURL    string
}

type RoundInfo struct {
	Round             *models.Round `json:"round"`
	TargetHeight      int64         `json:"targetHeight"`
	BetClosesAtBlock  int64         `json:"betClosesAtBlock"`
	CurrentBlock      int64         `json:"currentBlock"`
	CutoffAt          time.Time     `json:"cutoffAt"`
	SecondsUntilClose int64         `json:"secondsUntilClose"`
	Timestamp         int64         `json:"timestamp"`
}

type RoundResult struct {
	BlockNum    int64          `json:"blockNum"`
	BlockID     string         `json:"blockId,omitempty"`
	LastChar    string         `json:"lastChar,omitempty"`
	Algorithm   string         `json:"algorithm"`
	Result      models.Outcome `json:"result,omitempty"`
	Status      string         `json:"status"`
	VoidReason  string         `json:"voidReason,omitempty"`
	ExplorerURL string         `json:"explorerUrl,omitempty"`
}

type gameLoop struct {
	rule     fairness.Rule
	tracker  *RoundTracker
	resolver *SettlementResolver
	gate     *BetGate
}

// Engine runs every configured game and answers the queries the API needs.
type Engine struct {
	games  map[models.GameType]*gameLoop
	store  RoundStore
	source blocksource.Source
	hooks  *hooks
	cfg    EngineConfig
	now    func() time.Time
}

func NewEngine(gameTypes []models.GameType, source blocksource.Source, store RoundStore, events Broadcaster, alerts Alerter, metrics *Metrics, log *zap.Logger, cfg EngineConfig) (*Engine, error) {
	if len(gameTypes) == 0 {
		return nil, errors.New("engine needs at least one game")
	}

	h := &hooks{log: log, events: events, alerts: alerts, metrics: metrics}
	e := &Engine{
		games:  make(map[models.GameType]*gameLoop, len(gameTypes)),
		store:  store,
		source: source,
		hooks:  h,
		cfg:    cfg,
		now:    time.Now,
	}

	for _, gt := range gameTypes {
		rule, err := fairness.RuleFor(gt)
		if err != nil {
			return nil, err
		}
		e.games[gt] = &gameLoop{
			rule:     rule,
			tracker:  NewRoundTracker(gt, rule, source, store, h, cfg.Tracker),
			resolver: NewSettlementResolver(gt, rule, source, store, h, cfg.Confirmations, cfg.SettleInterval),
			gate:     NewBetGate(gt, rule, store, cfg.Limits),
		}
	}
	return e, nil
}

// Run starts a tracker and a resolver per game and blocks until ctx is done
// or one of them fails.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, gm := range e.games {
		gm := gm
		g.Go(func() error { return gm.tracker.Run(ctx) })
		g.Go(func() error { return gm.resolver.Run(ctx) })
	}
	return g.Wait()
}

func (e *Engine) game(gt models.GameType) (*gameLoop, error) {
	gm, ok := e.games[gt]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGame, gt)
	}
	return gm, nil
}

func (e *Engine) Games() []models.GameType {
	out := make([]models.GameType, 0, len(e.games))
	for gt := range e.games {
		out = append(out, gt)
	}
	return out
}

func (e *Engine) RoundInfo(ctx context.Context, gt models.GameType) (*RoundInfo, error) {
	gm, err := e.game(gt)
	if err != nil {
		return nil, err
	}

	r, err := e.store.OpenRound(ctx, gt)
	if err != nil {
		return nil, err
	}

	now := e.now()
	secs := int64(r.CutoffAt.Sub(now).Seconds())
	if secs < 0 {
		secs = 0
	}
	return &RoundInfo{
		Round:             r,
		TargetHeight:      r.TargetHeight,
		BetClosesAtBlock:  r.CloseHeight,
		CurrentBlock:      gm.tracker.Height(),
		CutoffAt:          r.CutoffAt,
		SecondsUntilClose: secs,
		Timestamp:         now.UnixMilli(),
	}, nil
}

func (e *Engine) RoundResult(ctx context.Context, gt models.GameType, height int64) (*RoundResult, error) {
	gm, err := e.game(gt)
	if err != nil {
		return nil, err
	}

	r, err := e.store.GetRound(ctx, gt, height)
	if err != nil {
		return nil, err
	}

	res := &RoundResult{
		BlockNum:    r.TargetHeight,
		Algorithm:   gm.rule.Algorithm(),
		Status:      r.ResultStatus(),
		VoidReason:  r.VoidReason,
		ExplorerURL: models.ExplorerLink(e.cfg.ExplorerURL, r.TargetHeight),
	}
	if r.State == models.RoundStateSettled {
		res.BlockID = r.BlockID
		res.Result = r.Result
		if d, err := gm.rule.Derive(r.BlockID); err == nil && len(d.Steps) > 0 {
			res.LastChar = d.Steps[0].Char
		}
	}
	return res, nil
}

func (e *Engine) History(ctx context.Context, gt models.GameType, limit int64) ([]*models.Round, error) {
	if _, err := e.game(gt); err != nil {
		return nil, err
	}
	return e.store.RecentRounds(ctx, gt, limit)
}

// PlaceBet rate limits the user and hands the bet to the game's gate.
func (e *Engine) PlaceBet(ctx context.Context, gt models.GameType, req AdmitRequest) (*models.Bet, *models.Round, error) {
	gm, err := e.game(gt)
	if err != nil {
		return nil, nil, err
	}

	if e.cfg.BetsPerMinute > 0 {
		allowed, err := e.store.CheckRateLimit(ctx, req.UserID, "hashgame_bet", e.cfg.BetsPerMinute, time.Minute)
		if err != nil {
			return nil, nil, err
		}
		if !allowed {
			e.hooks.metrics.BetsRejected.WithLabelValues(string(gt), "rate_limit").Inc()
			return nil, nil, ErrRateLimited
		}
	}

	now := e.now()
	bet, round, err := gm.gate.Admit(ctx, req, now)
	if err != nil {
		e.hooks.metrics.BetsRejected.WithLabelValues(string(gt), rejectReason(err)).Inc()
		return nil, round, err
	}

	e.hooks.metrics.BetsAdmitted.WithLabelValues(string(gt)).Inc()
	ev := newEvent(EventBetPlaced, round, now)
	ev.Bet = bet
	e.hooks.publish(ctx, ev)
	return bet, round, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return "amount"
	case errors.Is(err, ErrInvalidChoice):
		return "choice"
	case errors.Is(err, ErrInvalidCurrency):
		return "currency"
	case errors.Is(err, ErrRoundClosed):
		return "round_closed"
	}
	return "error"
}

// GetBet returns a bet only to its owner; anyone else gets ErrBetNotFound.
func (e *Engine) GetBet(ctx context.Context, userID int64, id string) (*models.Bet, error) {
	b, err := e.store.GetBet(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.UserID != userID {
		return nil, fmt.Errorf("%w: %s", ErrBetNotFound, id)
	}
	return b, nil
}

func (e *Engine) UserBets(ctx context.Context, userID int64, limit int64) ([]*models.Bet, error) {
	return e.store.UserBets(ctx, userID, limit)
}

// VerifyBlock needs nothing but the public block id.
func (e *Engine) VerifyBlock(gt models.GameType, blockID string, claimed models.Outcome) (*models.VerificationRecord, error) {
	gm, err := e.game(gt)
	if err != nil {
		return nil, err
	}
	rec, err := fairness.VerifyBlock(gm.rule, gt, blockID, claimed)
	if errors.Is(err, fairness.ErrUnknownOutcome) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidChoice, err)
	}
	return rec, err
}

// VerifyRound recomputes a settled round from its stored block id and, when
// the chain answers, checks that block id against the chain as well.
func (e *Engine) VerifyRound(ctx context.Context, gt models.GameType, height int64) (*models.VerificationRecord, error) {
	gm, err := e.game(gt)
	if err != nil {
		return nil, err
	}

	r, err := e.store.GetRound(ctx, gt, height)
	if err != nil {
		return nil, err
	}
	switch r.State {
	case models.RoundStateVoid:
		return nil, fmt.Errorf("%w: %s/%d", ErrRoundVoided, gt, height)
	case models.RoundStateOpen, models.RoundStatePending:
		return nil, fmt.Errorf("%w: %s/%d", ErrRoundNotOver, gt, height)
	}

	rec, err := fairness.VerifyRound(gm.rule, r)
	var mismatch *fairness.MismatchError
	if errors.As(err, &mismatch) {
		e.reportMismatch(ctx, mismatch)
		return rec, err
	}
	if err != nil {
		return nil, err
	}

	if e.source == nil {
		return rec, nil
	}
	chainID, err := e.source.BlockID(ctx, height)
	if err != nil {
		e.hooks.log.Warn("chain cross-check skipped",
			zap.String("game", string(gt)), zap.Int64("block", height), zap.Error(err))
		return rec, nil
	}
	if !sameBlockID(chainID, r.BlockID) {
		rec.Match = false
		mismatch = &fairness.MismatchError{
			Record: rec,
			Reason: fmt.Sprintf("stored block id %s, chain has %s", r.BlockID, chainID),
		}
		e.reportMismatch(ctx, mismatch)
		return rec, mismatch
	}
	rec.ChainVerified = true
	return rec, nil
}

func (e *Engine) reportMismatch(ctx context.Context, m *fairness.MismatchError) {
	gt := m.Record.GameType
	e.hooks.metrics.FairnessMismatch.WithLabelValues(string(gt)).Inc()
	e.hooks.log.Error("fairness mismatch",
		zap.String("game", string(gt)),
		zap.Int64("block", m.Record.BlockNum),
		zap.String("block_id", m.Record.BlockID),
		zap.String("derived", string(m.Record.DerivedResult)),
		zap.String("stored", string(m.Record.ClaimedResult)),
		zap.String("reason", m.Reason))
	e.hooks.alerts.Alert(ctx, "Fairness mismatch", m.Error())
}

func sameBlockID(a, b string) bool {
	norm := func(s string) string {
		s = strings.ToLower(strings.TrimSpace(s))
		return strings.TrimPrefix(s, "0x")
	}
	return norm(a) == norm(b)
}

// Ping reports whether the store is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}
