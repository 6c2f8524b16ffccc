package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/firdaus0729/casino-frontend/internal/models"
)

type EventType string

const (
	EventRoundOpened  EventType = "round.opened"
	EventRoundClosed  EventType = "round.closed"
	EventRoundSettled EventType = "round.settled"
	EventRoundVoided  EventType = "round.voided"
	EventBetPlaced    EventType = "bet.placed"
)

// Event is a lifecycle notification. Round is always set; Bets carries the
// resolved bets for settled and voided rounds, Bet the admitted bet.
type Event struct {
	Type      EventType       `json:"type"`
	GameType  models.GameType `json:"game_type"`
	Round     *models.Round   `json:"round,omitempty"`
	Bet       *models.Bet     `json:"bet,omitempty"`
	Bets      []*models.Bet   `json:"bets,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

func (e Event) Key() string {
	if e.Bet != nil {
		return e.Bet.ID
	}
	return string(e.GameType)
}

type Broadcaster interface {
	Broadcast(ctx context.Context, e Event) error
}

// MultiBroadcaster fans an event out to every sink. A failing sink does not
// stop the others.
type MultiBroadcaster []Broadcaster

func (m MultiBroadcaster) Broadcast(ctx context.Context, e Event) error {
	var errs []error
	for _, b := range m {
		if err := b.Broadcast(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Broadcast(ctx context.Context, e Event) error {
	fields := []zap.Field{
		zap.String("event", string(e.Type)),
		zap.String("game", string(e.GameType)),
	}
	if e.Round != nil {
		fields = append(fields,
			zap.Int64("target_height", e.Round.TargetHeight),
			zap.String("state", string(e.Round.State)))
	}
	if e.Bet != nil {
		fields = append(fields, zap.String("bet_id", e.Bet.ID))
	}
	if len(e.Bets) > 0 {
		fields = append(fields, zap.Int("bets", len(e.Bets)))
	}
	s.log.Info("event", fields...)
	return nil
}

func newEvent(t EventType, r *models.Round, at time.Time) Event {
	return Event{Type: t, GameType: r.GameType, Round: r, Timestamp: at}
}
