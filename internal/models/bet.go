package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bet references its round by target height only; it never owns the round.
// Everything but the outcome fields is fixed at admission.
type Bet struct {
	ID       string          `json:"id"`
	UserID   int64           `json:"user_id"`
	GameType GameType        `json:"game_type"`
	RoundRef int64           `json:"round_ref"`
	Choice   Outcome         `json:"choice"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	PlacedAt time.Time       `json:"placed_at"`

	Outcome    BetOutcome      `json:"outcome,omitempty"`
	Payout     decimal.Decimal `json:"payout"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
}

func (b *Bet) Resolved() bool {
	return b.Outcome != BetOutcomePending
}

func (b *Bet) Clone() *Bet {
	c := *b
	if b.ResolvedAt != nil {
		t := *b.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}
