package services

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/firdaus0729/casino-frontend/internal/models"
)

const archiveSchema = `
CREATE TABLE IF NOT EXISTS hashgame_rounds (
	game_type     TEXT        NOT NULL,
	target_height BIGINT      NOT NULL,
	close_height  BIGINT      NOT NULL,
	rule          TEXT        NOT NULL,
	state         TEXT        NOT NULL,
	block_id      TEXT,
	result        TEXT,
	void_reason   TEXT,
	opened_at     TIMESTAMPTZ NOT NULL,
	closed_at     TIMESTAMPTZ,
	finalized_at  TIMESTAMPTZ,
	PRIMARY KEY (game_type, target_height)
);
CREATE TABLE IF NOT EXISTS hashgame_bets (
	id          TEXT PRIMARY KEY,
	user_id     BIGINT      NOT NULL,
	game_type   TEXT        NOT NULL,
	round_ref   BIGINT      NOT NULL,
	choice      TEXT        NOT NULL,
	amount      NUMERIC     NOT NULL,
	currency    TEXT        NOT NULL,
	placed_at   TIMESTAMPTZ NOT NULL,
	outcome     TEXT,
	payout      NUMERIC,
	resolved_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS hashgame_bets_user_idx ON hashgame_bets (user_id, placed_at DESC);
`

// PostgresArchive keeps a durable copy of rounds and bets once they reach a
// terminal state, plus every admitted bet. Redis keys expire; this does not.
type PostgresArchive struct {
	db *sql.DB
}

func ConnectPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return db, nil
}

func NewPostgresArchive(ctx context.Context, db *sql.DB) (*PostgresArchive, error) {
	if _, err := db.ExecContext(ctx, archiveSchema); err != nil {
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	return &PostgresArchive{db: db}, nil
}

func (a *PostgresArchive) Broadcast(ctx context.Context, e Event) error {
	switch e.Type {
	case EventBetPlaced:
		return a.saveBet(ctx, e.Bet)
	case EventRoundSettled, EventRoundVoided:
		if err := a.saveRound(ctx, e.Round); err != nil {
			return err
		}
		for _, b := range e.Bets {
			if err := a.saveBet(ctx, b); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *PostgresArchive) saveRound(ctx context.Context, r *models.Round) error {
	finalized := r.SettledAt
	if finalized == nil {
		finalized = r.VoidedAt
	}
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO hashgame_rounds (game_type,target_height,close_height,rule,state,block_id,result,void_reason,opened_at,closed_at,finalized_at)
		VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),NULLIF($7,''),NULLIF($8,''),$9,$10,$11)
		ON CONFLICT (game_type,target_height) DO UPDATE SET
			state=EXCLUDED.state, block_id=EXCLUDED.block_id, result=EXCLUDED.result,
			void_reason=EXCLUDED.void_reason, closed_at=EXCLUDED.closed_at, finalized_at=EXCLUDED.finalized_at`,
		r.GameType, r.TargetHeight, r.CloseHeight, r.Rule, r.State, r.BlockID, r.Result, r.VoidReason,
		r.OpenedAt, r.ClosedAt, finalized,
	)
	if err != nil {
		return fmt.Errorf("archive round %s/%d: %w", r.GameType, r.TargetHeight, err)
	}
	return nil
}

func (a *PostgresArchive) saveBet(ctx context.Context, b *models.Bet) error {
	if b == nil {
		return nil
	}
	var payout interface{}
	if b.Resolved() {
		payout = b.Payout.String()
	}
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO hashgame_bets (id,user_id,game_type,round_ref,choice,amount,currency,placed_at,outcome,payout,resolved_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9,''),$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			outcome=EXCLUDED.outcome, payout=EXCLUDED.payout, resolved_at=EXCLUDED.resolved_at`,
		b.ID, b.UserID, b.GameType, b.RoundRef, b.Choice, b.Amount.String(), b.Currency, b.PlacedAt,
		b.Outcome, payout, b.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("archive bet %s: %w", b.ID, err)
	}
	return nil
}
