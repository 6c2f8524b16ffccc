package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/firdaus0729/casino-frontend/internal/config"
	"github.com/firdaus0729/casino-frontend/internal/models"
)

const maxTxRetries = 8

// RedisService is the shared RoundStore for multi instance deployments.
// Lifecycle transitions run as WATCH/MULTI transactions; bet admission runs
// as a Lua script so the open-round check and the insert cannot interleave
// with a roll.
type RedisService struct {
	client *redis.Client
}

func NewRedisService(cfg *config.Config) (*RedisService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisService{client: client}, nil
}

func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisService) Close() error {
	return s.client.Close()
}

func roundKeyOf(game models.GameType, height int64) string {
	return fmt.Sprintf(KeyRound, game, height)
}

// watch runs fn as an optimistic transaction over keys, retrying when a
// watched key changed underneath it.
func (s *RedisService) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("redis transaction on %v: too much contention", keys)
}

func getRound(ctx context.Context, c redis.StringCmdable, game models.GameType, height int64) (*models.Round, error) {
	data, err := c.Get(ctx, roundKeyOf(game, height)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s/%d", ErrRoundNotFound, game, height)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get round: %w", err)
	}

	var r models.Round
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal round: %w", err)
	}
	return &r, nil
}

func setRound(ctx context.Context, pipe redis.Pipeliner, r *models.Round) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal round: %w", err)
	}
	pipe.Set(ctx, roundKeyOf(r.GameType, r.TargetHeight), data, TTLRound)
	return nil
}

func (s *RedisService) openHeight(ctx context.Context, c redis.StringCmdable, game models.GameType) (int64, bool, error) {
	h, err := c.Get(ctx, fmt.Sprintf(KeyOpenRound, game)).Int64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get open round: %w", err)
	}
	return h, true, nil
}

func (s *RedisService) OpenRound(ctx context.Context, game models.GameType) (*models.Round, error) {
	h, ok, err := s.openHeight(ctx, s.client, game)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoOpenRound
	}
	return getRound(ctx, s.client, game, h)
}

func (s *RedisService) GetRound(ctx context.Context, game models.GameType, height int64) (*models.Round, error) {
	return getRound(ctx, s.client, game, height)
}

func (s *RedisService) CreateRound(ctx context.Context, r *models.Round) error {
	openKey := fmt.Sprintf(KeyOpenRound, r.GameType)
	key := roundKeyOf(r.GameType, r.TargetHeight)

	return s.watch(ctx, func(tx *redis.Tx) error {
		if _, ok, err := s.openHeight(ctx, tx, r.GameType); err != nil {
			return err
		} else if ok {
			return fmt.Errorf("%w: %s already has an open round", ErrRoundExists, r.GameType)
		}
		if n, err := tx.Exists(ctx, key).Result(); err != nil {
			return err
		} else if n > 0 {
			return fmt.Errorf("%w: %s/%d", ErrRoundExists, r.GameType, r.TargetHeight)
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if err := setRound(ctx, pipe, r); err != nil {
				return err
			}
			pipe.Set(ctx, openKey, r.TargetHeight, 0)
			s.indexRound(ctx, pipe, r)
			return nil
		})
		return err
	}, openKey, key)
}

func (s *RedisService) indexRound(ctx context.Context, pipe redis.Pipeliner, r *models.Round) {
	indexKey := fmt.Sprintf(KeyRoundIndex, r.GameType)
	pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(r.TargetHeight), Member: r.TargetHeight})
	pipe.ZRemRangeByRank(ctx, indexKey, 0, -(MaxRoundIndex + 1))
}

func (s *RedisService) RollRound(ctx context.Context, game models.GameType, height int64, next *models.Round, at time.Time) (*models.Round, error) {
	openKey := fmt.Sprintf(KeyOpenRound, game)
	key := roundKeyOf(game, height)
	nextKey := roundKeyOf(game, next.TargetHeight)

	var closed *models.Round
	err := s.watch(ctx, func(tx *redis.Tx) error {
		open, ok, err := s.openHeight(ctx, tx, game)
		if err != nil {
			return err
		}
		cur, err := getRound(ctx, tx, game, height)
		if err != nil {
			return err
		}
		if !ok || open != height || !cur.State.CanTransition(models.RoundStatePending) {
			return fmt.Errorf("%w: %s/%d is %s", ErrInvalidTransition, game, height, cur.State)
		}
		if n, err := tx.Exists(ctx, nextKey).Result(); err != nil {
			return err
		} else if n > 0 || next.TargetHeight <= height {
			return fmt.Errorf("%w: %s/%d", ErrRoundExists, game, next.TargetHeight)
		}

		closedAt := at
		cur.State = models.RoundStatePending
		cur.ClosedAt = &closedAt

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if err := setRound(ctx, pipe, cur); err != nil {
				return err
			}
			if err := setRound(ctx, pipe, next); err != nil {
				return err
			}
			pipe.ZAdd(ctx, fmt.Sprintf(KeyPendingRounds, game), redis.Z{Score: float64(height), Member: height})
			pipe.Set(ctx, openKey, next.TargetHeight, 0)
			s.indexRound(ctx, pipe, next)
			return nil
		})
		if err == nil {
			closed = cur
		}
		return err
	}, openKey, key, nextKey)

	return closed, err
}

func (s *RedisService) UpdateCutoff(ctx context.Context, game models.GameType, height int64, cutoff time.Time) error {
	key := roundKeyOf(game, height)

	return s.watch(ctx, func(tx *redis.Tx) error {
		r, err := getRound(ctx, tx, game, height)
		if err != nil {
			return err
		}
		if !r.IsOpen() {
			return nil
		}
		r.CutoffAt = cutoff

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return setRound(ctx, pipe, r)
		})
		return err
	}, key)
}

func (s *RedisService) VoidRound(ctx context.Context, game models.GameType, height int64, reason string, at time.Time) (*models.Round, error) {
	openKey := fmt.Sprintf(KeyOpenRound, game)
	key := roundKeyOf(game, height)

	var voided *models.Round
	err := s.watch(ctx, func(tx *redis.Tx) error {
		r, err := getRound(ctx, tx, game, height)
		if err != nil {
			return err
		}
		if !r.State.CanTransition(models.RoundStateVoid) {
			return fmt.Errorf("%w: %s/%d is %s", ErrInvalidTransition, game, height, r.State)
		}
		open, isOpen, err := s.openHeight(ctx, tx, game)
		if err != nil {
			return err
		}

		voidedAt := at
		r.State = models.RoundStateVoid
		r.VoidReason = reason
		r.VoidedAt = &voidedAt

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if err := setRound(ctx, pipe, r); err != nil {
				return err
			}
			pipe.ZRem(ctx, fmt.Sprintf(KeyPendingRounds, game), height)
			pipe.ZAdd(ctx, fmt.Sprintf(KeyUnresolved, game), redis.Z{Score: float64(height), Member: height})
			if isOpen && open == height {
				pipe.Del(ctx, openKey)
			}
			return nil
		})
		if err == nil {
			voided = r
		}
		return err
	}, openKey, key)

	return voided, err
}

func (s *RedisService) SettleRound(ctx context.Context, game models.GameType, height int64, blockID string, result models.Outcome, at time.Time) (*models.Round, bool, error) {
	key := roundKeyOf(game, height)

	var (
		out     *models.Round
		applied bool
	)
	err := s.watch(ctx, func(tx *redis.Tx) error {
		r, err := getRound(ctx, tx, game, height)
		if err != nil {
			return err
		}
		out, applied = r, false

		switch r.State {
		case models.RoundStateSettled:
			return nil
		case models.RoundStateVoid:
			return fmt.Errorf("%w: %s/%d", ErrRoundVoided, game, height)
		case models.RoundStateOpen:
			return fmt.Errorf("%w: %s/%d", ErrRoundNotOver, game, height)
		}

		settledAt := at
		r.State = models.RoundStateSettled
		r.BlockID = blockID
		r.Result = result
		r.SettledAt = &settledAt

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if err := setRound(ctx, pipe, r); err != nil {
				return err
			}
			pipe.ZRem(ctx, fmt.Sprintf(KeyPendingRounds, game), height)
			pipe.ZAdd(ctx, fmt.Sprintf(KeyUnresolved, game), redis.Z{Score: float64(height), Member: height})
			return nil
		})
		if err == nil {
			applied = true
		}
		return err
	}, key)

	return out, applied, err
}

func (s *RedisService) PendingRounds(ctx context.Context, game models.GameType) ([]*models.Round, error) {
	heights, err := s.client.ZRange(ctx, fmt.Sprintf(KeyPendingRounds, game), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get pending rounds: %w", err)
	}
	return s.bulkGetRounds(ctx, game, heights)
}

func (s *RedisService) UnresolvedRounds(ctx context.Context, game models.GameType) ([]*models.Round, error) {
	heights, err := s.client.ZRange(ctx, fmt.Sprintf(KeyUnresolved, game), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get unresolved rounds: %w", err)
	}
	return s.bulkGetRounds(ctx, game, heights)
}

func (s *RedisService) MarkRoundResolved(ctx context.Context, game models.GameType, height int64) error {
	if err := s.client.ZRem(ctx, fmt.Sprintf(KeyUnresolved, game), height).Err(); err != nil {
		return fmt.Errorf("failed to mark round resolved: %w", err)
	}
	return nil
}

func (s *RedisService) RecentRounds(ctx context.Context, game models.GameType, limit int64) ([]*models.Round, error) {
	limit = clampLimit(limit)

	heights, err := s.client.ZRevRange(ctx, fmt.Sprintf(KeyRoundIndex, game), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get round index: %w", err)
	}
	return s.bulkGetRounds(ctx, game, heights)
}

func (s *RedisService) bulkGetRounds(ctx context.Context, game models.GameType, heights []string) ([]*models.Round, error) {
	if len(heights) == 0 {
		return []*models.Round{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(heights))
	for i, h := range heights {
		height, err := strconv.ParseInt(h, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad round height %q in index: %w", h, err)
		}
		cmds[i] = pipe.Get(ctx, roundKeyOf(game, height))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("pipeline execution failed: %w", err)
	}

	rounds := make([]*models.Round, 0, len(cmds))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}
		var r models.Round
		if err := json.Unmarshal(data, &r); err != nil {
			continue
		}
		rounds = append(rounds, &r)
	}
	return rounds, nil
}

var addBetScript = redis.NewScript(`
	local round = redis.call("GET", KEYS[1])
	if not round then
		return redis.error_reply("round not found")
	end

	local r = cjson.decode(round)
	if r.state ~= "OPEN" then
		return redis.error_reply("round closed")
	end

	if redis.call("EXISTS", KEYS[2]) == 1 then
		return redis.error_reply("duplicate bet")
	end

	redis.call("SET", KEYS[2], ARGV[1], "EX", ARGV[4])
	redis.call("SADD", KEYS[3], ARGV[2])
	redis.call("EXPIRE", KEYS[3], ARGV[4])
	redis.call("ZADD", KEYS[4], ARGV[3], ARGV[2])
	redis.call("ZREMRANGEBYRANK", KEYS[4], 0, -(tonumber(ARGV[5]) + 1))

	return "OK"
`)

func (s *RedisService) AddBet(ctx context.Context, bet *models.Bet) error {
	data, err := json.Marshal(bet)
	if err != nil {
		return fmt.Errorf("failed to marshal bet: %w", err)
	}

	keys := []string{
		roundKeyOf(bet.GameType, bet.RoundRef),
		fmt.Sprintf(KeyBet, bet.ID),
		fmt.Sprintf(KeyRoundBets, bet.GameType, bet.RoundRef),
		fmt.Sprintf(KeyUserBets, bet.UserID),
	}
	err = addBetScript.Run(ctx, s.client, keys,
		data, bet.ID, bet.PlacedAt.UnixMilli(), int64(TTLBet.Seconds()), MaxUserBets).Err()
	if err == nil {
		return nil
	}

	switch err.Error() {
	case "round closed":
		return fmt.Errorf("%w: round %d", ErrRoundClosed, bet.RoundRef)
	case "round not found":
		return fmt.Errorf("%w: %s/%d", ErrRoundNotFound, bet.GameType, bet.RoundRef)
	case "duplicate bet":
		return fmt.Errorf("%w: %s", ErrDuplicateBet, bet.ID)
	}
	return fmt.Errorf("failed to add bet: %w", err)
}

func getBet(ctx context.Context, c redis.StringCmdable, id string) (*models.Bet, error) {
	data, err := c.Get(ctx, fmt.Sprintf(KeyBet, id)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", ErrBetNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bet: %w", err)
	}

	var b models.Bet
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bet: %w", err)
	}
	return &b, nil
}

func (s *RedisService) GetBet(ctx context.Context, id string) (*models.Bet, error) {
	return getBet(ctx, s.client, id)
}

func (s *RedisService) RoundBets(ctx context.Context, game models.GameType, height int64) ([]*models.Bet, error) {
	ids, err := s.client.SMembers(ctx, fmt.Sprintf(KeyRoundBets, game, height)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get round bets: %w", err)
	}
	return s.bulkGetBets(ctx, ids)
}

func (s *RedisService) UserBets(ctx context.Context, userID int64, limit int64) ([]*models.Bet, error) {
	limit = clampLimit(limit)

	ids, err := s.client.ZRevRange(ctx, fmt.Sprintf(KeyUserBets, userID), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get user bets: %w", err)
	}
	return s.bulkGetBets(ctx, ids)
}

func (s *RedisService) bulkGetBets(ctx context.Context, ids []string) ([]*models.Bet, error) {
	if len(ids) == 0 {
		return []*models.Bet{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, fmt.Sprintf(KeyBet, id))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("pipeline execution failed: %w", err)
	}

	bets := make([]*models.Bet, 0, len(cmds))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}
		var b models.Bet
		if err := json.Unmarshal(data, &b); err != nil {
			continue
		}
		bets = append(bets, &b)
	}
	return bets, nil
}

func (s *RedisService) ResolveBet(ctx context.Context, id string, outcome models.BetOutcome, payout decimal.Decimal, at time.Time) (*models.Bet, bool, error) {
	key := fmt.Sprintf(KeyBet, id)

	var (
		out     *models.Bet
		applied bool
	)
	err := s.watch(ctx, func(tx *redis.Tx) error {
		b, err := getBet(ctx, tx, id)
		if err != nil {
			return err
		}
		out, applied = b, false
		if b.Resolved() {
			return nil
		}

		resolvedAt := at
		b.Outcome = outcome
		b.Payout = payout
		b.ResolvedAt = &resolvedAt

		data, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("failed to marshal bet: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, redis.KeepTTL)
			return nil
		})
		if err == nil {
			applied = true
		}
		return err
	}, key)

	return out, applied, err
}

func (s *RedisService) CheckRateLimit(ctx context.Context, userID int64, action string, limit int, window time.Duration) (bool, error) {
	key := fmt.Sprintf(KeyRateLimit, userID, action)

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check rate limit: %w", err)
	}

	if count == 1 {
		s.client.Expire(ctx, key, window)
	}

	return count <= int64(limit), nil
}

func (s *RedisService) ClearRateLimit(ctx context.Context, userID int64, action string) error {
	return s.client.Del(ctx, fmt.Sprintf(KeyRateLimit, userID, action)).Err()
}

// DeleteRound removes a round and its bet index. Used by test cleanup.
func (s *RedisService) DeleteRound(ctx context.Context, game models.GameType, height int64) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, roundKeyOf(game, height), fmt.Sprintf(KeyRoundBets, game, height))
	pipe.ZRem(ctx, fmt.Sprintf(KeyPendingRounds, game), height)
	pipe.ZRem(ctx, fmt.Sprintf(KeyUnresolved, game), height)
	pipe.ZRem(ctx, fmt.Sprintf(KeyRoundIndex, game), height)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisService) DeleteBet(ctx context.Context, bet *models.Bet) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, fmt.Sprintf(KeyBet, bet.ID))
	pipe.ZRem(ctx, fmt.Sprintf(KeyUserBets, bet.UserID), bet.ID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisService) ClearOpenRound(ctx context.Context, game models.GameType) error {
	return s.client.Del(ctx, fmt.Sprintf(KeyOpenRound, game)).Err()
}
