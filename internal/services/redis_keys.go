package services

import "time"

const (
	KeyRound         = "hashgame:%s:round:%d"
	KeyOpenRound     = "hashgame:%s:open"
	KeyPendingRounds = "hashgame:%s:pending"
	KeyUnresolved    = "hashgame:%s:unresolved"
	KeyRoundIndex    = "hashgame:%s:rounds"
	KeyRoundBets     = "hashgame:%s:round:%d:bets"
	KeyBet           = "hashgame:bet:%s"
	KeyUserBets      = "user:%d:hashgame_bets"
	KeyRateLimit     = "ratelimit:%d:%s"

	TTLRound = 30 * 24 * time.Hour // 30 days
	TTLBet   = 30 * 24 * time.Hour // 30 days

	MaxRoundIndex = 1000
	MaxUserBets   = 100

	DefaultRateLimitBets = 30 // Max 30 bets per minute
)
