package models

type GameType string

const (
	GameTypeOddEven      GameType = "oddeven"
	GameTypeBankerPlayer GameType = "bankerplayer"
)

// Outcome is both a round result and the side a bet is placed on.
type Outcome string

const (
	OutcomeOdd    Outcome = "ODD"
	OutcomeEven   Outcome = "EVEN"
	OutcomeBanker Outcome = "BANKER"
	OutcomePlayer Outcome = "PLAYER"
	OutcomeTie    Outcome = "TIE"
)

type RoundState string

const (
	RoundStateOpen    RoundState = "OPEN"
	RoundStatePending RoundState = "CLOSED_PENDING_BLOCK"
	RoundStateSettled RoundState = "SETTLED"
	RoundStateVoid    RoundState = "VOID"
)

// rank orders states along the only allowed direction of travel.
func (s RoundState) rank() int {
	switch s {
	case RoundStateOpen:
		return 0
	case RoundStatePending:
		return 1
	case RoundStateSettled, RoundStateVoid:
		return 2
	}
	return -1
}

func (s RoundState) Terminal() bool {
	return s == RoundStateSettled || s == RoundStateVoid
}

// CanTransition reports whether a round may move from s to next.
// Terminal states are never left and no state is revisited.
func (s RoundState) CanTransition(next RoundState) bool {
	if s.Terminal() || next.rank() < 0 {
		return false
	}
	if next == RoundStateSettled {
		return s == RoundStatePending
	}
	return next.rank() > s.rank()
}

type BetOutcome string

const (
	BetOutcomePending BetOutcome = ""
	BetOutcomeWin     BetOutcome = "WIN"
	BetOutcomeLose    BetOutcome = "LOSE"
	BetOutcomePush    BetOutcome = "PUSH"
	BetOutcomeVoid    BetOutcome = "VOID"
)

type PlaceBetRequest struct {
	Amount   string  `json:"amount" binding:"required"`
	Choice   Outcome `json:"choice" binding:"required"`
	Currency string  `json:"currency"`
}

type VerifyBlockRequest struct {
	BlockID       string  `json:"blockId" binding:"required"`
	ClaimedResult Outcome `json:"claimedResult"`
}
