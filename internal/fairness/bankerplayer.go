package fairness

import (
	"github.com/shopspring/decimal"

	"github.com/firdaus0729/casino-frontend/internal/models"
)

var (
	bankerPlayerOdds = decimal.New(195, -2)
	tieOdds          = decimal.New(8, 0)
)

// BankerPlayer deals one point to each side from the tail of the block id:
// the last character is the player's card, the one before it the banker's.
// A card's point is its character value mod 10. Higher point wins, equal
// points tie.
type BankerPlayer struct{}

func (BankerPlayer) Name() string { return "bankerplayer-tail2-v1" }

func (BankerPlayer) Algorithm() string {
	return "player = value(lower(blockId)[-1]) % 10; banker = value(lower(blockId)[-2]) % 10; value(c) = isDigit(c) ? digit(c) : charCode(c); result = banker > player ? BANKER : player > banker ? PLAYER : TIE"
}

func (BankerPlayer) Outcomes() []models.Outcome {
	return []models.Outcome{models.OutcomeBanker, models.OutcomePlayer, models.OutcomeTie}
}

func (BankerPlayer) Derive(blockID string) (Derivation, error) {
	s, err := normalize(blockID, 2)
	if err != nil {
		return Derivation{}, err
	}

	pc, bc := s[len(s)-1], s[len(s)-2]
	pv, bv := charValue(pc), charValue(bc)
	player, banker := pv%10, bv%10

	outcome := models.OutcomeTie
	switch {
	case banker > player:
		outcome = models.OutcomeBanker
	case player > banker:
		outcome = models.OutcomePlayer
	}

	return Derivation{
		Outcome: outcome,
		Steps: []models.DerivationStep{
			{Label: "player", Char: string(pc), Value: pv, Point: player},
			{Label: "banker", Char: string(bc), Value: bv, Point: banker},
		},
	}, nil
}

// Resolve pushes banker and player stakes when the hand ties.
func (BankerPlayer) Resolve(choice, result models.Outcome) models.BetOutcome {
	switch {
	case choice == result:
		return models.BetOutcomeWin
	case result == models.OutcomeTie:
		return models.BetOutcomePush
	default:
		return models.BetOutcomeLose
	}
}

func (BankerPlayer) Odds(choice models.Outcome) decimal.Decimal {
	if choice == models.OutcomeTie {
		return tieOdds
	}
	return bankerPlayerOdds
}
