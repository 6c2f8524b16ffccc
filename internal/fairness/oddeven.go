package fairness

import (
	"github.com/shopspring/decimal"

	"github.com/firdaus0729/casino-frontend/internal/models"
)

var oddEvenOdds = decimal.New(195, -2)

// OddEven reads the last character of the block id. Even value wins EVEN.
type OddEven struct{}

func (OddEven) Name() string { return "oddeven-lastchar-v1" }

func (OddEven) Algorithm() string {
	return "lastChar = lower(blockId)[-1]; value = isDigit(lastChar) ? digit(lastChar) : charCode(lastChar); result = value % 2 == 0 ? EVEN : ODD"
}

func (OddEven) Outcomes() []models.Outcome {
	return []models.Outcome{models.OutcomeOdd, models.OutcomeEven}
}

func (OddEven) Derive(blockID string) (Derivation, error) {
	s, err := normalize(blockID, 1)
	if err != nil {
		return Derivation{}, err
	}

	last := s[len(s)-1]
	value := charValue(last)

	outcome := models.OutcomeOdd
	if value%2 == 0 {
		outcome = models.OutcomeEven
	}

	return Derivation{
		Outcome: outcome,
		Steps: []models.DerivationStep{
			{Label: "last", Char: string(last), Value: value},
		},
	}, nil
}

func (OddEven) Resolve(choice, result models.Outcome) models.BetOutcome {
	if choice == result {
		return models.BetOutcomeWin
	}
	return models.BetOutcomeLose
}

func (OddEven) Odds(models.Outcome) decimal.Decimal {
	return oddEvenOdds
}
