package fairness

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/firdaus0729/casino-frontend/internal/models"
)

var (
	ErrFairnessMismatch = errors.New("fairness mismatch")
	ErrUnknownOutcome   = errors.New("outcome not in game domain")
)

// MismatchError carries the record that failed to reproduce. It is an
// integrity alarm, not a user error.
type MismatchError struct {
	Record *models.VerificationRecord
	Reason string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("fairness mismatch for block %d (%s): %s", e.Record.BlockNum, e.Record.BlockID, e.Reason)
}

func (e *MismatchError) Is(target error) bool {
	return target == ErrFairnessMismatch
}

// VerifyBlock re-derives the outcome of blockID under rule and compares it
// with claimed. An empty claim only reports the derivation; a claim the game
// cannot produce is rejected with ErrUnknownOutcome. Calling it any number
// of times yields the same record.
func VerifyBlock(rule Rule, game models.GameType, blockID string, claimed models.Outcome) (*models.VerificationRecord, error) {
	if claimed != "" && !Contains(rule, claimed) {
		return nil, fmt.Errorf("%w: %q is not a %s outcome", ErrUnknownOutcome, claimed, game)
	}
	return verify(rule, game, blockID, claimed)
}

func verify(rule Rule, game models.GameType, blockID string, claimed models.Outcome) (*models.VerificationRecord, error) {
	d, err := rule.Derive(blockID)
	if err != nil {
		return nil, err
	}

	rec := &models.VerificationRecord{
		GameType:      game,
		BlockID:       blockID,
		Algorithm:     rule.Algorithm(),
		Steps:         d.Steps,
		DerivedResult: d.Outcome,
		ClaimedResult: claimed,
		Match:         claimed == "" || claimed == d.Outcome,
	}
	if len(d.Steps) > 0 {
		rec.SelectedChar = d.Steps[0].Char
		rec.NumericValue = d.Steps[0].Value
	}

	if !rec.Match {
		return rec, &MismatchError{
			Record: rec,
			Reason: fmt.Sprintf("derived %s, claimed %s", d.Outcome, claimed),
		}
	}
	return rec, nil
}

// VerifyRound checks a settled round against its own stored block id. A
// stored result outside the game's domain is a mismatch, not a bad request.
func VerifyRound(rule Rule, round *models.Round) (*models.VerificationRecord, error) {
	if round.State != models.RoundStateSettled {
		return nil, fmt.Errorf("round %d is %s, not settled", round.TargetHeight, round.State)
	}
	if round.Rule != "" && round.Rule != rule.Name() {
		return nil, fmt.Errorf("round %d was settled under rule %s, not %s", round.TargetHeight, round.Rule, rule.Name())
	}

	rec, err := verify(rule, round.GameType, round.BlockID, round.Result)
	if rec != nil {
		rec.BlockNum = round.TargetHeight
	}
	return rec, err
}

// Payout is what the ledger owes the bettor for a resolved bet, stake
// included.
func Payout(rule Rule, choice models.Outcome, outcome models.BetOutcome, amount decimal.Decimal) decimal.Decimal {
	switch outcome {
	case models.BetOutcomeWin:
		return amount.Mul(rule.Odds(choice))
	case models.BetOutcomePush, models.BetOutcomeVoid:
		return amount
	default:
		return decimal.Zero
	}
}
