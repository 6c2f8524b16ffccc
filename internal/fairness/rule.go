// Package fairness maps public block identifiers to game outcomes and
// re-checks those mappings. Nothing here touches server state, so any party
// holding a block hash can reproduce a result.
package fairness

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/firdaus0729/casino-frontend/internal/models"
)

var ErrInvalidBlockIdentifier = errors.New("invalid block identifier")

// Derivation is the outcome of a rule together with the intermediate values
// needed to audit it.
type Derivation struct {
	Outcome models.Outcome
	Steps   []models.DerivationStep
}

// Rule is a deterministic, side-effect free mapping from block id to outcome.
// A rule must never change behaviour under an existing name.
type Rule interface {
	Name() string
	Algorithm() string
	Outcomes() []models.Outcome
	Derive(blockID string) (Derivation, error)
	Resolve(choice, result models.Outcome) models.BetOutcome
	Odds(choice models.Outcome) decimal.Decimal
}

// RuleFor returns the rule bound to a game type.
func RuleFor(game models.GameType) (Rule, error) {
	switch game {
	case models.GameTypeOddEven:
		return OddEven{}, nil
	case models.GameTypeBankerPlayer:
		return BankerPlayer{}, nil
	}
	return nil, fmt.Errorf("no rule for game type %q", game)
}

// Contains reports whether choice belongs to the rule's outcome domain.
func Contains(r Rule, choice models.Outcome) bool {
	for _, o := range r.Outcomes() {
		if o == choice {
			return true
		}
	}
	return false
}

// normalize case-folds id, strips an optional 0x prefix and checks that what
// remains is at least min hex characters.
func normalize(id string, min int) (string, error) {
	s := strings.ToLower(strings.TrimSpace(id))
	s = strings.TrimPrefix(s, "0x")
	if len(s) < min {
		return "", fmt.Errorf("%w: need at least %d hex characters, got %q", ErrInvalidBlockIdentifier, min, id)
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return "", fmt.Errorf("%w: %q is not hexadecimal", ErrInvalidBlockIdentifier, id)
		}
	}
	return s, nil
}

// charValue is the numeric value the hash games assign to a hex character: a
// decimal digit is worth itself, a letter is worth its code point ('a' = 97).
// The letter rule is deliberately not the hex digit value.
func charValue(c byte) int {
	if c >= '0' && c <= '9' {
		return int(c - '0')
	}
	return int(c)
}
