package models

// DerivationStep is one character read from the block id and the numeric
// value the rule assigned to it.
type DerivationStep struct {
	Label string `json:"label"`
	Char  string `json:"char"`
	Value int    `json:"value"`
	Point int    `json:"point,omitempty"`
}

type VerificationRecord struct {
	GameType      GameType         `json:"gameType"`
	BlockNum      int64            `json:"blockNum,omitempty"`
	BlockID       string           `json:"blockId"`
	Algorithm     string           `json:"algorithm"`
	SelectedChar  string           `json:"lastChar"`
	NumericValue  int              `json:"value"`
	Steps         []DerivationStep `json:"steps"`
	DerivedResult Outcome          `json:"derivedResult"`
	ClaimedResult Outcome          `json:"claimedResult,omitempty"`
	Match         bool             `json:"matches"`
	// ChainVerified is set when the block id was re-read from the chain and
	// found equal to the stored one.
	ChainVerified bool `json:"chainVerified"`
}
