package models

import "time"

// Round is a betting opportunity bound to the hash of the block at
// TargetHeight. BlockID and Result are set together, and only when State is
// RoundStateSettled.
type Round struct {
	GameType     GameType `json:"game_type"`
	Rule         string   `json:"rule"`
	TargetHeight int64    `json:"target_height"`
	CloseHeight  int64    `json:"close_height"`

	State      RoundState `json:"state"`
	BlockID    string     `json:"block_id,omitempty"`
	Result     Outcome    `json:"result,omitempty"`
	VoidReason string     `json:"void_reason,omitempty"`

	OpenedAt  time.Time  `json:"opened_at"`
	CutoffAt  time.Time  `json:"cutoff_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	SettledAt *time.Time `json:"settled_at,omitempty"`
	VoidedAt  *time.Time `json:"voided_at,omitempty"`
}

func (r *Round) IsOpen() bool {
	return r.State == RoundStateOpen
}

// AcceptsAt reports whether a bet placed at t falls inside the admission
// window as currently known.
func (r *Round) AcceptsAt(t time.Time) bool {
	return r.IsOpen() && t.Before(r.CutoffAt)
}

func (r *Round) Clone() *Round {
	c := *r
	if r.ClosedAt != nil {
		t := *r.ClosedAt
		c.ClosedAt = &t
	}
	if r.SettledAt != nil {
		t := *r.SettledAt
		c.SettledAt = &t
	}
	if r.VoidedAt != nil {
		t := *r.VoidedAt
		c.VoidedAt = &t
	}
	return &c
}

// ResultStatus is the status string exposed to clients polling for a result.
func (r *Round) ResultStatus() string {
	switch r.State {
	case RoundStateSettled:
		return "settled"
	case RoundStateVoid:
		return "void"
	case RoundStateOpen:
		return "open"
	default:
		return "pending"
	}
}
