// Package blocksource reads chain height and finalized block identifiers.
package blocksource

import (
	"context"
	"errors"
)

// ErrBlockUnavailable means the block at the requested height has not been
// produced yet, or the source could not return it right now. Callers retry.
var ErrBlockUnavailable = errors.New("block unavailable")

type Source interface {
	Name() string
	CurrentHeight(ctx context.Context) (int64, error)
	BlockID(ctx context.Context, height int64) (string, error)
}
