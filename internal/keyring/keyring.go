// Package keyring hands out provider API keys round-robin from a fixed pool,
// tracking the position in a cursor shared by every API instance.
package keyring

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrEmptyPool means no provider keys were configured. It is not retryable.
var ErrEmptyPool = errors.New("no generation api keys configured")

const (
	DefaultCursorKey = "docforge:gemini_key_index"
	DefaultTTL       = 24 * time.Hour
)

// Cursor stores the rotation position. Advance returns the index to use for
// this call, already reduced into [0, n), and moves the stored position on.
type Cursor interface {
	Advance(ctx context.Context, n int) (int, error)
}

type Rotator struct {
	pool   []string
	cursor Cursor
}

// New copies pool so later changes by the caller do not reorder rotation.
func New(pool []string, cursor Cursor) *Rotator {
	return &Rotator{pool: append([]string(nil), pool...), cursor: cursor}
}

func (r *Rotator) Size() int {
	return len(r.pool)
}

// Next returns the key at the cursor and advances it.
func (r *Rotator) Next(ctx context.Context) (string, error) {
	if len(r.pool) == 0 {
		return "", ErrEmptyPool
	}
	index, err := r.cursor.Advance(ctx, len(r.pool))
	if err != nil {
		return "", fmt.Errorf("advance key cursor: %w", err)
	}
	return r.pool[index], nil
}

// wrap reduces a stored position into the pool range. Positions written when
// the pool was larger wrap instead of failing.
func wrap(value int64, n int) int {
	if n <= 0 {
		return 0
	}
	index := value % int64(n)
	if index < 0 {
		index += int64(n)
	}
	return int(index)
}
