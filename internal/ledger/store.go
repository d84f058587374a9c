package ledger

import (
	"context"
	"errors"
)

var (
	ErrNotFound     = errors.New("usage record not found")
	ErrLimitReached = errors.New("usage limit reached")
	ErrCostCeiling  = errors.New("cost ceiling reached")
)

// Store persists usage records. Every mutating method must be atomic for a
// single record.
type Store interface {
	Get(ctx context.Context, key Key) (*Record, error)
	// Latest returns the user's most recent record of any period.
	Latest(ctx context.Context, userID string) (*Record, error)
	// Create inserts rec unless a record with the same key exists. It returns
	// the stored record and whether this call inserted it.
	Create(ctx context.Context, rec *Record) (*Record, bool, error)
	// Reserve increments the in-flight counter for c only while
	// count+reserved < limit and accumulated cost < costCeiling. Negative
	// bounds mean unlimited. When both bounds refuse, ErrLimitReached wins.
	Reserve(ctx context.Context, key Key, c Counter, limit int, costCeiling float64) (*Record, error)
	Release(ctx context.Context, key Key, c Counter) error
	// Commit moves one unit of c from reserved to counted and adds cost.
	Commit(ctx context.Context, key Key, c Counter, cost float64) (*Record, error)
}
