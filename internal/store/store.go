// Package store persists leads keyed by identity. Every backend guarantees
// that concurrent upserts of one identity produce exactly one insert.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/masa-finance/lead-worker/api/types"
)

type UpsertResult int

const (
	Inserted UpsertResult = iota + 1
	Updated
)

func (r UpsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	default:
		return "unknown"
	}
}

var ErrInvalidIdentity = errors.New("invalid identity")

// StoreError is a persistence failure for a single candidate.
type StoreError struct {
	Identity string
	Err      error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error for %q: %v", e.Identity, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

type Store interface {
	// Upsert inserts the candidate or refreshes the existing lead with the
	// same identity, preserving its surrogate key and first-seen time.
	Upsert(ctx context.Context, c types.Candidate) (UpsertResult, error)
	Get(ctx context.Context, identity string) (types.LeadRecord, bool, error)
	ListByNiche(ctx context.Context, niche string) ([]types.LeadRecord, error)
	CountByNiche(ctx context.Context) (map[string]int, error)
	Close()
}
