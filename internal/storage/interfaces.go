// Package storage defines the tier interfaces that compose the engram memory
// store.
//
// Each tier is a small, focused interface so backends can be swapped
// independently: the durable tier is the record of truth, the search index
// answers similarity queries, and the turn store keeps per-turn results.
package storage

import (
	"context"

	"github.com/scrypster/engram/pkg/types"
)

// DurableStore persists memory records. On startup it is the source of truth.
type DurableStore interface {
	// Upsert creates or replaces a memory by ID.
	Upsert(ctx context.Context, memory *types.Memory) error

	// UpsertBatch writes several memories in a single transaction.
	UpsertBatch(ctx context.Context, memories []*types.Memory) error

	// Get retrieves a memory by ID.
	// Returns ErrNotFound if the memory doesn't exist.
	Get(ctx context.Context, id string) (*types.Memory, error)

	// Delete removes a memory. Deleting an unknown ID is not an error.
	Delete(ctx context.Context, id string) error

	// DeleteBatch removes several memories in a single transaction.
	DeleteBatch(ctx context.Context, ids []string) error

	// LoadAll returns every persisted memory.
	LoadAll(ctx context.Context) ([]*types.Memory, error)

	// Purge removes every memory while keeping the store usable.
	Purge(ctx context.Context) error

	// Close releases the underlying resources.
	Close() error
}

// IndexHit is one raw similarity match returned by a SearchIndex.
type IndexHit struct {
	ID         string
	Similarity float64
}

// SearchIndex is the searchable tier: a similarity index over index texts.
// Implementations must be safe for concurrent use.
type SearchIndex interface {
	// Upsert indexes text under id, replacing any previous entry.
	Upsert(ctx context.Context, id, text string) error

	// Remove drops id from the index. Removing an unknown ID is not an error.
	Remove(ctx context.Context, id string) error

	// Search returns up to topK entries whose similarity to query is strictly
	// greater than threshold, most similar first.
	Search(ctx context.Context, query string, topK int, threshold float64) ([]IndexHit, error)

	// Close releases the underlying resources.
	Close() error
}

// TurnStore keeps the result of every turn, indexed by turn number.
type TurnStore interface {
	// SaveTurn creates or replaces the record for result.Turn.
	SaveTurn(ctx context.Context, result *types.TurnResult) error

	// CompleteTurn merges a background outcome into an existing turn record.
	// late marks outcomes that arrived after the turn was returned.
	CompleteTurn(ctx context.Context, turn int, outcome types.BackgroundOutcome, late bool) error

	// GetTurn retrieves a turn record.
	// Returns ErrNotFound if the turn doesn't exist.
	GetTurn(ctx context.Context, turn int) (*types.TurnResult, error)

	// ListTurns returns the most recent turns, newest first.
	ListTurns(ctx context.Context, limit int) ([]*types.TurnResult, error)

	// Purge removes every turn record.
	Purge(ctx context.Context) error
}
