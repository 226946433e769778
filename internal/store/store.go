// Package store defines the persistence interface for the pool service.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/atmx/cfd-pool/internal/model"
)

// ErrNotFound is returned when no snapshot exists for an asset.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Pool snapshots ---

	// SavePoolSnapshot stores the latest state of a pool. A snapshot older
	// than the stored version is ignored.
	SavePoolSnapshot(ctx context.Context, s *model.PoolState) error

	// GetPoolSnapshot returns the latest snapshot of asset's pool.
	GetPoolSnapshot(ctx context.Context, asset string) (*model.PoolState, error)

	// ListPoolSnapshots returns the latest snapshot of every pool.
	ListPoolSnapshots(ctx context.Context) ([]model.PoolState, error)

	// --- Immutable journal ---

	// InsertEvent appends an immutable pool event.
	InsertEvent(ctx context.Context, e *model.PoolEvent) error

	// ListEventsByPool returns asset's events, oldest first.
	ListEventsByPool(ctx context.Context, asset string) ([]model.PoolEvent, error)

	// ListEventsByAccount returns the events an account triggered.
	ListEventsByAccount(ctx context.Context, account string) ([]model.PoolEvent, error)
}
