// Package store defines the persistence interface for the paper engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), JSON files on local disk, and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/atmx/paper-engine/internal/model"
)

// ErrNoState is returned by LoadState when nothing has been saved yet.
var ErrNoState = errors.New("store: no saved state")

// Store is the persistence interface. Every implementation is scoped to a
// single engine id so independent engines can share one backend.
type Store interface {
	// --- Engine state ---

	// SaveState replaces the saved snapshot. Saving the same snapshot twice
	// is harmless.
	SaveState(ctx context.Context, snap *model.Snapshot) error

	// LoadState returns the last saved snapshot or ErrNoState.
	LoadState(ctx context.Context) (*model.Snapshot, error)

	// --- Append-only trade log ---

	// AppendTrade records a closed trade. Appending a trade whose
	// trade_group_id is already present is a no-op.
	AppendTrade(ctx context.Context, trade *model.Trade) error

	// LoadTrades returns the trade log in append order.
	LoadTrades(ctx context.Context) ([]model.Trade, error)
}
