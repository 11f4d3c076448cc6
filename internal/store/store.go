// Package store composes the persistence contracts into the single
// dependency the host injects. Backends live in the sub-packages.
package store

import (
	"context"

	"github.com/fortunecoin/backend/internal/balance"
	"github.com/fortunecoin/backend/internal/ledger"
	"github.com/fortunecoin/backend/internal/rights"
)

// Store is implemented by memory.Store, sqlite.Store and postgres.Store.
// The host owns its lifecycle: Migrate before use, Close on shutdown.
type Store interface {
	balance.Accessor
	ledger.Store
	rights.Store

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
