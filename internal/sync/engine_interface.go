// Package sync drains the outbox into the remote spreadsheet.
package sync

import (
	"context"

	"github.com/kimhsiao/possync/internal/models"
	"github.com/kimhsiao/possync/internal/sync/sheets"
)

// SyncEngineInterface defines the control surface used by the scheduler and
// the HTTP handlers. It allows alternative implementations in tests.
type SyncEngineInterface interface {
	// Sync runs one pass. Per-batch failures are reported in the result;
	// only guard, configuration and authentication problems return an error.
	Sync(ctx context.Context) (*SyncResult, error)

	// Status returns a snapshot of the engine and queue state.
	Status(ctx context.Context) (Status, error)

	Pause(ctx context.Context) error
	Resume(ctx context.Context) error

	// SetOnline records connectivity. Passes are refused while offline.
	SetOnline(online bool)

	// RetryFailed returns every failed queue item to pending.
	RetryFailed(ctx context.Context) (int, error)

	// LastError returns the most recent pass or batch error.
	LastError() error
}

// Deliverer writes assembled records for one entity type to the remote store.
type Deliverer interface {
	Deliver(ctx context.Context, entityType string, records []models.Record) error
}

// IndexRefresher maintains the index sheet.
type IndexRefresher interface {
	EnsureIndex(ctx context.Context) error
	RefreshIndex(ctx context.Context) ([]sheets.IndexEntry, error)
}

// Authenticator makes sure remote credentials are valid before a pass.
type Authenticator interface {
	Authenticate(ctx context.Context) error
}

var (
	_ SyncEngineInterface = (*SyncEngine)(nil)
	_ Deliverer           = (*sheets.Writer)(nil)
	_ IndexRefresher      = (*sheets.IndexMaintainer)(nil)
)
