package db

import (
	"context"

	"github.com/kimhsiao/possync/internal/models"
)

// LocalStore is the collection/document persistence used by the sync subsystem.
//
// Lookups of absent records return (nil, nil) rather than an error. Records are
// returned in insertion order. Query has a single consistency contract: it
// returns exactly the records GetAll would return whose field equals value,
// whether it is answered by an index or by a full scan.
type LocalStore interface {
	// Get returns the record with id, or nil when it does not exist.
	Get(ctx context.Context, collection, id string) (models.Record, error)

	// GetAll returns every readable record of a collection.
	GetAll(ctx context.Context, collection string) ([]models.Record, error)

	// Query returns the records whose field equals value.
	Query(ctx context.Context, collection, field string, value interface{}) ([]models.Record, error)

	// Count returns the number of records in a collection.
	Count(ctx context.Context, collection string) (int, error)

	// Add inserts a new record; it fails when the id already exists.
	Add(ctx context.Context, collection string, rec models.Record) error

	// Put inserts or replaces a record.
	Put(ctx context.Context, collection string, rec models.Record) error

	// Delete removes a record. Deleting an absent record is not an error.
	Delete(ctx context.Context, collection, id string) error
}

// Ensure *Repository implements the interface at compile time.
var _ LocalStore = (*Repository)(nil)
