// Package recorder is the write path used by the application: every saved
// or removed entity is mirrored into the sync outbox.
package recorder

import (
	"context"
	"fmt"

	"github.com/kimhsiao/possync/internal/db"
	apperrors "github.com/kimhsiao/possync/internal/errors"
	"github.com/kimhsiao/possync/internal/logging"
	"github.com/kimhsiao/possync/internal/models"
	"github.com/kimhsiao/possync/internal/sync/queue"
	"github.com/kimhsiao/possync/internal/sync/schema"
)

// Recorder persists entities and enqueues their sync.
type Recorder struct {
	store   db.LocalStore
	outbox  *queue.Outbox
	shadows *queue.Shadows
}

// New creates a Recorder.
func New(store db.LocalStore, outbox *queue.Outbox, shadows *queue.Shadows) *Recorder {
	return &Recorder{store: store, outbox: outbox, shadows: shadows}
}

// Save writes rec to the entity type's collection and enqueues an upsert.
// It returns the queue item id.
func (r *Recorder) Save(ctx context.Context, entityType string, rec models.Record) (string, error) {
	if rec.ID() == "" {
		return "", apperrors.New(apperrors.ErrInvalid, "record id is required")
	}
	desc := schema.Lookup(entityType)
	if err := r.store.Put(ctx, desc.Collection, rec); err != nil {
		return "", err
	}
	return r.outbox.Enqueue(ctx, entityType, rec.ID(), models.ActionUpsert)
}

// SaveChild writes a child row (sale line, payment, movement) and enqueues
// an upsert of its parent so the parent is re-sent with its children.
func (r *Recorder) SaveChild(ctx context.Context, entityType, childField string, rec models.Record) (string, error) {
	desc := schema.Lookup(entityType)
	for _, child := range desc.Children {
		if child.Field != childField {
			continue
		}
		parentID := rec.String(child.ForeignKey)
		if rec.ID() == "" || parentID == "" {
			return "", apperrors.New(apperrors.ErrInvalid,
				fmt.Sprintf("child row needs an id and %s", child.ForeignKey))
		}
		if err := r.store.Put(ctx, child.Collection, rec); err != nil {
			return "", err
		}
		return r.outbox.Enqueue(ctx, entityType, parentID, models.ActionUpsert)
	}
	return "", apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("%s has no child %q", entityType, childField))
}

// Remove captures a shadow snapshot, deletes the entity and enqueues a
// delete. Removing an entity that does not exist still enqueues the delete
// so the remote copy is tombstoned.
func (r *Recorder) Remove(ctx context.Context, entityType, entityID string) (string, error) {
	if entityID == "" {
		return "", apperrors.New(apperrors.ErrInvalid, "entity id is required")
	}
	desc := schema.Lookup(entityType)

	rec, err := r.store.Get(ctx, desc.Collection, entityID)
	if err != nil {
		return "", err
	}
	if rec != nil {
		if err := r.shadows.Capture(ctx, entityType, rec); err != nil {
			return "", err
		}
		if err := r.store.Delete(ctx, desc.Collection, entityID); err != nil {
			return "", err
		}
	} else {
		logging.Warn("Removing unknown entity, tombstone will be minimal", map[string]interface{}{
			"entity_type": entityType,
			"entity_id":   entityID,
		})
	}
	return r.outbox.Enqueue(ctx, entityType, entityID, models.ActionDelete)
}
