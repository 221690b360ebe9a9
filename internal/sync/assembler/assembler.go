// Package assembler turns queued (entity type, id) pairs into denormalized
// records ready for delivery, or into tombstones for deletions.
package assembler

import (
	"context"

	"github.com/kimhsiao/possync/internal/clock"
	"github.com/kimhsiao/possync/internal/db"
	"github.com/kimhsiao/possync/internal/logging"
	"github.com/kimhsiao/possync/internal/models"
	"github.com/kimhsiao/possync/internal/sync/queue"
	"github.com/kimhsiao/possync/internal/sync/schema"
)

// Assembler resolves records from the local store. A failure on one id is
// logged and the id omitted; it never fails the whole call.
type Assembler struct {
	store   db.LocalStore
	shadows *queue.Shadows
	clock   clock.Clock
}

// New creates an Assembler.
func New(store db.LocalStore, shadows *queue.Shadows, clk clock.Clock) *Assembler {
	return &Assembler{store: store, shadows: shadows, clock: clk}
}

// Upserts loads each id from the entity type's collection and attaches its
// child rows. Ids that cannot be found are skipped.
func (a *Assembler) Upserts(ctx context.Context, entityType string, ids []string) []models.Record {
	desc := schema.Lookup(entityType)
	records := make([]models.Record, 0, len(ids))

	for _, id := range ids {
		rec, err := a.load(ctx, desc, id)
		if err != nil {
			logging.Error("Failed to assemble record", err, map[string]interface{}{
				"entity_type": entityType,
				"entity_id":   id,
			})
			continue
		}
		if rec == nil {
			logging.Warn("Record not found, skipping", map[string]interface{}{
				"entity_type": entityType,
				"entity_id":   id,
				"collection":  desc.Collection,
			})
			continue
		}
		rec[models.FieldAction] = string(models.ActionUpsert)
		rec[models.FieldEntityType] = entityType
		records = append(records, rec)
	}
	return records
}

func (a *Assembler) load(ctx context.Context, desc *schema.Descriptor, id string) (models.Record, error) {
	rec, err := a.store.Get(ctx, desc.Collection, id)
	if err != nil || rec == nil {
		return nil, err
	}
	rec = rec.Clone()

	for _, child := range desc.Children {
		rows, err := a.store.Query(ctx, child.Collection, child.ForeignKey, id)
		if err != nil {
			return nil, err
		}
		rec[child.Field] = rows
	}
	return rec, nil
}

// Tombstones builds a delete record per id from its shadow snapshot. Ids
// without a snapshot get a minimal {id, deleted_at} tombstone.
func (a *Assembler) Tombstones(ctx context.Context, entityType string, ids []string) []models.Record {
	records := make([]models.Record, 0, len(ids))

	for _, id := range ids {
		shadow, err := a.shadows.Get(ctx, entityType, id)
		if err != nil {
			logging.Error("Failed to load shadow snapshot", err, map[string]interface{}{
				"entity_type": entityType,
				"entity_id":   id,
			})
			continue
		}

		var rec models.Record
		if shadow != nil {
			rec = shadow.Metadata.Clone()
			rec["id"] = id
			rec["deleted_at"] = shadow.DeletedAt
		} else {
			rec = models.Record{
				"id":         id,
				"deleted_at": models.UnixMillis(a.clock.Now()),
			}
		}
		rec[models.FieldAction] = string(models.ActionDelete)
		rec[models.FieldEntityType] = entityType
		records = append(records, rec)
	}
	return records
}
