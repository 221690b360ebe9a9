// Package queue provides the durable sync outbox and the deleted-item
// shadow store.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/kimhsiao/possync/internal/clock"
	"github.com/kimhsiao/possync/internal/db"
	apperrors "github.com/kimhsiao/possync/internal/errors"
	"github.com/kimhsiao/possync/internal/logging"
	"github.com/kimhsiao/possync/internal/models"
	"github.com/kimhsiao/possync/internal/sync/journal"
	"github.com/kimhsiao/possync/internal/uuid"
)

// Outbox records "this entity needs to be pushed remotely" in the
// sync_queue collection and tracks each entry's delivery state.
type Outbox struct {
	store   db.LocalStore
	clock   clock.Clock
	journal *journal.Journal
}

// Stats holds outbox counts per status.
type Stats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
}

// NewOutbox creates an Outbox. j may be nil to skip journaling.
func NewOutbox(store db.LocalStore, clk clock.Clock, j *journal.Journal) *Outbox {
	return &Outbox{store: store, clock: clk, journal: j}
}

// Enqueue persists a pending entry for the entity and returns its id.
// An empty action means upsert. The entry is read back before returning;
// if the read-back does not find a pending entry the call fails with
// QUEUE_NOT_DURABLE and no id is returned.
func (o *Outbox) Enqueue(ctx context.Context, entityType, entityID string, action models.Action) (string, error) {
	if entityType == "" || entityID == "" {
		return "", apperrors.New(apperrors.ErrInvalid, "entity type and id are required")
	}
	if action == "" {
		action = models.ActionUpsert
	}
	if !action.Valid() {
		return "", apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown action %q", action))
	}

	item := &models.QueueItem{
		ID:         uuid.NewOrdered(),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Status:     models.QueueStatusPending,
		Retries:    0,
		CreatedAt:  models.UnixMillis(o.clock.Now()),
	}
	if err := o.save(ctx, item); err != nil {
		return "", err
	}

	stored, err := o.Get(ctx, item.ID)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrQueueNotDurable, "failed to confirm queued item", err)
	}
	if stored == nil || stored.Status != models.QueueStatusPending || stored.Retries != 0 {
		return "", apperrors.New(apperrors.ErrQueueNotDurable, fmt.Sprintf("queued item %s not found on read-back", item.ID))
	}

	logging.Debug("Enqueued sync item", map[string]interface{}{
		"id":          item.ID,
		"entity_type": entityType,
		"entity_id":   entityID,
		"action":      string(action),
	})
	if o.journal != nil {
		o.journal.Info(ctx, fmt.Sprintf("Queued %s for %s %s", action, entityType, entityID))
	}
	return item.ID, nil
}

// Get returns the entry with id, or nil when it does not exist.
func (o *Outbox) Get(ctx context.Context, id string) (*models.QueueItem, error) {
	rec, err := o.store.Get(ctx, models.CollectionSyncQueue, id)
	if err != nil || rec == nil {
		return nil, err
	}
	return decodeItem(rec)
}

// List returns every entry in enqueue order.
func (o *Outbox) List(ctx context.Context) ([]*models.QueueItem, error) {
	records, err := o.store.GetAll(ctx, models.CollectionSyncQueue)
	if err != nil {
		return nil, err
	}
	return decodeItems(records), nil
}

// ListByStatus returns the entries with status in enqueue order.
func (o *Outbox) ListByStatus(ctx context.Context, status models.QueueStatus) ([]*models.QueueItem, error) {
	records, err := o.store.Query(ctx, models.CollectionSyncQueue, "status", string(status))
	if err != nil {
		return nil, err
	}
	return decodeItems(records), nil
}

// MarkSynced moves every item to synced. Items are written one by one;
// the store offers no cross-record transaction.
func (o *Outbox) MarkSynced(ctx context.Context, items []*models.QueueItem) error {
	now := models.UnixMillis(o.clock.Now())
	for _, item := range items {
		item.Status = models.QueueStatusSynced
		item.LastAttempt = &now
		item.SyncedAt = &now
		item.LastError = ""
		if err := o.save(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// RecordFailure increments retries on every item. Rate-limited failures
// keep the items pending; other failures move an item to failed once its
// retries reach maxRetries. It returns how many items became failed.
func (o *Outbox) RecordFailure(ctx context.Context, items []*models.QueueItem, cause error, maxRetries int, rateLimited bool) (int, error) {
	if maxRetries <= 0 {
		maxRetries = models.DefaultMaxRetries
	}
	now := models.UnixMillis(o.clock.Now())
	message := ""
	if cause != nil {
		message = cause.Error()
	}

	failed := 0
	for _, item := range items {
		item.Retries++
		item.LastAttempt = &now
		item.LastError = message
		if !rateLimited && item.Retries >= maxRetries {
			item.Status = models.QueueStatusFailed
			failed++
		}
		if err := o.save(ctx, item); err != nil {
			return failed, err
		}
	}
	return failed, nil
}

// ResetFailed returns every failed entry to pending with zero retries.
func (o *Outbox) ResetFailed(ctx context.Context) (int, error) {
	items, err := o.ListByStatus(ctx, models.QueueStatusFailed)
	if err != nil {
		return 0, err
	}

	for _, item := range items {
		item.Status = models.QueueStatusPending
		item.Retries = 0
		item.LastError = ""
		if err := o.save(ctx, item); err != nil {
			return 0, err
		}
	}

	if len(items) > 0 {
		logging.Info("Reset failed sync items for retry", map[string]interface{}{"count": len(items)})
		if o.journal != nil {
			o.journal.Info(ctx, fmt.Sprintf("Reset %d failed items for retry", len(items)))
		}
	}
	return len(items), nil
}

// Stats returns outbox counts per status.
func (o *Outbox) Stats(ctx context.Context) (Stats, error) {
	items, err := o.List(ctx)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	for _, item := range items {
		stats.Total++
		switch item.Status {
		case models.QueueStatusPending:
			stats.Pending++
		case models.QueueStatusSynced:
			stats.Synced++
		case models.QueueStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// PurgeSynced deletes synced entries delivered more than olderThan ago.
func (o *Outbox) PurgeSynced(ctx context.Context, olderThan time.Duration) (int, error) {
	items, err := o.ListByStatus(ctx, models.QueueStatusSynced)
	if err != nil {
		return 0, err
	}

	cutoff := models.UnixMillis(o.clock.Now().Add(-olderThan))
	purged := 0
	for _, item := range items {
		if item.SyncedAt == nil || *item.SyncedAt > cutoff {
			continue
		}
		if err := o.store.Delete(ctx, models.CollectionSyncQueue, item.ID); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}

func (o *Outbox) save(ctx context.Context, item *models.QueueItem) error {
	rec, err := models.Encode(item)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encode queue item", err)
	}
	return o.store.Put(ctx, models.CollectionSyncQueue, rec)
}

func decodeItem(rec models.Record) (*models.QueueItem, error) {
	var item models.QueueItem
	if err := models.Decode(rec, &item); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "malformed queue item", err)
	}
	return &item, nil
}

func decodeItems(records []models.Record) []*models.QueueItem {
	items := make([]*models.QueueItem, 0, len(records))
	for _, rec := range records {
		item, err := decodeItem(rec)
		if err != nil {
			logging.WarnErr("Skipping malformed queue item", err, map[string]interface{}{"id": rec.ID()})
			continue
		}
		items = append(items, item)
	}
	return items
}
