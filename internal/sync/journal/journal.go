// Package journal provides the capped, append-only sync log.
package journal

import (
	"context"
	"sort"
	"sync"

	"github.com/kimhsiao/possync/internal/clock"
	"github.com/kimhsiao/possync/internal/db"
	apperrors "github.com/kimhsiao/possync/internal/errors"
	"github.com/kimhsiao/possync/internal/logging"
	"github.com/kimhsiao/possync/internal/models"
	"github.com/kimhsiao/possync/internal/uuid"
)

// DefaultCapacity is the number of most recent entries kept.
const DefaultCapacity = 2000

// Journal appends sync log entries and evicts the oldest ones past capacity.
type Journal struct {
	store    db.LocalStore
	clock    clock.Clock
	capacity int

	// Serializes append and prune.
	mu sync.Mutex
}

// New creates a Journal with DefaultCapacity.
func New(store db.LocalStore, clk clock.Clock) *Journal {
	return NewWithCapacity(store, clk, DefaultCapacity)
}

// NewWithCapacity creates a Journal keeping at most capacity entries.
func NewWithCapacity(store db.LocalStore, clk clock.Clock, capacity int) *Journal {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Journal{store: store, clock: clk, capacity: capacity}
}

// Append stores entry, assigning its id and creation time, then prunes the
// log down to capacity.
func (j *Journal) Append(ctx context.Context, entry *models.SyncLog) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry.ID = uuid.NewOrdered()
	entry.CreatedAt = models.UnixMillis(j.clock.Now())

	rec, err := models.Encode(entry)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encode sync log", err)
	}
	if err := j.store.Add(ctx, models.CollectionSyncLogs, rec); err != nil {
		return err
	}
	return j.prune(ctx)
}

// Info appends an informational entry. Journal failures are logged, never returned.
func (j *Journal) Info(ctx context.Context, message string) {
	j.record(ctx, &models.SyncLog{Type: models.LogTypeInfo, Message: message})
}

// Warning appends a warning entry.
func (j *Journal) Warning(ctx context.Context, message string) {
	j.record(ctx, &models.SyncLog{Type: models.LogTypeWarning, Message: message, Status: "warning"})
}

// Success appends a success entry with elapsed time and item count.
func (j *Journal) Success(ctx context.Context, message string, durationMs int64, items int) {
	j.record(ctx, &models.SyncLog{
		Type:        models.LogTypeSuccess,
		Message:     message,
		Status:      "success",
		Duration:    &durationMs,
		ItemsSynced: &items,
	})
}

// Error appends an error entry.
func (j *Journal) Error(ctx context.Context, message string, durationMs int64) {
	j.record(ctx, &models.SyncLog{
		Type:     models.LogTypeError,
		Message:  message,
		Status:   "error",
		Duration: &durationMs,
	})
}

func (j *Journal) record(ctx context.Context, entry *models.SyncLog) {
	if err := j.Append(ctx, entry); err != nil {
		logging.Error("Failed to append sync log", err, map[string]interface{}{
			"type":    string(entry.Type),
			"message": entry.Message,
		})
	}
}

// Recent returns up to limit entries, newest first. limit <= 0 returns all.
func (j *Journal) Recent(ctx context.Context, limit int) ([]*models.SyncLog, error) {
	entries, err := j.load(ctx)
	if err != nil {
		return nil, err
	}
	for i, k := 0, len(entries)-1; i < k; i, k = i+1, k-1 {
		entries[i], entries[k] = entries[k], entries[i]
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// load returns every entry, oldest first.
func (j *Journal) load(ctx context.Context) ([]*models.SyncLog, error) {
	entries, _, err := j.scan(ctx)
	return entries, err
}

// scan decodes every stored entry, oldest first, and returns the ids of
// rows that fail to decode separately.
func (j *Journal) scan(ctx context.Context) ([]*models.SyncLog, []string, error) {
	records, err := j.store.GetAll(ctx, models.CollectionSyncLogs)
	if err != nil {
		return nil, nil, err
	}

	entries := make([]*models.SyncLog, 0, len(records))
	var broken []string
	for _, rec := range records {
		var entry models.SyncLog
		if err := models.Decode(rec, &entry); err != nil {
			logging.WarnErr("Skipping undecodable sync log", err, map[string]interface{}{"id": rec.ID()})
			broken = append(broken, rec.ID())
			continue
		}
		entries = append(entries, &entry)
	}

	sort.SliceStable(entries, func(a, b int) bool {
		if entries[a].CreatedAt != entries[b].CreatedAt {
			return entries[a].CreatedAt < entries[b].CreatedAt
		}
		return entries[a].ID < entries[b].ID
	})
	return entries, broken, nil
}

// prune deletes rows beyond capacity. Undecodable rows go before the
// oldest entries.
func (j *Journal) prune(ctx context.Context) error {
	n, err := j.store.Count(ctx, models.CollectionSyncLogs)
	if err != nil {
		return err
	}
	if n <= j.capacity {
		return nil
	}

	entries, broken, err := j.scan(ctx)
	if err != nil {
		return err
	}
	victims := broken
	for _, entry := range entries {
		victims = append(victims, entry.ID)
	}

	excess := n - j.capacity
	for i := 0; i < excess && i < len(victims); i++ {
		if err := j.store.Delete(ctx, models.CollectionSyncLogs, victims[i]); err != nil {
			return err
		}
	}
	return nil
}
