package sync

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kimhsiao/possync/internal/clock"
	"github.com/kimhsiao/possync/internal/db"
	apperrors "github.com/kimhsiao/possync/internal/errors"
	"github.com/kimhsiao/possync/internal/logging"
	"github.com/kimhsiao/possync/internal/models"
	"github.com/kimhsiao/possync/internal/notify"
	"github.com/kimhsiao/possync/internal/sync/assembler"
	"github.com/kimhsiao/possync/internal/sync/journal"
	"github.com/kimhsiao/possync/internal/sync/queue"
	"github.com/kimhsiao/possync/internal/sync/ratelimit"
	"github.com/kimhsiao/possync/internal/telemetry"
)

// Phase is the step a pass is in.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseAuthenticating  Phase = "authenticating"
	PhaseDraining        Phase = "draining"
	PhaseDelivering      Phase = "delivering"
	PhaseRefreshingIndex Phase = "refreshing_index"
	PhaseDone            Phase = "done"
)

// SyncResult summarizes one pass. Counts are queue items.
type SyncResult struct {
	StartTime      time.Time     `json:"start_time"`
	EndTime        time.Time     `json:"end_time"`
	Duration       time.Duration `json:"duration"`
	Pending        int           `json:"pending"`
	Filtered       int           `json:"filtered"`
	Batches        int           `json:"batches"`
	Synced         int           `json:"synced"`
	Failed         int           `json:"failed"`
	RateLimited    int           `json:"rate_limited"`
	Abandoned      int           `json:"abandoned"`
	NothingToSync  bool          `json:"nothing_to_sync"`
	Interrupted    bool          `json:"interrupted"`
	IndexRefreshed bool          `json:"index_refreshed"`
}

// Status is a snapshot of engine and queue state.
type Status struct {
	Phase     Phase       `json:"phase"`
	Syncing   bool        `json:"syncing"`
	Paused    bool        `json:"paused"`
	Online    bool        `json:"online"`
	LastSync  *time.Time  `json:"last_sync,omitempty"`
	LastError string      `json:"last_error,omitempty"`
	Queue     queue.Stats `json:"queue"`
}

// Deps are the collaborators of a SyncEngine. Store and Deliverer are
// required; the rest default to implementations over Store.
type Deps struct {
	Store     db.LocalStore
	Deliverer Deliverer
	Index     IndexRefresher
	Auth      Authenticator
	Notifier  notify.Notifier
	Metrics   *telemetry.Metrics
	Clock     clock.Clock

	Journal   *journal.Journal
	Outbox    *queue.Outbox
	Shadows   *queue.Shadows
	Assembler *assembler.Assembler
	Settings  *SettingsStore
}

// SyncEngine drains pending queue items into the remote store. One engine
// exists per process; Sync is not reentrant.
type SyncEngine struct {
	outbox    *queue.Outbox
	shadows   *queue.Shadows
	assembler *assembler.Assembler
	journal   *journal.Journal
	settings  *SettingsStore
	deliverer Deliverer
	index     IndexRefresher
	auth      Authenticator
	notifier  notify.Notifier
	metrics   *telemetry.Metrics
	clock     clock.Clock

	syncing atomic.Bool
	online  atomic.Bool

	mu       sync.RWMutex
	phase    Phase
	lastSync *time.Time
	lastErr  error
}

// NewSyncEngine creates a SyncEngine.
func NewSyncEngine(d Deps) *SyncEngine {
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Notifier == nil {
		d.Notifier = notify.Log{}
	}
	if d.Journal == nil {
		d.Journal = journal.New(d.Store, d.Clock)
	}
	if d.Outbox == nil {
		d.Outbox = queue.NewOutbox(d.Store, d.Clock, d.Journal)
	}
	if d.Shadows == nil {
		d.Shadows = queue.NewShadows(d.Store, d.Clock)
	}
	if d.Assembler == nil {
		d.Assembler = assembler.New(d.Store, d.Shadows, d.Clock)
	}
	if d.Settings == nil {
		d.Settings = NewSettingsStore(d.Store, nil)
	}

	e := &SyncEngine{
		outbox:    d.Outbox,
		shadows:   d.Shadows,
		assembler: d.Assembler,
		journal:   d.Journal,
		settings:  d.Settings,
		deliverer: d.Deliverer,
		index:     d.Index,
		auth:      d.Auth,
		notifier:  d.Notifier,
		metrics:   d.Metrics,
		clock:     d.Clock,
		phase:     PhaseIdle,
	}
	e.online.Store(true)
	return e
}

// Phase returns the current pass phase.
func (e *SyncEngine) Phase() Phase {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.phase
}

func (e *SyncEngine) setPhase(p Phase) {
	e.mu.Lock()
	e.phase = p
	e.mu.Unlock()
	logging.Debug("Sync phase changed", map[string]interface{}{"phase": string(p)})
}

// LastSync returns the end time of the last pass that had no failed batch.
func (e *SyncEngine) LastSync() *time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSync
}

// LastError returns the most recent pass or batch error.
func (e *SyncEngine) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

func (e *SyncEngine) setLastError(err error) {
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
}

// Online reports the last known connectivity.
func (e *SyncEngine) Online() bool {
	return e.online.Load()
}

// SetOnline records connectivity.
func (e *SyncEngine) SetOnline(online bool) {
	if e.online.Swap(online) != online {
		logging.Info("Connectivity changed", map[string]interface{}{"online": online})
	}
}

// Syncing reports whether a pass is running.
func (e *SyncEngine) Syncing() bool {
	return e.syncing.Load()
}

// Status returns a snapshot of engine and queue state.
func (e *SyncEngine) Status(ctx context.Context) (Status, error) {
	settings, err := e.settings.Load(ctx)
	if err != nil {
		return Status{}, err
	}
	stats, err := e.outbox.Stats(ctx)
	if err != nil {
		return Status{}, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	st := Status{
		Phase:    e.phase,
		Syncing:  e.syncing.Load(),
		Paused:   settings.Paused,
		Online:   e.online.Load(),
		LastSync: e.lastSync,
		Queue:    stats,
	}
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
	}
	return st, nil
}

// Pause stops new passes until Resume. The flag is persisted.
func (e *SyncEngine) Pause(ctx context.Context) error {
	return e.setPaused(ctx, true)
}

// Resume allows passes again.
func (e *SyncEngine) Resume(ctx context.Context) error {
	return e.setPaused(ctx, false)
}

func (e *SyncEngine) setPaused(ctx context.Context, paused bool) error {
	if _, err := e.settings.Update(ctx, func(s *models.SyncSettings) error {
		s.Paused = paused
		return nil
	}); err != nil {
		return err
	}

	msg := "Sync resumed"
	if paused {
		msg = "Sync paused"
	}
	logging.Info(msg)
	e.journal.Info(ctx, msg)
	e.notifier.Notify(notify.SeverityInfo, msg)
	return nil
}

// RetryFailed returns every failed queue item to pending with zero retries.
func (e *SyncEngine) RetryFailed(ctx context.Context) (int, error) {
	n, err := e.outbox.ResetFailed(ctx)
	if err != nil {
		return 0, err
	}
	e.publishQueueDepth(ctx)
	return n, nil
}

// =====================================================
// Sync pass
// =====================================================

// Sync runs one pass over the pending queue items.
func (e *SyncEngine) Sync(ctx context.Context) (*SyncResult, error) {
	if !e.syncing.CompareAndSwap(false, true) {
		e.notifier.Notify(notify.SeverityWarning, "Sync already in progress")
		return nil, apperrors.New(apperrors.ErrSyncInProgress, "sync already in progress")
	}
	defer e.syncing.Store(false)
	defer e.setPhase(PhaseIdle)

	result := &SyncResult{StartTime: e.clock.Now()}

	settings, err := e.settings.Load(ctx)
	if err != nil {
		return nil, e.abort(err, "Could not load sync settings")
	}
	if settings.Paused {
		e.notifier.Notify(notify.SeverityWarning, "Sync is paused")
		e.metrics.ObservePass(telemetry.OutcomeSkipped, 0)
		return nil, apperrors.New(apperrors.ErrSyncPaused, "sync is paused")
	}
	if !e.online.Load() {
		e.notifier.Notify(notify.SeverityWarning, "Offline: changes will sync when the connection returns")
		e.metrics.ObservePass(telemetry.OutcomeSkipped, 0)
		return nil, apperrors.New(apperrors.ErrSyncOffline, "no connectivity")
	}
	if !settings.Configured() {
		return nil, e.abort(
			apperrors.New(apperrors.ErrSyncNotConfigured, "client id and spreadsheet id are required"),
			"Sync is not configured: set the client id and spreadsheet id")
	}

	e.setPhase(PhaseAuthenticating)
	if e.auth != nil {
		if err := e.auth.Authenticate(ctx); err != nil {
			if !apperrors.Is(err, apperrors.ErrSyncAuthFailed) {
				err = apperrors.Wrap(apperrors.ErrSyncAuthFailed, "authentication failed", err)
			}
			return nil, e.abort(err, "Google authentication failed")
		}
	}
	if e.index != nil {
		if err := e.index.EnsureIndex(ctx); err != nil {
			return nil, e.abort(apperrors.Wrap(apperrors.ErrSyncFailed, "failed to provision index sheet", err),
				"Could not reach the spreadsheet")
		}
	}

	e.setPhase(PhaseDraining)
	pending, err := e.outbox.ListByStatus(ctx, models.QueueStatusPending)
	if err != nil {
		return nil, e.abort(err, "Could not read the sync queue")
	}
	result.Pending = len(pending)

	items := make([]*models.QueueItem, 0, len(pending))
	for _, item := range pending {
		if settings.Enabled(item.EntityType) {
			items = append(items, item)
		}
	}
	result.Filtered = len(pending) - len(items)

	if len(items) == 0 {
		result.NothingToSync = true
		e.finishTiming(result)
		logging.Info("Nothing to sync", map[string]interface{}{"pending": result.Pending, "filtered": result.Filtered})
		e.notifier.Notify(notify.SeverityInfo, "Nothing to sync")
		e.metrics.ObservePass(telemetry.OutcomeSkipped, 0)
		return result, nil
	}

	e.notifier.Broadcast(notify.NewEvent(notify.EventSyncStarted, map[string]interface{}{
		"pending": len(items),
	}))

	e.setPhase(PhaseDelivering)
	for _, group := range groupByType(items) {
		for _, batch := range chunk(group.items, settings.BatchSize) {
			if ctx.Err() != nil {
				result.Interrupted = true
				break
			}
			result.Batches++
			e.deliverBatch(ctx, group.entityType, batch, settings.MaxRetries, result)
		}
	}

	if e.index != nil && ctx.Err() == nil {
		e.setPhase(PhaseRefreshingIndex)
		if _, err := e.index.RefreshIndex(ctx); err != nil {
			logging.WarnErr("Index sheet refresh failed", err)
		} else {
			result.IndexRefreshed = true
		}
	}
	if ctx.Err() != nil {
		result.Interrupted = true
	}

	e.setPhase(PhaseDone)
	e.finish(ctx, result)
	return result, nil
}

// abort ends a pass before any queue mutation.
func (e *SyncEngine) abort(err error, message string) error {
	logging.ErrorWithCode(message, string(apperrors.Code(err)), err)
	e.setLastError(err)
	e.notifier.Notify(notify.SeverityError, message)
	e.notifier.Broadcast(notify.NewEvent(notify.EventSyncFailed, map[string]interface{}{
		"error_code": string(apperrors.Code(err)),
		"message":    message,
	}))
	e.metrics.ObservePass(telemetry.OutcomeFailed, 0)
	return err
}

// deliverBatch assembles and delivers one batch and records the outcome on
// every item of the batch.
func (e *SyncEngine) deliverBatch(ctx context.Context, entityType string, batch []*models.QueueItem, maxRetries int, result *SyncResult) {
	start := e.clock.Now()

	var upsertIDs, deleteIDs []string
	var deletes []*models.QueueItem
	for _, item := range batch {
		if item.Action == models.ActionDelete {
			deleteIDs = append(deleteIDs, item.EntityID)
			deletes = append(deletes, item)
		} else {
			upsertIDs = append(upsertIDs, item.EntityID)
		}
	}

	records := e.assembler.Upserts(ctx, entityType, upsertIDs)
	records = append(records, e.assembler.Tombstones(ctx, entityType, deleteIDs)...)

	var err error
	if len(records) == 0 {
		err = apperrors.New(apperrors.ErrSyncNothingAssembled,
			fmt.Sprintf("no records assembled for %d %s items", len(batch), entityType))
	} else {
		err = e.deliverer.Deliver(ctx, entityType, records)
	}
	elapsed := e.clock.Now().Sub(start).Milliseconds()

	logCtx := map[string]interface{}{
		"entity_type": entityType,
		"items":       len(batch),
		"records":     len(records),
		"duration_ms": elapsed,
	}

	switch {
	case err == nil:
		if err := e.outbox.MarkSynced(ctx, batch); err != nil {
			logging.Error("Delivered batch could not be marked synced", err, logCtx)
			e.setLastError(err)
			result.Failed += len(batch)
			e.metrics.ObserveBatch(entityType, "failed", len(batch))
			return
		}
		for _, item := range deletes {
			if err := e.shadows.Remove(ctx, entityType, item.EntityID); err != nil {
				logging.WarnErr("Failed to remove shadow snapshot", err, map[string]interface{}{
					"entity_type": entityType,
					"entity_id":   item.EntityID,
				})
			}
		}
		result.Synced += len(batch)
		logging.Info("Batch synced", logCtx)
		e.journal.Success(ctx, fmt.Sprintf("Synced %d %s records", len(batch), entityType), elapsed, len(batch))
		e.metrics.ObserveBatch(entityType, "synced", len(batch))

	case ctx.Err() != nil:
		// Abandoned mid-flight; the items stay pending untouched.
		logging.WarnErr("Batch interrupted", err, logCtx)
		result.Interrupted = true

	case ratelimit.IsRateLimited(err):
		if _, ferr := e.outbox.RecordFailure(ctx, batch, err, maxRetries, true); ferr != nil {
			logging.Error("Failed to record rate-limited batch", ferr, logCtx)
		}
		result.RateLimited += len(batch)
		logging.WarnErr("Batch rate limited, will retry on a later pass", err, logCtx)
		e.journal.Warning(ctx, fmt.Sprintf("Rate limited while syncing %d %s records; will retry", len(batch), entityType))
		e.metrics.ObserveBatch(entityType, "rate_limited", len(batch))
		e.metrics.ObserveThrottle()

	default:
		abandoned, ferr := e.outbox.RecordFailure(ctx, batch, err, maxRetries, false)
		if ferr != nil {
			logging.Error("Failed to record batch failure", ferr, logCtx)
		}
		e.setLastError(err)
		result.Failed += len(batch)
		result.Abandoned += abandoned
		logging.ErrorWithCode("Batch sync failed", string(apperrors.Code(err)), err, logCtx)
		e.journal.Error(ctx, fmt.Sprintf("Failed to sync %d %s records: %v", len(batch), entityType, err), elapsed)
		e.metrics.ObserveBatch(entityType, "failed", len(batch))
	}
}

func (e *SyncEngine) finishTiming(result *SyncResult) {
	result.EndTime = e.clock.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
}

// finish writes the summary log, the single user notice and the completion
// event.
func (e *SyncEngine) finish(ctx context.Context, result *SyncResult) {
	e.finishTiming(result)
	durationMs := result.Duration.Milliseconds()

	severity := notify.SeveritySuccess
	outcome := telemetry.OutcomeSuccess
	message := fmt.Sprintf("Sync completed: %d records synced", result.Synced)
	switch {
	case result.Failed > 0 && result.Synced == 0:
		severity = notify.SeverityError
		outcome = telemetry.OutcomeFailed
		message = fmt.Sprintf("Sync failed: %d records could not be synced", result.Failed)
	case result.Failed > 0 || result.RateLimited > 0 || result.Interrupted:
		severity = notify.SeverityWarning
		outcome = telemetry.OutcomePartial
		message = fmt.Sprintf("Sync completed with issues: %d synced, %d failed, %d rate limited",
			result.Synced, result.Failed, result.RateLimited)
	}

	if result.Failed == 0 {
		end := result.EndTime
		e.mu.Lock()
		e.lastSync = &end
		if result.RateLimited == 0 {
			e.lastErr = nil
		}
		e.mu.Unlock()
	}

	synced := result.Synced
	if err := e.journal.Append(ctx, &models.SyncLog{
		Type:        models.LogTypeInfo,
		Message:     message,
		Status:      string(severity),
		Duration:    &durationMs,
		ItemsSynced: &synced,
	}); err != nil {
		logging.Error("Failed to append sync summary", err)
	}

	logging.Info("Sync pass finished", map[string]interface{}{
		"synced":       result.Synced,
		"failed":       result.Failed,
		"rate_limited": result.RateLimited,
		"batches":      result.Batches,
		"duration_ms":  durationMs,
	})
	e.notifier.Notify(severity, message)
	e.notifier.Broadcast(notify.NewEvent(notify.EventSyncCompleted, map[string]interface{}{
		"successCount":     result.Synced,
		"errorCount":       result.Failed,
		"rateLimitedCount": result.RateLimited,
		"duration":         durationMs,
	}))
	e.metrics.ObservePass(outcome, result.Duration)
	e.publishQueueDepth(ctx)
}

func (e *SyncEngine) publishQueueDepth(ctx context.Context) {
	if e.metrics == nil {
		return
	}
	stats, err := e.outbox.Stats(ctx)
	if err != nil {
		logging.WarnErr("Failed to read queue stats", err)
		return
	}
	e.metrics.SetQueueDepth(stats.Pending, stats.Synced, stats.Failed)
}

type typeGroup struct {
	entityType string
	items      []*models.QueueItem
}

// groupByType partitions items by entity type in order of first occurrence.
func groupByType(items []*models.QueueItem) []typeGroup {
	index := make(map[string]int)
	var groups []typeGroup
	for _, item := range items {
		i, ok := index[item.EntityType]
		if !ok {
			i = len(groups)
			index[item.EntityType] = i
			groups = append(groups, typeGroup{entityType: item.EntityType})
		}
		groups[i].items = append(groups[i].items, item)
	}
	return groups
}

// chunk slices items into batches of at most size.
func chunk(items []*models.QueueItem, size int) [][]*models.QueueItem {
	if size <= 0 {
		size = models.DefaultBatchSize
	}
	batches := make([][]*models.QueueItem, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}
