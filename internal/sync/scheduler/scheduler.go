// Package scheduler runs sync passes on the autoSync cadence and reacts to
// connectivity changes.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kimhsiao/possync/internal/errors"
	"github.com/kimhsiao/possync/internal/logging"
	"github.com/kimhsiao/possync/internal/models"
	syncpkg "github.com/kimhsiao/possync/internal/sync"
)

// SettingsLoader supplies the persisted sync settings.
type SettingsLoader interface {
	Load(ctx context.Context) (*models.SyncSettings, error)
}

// Purger removes old synced queue items.
type Purger interface {
	PurgeSynced(ctx context.Context, olderThan time.Duration) (int, error)
}

// Scheduler manages background sync operations.
type Scheduler struct {
	engine   syncpkg.SyncEngineInterface
	settings SettingsLoader
	purger   Purger
	config   SchedulerConfig
	cron     *cron.Cron

	// intervalFor maps a cadence to a period; replaced in tests.
	intervalFor func(models.AutoSync) (time.Duration, bool)

	mu             sync.RWMutex
	ctx            context.Context
	isRunning      bool
	isOnline       bool
	syncEntry      cron.EntryID
	autoSync       models.AutoSync
	lastSyncTime   time.Time
	syncInProgress bool
	wg             sync.WaitGroup
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	SyncTimeout      time.Duration // Upper bound for one pass (default: 5 minutes)
	PurgeAfter       time.Duration // Age after which synced items are purged (default: 7 days, 0 disables)
	MaintenanceEvery time.Duration // How often the purge runs (default: 1 hour)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		SyncTimeout:      5 * time.Minute,
		PurgeAfter:       7 * 24 * time.Hour,
		MaintenanceEvery: time.Hour,
	}
}

// NewScheduler creates a new Scheduler. purger may be nil.
func NewScheduler(engine syncpkg.SyncEngineInterface, settings SettingsLoader, purger Purger, config *SchedulerConfig) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	return &Scheduler{
		engine:      engine,
		settings:    settings,
		purger:      purger,
		config:      *config,
		cron:        cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		intervalFor: models.AutoSync.Interval,
		ctx:         context.Background(),
		isOnline:    true,
	}
}

// Start schedules passes per the stored autoSync setting and starts the
// maintenance job.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.ctx = ctx
	s.mu.Unlock()

	settings, err := s.schedule(ctx)
	if err != nil {
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return err
	}

	s.cron.Start()
	logging.Info("Background sync scheduler started", map[string]interface{}{"auto_sync": string(settings.AutoSync)})
	return nil
}

func (s *Scheduler) schedule(ctx context.Context) (*models.SyncSettings, error) {
	settings, err := s.settings.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.Reschedule(settings.AutoSync); err != nil {
		return nil, err
	}
	if s.purger != nil && s.config.PurgeAfter > 0 && s.config.MaintenanceEvery > 0 {
		if _, err := s.cron.AddFunc("@every "+s.config.MaintenanceEvery.String(), s.purge); err != nil {
			return nil, errors.Wrap(errors.ErrInternal, "failed to schedule queue maintenance", err)
		}
	}
	return settings, nil
}

// Stop stops the scheduler and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.wg.Wait()
	logging.Info("Background sync scheduler stopped")
}

// Reschedule replaces the periodic sync job for a new cadence. Disabled
// removes it.
func (s *Scheduler) Reschedule(autoSync models.AutoSync) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.syncEntry != 0 {
		s.cron.Remove(s.syncEntry)
		s.syncEntry = 0
	}
	s.autoSync = autoSync

	interval, ok := s.intervalFor(autoSync)
	if !ok {
		logging.Info("Automatic sync disabled")
		return nil
	}
	id, err := s.cron.AddFunc("@every "+interval.String(), s.tick)
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to schedule automatic sync", err)
	}
	s.syncEntry = id
	logging.Info("Automatic sync scheduled", map[string]interface{}{"interval": interval.String()})
	return nil
}

// SetOnlineStatus records connectivity on the engine. Coming back online
// triggers a pass so queued changes go out promptly.
func (s *Scheduler) SetOnlineStatus(isOnline bool) {
	s.mu.Lock()
	wasOnline := s.isOnline
	s.isOnline = isOnline
	ctx := s.ctx
	running := s.isRunning
	s.mu.Unlock()

	s.engine.SetOnline(isOnline)
	if wasOnline == isOnline {
		return
	}
	logging.Info("Online status changed", map[string]interface{}{
		"was_online": wasOnline,
		"is_online":  isOnline,
	})
	if isOnline && running {
		s.TriggerSync(ctx)
	}
}

// IsOnline returns whether the scheduler is in online mode.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

func (s *Scheduler) tick() {
	if !s.IsOnline() {
		logging.Debug("Skipping scheduled sync while offline")
		return
	}
	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()
	s.runSync(ctx, "scheduled")
}

// TriggerSync starts a pass in the background. It returns false when a
// scheduler-started pass is already running.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	s.mu.RLock()
	busy := s.syncInProgress
	s.mu.RUnlock()
	if busy {
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runSync(ctx, "triggered")
	}()
	return true
}

// SyncNow runs a pass and waits for it.
func (s *Scheduler) SyncNow(ctx context.Context) (*syncpkg.SyncResult, error) {
	return s.runSync(ctx, "manual")
}

func (s *Scheduler) runSync(ctx context.Context, trigger string) (*syncpkg.SyncResult, error) {
	s.mu.Lock()
	if s.syncInProgress {
		s.mu.Unlock()
		return nil, errors.New(errors.ErrSyncInProgress, "sync already in progress")
	}
	s.syncInProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncInProgress = false
		s.mu.Unlock()
	}()

	syncCtx, cancel := context.WithTimeout(ctx, s.config.SyncTimeout)
	defer cancel()

	result, err := s.engine.Sync(syncCtx)
	if err != nil {
		switch errors.Code(err) {
		case errors.ErrSyncPaused, errors.ErrSyncOffline, errors.ErrSyncInProgress:
			logging.Debug("Sync skipped", map[string]interface{}{"trigger": trigger, "reason": string(errors.Code(err))})
		default:
			logging.ErrorWithCode("Sync failed", string(errors.Code(err)), err, map[string]interface{}{"trigger": trigger})
		}
		return nil, err
	}

	if result.Failed == 0 {
		s.mu.Lock()
		s.lastSyncTime = result.EndTime
		s.mu.Unlock()
	}
	logging.Info("Sync completed", map[string]interface{}{
		"trigger":      trigger,
		"synced":       result.Synced,
		"failed":       result.Failed,
		"rate_limited": result.RateLimited,
	})
	return result, nil
}

func (s *Scheduler) purge() {
	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()

	n, err := s.purger.PurgeSynced(ctx, s.config.PurgeAfter)
	if err != nil {
		logging.Error("Queue maintenance failed", err)
		return
	}
	if n > 0 {
		logging.Info("Purged synced queue items", map[string]interface{}{"count": n})
	}
}

// SchedulerStatus is a snapshot of the scheduler state.
type SchedulerStatus struct {
	IsRunning      bool            `json:"is_running"`
	IsOnline       bool            `json:"is_online"`
	AutoSync       models.AutoSync `json:"auto_sync"`
	NextRun        *time.Time      `json:"next_run,omitempty"`
	LastSyncTime   *time.Time      `json:"last_sync_time,omitempty"`
	SyncInProgress bool            `json:"sync_in_progress"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		IsRunning:      s.isRunning,
		IsOnline:       s.isOnline,
		AutoSync:       s.autoSync,
		SyncInProgress: s.syncInProgress,
	}
	if !s.lastSyncTime.IsZero() {
		last := s.lastSyncTime
		status.LastSyncTime = &last
	}
	if s.syncEntry != 0 {
		if next := s.cron.Entry(s.syncEntry).Next; !next.IsZero() {
			status.NextRun = &next
		}
	}
	return status
}
