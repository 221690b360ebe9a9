package handlers

import (
	"context"
	"net/http"
	"strconv"

	apperrors "github.com/kimhsiao/possync/internal/errors"
	"github.com/kimhsiao/possync/internal/models"
	syncpkg "github.com/kimhsiao/possync/internal/sync"
	"github.com/kimhsiao/possync/internal/sync/journal"
	"github.com/kimhsiao/possync/internal/sync/scheduler"
)

// Scheduler is the part of the background scheduler the API drives.
type Scheduler interface {
	SyncNow(ctx context.Context) (*syncpkg.SyncResult, error)
	SetOnlineStatus(online bool)
	Reschedule(autoSync models.AutoSync) error
	GetStatus() scheduler.SchedulerStatus
}

var _ Scheduler = (*scheduler.Scheduler)(nil)

// SyncHandler handles sync operations and settings.
type SyncHandler struct {
	engine    syncpkg.SyncEngineInterface
	scheduler Scheduler
	journal   *journal.Journal
	settings  *syncpkg.SettingsStore
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(engine syncpkg.SyncEngineInterface, sched Scheduler, j *journal.Journal, settings *syncpkg.SettingsStore) *SyncHandler {
	return &SyncHandler{engine: engine, scheduler: sched, journal: j, settings: settings}
}

// =====================================================
// Status and triggers
// =====================================================

// GetStatus handles GET /api/sync/status.
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	settings, err := h.settings.Load(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"engine":     status,
		"scheduler":  h.scheduler.GetStatus(),
		"configured": settings.Configured(),
	})
}

// TriggerSync handles POST /api/sync/now and waits for the pass.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.scheduler.SyncNow(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "completed",
		"nothing_to_sync": result.NothingToSync,
		"successCount":    result.Synced,
		"errorCount":      result.Failed,
		"rateLimited":     result.RateLimited,
		"batches":         result.Batches,
		"duration":        result.Duration.Milliseconds(),
	})
}

// RetryFailed handles POST /api/sync/retry-failed.
func (h *SyncHandler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.RetryFailed(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reset": n})
}

// Pause handles POST /api/sync/pause.
func (h *SyncHandler) Pause(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Pause(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"paused": true})
}

// Resume handles POST /api/sync/resume.
func (h *SyncHandler) Resume(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Resume(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"paused": false})
}

// SetOnline handles POST /api/sync/online with {"online": bool}.
func (h *SyncHandler) SetOnline(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Online *bool `json:"online"`
	}
	if err := decodeBody(r, &request); err != nil {
		writeError(w, err)
		return
	}
	if request.Online == nil {
		writeError(w, apperrors.New(apperrors.ErrInvalid, "online is required"))
		return
	}
	h.scheduler.SetOnlineStatus(*request.Online)
	writeJSON(w, http.StatusOK, map[string]interface{}{"online": *request.Online})
}

// GetLogs handles GET /api/sync/logs?limit=n, newest first.
func (h *SyncHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, apperrors.New(apperrors.ErrInvalid, "limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	entries, err := h.journal.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// =====================================================
// Settings
// =====================================================

// GetSettings handles GET /api/sync/settings.
func (h *SyncHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.Load(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// settingsPatch lists the editable settings; absent fields are unchanged.
type settingsPatch struct {
	AutoSync      *models.AutoSync `json:"auto_sync"`
	BatchSize     *int             `json:"batch_size"`
	MaxRetries    *int             `json:"max_retries"`
	EntityFilters map[string]bool  `json:"entity_filters"`
	ClientID      *string          `json:"client_id"`
	SpreadsheetID *string          `json:"spreadsheet_id"`
}

// UpdateSettings handles PATCH /api/sync/settings.
func (h *SyncHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch settingsPatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, err)
		return
	}

	settings, err := h.settings.Update(r.Context(), func(s *models.SyncSettings) error {
		return applyPatch(s, patch)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if patch.AutoSync != nil {
		if err := h.scheduler.Reschedule(settings.AutoSync); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, settings)
}

func applyPatch(s *models.SyncSettings, p settingsPatch) error {
	if p.AutoSync != nil {
		if !p.AutoSync.Valid() {
			return apperrors.New(apperrors.ErrValidation, "unknown auto_sync value")
		}
		s.AutoSync = *p.AutoSync
	}
	if p.BatchSize != nil {
		if *p.BatchSize < 1 {
			return apperrors.New(apperrors.ErrValidation, "batch_size must be positive")
		}
		s.BatchSize = *p.BatchSize
	}
	if p.MaxRetries != nil {
		if *p.MaxRetries < 1 {
			return apperrors.New(apperrors.ErrValidation, "max_retries must be positive")
		}
		s.MaxRetries = *p.MaxRetries
	}
	for entityType, enabled := range p.EntityFilters {
		if s.EntityFilters == nil {
			s.EntityFilters = map[string]bool{}
		}
		s.EntityFilters[entityType] = enabled
	}
	if p.ClientID != nil {
		s.ClientID = *p.ClientID
	}
	if p.SpreadsheetID != nil {
		s.SpreadsheetID = *p.SpreadsheetID
	}
	return nil
}
