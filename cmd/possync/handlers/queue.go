package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/kimhsiao/possync/internal/errors"
	"github.com/kimhsiao/possync/internal/models"
	"github.com/kimhsiao/possync/internal/sync/queue"
	"github.com/kimhsiao/possync/internal/sync/recorder"
)

// QueueHandler exposes the outbox and the entity recorder.
type QueueHandler struct {
	outbox   *queue.Outbox
	recorder *recorder.Recorder
}

// NewQueueHandler creates a new QueueHandler.
func NewQueueHandler(outbox *queue.Outbox, rec *recorder.Recorder) *QueueHandler {
	return &QueueHandler{outbox: outbox, recorder: rec}
}

// EnqueueRequest represents the request body for enqueueing a change.
type EnqueueRequest struct {
	EntityType string        `json:"entity_type"`
	EntityID   string        `json:"entity_id"`
	Action     models.Action `json:"action"`
}

// Enqueue handles POST /api/queue.
func (h *QueueHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, err := h.outbox.Enqueue(r.Context(), req.EntityType, req.EntityID, req.Action)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// List handles GET /api/queue with an optional status filter.
func (h *QueueHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		items []*models.QueueItem
		err   error
	)
	switch status := models.QueueStatus(r.URL.Query().Get("status")); status {
	case "":
		items, err = h.outbox.List(r.Context())
	case models.QueueStatusPending, models.QueueStatusSynced, models.QueueStatusFailed:
		items, err = h.outbox.ListByStatus(r.Context(), status)
	default:
		err = apperrors.New(apperrors.ErrInvalid, "unknown status "+string(status))
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []*models.QueueItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

// Stats handles GET /api/queue/stats.
func (h *QueueHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.outbox.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// SaveEntity handles PUT /api/entities/{type}. The body is the full record.
func (h *QueueHandler) SaveEntity(w http.ResponseWriter, r *http.Request) {
	var rec models.Record
	if err := decodeBody(r, &rec); err != nil {
		writeError(w, err)
		return
	}
	id, err := h.recorder.Save(r.Context(), chi.URLParam(r, "type"), rec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"queue_id": id})
}

// SaveChild handles PUT /api/entities/{type}/children/{field}.
func (h *QueueHandler) SaveChild(w http.ResponseWriter, r *http.Request) {
	var rec models.Record
	if err := decodeBody(r, &rec); err != nil {
		writeError(w, err)
		return
	}
	id, err := h.recorder.SaveChild(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "field"), rec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"queue_id": id})
}

// RemoveEntity handles DELETE /api/entities/{type}/{id}.
func (h *QueueHandler) RemoveEntity(w http.ResponseWriter, r *http.Request) {
	id, err := h.recorder.Remove(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"queue_id": id})
}
