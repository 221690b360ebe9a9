package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kimhsiao/possync/internal/logging"
	"github.com/kimhsiao/possync/internal/notify"
	syncpkg "github.com/kimhsiao/possync/internal/sync"
	"github.com/kimhsiao/possync/internal/sync/journal"
	"github.com/kimhsiao/possync/internal/sync/queue"
	"github.com/kimhsiao/possync/internal/sync/recorder"
	"github.com/kimhsiao/possync/internal/telemetry"
)

// Pinger reports database reachability for the health endpoint.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps holds everything the router serves.
type Deps struct {
	Engine    syncpkg.SyncEngineInterface
	Scheduler Scheduler
	Journal   *journal.Journal
	Settings  *syncpkg.SettingsStore
	Outbox    *queue.Outbox
	Recorder  *recorder.Recorder
	Hub       *notify.Hub
	Metrics   *telemetry.Metrics
	DB        Pinger
}

// NewRouter builds the local control API.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/api/health", health(deps.DB))
	r.Handle("/metrics", deps.Metrics.Handler())
	if deps.Hub != nil {
		r.Get("/ws", deps.Hub.Handler())
	}

	syncHandler := NewSyncHandler(deps.Engine, deps.Scheduler, deps.Journal, deps.Settings)
	r.Route("/api/sync", func(r chi.Router) {
		r.Get("/status", syncHandler.GetStatus)
		r.Post("/now", syncHandler.TriggerSync)
		r.Post("/retry-failed", syncHandler.RetryFailed)
		r.Post("/pause", syncHandler.Pause)
		r.Post("/resume", syncHandler.Resume)
		r.Post("/online", syncHandler.SetOnline)
		r.Get("/logs", syncHandler.GetLogs)
		r.Get("/settings", syncHandler.GetSettings)
		r.Patch("/settings", syncHandler.UpdateSettings)
	})

	queueHandler := NewQueueHandler(deps.Outbox, deps.Recorder)
	r.Route("/api/queue", func(r chi.Router) {
		r.Get("/", queueHandler.List)
		r.Post("/", queueHandler.Enqueue)
		r.Get("/stats", queueHandler.Stats)
	})
	r.Route("/api/entities/{type}", func(r chi.Router) {
		r.Put("/", queueHandler.SaveEntity)
		r.Put("/children/{field}", queueHandler.SaveChild)
		r.Delete("/{id}", queueHandler.RemoveEntity)
	})

	return r
}

func health(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		code := http.StatusOK
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				logging.WarnErr("Health check failed", err)
				status = "degraded"
				code = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, code, map[string]string{"status": status})
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.Debug("HTTP request", map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		})
	})
}
