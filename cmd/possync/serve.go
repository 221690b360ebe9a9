package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/possync/cmd/possync/handlers"
	"github.com/kimhsiao/possync/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func (c *cli) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:     "serve",
		GroupID: "service",
		Short:   "Run the scheduler and the local control API",
		Long: `Run the sync service in the foreground.

The service:
  1. Runs automatic sync passes at the configured cadence
  2. Purges old synced outbox entries
  3. Serves the control API, /metrics and /ws on the listen address`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = c.cfg.HTTPAddr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

func (c *cli) serve(ctx context.Context, addr string) error {
	a, err := newApp(c.cfg, appOptions{hub: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}
	defer a.scheduler.Stop()

	srv := &http.Server{
		Addr: addr,
		Handler: handlers.NewRouter(handlers.Deps{
			Engine:    a.engine,
			Scheduler: a.scheduler,
			Journal:   a.journal,
			Settings:  a.settings,
			Outbox:    a.outbox,
			Recorder:  a.recorder,
			Hub:       a.hub,
			Metrics:   a.metrics,
			DB:        a.conn,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Control API listening", map[string]interface{}{"addr": addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
