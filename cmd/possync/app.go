package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kimhsiao/possync/internal/clock"
	"github.com/kimhsiao/possync/internal/config"
	"github.com/kimhsiao/possync/internal/crypto"
	"github.com/kimhsiao/possync/internal/db"
	"github.com/kimhsiao/possync/internal/notify"
	syncpkg "github.com/kimhsiao/possync/internal/sync"
	"github.com/kimhsiao/possync/internal/sync/auth"
	"github.com/kimhsiao/possync/internal/sync/journal"
	"github.com/kimhsiao/possync/internal/sync/queue"
	"github.com/kimhsiao/possync/internal/sync/ratelimit"
	"github.com/kimhsiao/possync/internal/sync/recorder"
	"github.com/kimhsiao/possync/internal/sync/scheduler"
	"github.com/kimhsiao/possync/internal/sync/sheets"
	"github.com/kimhsiao/possync/internal/telemetry"
)

// app holds the wired components shared by every command.
type app struct {
	cfg   *config.Config
	conn  *db.DB
	store *db.Repository
	clock clock.Clock

	journal   *journal.Journal
	outbox    *queue.Outbox
	shadows   *queue.Shadows
	settings  *syncpkg.SettingsStore
	recorder  *recorder.Recorder
	tokens    *auth.TokenStore
	auth      auth.Provider
	hub       *notify.Hub
	metrics   *telemetry.Metrics
	engine    *syncpkg.SyncEngine
	scheduler *scheduler.Scheduler
}

// appOptions selects the optional parts of the wiring.
type appOptions struct {
	// prompt enables the interactive OAuth login.
	prompt auth.Prompter
	// hub enables live notifications over websocket.
	hub bool
}

func newApp(cfg *config.Config, opts appOptions) (*app, error) {
	conn, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	if err := conn.Migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	a := &app{
		cfg:     cfg,
		conn:    conn,
		store:   db.NewRepository(conn.DB),
		clock:   clock.Real{},
		metrics: telemetry.New(),
	}
	a.journal = journal.New(a.store, a.clock)
	a.outbox = queue.NewOutbox(a.store, a.clock, a.journal)
	a.shadows = queue.NewShadows(a.store, a.clock)
	a.settings = syncpkg.NewSettingsStore(a.store, cfg.SettingsSeed())
	a.recorder = recorder.New(a.store, a.outbox, a.shadows)

	sealer, err := crypto.NewSealer(cfg.SecretKey)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.tokens = auth.NewTokenStore(a.store, sealer)
	if a.auth, err = newProvider(cfg, a.tokens, opts.prompt); err != nil {
		a.Close()
		return nil, err
	}

	var notifier notify.Notifier = notify.Log{}
	if opts.hub {
		a.hub = notify.NewHub()
		notifier = notify.Multi{notify.Log{}, a.hub}
	}

	remote := newRemoteClient(a.settings, a.auth)
	gateway := sheets.NewGateway(remote, ratelimit.New(cfg.RateLimit(), a.clock), a.clock)
	remote.onSwitch = gateway.Invalidate

	a.engine = syncpkg.NewSyncEngine(syncpkg.Deps{
		Store:     a.store,
		Deliverer: sheets.NewWriter(gateway, a.clock),
		Index:     sheets.NewIndexMaintainer(gateway, a.clock),
		Auth:      a.auth,
		Notifier:  notifier,
		Metrics:   a.metrics,
		Clock:     a.clock,
		Journal:   a.journal,
		Outbox:    a.outbox,
		Shadows:   a.shadows,
		Settings:  a.settings,
	})
	a.scheduler = scheduler.NewScheduler(a.engine, a.settings, a.outbox, nil)
	return a, nil
}

// newProvider picks service-account auth when a key file is configured and
// the OAuth installed-app flow otherwise.
func newProvider(cfg *config.Config, tokens *auth.TokenStore, prompt auth.Prompter) (auth.Provider, error) {
	if cfg.Google.CredentialsFile != "" {
		key, err := os.ReadFile(cfg.Google.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}
		return auth.NewServiceAccount(key)
	}
	return auth.NewOAuth(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.RedirectURL, tokens, prompt), nil
}

// Close releases the hub and the database.
func (a *app) Close() error {
	if a.hub != nil {
		a.hub.Close()
	}
	a.store.Close()
	return a.conn.Close()
}

// stdinPrompter prints the consent URL and reads the code from in.
func stdinPrompter(in io.Reader, out io.Writer) auth.Prompter {
	return func(ctx context.Context, authURL string) (string, error) {
		fmt.Fprintf(out, "Open this URL in your browser and authorize access:\n\n  %s\n\nAuthorization code: ", authURL)
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		code := strings.TrimSpace(line)
		if code == "" {
			return "", fmt.Errorf("empty authorization code")
		}
		return code, nil
	}
}
