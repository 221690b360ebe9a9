package main

import (
	"context"
	"sync"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	apperrors "github.com/kimhsiao/possync/internal/errors"
	"github.com/kimhsiao/possync/internal/logging"
	"github.com/kimhsiao/possync/internal/models"
	"github.com/kimhsiao/possync/internal/sync/sheets"
)

type settingsSource interface {
	Load(ctx context.Context) (*models.SyncSettings, error)
}

type tokenSourcer interface {
	TokenSource() oauth2.TokenSource
}

// remoteClient dials the Sheets API on first use and re-dials whenever the
// configured spreadsheet changes.
type remoteClient struct {
	settings settingsSource
	auth     tokenSourcer
	dial     func(ctx context.Context, spreadsheetID string, ts oauth2.TokenSource) (sheets.Client, error)
	onSwitch func()

	mu            sync.Mutex
	client        sheets.Client
	spreadsheetID string
}

var _ sheets.Client = (*remoteClient)(nil)

func newRemoteClient(settings settingsSource, auth tokenSourcer) *remoteClient {
	return &remoteClient{settings: settings, auth: auth, dial: dialGoogle}
}

func dialGoogle(ctx context.Context, spreadsheetID string, ts oauth2.TokenSource) (sheets.Client, error) {
	// The service outlives ctx; requests carry their own contexts.
	return sheets.NewGoogleClient(context.Background(), spreadsheetID, option.WithTokenSource(ts))
}

func (r *remoteClient) current(ctx context.Context) (sheets.Client, error) {
	settings, err := r.settings.Load(ctx)
	if err != nil {
		return nil, err
	}
	if settings.SpreadsheetID == "" {
		return nil, apperrors.New(apperrors.ErrSyncNotConfigured, "no spreadsheet configured")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil && r.spreadsheetID == settings.SpreadsheetID {
		return r.client, nil
	}

	ts := r.auth.TokenSource()
	if ts == nil {
		return nil, apperrors.New(apperrors.ErrSyncAuthFailed, "not authenticated")
	}
	client, err := r.dial(ctx, settings.SpreadsheetID, ts)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrSyncFailed, "failed to create sheets client", err)
	}
	if r.client != nil {
		logging.Info("Spreadsheet changed", map[string]interface{}{
			"from": r.spreadsheetID,
			"to":   settings.SpreadsheetID,
		})
		if r.onSwitch != nil {
			r.onSwitch()
		}
	}
	r.client = client
	r.spreadsheetID = settings.SpreadsheetID
	return client, nil
}

func (r *remoteClient) ListSheets(ctx context.Context) ([]sheets.SheetInfo, error) {
	c, err := r.current(ctx)
	if err != nil {
		return nil, err
	}
	return c.ListSheets(ctx)
}

func (r *remoteClient) CreateSheet(ctx context.Context, title string) (sheets.SheetInfo, error) {
	c, err := r.current(ctx)
	if err != nil {
		return sheets.SheetInfo{}, err
	}
	return c.CreateSheet(ctx, title)
}

func (r *remoteClient) ReadRange(ctx context.Context, rng string) ([][]interface{}, error) {
	c, err := r.current(ctx)
	if err != nil {
		return nil, err
	}
	return c.ReadRange(ctx, rng)
}

func (r *remoteClient) WriteRange(ctx context.Context, rng string, rows [][]interface{}) error {
	c, err := r.current(ctx)
	if err != nil {
		return err
	}
	return c.WriteRange(ctx, rng, rows)
}

func (r *remoteClient) AppendRange(ctx context.Context, rng string, rows [][]interface{}) error {
	c, err := r.current(ctx)
	if err != nil {
		return err
	}
	return c.AppendRange(ctx, rng, rows)
}

func (r *remoteClient) FormatHeader(ctx context.Context, sheetID int64, columns int) error {
	c, err := r.current(ctx)
	if err != nil {
		return err
	}
	return c.FormatHeader(ctx, sheetID, columns)
}
