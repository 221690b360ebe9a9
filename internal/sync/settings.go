package sync

import (
	"context"
	"fmt"
	"sync"

	"github.com/kimhsiao/possync/internal/db"
	apperrors "github.com/kimhsiao/possync/internal/errors"
	"github.com/kimhsiao/possync/internal/models"
)

// SettingsStore reads and writes the persisted sync settings document.
// Seed values from process configuration fill the remote identifiers when
// the stored document leaves them empty.
type SettingsStore struct {
	store db.LocalStore
	seed  models.SyncSettings
	mu    sync.Mutex
}

// NewSettingsStore creates a SettingsStore. seed may be nil.
func NewSettingsStore(store db.LocalStore, seed *models.SyncSettings) *SettingsStore {
	s := &SettingsStore{store: store}
	if seed != nil {
		s.seed = *seed
	}
	return s
}

// Load returns the current settings with defaults applied.
func (s *SettingsStore) Load(ctx context.Context) (*models.SyncSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

func (s *SettingsStore) load(ctx context.Context) (*models.SyncSettings, error) {
	rec, err := s.store.Get(ctx, models.CollectionSettings, models.SettingsID)
	if err != nil {
		return nil, err
	}

	settings := models.DefaultSyncSettings()
	if rec != nil {
		if err := models.Decode(rec, settings); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "malformed sync settings", err)
		}
	}
	if settings.ClientID == "" {
		settings.ClientID = s.seed.ClientID
	}
	if settings.SpreadsheetID == "" {
		settings.SpreadsheetID = s.seed.SpreadsheetID
	}
	settings.Normalize()
	return settings, nil
}

// Save validates and persists settings.
func (s *SettingsStore) Save(ctx context.Context, settings *models.SyncSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, settings)
}

func (s *SettingsStore) save(ctx context.Context, settings *models.SyncSettings) error {
	settings.Normalize()
	if !settings.AutoSync.Valid() {
		return apperrors.New(apperrors.ErrValidation, fmt.Sprintf("unknown auto sync value %q", settings.AutoSync))
	}
	rec, err := models.Encode(settings)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encode sync settings", err)
	}
	return s.store.Put(ctx, models.CollectionSettings, rec)
}

// Update applies fn to the current settings and saves the result.
func (s *SettingsStore) Update(ctx context.Context, fn func(*models.SyncSettings) error) (*models.SyncSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if err := fn(settings); err != nil {
		return nil, err
	}
	if err := s.save(ctx, settings); err != nil {
		return nil, err
	}
	return settings, nil
}
