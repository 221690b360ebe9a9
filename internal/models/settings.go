package models

import "time"

// AutoSync is the automatic sync cadence chosen in settings.
type AutoSync string

const (
	AutoSyncDisabled AutoSync = "disabled"
	AutoSync5Min     AutoSync = "5min"
	AutoSync15Min    AutoSync = "15min"
	AutoSync30Min    AutoSync = "30min"
	AutoSync1Hour    AutoSync = "1hour"
)

var autoSyncIntervals = map[AutoSync]time.Duration{
	AutoSync5Min:  5 * time.Minute,
	AutoSync15Min: 15 * time.Minute,
	AutoSync30Min: 30 * time.Minute,
	AutoSync1Hour: time.Hour,
}

// Valid reports whether a is a known cadence.
func (a AutoSync) Valid() bool {
	_, ok := autoSyncIntervals[a]
	return ok || a == AutoSyncDisabled
}

// Interval returns the timer period, or false when automatic sync is off.
func (a AutoSync) Interval() (time.Duration, bool) {
	d, ok := autoSyncIntervals[a]
	return d, ok
}

// Default sync settings.
const (
	DefaultBatchSize  = 50
	DefaultMaxRetries = 5
)

// SettingsID is the id of the sync settings document.
const SettingsID = "sync"

// SyncSettings is the persisted sync configuration.
type SyncSettings struct {
	ID            string          `json:"id"`
	AutoSync      AutoSync        `json:"auto_sync"`
	BatchSize     int             `json:"batch_size"`
	MaxRetries    int             `json:"max_retries"`
	EntityFilters map[string]bool `json:"entity_filters,omitempty"`
	ClientID      string          `json:"client_id,omitempty"`
	SpreadsheetID string          `json:"spreadsheet_id,omitempty"`
	Paused        bool            `json:"paused"`
}

// TableName returns the collection name for SyncSettings.
func (SyncSettings) TableName() string {
	return CollectionSettings
}

// DefaultSyncSettings returns settings with every default applied.
func DefaultSyncSettings() *SyncSettings {
	return &SyncSettings{
		ID:            SettingsID,
		AutoSync:      AutoSyncDisabled,
		BatchSize:     DefaultBatchSize,
		MaxRetries:    DefaultMaxRetries,
		EntityFilters: map[string]bool{},
	}
}

// Normalize fills zero values with defaults.
func (s *SyncSettings) Normalize() {
	s.ID = SettingsID
	if s.AutoSync == "" {
		s.AutoSync = AutoSyncDisabled
	}
	if s.BatchSize <= 0 {
		s.BatchSize = DefaultBatchSize
	}
	if s.MaxRetries <= 0 {
		s.MaxRetries = DefaultMaxRetries
	}
	if s.EntityFilters == nil {
		s.EntityFilters = map[string]bool{}
	}
}

// Enabled reports whether entityType passes the entity filters. Types
// without an explicit entry are enabled.
func (s *SyncSettings) Enabled(entityType string) bool {
	enabled, ok := s.EntityFilters[entityType]
	return !ok || enabled
}

// Configured reports whether the remote credentials needed for a pass are set.
func (s *SyncSettings) Configured() bool {
	return s.ClientID != "" && s.SpreadsheetID != ""
}
