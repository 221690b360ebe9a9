package models

// LogType classifies a sync log entry.
type LogType string

const (
	LogTypeInfo    LogType = "info"
	LogTypeSuccess LogType = "success"
	LogTypeWarning LogType = "warning"
	LogTypeError   LogType = "error"
)

// SyncLog is an entry of the capped, append-only sync journal.
type SyncLog struct {
	ID          string  `json:"id"`
	Type        LogType `json:"type"`
	Message     string  `json:"message"`
	Status      string  `json:"status,omitempty"`
	Duration    *int64  `json:"duration,omitempty"` // ms
	ItemsSynced *int    `json:"items_synced,omitempty"`
	CreatedAt   int64   `json:"created_at"` // unix ms
}

// TableName returns the collection name for SyncLog.
func (SyncLog) TableName() string {
	return CollectionSyncLogs
}
