package models

// Action is the kind of change recorded in the outbox.
type Action string

const (
	ActionUpsert Action = "upsert"
	ActionDelete Action = "delete"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionUpsert || a == ActionDelete
}

// QueueStatus is the delivery state of an outbox entry.
type QueueStatus string

const (
	QueueStatusPending QueueStatus = "pending"
	QueueStatusSynced  QueueStatus = "synced"
	QueueStatusFailed  QueueStatus = "failed"
)

// QueueItem is a durable outbox entry: "this entity needs to be pushed remotely".
type QueueItem struct {
	ID          string      `json:"id"`
	EntityType  string      `json:"entity_type"`
	EntityID    string      `json:"entity_id"`
	Action      Action      `json:"action"`
	Status      QueueStatus `json:"status"`
	Retries     int         `json:"retries"`
	LastAttempt *int64      `json:"last_attempt,omitempty"` // unix ms
	LastError   string      `json:"last_error,omitempty"`
	SyncedAt    *int64      `json:"synced_at,omitempty"` // unix ms
	CreatedAt   int64       `json:"created_at"`          // unix ms
}

// TableName returns the collection name for QueueItem.
func (QueueItem) TableName() string {
	return CollectionSyncQueue
}
