package models

// DeletedItem is the shadow snapshot of an entity captured right before it
// is removed from its primary collection. It lets a delete be shipped as a
// meaningful tombstone and is dropped once the delete reaches the remote store.
type DeletedItem struct {
	ID         string `json:"id"` // ShadowKey(EntityType, EntityID)
	EntityID   string `json:"entity_id"`
	EntityType string `json:"entity_type"`
	Metadata   Record `json:"metadata,omitempty"`
	DeletedAt  int64  `json:"deleted_at"` // unix ms
}

// TableName returns the collection name for DeletedItem.
func (DeletedItem) TableName() string {
	return CollectionDeletedItems
}

// ShadowKey is the store key for a shadow snapshot. Entity ids are only
// unique within their own collection.
func ShadowKey(entityType, entityID string) string {
	return entityType + ":" + entityID
}
