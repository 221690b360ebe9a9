package queue

import (
	"context"

	"github.com/kimhsiao/possync/internal/clock"
	"github.com/kimhsiao/possync/internal/db"
	apperrors "github.com/kimhsiao/possync/internal/errors"
	"github.com/kimhsiao/possync/internal/models"
)

// Shadows keeps the last known snapshot of deleted entities until their
// delete has been delivered.
type Shadows struct {
	store db.LocalStore
	clock clock.Clock
}

// NewShadows creates a shadow store.
func NewShadows(store db.LocalStore, clk clock.Clock) *Shadows {
	return &Shadows{store: store, clock: clk}
}

// Capture stores snapshot as the shadow of entityType/snapshot.ID().
// It must run before the entity leaves its primary collection.
func (s *Shadows) Capture(ctx context.Context, entityType string, snapshot models.Record) error {
	entityID := snapshot.ID()
	if entityType == "" || entityID == "" {
		return apperrors.New(apperrors.ErrInvalid, "shadow snapshot needs an entity type and id")
	}

	rec, err := models.Encode(&models.DeletedItem{
		ID:         models.ShadowKey(entityType, entityID),
		EntityID:   entityID,
		EntityType: entityType,
		Metadata:   snapshot.Clone(),
		DeletedAt:  models.UnixMillis(s.clock.Now()),
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encode shadow snapshot", err)
	}
	return s.store.Put(ctx, models.CollectionDeletedItems, rec)
}

// Get returns the shadow of entityType/entityID, or nil when none was captured.
func (s *Shadows) Get(ctx context.Context, entityType, entityID string) (*models.DeletedItem, error) {
	rec, err := s.store.Get(ctx, models.CollectionDeletedItems, models.ShadowKey(entityType, entityID))
	if err != nil || rec == nil {
		return nil, err
	}
	var item models.DeletedItem
	if err := models.Decode(rec, &item); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "malformed shadow snapshot", err)
	}
	return &item, nil
}

// Remove drops the shadow of entityType/entityID.
func (s *Shadows) Remove(ctx context.Context, entityType, entityID string) error {
	return s.store.Delete(ctx, models.CollectionDeletedItems, models.ShadowKey(entityType, entityID))
}
