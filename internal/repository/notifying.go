package repository

import (
	"context"

	"offsync/internal/domain"
	"offsync/internal/events"
	"offsync/internal/models"

	"github.com/rs/zerolog"
)

// NotifyingRepository decorates a local repository and publishes an
// EntityChanged event after every successful local write. Writes applied by
// the inbound drain go to the wrapped repository directly so pulled data is
// never echoed back upstream.
type NotifyingRepository struct {
	inner  domain.LocalRepository
	bus    *events.EventBus
	logger *zerolog.Logger
}

func NewNotifyingRepository(inner domain.LocalRepository, bus *events.EventBus, logger *zerolog.Logger) *NotifyingRepository {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &NotifyingRepository{
		inner:  inner,
		bus:    bus,
		logger: logger,
	}
}

// Unwrap returns the repository that does not publish notifications.
func (r *NotifyingRepository) Unwrap() domain.LocalRepository {
	return r.inner
}

func (r *NotifyingRepository) Get(ctx context.Context, resourceType, key string) (*models.Resource, error) {
	return r.inner.Get(ctx, resourceType, key)
}

func (r *NotifyingRepository) Find(ctx context.Context, resourceType string, match func(*models.Resource) bool) ([]*models.Resource, error) {
	return r.inner.Find(ctx, resourceType, match)
}

func (r *NotifyingRepository) Insert(ctx context.Context, res *models.Resource) error {
	if err := r.inner.Insert(ctx, res); err != nil {
		return err
	}
	r.publish(events.EntityChanged{
		ResourceType: res.Type,
		Key:          res.Key,
		Operation:    models.OperationInsert,
		After:        res.Clone(),
	})
	return nil
}

func (r *NotifyingRepository) Update(ctx context.Context, res *models.Resource) error {
	before, err := r.inner.Get(ctx, res.Type, res.Key)
	if err != nil {
		r.logger.Warn().Err(err).Str("resource_type", res.Type).Str("key", res.Key).Msg("Failed to load before-image")
		before = nil
	}
	if err := r.inner.Update(ctx, res); err != nil {
		return err
	}
	r.publish(events.EntityChanged{
		ResourceType: res.Type,
		Key:          res.Key,
		Operation:    models.OperationUpdate,
		Before:       before,
		After:        res.Clone(),
	})
	return nil
}

func (r *NotifyingRepository) Obsolete(ctx context.Context, resourceType, key string) error {
	before, err := r.inner.Get(ctx, resourceType, key)
	if err != nil {
		r.logger.Warn().Err(err).Str("resource_type", resourceType).Str("key", key).Msg("Failed to load before-image")
		before = nil
	}
	if err := r.inner.Obsolete(ctx, resourceType, key); err != nil {
		return err
	}
	r.publish(events.EntityChanged{
		ResourceType: resourceType,
		Key:          key,
		Operation:    models.OperationObsolete,
		Before:       before,
	})
	return nil
}

func (r *NotifyingRepository) publish(change events.EntityChanged) {
	if err := r.bus.PublishEntityChanged(change); err != nil {
		// The write already happened; the change is lost for sync but not locally.
		r.logger.Error().Err(err).
			Str("resource_type", change.ResourceType).
			Str("key", change.Key).
			Str("operation", string(change.Operation)).
			Msg("Failed to publish local change")
	}
}
