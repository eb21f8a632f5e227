package persist

import (
	"context"

	"queue-system/models"
)

// Gateway is the durable-storage collaborator. The engine treats it as a
// write-behind log: in-memory transitions always commit first, and a
// gateway failure never rolls back state a caller already observed.
type Gateway interface {
	// AppendMutation records one committed session transition.
	AppendMutation(ctx context.Context, queueID string, rec *models.SessionRecord, from, to models.SessionStatus) error

	// SaveQueueConfig upserts a queue's administrative definition.
	SaveQueueConfig(ctx context.Context, cfg models.QueueConfig) error

	// DeleteQueue removes a queue's durable state.
	DeleteQueue(ctx context.Context, queueID string) error

	// LoadQueueSnapshot returns the current durable copy of one queue,
	// consulted once at startup to rehydrate.
	LoadQueueSnapshot(ctx context.Context, queueID string) (*models.QueueSnapshot, error)

	// LoadActiveQueueConfigs returns the configs of every active queue.
	LoadActiveQueueConfigs(ctx context.Context) ([]models.QueueConfig, error)

	Close() error
}

type noopGateway struct{}

// NewNoopGateway returns a Gateway that stores nothing. Used when
// persistence is disabled and by engine tests.
func NewNoopGateway() Gateway { return noopGateway{} }

func (noopGateway) AppendMutation(context.Context, string, *models.SessionRecord, models.SessionStatus, models.SessionStatus) error {
	return nil
}

func (noopGateway) SaveQueueConfig(context.Context, models.QueueConfig) error { return nil }

func (noopGateway) DeleteQueue(context.Context, string) error { return nil }

func (noopGateway) LoadQueueSnapshot(_ context.Context, queueID string) (*models.QueueSnapshot, error) {
	return &models.QueueSnapshot{Config: models.QueueConfig{ID: queueID}}, nil
}

func (noopGateway) LoadActiveQueueConfigs(context.Context) ([]models.QueueConfig, error) {
	return nil, nil
}

func (noopGateway) Close() error { return nil }
