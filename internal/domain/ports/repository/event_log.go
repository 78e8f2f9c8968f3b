package repository

import (
	"context"

	"rfp-stream-core/internal/domain/model"
)

// EventLogRepository is the append-only event log. Events are immutable
// once appended; IncAttempts only bumps the delivery counter.
type EventLogRepository interface {
	Append(ctx context.Context, tx Tx, ev *model.Event) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Event, error)
	// ListByJob returns all events for a job in publish (id) order, for
	// read-model replay.
	ListByJob(ctx context.Context, tx Tx, jobID string) ([]*model.Event, error)
	IncAttempts(ctx context.Context, tx Tx, id string) error
}

// DeadLetterRepository records events that exhausted delivery retries for
// one consumer. Append-only, safe for concurrent writers.
type DeadLetterRepository interface {
	Append(ctx context.Context, tx Tx, consumerID string, ev *model.Event, reason string) error
	ListByConsumer(ctx context.Context, tx Tx, consumerID string) ([]*model.Event, error)
}
