package adapter

import "rfp-stream-core/internal/domain/model"

// EventPublisher hands a state-change event to the bus. Publishing is
// fire-and-forget: delivery failures are retried inside the bus and
// never propagate back to the publisher.
type EventPublisher interface {
	Publish(ev *model.Event)
}
