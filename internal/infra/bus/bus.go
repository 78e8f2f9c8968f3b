// Package bus moves typed job state-change events between modules with
// at-least-once delivery.
//
// Each registered consumer drains its own dispatch queue in a dedicated
// goroutine, which preserves publish order per consumer (and therefore
// per job) even while retries are in flight. A handler failure retries
// with exponential backoff and finally lands in the dead-letter log; it
// never blocks delivery to other consumers or the publisher.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"rfp-stream-core/internal/domain"
	"rfp-stream-core/internal/domain/model"
	"rfp-stream-core/internal/domain/ports/adapter"
	"rfp-stream-core/internal/domain/ports/repository"
	"rfp-stream-core/internal/infra/logging"
	"rfp-stream-core/internal/infra/metrics"
)

var _ adapter.EventPublisher = (*Bus)(nil)

// Handler processes one event. Handlers must be idempotent on event id;
// the bus consults the idempotency store before invoking them, but
// at-least-once semantics still apply across process restarts.
type Handler func(ctx context.Context, ev *model.Event) error

// RetryPolicy controls per-consumer redelivery.
type RetryPolicy struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// DefaultRetryPolicy is exponential backoff base 200ms, cap 10s, 5 attempts.
var DefaultRetryPolicy = RetryPolicy{Base: 200 * time.Millisecond, Cap: 10 * time.Second, MaxAttempts: 5}

// Backoff returns the pause before attempt n (1-based; no pause before 1).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := p.Base
	for i := 2; i < attempt; i++ {
		d *= 2
		if d >= p.Cap {
			return p.Cap
		}
	}
	if d > p.Cap {
		return p.Cap
	}
	return d
}

type consumer struct {
	id      string
	types   map[model.EventType]Handler
	queue   chan *model.Event
	stopped chan struct{}

	// overflow parks events that found the queue full. Draining goes
	// strictly head-first so queue plus overflow stay one FIFO per
	// consumer.
	mu       sync.Mutex
	overflow []*model.Event
	draining bool
}

// Bus is the in-process publish/subscribe fabric. Consumers register at
// startup; durability of consumption comes from the persisted event log
// plus the idempotency store, not from the bus itself.
type Bus struct {
	policy    RetryPolicy
	queueSize int
	idemTTL   time.Duration

	events repository.EventLogRepository
	dlq    repository.DeadLetterRepository
	idem   repository.IdempotencyStore
	log    *zerolog.Logger

	consumers map[string]*consumer // consumer id -> consumer
	closed    chan struct{}
}

func New(
	events repository.EventLogRepository,
	dlq repository.DeadLetterRepository,
	idem repository.IdempotencyStore,
	policy RetryPolicy,
	queueSize int,
	idemTTL time.Duration,
	logger *zerolog.Logger,
) *Bus {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	l := logger.With().Str("component", "EventBus").Logger()
	return &Bus{
		policy:    policy,
		queueSize: queueSize,
		idemTTL:   idemTTL,
		events:    events,
		dlq:       dlq,
		idem:      idem,
		log:       &l,
		consumers: make(map[string]*consumer),
		closed:    make(chan struct{}),
	}
}

// Subscribe registers a handler for one event type under a consumer id.
// The same consumer id may subscribe to several types; all of them share
// one serialized dispatch queue. Subscribe is not safe to call after
// delivery has started; wire all consumers before publishing.
func (b *Bus) Subscribe(eventType model.EventType, consumerID string, h Handler) error {
	select {
	case <-b.closed:
		return domain.ErrBusClosed
	default:
	}
	c, ok := b.consumers[consumerID]
	if !ok {
		c = &consumer{
			id:      consumerID,
			types:   make(map[model.EventType]Handler),
			queue:   make(chan *model.Event, b.queueSize),
			stopped: make(chan struct{}),
		}
		b.consumers[consumerID] = c
		go b.dispatch(c)
	}
	if _, dup := c.types[eventType]; dup {
		return domain.ErrConsumerExists
	}
	c.types[eventType] = h
	return nil
}

// Publish hands an event to every consumer subscribed to its type.
// Fire-and-forget: it never returns an error to the caller and never
// blocks on slow handlers. A consumer whose queue is full has the event
// parked in an overflow backlog that re-enqueues in publish order; only
// a backlog entry the retry schedule cannot place is dead-lettered.
func (b *Bus) Publish(ev *model.Event) {
	select {
	case <-b.closed:
		b.log.Warn().Str("event_id", ev.ID).Msg("publish after close dropped")
		return
	default:
	}
	metrics.IncEventPublished(string(ev.Type))
	for _, c := range b.consumers {
		if _, want := c.types[ev.Type]; !want {
			continue
		}
		b.enqueue(c, ev)
	}
}

// enqueue places the event on the consumer's queue, or parks it behind
// any backlog already waiting. Events never jump the backlog: that
// would reorder a job's state changes for the consumer.
func (b *Bus) enqueue(c *consumer, ev *model.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.overflow) == 0 {
		select {
		case c.queue <- ev:
			return
		default:
		}
	}
	c.overflow = append(c.overflow, ev)
	if !c.draining {
		c.draining = true
		go b.drainOverflow(c)
	}
}

// drainOverflow moves backlogged events onto the consumer's queue in
// publish order, pausing per the retry policy between attempts. An
// event the full schedule cannot place is dead-lettered and the drain
// moves on.
func (b *Bus) drainOverflow(c *consumer) {
	for {
		c.mu.Lock()
		if len(c.overflow) == 0 {
			c.draining = false
			c.mu.Unlock()
			return
		}
		ev := c.overflow[0]
		c.mu.Unlock()

		placed := false
		for attempt := 1; attempt <= b.policy.MaxAttempts && !placed; attempt++ {
			if pause := b.policy.Backoff(attempt); pause > 0 {
				select {
				case <-time.After(pause):
				case <-b.closed:
					return
				}
			}
			select {
			case <-b.closed:
				return
			case c.queue <- ev:
				placed = true
			default:
			}
		}
		if !placed {
			b.deadLetter(c.id, ev, "consumer queue overflow")
		}

		c.mu.Lock()
		c.overflow = c.overflow[1:]
		c.mu.Unlock()
	}
}

// Close stops delivery. Events still queued or backlogged are dropped;
// the durable event log remains the source for replay.
func (b *Bus) Close() {
	select {
	case <-b.closed:
		return
	default:
	}
	close(b.closed)
	for _, c := range b.consumers {
		<-c.stopped
	}
}

// dispatch drains one consumer's queue, serializing all its deliveries.
func (b *Bus) dispatch(c *consumer) {
	defer close(c.stopped)
	for {
		select {
		case <-b.closed:
			return
		default:
		}
		select {
		case <-b.closed:
			return
		case ev := <-c.queue:
			b.deliver(c, ev)
		}
	}
}

func (b *Bus) deliver(c *consumer, ev *model.Event) {
	// Handlers log through this context's consumer and job ids.
	ctx := logging.WithConsumerID(logging.WithJobID(context.Background(), ev.JobID), c.id)
	h := c.types[ev.Type]

	if b.idem != nil {
		done, err := b.idem.Processed(ctx, ev.ID, c.id)
		if err != nil {
			b.log.Error().Err(err).Str("event_id", ev.ID).Str("consumer_id", c.id).Msg("idempotency check failed; delivering anyway")
		} else if done {
			metrics.IncEventDelivery(c.id, "skipped")
			return
		}
	}

	var lastErr error
	for attempt := 1; attempt <= b.policy.MaxAttempts; attempt++ {
		if pause := b.policy.Backoff(attempt); pause > 0 {
			select {
			case <-time.After(pause):
			case <-b.closed:
				return
			}
		}
		if attempt > 1 {
			metrics.IncEventRetry(c.id)
			if b.events != nil {
				_ = b.events.IncAttempts(ctx, nil, ev.ID)
			}
		}

		start := time.Now()
		lastErr = h(ctx, ev)
		metrics.ObserveDeliveryLatency(c.id, float64(time.Since(start))/float64(time.Millisecond))

		if lastErr == nil {
			metrics.IncEventDelivery(c.id, "ok")
			if b.idem != nil {
				if err := b.idem.MarkProcessed(ctx, ev.ID, c.id, b.idemTTL); err != nil {
					b.log.Error().Err(err).Str("event_id", ev.ID).Str("consumer_id", c.id).Msg("idempotency mark failed")
				}
			}
			return
		}
		b.log.Warn().Err(lastErr).
			Str("event_id", ev.ID).
			Str("consumer_id", c.id).
			Int("attempt", attempt).
			Msg("event delivery failed")
	}

	metrics.IncEventDelivery(c.id, "failed")
	b.deadLetter(c.id, ev, lastErr.Error())
}

func (b *Bus) deadLetter(consumerID string, ev *model.Event, reason string) {
	metrics.IncEventDeadLettered(consumerID)
	b.log.Error().
		Str("event_id", ev.ID).
		Str("consumer_id", consumerID).
		Str("reason", reason).
		Msg("event dead-lettered")
	if b.dlq == nil {
		return
	}
	if err := b.dlq.Append(context.Background(), nil, consumerID, ev, reason); err != nil {
		b.log.Error().Err(err).Str("event_id", ev.ID).Msg("dead-letter append failed")
	}
}
