package repository

import (
	"context"
	"time"
)

// IdempotencyStore marks (event id, consumer id) pairs as processed so
// at-least-once bus delivery stays effectively once per consumer.
type IdempotencyStore interface {
	// Processed reports whether the pair was already marked inside the
	// retention window.
	Processed(ctx context.Context, eventID, consumerID string) (bool, error)
	// MarkProcessed records a successful delivery. Marking happens after
	// the handler succeeds, so a crash in between re-delivers (at-least-once).
	MarkProcessed(ctx context.Context, eventID, consumerID string, ttl time.Duration) error
}

// AckStore keeps per-subscriber resume cursors (last acknowledged chunk
// sequence per job) so a reconnecting client can resume at
// lastAcked+1.
type AckStore interface {
	SetLastAcked(ctx context.Context, jobID, subscriberID string, seq uint64) error
	// LastAcked returns -1 when no ack has been recorded.
	LastAcked(ctx context.Context, jobID, subscriberID string) (int64, error)
	Clear(ctx context.Context, jobID, subscriberID string) error
}
