package redis

import (
	"context"
	"fmt"
	"time"

	"rfp-stream-core/internal/domain/ports/repository"
)

var _ repository.IdempotencyStore = (*IdempotencyStore)(nil)

// IdempotencyStore marks processed (event id, consumer id) pairs so bus
// consumers stay effectively-once inside the retention window.
type IdempotencyStore struct {
	client RedisClient
	ttl    time.Duration
}

func NewIdempotencyStore(client RedisClient, defaultTTL time.Duration) *IdempotencyStore {
	if defaultTTL <= 0 {
		defaultTTL = 48 * time.Hour
	}
	return &IdempotencyStore{client: client, ttl: defaultTTL}
}

func processedKey(eventID, consumerID string) string {
	return fmt.Sprintf("bus:processed:%s:%s", consumerID, eventID)
}

func (s *IdempotencyStore) Processed(ctx context.Context, eventID, consumerID string) (bool, error) {
	n, err := s.client.Exists(ctx, processedKey(eventID, consumerID))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkProcessed records the pair with SETNX: the first writer wins and
// a redelivered mark never restarts the retention clock.
func (s *IdempotencyStore) MarkProcessed(ctx context.Context, eventID, consumerID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.ttl
	}
	_, err := s.client.SetNX(ctx, processedKey(eventID, consumerID), 1, ttl)
	return err
}
