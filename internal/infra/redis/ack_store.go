package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"rfp-stream-core/internal/domain/ports/repository"
)

var _ repository.AckStore = (*AckStore)(nil)

// AckStore keeps per-subscriber resume cursors. Cursors share the chunk
// retention horizon: once the job is evicted there is nothing to resume.
type AckStore struct {
	client RedisClient
	ttl    time.Duration
}

func NewAckStore(client RedisClient, ttl time.Duration) *AckStore {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &AckStore{client: client, ttl: ttl}
}

func ackKey(jobID, subscriberID string) string {
	return fmt.Sprintf("stream:ack:%s:%s", jobID, subscriberID)
}

func (s *AckStore) SetLastAcked(ctx context.Context, jobID, subscriberID string, seq uint64) error {
	return s.client.Set(ctx, ackKey(jobID, subscriberID), seq, s.ttl)
}

func (s *AckStore) LastAcked(ctx context.Context, jobID, subscriberID string) (int64, error) {
	v, err := s.client.Get(ctx, ackKey(jobID, subscriberID))
	if err != nil {
		if IsNil(err) {
			return -1, nil
		}
		return -1, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return -1, fmt.Errorf("corrupt ack cursor %q: %w", v, err)
	}
	return n, nil
}

func (s *AckStore) Clear(ctx context.Context, jobID, subscriberID string) error {
	return s.client.Del(ctx, ackKey(jobID, subscriberID))
}
