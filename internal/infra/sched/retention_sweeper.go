package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"rfp-stream-core/internal/domain/ports/adapter"
	"rfp-stream-core/internal/domain/ports/repository"
	"rfp-stream-core/internal/infra/metrics"
)

// RetentionSweeper evicts terminal jobs past the retention TTL, along
// with their retained chunk buffers. Events stay in the log for replay.
type RetentionSweeper struct {
	interval time.Duration
	ttl      time.Duration
	jobs     repository.JobRepository
	fanout   adapter.StreamFanout
	forget   func(jobID string)
	log      *zerolog.Logger
}

func NewRetentionSweeper(
	interval, ttl time.Duration,
	jobs repository.JobRepository,
	fanout adapter.StreamFanout,
	forget func(jobID string),
	logger *zerolog.Logger,
) *RetentionSweeper {
	l := logger.With().Str("component", "RetentionSweeper").Logger()
	return &RetentionSweeper{
		interval: interval,
		ttl:      ttl,
		jobs:     jobs,
		fanout:   fanout,
		forget:   forget,
		log:      &l,
	}
}

func (w *RetentionSweeper) Run(ctx context.Context) error {
	w.log.Info().Dur("ttl", w.ttl).Msg("starting retention sweeper")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("stopping retention sweeper")
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *RetentionSweeper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-w.ttl)
	ids, err := w.jobs.DeleteTerminalBefore(ctx, nil, cutoff)
	if err != nil {
		w.log.Error().Err(err).Msg("retention eviction failed")
		return
	}
	for _, id := range ids {
		w.fanout.Remove(id)
		if w.forget != nil {
			w.forget(id)
		}
	}
	if len(ids) > 0 {
		metrics.AddJobsEvicted(len(ids))
		w.log.Info().Int("count", len(ids)).Msg("terminal jobs evicted")
	}
}
