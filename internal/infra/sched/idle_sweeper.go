package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"rfp-stream-core/internal/domain"
	"rfp-stream-core/internal/domain/model"
	"rfp-stream-core/internal/domain/ports/adapter"
	"rfp-stream-core/internal/domain/ports/repository"
	ucports "rfp-stream-core/internal/domain/ports/usecase"
	"rfp-stream-core/internal/infra/metrics"
	"rfp-stream-core/internal/infra/worker"
)

// IdleSweeper fails jobs that produced no chunk and no state transition
// within the idle window. It owns no job state itself: transitions go
// through the registry like everyone else's.
type IdleSweeper struct {
	interval time.Duration
	window   time.Duration
	jobs     repository.JobRepository
	fanout   adapter.StreamFanout
	reg      ucports.JobRegistry
	pool     *worker.Pool
	log      *zerolog.Logger
}

func NewIdleSweeper(
	interval, window time.Duration,
	jobs repository.JobRepository,
	fanout adapter.StreamFanout,
	reg ucports.JobRegistry,
	pool *worker.Pool,
	logger *zerolog.Logger,
) *IdleSweeper {
	l := logger.With().Str("component", "IdleSweeper").Logger()
	return &IdleSweeper{
		interval: interval,
		window:   window,
		jobs:     jobs,
		fanout:   fanout,
		reg:      reg,
		pool:     pool,
		log:      &l,
	}
}

func (w *IdleSweeper) Run(ctx context.Context) error {
	w.log.Info().Dur("window", w.window).Msg("starting idle sweeper")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("stopping idle sweeper")
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *IdleSweeper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-w.window)
	stalled, err := w.jobs.ListIdleSince(ctx, nil, cutoff)
	if err != nil {
		w.log.Error().Err(err).Msg("idle scan failed")
		return
	}
	for _, job := range stalled {
		// The job row only moves on state transitions. A job streaming
		// chunks inside the window is alive even when its last
		// transition is old.
		if last, ok := w.fanout.LastActivity(job.ID); ok && last.After(cutoff) {
			continue
		}
		id := job.ID
		_ = w.pool.Submit(func(ctx context.Context) error {
			_, err := w.reg.UpdateState(ctx, id, model.JobStateFailed, "Timeout")
			if err != nil {
				// Lost the race against a real transition; nothing to do.
				if errors.Is(err, domain.ErrAlreadyTerminal) || errors.Is(err, domain.ErrNotFound) {
					return nil
				}
				return err
			}
			metrics.IncJobsIdleSwept()
			w.log.Warn().Str("job_id", id).Msg("job failed on idle timeout")
			return nil
		})
	}
}
