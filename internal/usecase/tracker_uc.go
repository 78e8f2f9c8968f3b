package usecase

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"rfp-stream-core/internal/domain"
	"rfp-stream-core/internal/domain/model"
	"rfp-stream-core/internal/domain/ports/adapter"
	ucports "rfp-stream-core/internal/domain/ports/usecase"
	"rfp-stream-core/internal/infra/logging"
)

// TrackerUseCase drives job state machines on behalf of work producers.
// It never mutates state directly: every transition goes through the
// registry, which stays the single writer.
type TrackerUseCase struct {
	reg    ucports.JobRegistry
	fanout adapter.StreamFanout
	log    *zerolog.Logger
}

func NewTrackerUseCase(reg ucports.JobRegistry, fanout adapter.StreamFanout, logger *zerolog.Logger) *TrackerUseCase {
	l := logger.With().Str("component", "ProgressTracker").Logger()
	return &TrackerUseCase{reg: reg, fanout: fanout, log: &l}
}

// Begin claims a queued job for its producer, transitioning it to
// running. The returned Producer is the only legal source of the job's
// chunks.
func (t *TrackerUseCase) Begin(ctx context.Context, jobID string) (*Producer, error) {
	defer logging.TraceDuration(t.log, "ProgressTracker.Begin")()
	if _, err := t.reg.UpdateState(ctx, jobID, model.JobStateRunning, ""); err != nil {
		return nil, fmt.Errorf("begin job %s: %w", jobID, err)
	}
	return &Producer{t: t, jobID: jobID}, nil
}

// Producer is one job's chunk source. Exactly one producer exists per
// job and it shares no state with other producers. Cancellation is
// cooperative: each Produce call checks the flag, and a cancellation
// that arrives mid-streaming lets the in-flight chunk complete first.
type Producer struct {
	t     *TrackerUseCase
	jobID string
}

// Cancelled reports pending cancellation intent; producers are expected
// to consult it between chunk-producing steps.
func (p *Producer) Cancelled(ctx context.Context) bool {
	job, err := p.t.reg.GetJob(ctx, p.jobID)
	if err != nil {
		return false
	}
	return job.CancelRequested || job.State == model.JobStateCancelled
}

// Produce pushes one chunk. The first chunk moves the job from running
// to streaming; a final chunk completes it. When cancellation was
// requested mid-streaming the chunk is still delivered (partial results
// are preserved up to the cancellation point) and ErrJobCancelled is
// returned so the producer stops.
func (p *Producer) Produce(ctx context.Context, payload []byte, final bool) (uint64, error) {
	job, err := p.t.reg.GetJob(ctx, p.jobID)
	if err != nil {
		return 0, err
	}
	switch job.State {
	case model.JobStateCancelled:
		return 0, domain.ErrJobCancelled
	case model.JobStateRunning:
		if job.CancelRequested {
			// Nothing in flight yet; honor before producing output.
			if _, err := p.t.reg.UpdateState(ctx, p.jobID, model.JobStateCancelled, ""); err != nil {
				return 0, err
			}
			return 0, domain.ErrJobCancelled
		}
		if _, err := p.t.reg.UpdateState(ctx, p.jobID, model.JobStateStreaming, ""); err != nil {
			return 0, err
		}
	case model.JobStateStreaming:
		// in-flight chunk below drains before any cancellation is honored
	default:
		return 0, domain.ErrInvalidTransition
	}

	seq, err := p.t.fanout.Push(p.jobID, payload, final)
	if err != nil {
		return 0, err
	}

	if final {
		if _, err := p.t.reg.UpdateState(ctx, p.jobID, model.JobStateCompleted, ""); err != nil {
			return seq, err
		}
		return seq, nil
	}
	if job.CancelRequested {
		if _, err := p.t.reg.UpdateState(ctx, p.jobID, model.JobStateCancelled, ""); err != nil {
			return seq, err
		}
		p.t.log.Info().Str("job_id", p.jobID).Uint64("last_seq", seq).Msg("cancellation honored after draining chunk")
		return seq, domain.ErrJobCancelled
	}
	return seq, nil
}

// Complete finishes a job that produced no final chunk (or none at all),
// recording an optional result reference.
func (p *Producer) Complete(ctx context.Context, resultRef string) error {
	_, err := p.t.reg.UpdateState(ctx, p.jobID, model.JobStateCompleted, resultRef)
	return err
}

// Fail marks the job failed with the given detail.
func (p *Producer) Fail(ctx context.Context, reason string) error {
	_, err := p.t.reg.UpdateState(ctx, p.jobID, model.JobStateFailed, reason)
	return err
}
