package usecase

import (
	"context"

	"rfp-stream-core/internal/domain/model"
)

// JobRegistry is the single writer of job state. Every successful
// UpdateState appends exactly one event to the durable log before the
// bus sees it.
type JobRegistry interface {
	CreateJob(ctx context.Context, kind model.JobKind, owner string, params map[string]string) (*model.Job, error)
	GetJob(ctx context.Context, id string) (*model.Job, error)
	UpdateState(ctx context.Context, id string, newState model.JobState, detail string) (*model.Job, error)
	// Cancel records cancellation intent immediately; the transition to
	// cancelled happens at once for queued/running jobs and is deferred to
	// the producer's next step for streaming ones.
	Cancel(ctx context.Context, id string) error
	ListActive(ctx context.Context, owner string) ([]*model.Job, error)
}
