package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"rfp-stream-core/internal/domain"
	"rfp-stream-core/internal/domain/model"
	"rfp-stream-core/internal/domain/ports/adapter"
	"rfp-stream-core/internal/domain/ports/repository"
	"rfp-stream-core/internal/domain/ports/usecase"
	"rfp-stream-core/internal/infra/logging"
	"rfp-stream-core/internal/infra/metrics"
)

var _ usecase.JobRegistry = (*RegistryUseCase)(nil)

// RegistryUseCase is the job registry: the only component that writes job
// state. The job row update and the transition event share one
// transaction, so an event exists exactly when the state change is
// durable; the bus only sees the event after commit.
type RegistryUseCase struct {
	jobs   repository.JobRepository
	events repository.EventLogRepository
	tm     repository.TransactionManager
	bus    adapter.EventPublisher
	fanout adapter.StreamFanout
	quota  int
	log    *zerolog.Logger

	// Serializes writes per job id. Distinct jobs update in parallel.
	locks sync.Map // job id -> *sync.Mutex
}

func NewRegistryUseCase(
	jobs repository.JobRepository,
	events repository.EventLogRepository,
	tm repository.TransactionManager,
	bus adapter.EventPublisher,
	fanout adapter.StreamFanout,
	ownerQuota int,
	logger *zerolog.Logger,
) *RegistryUseCase {
	if ownerQuota <= 0 {
		ownerQuota = 32
	}
	l := logger.With().Str("component", "JobRegistry").Logger()
	return &RegistryUseCase{
		jobs:   jobs,
		events: events,
		tm:     tm,
		bus:    bus,
		fanout: fanout,
		quota:  ownerQuota,
		log:    &l,
	}
}

func (r *RegistryUseCase) lock(jobID string) func() {
	v, _ := r.locks.LoadOrStore(jobID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (r *RegistryUseCase) CreateJob(ctx context.Context, kind model.JobKind, owner string, params map[string]string) (*model.Job, error) {
	defer logging.TraceDuration(r.log, "JobRegistry.CreateJob")()
	if !model.ValidKind(kind) {
		return nil, domain.ErrInvalidKind
	}
	if owner == "" {
		return nil, domain.ErrInvalidArgument
	}

	now := time.Now()
	job := &model.Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Owner:     owner,
		State:     model.JobStateQueued,
		Params:    params,
		CreatedAt: now,
		UpdatedAt: now,
	}
	ev := r.newEvent(job, model.EventJobCreated, "")

	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		n, err := r.jobs.CountActiveByOwner(ctx, tx, owner)
		if err != nil {
			return err
		}
		if n >= r.quota {
			return domain.ErrQuotaExceeded
		}
		if err := r.jobs.Save(ctx, tx, job); err != nil {
			return err
		}
		return r.events.Append(ctx, tx, ev)
	})
	if err != nil {
		return nil, err
	}

	r.fanout.Open(job.ID)
	r.bus.Publish(ev)
	metrics.IncJobCreated(string(kind))
	r.log.Info().Str("job_id", job.ID).Str("kind", string(kind)).Str("owner", owner).Msg("job admitted")
	return job, nil
}

func (r *RegistryUseCase) GetJob(ctx context.Context, id string) (*model.Job, error) {
	return r.jobs.FindByID(ctx, nil, id)
}

func (r *RegistryUseCase) UpdateState(ctx context.Context, id string, newState model.JobState, detail string) (*model.Job, error) {
	defer logging.TraceDuration(r.log, "JobRegistry.UpdateState")()
	unlock := r.lock(id)
	defer unlock()
	return r.updateStateLocked(ctx, id, newState, detail)
}

func (r *RegistryUseCase) updateStateLocked(ctx context.Context, id string, newState model.JobState, detail string) (*model.Job, error) {
	var job *model.Job
	var ev *model.Event

	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		j, err := r.jobs.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if j.State.Terminal() {
			return domain.ErrAlreadyTerminal
		}
		if !model.CanTransition(j.State, newState) {
			return domain.ErrInvalidTransition
		}
		switch {
		case newState == model.JobStateCompleted:
			j.ResultRef = detail
		case newState == model.JobStateFailed:
			j.ErrorDetail = detail
		case newState == model.JobStateCancelled && detail != "":
			j.ErrorDetail = detail
		}
		j.State = newState
		if err := r.jobs.Save(ctx, tx, j); err != nil {
			return err
		}
		ev = r.newEvent(j, model.EventTypeFor(newState), detail)
		if err := r.events.Append(ctx, tx, ev); err != nil {
			return err
		}
		job = j
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Published only after the state change is durably recorded.
	r.bus.Publish(ev)
	metrics.IncJobTransition(string(newState))
	r.log.Info().Str("job_id", id).Str("state", string(newState)).Msg("job state changed")

	if newState.Terminal() && !r.fanout.Finalized(id) {
		r.fanout.Abort(id)
	}
	return job, nil
}

// Forget drops the per-job write lock after retention eviction.
func (r *RegistryUseCase) Forget(jobID string) {
	r.locks.Delete(jobID)
}

// Cancel records cancellation intent immediately. Jobs in queued or
// running transition to cancelled at once; a streaming job keeps the
// flag and the producer honors it after draining its in-flight chunk.
func (r *RegistryUseCase) Cancel(ctx context.Context, id string) error {
	unlock := r.lock(id)
	defer unlock()

	var immediate bool
	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		j, err := r.jobs.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if j.State.Terminal() {
			return domain.ErrAlreadyTerminal
		}
		j.CancelRequested = true
		immediate = j.CancellableNow()
		return r.jobs.Save(ctx, tx, j)
	})
	if err != nil {
		return err
	}

	if immediate {
		if _, err := r.updateStateLocked(ctx, id, model.JobStateCancelled, ""); err != nil {
			return err
		}
	}
	r.log.Info().Str("job_id", id).Bool("immediate", immediate).Msg("cancellation requested")
	return nil
}

func (r *RegistryUseCase) ListActive(ctx context.Context, owner string) ([]*model.Job, error) {
	return r.jobs.ListActive(ctx, nil, owner)
}

// ListJobEvents exposes a job's transition history for the read API.
func (r *RegistryUseCase) ListJobEvents(ctx context.Context, jobID string) ([]*model.Event, error) {
	return r.events.ListByJob(ctx, nil, jobID)
}

func (r *RegistryUseCase) newEvent(job *model.Job, typ model.EventType, detail string) *model.Event {
	return &model.Event{
		ID:          ulid.Make().String(),
		Type:        typ,
		JobID:       job.ID,
		State:       job.State,
		Detail:      detail,
		PublishedAt: time.Now(),
	}
}
