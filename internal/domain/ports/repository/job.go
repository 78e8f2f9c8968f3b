package repository

import (
	"context"
	"time"

	"rfp-stream-core/internal/domain/model"
)

// JobRepository is the persisted job table. Writes for one job id are
// serialized by the caller (the registry is the single writer); distinct
// job ids may be written fully in parallel.
type JobRepository interface {
	Save(ctx context.Context, tx Tx, job *model.Job) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Job, error)
	// ListActive returns jobs not yet terminal, optionally filtered by owner
	// (empty owner means all owners).
	ListActive(ctx context.Context, tx Tx, owner string) ([]*model.Job, error)
	CountActiveByOwner(ctx context.Context, tx Tx, owner string) (int, error)
	// ListIdleSince returns non-terminal jobs whose updated_at is older than
	// the cutoff. Used by the idle sweeper.
	ListIdleSince(ctx context.Context, tx Tx, cutoff time.Time) ([]*model.Job, error)
	// DeleteTerminalBefore evicts terminal jobs last updated before the
	// cutoff and returns the ids removed. Events for those jobs are kept.
	DeleteTerminalBefore(ctx context.Context, tx Tx, cutoff time.Time) ([]string, error)
}
