package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"rfp-stream-core/internal/domain"
	"rfp-stream-core/internal/domain/model"
	"rfp-stream-core/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*jobRepo)(nil)

type jobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *jobRepo {
	return &jobRepo{pool: pool}
}

const jobColumns = `id, kind, owner, state, params, result_ref, error_detail, cancel_requested, created_at, updated_at`

func (r *jobRepo) Save(ctx context.Context, tx repository.Tx, job *model.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.UpdatedAt = time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = job.UpdatedAt
	}
	params, err := json.Marshal(job.Params)
	if err != nil {
		return err
	}

	const q = `
INSERT INTO jobs (id, kind, owner, state, params, result_ref, error_detail, cancel_requested, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
  state = EXCLUDED.state,
  result_ref = EXCLUDED.result_ref,
  error_detail = EXCLUDED.error_detail,
  cancel_requested = EXCLUDED.cancel_requested,
  updated_at = EXCLUDED.updated_at;`

	_, err = execSQL(ctx, r.pool, tx, q,
		job.ID, job.Kind, job.Owner, job.State, params, job.ResultRef, job.ErrorDetail, job.CancelRequested, job.CreatedAt, job.UpdatedAt)
	return err
}

func (r *jobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	const q = `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *jobRepo) ListActive(ctx context.Context, tx repository.Tx, owner string) ([]*model.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE state NOT IN ('completed','failed','cancelled')`
	args := []interface{}{}
	if owner != "" {
		q += ` AND owner = $1`
		args = append(args, owner)
	}
	q += ` ORDER BY created_at;`
	rows, err := pickRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (r *jobRepo) CountActiveByOwner(ctx context.Context, tx repository.Tx, owner string) (int, error) {
	const q = `SELECT COUNT(*) FROM jobs WHERE owner = $1 AND state NOT IN ('completed','failed','cancelled');`
	row, err := pickRow(ctx, r.pool, tx, q, owner)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return n, nil
}

func (r *jobRepo) ListIdleSince(ctx context.Context, tx repository.Tx, cutoff time.Time) ([]*model.Job, error) {
	const q = `SELECT ` + jobColumns + `
FROM jobs
WHERE state NOT IN ('completed','failed','cancelled') AND updated_at < $1
ORDER BY updated_at;`
	rows, err := pickRows(ctx, r.pool, tx, q, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (r *jobRepo) DeleteTerminalBefore(ctx context.Context, tx repository.Tx, cutoff time.Time) ([]string, error) {
	const q = `
DELETE FROM jobs
WHERE state IN ('completed','failed','cancelled') AND updated_at < $1
RETURNING id;`
	rows, err := pickRows(ctx, r.pool, tx, q, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var kind, state string
	var params []byte
	err := row.Scan(&j.ID, &kind, &j.Owner, &state, &params, &j.ResultRef, &j.ErrorDetail, &j.CancelRequested, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	j.Kind = model.JobKind(kind)
	j.State = model.JobState(state)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &j.Params); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	return &j, nil
}

func scanJobs(rows pgx.Rows) ([]*model.Job, error) {
	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
