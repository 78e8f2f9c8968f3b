package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"rfp-stream-core/internal/domain"
	"rfp-stream-core/internal/domain/model"
	"rfp-stream-core/internal/domain/ports/repository"
)

var _ repository.EventLogRepository = (*eventLogRepo)(nil)

// eventLogRepo is the append-only event log. Event ids are ULIDs, so
// ordering by id yields publish order within a job.
type eventLogRepo struct {
	pool *pgxpool.Pool
}

func NewEventLogRepo(pool *pgxpool.Pool) *eventLogRepo {
	return &eventLogRepo{pool: pool}
}

const eventColumns = `id, type, job_id, state, detail, metadata, published_at, attempt_count`

func (r *eventLogRepo) Append(ctx context.Context, tx repository.Tx, ev *model.Event) error {
	meta, err := json.Marshal(ev.Metadata)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO events (id, type, job_id, state, detail, metadata, published_at, attempt_count)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`
	_, err = execSQL(ctx, r.pool, tx, q,
		ev.ID, ev.Type, ev.JobID, ev.State, ev.Detail, meta, ev.PublishedAt, ev.Attempts)
	return err
}

func (r *eventLogRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Event, error) {
	const q = `SELECT ` + eventColumns + ` FROM events WHERE id = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanEvent(row)
}

func (r *eventLogRepo) ListByJob(ctx context.Context, tx repository.Tx, jobID string) ([]*model.Event, error) {
	const q = `SELECT ` + eventColumns + ` FROM events WHERE job_id = $1 ORDER BY id;`
	rows, err := pickRows(ctx, r.pool, tx, q, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *eventLogRepo) IncAttempts(ctx context.Context, tx repository.Tx, id string) error {
	const q = `UPDATE events SET attempt_count = attempt_count + 1 WHERE id = $1;`
	_, err := execSQL(ctx, r.pool, tx, q, id)
	return err
}

func scanEvent(row pgx.Row) (*model.Event, error) {
	var ev model.Event
	var typ, state string
	var meta []byte
	err := row.Scan(&ev.ID, &typ, &ev.JobID, &state, &ev.Detail, &meta, &ev.PublishedAt, &ev.Attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	ev.Type = model.EventType(typ)
	ev.State = model.JobState(state)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &ev.Metadata); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	return &ev, nil
}
