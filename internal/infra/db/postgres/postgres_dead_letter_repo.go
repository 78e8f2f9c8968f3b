package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"rfp-stream-core/internal/domain/model"
	"rfp-stream-core/internal/domain/ports/repository"
)

var _ repository.DeadLetterRepository = (*deadLetterRepo)(nil)

// deadLetterRepo records events that exhausted delivery retries.
// Append-only; rows carry enough to replay the event for one consumer.
type deadLetterRepo struct {
	pool *pgxpool.Pool
}

func NewDeadLetterRepo(pool *pgxpool.Pool) *deadLetterRepo {
	return &deadLetterRepo{pool: pool}
}

func (r *deadLetterRepo) Append(ctx context.Context, tx repository.Tx, consumerID string, ev *model.Event, reason string) error {
	meta, err := json.Marshal(ev.Metadata)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO dead_letters (event_id, consumer_id, type, job_id, state, detail, metadata, reason, dead_lettered_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);`
	_, err = execSQL(ctx, r.pool, tx, q,
		ev.ID, consumerID, ev.Type, ev.JobID, ev.State, ev.Detail, meta, reason, time.Now())
	return err
}

func (r *deadLetterRepo) ListByConsumer(ctx context.Context, tx repository.Tx, consumerID string) ([]*model.Event, error) {
	const q = `
SELECT event_id, type, job_id, state, detail, metadata
FROM dead_letters WHERE consumer_id = $1 ORDER BY event_id;`
	rows, err := pickRows(ctx, r.pool, tx, q, consumerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Event
	for rows.Next() {
		var ev model.Event
		var typ, state string
		var meta []byte
		if err := rows.Scan(&ev.ID, &typ, &ev.JobID, &state, &ev.Detail, &meta); err != nil {
			return nil, err
		}
		ev.Type = model.EventType(typ)
		ev.State = model.JobState(state)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &ev.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}
