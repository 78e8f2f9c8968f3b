package main

import (
	"context"
	"flag"
	"log"

	"rfp-stream-core/internal/config"
	"rfp-stream-core/internal/infra/db/postgres"
	"rfp-stream-core/internal/infra/redis"
)

// This script sets up a clean, predictable database state for manual
// end-to-end testing: schema creation, full wipe, empty cache.
func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	pool, err := postgres.NewPgxPool(ctx, cfg.Database.URL, 5)
	if err != nil {
		log.Fatalf("postgres connection failed: %v", err)
	}
	defer pool.Close()

	redisClient, err := redis.NewClient(ctx, &cfg.Redis)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer redisClient.Close()

	log.Println("--- Starting E2E Environment Setup ---")

	log.Println("[1/3] Ensuring schema...")
	if _, err := pool.Exec(ctx, schema); err != nil {
		log.Fatalf("failed to create schema: %v", err)
	}

	log.Println("[2/3] Wiping all existing job data...")
	if _, err := pool.Exec(ctx, `TRUNCATE jobs, events, dead_letters RESTART IDENTITY CASCADE;`); err != nil {
		log.Fatalf("failed to truncate tables: %v", err)
	}

	log.Println("[3/3] Wiping Redis cursors and idempotency marks...")
	if err := redisClient.FlushDB(ctx); err != nil {
		log.Fatalf("failed to flush redis: %v", err)
	}

	log.Println("--- E2E Environment Setup Complete ---")
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id               TEXT PRIMARY KEY,
    kind             TEXT NOT NULL,
    owner            TEXT NOT NULL,
    state            TEXT NOT NULL,
    params           JSONB,
    result_ref       TEXT NOT NULL DEFAULT '',
    error_detail     TEXT NOT NULL DEFAULT '',
    cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
    created_at       TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_owner_state ON jobs (owner, state);
CREATE INDEX IF NOT EXISTS idx_jobs_state_updated ON jobs (state, updated_at);

CREATE TABLE IF NOT EXISTS events (
    id            TEXT PRIMARY KEY,
    type          TEXT NOT NULL,
    job_id        TEXT NOT NULL,
    state         TEXT NOT NULL,
    detail        TEXT NOT NULL DEFAULT '',
    metadata      JSONB,
    published_at  TIMESTAMPTZ NOT NULL,
    attempt_count INT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_events_job ON events (job_id);

CREATE TABLE IF NOT EXISTS dead_letters (
    id               BIGSERIAL PRIMARY KEY,
    event_id         TEXT NOT NULL,
    consumer_id      TEXT NOT NULL,
    type             TEXT NOT NULL,
    job_id           TEXT NOT NULL,
    state            TEXT NOT NULL,
    detail           TEXT NOT NULL DEFAULT '',
    metadata         JSONB,
    reason           TEXT NOT NULL,
    dead_lettered_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dead_letters_consumer ON dead_letters (consumer_id);
`
