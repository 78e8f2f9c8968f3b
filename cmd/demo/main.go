// Demo: wires the core against real Postgres/Redis, streams a few fake
// AI tokens through one job and prints what a subscriber observes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"rfp-stream-core/internal/config"
	"rfp-stream-core/internal/domain/model"
	"rfp-stream-core/internal/infra/bus"
	pg "rfp-stream-core/internal/infra/db/postgres"
	"rfp-stream-core/internal/infra/logging"
	red "rfp-stream-core/internal/infra/redis"
	"rfp-stream-core/internal/infra/stream"
	"rfp-stream-core/internal/usecase"
)

type consoleConn struct{ id string }

func (c *consoleConn) ID() string { return c.id }

func (c *consoleConn) Send(_ context.Context, chunk model.Chunk) error {
	fmt.Printf("chunk %d: %q (final=%v)\n", chunk.Seq, chunk.Payload, chunk.Final)
	return nil
}

func (c *consoleConn) Close(err error) {
	fmt.Printf("stream closed (err=%v)\n", err)
}

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, true)
	ctx := context.Background()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer redisClient.Close()

	mux := stream.NewMux(cfg.Stream.Watermark, logger)
	eventBus := bus.New(pg.NewEventLogRepo(pool), pg.NewDeadLetterRepo(pool),
		red.NewIdempotencyStore(redisClient, cfg.Redis.TTL), bus.DefaultRetryPolicy,
		cfg.Bus.QueueSize, cfg.Redis.TTL, logger)
	defer eventBus.Close()

	registry := usecase.NewRegistryUseCase(pg.NewJobRepo(pool), pg.NewEventLogRepo(pool),
		pg.NewTxManager(pool), eventBus, mux, cfg.Jobs.OwnerQuota, logger)
	tracker := usecase.NewTrackerUseCase(registry, mux, logger)
	gateway := usecase.NewGatewayUseCase(mux, registry, red.NewAckStore(redisClient, cfg.Redis.TTL),
		cfg.Gateway.IdleTimeout, logger)

	job, err := registry.CreateJob(ctx, model.JobKindAIStream, "demo-user", map[string]string{"prompt": "say something quick"})
	if err != nil {
		log.Fatalf("create job: %v", err)
	}
	fmt.Printf("job %s created\n", job.ID)

	if err := gateway.Attach(ctx, &consoleConn{id: "demo-conn"}, job.ID, 0); err != nil {
		log.Fatalf("attach: %v", err)
	}

	producer, err := tracker.Begin(ctx, job.ID)
	if err != nil {
		log.Fatalf("begin: %v", err)
	}
	tokens := []string{"The", " quick", " fox"}
	for i, tok := range tokens {
		final := i == len(tokens)-1
		if _, err := producer.Produce(ctx, []byte(tok), final); err != nil {
			log.Fatalf("produce: %v", err)
		}
		time.Sleep(150 * time.Millisecond)
	}

	time.Sleep(500 * time.Millisecond)
	final, err := registry.GetJob(ctx, job.ID)
	if err != nil {
		log.Fatalf("get job: %v", err)
	}
	fmt.Printf("job finished in state %s\n", final.State)
}
