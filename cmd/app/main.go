// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rfp-stream-core/internal/config"
	"rfp-stream-core/internal/domain/model"
	"rfp-stream-core/internal/infra/bus"
	pg "rfp-stream-core/internal/infra/db/postgres"
	"rfp-stream-core/internal/infra/logging"
	"rfp-stream-core/internal/infra/metrics"
	red "rfp-stream-core/internal/infra/redis"
	"rfp-stream-core/internal/infra/sched"
	"rfp-stream-core/internal/infra/stream"
	"rfp-stream-core/internal/infra/web"
	"rfp-stream-core/internal/infra/worker"
	"rfp-stream-core/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()
	tm := pg.NewTxManager(pool)
	jobRepo := pg.NewJobRepo(pool)
	eventRepo := pg.NewEventLogRepo(pool)
	dlqRepo := pg.NewDeadLetterRepo(pool)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer redisClient.Close()
	idemStore := red.NewIdempotencyStore(redisClient, cfg.Redis.TTL)
	ackStore := red.NewAckStore(redisClient, cfg.Redis.TTL)

	// ---- Core fabric ----
	mux := stream.NewMux(cfg.Stream.Watermark, logger)
	eventBus := bus.New(eventRepo, dlqRepo, idemStore, bus.RetryPolicy{
		Base:        cfg.Bus.RetryBase,
		Cap:         cfg.Bus.RetryCap,
		MaxAttempts: cfg.Bus.MaxAttempts,
	}, cfg.Bus.QueueSize, cfg.Redis.TTL, logger)
	defer eventBus.Close()

	registry := usecase.NewRegistryUseCase(jobRepo, eventRepo, tm, eventBus, mux, cfg.Jobs.OwnerQuota, logger)
	gateway := usecase.NewGatewayUseCase(mux, registry, ackStore, cfg.Gateway.IdleTimeout, logger)

	// Activity feed: other modules subscribe the same way, out of process.
	feedLog := logger.With().Str("component", "ActivityFeed").Logger()
	for _, typ := range []model.EventType{
		model.EventJobCreated, model.EventJobStateChanged,
		model.EventJobCompleted, model.EventJobFailed,
	} {
		if err := eventBus.Subscribe(typ, "activity-feed", func(ctx context.Context, ev *model.Event) error {
			logging.With(ctx, &feedLog).Info().
				Str("event_id", ev.ID).
				Str("type", string(ev.Type)).
				Str("state", string(ev.State)).
				Msg("job activity")
			return nil
		}); err != nil {
			log.Fatalf("bus subscribe: %v", err)
		}
	}

	// ---- Sweepers ----
	sweepPool := worker.NewPool(cfg.Jobs.SweepWorkers, logger)
	sweepPool.Start(ctx)
	defer sweepPool.Stop()

	idleSweeper := sched.NewIdleSweeper(cfg.Jobs.IdleSweepInterval, cfg.Jobs.IdleTimeout, jobRepo, mux, registry, sweepPool, logger)
	go func() { _ = idleSweeper.Run(ctx) }()
	retention := sched.NewRetentionSweeper(cfg.Jobs.RetentionInterval, cfg.Jobs.RetentionTTL, jobRepo, mux, registry.Forget, logger)
	go func() { _ = retention.Run(ctx) }()

	// ---- Admin HTTP ----
	adminSrv := web.NewServer(registry, gateway, cfg.Admin.APIKey, logger)
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Admin.Port),
		Handler: adminSrv.Router(),
	}
	go func() {
		logger.Info().Int("port", cfg.Admin.Port).Msg("admin server listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("admin server stopped")
		}
	}()

	// ---- Shutdown ----
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info().Msg("shutting down")
	cancel()

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	_ = httpSrv.Shutdown(shCtx)
}
