package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nimasrn/points-ledger/internal/bootstrap"
	"github.com/nimasrn/points-ledger/internal/config"
	"github.com/nimasrn/points-ledger/internal/processor"
	"github.com/nimasrn/points-ledger/internal/services"
	"github.com/nimasrn/points-ledger/pkg/logger"
	"github.com/nimasrn/points-ledger/pkg/prom"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := config.Load(config.EnvPathFromArgs(os.Args)); err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Get()
	if err := logger.Init(cfg.AppEnv, cfg.LogLevel); err != nil {
		logger.Error("failed to init logger", "error", err)
	}
	defer logger.Sync()
	logger.Info("starting points ledger audit processor", "version", version, "commit", commit, "date", date)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if err := prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace); err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}
	if cfg.AppDebugMetricsAddr != "" {
		go prom.ListenAndServer(cfg.AppDebugMetricsAddr, cfg.AppDebugMetricsURI)
	}

	store, err := bootstrap.OpenStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open ledger store", "error", err)
		return
	}
	defer store.Close()

	adapter, err := bootstrap.NewRedis(cfg)
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}
	defer adapter.Close()

	idempotencyConfig := processor.DefaultIdempotencyConfig()
	idempotencyConfig.MaxRetries = cfg.QueueMaxRetries
	idempotency := processor.NewIdempotencyService(adapter, idempotencyConfig)

	projector := services.NewBalanceProjector(store, cfg.PageMaxLimit)
	service := processor.NewProcessorService(adapter, processor.NewAuditProcessor(projector, idempotency, adapter), processor.ServiceConfig{
		Queue:      bootstrap.QueueConfig(cfg),
		Consumers:  cfg.QueueConsumers,
		Workers:    cfg.AuditWorkers,
		BufferSize: cfg.AuditWorkers * 4,
	})

	if err := service.Start(); err != nil {
		logger.Error("failed to start processor", "error", err)
		return
	}

	<-ctx.Done()
	service.Stop()
	snapshot := service.Metrics()
	logger.Info("audit processor stopped", "processed", snapshot.Processed, "failed", snapshot.Failed)
}
