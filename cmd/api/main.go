package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nimasrn/points-ledger/internal/bootstrap"
	"github.com/nimasrn/points-ledger/internal/config"
	"github.com/nimasrn/points-ledger/internal/handlers"
	"github.com/nimasrn/points-ledger/internal/processor"
	"github.com/nimasrn/points-ledger/internal/queue"
	"github.com/nimasrn/points-ledger/internal/services"
	xhttp "github.com/nimasrn/points-ledger/pkg/http"
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
	logger.Info("starting points ledger api", "version", version, "commit", commit, "date", date)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.AppDebugMetricsAddr != "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		if err := prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace); err != nil {
			logger.Error("failed to create prometheus metrics", "error", err)
			return
		}
		go prom.ListenAndServer(cfg.AppDebugMetricsAddr, cfg.AppDebugMetricsURI)
	}

	store, err := bootstrap.OpenStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open ledger store", "error", err)
		return
	}
	defer store.Close()

	// Without redis the ledger still serves; events are simply not published.
	var sink services.EventSink = services.NopSink{}
	if cfg.RedisAddr != "" {
		channel, err := startRelay(ctx, cfg)
		if err != nil {
			logger.Error("failed to start event relay", "error", err)
			return
		}
		defer channel.Close()
		sink = channel
	} else {
		logger.Warn("REDIS_ADDR is empty, ledger events will not be published")
	}

	ledger, err := bootstrap.NewLedger(cfg, store, sink)
	if err != nil {
		logger.Error("failed to build ledger services", "error", err)
		return
	}

	opts := xhttp.DefaultServerOption
	opts.RequestTimeout = cfg.HttpRequestTimeout
	s := xhttp.NewServer(opts)
	s.Router = xhttp.CreateDefaultRouter()
	s.Use(xhttp.RecoverMiddleware)
	s.Use(xhttp.RequestIDMiddleware)
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.TimeoutMiddleware(opts.RequestTimeout))

	limits := handlers.PageLimits{Default: cfg.PageDefaultLimit, Max: cfg.PageMaxLimit}
	g := s.Router.Group("/api/v1")
	handlers.RegisterMemberRoutes(g, handlers.NewMemberHandler(ledger.Members))
	handlers.RegisterTransactionRoutes(g, handlers.NewTransactionHandler(ledger.Processor))
	handlers.RegisterLedgerRoutes(g, handlers.NewLedgerHandler(ledger.Projector, ledger.Reporting, limits))
	handlers.RegisterHealthRoutes(s.Router, handlers.NewHealthHandler(store))

	if err := s.Serve(ctx, cfg.HttpListenAddr); err != nil {
		logger.Error("error in running http-server", "error", err)
	}
}

// startRelay publishes committed ledger events to the redis stream until ctx
// is done or the returned sink is closed.
func startRelay(ctx context.Context, cfg *config.Config) (*services.ChannelSink, error) {
	adapter, err := bootstrap.NewRedis(cfg)
	if err != nil {
		return nil, err
	}
	q, err := queue.NewQueue(ctx, adapter, bootstrap.QueueConfig(cfg))
	if err != nil {
		return nil, err
	}

	sink := services.NewChannelSink(cfg.EventBufferSize)
	relay := processor.NewEventRelay(sink.Events(), q)
	go relay.Run(ctx)
	return sink, nil
}
