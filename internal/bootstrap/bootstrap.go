// Package bootstrap turns a loaded config into the ledger's runtime pieces.
// The binaries under cmd/ share it so they agree on store selection.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/nimasrn/points-ledger/internal/config"
	"github.com/nimasrn/points-ledger/internal/identifier"
	"github.com/nimasrn/points-ledger/internal/queue"
	"github.com/nimasrn/points-ledger/internal/repository"
	"github.com/nimasrn/points-ledger/internal/repository/memory"
	"github.com/nimasrn/points-ledger/internal/repository/mongostore"
	"github.com/nimasrn/points-ledger/internal/services"
	"github.com/nimasrn/points-ledger/pkg/logger"
	"github.com/nimasrn/points-ledger/pkg/pg"
	"github.com/nimasrn/points-ledger/pkg/redis"
)

// OpenStore connects the configured LedgerStore and leaves it Ready.
func OpenStore(ctx context.Context, cfg *config.Config) (repository.LedgerStore, error) {
	var store repository.LedgerStore
	debug := cfg.AppEnv == "dev"

	switch cfg.LedgerStore {
	case config.StorePostgres:
		db, err := pg.CreateReadWrite(cfg.PostgresRead(), cfg.PostgresWrite(), debug)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		store = repository.NewLedgerRepository(db)
	case config.StoreSQLite:
		db, err := pg.CreateSQLite(cfg.SQLitePath, debug)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		store = repository.NewLedgerRepository(db, repository.WithAutoMigrate())
	case config.StoreMongo:
		s, err := mongostore.Connect(ctx, mongostore.Config{
			URI:           cfg.MongoURI,
			Database:      cfg.MongoDatabase,
			AppendRetries: cfg.MongoAppendMaxRetries,
		})
		if err != nil {
			return nil, err
		}
		store = s
	case config.StoreMemory:
		logger.Warn("using the in-memory ledger store; nothing survives a restart")
		store = memory.New()
	default:
		return nil, fmt.Errorf("unknown ledger store %q", cfg.LedgerStore)
	}

	if err := store.Open(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open %s store: %w", cfg.LedgerStore, err)
	}
	logger.Info("ledger store ready", "store", cfg.LedgerStore)
	return store, nil
}

func NewRedis(cfg *config.Config) (redis.RedisAdapter, error) {
	return redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{cfg.RedisAddr},
		ClientName: cfg.AppName,
		DB:         cfg.RedisDatabase,
		Username:   cfg.RedisUsername,
		Password:   cfg.RedisPassword,
	})
}

func QueueConfig(cfg *config.Config) queue.QueueConfig {
	return queue.QueueConfig{
		Name:              cfg.QueueName,
		ConsumerGroup:     cfg.QueueConsumerGroup,
		ConsumerName:      cfg.QueueConsumerName,
		MaxRetries:        cfg.QueueMaxRetries,
		VisibilityTimeout: cfg.QueueVisibilityTimeout,
		PollInterval:      cfg.QueuePollInterval,
		BatchSize:         cfg.QueueBatchSize,
		MaxLen:            cfg.QueueMaxLen,
		EnableDLQ:         cfg.QueueEnableDLQ,
	}
}

// Ledger groups the services that sit on one store.
type Ledger struct {
	Store      repository.LedgerStore
	Members    *services.MembershipService
	Processor  *services.TransactionProcessor
	Projector  *services.BalanceProjector
	Reporting  *services.ReportingService
	EventsSink services.EventSink
}

func NewLedger(cfg *config.Config, store repository.LedgerStore, sink services.EventSink) (*Ledger, error) {
	policy, err := services.NewEarningPolicy(cfg.EarnSpendUnit, cfg.EarnPointsPerUnit)
	if err != nil {
		return nil, err
	}

	ids := identifier.NewGenerator()
	return &Ledger{
		Store:      store,
		Members:    services.NewMembershipService(store, ids, sink),
		Processor:  services.NewTransactionProcessor(store, ids, sink, services.WithEarningPolicy(policy)),
		Projector:  services.NewBalanceProjector(store, cfg.PageMaxLimit),
		Reporting:  services.NewReportingService(store),
		EventsSink: sink,
	}, nil
}
