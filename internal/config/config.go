package config

import (
	"os"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/nimasrn/points-ledger/pkg/logger"
	"github.com/nimasrn/points-ledger/pkg/pg"
	"github.com/pkg/errors"
)

const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMongo    = "mongo"
	StoreMemory   = "memory"
)

var config *Config

// Config holds every setting of the ledger binaries. Nothing else reads the
// environment directly.
type Config struct {
	AppEnv              string `env:"APP_ENV,default=dev"`
	AppName             string `env:"APP_NAME,default=points_ledger"`
	AppDebugMetricsAddr string `env:"APP_DEBUG_METRIC_ADDR"`
	AppDebugMetricsURI  string `env:"APP_DEBUG_METRIC_URI,default=/metrics"`

	LogLevel string `env:"LOG_LEVEL,default=info"`

	HttpListenAddr     string        `env:"HTTP_LISTEN_ADDR,default=:8080"`
	HttpRequestTimeout time.Duration `env:"HTTP_REQUEST_TIMEOUT,default=5s"`

	LedgerStore string `env:"LEDGER_STORE,default=postgres"`
	SQLitePath  string `env:"SQLITE_PATH,default=ledger.db"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT,default=5432"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT,default=5432"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`
	PostgresSSLMode       string `env:"POSTGRES_SSLMODE,default=disable"`

	MongoURI              string `env:"MONGO_URI,default=mongodb://localhost:27017"`
	MongoDatabase         string `env:"MONGO_DATABASE,default=points_ledger"`
	MongoAppendMaxRetries int    `env:"MONGO_APPEND_MAX_RETRIES,default=8"`

	RedisAddr               string `env:"REDIS_ADDR"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX"`

	QueueName              string        `env:"QUEUE_NAME,default=ledger:events"`
	QueueConsumerGroup     string        `env:"QUEUE_CONSUMER_GROUP,default=ledger-audit"`
	QueueConsumerName      string        `env:"QUEUE_CONSUMER_NAME,default=auditor"`
	QueueMaxRetries        int           `env:"QUEUE_MAX_RETRIES,default=3"`
	QueueVisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT,default=30s"`
	QueuePollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL,default=1s"`
	QueueBatchSize         int64         `env:"QUEUE_BATCH_SIZE,default=10"`
	QueueMaxLen            int64         `env:"QUEUE_MAX_LEN,default=100000"`
	QueueEnableDLQ         bool          `env:"QUEUE_ENABLE_DLQ,default=true"`
	QueueConsumers         int           `env:"QUEUE_CONSUMERS,default=2"`

	EventBufferSize   int    `env:"EVENT_BUFFER_SIZE,default=4096"`
	EarnSpendUnit     string `env:"EARN_SPEND_UNIT,default=1"`
	EarnPointsPerUnit int64  `env:"EARN_POINTS_PER_UNIT,default=1"`
	PageDefaultLimit  int    `env:"PAGE_DEFAULT_LIMIT,default=100"`
	PageMaxLimit      int    `env:"PAGE_MAX_LIMIT,default=1000"`
	AuditWorkers      int    `env:"AUDIT_WORKERS,default=8"`

	PromNamespace string `env:"PROM_NAMESPACE,default=points_ledger"`
}

func (c *Config) Validate() error {
	switch c.LedgerStore {
	case StorePostgres:
		if c.PostgresWriteHost == "" || c.PostgresWriteDatabase == "" {
			return errors.New("POSTGRES_WRITE_HOST and POSTGRES_WRITE_DBNAME are required for the postgres store")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required for the sqlite store")
		}
	case StoreMongo:
		if c.MongoURI == "" || c.MongoDatabase == "" {
			return errors.New("MONGO_URI and MONGO_DATABASE are required for the mongo store")
		}
	case StoreMemory:
	default:
		return errors.Errorf("unknown LEDGER_STORE %q", c.LedgerStore)
	}
	if c.PageDefaultLimit <= 0 || c.PageMaxLimit < c.PageDefaultLimit {
		return errors.Errorf("invalid page limits: default %d, max %d", c.PageDefaultLimit, c.PageMaxLimit)
	}
	if c.EarnPointsPerUnit <= 0 {
		return errors.New("EARN_POINTS_PER_UNIT must be positive")
	}
	return nil
}

// PostgresRead falls back to the write connection when no replica is configured.
func (c *Config) PostgresRead() pg.Config {
	if c.PostgresReadHost == "" {
		return c.PostgresWrite()
	}
	return pg.Config{
		User:     c.PostgresReadUser,
		Host:     c.PostgresReadHost,
		Port:     c.PostgresReadPort,
		Password: c.PostgresReadPassword,
		Database: c.PostgresReadDatabase,
		SSLMode:  c.PostgresSSLMode,
	}
}

func (c *Config) PostgresWrite() pg.Config {
	return pg.Config{
		User:     c.PostgresWriteUser,
		Host:     c.PostgresWriteHost,
		Port:     c.PostgresWritePort,
		Password: c.PostgresWritePassword,
		Database: c.PostgresWriteDatabase,
		SSLMode:  c.PostgresSSLMode,
	}
}

func Load(path string) error {
	if path != "" {
		logger.Info("loading env file", "path", path)
		if err := godotenv.Load(path); err != nil {
			return errors.Wrapf(err, "failed to load configuration file %s", path)
		}
	}

	c := &Config{}
	if _, err := env.UnmarshalFromEnviron(c); err != nil {
		return errors.Wrap(err, "failed to map env variables to configuration")
	}
	if err := c.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	config = c
	return nil
}

func Get() *Config {
	if config == nil {
		logger.Panic("config is not initialized")
	}
	return config
}

// EnvPathFromArgs returns the file named by a --env=path argument, if it exists.
func EnvPathFromArgs(args []string) string {
	for _, v := range args {
		path, ok := strings.CutPrefix(v, "--env=")
		if !ok {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			logger.Error("env file is not readable", "path", path, "error", err)
			return ""
		}
		return path
	}
	return ""
}
