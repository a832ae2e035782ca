package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LEDGER_STORE", StoreMemory)

	require.NoError(t, Load(""))
	c := Get()

	assert.Equal(t, "dev", c.AppEnv)
	assert.Equal(t, ":8080", c.HttpListenAddr)
	assert.Equal(t, 5*time.Second, c.HttpRequestTimeout)
	assert.Equal(t, "ledger:events", c.QueueName)
	assert.True(t, c.QueueEnableDLQ)
	assert.Equal(t, 100, c.PageDefaultLimit)
	assert.Equal(t, int64(1), c.EarnPointsPerUnit)
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.env")
	require.NoError(t, os.WriteFile(path, []byte("LEDGER_STORE=sqlite\nSQLITE_PATH=/tmp/ledger-test.db\nEARN_SPEND_UNIT=2.50\nQUEUE_POLL_INTERVAL=250ms\n"), 0o600))

	// godotenv never overrides variables that are already set
	for _, k := range []string{"LEDGER_STORE", "SQLITE_PATH", "EARN_SPEND_UNIT", "QUEUE_POLL_INTERVAL"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}

	require.NoError(t, Load(path))
	c := Get()
	assert.Equal(t, StoreSQLite, c.LedgerStore)
	assert.Equal(t, "/tmp/ledger-test.db", c.SQLitePath)
	assert.Equal(t, "2.50", c.EarnSpendUnit)
	assert.Equal(t, 250*time.Millisecond, c.QueuePollInterval)
}

func TestLoad_MissingFile(t *testing.T) {
	assert.Error(t, Load(filepath.Join(t.TempDir(), "missing.env")))
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"memory", Config{LedgerStore: StoreMemory, PageDefaultLimit: 10, PageMaxLimit: 100, EarnPointsPerUnit: 1}, true},
		{"postgres without host", Config{LedgerStore: StorePostgres, PageDefaultLimit: 10, PageMaxLimit: 100, EarnPointsPerUnit: 1}, false},
		{"postgres", Config{LedgerStore: StorePostgres, PostgresWriteHost: "db", PostgresWriteDatabase: "ledger", PageDefaultLimit: 10, PageMaxLimit: 100, EarnPointsPerUnit: 1}, true},
		{"unknown store", Config{LedgerStore: "cassandra", PageDefaultLimit: 10, PageMaxLimit: 100, EarnPointsPerUnit: 1}, false},
		{"inverted page limits", Config{LedgerStore: StoreMemory, PageDefaultLimit: 100, PageMaxLimit: 10, EarnPointsPerUnit: 1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestConfig_PostgresReadFallsBackToWrite(t *testing.T) {
	c := &Config{PostgresWriteHost: "primary", PostgresWritePort: "5432", PostgresWriteDatabase: "ledger"}
	assert.Equal(t, c.PostgresWrite(), c.PostgresRead())

	c.PostgresReadHost = "replica"
	assert.Equal(t, "replica", c.PostgresRead().Host)
}

func TestEnvPathFromArgs(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	assert.Equal(t, path, EnvPathFromArgs([]string{"api", "--env=" + path}))
	assert.Empty(t, EnvPathFromArgs([]string{"api", "--env=/does/not/exist"}))
	assert.Empty(t, EnvPathFromArgs([]string{"api"}))
}
