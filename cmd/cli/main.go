package main

import (
	"fmt"
	"os"

	"github.com/nimasrn/points-ledger/internal/config"
	"github.com/nimasrn/points-ledger/internal/repository/migrations"
	"github.com/nimasrn/points-ledger/pkg/logger"
	"github.com/nimasrn/points-ledger/pkg/pg"
)

const usage = `usage: cli <command> [--env=path]

commands:
  migrate   apply the embedded Postgres migrations to POSTGRES_WRITE_*
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err := config.Load(config.EnvPathFromArgs(os.Args)); err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "migrate":
		if err := pg.Migrate(config.Get().PostgresWrite(), migrations.FS, migrations.Dir); err != nil {
			logger.Error("migration: error running migrations", "error", err)
			os.Exit(1)
		}
		logger.Info("migration: done")
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}
