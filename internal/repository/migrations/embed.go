// Package migrations holds the goose SQL migrations for the Postgres ledger schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

const Dir = "."
