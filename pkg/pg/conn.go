package pg

import (
	"database/sql"
	"fmt"
)

type Config struct {
	User     string
	Host     string
	Port     string
	Password string
	Database string
	// SSLMode defaults to "disable" when empty.
	SSLMode string
}

func (c Config) DSN() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s application_name=points-ledger",
		c.Host, c.Port, c.User, c.Password, c.Database, sslmode)
}

// newSqlConnection opens a plain database/sql handle for goose, which does
// not go through gorm.
func newSqlConnection(config Config) (*sql.DB, error) {
	return sql.Open("postgres", config.DSN())
}
