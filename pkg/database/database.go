package database

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/checkride-sync/pkg/config"
)

// Open connects to the configured local store.
func Open(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return NewPostgres(cfg)
	case config.DriverSQLite, "":
		return NewSQLite(cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}
