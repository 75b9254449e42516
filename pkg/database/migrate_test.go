package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/checkride-sync/pkg/config"
)

func TestRunMigrationsSQLite(t *testing.T) {
	cfg := config.DatabaseConfig{Driver: config.DriverSQLite, Path: filepath.Join(t.TempDir(), "store.db")}
	db, err := Open(cfg)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, RunMigrations(db, config.DriverSQLite, nil))
	// second run is a no-op
	require.NoError(t, RunMigrations(db, config.DriverSQLite, nil))

	var tables []string
	require.NoError(t, db.Select(&tables, `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'schema_%' ORDER BY name`))
	require.Equal(t, []string{"assignments", "item_progress", "students", "sync_cursors", "sync_parked", "sync_tombstones"}, tables)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"})
	require.Error(t, err)
}
