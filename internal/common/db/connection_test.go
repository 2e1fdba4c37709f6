package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtfsload/internal/common/logger"
)

func TestWithPragmas(t *testing.T) {
	const pragmas = "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	assert.Equal(t, "gtfs.db?"+pragmas, withPragmas("gtfs.db"))
	assert.Equal(t, "gtfs.db?_txlock=immediate&"+pragmas, withPragmas("gtfs.db?_txlock=immediate"))
	assert.Equal(t, "gtfs.db?"+pragmas, withPragmas("gtfs.db?"))
}

func TestOpenSQLiteWithQuery(t *testing.T) {
	log := logger.Nop()
	path := filepath.Join(t.TempDir(), "gtfs.db") + "?_txlock=immediate"

	database, err := Open(SQLite, path, log)
	require.NoError(t, err)
	defer database.Close()

	assert.Equal(t, SQLite, database.Driver())
	assert.Equal(t, log, database.Logger())

	var mode string
	require.NoError(t, database.Conn().QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	tx, err := database.BeginTx(context.Background())
	require.NoError(t, err)
	_, err = tx.Exec("CREATE TABLE t (id INTEGER)")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn", logger.Nop())
	assert.Error(t, err)
}
