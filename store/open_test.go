package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/tax-engine/config"
	"github.com/warp/tax-engine/store"
)

func TestOpen_SQLiteCreatesDirectory(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nested", "tax.db")

	backend, err := store.Open(context.Background(), config.DriverSQLite, dsn)

	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	assert.NoError(t, backend.Ping(context.Background()))
	assert.FileExists(t, dsn)
}

func TestOpen_Memory(t *testing.T) {
	backend, err := store.Open(context.Background(), config.DriverMemory, "")

	require.NoError(t, err)
	assert.NoError(t, backend.Ping(context.Background()))
	assert.NoError(t, backend.Close())
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := store.Open(context.Background(), "mongo", "x")

	assert.ErrorContains(t, err, "unknown store driver")
}
