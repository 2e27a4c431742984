// Package store selects and opens a tax.Store backend by driver name.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/warp/tax-engine/config"
	"github.com/warp/tax-engine/store/postgres"
	"github.com/warp/tax-engine/store/sqlite"
	"github.com/warp/tax-engine/tax"
	memstore "github.com/warp/tax-engine/tax/store"
)

// Backend is a tax.Store the server and CLI can manage.
type Backend interface {
	tax.Store
	Ping(ctx context.Context) error
	Reset(ctx context.Context) error
	Close() error
}

var (
	_ Backend = (*sqlite.Store)(nil)
	_ Backend = (*postgres.Store)(nil)
	_ Backend = (*memstore.Memory)(nil)
)

// Open connects to the configured backend. For SQLite, the parent directory
// of dsn is created when missing.
func Open(ctx context.Context, driver, dsn string) (Backend, error) {
	switch driver {
	case config.DriverSQLite:
		if dsn != ":memory:" {
			if dir := filepath.Dir(dsn); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, fmt.Errorf("create data directory: %w", err)
				}
			}
		}
		s, err := sqlite.New(dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverMemory:
		return memstore.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
