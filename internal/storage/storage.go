// Package storage selects the persistence backend named by configuration.
package storage

import (
	"context"
	"fmt"

	"github.com/jules-labs/librarydesk/internal/catalog"
	"github.com/jules-labs/librarydesk/internal/circulation"
	"github.com/jules-labs/librarydesk/internal/config"
	"github.com/jules-labs/librarydesk/internal/fines"
	"github.com/jules-labs/librarydesk/internal/membership"
	"github.com/jules-labs/librarydesk/internal/storage/memory"
	"github.com/jules-labs/librarydesk/internal/storage/sqlstore"
)

// Store is everything the services and the health check need.
type Store interface {
	membership.Store
	catalog.Store
	circulation.Store
	fines.Store
	Ping(ctx context.Context) error
	Close() error
}

// Open connects to the configured backend and applies the schema.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.DBDriver {
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverPostgres, config.DriverPGX, config.DriverSQLite:
		s, err := sqlstore.Open(ctx, cfg.DBDriver, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported driver %q", cfg.DBDriver)
	}
}
