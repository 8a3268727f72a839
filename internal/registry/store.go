// Package registry persists the client registry as whole snapshots.
//
// The registry is the single source of truth for which clients the service
// believes exist. It may disagree with the live interface; reconciling the two is
// the allocator's job, not the store's. Stores perform no locking of their own:
// callers serialize every load-mutate-save cycle.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/EternisAI/wg-provisioner/internal/clients"
	"github.com/EternisAI/wg-provisioner/internal/db"
)

var ErrUnknownDriver = errors.New("unknown registry driver")

const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
)

// Store loads and saves the complete registry snapshot.
type Store interface {
	// Load returns the current snapshot. A missing backing store is an empty registry.
	Load(ctx context.Context) (clients.Snapshot, error)
	// Save replaces the stored snapshot atomically: either all of it lands or the previous one remains.
	Save(ctx context.Context, snapshot clients.Snapshot) error
}

type Config struct {
	Driver string         `mapstructure:"driver"`
	Path   string         `mapstructure:"path"`
	DB     DatabaseConfig `mapstructure:"db"`
}

type DatabaseConfig struct {
	Url    string `mapstructure:"url"`
	Schema string `mapstructure:"schema"`
}

// Open builds the store selected by cfg.Driver. The returned close func releases
// any connections the store holds and is never nil.
func Open(ctx context.Context, cfg Config) (Store, func(), error) {
	switch cfg.Driver {
	case "", DriverFile:
		store, err := NewFileStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Using file registry", "path", cfg.Path)
		return store, func() {}, nil
	case DriverPostgres:
		if err := db.RunMigrations(cfg.DB.Url, cfg.DB.Schema); err != nil {
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		pool, err := db.InitDB(ctx, cfg.DB.Url, cfg.DB.Schema)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Using PostgreSQL registry", "schema", cfg.DB.Schema)
		return NewPostgresStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
