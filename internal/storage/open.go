// Package storage selects and opens the configured entity store backend.
package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/socialgraph-crawler/internal/crawler"
	"github.com/JakeFAU/socialgraph-crawler/internal/storage/memory"
	"github.com/JakeFAU/socialgraph-crawler/internal/storage/postgres"
	"github.com/JakeFAU/socialgraph-crawler/internal/storage/sqlite"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config selects a backend and carries its connection settings.
type Config struct {
	Driver          string
	DSN             string
	Path            string
	MaxConns        int
	MaxConnLifetime time.Duration
	CacheSize       int
}

// Open returns the store for cfg.Driver. The caller owns Close.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (crawler.Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("store").With(zap.String("driver", cfg.Driver))

	switch cfg.Driver {
	case DriverPostgres:
		store, err := postgres.NewStore(ctx, postgres.Config{
			DSN:             cfg.DSN,
			MaxConns:        int32(cfg.MaxConns), //nolint:gosec // bounded by config validation
			MaxConnLifetime: cfg.MaxConnLifetime,
			CacheSize:       cfg.CacheSize,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		logger.Info("using postgres entity store")
		return store, nil
	case DriverSQLite:
		store, err := sqlite.Open(sqlite.Config{
			Path:         cfg.Path,
			MaxOpenConns: cfg.MaxConns,
			CacheSize:    cfg.CacheSize,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		logger.Info("using sqlite entity store", zap.String("path", cfg.Path))
		return store, nil
	case DriverMemory:
		logger.Warn("using in-memory entity store; crawl progress is lost on exit")
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
