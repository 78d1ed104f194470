package repository

import (
	"context"
	"fmt"

	"github.com/iconidentify/vidyodl/internal/config"
)

// Open returns the job store selected by cfg.Store.
func Open(ctx context.Context, cfg config.JobsConfig) (JobRepository, error) {
	switch cfg.Store {
	case "", "memory":
		return NewInMemoryJobRepository(), nil
	case "sqlite":
		return NewSQLiteJobRepository(cfg.SQLitePath)
	case "redis":
		return NewRedisJobRepository(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown job store %q", cfg.Store)
	}
}
