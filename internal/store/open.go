package store

import (
	"context"
	"fmt"
	"log/slog"

	"visadesk/internal/config"
	"visadesk/internal/domain"
)

// Open builds the credential store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (domain.TokenStore, error) {
	switch cfg.Backend {
	case "", "sqlite":
		return NewSQLiteStore(config.ExpandPath(cfg.DBPath), logger)
	case "redis":
		return NewRedisStore(ctx, cfg.RedisURL, cfg.RedisKey)
	case "memory":
		return NewMemoryStore(domain.Credential{}), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
