package store

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/masa-finance/lead-worker/internal/config"
)

// New returns the backend named in the configuration.
func New(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		logrus.Info("Using in-memory lead store")
		return NewMemoryStore(), nil
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("STORE_BACKEND=postgres requires PG_DSN")
		}
		return OpenPostgres(ctx, cfg.DSN, cfg.MaxConns)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
