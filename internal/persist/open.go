package persist

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/config"
)

// Open builds the full persistence stack from config: the chosen durable
// backend, the optional TTL cache on top of it, and the write coalescer on
// top of that.
func Open(ctx context.Context, cfg config.Config, log *zap.Logger) (*Coalescer, error) {
	var (
		durable PlayerRepository
		err     error
	)
	switch cfg.Persistence.Backend {
	case config.BackendFile:
		durable, err = NewFileRepo(cfg.Persistence.FileDir, log)
	case config.BackendSQL:
		durable, err = NewSQLRepo(ctx, cfg.Persistence, log)
	default:
		err = fmt.Errorf("persist: unknown backend %q", cfg.Persistence.Backend)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Cache.Enabled {
		durable = NewCached(durable, cfg.Cache.Size, cfg.Cache.TTL.Duration, log)
	}
	return NewCoalescer(durable, cfg.Persistence.FlushInterval.Duration, log), nil
}
