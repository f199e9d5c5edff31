package bootstrap

import (
	"context"
	"fmt"

	"github.com/lyzr/workflowcore/internal/config"
	"github.com/lyzr/workflowcore/internal/logging"
	"github.com/lyzr/workflowcore/internal/redisx"
	"github.com/lyzr/workflowcore/internal/repository"
)

// Components holds every process-wide dependency Setup can construct.
// Repo is nil when WithoutDatabase is passed (the caller is expected to
// substitute repository.NewMemory() for tests); Redis is nil when
// WithoutRedis is passed.
type Components struct {
	Config *config.Config
	Logger *logging.Logger
	Redis  *redisx.Client
	Repo   *repository.Postgres

	cleanupFuncs []func() error
}

func (c *Components) addCleanup(fn func() error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}

// Shutdown runs registered cleanup in LIFO order, mirroring the reference's
// bootstrap.Components.Shutdown so the last thing brought up is the first
// thing torn down (e.g. the queue consumer group before the connection it
// runs over).
func (c *Components) Shutdown(_ context.Context) error {
	c.Logger.Info("shutting down components")
	var errs []error
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			errs = append(errs, err)
			c.Logger.Error("cleanup error", "error", err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	c.Logger.Info("shutdown complete")
	return nil
}

// Health reports whether every initialized component is reachable.
func (c *Components) Health(ctx context.Context) error {
	if c.Repo != nil {
		if err := c.Repo.Health(ctx); err != nil {
			return fmt.Errorf("database unhealthy: %w", err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Raw.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis unhealthy: %w", err)
		}
	}
	return nil
}
