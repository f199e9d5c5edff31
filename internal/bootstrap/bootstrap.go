// Package bootstrap wires up the shared process dependencies (config,
// logger, Redis, Postgres) behind a functional-options Setup call, the way
// the reference orchestrator's common/bootstrap package does for every one
// of its services.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/lyzr/workflowcore/internal/config"
	"github.com/lyzr/workflowcore/internal/logging"
	"github.com/lyzr/workflowcore/internal/redisx"
	"github.com/lyzr/workflowcore/internal/repository"
)

// Setup loads configuration, builds a logger, and connects to Postgres and
// Redis unless the caller opted out of either. It is the single entry
// point both cmd/apiserver and cmd/worker call before constructing their
// own service-specific wiring.
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	c := &Components{}

	if o.customConfig != nil {
		c.Config = o.customConfig
	} else {
		cfg, err := config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load config: %w", err)
		}
		c.Config = cfg
	}

	if o.customLogger != nil {
		c.Logger = o.customLogger
	} else {
		c.Logger = logging.New(c.Config.Service.LogLevel, c.Config.Service.LogFormat)
	}
	c.Logger.Info("initializing service", "service", serviceName, "environment", c.Config.Service.Environment)

	if !o.skipDatabase {
		c.Logger.Info("connecting to database", "host", c.Config.Database.Host, "database", c.Config.Database.Database)
		repo, err := repository.New(ctx, &c.Config.Database, c.Config.DatabaseURL(), c.Logger)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: connect database: %w", err)
		}
		c.Repo = repo
		c.addCleanup(func() error {
			c.Logger.Info("closing database connection")
			repo.Close()
			return nil
		})
	}

	if !o.skipRedis {
		c.Logger.Info("connecting to redis", "addr", c.Config.Redis.Addr)
		raw := redis.NewClient(&redis.Options{
			Addr:     c.Config.Redis.Addr,
			Password: c.Config.Redis.Password,
			DB:       c.Config.Redis.DB,
		})
		if err := raw.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("bootstrap: connect redis: %w", err)
		}
		c.Redis = redisx.NewClient(raw, c.Logger)
		c.addCleanup(func() error {
			c.Logger.Info("closing redis connection")
			return raw.Close()
		})
	}

	c.Logger.Info("service initialization complete", "service", serviceName, "database", c.Repo != nil, "redis", c.Redis != nil)
	return c, nil
}

// MustSetup is like Setup but panics on error, for main functions that
// can't recover from a failed startup.
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	c, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("bootstrap: failed to set up %s: %v", serviceName, err))
	}
	return c
}
