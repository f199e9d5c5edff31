package bootstrap

import (
	"github.com/lyzr/workflowcore/internal/config"
	"github.com/lyzr/workflowcore/internal/logging"
)

// Option configures Setup. Grounded on the reference's functional-options
// bootstrap, narrowed to the toggles this core's two processes (apiserver,
// worker) actually need.
type Option func(*options)

type options struct {
	skipDatabase bool
	skipRedis    bool
	customConfig *config.Config
	customLogger *logging.Logger
}

func defaultOptions() *options {
	return &options{}
}

// WithoutDatabase skips Postgres connection setup, for processes or tests
// that only need the in-memory repository.
func WithoutDatabase() Option {
	return func(o *options) { o.skipDatabase = true }
}

// WithoutRedis skips Redis client setup, for processes or tests that only
// need in-memory queue/CAS/backpressure doubles.
func WithoutRedis() Option {
	return func(o *options) { o.skipRedis = true }
}

// WithConfig injects a pre-built config instead of loading from env.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.customConfig = cfg }
}

// WithLogger injects a pre-built logger instead of creating one from config.
func WithLogger(logger *logging.Logger) Option {
	return func(o *options) { o.customLogger = logger }
}
