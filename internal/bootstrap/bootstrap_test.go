package bootstrap

import (
	"context"
	"testing"

	"github.com/lyzr/workflowcore/internal/config"
	"github.com/lyzr/workflowcore/internal/logging"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Service:  config.ServiceConfig{Name: "test", Port: 8080},
		Database: config.DatabaseConfig{Host: "localhost", MaxConns: 10, MinConns: 1},
		Engine:   config.EngineConfig{MaxParallel: 1},
	}
}

func TestSetupSkipsDatabaseAndRedisWhenRequested(t *testing.T) {
	c, err := Setup(context.Background(), "test-service",
		WithConfig(testConfig()),
		WithLogger(logging.New("error", "json")),
		WithoutDatabase(),
		WithoutRedis(),
	)
	require.NoError(t, err)
	require.Nil(t, c.Repo)
	require.Nil(t, c.Redis)
}

func TestShutdownRunsCleanupInLIFOOrder(t *testing.T) {
	c, err := Setup(context.Background(), "test-service",
		WithConfig(testConfig()),
		WithLogger(logging.New("error", "json")),
		WithoutDatabase(),
		WithoutRedis(),
	)
	require.NoError(t, err)

	var order []int
	c.addCleanup(func() error { order = append(order, 1); return nil })
	c.addCleanup(func() error { order = append(order, 2); return nil })
	c.addCleanup(func() error { order = append(order, 3); return nil })

	require.NoError(t, c.Shutdown(context.Background()))
	require.Equal(t, []int{3, 2, 1}, order)
}

func TestHealthIsNilWhenNoComponentsAreWired(t *testing.T) {
	c, err := Setup(context.Background(), "test-service",
		WithConfig(testConfig()),
		WithLogger(logging.New("error", "json")),
		WithoutDatabase(),
		WithoutRedis(),
	)
	require.NoError(t, err)
	require.NoError(t, c.Health(context.Background()))
}
