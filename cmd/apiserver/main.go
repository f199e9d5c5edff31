// Command apiserver binds the run-surface operations (enqueueRun, getRun,
// listRuns, getRunLogs, cancelRun) to HTTP routes over internal/dispatcher,
// per the reference's cmd/orchestrator routes/handlers split — no CRUD,
// auth, RBAC, or dashboard surface.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/lyzr/workflowcore/internal/bootstrap"
	"github.com/lyzr/workflowcore/internal/dispatcher"
	"github.com/lyzr/workflowcore/internal/queue"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := bootstrap.Setup(ctx, "apiserver")
	if err != nil {
		os.Stderr.WriteString("failed to setup service: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer components.Shutdown(ctx)
	log := components.Logger

	q := queue.NewRedisQueue(components.Redis, components.Config.Queue.Stream, 5*time.Second)
	d := &dispatcher.Dispatcher{
		Repo:          components.Repo,
		Queue:         q,
		Stream:        components.Config.Queue.Stream,
		ConsumerGroup: components.Config.Queue.ConsumerGroup,
		Logger:        log,
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	h := &RunHandler{Dispatcher: d, Repo: components.Repo, Logger: log}
	RegisterRunRoutes(e, h)

	addr := ":" + strconv.Itoa(components.Config.Service.Port)
	go func() {
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Error("apiserver failed", "error", err)
			cancel()
		}
	}()
	log.Info("apiserver started", "addr", addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("received shutdown signal")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("apiserver shutdown error", "error", err)
	}
}
