// Command worker runs the run-execution consumer loop: it pulls queued runs
// off the run-request stream, builds an execution plan, drives the engine,
// and persists results, per the reference's cmd/workflow-runner/main.go
// wiring shape adapted onto this core's bootstrap/dispatcher/worker/engine
// packages.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lyzr/workflowcore/internal/adapter/flowshim"
	"github.com/lyzr/workflowcore/internal/adapter/httpadapter"
	"github.com/lyzr/workflowcore/internal/adapter/notifyadapter"
	"github.com/lyzr/workflowcore/internal/backpressure"
	"github.com/lyzr/workflowcore/internal/bootstrap"
	"github.com/lyzr/workflowcore/internal/credential"
	"github.com/lyzr/workflowcore/internal/dispatcher"
	"github.com/lyzr/workflowcore/internal/engine"
	"github.com/lyzr/workflowcore/internal/engine/completion"
	"github.com/lyzr/workflowcore/internal/expr"
	"github.com/lyzr/workflowcore/internal/model"
	"github.com/lyzr/workflowcore/internal/queue"
	"github.com/lyzr/workflowcore/internal/registry"
	"github.com/lyzr/workflowcore/internal/worker"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components, err := bootstrap.Setup(ctx, "worker")
	if err != nil {
		os.Stderr.WriteString("failed to setup service: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer components.Shutdown(ctx)
	log := components.Logger

	reg := registry.New()
	reg.Register("http.request", httpadapter.New(30*time.Second))
	reg.Register("notify.log", notifyadapter.New(log))
	flowshim.RegisterAll(reg)
	reg.Seal()

	q := queue.NewRedisQueue(components.Redis, components.Config.Queue.Stream, 5*time.Second)
	credResolver := credential.NewRedisResolver(components.Redis)

	d := &dispatcher.Dispatcher{
		Repo:          components.Repo,
		Queue:         q,
		Stream:        components.Config.Queue.Stream,
		ConsumerGroup: components.Config.Queue.ConsumerGroup,
		Logger:        log,
	}

	subRunner := &worker.SubWorkflowDispatcher{
		Dispatcher: d,
		Repo:       components.Repo,
		Completion: completion.NewTracker(components.Redis),
		Logger:     log,
	}

	eng := &engine.Engine{
		Registry:           reg,
		Evaluator:          expr.New(),
		Credentials:        credResolver,
		Results:            components.Repo,
		SubWorkflow:        subRunner.AsEngineRunner(),
		MaxParallel:        components.Config.Engine.MaxParallel,
		DrainTimeout:       components.Config.Engine.DrainTimeout,
		DefaultNodeTimeout: components.Config.Engine.DefaultNodeTimeout,
		Logger:             log,
	}

	gate := backpressure.NewGate(components.Redis, "runs", int64(components.Config.Engine.MaxConcurrentRuns))

	w := &worker.Worker{
		Queue: q,
		Repo:  components.Repo,
		Gate:  gate,
		Build: func(ctx context.Context, wf *model.Workflow) (*engine.ExecutionPlan, error) {
			return engine.BuildPlan(ctx, wf, reg, credResolver)
		},
		Execute:       eng.Execute,
		Stream:        components.Config.Queue.Stream,
		ConsumerGroup: components.Config.Queue.ConsumerGroup,
		ConsumerName:  worker.NewConsumerName("worker"),
		Logger:        log,
	}

	go d.RunReconciler(ctx, components.Config.Queue.ReconcileEvery, components.Config.Queue.PendingGrace)

	errCh := make(chan error, 1)
	go func() {
		if err := w.Run(ctx); err != nil {
			errCh <- err
		}
	}()

	log.Info("worker started", "consumer", w.ConsumerName, "stream", w.Stream)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Error("worker failed", "error", err)
		cancel()
		os.Exit(1)
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig)
		cancel()
	}

	log.Info("worker shutting down gracefully")
}
