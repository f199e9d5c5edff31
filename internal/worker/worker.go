// Package worker implements the consumer loop a worker process runs:
// decode a queued run, claim it, load its workflow snapshot, build a plan,
// hand it to the execution engine, persist the terminal status, and
// acknowledge the queue message — grounded on the reference's
// executor/run_request_consumer.go XREADGROUP/XACK loop, generalized from
// its token-emission model to driving engine.Execute directly.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/workflowcore/internal/backpressure"
	"github.com/lyzr/workflowcore/internal/engine"
	"github.com/lyzr/workflowcore/internal/logging"
	"github.com/lyzr/workflowcore/internal/model"
	"github.com/lyzr/workflowcore/internal/queue"
	"github.com/lyzr/workflowcore/internal/repository"
)

// PlanBuilder builds an ExecutionPlan for a workflow, validating it against
// the connector registry and credential resolver (engine.BuildPlan).
type PlanBuilder func(ctx context.Context, wf *model.Workflow) (*engine.ExecutionPlan, error)

// Executor runs a built plan against a claimed run (engine.Engine.Execute).
type Executor func(ctx context.Context, run *model.WorkflowRun, plan *engine.ExecutionPlan) (model.RunStatus, error)

// Worker runs the consumer loop for one queue partition.
type Worker struct {
	Queue   queue.Queue
	Repo    repository.Repository
	Gate    *backpressure.Gate
	Build   PlanBuilder
	Execute Executor

	Stream        string
	ConsumerGroup string
	ConsumerName  string

	// CancelPollInterval is how often handle checks the run record for
	// cancellation intent while Execute is in flight. Defaults to 500ms.
	CancelPollInterval time.Duration

	Logger *logging.Logger
}

// NewConsumerName builds a unique consumer name the way the reference
// orchestrator's executor_<uuid prefix> convention does, so multiple
// worker processes sharing a consumer group never collide.
func NewConsumerName(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.New().String()[:8])
}

// Run processes messages until ctx is cancelled. Each poll either handles
// one message or, finding none, loops back around — the reference's
// "continue on empty read" behavior, minus the blind one-second sleep on
// error since Consume's own block duration already paces empty polls.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.Queue.EnsureGroup(ctx, w.ConsumerGroup); err != nil {
		return fmt.Errorf("worker: ensure consumer group: %w", err)
	}
	w.Logger.Info("worker starting", "stream", w.Stream, "consumer_group", w.ConsumerGroup, "consumer", w.ConsumerName)

	for {
		select {
		case <-ctx.Done():
			w.Logger.Info("worker stopping")
			return nil
		default:
		}

		if w.Gate != nil {
			ok, _, err := w.Gate.TryAcquire(ctx)
			if err != nil {
				w.Logger.Error("backpressure check failed", "error", err)
				continue
			}
			if !ok {
				continue
			}
		}

		if err := w.processNext(ctx); err != nil {
			w.Logger.Error("failed to process message", "error", err)
		}
	}
}

func (w *Worker) processNext(ctx context.Context) error {
	if w.Gate != nil {
		defer w.Gate.Release(ctx)
	}

	delivery, ok, err := w.Queue.Consume(ctx, w.ConsumerGroup, w.ConsumerName)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	if !ok {
		return nil
	}

	if err := w.handle(ctx, delivery.Message); err != nil {
		w.Logger.Error("failed to handle run", "run_id", delivery.Message.RunID, "error", err)
		// Fall through to ack regardless. For a missing workflow snapshot
		// or a failed plan build, handle has already recorded RunFailed;
		// for the other errors it returns (claim, run load, terminal-status
		// write) the run record keeps whatever status it had.
	}

	if err := w.Queue.Ack(ctx, w.ConsumerGroup, delivery.ID); err != nil {
		return fmt.Errorf("ack %s: %w", delivery.ID, err)
	}
	return nil
}

func (w *Worker) handle(ctx context.Context, msg model.RunMessage) error {
	claimed, epoch, err := w.Repo.ClaimRun(ctx, msg.RunID, w.ConsumerName, nil)
	if err != nil {
		return fmt.Errorf("claim run %s: %w", msg.RunID, err)
	}
	if !claimed {
		w.Logger.Info("run already claimed or not pending, skipping", "run_id", msg.RunID)
		return nil
	}

	run, err := w.Repo.LoadRun(ctx, msg.RunID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", msg.RunID, err)
	}

	wf, err := w.Repo.LoadWorkflow(ctx, run.TenantID, run.WorkflowID, run.WorkflowVersion)
	if err != nil {
		// The run is claimed but can never execute; fail it so it doesn't
		// stay Running forever and trip the reconciliation sweep.
		_, _ = w.Repo.UpdateStatusCAS(ctx, run.ID, model.RunRunning, model.RunFailed, epoch,
			fmt.Sprintf("workflow snapshot not found: %v", err))
		return fmt.Errorf("load workflow %s/%d: %w", run.WorkflowID, run.WorkflowVersion, err)
	}

	plan, err := w.Build(ctx, wf)
	if err != nil {
		_, _ = w.Repo.UpdateStatusCAS(ctx, run.ID, model.RunRunning, model.RunFailed, epoch,
			fmt.Sprintf("plan validation failed: %v", err))
		return fmt.Errorf("build plan for workflow %s/%d: %w", wf.ID, wf.Version, err)
	}

	runCtx, stopWatch := w.watchCancellation(ctx, run.ID)
	defer stopWatch()

	status, runErr := w.Execute(runCtx, run, plan)
	errMessage := ""
	if runErr != nil {
		errMessage = runErr.Error()
	}

	ok, err := w.Repo.UpdateStatusCAS(ctx, run.ID, model.RunRunning, status, epoch, errMessage)
	if err != nil {
		return fmt.Errorf("record terminal status for run %s: %w", run.ID, err)
	}
	if !ok {
		w.Logger.Warn("terminal status write lost the epoch race, another worker took over", "run_id", run.ID)
		return nil
	}

	w.Logger.Info("run finished", "run_id", run.ID, "status", status)
	return nil
}

// watchCancellation derives a context from ctx that is cancelled as soon as
// the run's CancelRequested flag is observed set, so cancelRun(runId)
// actually interrupts an in-flight execution instead of only being noticed
// once the run finishes on its own (spec §4.1, "the worker observes [it]
// between nodes"). The caller must invoke the returned stop func once
// Execute returns to release the polling goroutine.
func (w *Worker) watchCancellation(ctx context.Context, runID string) (context.Context, func()) {
	runCtx, cancel := context.WithCancel(ctx)

	interval := w.CancelPollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-runCtx.Done():
				return
			case <-ticker.C:
				run, err := w.Repo.LoadRun(ctx, runID)
				if err != nil {
					continue
				}
				if run.CancelRequested {
					cancel()
					return
				}
			}
		}
	}()

	return runCtx, func() {
		close(stop)
		cancel()
	}
}
