// Package dispatcher implements the run-surface spec.md §6 names as
// consumed by collaborators (enqueueRun, getRun, listRuns, getRunLogs,
// cancelRun): it creates run records, emits them onto the queue, answers
// status/log queries, and requests cancellation. It also runs a periodic
// reconciliation sweep that requeues runs claimed by a worker that has
// disappeared.
package dispatcher

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/workflowcore/internal/logging"
	"github.com/lyzr/workflowcore/internal/model"
	"github.com/lyzr/workflowcore/internal/queue"
	"github.com/lyzr/workflowcore/internal/repository"
)

// Dispatcher is the entry point collaborators use to start, inspect and
// cancel runs.
type Dispatcher struct {
	Repo  repository.Repository
	Queue queue.Queue

	Stream        string
	ConsumerGroup string

	Now  func() time.Time
	UUID func() string

	Logger *logging.Logger
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Dispatcher) newID() string {
	if d.UUID != nil {
		return d.UUID()
	}
	return uuid.New().String()
}

// EnqueueRun creates a new top-level run record Pending and publishes it
// onto the queue for a worker to claim.
func (d *Dispatcher) EnqueueRun(ctx context.Context, wf *model.Workflow, input model.JSON, mode model.RunMode) (string, error) {
	return d.enqueueRun(ctx, wf, input, mode, "")
}

// EnqueueChildRun is EnqueueRun for a run started by a Sub-workflow node:
// it records parentRunID on the child so a cancellation of the parent can
// be traced to the child it is waiting on (spec §4.3.6, §9).
func (d *Dispatcher) EnqueueChildRun(ctx context.Context, wf *model.Workflow, input model.JSON, parentRunID string) (string, error) {
	return d.enqueueRun(ctx, wf, input, model.ModeSubWorkflow, parentRunID)
}

func (d *Dispatcher) enqueueRun(ctx context.Context, wf *model.Workflow, input model.JSON, mode model.RunMode, parentRunID string) (string, error) {
	runID := d.newID()
	run := &model.WorkflowRun{
		ID:              runID,
		WorkflowID:      wf.ID,
		WorkflowVersion: wf.Version,
		TenantID:        wf.TenantID,
		Mode:            mode,
		Input:           input,
		Status:          model.RunPending,
		ParentRunID:     parentRunID,
	}
	if err := d.Repo.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("dispatcher: create run: %w", err)
	}

	msg := model.RunMessage{
		RunID:           runID,
		WorkflowID:      wf.ID,
		WorkflowVersion: wf.Version,
		TenantID:        wf.TenantID,
		Mode:            mode,
		Input:           input,
		QueuedAt:        d.now(),
	}
	if err := d.Queue.Enqueue(ctx, msg); err != nil {
		return "", fmt.Errorf("dispatcher: enqueue run %s: %w", runID, err)
	}

	d.Logger.Info("run enqueued", "run_id", runID, "workflow_id", wf.ID, "mode", mode)
	return runID, nil
}

// GetRun loads a run's current state, including node results.
func (d *Dispatcher) GetRun(ctx context.Context, runID, tenantID string) (*model.WorkflowRun, error) {
	run, err := d.Repo.LoadRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: get run %s: %w", runID, err)
	}
	if tenantID != "" && run.TenantID != tenantID {
		return nil, fmt.Errorf("dispatcher: run %s not found for tenant %s: %w", runID, tenantID, repository.ErrNotFound)
	}
	return run, nil
}

// ListFilter narrows a ListRuns query to one dimension at a time, matching
// spec.md §6's "listRuns(filter)".
type ListFilter struct {
	WorkflowID string
	Status     model.RunStatus
	Limit      int
}

// ListRuns answers listRuns(filter).
func (d *Dispatcher) ListRuns(ctx context.Context, filter ListFilter) ([]*model.WorkflowRun, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if filter.Status != "" {
		return d.Repo.ListByStatus(ctx, filter.Status, limit)
	}
	if filter.WorkflowID != "" {
		return d.Repo.ListByWorkflow(ctx, filter.WorkflowID, limit)
	}
	return nil, fmt.Errorf("dispatcher: listRuns requires a workflowId or status filter")
}

// GetRunLogs answers getRunLogs(runId): every node's current result,
// ordered deterministically by node ID.
func (d *Dispatcher) GetRunLogs(ctx context.Context, runID string) ([]model.NodeExecutionResult, error) {
	results, err := d.Repo.LoadNodeResults(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: get run logs %s: %w", runID, err)
	}
	out := make([]model.NodeExecutionResult, 0, len(results))
	for _, r := range results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out, nil
}

// CancelRun answers cancelRun(runId). A Pending run has no worker watching
// it yet, so it is transitioned straight to Cancelled rather than just
// flagged; a Running run instead has its cancellation intent recorded for
// the worker driving it to observe between node completions (spec §4.1,
// §4.3.5). Returns false if the run is already terminal.
func (d *Dispatcher) CancelRun(ctx context.Context, runID string) (bool, error) {
	run, err := d.Repo.LoadRun(ctx, runID)
	if err != nil {
		return false, fmt.Errorf("dispatcher: cancel run %s: %w", runID, err)
	}
	if run.Status.IsTerminal() {
		return false, nil
	}

	if run.Status == model.RunPending {
		ok, err := d.Repo.UpdateStatusCAS(ctx, runID, model.RunPending, model.RunCancelled, run.ClaimEpoch, "")
		if err != nil {
			return false, fmt.Errorf("dispatcher: cancel run %s: %w", runID, err)
		}
		if ok {
			d.Logger.Info("pending run cancelled directly", "run_id", runID)
			return true, nil
		}
		// Lost the race: a worker claimed the run between the load above
		// and this CAS. Fall through to the Running-case flag below so the
		// worker that now owns it still observes the intent.
	}

	if err := d.Repo.RequestCancellation(ctx, runID); err != nil {
		return false, fmt.Errorf("dispatcher: cancel run %s: %w", runID, err)
	}
	d.Logger.Info("run cancellation requested", "run_id", runID)
	return true, nil
}

// Reconcile requeues runs stuck Running for longer than staleAfter with no
// active claim renewal, on the assumption their worker crashed without
// releasing its backpressure slot or finishing the run. Grounded on the
// reference's claim-timestamp-based recovery: a run is only requeued, never
// force-completed, so the original worker's in-flight writes (if it is in
// fact still alive, just slow) can still land — the next claim simply bumps
// ClaimEpoch past them.
func (d *Dispatcher) Reconcile(ctx context.Context, staleAfter time.Duration) (int, error) {
	stale, err := d.Repo.ListByStatus(ctx, model.RunRunning, 0)
	if err != nil {
		return 0, fmt.Errorf("dispatcher: reconcile: list running: %w", err)
	}

	requeued := 0
	cutoff := d.now().Add(-staleAfter)
	for _, run := range stale {
		if run.ClaimedAt == nil || run.ClaimedAt.After(cutoff) {
			continue
		}
		ok, err := d.Repo.UpdateStatusCAS(ctx, run.ID, model.RunRunning, model.RunPending, run.ClaimEpoch, "")
		if err != nil {
			d.Logger.Error("reconcile: failed to reset run to pending", "run_id", run.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		msg := model.RunMessage{
			RunID:           run.ID,
			WorkflowID:      run.WorkflowID,
			WorkflowVersion: run.WorkflowVersion,
			TenantID:        run.TenantID,
			Mode:            run.Mode,
			Input:           run.Input,
			QueuedAt:        d.now(),
		}
		if err := d.Queue.Enqueue(ctx, msg); err != nil {
			d.Logger.Error("reconcile: failed to requeue run", "run_id", run.ID, "error", err)
			continue
		}
		d.Logger.Info("reconciled stale run", "run_id", run.ID, "claimed_at", run.ClaimedAt)
		requeued++
	}
	return requeued, nil
}

// RunReconciler polls Reconcile every interval until ctx is cancelled.
func (d *Dispatcher) RunReconciler(ctx context.Context, interval, staleAfter time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.Reconcile(ctx, staleAfter); err != nil {
				d.Logger.Error("reconciliation sweep failed", "error", err)
			}
		}
	}
}
