// Package repository is the durable store for workflow snapshots, runs and
// node results: the one place a worker process's in-memory state survives a
// crash. It implements engine.ResultStore so the execution engine writes
// node outcomes straight through it.
package repository

import (
	"context"

	"github.com/lyzr/workflowcore/internal/model"
)

// WorkflowStore holds immutable-per-version workflow snapshots.
type WorkflowStore interface {
	SaveWorkflow(ctx context.Context, wf *model.Workflow) error
	LoadWorkflow(ctx context.Context, tenantID, workflowID string, version int) (*model.Workflow, error)
}

// RunStore holds workflow run records.
type RunStore interface {
	CreateRun(ctx context.Context, run *model.WorkflowRun) error
	LoadRun(ctx context.Context, runID string) (*model.WorkflowRun, error)

	// ClaimRun atomically transitions a Pending run to Running under a new
	// ClaimEpoch, owned by workerID. ok is false if the run was not Pending
	// (already claimed, cancelled, or otherwise not claimable) — the caller
	// must not proceed to execute it.
	ClaimRun(ctx context.Context, runID, workerID string, now model.JSON) (ok bool, epoch int64, err error)

	// UpdateStatusCAS moves a run to next only if its current status and
	// ClaimEpoch still match expected/epoch, preventing a fenced-off worker
	// from clobbering a run another worker has since claimed.
	UpdateStatusCAS(ctx context.Context, runID string, expected model.RunStatus, next model.RunStatus, epoch int64, errMessage string) (ok bool, err error)

	RequestCancellation(ctx context.Context, runID string) error

	ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*model.WorkflowRun, error)
	ListByStatus(ctx context.Context, status model.RunStatus, limit int) ([]*model.WorkflowRun, error)
}

// NodeResultStore holds per-(run,node) execution results and their
// attempt history.
type NodeResultStore interface {
	SaveNodeResult(ctx context.Context, result model.NodeExecutionResult) error
	LoadNodeResults(ctx context.Context, runID string) (map[string]model.NodeExecutionResult, error)
}

// Repository is the full durability surface a worker or dispatcher needs.
type Repository interface {
	WorkflowStore
	RunStore
	NodeResultStore
}
