package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/lyzr/workflowcore/internal/dispatcher"
	"github.com/lyzr/workflowcore/internal/engine"
	"github.com/lyzr/workflowcore/internal/engine/completion"
	"github.com/lyzr/workflowcore/internal/logging"
	"github.com/lyzr/workflowcore/internal/model"
	"github.com/lyzr/workflowcore/internal/repository"
)

// SubWorkflowDispatcher runs a Sub-workflow control-flow node by enqueuing
// the child run onto the same queue any other run would go through — so it
// is load-balanced across the worker pool like any top-level run, not run
// in-process inline — and blocking until it reaches a terminal status.
// This is the cross-process join completion.Tracker exists for: the child
// may land on a different worker process than the one that dispatched it.
type SubWorkflowDispatcher struct {
	Dispatcher *dispatcher.Dispatcher
	Repo       repository.Repository
	Completion *completion.Tracker
	Logger     *logging.Logger

	PollInterval time.Duration
}

// Run implements engine.SubWorkflowRunner.
func (s *SubWorkflowDispatcher) Run(ctx context.Context, parent *model.WorkflowRun, spec *model.SubWorkflowSpec, input model.JSON) (model.JSON, model.RunStatus, error) {
	if spec.Version <= 0 {
		return nil, "", fmt.Errorf("subworkflow: %s requires an explicit version, \"latest\" resolution is not supported", spec.WorkflowID)
	}

	wf, err := s.Repo.LoadWorkflow(ctx, parent.TenantID, spec.WorkflowID, spec.Version)
	if err != nil {
		return nil, "", fmt.Errorf("subworkflow: load %s/%d: %w", spec.WorkflowID, spec.Version, err)
	}

	childRunID, err := s.Dispatcher.EnqueueChildRun(ctx, wf, input, parent.ID)
	if err != nil {
		return nil, "", fmt.Errorf("subworkflow: enqueue %s/%d: %w", spec.WorkflowID, spec.Version, err)
	}

	if s.Completion != nil {
		if _, err := s.Completion.Expect(ctx, parent.ID, "subworkflow:"+childRunID, 1); err != nil {
			return nil, "", fmt.Errorf("subworkflow: register expectation for %s: %w", childRunID, err)
		}
	}

	interval := s.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	for {
		run, err := s.Repo.LoadRun(ctx, childRunID)
		if err != nil {
			return nil, "", fmt.Errorf("subworkflow: load child run %s: %w", childRunID, err)
		}
		if run.Status.IsTerminal() {
			if s.Completion != nil {
				if _, err := s.Completion.Resolve(ctx, parent.ID, childRunID); err != nil {
					return nil, "", fmt.Errorf("subworkflow: resolve completion for %s: %w", childRunID, err)
				}
			}
			return childOutput(run), run.Status, nil
		}

		select {
		case <-ctx.Done():
			// Cancellation propagates parent -> child (spec §4.3.6, §9): the
			// child keeps running unless told otherwise, so cascade the
			// cancel before giving up on it. ctx is already done, so the
			// cascade call needs its own, uncancelled context.
			if _, cancelErr := s.Dispatcher.CancelRun(context.WithoutCancel(ctx), childRunID); cancelErr != nil && s.Logger != nil {
				s.Logger.Error("subworkflow: failed to cascade cancel child run", "parent_run_id", parent.ID, "child_run_id", childRunID, "error", cancelErr)
			}
			return nil, "", ctx.Err()
		case <-time.After(interval):
		}
	}
}

// childOutput collects the child run's terminal node outputs so the parent
// node's result carries something concrete rather than an empty object —
// the sub-workflow's own node results remain independently queryable via
// getRunLogs(childRunID).
func childOutput(run *model.WorkflowRun) model.JSON {
	outputs := make(map[string]model.JSON, len(run.NodeResults))
	for nodeID, result := range run.NodeResults {
		outputs[nodeID] = result.Output
	}
	return outputs
}

// AsEngineRunner adapts SubWorkflowDispatcher to engine.SubWorkflowRunner's
// function type.
func (s *SubWorkflowDispatcher) AsEngineRunner() engine.SubWorkflowRunner {
	return s.Run
}
