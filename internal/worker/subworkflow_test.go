package worker

import (
	"context"
	"testing"
	"time"

	"github.com/lyzr/workflowcore/internal/dispatcher"
	"github.com/lyzr/workflowcore/internal/logging"
	"github.com/lyzr/workflowcore/internal/model"
	"github.com/lyzr/workflowcore/internal/queue"
	"github.com/lyzr/workflowcore/internal/repository"
	"github.com/stretchr/testify/require"
)

func TestSubWorkflowRunnerWaitsForChildCompletion(t *testing.T) {
	repo := repository.NewMemory()
	q := queue.NewMemoryQueue()
	d := &dispatcher.Dispatcher{Repo: repo, Queue: q, ConsumerGroup: "workers", Logger: logging.New("error", "json")}
	ctx := context.Background()

	childWF := &model.Workflow{ID: "child-wf", TenantID: "tenant-a", Version: 1}
	require.NoError(t, repo.SaveWorkflow(ctx, childWF))

	parent := &model.WorkflowRun{ID: "parent-run", TenantID: "tenant-a", Status: model.RunRunning}
	require.NoError(t, repo.CreateRun(ctx, parent))

	runner := &SubWorkflowDispatcher{Dispatcher: d, Repo: repo, PollInterval: 10 * time.Millisecond}

	done := make(chan struct{})
	var output model.JSON
	var status model.RunStatus
	var runErr error
	go func() {
		output, status, runErr = runner.Run(ctx, parent, &model.SubWorkflowSpec{WorkflowID: "child-wf", Version: 1}, map[string]any{"x": 1})
		close(done)
	}()

	// Simulate a worker process elsewhere claiming and completing the child.
	time.Sleep(20 * time.Millisecond)
	_, ok, err := q.Consume(ctx, "workers", "w1")
	require.NoError(t, err)
	require.True(t, ok)

	runs, err := repo.ListByStatus(ctx, model.RunPending, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	childRunID := runs[0].ID

	epoch, claimed := claimAndComplete(t, repo, childRunID)
	require.True(t, claimed)
	_ = epoch

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subworkflow runner did not observe child completion")
	}

	require.NoError(t, runErr)
	require.Equal(t, model.RunCompleted, status)
	require.NotNil(t, output)
}

func claimAndComplete(t *testing.T, repo repository.Repository, runID string) (int64, bool) {
	t.Helper()
	ok, epoch, err := repo.ClaimRun(context.Background(), runID, "other-worker", nil)
	require.NoError(t, err)
	if !ok {
		return 0, false
	}
	ok, err = repo.UpdateStatusCAS(context.Background(), runID, model.RunRunning, model.RunCompleted, epoch, "")
	require.NoError(t, err)
	return epoch, ok
}

// Spec §4.3.6/§9: cancelling the parent while it is waiting on a child must
// cascade and cancel the child run too, not just abandon the poll.
func TestSubWorkflowRunnerCascadesCancellationToChild(t *testing.T) {
	repo := repository.NewMemory()
	q := queue.NewMemoryQueue()
	d := &dispatcher.Dispatcher{Repo: repo, Queue: q, ConsumerGroup: "workers", Logger: logging.New("error", "json")}
	ctx := context.Background()

	childWF := &model.Workflow{ID: "child-wf", TenantID: "tenant-a", Version: 1}
	require.NoError(t, repo.SaveWorkflow(ctx, childWF))

	parent := &model.WorkflowRun{ID: "parent-run", TenantID: "tenant-a", Status: model.RunRunning}
	require.NoError(t, repo.CreateRun(ctx, parent))

	runner := &SubWorkflowDispatcher{Dispatcher: d, Repo: repo, PollInterval: 10 * time.Millisecond}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	var runErr error
	go func() {
		_, _, runErr = runner.Run(runCtx, parent, &model.SubWorkflowSpec{WorkflowID: "child-wf", Version: 1}, map[string]any{"x": 1})
		close(done)
	}()

	// Let the child run get enqueued before the parent gives up on it.
	var childRunID string
	require.Eventually(t, func() bool {
		runs, err := repo.ListByStatus(ctx, model.RunPending, 10)
		require.NoError(t, err)
		if len(runs) == 0 {
			return false
		}
		childRunID = runs[0].ID
		return true
	}, time.Second, 5*time.Millisecond)

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subworkflow runner did not return after parent cancellation")
	}
	require.ErrorIs(t, runErr, context.Canceled)

	require.Eventually(t, func() bool {
		child, err := repo.LoadRun(context.Background(), childRunID)
		require.NoError(t, err)
		return child.Status == model.RunCancelled
	}, time.Second, 5*time.Millisecond, "child run must be cancelled once the parent gives up on it")

	child, err := repo.LoadRun(context.Background(), childRunID)
	require.NoError(t, err)
	require.Equal(t, parent.ID, child.ParentRunID)
}

func TestSubWorkflowRunnerRejectsUnversionedSpec(t *testing.T) {
	repo := repository.NewMemory()
	q := queue.NewMemoryQueue()
	d := &dispatcher.Dispatcher{Repo: repo, Queue: q, ConsumerGroup: "workers", Logger: logging.New("error", "json")}
	runner := &SubWorkflowDispatcher{Dispatcher: d, Repo: repo}

	parent := &model.WorkflowRun{ID: "parent-run", TenantID: "tenant-a"}
	_, _, err := runner.Run(context.Background(), parent, &model.SubWorkflowSpec{WorkflowID: "child-wf", Version: 0}, nil)
	require.Error(t, err)
}
