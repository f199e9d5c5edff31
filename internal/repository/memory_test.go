package repository

import (
	"context"
	"testing"

	"github.com/lyzr/workflowcore/internal/model"
	"github.com/stretchr/testify/require"
)

func TestMemoryClaimRunIsExclusive(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()

	run := &model.WorkflowRun{ID: "run-1", WorkflowID: "wf-1", TenantID: "t1", Status: model.RunPending}
	require.NoError(t, repo.CreateRun(ctx, run))

	ok, epoch, err := repo.ClaimRun(ctx, "run-1", "worker-a", nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), epoch)

	ok, _, err = repo.ClaimRun(ctx, "run-1", "worker-b", nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryUpdateStatusCASRejectsStaleEpoch(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()

	run := &model.WorkflowRun{ID: "run-1", Status: model.RunPending}
	require.NoError(t, repo.CreateRun(ctx, run))
	_, epoch, err := repo.ClaimRun(ctx, "run-1", "worker-a", nil)
	require.NoError(t, err)

	ok, err := repo.UpdateStatusCAS(ctx, "run-1", model.RunRunning, model.RunCompleted, epoch+1, "")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = repo.UpdateStatusCAS(ctx, "run-1", model.RunRunning, model.RunCompleted, epoch, "")
	require.NoError(t, err)
	require.True(t, ok)

	loaded, err := repo.LoadRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, model.RunCompleted, loaded.Status)
	require.NotNil(t, loaded.EndedAt)
}

func TestMemorySaveNodeResultIsVisibleOnLoadRun(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()

	run := &model.WorkflowRun{ID: "run-1", Status: model.RunPending}
	require.NoError(t, repo.CreateRun(ctx, run))

	require.NoError(t, repo.SaveNodeResult(ctx, model.NodeExecutionResult{
		RunID: "run-1", NodeID: "n1", Status: model.NodeSuccess, Attempt: 1, Output: "ok",
	}))

	loaded, err := repo.LoadRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, loaded.NodeResults, 1)
	require.Equal(t, model.NodeSuccess, loaded.NodeResults["n1"].Status)
}

func TestMemoryListByWorkflowFiltersAndLimits(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.CreateRun(ctx, &model.WorkflowRun{ID: id, WorkflowID: "wf-1", Status: model.RunPending}))
	}
	require.NoError(t, repo.CreateRun(ctx, &model.WorkflowRun{ID: "d", WorkflowID: "wf-2", Status: model.RunPending}))

	runs, err := repo.ListByWorkflow(ctx, "wf-1", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
}
