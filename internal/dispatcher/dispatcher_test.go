package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/lyzr/workflowcore/internal/logging"
	"github.com/lyzr/workflowcore/internal/model"
	"github.com/lyzr/workflowcore/internal/queue"
	"github.com/lyzr/workflowcore/internal/repository"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher() *Dispatcher {
	return &Dispatcher{
		Repo:          repository.NewMemory(),
		Queue:         queue.NewMemoryQueue(),
		ConsumerGroup: "workers",
		Logger:        logging.New("error", "json"),
	}
}

func testWorkflow() *model.Workflow {
	return &model.Workflow{ID: "wf-1", TenantID: "tenant-a", Version: 1}
}

func TestEnqueueRunCreatesAndPublishes(t *testing.T) {
	d := newTestDispatcher()
	ctx := context.Background()

	runID, err := d.EnqueueRun(ctx, testWorkflow(), map[string]any{"x": 1}, model.ModeManual)
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	run, err := d.GetRun(ctx, runID, "")
	require.NoError(t, err)
	require.Equal(t, model.RunPending, run.Status)

	delivery, ok, err := d.Queue.Consume(ctx, "workers", "w1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, runID, delivery.Message.RunID)
}

func TestGetRunEnforcesTenant(t *testing.T) {
	d := newTestDispatcher()
	ctx := context.Background()

	runID, err := d.EnqueueRun(ctx, testWorkflow(), nil, model.ModeManual)
	require.NoError(t, err)

	_, err = d.GetRun(ctx, runID, "other-tenant")
	require.Error(t, err)
}

func TestCancelRunIsFalseOnceTerminal(t *testing.T) {
	d := newTestDispatcher()
	ctx := context.Background()

	runID, err := d.EnqueueRun(ctx, testWorkflow(), nil, model.ModeManual)
	require.NoError(t, err)

	ok, epoch, err := d.Repo.ClaimRun(ctx, runID, "worker-a", nil)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = d.Repo.UpdateStatusCAS(ctx, runID, model.RunRunning, model.RunCompleted, epoch, "")
	require.NoError(t, err)
	require.True(t, ok)

	cancelled, err := d.CancelRun(ctx, runID)
	require.NoError(t, err)
	require.False(t, cancelled)
}

func TestCancelRunTransitionsPendingRunDirectlyToCancelled(t *testing.T) {
	d := newTestDispatcher()
	ctx := context.Background()

	runID, err := d.EnqueueRun(ctx, testWorkflow(), nil, model.ModeManual)
	require.NoError(t, err)

	cancelled, err := d.CancelRun(ctx, runID)
	require.NoError(t, err)
	require.True(t, cancelled)

	run, err := d.GetRun(ctx, runID, "")
	require.NoError(t, err)
	require.Equal(t, model.RunCancelled, run.Status)

	claimed, _, err := d.Repo.ClaimRun(ctx, runID, "worker-a", nil)
	require.NoError(t, err)
	require.False(t, claimed, "a run cancelled while pending must never be claimable")
}

func TestCancelRunRequestsCancellationWhileRunning(t *testing.T) {
	d := newTestDispatcher()
	ctx := context.Background()

	runID, err := d.EnqueueRun(ctx, testWorkflow(), nil, model.ModeManual)
	require.NoError(t, err)

	_, _, err = d.Repo.ClaimRun(ctx, runID, "worker-a", nil)
	require.NoError(t, err)

	cancelled, err := d.CancelRun(ctx, runID)
	require.NoError(t, err)
	require.True(t, cancelled)

	run, err := d.GetRun(ctx, runID, "")
	require.NoError(t, err)
	require.True(t, run.CancelRequested)
	require.Equal(t, model.RunRunning, run.Status)
}

func TestReconcileRequeuesStaleClaimedRuns(t *testing.T) {
	d := newTestDispatcher()
	ctx := context.Background()

	runID, err := d.EnqueueRun(ctx, testWorkflow(), nil, model.ModeManual)
	require.NoError(t, err)
	_, _, err = d.Queue.Consume(ctx, "workers", "w1")
	require.NoError(t, err)

	_, _, err = d.Repo.ClaimRun(ctx, runID, "worker-a", nil)
	require.NoError(t, err)

	d.Now = func() time.Time { return time.Now().Add(time.Hour) }
	n, err := d.Reconcile(ctx, 5*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	run, err := d.GetRun(ctx, runID, "")
	require.NoError(t, err)
	require.Equal(t, model.RunPending, run.Status)

	_, ok, err := d.Queue.Consume(ctx, "workers", "w1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestListRunsRequiresAFilter(t *testing.T) {
	d := newTestDispatcher()
	_, err := d.ListRuns(context.Background(), ListFilter{})
	require.Error(t, err)
}
