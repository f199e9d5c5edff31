package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lyzr/workflowcore/internal/credential"
	"github.com/lyzr/workflowcore/internal/engine"
	"github.com/lyzr/workflowcore/internal/expr"
	"github.com/lyzr/workflowcore/internal/logging"
	"github.com/lyzr/workflowcore/internal/model"
	"github.com/lyzr/workflowcore/internal/queue"
	"github.com/lyzr/workflowcore/internal/registry"
	"github.com/lyzr/workflowcore/internal/repository"
	"github.com/stretchr/testify/require"
)

// Scenario 6: a worker that crashes after node A's durable write but before
// node B finishes must not have A's adapter re-invoked when a replacement
// worker picks the run back up; the run reaches the same terminal state an
// uninterrupted execution would have.
func TestWorkerCrashAndRedeliveryDoesNotReinvokeCompletedNode(t *testing.T) {
	repo := repository.NewMemory()
	q := queue.NewMemoryQueue()

	reg := registry.New()
	var callsA, callsB int32
	reg.Register("nodeA", registry.AdapterFunc(func(actx registry.AdapterContext) (registry.AdapterResult, error) {
		atomic.AddInt32(&callsA, 1)
		return registry.AdapterResult{Success: true, Output: map[string]any{"a": true}}, nil
	}))
	reg.Register("nodeB", registry.AdapterFunc(func(actx registry.AdapterContext) (registry.AdapterResult, error) {
		atomic.AddInt32(&callsB, 1)
		return registry.AdapterResult{Success: true, Output: map[string]any{"b": true}}, nil
	}))
	reg.Seal()

	wf := &model.Workflow{
		ID: "wf-crash", TenantID: "tenant-a", Version: 1,
		Nodes: []model.Node{
			{ID: "a", Type: "nodeA"},
			{ID: "b", Type: "nodeB"},
		},
		Edges: []model.Edge{{From: "a", To: "b"}},
	}
	require.NoError(t, repo.SaveWorkflow(context.Background(), wf))

	run := &model.WorkflowRun{ID: "run-crash", WorkflowID: wf.ID, WorkflowVersion: wf.Version, TenantID: wf.TenantID, Status: model.RunPending}
	require.NoError(t, repo.CreateRun(context.Background(), run))
	require.NoError(t, q.Enqueue(context.Background(), model.RunMessage{RunID: run.ID, WorkflowID: wf.ID, WorkflowVersion: wf.Version, TenantID: wf.TenantID}))

	build := func(ctx context.Context, wf *model.Workflow) (*engine.ExecutionPlan, error) {
		return engine.BuildPlan(ctx, wf, reg, credential.NewMemoryResolver())
	}
	eng := &engine.Engine{Registry: reg, Evaluator: expr.New(), Credentials: credential.NewMemoryResolver(), Results: repo, MaxParallel: 2, DrainTimeout: time.Second, DefaultNodeTimeout: time.Second}

	w := &Worker{Queue: q, Repo: repo, Build: build, Execute: eng.Execute, ConsumerGroup: "workers", ConsumerName: "worker-2", Logger: logging.New("error", "json")}
	require.NoError(t, w.Queue.EnsureGroup(context.Background(), w.ConsumerGroup))

	// A first worker claimed the run, node A completed and its result was
	// durably recorded, then the process crashed before finishing B or
	// acking the message. The run is left as the reconciler would find it
	// (Running, with A's result already on disk) and the queue message
	// is still outstanding for a replacement worker to redeliver.
	_, epoch, err := repo.ClaimRun(context.Background(), run.ID, "worker-1", nil)
	require.NoError(t, err)
	require.NoError(t, repo.SaveNodeResult(context.Background(), model.NodeExecutionResult{
		RunID: run.ID, NodeID: "a", Status: model.NodeSuccess, Output: map[string]any{"a": true},
	}))
	_, err = repo.UpdateStatusCAS(context.Background(), run.ID, model.RunRunning, model.RunPending, epoch, "")
	require.NoError(t, err)

	// The replacement worker redelivers the same message and must finish
	// the run without re-invoking node A.
	require.NoError(t, w.processNext(context.Background()))

	require.Equal(t, int32(0), atomic.LoadInt32(&callsA))
	require.Equal(t, int32(1), atomic.LoadInt32(&callsB))

	final, err := repo.LoadRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, model.RunCompleted, final.Status)
	require.Equal(t, model.NodeSuccess, final.NodeResults["a"].Status)
	require.Equal(t, model.NodeSuccess, final.NodeResults["b"].Status)
}
