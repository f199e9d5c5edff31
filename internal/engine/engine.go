// Package engine implements the execution engine: it takes an
// ExecutionPlan and a WorkflowRun and drives every node to a terminal
// status, respecting dependency order, retry policy, timeouts, cooperative
// cancellation and control-flow node semantics (spec §4.3).
package engine

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/lyzr/workflowcore/internal/credential"
	"github.com/lyzr/workflowcore/internal/engine/controlflow"
	"github.com/lyzr/workflowcore/internal/expr"
	"github.com/lyzr/workflowcore/internal/logging"
	"github.com/lyzr/workflowcore/internal/model"
	"github.com/lyzr/workflowcore/internal/registry"
)

// ResultStore is the durability boundary the engine writes node results
// through. The worker's run repository implements this.
type ResultStore interface {
	SaveNodeResult(ctx context.Context, result model.NodeExecutionResult) error
}

// SubWorkflowRunner starts a child run for a Sub-workflow node and blocks
// until it reaches a terminal status, returning the child's output. It is
// injected rather than imported directly, since the component that can
// actually start a run (the dispatcher) sits above the engine in the
// dependency graph.
type SubWorkflowRunner func(ctx context.Context, parent *model.WorkflowRun, spec *model.SubWorkflowSpec, input model.JSON) (model.JSON, model.RunStatus, error)

// Engine runs one workflow plan to completion.
type Engine struct {
	Registry    *registry.Registry
	Evaluator   *expr.Evaluator
	Credentials credential.Resolver
	Results     ResultStore
	SubWorkflow SubWorkflowRunner

	MaxParallel        int
	DrainTimeout       time.Duration
	DefaultNodeTimeout time.Duration

	Now       func() time.Time
	UUID      func() string
	Rand      func() float64
	EnvLookup func(key string) (string, bool)

	Logger *logging.Logger
}

type loopCtxKey struct{}

func withLoopContext(ctx context.Context, lc *expr.LoopContext) context.Context {
	return context.WithValue(ctx, loopCtxKey{}, lc)
}

func loopContextFrom(ctx context.Context) *expr.LoopContext {
	lc, _ := ctx.Value(loopCtxKey{}).(*expr.LoopContext)
	return lc
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) randFn() func() float64 {
	if e.Rand != nil {
		return e.Rand
	}
	return rand.Float64
}

func (e *Engine) maxParallel() int64 {
	if e.MaxParallel <= 0 {
		return 1
	}
	return int64(e.MaxParallel)
}

// nodeOutcome is what a single node attempt (or control-flow evaluation)
// produced, ready to be folded into the scheduler's bookkeeping.
type nodeOutcome struct {
	nodeID   string
	result   model.NodeExecutionResult
	selected []string // non-nil only for Branch nodes: the successor ids it chose
}

// Execute drives plan to completion against run.Input, returning the run's
// final status. It persists every NodeExecutionResult through e.Results as
// nodes complete, so a crash mid-run leaves a resumable partial record.
func (e *Engine) Execute(ctx context.Context, run *model.WorkflowRun, plan *ExecutionPlan) (model.RunStatus, error) {
	wf := plan.Workflow

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	incoming := make(map[string][]model.Edge, len(wf.Nodes))
	for _, edges := range plan.Edges {
		for _, ed := range edges {
			incoming[ed.To] = append(incoming[ed.To], ed)
		}
	}

	loopBody := make(map[string]bool)
	for _, n := range wf.Nodes {
		if n.Loop != nil && n.Loop.LoopBackTo != "" {
			loopBody[n.Loop.LoopBackTo] = true
		}
	}

	status := make(map[string]model.NodeStatus, len(wf.Nodes))
	outputs := make(map[string]model.JSON, len(wf.Nodes))
	selectedCase := make(map[string][]string) // branch node id -> chosen successor ids
	resolvedCount := make(map[string]int)
	activatedCount := make(map[string]int)
	for _, n := range wf.Nodes {
		status[n.ID] = model.NodePending
	}

	// Redelivery resumes from whatever this run already has a durable
	// terminal result for, so a crashed worker's replacement never
	// re-invokes an adapter that already succeeded (spec §8, "no double
	// success" / "idempotent redelivery"). A fresh run has no NodeResults
	// and this is a no-op.
	resumed := make(map[string]bool, len(run.NodeResults))
	for nodeID, result := range run.NodeResults {
		if !result.Status.IsTerminal() {
			continue
		}
		status[nodeID] = result.Status
		outputs[nodeID] = result.Output
		resumed[nodeID] = true
	}

	ready := make([]string, 0, len(plan.Entry))
	for _, nodeID := range plan.Entry {
		if !resumed[nodeID] {
			ready = append(ready, nodeID)
		}
	}

	sem := semaphore.NewWeighted(e.maxParallel())
	// outcomes is sized to the whole node set so a dispatch goroutine can
	// always hand off its result even after Execute has returned from the
	// drain-timeout path below — an unbuffered channel would leave that
	// goroutine blocked forever once nobody is left reading it.
	outcomes := make(chan nodeOutcome, len(wf.Nodes))
	inflight := 0
	inflightNodes := make(map[string]bool, len(wf.Nodes))
	runFailed := false
	cancelRequested := false

	// enqueue appends nodeID to ready unless it's a loop body (those are
	// invoked directly by their owning Loop node, never scheduled normally).
	enqueue := func(nodeID string) {
		if loopBody[nodeID] {
			return
		}
		ready = append(ready, nodeID)
	}

	var onNodeTerminal func(nodeID string)

	markSkipped := func(nodeID string) {
		if status[nodeID].IsTerminal() {
			return
		}
		status[nodeID] = model.NodeSkipped
		result := model.NodeExecutionResult{
			RunID: run.ID, NodeID: nodeID, Status: model.NodeSkipped,
			StartedAt: e.now(), EndedAt: e.now(),
		}
		_ = e.Results.SaveNodeResult(ctx, result)
		onNodeTerminal(nodeID)
	}

	// onNodeTerminal fans a just-terminated node's status out across its
	// outgoing edges, activating or skipping each one, and dispatches or
	// skips every successor whose incoming edges are now fully resolved.
	onNodeTerminal = func(nodeID string) {
		node, _ := wf.NodeByID(nodeID)
		for _, ed := range plan.Edges[nodeID] {
			successor, ok := wf.NodeByID(ed.To)
			if !ok || loopBody[ed.To] {
				continue
			}
			activated := e.edgeActivated(ed, node, status[nodeID], outputs[nodeID], selectedCase[nodeID])
			resolvedCount[ed.To]++
			if activated {
				activatedCount[ed.To]++
			}
			if resolvedCount[ed.To] < len(incoming[ed.To]) {
				continue
			}
			if activatedCount[ed.To] > 0 || successor.WaitForAll {
				enqueue(ed.To)
			} else {
				markSkipped(ed.To)
			}
		}
	}

	dispatch := func(nodeID string) {
		node, _ := wf.NodeByID(nodeID)
		status[nodeID] = model.NodeRunning
		inflight++
		inflightNodes[nodeID] = true
		bag := inputBag(run.Input, plan.Predecessors[nodeID], outputs)
		go func() {
			out := e.runOne(runCtx, run, plan, node, bag)
			outcomes <- out
		}()
	}

	handle := func(out nodeOutcome) {
		sem.Release(1)
		inflight--
		delete(inflightNodes, out.nodeID)

		status[out.nodeID] = out.result.Status
		outputs[out.nodeID] = out.result.Output
		if out.selected != nil {
			selectedCase[out.nodeID] = out.selected
		}

		if err := e.Results.SaveNodeResult(ctx, out.result); err != nil && e.Logger != nil {
			e.Logger.Error("failed to persist node result", "run_id", run.ID, "node_id", out.nodeID, "error", err)
		}

		node, _ := wf.NodeByID(out.nodeID)
		if out.result.Status == model.NodeFailed && !node.ContinueOnFailure {
			runFailed = true
			cancelRun()
		}
		onNodeTerminal(out.nodeID)
	}

	for nodeID := range resumed {
		onNodeTerminal(nodeID)
	}

	var drainDeadline <-chan time.Time
	for {
		for len(ready) > 0 {
			if runCtx.Err() != nil {
				break
			}
			if !sem.TryAcquire(1) {
				break
			}
			nodeID := ready[0]
			ready = ready[1:]
			dispatch(nodeID)
		}
		if inflight == 0 {
			break
		}
		if runCtx.Err() != nil && drainDeadline == nil && e.DrainTimeout > 0 {
			drainDeadline = time.After(e.DrainTimeout)
		}
		if drainDeadline == nil {
			handle(<-outcomes)
			continue
		}
		select {
		case out := <-outcomes:
			handle(out)
		case <-drainDeadline:
			if e.Logger != nil {
				e.Logger.Error("drain timeout exceeded, abandoning inflight nodes", "run_id", run.ID, "inflight", inflight)
			}
			return e.abandonInflight(ctx, run, status, inflightNodes, runFailed)
		}
	}

	if ctx.Err() != nil {
		cancelRequested = true
	}

	switch {
	case cancelRequested:
		return model.RunCancelled, ctx.Err()
	case runFailed:
		return model.RunFailed, nil
	default:
		for _, n := range wf.Nodes {
			if loopBody[n.ID] {
				// Loop bodies are run by their Loop node, never scheduled here.
				continue
			}
			if !status[n.ID].IsTerminal() {
				// Unreachable given the DAG invariant BuildPlan enforces;
				// treated as infrastructure-level inconsistency.
				return model.RunFailed, &InfrastructureError{Op: "execute", Err: fmt.Errorf("node %q never resolved", n.ID)}
			}
		}
		return model.RunCompleted, nil
	}
}

// abandonInflight is reached once DrainTimeout elapses while nodes are still
// running: it marks each of them Cancelled since the run is giving up on
// them without ever observing a terminal result (spec §4.3.5, "marks
// outstanding nodes Cancelled"), then picks the run's final status by what
// actually caused the unwind rather than assuming real cancellation. A
// non-tolerant node failure cancels runCtx the same way real cancellation
// does, but the run must still end Failed (spec §4.3.2) — only ctx itself
// (the caller's context, not the derived runCtx) being done means this was
// a genuine cancelRun(runId).
func (e *Engine) abandonInflight(ctx context.Context, run *model.WorkflowRun, status map[string]model.NodeStatus, inflightNodes map[string]bool, runFailed bool) (model.RunStatus, error) {
	now := e.now()
	for nodeID := range inflightNodes {
		status[nodeID] = model.NodeCancelled
		result := model.NodeExecutionResult{
			RunID: run.ID, NodeID: nodeID, Status: model.NodeCancelled,
			ErrorMessage: (&CancellationError{NodeID: nodeID}).Error(),
			StartedAt:    now, EndedAt: now,
		}
		if err := e.Results.SaveNodeResult(ctx, result); err != nil && e.Logger != nil {
			e.Logger.Error("failed to persist abandoned node result", "run_id", run.ID, "node_id", nodeID, "error", err)
		}
	}

	if ctx.Err() != nil {
		return model.RunCancelled, ctx.Err()
	}
	if runFailed {
		return model.RunFailed, nil
	}
	return model.RunFailed, &InfrastructureError{Op: "execute", Err: fmt.Errorf("run %s: drain timeout exceeded with no resolved cancellation cause", run.ID)}
}

// edgeActivated decides whether a just-terminated node's edge to a
// successor should be treated as traversed. A failed predecessor never
// activates an edge unless it was marked continueOnFailure, in which case
// it behaves like a success for routing purposes. A Branch node's edges are
// gated by the selected case label; any edge (branch or plain) carrying a
// Condition is additionally gated by evaluating it against the source
// node's output.
func (e *Engine) edgeActivated(ed model.Edge, from model.Node, fromStatus model.NodeStatus, fromOutput model.JSON, selected []string) bool {
	succeededLike := fromStatus == model.NodeSuccess || (fromStatus == model.NodeFailed && from.ContinueOnFailure)
	if !succeededLike {
		return false
	}
	if selected != nil {
		matched := false
		for _, s := range selected {
			if s == ed.To {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if ed.Condition == "" {
		return true
	}
	outMap, _ := fromOutput.(map[string]any)
	ok, err := e.Evaluator.EvalBool(ed.Condition, expr.Env{Vars: outMap})
	return err == nil && ok
}

// runOne executes a single node — control-flow or adapter-backed — to a
// terminal NodeExecutionResult. It never panics: adapter/evaluator panics
// are recovered by the lower-level helpers it calls.
func (e *Engine) runOne(ctx context.Context, run *model.WorkflowRun, plan *ExecutionPlan, node model.Node, bag map[string]any) nodeOutcome {
	start := e.now()
	env := expr.Env{
		Vars:             bag,
		Now:              e.Now,
		UUID:             e.UUID,
		EnvLookup:        e.EnvLookup,
		CredentialLookup: e.credentialLookup(ctx, run, node),
		Loop:             loopContextFrom(ctx),
	}

	if node.IsControlFlow() {
		return e.runControlFlow(ctx, run, plan, node, bag, env, start)
	}
	return e.runAdapter(ctx, run, node, bag, env, start)
}

// credentialAllowedFields is the allowlist of non-secret credential fields
// an expression may read via $credentials.field; anything else, including
// the decrypted secret itself, is never reachable from expression output
// (spec §4.5, §4.6).
var credentialAllowedFields = map[string]bool{"kind": true, "id": true}

func (e *Engine) credentialLookup(ctx context.Context, run *model.WorkflowRun, node model.Node) func(field string) (any, bool) {
	return func(field string) (any, bool) {
		if !credentialAllowedFields[field] || e.Credentials == nil || node.CredentialID == "" {
			return nil, false
		}
		meta, err := e.Credentials.GetMetadata(ctx, node.CredentialID, run.TenantID)
		if err != nil {
			return nil, false
		}
		switch field {
		case "kind":
			return meta.Kind, true
		case "id":
			return meta.ID, true
		default:
			return nil, false
		}
	}
}

func (e *Engine) runAdapter(ctx context.Context, run *model.WorkflowRun, node model.Node, bag map[string]any, env expr.Env, start time.Time) nodeOutcome {
	adapter, ok := e.Registry.Lookup(node.Type)
	if !ok {
		return e.failure(run, node, start, &InfrastructureError{Op: "dispatch", Err: fmt.Errorf("no adapter registered for %q", node.Type)})
	}

	resolvedConfig, err := resolveConfig(e.Evaluator, node.Config, env)
	if err != nil {
		return e.failure(run, node, start, &InputAssemblyError{NodeID: node.ID, Err: err})
	}

	var secret any
	if node.CredentialID != "" {
		if e.Credentials == nil {
			return e.failure(run, node, start, &CredentialError{NodeID: node.ID, CredentialID: node.CredentialID, Err: fmt.Errorf("no credential resolver configured")})
		}
		s, err := e.Credentials.GetDecryptedSecret(ctx, node.CredentialID, run.TenantID)
		if err != nil {
			return e.failure(run, node, start, &CredentialError{NodeID: node.ID, CredentialID: node.CredentialID, Err: err})
		}
		secret = s
	}

	policy := node.Retry
	if policy.MaxAttempts <= 0 {
		policy = model.DefaultRetryPolicy()
	}

	timeout := e.DefaultNodeTimeout
	if node.TimeoutMs > 0 {
		timeout = time.Duration(node.TimeoutMs) * time.Millisecond
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return e.cancelled(run, node, start)
		}

		if delay := computeDelay(policy, attempt, e.randFn()); delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return e.cancelled(run, node, start)
			}
		}

		actx := registry.AdapterContext{
			TenantID:       run.TenantID,
			ResolvedConfig: resolvedConfig,
			Inputs:         bag,
			Secret:         secret,
			RunMetadata: registry.RunMetadata{
				RunID: run.ID, WorkflowID: run.WorkflowID, NodeID: node.ID,
				Attempt: attempt, MaxAttempts: policy.MaxAttempts,
			},
		}

		nodeCtx, cancelNode := context.WithTimeout(ctx, timeout)
		actx.Context = nodeCtx
		result, err := e.invokeAdapter(adapter, actx)
		cancelNode()

		// The run-level context takes priority: if it is why nodeCtx ended,
		// this is a cooperative cancellation, not a per-node timeout.
		if ctx.Err() != nil {
			return e.cancelled(run, node, start)
		}
		if nodeCtx.Err() == context.DeadlineExceeded {
			lastErr = &TimeoutError{NodeID: node.ID, TimeoutMs: int(timeout.Milliseconds())}
			if attempt < policy.MaxAttempts {
				continue
			}
			break
		}
		if err != nil {
			lastErr = &AdapterError{NodeID: node.ID, Retryable: true, Err: err}
			if attempt < policy.MaxAttempts {
				continue
			}
			break
		}
		if !result.Success {
			lastErr = &AdapterError{NodeID: node.ID, Retryable: result.Retryable, Err: fmt.Errorf("%s", result.ErrorMessage)}
			if result.Retryable && attempt < policy.MaxAttempts {
				continue
			}
			break
		}

		return nodeOutcome{nodeID: node.ID, result: model.NodeExecutionResult{
			RunID: run.ID, NodeID: node.ID, Status: model.NodeSuccess, Attempt: attempt,
			Input: bag, Output: result.Output,
			StartedAt: start, EndedAt: e.now(), DurationMs: time.Since(start).Milliseconds(),
		}}
	}

	return e.failure(run, node, start, lastErr)
}

// invokeAdapter recovers a panicking adapter into an error, since a
// misbehaving connector must never take the whole worker process down.
func (e *Engine) invokeAdapter(adapter registry.Adapter, actx registry.AdapterContext) (result registry.AdapterResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("adapter panic: %v", r)
		}
	}()
	return adapter.Execute(actx)
}

func (e *Engine) failure(run *model.WorkflowRun, node model.Node, start time.Time, err error) nodeOutcome {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return nodeOutcome{nodeID: node.ID, result: model.NodeExecutionResult{
		RunID: run.ID, NodeID: node.ID, Status: model.NodeFailed,
		ErrorMessage: msg, StartedAt: start, EndedAt: e.now(), DurationMs: time.Since(start).Milliseconds(),
	}}
}

func (e *Engine) cancelled(run *model.WorkflowRun, node model.Node, start time.Time) nodeOutcome {
	return nodeOutcome{nodeID: node.ID, result: model.NodeExecutionResult{
		RunID: run.ID, NodeID: node.ID, Status: model.NodeCancelled,
		ErrorMessage: (&CancellationError{NodeID: node.ID}).Error(),
		StartedAt:    start, EndedAt: e.now(), DurationMs: time.Since(start).Milliseconds(),
	}}
}

// runControlFlow evaluates a Branch/Merge/Loop/Sub-workflow node in the
// scheduler goroutine's calling goroutine (a separate goroutine is still
// spawned by dispatch, same as for adapter nodes, so it never blocks the
// main scheduling loop).
func (e *Engine) runControlFlow(ctx context.Context, run *model.WorkflowRun, plan *ExecutionPlan, node model.Node, bag map[string]any, env expr.Env, start time.Time) nodeOutcome {
	switch {
	case node.Branch != nil:
		label, next, err := controlflow.SelectBranch(node.Branch, e.Evaluator, env)
		if err != nil {
			return e.failure(run, node, start, &InputAssemblyError{NodeID: node.ID, Err: err})
		}
		out := nodeOutcome{nodeID: node.ID, selected: next, result: model.NodeExecutionResult{
			RunID: run.ID, NodeID: node.ID, Status: model.NodeSuccess,
			Input: bag, Output: map[string]any{"case": label},
			StartedAt: start, EndedAt: e.now(), DurationMs: time.Since(start).Milliseconds(),
		}}
		return out

	case node.Merge != nil:
		preds := plan.Predecessors[node.ID]
		outs := make(map[string]model.JSON, len(preds))
		for _, p := range preds {
			if v, ok := bag[p]; ok {
				outs[p] = v
			}
		}
		merged, err := controlflow.ResolveMerge(node.Merge, outs)
		if err != nil {
			return e.failure(run, node, start, &InputAssemblyError{NodeID: node.ID, Err: err})
		}
		return nodeOutcome{nodeID: node.ID, result: model.NodeExecutionResult{
			RunID: run.ID, NodeID: node.ID, Status: model.NodeSuccess,
			Input: bag, Output: merged,
			StartedAt: start, EndedAt: e.now(), DurationMs: time.Since(start).Milliseconds(),
		}}

	case node.Loop != nil:
		return e.runLoop(ctx, run, plan, node, bag, env, start)

	case node.SubWorkflow != nil:
		if e.SubWorkflow == nil {
			return e.failure(run, node, start, &InfrastructureError{Op: "subworkflow", Err: fmt.Errorf("no sub-workflow runner configured")})
		}
		childInput, _ := bag["input"]
		output, childStatus, err := e.SubWorkflow(ctx, run, node.SubWorkflow, childInput)
		if err != nil {
			return e.failure(run, node, start, &AdapterError{NodeID: node.ID, Retryable: false, Err: err})
		}
		nodeStatus := model.NodeSuccess
		if childStatus != model.RunCompleted {
			nodeStatus = model.NodeFailed
		}
		return nodeOutcome{nodeID: node.ID, result: model.NodeExecutionResult{
			RunID: run.ID, NodeID: node.ID, Status: nodeStatus,
			Input: bag, Output: output,
			StartedAt: start, EndedAt: e.now(), DurationMs: time.Since(start).Milliseconds(),
		}}
	}

	return e.failure(run, node, start, &InfrastructureError{Op: "control-flow", Err: fmt.Errorf("node %q has no recognized control-flow spec", node.ID)})
}

// runLoop repeatedly invokes the node named by LoopSpec.LoopBackTo, once per
// collection item (or up to MaxIterations for a counter loop), isolating
// each iteration's $loop.index/$loop.item in its own expression environment.
func (e *Engine) runLoop(ctx context.Context, run *model.WorkflowRun, plan *ExecutionPlan, node model.Node, bag map[string]any, env expr.Env, start time.Time) nodeOutcome {
	body, ok := plan.Workflow.NodeByID(node.Loop.LoopBackTo)
	if !ok {
		return e.failure(run, node, start, &InputAssemblyError{NodeID: node.ID, Err: fmt.Errorf("loop body %q not found", node.Loop.LoopBackTo)})
	}

	var items []any
	if raw, ok := node.Config.(map[string]any); ok {
		if itemsExpr, ok := raw["items"].(string); ok && itemsExpr != "" {
			v, err := e.Evaluator.EvalExpression(itemsExpr, env)
			if err != nil {
				return e.failure(run, node, start, &InputAssemblyError{NodeID: node.ID, Err: err})
			}
			if arr, ok := v.([]any); ok {
				items = arr
			}
		}
	}

	results := make([]any, 0)
	for i := 0; ; i++ {
		state := controlflow.NextIteration(node.Loop, i, items)
		if state.Done {
			break
		}
		if ctx.Err() != nil {
			return e.cancelled(run, node, start)
		}

		iterBag := make(map[string]any, len(bag)+1)
		for k, v := range bag {
			iterBag[k] = v
		}
		iterBag["item"] = state.Item
		iterCtx := withLoopContext(ctx, &expr.LoopContext{Index: state.Index, Item: state.Item})

		out := e.runOne(iterCtx, run, plan, body, iterBag)
		results = append(results, out.result.Output)
		if out.result.Status != model.NodeSuccess && !body.ContinueOnFailure {
			return e.failure(run, node, start, &AdapterError{NodeID: node.ID, Retryable: false, Err: fmt.Errorf("loop body %q failed at iteration %d: %s", body.ID, i, out.result.ErrorMessage)})
		}
	}

	return nodeOutcome{nodeID: node.ID, result: model.NodeExecutionResult{
		RunID: run.ID, NodeID: node.ID, Status: model.NodeSuccess,
		Input: bag, Output: results,
		StartedAt: start, EndedAt: e.now(), DurationMs: time.Since(start).Milliseconds(),
	}}
}
