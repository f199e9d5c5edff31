// Package model defines the data model of the workflow execution core:
// workflows, nodes, edges, runs, node results and the queue message that
// carries a run from the dispatcher to a worker.
package model

import "time"

// JSON is the dynamic, schemaless value carried through node config,
// payloads and node outputs. It is always the result of unmarshaling JSON
// into Go's empty interface, matching encoding/json's own representation
// (map[string]interface{}, []interface{}, string, float64, bool, nil).
type JSON = any

// Workflow is a versioned, immutable-per-version workflow definition.
type Workflow struct {
	ID       string
	TenantID string
	Version  int
	Name     string
	Nodes    []Node
	Edges    []Edge
	Triggers []TriggerBinding
}

// NodeByID returns the node with the given id, if present.
func (w *Workflow) NodeByID(id string) (Node, bool) {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// RetryPolicy controls how a node's adapter invocation is retried.
type RetryPolicy struct {
	MaxAttempts           int
	InitialDelayMs        int
	MaxDelayMs            int
	Multiplier            float64
	UseExponentialBackoff bool
	UseJitter             bool
}

// DefaultRetryPolicy is applied to nodes that don't specify one: a single
// attempt, no retry.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// LoopSpec configures a Loop/Iterator control-flow node.
type LoopSpec struct {
	MaxIterations int
	BatchSize     int
	LoopBackTo    string
	BreakPath     []string
	TimeoutPath   []string
}

// BranchRule is a single labeled branch of a Switch node, or a single
// conditional rule of an If node modeled as a degenerate Switch.
type BranchRule struct {
	CaseLabel string // "" for the unconditional default rule
	Condition string // expression source; empty means "always matches" (default)
	NextNodes []string
}

// BranchSpec configures an If/Switch control-flow node.
type BranchSpec struct {
	Rules   []BranchRule
	Default []string
}

// MergeSpec configures a Merge control-flow node.
type MergeSpec struct {
	Predecessors []string
	Resolution   MergeResolution
	PriorityOf   map[string]int // used when Resolution == MergeResolutionPriority
}

// MergeResolution names the strategy a Merge node uses to combine multiple
// predecessor outputs into one.
type MergeResolution string

const (
	MergeLastWins MergeResolution = "last-wins"
	MergePriority MergeResolution = "priority"
	MergeDeep     MergeResolution = "merge"
)

// SubWorkflowSpec configures a Sub-workflow control-flow node.
type SubWorkflowSpec struct {
	WorkflowID string
	Version    int // 0 means "latest"
}

// Node is a single vertex in a workflow: one adapter invocation per attempt.
type Node struct {
	ID   string
	Type string // connector-type string, e.g. "http.request", "flow.if"

	// Config is an opaque JSON tree; string leaves may contain {{ expr }}
	// placeholders resolved against the node's input bag at execution time.
	Config JSON

	CredentialID string // empty means no credential required

	Retry             RetryPolicy
	ContinueOnFailure bool
	TimeoutMs         int // 0 means EngineConfig.DefaultNodeTimeout applies

	// WaitForAll marks a join node: it is only ready once every declared
	// predecessor (not just every predecessor reachable on the taken path)
	// is terminal. Used by Merge nodes.
	WaitForAll bool

	Loop        *LoopSpec
	Branch      *BranchSpec
	Merge       *MergeSpec
	SubWorkflow *SubWorkflowSpec
}

// IsControlFlow reports whether this node has engine-native control-flow
// semantics in addition to its adapter contract (spec §4.3.6).
func (n Node) IsControlFlow() bool {
	return n.Branch != nil || n.Loop != nil || n.Merge != nil || n.SubWorkflow != nil
}

// Edge is a directed arc between two nodes. Condition, if present, is an
// expression evaluated against the source node's output; the edge is
// traversed only if it holds. CaseLabel, if present, restricts traversal to
// Switch nodes whose selected case matches.
type Edge struct {
	From      string
	To        string
	Condition string
	CaseLabel string
}

// TriggerKind names how a trigger binding activates a workflow.
type TriggerKind string

const (
	TriggerWebhook TriggerKind = "webhook"
	TriggerCron    TriggerKind = "cron"
	TriggerManual  TriggerKind = "manual"
)

// TriggerBinding associates a trigger node with how it is externally armed.
// The actual HTTP/cron surface is out of scope; only the binding metadata
// the engine needs (which node is the entry point) lives here.
type TriggerBinding struct {
	NodeID string
	Kind   TriggerKind
	Config JSON
}

// RunMode names why a run was started.
type RunMode string

const (
	ModeManual      RunMode = "manual"
	ModeScheduled   RunMode = "scheduled"
	ModeTriggered   RunMode = "triggered"
	ModeReplay      RunMode = "replay"
	ModeSubWorkflow RunMode = "subworkflow"
)

// RunStatus is the monotone lifecycle state of a WorkflowRun.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether s is one of the run's terminal states.
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// rank orders statuses for monotonicity checks: Pending < Running < terminal.
func (s RunStatus) rank() int {
	switch s {
	case RunPending:
		return 0
	case RunRunning:
		return 1
	default:
		return 2
	}
}

// CanTransition reports whether moving from s to next is a legal, forward
// only transition (spec §3 invariant: status is monotone, no backward
// transition, and a terminal status never changes).
func (s RunStatus) CanTransition(next RunStatus) bool {
	if s.IsTerminal() {
		return false
	}
	return next.rank() >= s.rank() && next != s
}

// WorkflowRun is one execution instance of a Workflow against a specific
// input.
type WorkflowRun struct {
	ID              string
	WorkflowID      string
	WorkflowVersion int
	TenantID        string
	Mode            RunMode
	Input           JSON
	Status          RunStatus
	StartedAt       *time.Time
	EndedAt         *time.Time
	ErrorMessage    string

	// ClaimEpoch fences stale workers off a run record: a worker claiming
	// the run (Pending -> Running) increments it; any write tagged with an
	// older epoch is rejected (spec §4.2, §5).
	ClaimEpoch int64
	WorkerID   string
	ClaimedAt  *time.Time

	NodeResults map[string]NodeExecutionResult

	// CancelRequested records a cancellation intent observed by the worker
	// between node completions (spec §4.1, §4.3.5).
	CancelRequested bool

	// ParentRunID is set when this run was started by a Sub-workflow node
	// rather than directly; empty for a top-level run. It is what lets a
	// parent's cancellation cascade to the child it is waiting on.
	ParentRunID string
}

// NodeStatus is the lifecycle state of a single node execution attempt.
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeRunning   NodeStatus = "running"
	NodeSuccess   NodeStatus = "success"
	NodeFailed    NodeStatus = "failed"
	NodeSkipped   NodeStatus = "skipped"
	NodeCancelled NodeStatus = "cancelled"
)

// IsTerminal reports whether a node has finished (successfully or not) and
// will not be re-entered by this run.
func (s NodeStatus) IsTerminal() bool {
	switch s {
	case NodeSuccess, NodeFailed, NodeSkipped, NodeCancelled:
		return true
	default:
		return false
	}
}

// NodeExecutionResult is the durable record of a single node's execution
// within a run. At most one exists per (runId, nodeId); retries mutate the
// same entry and grow Attempt.
type NodeExecutionResult struct {
	RunID  string
	NodeID string
	Status NodeStatus
	Attempt int

	Input        JSON
	Output       JSON
	ErrorMessage string

	StartedAt  time.Time
	EndedAt    time.Time
	DurationMs int64
}

// RunMessage is the queue payload the dispatcher emits and the worker
// consumes. Queue key is TenantID + ":" + RunID.
type RunMessage struct {
	RunID           string    `json:"runId"`
	WorkflowID      string    `json:"workflowId"`
	WorkflowVersion int       `json:"workflowVersion"`
	TenantID        string    `json:"tenantId"`
	Mode            RunMode   `json:"mode"`
	Input           JSON      `json:"input"`
	QueuedAt        time.Time `json:"queuedAt"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// PartitionKey returns the queue partitioning key for this message.
func (m RunMessage) PartitionKey() string {
	return m.TenantID + ":" + m.RunID
}
