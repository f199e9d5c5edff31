package engine

import "fmt"

// ValidationError means a workflow failed structural validation; the run
// terminates Failed before any node executes (spec §4.3.1, §7).
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation error: " + e.Reason }

// InputAssemblyError means expression evaluation failed while resolving a
// node's config; the node is marked Failed and is not retried (spec §4.5,
// §7).
type InputAssemblyError struct {
	NodeID string
	Err    error
}

func (e *InputAssemblyError) Error() string {
	return fmt.Sprintf("input assembly error for node %q: %v", e.NodeID, e.Err)
}
func (e *InputAssemblyError) Unwrap() error { return e.Err }

// AdapterError wraps a failure reported by an adapter or an uncaught panic
// recovered from one. Retryable failures are retried per the node's retry
// policy; non-retryable failures fail the node after one attempt (spec §7).
type AdapterError struct {
	NodeID    string
	Retryable bool
	Err       error
}

func (e *AdapterError) Error() string {
	kind := "non-retryable"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("adapter error for node %q (%s): %v", e.NodeID, kind, e.Err)
}
func (e *AdapterError) Unwrap() error { return e.Err }

// TimeoutError means a node exceeded its configured timeoutMs. Retryable
// unless it occurred on the final attempt (spec §5, §7).
type TimeoutError struct {
	NodeID    string
	TimeoutMs int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("node %q exceeded timeout of %dms", e.NodeID, e.TimeoutMs)
}

// CancellationError means a cooperative cancel preempted the node; it is
// marked Cancelled and is never retried (spec §4.3.5, §7).
type CancellationError struct {
	NodeID string
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("node %q cancelled", e.NodeID)
}

// CredentialError means the node's credentialId could not be resolved or is
// inaccessible in the run's tenant; the node is Failed and is not retried
// (spec §4.6, §7).
type CredentialError struct {
	NodeID       string
	CredentialID string
	Err          error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential error for node %q (credential %q): %v", e.NodeID, e.CredentialID, e.Err)
}
func (e *CredentialError) Unwrap() error { return e.Err }

// InfrastructureError reports a failure outside any adapter's own result: no
// adapter registered for a node's type, no sub-workflow runner configured, a
// node with no recognized control-flow spec, a node that never resolved, or
// a drain timeout with no resolved cancellation cause. The worker does not
// retry it: when Execute returns one it comes with RunFailed, which the
// worker records as the run's terminal status, so the run is not left
// Running.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("infrastructure error during %s: %v", e.Op, e.Err)
}
func (e *InfrastructureError) Unwrap() error { return e.Err }
