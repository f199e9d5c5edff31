// Package registry implements the Connector Adapter Registry: a fixed,
// read-only-after-startup map from connector-type string to Adapter
// implementation.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/lyzr/workflowcore/internal/model"
)

// RunMetadata is threaded into every adapter invocation so an adapter can
// report context-aware errors and metrics without depending on the engine.
type RunMetadata struct {
	RunID       string
	WorkflowID  string
	NodeID      string
	Attempt     int
	MaxAttempts int
	RetryDelayMs int64
}

// AdapterContext is the input half of the adapter contract (spec §4.4, §6).
type AdapterContext struct {
	Context      context.Context
	TenantID     string
	ResolvedConfig model.JSON
	Inputs       map[string]any
	Secret       any // nil if the node has no credentialId
	RunMetadata  RunMetadata
}

// AdapterResult is the output half of the adapter contract.
type AdapterResult struct {
	Success      bool
	Output       model.JSON
	ErrorMessage string
	DurationMs   int64
	Metadata     map[string]any
	Retryable    bool
}

// Adapter is a pluggable implementation of a connector type.
type Adapter interface {
	Execute(actx AdapterContext) (AdapterResult, error)
}

// AdapterFunc adapts a plain function to the Adapter interface.
type AdapterFunc func(actx AdapterContext) (AdapterResult, error)

func (f AdapterFunc) Execute(actx AdapterContext) (AdapterResult, error) { return f(actx) }

// Registry maps connector-type strings to adapters. It is populated at
// process start and is read-only for the lifetime of a worker process (no
// hot reload in the core — spec §4.4, §5).
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	sealed   bool
}

// New returns an empty, unsealed Registry.
func New() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under connectorType. Panics if called after
// Seal, since registration past process start would violate the
// fixed-registry invariant the planner's validation step relies on.
func (r *Registry) Register(connectorType string, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		panic(fmt.Sprintf("registry: cannot register %q after Seal", connectorType))
	}
	r.adapters[connectorType] = a
}

// Seal marks the registry read-only. Call once, after all built-in adapters
// have been registered, before the worker process starts consuming runs.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Lookup returns the adapter registered for connectorType.
func (r *Registry) Lookup(connectorType string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[connectorType]
	return a, ok
}

// List returns all registered connector types in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.adapters))
	for t := range r.adapters {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
