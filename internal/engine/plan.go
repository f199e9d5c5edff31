package engine

import (
	"container/heap"
	"context"
	"fmt"
	"sort"

	"github.com/lyzr/workflowcore/internal/credential"
	"github.com/lyzr/workflowcore/internal/model"
	"github.com/lyzr/workflowcore/internal/registry"
)

// ExecutionPlan is the topologically sorted schedule for a run, plus a
// per-node set of predecessors/dependents (spec §4.3.1, glossary
// "Execution plan").
type ExecutionPlan struct {
	Workflow     *model.Workflow
	Order        []string            // topological order, ties broken lexicographically
	Predecessors map[string][]string // nodeID -> ids of nodes with an edge into it
	Dependents   map[string][]string // nodeID -> ids of nodes it has an edge to
	Entry        []string            // trigger node ids with no predecessors
	Edges        map[string][]model.Edge // "from" -> outgoing edges, for condition evaluation
}

func (p *ExecutionPlan) nodeSet() map[string]model.Node {
	m := make(map[string]model.Node, len(p.Workflow.Nodes))
	for _, n := range p.Workflow.Nodes {
		m[n.ID] = n
	}
	return m
}

// BuildPlan validates wf and, if valid, produces its ExecutionPlan using
// Kahn's algorithm with lexicographic nodeId tie-breaking for determinism
// (spec §4.3.1). reg and cred are consulted for the adapter-registration and
// credential-accessibility validation rules.
func BuildPlan(ctx context.Context, wf *model.Workflow, reg *registry.Registry, cred credential.Resolver) (*ExecutionPlan, error) {
	if len(wf.Triggers) == 0 {
		return nil, &ValidationError{Reason: "workflow has no trigger node"}
	}

	nodeIDs := make(map[string]bool, len(wf.Nodes))
	for _, n := range wf.Nodes {
		if nodeIDs[n.ID] {
			return nil, &ValidationError{Reason: fmt.Sprintf("duplicate node id %q", n.ID)}
		}
		nodeIDs[n.ID] = true
	}

	predecessors := make(map[string][]string, len(wf.Nodes))
	dependents := make(map[string][]string, len(wf.Nodes))
	edgesFrom := make(map[string][]model.Edge, len(wf.Nodes))
	for _, n := range wf.Nodes {
		predecessors[n.ID] = nil
		dependents[n.ID] = nil
	}
	for _, e := range wf.Edges {
		if !nodeIDs[e.From] {
			return nil, &ValidationError{Reason: fmt.Sprintf("edge references unknown source node %q", e.From)}
		}
		if !nodeIDs[e.To] {
			return nil, &ValidationError{Reason: fmt.Sprintf("edge references unknown target node %q", e.To)}
		}
		predecessors[e.To] = append(predecessors[e.To], e.From)
		dependents[e.From] = append(dependents[e.From], e.To)
		edgesFrom[e.From] = append(edgesFrom[e.From], e)
	}

	for _, trig := range wf.Triggers {
		if !nodeIDs[trig.NodeID] {
			return nil, &ValidationError{Reason: fmt.Sprintf("trigger references unknown node %q", trig.NodeID)}
		}
	}

	if reg != nil {
		for _, n := range wf.Nodes {
			if _, ok := reg.Lookup(n.Type); !ok {
				return nil, &ValidationError{Reason: fmt.Sprintf("node %q has unregistered connector type %q", n.ID, n.Type)}
			}
		}
	}

	if cred != nil {
		for _, n := range wf.Nodes {
			if n.CredentialID == "" {
				continue
			}
			if err := cred.Validate(ctx, n.CredentialID, wf.TenantID); err != nil {
				return nil, &ValidationError{Reason: fmt.Sprintf("node %q credential %q not accessible: %v", n.ID, n.CredentialID, err)}
			}
		}
	}

	order, err := kahnSort(wf.Nodes, predecessors, dependents)
	if err != nil {
		return nil, err
	}

	entry := make([]string, 0)
	for _, trig := range wf.Triggers {
		if len(predecessors[trig.NodeID]) == 0 {
			entry = append(entry, trig.NodeID)
		}
	}
	sort.Strings(entry)

	return &ExecutionPlan{
		Workflow:     wf,
		Order:        order,
		Predecessors: predecessors,
		Dependents:   dependents,
		Entry:        entry,
		Edges:        edgesFrom,
	}, nil
}

// idHeap is a min-heap of node ids used to break Kahn's-algorithm ties
// lexicographically (spec §4.3.1: "ties are broken by lexicographic
// nodeId").
type idHeap []string

func (h idHeap) Len() int            { return len(h) }
func (h idHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idHeap) Push(x any)         { *h = append(*h, x.(string)) }
func (h *idHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

func kahnSort(nodes []model.Node, predecessors, dependents map[string][]string) ([]string, error) {
	indegree := make(map[string]int, len(nodes))
	for _, n := range nodes {
		indegree[n.ID] = len(predecessors[n.ID])
	}

	ready := &idHeap{}
	for _, n := range nodes {
		if indegree[n.ID] == 0 {
			heap.Push(ready, n.ID)
		}
	}

	order := make([]string, 0, len(nodes))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(string)
		order = append(order, id)
		deps := append([]string(nil), dependents[id]...)
		sort.Strings(deps)
		for _, dep := range deps {
			indegree[dep]--
			if indegree[dep] == 0 {
				heap.Push(ready, dep)
			}
		}
	}

	if len(order) != len(nodes) {
		return nil, &ValidationError{Reason: "workflow graph contains a cycle"}
	}
	return order, nil
}
