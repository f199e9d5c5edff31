// Package controlflow implements the decision logic for the engine's
// control-flow node kinds (If/Switch via BranchSpec, Loop, Merge). The
// scheduler owns invocation, retries and persistence; this package only
// answers "what should happen next" given a node's spec and its inputs.
package controlflow

import (
	"encoding/json"
	"fmt"
	"sort"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/lyzr/workflowcore/internal/expr"
	"github.com/lyzr/workflowcore/internal/model"
)

// SelectBranch evaluates a Branch node's rules in declaration order against
// env and returns the label and successor set of the first rule whose
// Condition holds. An empty Condition always matches (the default rule). If
// no rule matches, spec.Default is returned under the label "default".
func SelectBranch(spec *model.BranchSpec, ev *expr.Evaluator, env expr.Env) (label string, next []string, err error) {
	for _, rule := range spec.Rules {
		if rule.Condition == "" {
			return rule.CaseLabel, rule.NextNodes, nil
		}
		ok, err := ev.EvalBool(rule.Condition, env)
		if err != nil {
			return "", nil, fmt.Errorf("controlflow: branch condition %q: %w", rule.Condition, err)
		}
		if ok {
			return rule.CaseLabel, rule.NextNodes, nil
		}
	}
	return "default", spec.Default, nil
}

// LoopState is the per-iteration context handed back to the scheduler so it
// can build the $loop namespace for the body node's expression environment.
type LoopState struct {
	Index int
	Item  any
	Done  bool // true once the loop has no more iterations to run
}

// NextIteration decides whether iteration i (0-based) should run, given an
// items collection (nil for a pure counter loop bounded by MaxIterations).
func NextIteration(spec *model.LoopSpec, i int, items []any) LoopState {
	if spec.MaxIterations > 0 && i >= spec.MaxIterations {
		return LoopState{Done: true}
	}
	if items != nil {
		if i >= len(items) {
			return LoopState{Done: true}
		}
		return LoopState{Index: i, Item: items[i]}
	}
	return LoopState{Index: i, Item: nil}
}

// ResolveMerge combines the outputs of a Merge node's declared predecessors
// (in spec.Predecessors order) into one JSON value per the node's
// resolution rule.
func ResolveMerge(spec *model.MergeSpec, outputs map[string]model.JSON) (model.JSON, error) {
	switch spec.Resolution {
	case model.MergeLastWins, "":
		return resolveLastWins(spec.Predecessors, outputs), nil
	case model.MergePriority:
		return resolvePriority(spec.Predecessors, outputs, spec.PriorityOf), nil
	case model.MergeDeep:
		return resolveDeep(spec.Predecessors, outputs)
	default:
		return nil, fmt.Errorf("controlflow: unknown merge resolution %q", spec.Resolution)
	}
}

func resolveLastWins(order []string, outputs map[string]model.JSON) model.JSON {
	var result model.JSON
	for _, id := range order {
		if v, ok := outputs[id]; ok {
			result = v
		}
	}
	return result
}

func resolvePriority(order []string, outputs map[string]model.JSON, priority map[string]int) model.JSON {
	ranked := make([]string, 0, len(order))
	for _, id := range order {
		if _, ok := outputs[id]; ok {
			ranked = append(ranked, id)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return priority[ranked[i]] > priority[ranked[j]]
	})
	if len(ranked) == 0 {
		return nil
	}
	return outputs[ranked[0]]
}

// resolveDeep applies each predecessor's output as a JSON Merge Patch (RFC
// 7396) on top of the accumulated document, in predecessor order, so later
// predecessors win on overlapping fields while distinct fields from earlier
// ones survive.
func resolveDeep(order []string, outputs map[string]model.JSON) (model.JSON, error) {
	acc := []byte("{}")
	touched := false
	for _, id := range order {
		v, ok := outputs[id]
		if !ok {
			continue
		}
		patch, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("controlflow: marshal merge input %q: %w", id, err)
		}
		merged, err := jsonpatch.MergePatch(acc, patch)
		if err != nil {
			return nil, fmt.Errorf("controlflow: merge patch from %q: %w", id, err)
		}
		acc = merged
		touched = true
	}
	if !touched {
		return nil, nil
	}
	var out model.JSON
	if err := json.Unmarshal(acc, &out); err != nil {
		return nil, fmt.Errorf("controlflow: unmarshal merged document: %w", err)
	}
	return out, nil
}
