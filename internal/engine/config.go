package engine

import (
	"fmt"

	"github.com/lyzr/workflowcore/internal/expr"
	"github.com/lyzr/workflowcore/internal/model"
)

// resolveConfig walks a node's Config tree, splicing `{{ }}` templates in
// every string leaf against env (spec §4.3.3 step 2). Non-string leaves and
// map keys pass through unchanged.
func resolveConfig(ev *expr.Evaluator, cfg model.JSON, env expr.Env) (model.JSON, error) {
	switch v := cfg.(type) {
	case string:
		if !expr.HasTemplate(v) {
			return v, nil
		}
		out, err := ev.ResolveTemplate(v, env)
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", v, err)
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			resolved, err := resolveConfig(ev, child, env)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			resolved, err := resolveConfig(ev, child, env)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// inputBag assembles a node's $json namespace: the run input merged with
// the named outputs of its direct predecessors (spec §4.3.3 step 1:
// merge(I, {P_i: out_i})).
func inputBag(runInput model.JSON, predecessors []string, outputs map[string]model.JSON) map[string]any {
	bag := make(map[string]any)
	if m, ok := runInput.(map[string]any); ok {
		for k, v := range m {
			bag[k] = v
		}
	}
	for _, p := range predecessors {
		if out, ok := outputs[p]; ok {
			bag[p] = out
		}
	}
	return bag
}
