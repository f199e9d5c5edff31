package controlflow

import (
	"testing"

	"github.com/lyzr/workflowcore/internal/expr"
	"github.com/lyzr/workflowcore/internal/model"
)

func TestSelectBranchFirstMatch(t *testing.T) {
	spec := &model.BranchSpec{
		Rules: []model.BranchRule{
			{CaseLabel: "true", Condition: "$json.ok == true", NextNodes: []string{"onTrue"}},
			{CaseLabel: "false", Condition: "", NextNodes: []string{"onFalse"}},
		},
	}
	ev := expr.New()
	env := expr.Env{Vars: map[string]any{"ok": true}}
	label, next, err := SelectBranch(spec, ev, env)
	if err != nil {
		t.Fatal(err)
	}
	if label != "true" || len(next) != 1 || next[0] != "onTrue" {
		t.Fatalf("got label=%s next=%v", label, next)
	}

	env.Vars["ok"] = false
	label, next, err = SelectBranch(spec, ev, env)
	if err != nil {
		t.Fatal(err)
	}
	if label != "false" || next[0] != "onFalse" {
		t.Fatalf("got label=%s next=%v", label, next)
	}
}

func TestNextIterationBoundedByCollection(t *testing.T) {
	spec := &model.LoopSpec{MaxIterations: 10}
	items := []any{"a", "b"}
	s0 := NextIteration(spec, 0, items)
	if s0.Done || s0.Item != "a" {
		t.Fatalf("unexpected state %+v", s0)
	}
	s2 := NextIteration(spec, 2, items)
	if !s2.Done {
		t.Fatalf("expected done past end of collection, got %+v", s2)
	}
}

func TestNextIterationBoundedByMax(t *testing.T) {
	spec := &model.LoopSpec{MaxIterations: 2}
	s1 := NextIteration(spec, 1, nil)
	if s1.Done {
		t.Fatalf("expected iteration 1 to run")
	}
	s2 := NextIteration(spec, 2, nil)
	if !s2.Done {
		t.Fatalf("expected done at MaxIterations")
	}
}

func TestResolveMergeLastWins(t *testing.T) {
	spec := &model.MergeSpec{Predecessors: []string{"a", "b"}, Resolution: model.MergeLastWins}
	out, err := ResolveMerge(spec, map[string]model.JSON{"a": "first", "b": "second"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "second" {
		t.Fatalf("got %v", out)
	}
}

func TestResolveMergePriority(t *testing.T) {
	spec := &model.MergeSpec{
		Predecessors: []string{"a", "b"},
		Resolution:   model.MergePriority,
		PriorityOf:   map[string]int{"a": 1, "b": 5},
	}
	out, err := ResolveMerge(spec, map[string]model.JSON{"a": "low", "b": "high"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "high" {
		t.Fatalf("got %v", out)
	}
}

func TestResolveMergeDeep(t *testing.T) {
	spec := &model.MergeSpec{Predecessors: []string{"a", "b"}, Resolution: model.MergeDeep}
	out, err := ResolveMerge(spec, map[string]model.JSON{
		"a": map[string]any{"x": float64(1), "y": float64(2)},
		"b": map[string]any{"y": float64(3)},
	})
	if err != nil {
		t.Fatal(err)
	}
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("expected map result, got %T", out)
	}
	if m["x"] != float64(1) || m["y"] != float64(3) {
		t.Fatalf("got %+v", m)
	}
}
