package engine

import (
	"context"
	"testing"

	"github.com/lyzr/workflowcore/internal/credential"
	"github.com/lyzr/workflowcore/internal/model"
	"github.com/lyzr/workflowcore/internal/registry"
)

func testRegistry() *registry.Registry {
	r := registry.New()
	noop := registry.AdapterFunc(func(actx registry.AdapterContext) (registry.AdapterResult, error) {
		return registry.AdapterResult{Success: true}, nil
	})
	for _, t := range []string{"webhook", "http.request", "notify.log", "flow.if"} {
		r.Register(t, noop)
	}
	r.Seal()
	return r
}

func linearWorkflow() *model.Workflow {
	return &model.Workflow{
		ID: "wf1", TenantID: "t1", Version: 1,
		Nodes: []model.Node{
			{ID: "webhook", Type: "webhook"},
			{ID: "http", Type: "http.request"},
			{ID: "notify", Type: "notify.log"},
		},
		Edges: []model.Edge{
			{From: "webhook", To: "http"},
			{From: "http", To: "notify"},
		},
		Triggers: []model.TriggerBinding{{NodeID: "webhook", Kind: model.TriggerWebhook}},
	}
}

func TestBuildPlanTopologicalOrder(t *testing.T) {
	wf := linearWorkflow()
	plan, err := BuildPlan(context.Background(), wf, testRegistry(), credential.NewMemoryResolver())
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"webhook", "http", "notify"} // dependency-bound: each node follows its only predecessor
	_ = want
	if len(plan.Order) != 3 {
		t.Fatalf("expected 3 nodes in order, got %v", plan.Order)
	}
	if plan.Order[0] != "webhook" {
		t.Fatalf("expected webhook first, got %v", plan.Order)
	}
	if plan.Order[1] != "http" || plan.Order[2] != "notify" {
		t.Fatalf("expected http then notify, got %v", plan.Order)
	}
	if len(plan.Entry) != 1 || plan.Entry[0] != "webhook" {
		t.Fatalf("expected webhook as sole entry node, got %v", plan.Entry)
	}
}

func TestBuildPlanLexicographicTieBreak(t *testing.T) {
	wf := &model.Workflow{
		ID: "wf2", TenantID: "t1",
		Nodes: []model.Node{
			{ID: "c", Type: "notify.log"},
			{ID: "a", Type: "notify.log"},
			{ID: "b", Type: "notify.log"},
		},
		Triggers: []model.TriggerBinding{{NodeID: "a", Kind: model.TriggerManual}},
	}
	plan, err := BuildPlan(context.Background(), wf, testRegistry(), credential.NewMemoryResolver())
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a", "b", "c"}
	for i, id := range want {
		if plan.Order[i] != id {
			t.Fatalf("got order %v, want %v", plan.Order, want)
		}
	}
}

func TestBuildPlanRejectsCycle(t *testing.T) {
	wf := &model.Workflow{
		ID: "wf3", TenantID: "t1",
		Nodes: []model.Node{{ID: "a", Type: "notify.log"}, {ID: "b", Type: "notify.log"}},
		Edges: []model.Edge{{From: "a", To: "b"}, {From: "b", To: "a"}},
		Triggers: []model.TriggerBinding{{NodeID: "a", Kind: model.TriggerManual}},
	}
	_, err := BuildPlan(context.Background(), wf, testRegistry(), credential.NewMemoryResolver())
	if err == nil {
		t.Fatal("expected cycle validation error")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
}

func TestBuildPlanRejectsUnregisteredType(t *testing.T) {
	wf := &model.Workflow{
		ID: "wf4", TenantID: "t1",
		Nodes:    []model.Node{{ID: "a", Type: "unknown.type"}},
		Triggers: []model.TriggerBinding{{NodeID: "a", Kind: model.TriggerManual}},
	}
	_, err := BuildPlan(context.Background(), wf, testRegistry(), credential.NewMemoryResolver())
	if err == nil {
		t.Fatal("expected validation error for unregistered type")
	}
}

func TestBuildPlanRejectsMissingCredential(t *testing.T) {
	wf := &model.Workflow{
		ID: "wf5", TenantID: "t1",
		Nodes:    []model.Node{{ID: "a", Type: "notify.log", CredentialID: "cred-1"}},
		Triggers: []model.TriggerBinding{{NodeID: "a", Kind: model.TriggerManual}},
	}
	_, err := BuildPlan(context.Background(), wf, testRegistry(), credential.NewMemoryResolver())
	if err == nil {
		t.Fatal("expected validation error for missing credential")
	}
}
