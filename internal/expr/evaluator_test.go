package expr

import (
	"testing"
	"time"
)

func fixedEnv(vars map[string]any) Env {
	return Env{
		Vars: vars,
		Now:  func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
		UUID: func() string { return "00000000-0000-0000-0000-000000000000" },
		EnvLookup: func(key string) (string, bool) {
			if key == "STAGE" {
				return "prod", true
			}
			return "", false
		},
		CredentialLookup: func(field string) (any, bool) {
			if field == "username" {
				return "svc-account", true
			}
			return nil, false
		},
	}
}

func TestEvalArithmeticAndRelational(t *testing.T) {
	e := New()
	env := fixedEnv(nil)

	cases := map[string]any{
		"1 + 2 * 3":      float64(7),
		"(1 + 2) * 3":    float64(9),
		"10 % 3":         float64(1),
		"1 < 2":          true,
		"2 <= 2":         true,
		"'a' + 'b'":      "ab",
		"1 == 1":         true,
		"1 != 2":         true,
		"true && false":  false,
		"true || false":  true,
		"1 > 2 ? 'a' : 'b'": "b",
	}
	for src, want := range cases {
		got, err := e.EvalExpression(src, env)
		if err != nil {
			t.Fatalf("%s: %v", src, err)
		}
		if got != want {
			t.Errorf("%s = %v, want %v", src, got, want)
		}
	}
}

func TestEvalPropertyAccessAndUndefined(t *testing.T) {
	e := New()
	env := fixedEnv(map[string]any{
		"plan": "premium",
		"user": map[string]any{"name": "Ada", "tags": []any{"a", "b"}},
	})

	got, err := e.EvalExpression("$json.plan == 'premium'", env)
	if err != nil {
		t.Fatal(err)
	}
	if got != true {
		t.Fatalf("expected true, got %v", got)
	}

	got, err = e.EvalExpression("$json.user.tags[1]", env)
	if err != nil {
		t.Fatal(err)
	}
	if got != "b" {
		t.Fatalf("expected b, got %v", got)
	}

	got, err = e.EvalExpression("$json.missing.deep", env)
	if err != nil {
		t.Fatal(err)
	}
	if !isUndefined(got) {
		t.Fatalf("expected Undefined, got %v", got)
	}

	got, err = e.EvalExpression("$json.missing == 'x'", env)
	if err != nil {
		t.Fatal(err)
	}
	if !isUndefined(got) {
		t.Fatalf("expected comparisons against undefined to propagate, got %v", got)
	}
}

func TestEvalNamespaces(t *testing.T) {
	e := New()
	env := fixedEnv(nil)

	got, err := e.EvalExpression("$env.STAGE", env)
	if err != nil || got != "prod" {
		t.Fatalf("got %v, %v", got, err)
	}

	got, err = e.EvalExpression("$credentials.username", env)
	if err != nil || got != "svc-account" {
		t.Fatalf("got %v, %v", got, err)
	}

	got, err = e.EvalExpression("uuid()", env)
	if err != nil || got != "00000000-0000-0000-0000-000000000000" {
		t.Fatalf("got %v, %v", got, err)
	}
}

func TestResolveTemplateWholeExprPreservesType(t *testing.T) {
	e := New()
	env := fixedEnv(map[string]any{"count": float64(5)})

	got, err := e.ResolveTemplate("{{ $json.count }}", env)
	if err != nil {
		t.Fatal(err)
	}
	if got != float64(5) {
		t.Fatalf("expected native float64, got %T %v", got, got)
	}

	got, err = e.ResolveTemplate("count={{ $json.count }}", env)
	if err != nil {
		t.Fatal(err)
	}
	if got != "count=5" {
		t.Fatalf("got %v", got)
	}

	got, err = e.ResolveTemplate("no placeholders here", env)
	if err != nil {
		t.Fatal(err)
	}
	if got != "no placeholders here" {
		t.Fatalf("got %v", got)
	}
}

func TestBuiltinFunctions(t *testing.T) {
	e := New()
	env := fixedEnv(map[string]any{"items": []any{"x", "y", "z"}})

	if got, _ := e.EvalExpression("toUpper('abc')", env); got != "ABC" {
		t.Fatalf("toUpper got %v", got)
	}
	if got, _ := e.EvalExpression("length($json.items)", env); got != float64(3) {
		t.Fatalf("length got %v", got)
	}
	if got, _ := e.EvalExpression("contains($json.items, 'y')", env); got != true {
		t.Fatalf("contains got %v", got)
	}
}

func TestLoopNamespace(t *testing.T) {
	e := New()
	env := fixedEnv(nil)
	env.Loop = &LoopContext{Index: 2, Item: "widget"}

	got, err := e.EvalExpression("$loop.index", env)
	if err != nil || got != float64(2) {
		t.Fatalf("got %v, %v", got, err)
	}
	got, err = e.EvalExpression("$loop.item", env)
	if err != nil || got != "widget" {
		t.Fatalf("got %v, %v", got, err)
	}
}
