package expr

import (
	"fmt"
	"strings"
	"sync"
)

// Evaluator compiles and evaluates expressions and `{{ }}` templates,
// caching compiled ASTs by source string. Grounded on the teacher
// condition evaluator's compile-once-cache-by-source pattern.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]node
}

// New returns a ready-to-use Evaluator.
func New() *Evaluator {
	return &Evaluator{cache: make(map[string]node)}
}

func (e *Evaluator) compile(src string) (node, error) {
	e.mu.RLock()
	n, ok := e.cache[src]
	e.mu.RUnlock()
	if ok {
		return n, nil
	}

	n, err := parseExpression(src)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[src] = n
	e.mu.Unlock()
	return n, nil
}

// EvalExpression evaluates a bare expression (no surrounding `{{ }}`)
// against env and returns its dynamic value. Used for edge conditions and
// pure-expression node config fields.
func (e *Evaluator) EvalExpression(src string, env Env) (any, error) {
	n, err := e.compile(src)
	if err != nil {
		return nil, fmt.Errorf("expr: parse error: %w", err)
	}
	v, err := evalNode(n, env)
	if err != nil {
		return nil, fmt.Errorf("expr: eval error: %w", err)
	}
	return v, nil
}

// EvalBool evaluates src and coerces the result to a boolean the way edge
// conditions and If nodes require: Undefined and any evaluation error are
// treated as "does not hold" by the caller (the caller decides whether that
// is itself an InputAssemblyError).
func (e *Evaluator) EvalBool(src string, env Env) (bool, error) {
	v, err := e.EvalExpression(src, env)
	if err != nil {
		return false, err
	}
	if isUndefined(v) {
		return false, nil
	}
	return truthy(v), nil
}

// ResolveTemplate scans src for one or more `{{ expr }}` placeholders and
// splices their evaluated values into the surrounding text. If src is
// exactly one placeholder with no surrounding text, the placeholder's
// native (non-stringified) value is returned — this lets `{{ $json.count
// }}` produce a number rather than the string "5" when a node config leaf
// is wholly an expression.
func (e *Evaluator) ResolveTemplate(src string, env Env) (any, error) {
	if src == "" {
		return src, nil
	}
	placeholders, err := splitTemplate(src)
	if err != nil {
		return nil, err
	}
	if len(placeholders) == 1 && placeholders[0].isWholeExpr {
		return e.EvalExpression(placeholders[0].expr, env)
	}

	var sb strings.Builder
	for _, p := range placeholders {
		if p.literal != "" {
			sb.WriteString(p.literal)
			continue
		}
		v, err := e.EvalExpression(p.expr, env)
		if err != nil {
			return nil, err
		}
		sb.WriteString(toDisplayString(v))
	}
	return sb.String(), nil
}

type templatePart struct {
	literal     string
	expr        string
	isWholeExpr bool
}

// splitTemplate splits src into literal-text and `{{ expr }}` segments. A
// string with no `{{ }}` at all comes back as a single literal part so
// ResolveTemplate is safe to call unconditionally on every string leaf of a
// node config tree (spec §4.3.3 step 2).
func splitTemplate(src string) ([]templatePart, error) {
	var parts []templatePart
	i := 0
	hadPlaceholder := false
	for i < len(src) {
		start := strings.Index(src[i:], "{{")
		if start < 0 {
			parts = append(parts, templatePart{literal: src[i:]})
			break
		}
		start += i
		if start > i {
			parts = append(parts, templatePart{literal: src[i:start]})
		}
		end := strings.Index(src[start:], "}}")
		if end < 0 {
			return nil, fmt.Errorf("expr: unterminated {{ }} placeholder in %q", src)
		}
		end += start
		exprSrc := strings.TrimSpace(src[start+2 : end])
		parts = append(parts, templatePart{expr: exprSrc})
		hadPlaceholder = true
		i = end + 2
	}
	if len(src) == 0 {
		parts = []templatePart{{literal: ""}}
	}
	if hadPlaceholder && len(parts) == 1 {
		parts[0].isWholeExpr = true
	}
	return parts, nil
}

// HasTemplate reports whether s contains at least one `{{ }}` placeholder.
func HasTemplate(s string) bool {
	return strings.Contains(s, "{{") && strings.Contains(s, "}}")
}
