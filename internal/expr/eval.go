package expr

import (
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// Env is the evaluation environment injected by the caller. Time and UUID
// values are sourced from Now/UUID rather than read directly so that
// evaluation stays pure and deterministic under test (spec §4.5, §8).
type Env struct {
	// Vars backs the $json namespace: the node's assembled input bag.
	Vars map[string]any

	Now  func() time.Time
	UUID func() string

	// EnvLookup backs $env.KEY; ok=false means undefined, not empty string.
	EnvLookup func(key string) (string, bool)

	// CredentialLookup backs $credentials.field; the broker (not the
	// evaluator) decides which fields, if any, are allowlisted for
	// expression output.
	CredentialLookup func(field string) (any, bool)

	Loop *LoopContext
}

type evalError struct {
	msg string
}

func (e *evalError) Error() string { return e.msg }

func evalNode(n node, env Env) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("expr: evaluation panic: %v", r)
		}
	}()
	return eval(n, env)
}

func eval(n node, env Env) (any, error) {
	switch x := n.(type) {
	case numberLit:
		return x.value, nil
	case stringLit:
		return x.value, nil
	case boolLit:
		return x.value, nil
	case nullLit:
		return nil, nil
	case identExpr:
		return evalIdent(x, env)
	case memberExpr:
		return evalMember(x, env)
	case indexExpr:
		return evalIndex(x, env)
	case callExpr:
		return evalCall(x, env)
	case unaryExpr:
		return evalUnary(x, env)
	case binaryExpr:
		return evalBinary(x, env)
	case ternaryExpr:
		cond, err := eval(x.cond, env)
		if err != nil {
			return nil, err
		}
		if isUndefined(cond) {
			return Undefined{}, nil
		}
		if truthy(cond) {
			return eval(x.then, env)
		}
		return eval(x.els, env)
	default:
		return nil, fmt.Errorf("expr: unhandled node type %T", n)
	}
}

func evalIdent(x identExpr, env Env) (any, error) {
	switch x.name {
	case "$json":
		return map[string]any(env.Vars), nil
	case "$env":
		return envNamespace{}, nil
	case "$credentials":
		return credsNamespace{}, nil
	case "$now":
		now := time.Now
		if env.Now != nil {
			now = env.Now
		}
		return now().Format(time.RFC3339Nano), nil
	case "$loop":
		if env.Loop == nil {
			return Undefined{}, nil
		}
		return map[string]any{"index": float64(env.Loop.Index), "item": env.Loop.Item}, nil
	default:
		if v, ok := env.Vars[x.name]; ok {
			return v, nil
		}
		return Undefined{}, nil
	}
}

func evalMember(x memberExpr, env Env) (any, error) {
	base, err := eval(x.target, env)
	if err != nil {
		return nil, err
	}
	switch base.(type) {
	case envNamespace:
		if env.EnvLookup == nil {
			return Undefined{}, nil
		}
		if v, ok := env.EnvLookup(x.field); ok {
			return v, nil
		}
		return Undefined{}, nil
	case credsNamespace:
		if env.CredentialLookup == nil {
			return Undefined{}, nil
		}
		if v, ok := env.CredentialLookup(x.field); ok {
			return v, nil
		}
		return Undefined{}, nil
	}
	return memberOf(base, x.field)
}

func memberOf(base any, field string) (any, error) {
	switch b := base.(type) {
	case Undefined:
		return Undefined{}, nil
	case map[string]any:
		if v, ok := b[field]; ok {
			return v, nil
		}
		return Undefined{}, nil
	default:
		return Undefined{}, nil
	}
}

func evalIndex(x indexExpr, env Env) (any, error) {
	base, err := eval(x.target, env)
	if err != nil {
		return nil, err
	}
	idx, err := eval(x.index, env)
	if err != nil {
		return nil, err
	}
	if isUndefined(base) || isUndefined(idx) {
		return Undefined{}, nil
	}
	switch b := base.(type) {
	case []any:
		f, ok := asFloat(idx)
		if !ok {
			return Undefined{}, nil
		}
		i := int(f)
		if i < 0 || i >= len(b) {
			return Undefined{}, nil
		}
		return b[i], nil
	case map[string]any:
		key := toDisplayString(idx)
		if v, ok := b[key]; ok {
			return v, nil
		}
		return Undefined{}, nil
	default:
		return Undefined{}, nil
	}
}

func evalUnary(x unaryExpr, env Env) (any, error) {
	v, err := eval(x.rhs, env)
	if err != nil {
		return nil, err
	}
	if isUndefined(v) {
		return Undefined{}, nil
	}
	switch x.op {
	case tokBang:
		return !truthy(v), nil
	case tokMinus:
		f, ok := asFloat(v)
		if !ok {
			return nil, fmt.Errorf("expr: cannot negate non-numeric value %v", v)
		}
		return -f, nil
	default:
		return nil, fmt.Errorf("expr: unknown unary operator")
	}
}

func evalBinary(x binaryExpr, env Env) (any, error) {
	// Logical operators short-circuit and must be evaluated before forcing
	// both operands (Undefined on the short-circuited side is irrelevant).
	if x.op == tokAndAnd {
		lhs, err := eval(x.lhs, env)
		if err != nil {
			return nil, err
		}
		if isUndefined(lhs) {
			return Undefined{}, nil
		}
		if !truthy(lhs) {
			return false, nil
		}
		rhs, err := eval(x.rhs, env)
		if err != nil {
			return nil, err
		}
		if isUndefined(rhs) {
			return Undefined{}, nil
		}
		return truthy(rhs), nil
	}
	if x.op == tokOrOr {
		lhs, err := eval(x.lhs, env)
		if err != nil {
			return nil, err
		}
		if !isUndefined(lhs) && truthy(lhs) {
			return true, nil
		}
		rhs, err := eval(x.rhs, env)
		if err != nil {
			return nil, err
		}
		if isUndefined(rhs) {
			return Undefined{}, nil
		}
		return truthy(rhs), nil
	}

	lhs, err := eval(x.lhs, env)
	if err != nil {
		return nil, err
	}
	rhs, err := eval(x.rhs, env)
	if err != nil {
		return nil, err
	}
	if isUndefined(lhs) || isUndefined(rhs) {
		return Undefined{}, nil
	}

	switch x.op {
	case tokPlus:
		lf, lok := asFloat(lhs)
		rf, rok := asFloat(rhs)
		if lok && rok {
			if _, lIsStr := lhs.(string); !lIsStr {
				if _, rIsStr := rhs.(string); !rIsStr {
					return lf + rf, nil
				}
			}
		}
		return toDisplayString(lhs) + toDisplayString(rhs), nil
	case tokMinus, tokStar, tokSlash, tokPercent:
		lf, lok := asFloat(lhs)
		rf, rok := asFloat(rhs)
		if !lok || !rok {
			return nil, fmt.Errorf("expr: arithmetic on non-numeric operands")
		}
		switch x.op {
		case tokMinus:
			return lf - rf, nil
		case tokStar:
			return lf * rf, nil
		case tokSlash:
			if rf == 0 {
				return nil, fmt.Errorf("expr: division by zero")
			}
			return lf / rf, nil
		case tokPercent:
			if rf == 0 {
				return nil, fmt.Errorf("expr: modulo by zero")
			}
			return float64(int64(lf) % int64(rf)), nil
		}
	case tokEq:
		return valuesEqual(lhs, rhs), nil
	case tokNeq:
		return !valuesEqual(lhs, rhs), nil
	case tokLt, tokLte, tokGt, tokGte:
		lf, lok := asFloat(lhs)
		rf, rok := asFloat(rhs)
		if lok && rok {
			return compareFloat(lf, rf, x.op), nil
		}
		ls, lIsStr := lhs.(string)
		rs, rIsStr := rhs.(string)
		if lIsStr && rIsStr {
			return compareString(ls, rs, x.op), nil
		}
		return nil, fmt.Errorf("expr: relational operator on incomparable operands")
	}
	return nil, fmt.Errorf("expr: unknown binary operator")
}

func compareFloat(l, r float64, op tokenKind) bool {
	switch op {
	case tokLt:
		return l < r
	case tokLte:
		return l <= r
	case tokGt:
		return l > r
	case tokGte:
		return l >= r
	}
	return false
}

func compareString(l, r string, op tokenKind) bool {
	switch op {
	case tokLt:
		return l < r
	case tokLte:
		return l <= r
	case tokGt:
		return l > r
	case tokGte:
		return l >= r
	}
	return false
}

func valuesEqual(a, b any) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		_, aStr := a.(string)
		_, bStr := b.(string)
		if !aStr && !bStr {
			return af == bf
		}
	}
	as, aIsStr := a.(string)
	bs, bIsStr := b.(string)
	if aIsStr && bIsStr {
		return as == bs
	}
	ab, aIsBool := a.(bool)
	bb, bIsBool := b.(bool)
	if aIsBool && bIsBool {
		return ab == bb
	}
	if a == nil && b == nil {
		return true
	}
	return false
}

func evalCall(x callExpr, env Env) (any, error) {
	args := make([]any, len(x.args))
	for i, a := range x.args {
		v, err := eval(a, env)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	name := x.callee
	if len(name) > 0 && name[0] == '$' {
		name = name[1:]
	}
	fn, ok := builtins[name]
	if !ok {
		return nil, fmt.Errorf("expr: unknown function %q", x.callee)
	}
	return fn(env, args)
}

// gjsonPath extracts a value from an already-decoded JSON tree using a
// dotted/indexed path, reusing gjson's path syntax for the leaf-level
// traversal instead of a hand-rolled walker.
func gjsonPath(root any, path string) (any, error) {
	data, err := marshalForGJSON(root)
	if err != nil {
		return nil, err
	}
	res := gjson.GetBytes(data, path)
	if !res.Exists() {
		return Undefined{}, nil
	}
	return res.Value(), nil
}
