package expr

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type builtinFunc func(env Env, args []any) (any, error)

var builtins = map[string]builtinFunc{
	"now":  biNow,
	"uuid": biUUID,

	"toUpper":  biToUpper,
	"toLower":  biToLower,
	"length":   biLength,
	"contains": biContains,

	"addDays":  biAddDays,
	"addHours": biAddHours,
	"diffMs":   biDiffMs,

	"jsonPath": biJSONPath,
}

func biNow(env Env, args []any) (any, error) {
	now := time.Now
	if env.Now != nil {
		now = env.Now
	}
	return now().Format(time.RFC3339Nano), nil
}

func biUUID(env Env, args []any) (any, error) {
	if env.UUID == nil {
		return nil, fmt.Errorf("expr: uuid() requires an injected UUID source")
	}
	return env.UUID(), nil
}

func biToUpper(env Env, args []any) (any, error) {
	s, err := requireString(args, 0, "toUpper")
	if err != nil {
		return nil, err
	}
	return strings.ToUpper(s), nil
}

func biToLower(env Env, args []any) (any, error) {
	s, err := requireString(args, 0, "toLower")
	if err != nil {
		return nil, err
	}
	return strings.ToLower(s), nil
}

func biLength(env Env, args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expr: length() takes exactly one argument")
	}
	switch v := args[0].(type) {
	case Undefined:
		return Undefined{}, nil
	case string:
		return float64(len([]rune(v))), nil
	case []any:
		return float64(len(v)), nil
	case map[string]any:
		return float64(len(v)), nil
	default:
		return nil, fmt.Errorf("expr: length() unsupported for %T", v)
	}
}

func biContains(env Env, args []any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("expr: contains() takes exactly two arguments")
	}
	if isUndefined(args[0]) || isUndefined(args[1]) {
		return Undefined{}, nil
	}
	switch haystack := args[0].(type) {
	case string:
		needle := toDisplayString(args[1])
		return strings.Contains(haystack, needle), nil
	case []any:
		for _, item := range haystack {
			if valuesEqual(item, args[1]) {
				return true, nil
			}
		}
		return false, nil
	default:
		return nil, fmt.Errorf("expr: contains() unsupported for %T", haystack)
	}
}

func biAddDays(env Env, args []any) (any, error) { return addDuration(args, 24*time.Hour) }
func biAddHours(env Env, args []any) (any, error) { return addDuration(args, time.Hour) }

func addDuration(args []any, unit time.Duration) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("expr: date arithmetic takes exactly two arguments")
	}
	if isUndefined(args[0]) || isUndefined(args[1]) {
		return Undefined{}, nil
	}
	ts, err := parseTimeArg(args[0])
	if err != nil {
		return nil, err
	}
	n, ok := asFloat(args[1])
	if !ok {
		return nil, fmt.Errorf("expr: date arithmetic requires a numeric amount")
	}
	return ts.Add(time.Duration(n) * unit).Format(time.RFC3339Nano), nil
}

func biDiffMs(env Env, args []any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("expr: diffMs() takes exactly two arguments")
	}
	if isUndefined(args[0]) || isUndefined(args[1]) {
		return Undefined{}, nil
	}
	a, err := parseTimeArg(args[0])
	if err != nil {
		return nil, err
	}
	b, err := parseTimeArg(args[1])
	if err != nil {
		return nil, err
	}
	return float64(a.Sub(b).Milliseconds()), nil
}

func biJSONPath(env Env, args []any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("expr: jsonPath() takes exactly two arguments")
	}
	path, ok := args[1].(string)
	if !ok {
		return nil, fmt.Errorf("expr: jsonPath() second argument must be a string path")
	}
	return gjsonPath(args[0], path)
}

func parseTimeArg(v any) (time.Time, error) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("expr: expected a timestamp string")
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("expr: invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

func requireString(args []any, i int, fn string) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("expr: %s() missing argument %d", fn, i)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("expr: %s() argument %d must be a string", fn, i)
	}
	return s, nil
}

func marshalForGJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}
