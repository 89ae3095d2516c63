package expreval

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0 && !math.IsNaN(x)
	case string:
		return x != ""
	case []any:
		return true
	case map[string]any:
		return true
	default:
		return true
	}
}

func toNumber(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case bool:
		if x {
			return 1
		}
		return 0
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return math.NaN()
		}
		return n
	case nil:
		return 0
	default:
		return math.NaN()
	}
}

// Stringify exposes the interpreter's value-to-string coercion to other
// packages (the rule engine uses it to render a header value).
func Stringify(v any) string { return stringify(v) }

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		if x == math.Trunc(x) && !math.IsInf(x, 0) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		b, err := jsonMarshal(x)
		if err != nil {
			return fmt.Sprintf("%v", x)
		}
		return string(b)
	}
}

func looseEquals(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case float64:
		return av == toNumber(b)
	case string:
		if bs, ok := b.(string); ok {
			return av == bs
		}
		return av == stringify(b)
	case bool:
		if bb, ok := b.(bool); ok {
			return av == bb
		}
		return av == truthy(b)
	default:
		return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
	}
}

func compare(op string, a, b any) (bool, error) {
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			switch op {
			case "<":
				return as < bs, nil
			case ">":
				return as > bs, nil
			case "<=":
				return as <= bs, nil
			case ">=":
				return as >= bs, nil
			}
		}
	}
	an, bn := toNumber(a), toNumber(b)
	switch op {
	case "<":
		return an < bn, nil
	case ">":
		return an > bn, nil
	case "<=":
		return an <= bn, nil
	case ">=":
		return an >= bn, nil
	}
	return false, fmt.Errorf("unknown comparison operator %q", op)
}

// ambientObjects backs the bare `Date` and `Math` identifiers (spec.md §4.1).
var ambientObjects = map[string]any{
	"Math": map[string]any{},
	"Date": map[string]any{},
}

// resolveMethod backs `.includes()`/`.startsWith()` on strings and the
// handful of Math.* functions reachable as `Math.floor(x)` etc. It is
// consulted before plain member/object-key lookup.
func resolveMethod(recv any, name string) (HelperFunc, bool) {
	if s, ok := recv.(string); ok {
		switch name {
		case "includes":
			return func(args []any) (any, error) {
				return strings.Contains(s, argString(args, 0)), nil
			}, true
		case "startsWith":
			return func(args []any) (any, error) {
				return strings.HasPrefix(s, argString(args, 0)), nil
			}, true
		case "endsWith":
			return func(args []any) (any, error) {
				return strings.HasSuffix(s, argString(args, 0)), nil
			}, true
		case "toLowerCase":
			return func([]any) (any, error) { return strings.ToLower(s), nil }, true
		case "toUpperCase":
			return func([]any) (any, error) { return strings.ToUpper(s), nil }, true
		case "trim":
			return func([]any) (any, error) { return strings.TrimSpace(s), nil }, true
		}
	}
	if arr, ok := recv.([]any); ok {
		switch name {
		case "includes":
			return func(args []any) (any, error) {
				for _, item := range arr {
					if looseEquals(item, arg(args, 0)) {
						return true, nil
					}
				}
				return false, nil
			}, true
		case "join":
			return func(args []any) (any, error) {
				sep := ","
				if len(args) > 0 {
					sep = stringify(args[0])
				}
				parts := make([]string, len(arr))
				for i, item := range arr {
					parts[i] = stringify(item)
				}
				return strings.Join(parts, sep), nil
			}, true
		}
	}
	if obj, ok := recv.(map[string]any); ok {
		switch name {
		case "Math":
			_ = obj
		}
	}
	if m, ok := recv.(map[string]any); ok && isAmbientMath(m) {
		switch name {
		case "floor":
			return func(args []any) (any, error) { return math.Floor(toNumber(arg(args, 0))), nil }, true
		case "ceil":
			return func(args []any) (any, error) { return math.Ceil(toNumber(arg(args, 0))), nil }, true
		case "round":
			return func(args []any) (any, error) { return math.Round(toNumber(arg(args, 0))), nil }, true
		case "abs":
			return func(args []any) (any, error) { return math.Abs(toNumber(arg(args, 0))), nil }, true
		case "max":
			return func(args []any) (any, error) { return maxOf(args), nil }, true
		case "min":
			return func(args []any) (any, error) { return minOf(args), nil }, true
		case "random":
			return func([]any) (any, error) { return mathRandom(), nil }, true
		}
	}
	return nil, false
}

func isAmbientMath(m map[string]any) bool {
	return len(m) == 0
}

func arg(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

func argString(args []any, i int) string {
	return stringify(arg(args, i))
}

func maxOf(args []any) float64 {
	vals := make([]float64, len(args))
	for i, a := range args {
		vals[i] = toNumber(a)
	}
	sort.Float64s(vals)
	if len(vals) == 0 {
		return math.Inf(-1)
	}
	return vals[len(vals)-1]
}

func minOf(args []any) float64 {
	vals := make([]float64, len(args))
	for i, a := range args {
		vals[i] = toNumber(a)
	}
	sort.Float64s(vals)
	if len(vals) == 0 {
		return math.Inf(1)
	}
	return vals[0]
}
