package pipeline

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/spf13/cast"

	"tidb-dataframe/internal/coltype"
	"tidb-dataframe/internal/config"
	"tidb-dataframe/internal/graph"
)

// Comparison operators accepted by filters.
const (
	OpEq = "=="
	OpNe = "!="
	OpLt = "<"
	OpLe = "<="
	OpGt = ">"
	OpGe = ">="
	OpIn = "in"
)

// compileFilter turns a comparison against a constant into a predicate over
// values of the given tag. The constant is converted once, here.
func compileFilter(fc config.FilterConfig, tag coltype.Tag) (graph.PredicateFunc, error) {
	switch tag {
	case coltype.Int64:
		return compare(fc, toInt64, cmp.Compare[int64])
	case coltype.Float64:
		return compare(fc, cast.ToFloat64E, cmp.Compare[float64])
	case coltype.String:
		return compare(fc, cast.ToStringE, cmp.Compare[string])
	case coltype.Time:
		return compare(fc, cast.ToTimeE, time.Time.Compare)
	case coltype.Bool:
		if fc.Op != OpEq && fc.Op != OpNe && fc.Op != OpIn {
			return nil, fmt.Errorf("operator %q is not defined on bool columns", fc.Op)
		}
		return compare(fc, cast.ToBoolE, compareBool)
	default:
		return nil, fmt.Errorf("cannot filter %s columns", tag)
	}
}

func compare[T any](fc config.FilterConfig, convert func(any) (T, error), order func(a, b T) int) (graph.PredicateFunc, error) {
	consts, err := constants(fc, convert)
	if err != nil {
		return nil, err
	}
	test, err := comparison(fc.Op, consts, order)
	if err != nil {
		return nil, err
	}
	return func(args []any) (bool, error) {
		v, ok := args[0].(T)
		if !ok {
			var want T
			return false, fmt.Errorf("filter %q: got %T, want %T", fc.Name, args[0], want)
		}
		return test(v), nil
	}, nil
}

func constants[T any](fc config.FilterConfig, convert func(any) (T, error)) ([]T, error) {
	raw := []any{fc.Value}
	if fc.Op == OpIn {
		list, ok := fc.Value.([]any)
		if !ok || len(list) == 0 {
			return nil, fmt.Errorf("operator %q needs a non-empty list value", OpIn)
		}
		raw = list
	}
	out := make([]T, len(raw))
	for i, v := range raw {
		c, err := convert(v)
		if err != nil {
			return nil, fmt.Errorf("value %v: %w", v, err)
		}
		out[i] = c
	}
	return out, nil
}

func comparison[T any](op string, consts []T, order func(a, b T) int) (func(T) bool, error) {
	if op == OpIn {
		return func(v T) bool {
			return slices.ContainsFunc(consts, func(c T) bool { return order(v, c) == 0 })
		}, nil
	}
	c := consts[0]
	switch op {
	case OpEq:
		return func(v T) bool { return order(v, c) == 0 }, nil
	case OpNe:
		return func(v T) bool { return order(v, c) != 0 }, nil
	case OpLt:
		return func(v T) bool { return order(v, c) < 0 }, nil
	case OpLe:
		return func(v T) bool { return order(v, c) <= 0 }, nil
	case OpGt:
		return func(v T) bool { return order(v, c) > 0 }, nil
	case OpGe:
		return func(v T) bool { return order(v, c) >= 0 }, nil
	default:
		return nil, fmt.Errorf("unknown operator %q", op)
	}
}

// toInt64 rejects fractional constants instead of truncating them.
func toInt64(v any) (int64, error) {
	if f, ok := v.(float64); ok && f != math.Trunc(f) {
		return 0, fmt.Errorf("%v is not an integer", f)
	}
	return cast.ToInt64E(v)
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}
