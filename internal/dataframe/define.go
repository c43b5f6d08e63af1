package dataframe

import (
	"fmt"
	"reflect"

	"tidb-dataframe/internal/column"
	"tidb-dataframe/internal/graph"
)

func define[R any](f *Frame, name string, n int, cols []string, check func([]graph.ColumnID) error, eval graph.EvalFunc) (*Frame, error) {
	if err := column.CheckDefinable(f.m, name); err != nil {
		return nil, err
	}
	names, ids, err := f.resolve(n, cols)
	if err != nil {
		return nil, err
	}
	if err := check(ids); err != nil {
		return nil, err
	}
	g := f.m.Graph()
	id, err := g.AddDefine(f.node, name, reflect.TypeFor[R](), ids, eval)
	if err != nil {
		return nil, fmt.Errorf("define %q from %v: %w", name, names, err)
	}
	return f.child(g.Column(id).Node), nil
}

// Define1 adds a column computed from one input column.
func Define1[A, R any](f *Frame, name string, fn func(A) R, cols ...string) (*Frame, error) {
	return define[R](f, name, 1, cols,
		func(ids []graph.ColumnID) error { return argTypes(f, ids, reflect.TypeFor[A]()) },
		func(_ int, _ int64, args []any) (any, error) {
			a, err := arg[A](args, 0)
			if err != nil {
				return nil, err
			}
			return fn(a), nil
		})
}

// Define2 adds a column computed from two input columns.
func Define2[A, B, R any](f *Frame, name string, fn func(A, B) R, cols ...string) (*Frame, error) {
	return define[R](f, name, 2, cols,
		func(ids []graph.ColumnID) error {
			return argTypes(f, ids, reflect.TypeFor[A](), reflect.TypeFor[B]())
		},
		func(_ int, _ int64, args []any) (any, error) {
			a, err := arg[A](args, 0)
			if err != nil {
				return nil, err
			}
			b, err := arg[B](args, 1)
			if err != nil {
				return nil, err
			}
			return fn(a, b), nil
		})
}

// Define3 adds a column computed from three input columns.
func Define3[A, B, C, R any](f *Frame, name string, fn func(A, B, C) R, cols ...string) (*Frame, error) {
	return define[R](f, name, 3, cols,
		func(ids []graph.ColumnID) error {
			return argTypes(f, ids, reflect.TypeFor[A](), reflect.TypeFor[B](), reflect.TypeFor[C]())
		},
		func(_ int, _ int64, args []any) (any, error) {
			a, err := arg[A](args, 0)
			if err != nil {
				return nil, err
			}
			b, err := arg[B](args, 1)
			if err != nil {
				return nil, err
			}
			c, err := arg[C](args, 2)
			if err != nil {
				return nil, err
			}
			return fn(a, b, c), nil
		})
}

// DefineSlotEntry adds a column computed from the slot and record index.
func DefineSlotEntry[R any](f *Frame, name string, fn func(slot int, entry int64) R) (*Frame, error) {
	return define[R](f, name, 0, nil,
		func([]graph.ColumnID) error { return nil },
		func(slot int, entry int64, _ []any) (any, error) { return fn(slot, entry), nil })
}

func arg[T any](args []any, i int) (T, error) {
	v, ok := args[i].(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("argument %d: expected %T, got %T", i, zero, args[i])
	}
	return v, nil
}

// argTypes checks that the bound columns carry the parameter types of a callable.
func argTypes(f *Frame, ids []graph.ColumnID, want ...reflect.Type) error {
	g := f.m.Graph()
	for i, id := range ids {
		col := g.Column(id)
		if col.Type != want[i] {
			return &ArgTypeError{Column: col.Name, Position: i, Want: want[i], Have: col.Type}
		}
	}
	return nil
}

// ArgTypeError reports a bound column that does not match a callable parameter.
type ArgTypeError struct {
	Column   string
	Position int
	Want     reflect.Type
	Have     reflect.Type
}

func (e *ArgTypeError) Error() string {
	return fmt.Sprintf("column %q bound to parameter %d holds %v values, callable expects %v",
		e.Column, e.Position, e.Have, e.Want)
}
