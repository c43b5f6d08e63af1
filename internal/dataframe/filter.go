package dataframe

import (
	"reflect"

	"tidb-dataframe/internal/graph"
)

// Filter1 keeps records for which pred returns true. Named filters are
// reported by Frame.Report.
func Filter1[A any](f *Frame, name string, pred func(A) bool, cols ...string) (*Frame, error) {
	return filter(f, name, 1, cols, []reflect.Type{reflect.TypeFor[A]()}, func(args []any) (bool, error) {
		a, err := arg[A](args, 0)
		if err != nil {
			return false, err
		}
		return pred(a), nil
	})
}

// Filter2 keeps records for which pred returns true on two columns.
func Filter2[A, B any](f *Frame, name string, pred func(A, B) bool, cols ...string) (*Frame, error) {
	return filter(f, name, 2, cols, []reflect.Type{reflect.TypeFor[A](), reflect.TypeFor[B]()}, func(args []any) (bool, error) {
		a, err := arg[A](args, 0)
		if err != nil {
			return false, err
		}
		b, err := arg[B](args, 1)
		if err != nil {
			return false, err
		}
		return pred(a, b), nil
	})
}

// FilterFunc adds a filter over already resolved column types. It is used by
// declarative pipelines whose predicates are compiled per type tag.
func FilterFunc(f *Frame, name string, cols []string, pred graph.PredicateFunc) (*Frame, error) {
	_, ids, err := f.resolve(len(cols), cols)
	if err != nil {
		return nil, err
	}
	id, err := f.m.Graph().AddFilter(f.node, name, ids, pred)
	if err != nil {
		return nil, err
	}
	return f.child(id), nil
}

func filter(f *Frame, name string, n int, cols []string, types []reflect.Type, pred graph.PredicateFunc) (*Frame, error) {
	_, ids, err := f.resolve(n, cols)
	if err != nil {
		return nil, err
	}
	if err := argTypes(f, ids, types...); err != nil {
		return nil, err
	}
	id, err := f.m.Graph().AddFilter(f.node, name, ids, pred)
	if err != nil {
		return nil, err
	}
	return f.child(id), nil
}
