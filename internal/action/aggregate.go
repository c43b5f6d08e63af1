package action

import (
	"fmt"
	"reflect"
)

// CheckAggregate validates the callables passed to Aggregate for element type
// elem and accumulator type acc.
//
// The aggregator must be func(U, T) U or func(*U, T). The merger must be
// func(U, U) U or func([]U), in which case the merged value is left at index 0.
func CheckAggregate(aggregator, merger any, elem, acc reflect.Type) error {
	if err := checkAggregator(aggregator, elem, acc); err != nil {
		return err
	}
	return checkMerger(merger, acc)
}

func checkAggregator(f any, elem, acc reflect.Type) error {
	want := fmt.Sprintf("func(%[1]s, %[2]s) %[1]s or func(*%[1]s, %[2]s)", acc, elem)
	ft, err := funcType("aggregator", f, want)
	if err != nil {
		return err
	}
	if ft.NumIn() != 2 {
		return &SignatureError{Callable: "aggregator", Got: ft.String(), Want: want,
			Reason: "aggregator function must take exactly two arguments"}
	}
	if ft.In(1) != elem {
		return &SignatureError{Callable: "aggregator", Got: ft.String(), Want: want,
			Reason: fmt.Sprintf("second argument must be the column type %s", elem)}
	}
	switch {
	case ft.NumOut() == 1 && ft.In(0) == acc && ft.Out(0) == acc:
		return nil
	case ft.NumOut() == 0 && ft.In(0) == reflect.PointerTo(acc):
		return nil
	}
	return &SignatureError{Callable: "aggregator", Got: ft.String(), Want: want,
		Reason: "accumulator argument and result do not match"}
}

func checkMerger(f any, acc reflect.Type) error {
	want := fmt.Sprintf("func(%[1]s, %[1]s) %[1]s or func([]%[1]s)", acc)
	ft, err := funcType("merge", f, want)
	if err != nil {
		return err
	}
	switch {
	case ft.NumIn() == 2 && ft.NumOut() == 1 &&
		ft.In(0) == acc && ft.In(1) == acc && ft.Out(0) == acc:
		return nil
	case ft.NumIn() == 1 && ft.NumOut() == 0 && ft.In(0) == reflect.SliceOf(acc):
		return nil
	}
	return &SignatureError{Callable: "merge", Got: ft.String(), Want: want,
		Reason: "merge function must combine two accumulators or a slice of them"}
}

func funcType(name string, f any, want string) (reflect.Type, error) {
	if f == nil {
		return nil, &SignatureError{Callable: name, Got: "nil", Want: want, Reason: "not a function"}
	}
	ft := reflect.TypeOf(f)
	if ft.Kind() != reflect.Func {
		return nil, &SignatureError{Callable: name, Got: ft.String(), Want: want, Reason: "not a function"}
	}
	if ft.IsVariadic() {
		return nil, &SignatureError{Callable: name, Got: ft.String(), Want: want, Reason: "variadic functions are not accepted"}
	}
	return ft, nil
}

// stepFunc normalizes a checked aggregator to func(U, T) U.
func stepFunc[T, U any](f any) func(U, T) U {
	switch fn := f.(type) {
	case func(U, T) U:
		return fn
	case func(*U, T):
		return func(acc U, v T) U {
			fn(&acc, v)
			return acc
		}
	}
	rv := reflect.ValueOf(f)
	if rv.Type().NumOut() == 1 {
		return func(acc U, v T) U {
			out := rv.Call([]reflect.Value{reflect.ValueOf(&acc).Elem(), reflect.ValueOf(&v).Elem()})
			return out[0].Interface().(U)
		}
	}
	return func(acc U, v T) U {
		rv.Call([]reflect.Value{reflect.ValueOf(&acc), reflect.ValueOf(&v).Elem()})
		return acc
	}
}

// mergeFunc normalizes a checked merger to a fold over per-slot partials.
func mergeFunc[U any](f any) func([]U) U {
	switch fn := f.(type) {
	case func(U, U) U:
		return func(parts []U) U {
			acc := parts[0]
			for _, p := range parts[1:] {
				acc = fn(acc, p)
			}
			return acc
		}
	case func([]U):
		return func(parts []U) U {
			fn(parts)
			return parts[0]
		}
	}
	rv := reflect.ValueOf(f)
	if rv.Type().NumIn() == 2 {
		return func(parts []U) U {
			acc := parts[0]
			for i := 1; i < len(parts); i++ {
				out := rv.Call([]reflect.Value{reflect.ValueOf(&acc).Elem(), reflect.ValueOf(&parts[i]).Elem()})
				acc = out[0].Interface().(U)
			}
			return acc
		}
	}
	return func(parts []U) U {
		rv.Call([]reflect.Value{reflect.ValueOf(parts)})
		return parts[0]
	}
}

// initCopier returns a function that gives each slot its own copy of init.
// Slices, maps and pointers are copied one level deep so slot partials never
// share a backing store; other values are copied by assignment.
func initCopier[U any](init U) func() U {
	rv := reflect.ValueOf(&init).Elem()
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return func() U { return init }
		}
		return func() U {
			out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Cap())
			reflect.Copy(out, rv)
			return out.Interface().(U)
		}
	case reflect.Map:
		if rv.IsNil() {
			return func() U { return init }
		}
		return func() U {
			out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
			iter := rv.MapRange()
			for iter.Next() {
				out.SetMapIndex(iter.Key(), iter.Value())
			}
			return out.Interface().(U)
		}
	case reflect.Pointer:
		if rv.IsNil() {
			return func() U { return init }
		}
		return func() U {
			out := reflect.New(rv.Type().Elem())
			out.Elem().Set(rv.Elem())
			return out.Interface().(U)
		}
	}
	return func() U { return init }
}

type aggregateHelper[T, U any] struct {
	result   *U
	init     func() U
	step     func(U, T) U
	merge    func([]U) U
	partials []U
}

func (h *aggregateHelper[T, U]) InitSlot(slot int) { h.partials[slot] = h.init() }

func (h *aggregateHelper[T, U]) Exec(slot int, args []any) error {
	v, ok := args[0].(T)
	if !ok {
		return valueTypeError(fmt.Sprintf("%T", *new(T)), args[0])
	}
	h.partials[slot] = h.step(h.partials[slot], v)
	return nil
}

func (h *aggregateHelper[T, U]) Finalize() error {
	parts := make([]U, len(h.partials))
	copy(parts, h.partials)
	*h.result = h.merge(parts)
	return nil
}
