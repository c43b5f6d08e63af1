package dataframe

import (
	"fmt"
	"reflect"

	"tidb-dataframe/internal/action"
	"tidb-dataframe/internal/coltype"
	"tidb-dataframe/internal/hist"
)

// bindCount picks how many columns to resolve for kinds that accept an
// optional weight column.
func bindCount(kind action.Kind, cols []string) (int, error) {
	lo, hi := kind.Columns()
	if len(cols) == 0 {
		return lo, nil
	}
	if len(cols) < lo || (hi >= 0 && len(cols) > hi) {
		return 0, fmt.Errorf("%s takes %d to %d columns, %d given", kind, lo, hi, len(cols))
	}
	return len(cols), nil
}

func bookNumeric[T coltype.Number, R any](f *Frame, kind action.Kind, target *R, cols []string) (*Result[R], error) {
	n, err := bindCount(kind, cols)
	if err != nil {
		return nil, err
	}
	names, _, err := f.resolve(n, cols)
	if err != nil {
		return nil, err
	}
	res := newResult(f.m, target)
	id, err := action.BuildAndBook[T](f.m, kind, action.Request{Prev: f.node, Columns: names, Target: target})
	if err != nil {
		return nil, err
	}
	res.id = id
	return res, nil
}

// Min books the minimum of a column.
func Min[T coltype.Number](f *Frame, col ...string) (*Result[T], error) {
	return bookNumeric[T](f, action.KindMin, new(T), col)
}

// Max books the maximum of a column.
func Max[T coltype.Number](f *Frame, col ...string) (*Result[T], error) {
	return bookNumeric[T](f, action.KindMax, new(T), col)
}

// Sum books the sum of a column.
func Sum[T coltype.Number](f *Frame, col ...string) (*Result[T], error) {
	return bookNumeric[T](f, action.KindSum, new(T), col)
}

// Mean books the mean of a column. The accumulator is always float64.
func Mean[T coltype.Number](f *Frame, col ...string) (*Result[float64], error) {
	return bookNumeric[T](f, action.KindMean, new(float64), col)
}

// Histo1D books a one dimensional histogram. A model without axis limits gets
// its limits from the data. An optional second column holds weights.
func Histo1D(f *Frame, model hist.Model, cols ...string) (*Result[*hist.Hist], error) {
	return bookHist(f, action.KindHisto1D, model, cols)
}

// Histo2D books a two dimensional histogram. The model needs axis limits.
func Histo2D(f *Frame, model hist.Model, cols ...string) (*Result[*hist.Hist], error) {
	return bookHist(f, action.KindHisto2D, model, cols)
}

// Histo3D books a three dimensional histogram. The model needs axis limits.
func Histo3D(f *Frame, model hist.Model, cols ...string) (*Result[*hist.Hist], error) {
	return bookHist(f, action.KindHisto3D, model, cols)
}

func bookHist(f *Frame, kind action.Kind, model hist.Model, cols []string) (*Result[*hist.Hist], error) {
	h, err := hist.FromModel(model)
	if err != nil {
		return nil, err
	}
	target := &h
	res, err := bookNumeric[float64](f, kind, h, cols)
	if err != nil {
		return nil, err
	}
	return &Result[*hist.Hist]{m: res.m, id: res.id, value: target}, nil
}

// Profile1D books a profile of the second column against the first.
func Profile1D(f *Frame, model hist.Model, cols ...string) (*Result[*hist.Profile], error) {
	return bookProfile(f, action.KindProfile1D, model, cols)
}

// Profile2D books a profile of the third column against the first two.
func Profile2D(f *Frame, model hist.Model, cols ...string) (*Result[*hist.Profile], error) {
	return bookProfile(f, action.KindProfile2D, model, cols)
}

func bookProfile(f *Frame, kind action.Kind, model hist.Model, cols []string) (*Result[*hist.Profile], error) {
	p, err := hist.NewProfile(model.Name, model.Title, model.Axes...)
	if err != nil {
		return nil, err
	}
	res, err := bookNumeric[float64](f, kind, p, cols)
	if err != nil {
		return nil, err
	}
	return &Result[*hist.Profile]{m: res.m, id: res.id, value: &p}, nil
}

// Fill books one fill of target per record. The number of columns is the
// target's arity, plus one for an optional weight.
func Fill[F hist.Filler](f *Frame, target F, cols ...string) (*Result[F], error) {
	n := target.Arity()
	if len(cols) == n+1 {
		n++
	}
	names, _, err := f.resolve(n, cols)
	if err != nil {
		return nil, err
	}
	id, err := action.BuildAndBook[float64](f.m, action.KindFill, action.Request{Prev: f.node, Columns: names, Target: target})
	if err != nil {
		return nil, err
	}
	return &Result[F]{m: f.m, id: id, value: &target}, nil
}

// Count books the number of records reaching this frame.
func Count(f *Frame) (*Result[uint64], error) {
	res := newResult(f.m, new(uint64))
	id, err := action.BuildCount(f.m, action.Request{Prev: f.node, Target: res.value})
	if err != nil {
		return nil, err
	}
	res.id = id
	return res, nil
}

// Take books the collection of every value of a column. Values from one slot
// keep source order; slots are concatenated in ascending order.
func Take[T any](f *Frame, col ...string) (*Result[[]T], error) {
	names, _, err := f.resolve(1, col)
	if err != nil {
		return nil, err
	}
	res := newResult(f.m, new([]T))
	id, err := action.BuildTake[T](f.m, action.Request{Prev: f.node, Columns: names, Target: res.value})
	if err != nil {
		return nil, err
	}
	res.id = id
	return res, nil
}

// Aggregate books a user-defined reduction of a column with element type T
// into an accumulator of type U, starting from init in every slot. Each slot
// gets its own copy of init: slices, maps and pointers are copied one level
// deep, so appending to a slice accumulator never touches another slot.
// See action.CheckAggregate for the accepted callable shapes.
func Aggregate[T, U any](f *Frame, aggregator, merger any, init U, col ...string) (*Result[U], error) {
	if err := action.CheckAggregate(aggregator, merger, reflect.TypeFor[T](), reflect.TypeFor[U]()); err != nil {
		return nil, err
	}
	names, _, err := f.resolve(1, col)
	if err != nil {
		return nil, err
	}
	res := newResult(f.m, new(U))
	id, err := action.BuildAggregate[T, U](f.m, action.Request{Prev: f.node, Columns: names, Target: res.value}, aggregator, merger, init)
	if err != nil {
		return nil, err
	}
	res.id = id
	return res, nil
}
