package dataframe

import (
	"github.com/apache/arrow-go/v18/arrow"

	"tidb-dataframe/internal/action"
	"tidb-dataframe/internal/arrowsrc"
	"tidb-dataframe/internal/coltype"
	"tidb-dataframe/internal/column"
)

// Snapshot books the materialization of the given columns into a new Arrow
// record, one row per record reaching this frame. types must name one element
// type per column. The caller releases the record.
func Snapshot(f *Frame, types []coltype.Tag, cols ...string) (*Result[arrow.Record], error) {
	n := len(types)
	if len(cols) > 0 {
		if err := column.CheckArity(len(types), len(cols)); err != nil {
			return nil, err
		}
	}
	names, ids, err := f.resolve(n, cols)
	if err != nil {
		return nil, err
	}
	g := f.m.Graph()
	for i, id := range ids {
		if have := g.Column(id).Tag; have != types[i] {
			return nil, &action.ColumnTypeError{Column: names[i], Want: types[i].String(), Have: g.Column(id).Type}
		}
	}
	res := newResult(f.m, new(arrow.Record))
	snap, err := arrowsrc.NewSnapshot(nil, names, types, f.m.Slots(), res.value)
	if err != nil {
		return nil, err
	}
	id, err := action.BookRunner(f.m, action.KindSnapshot, action.Request{Prev: f.node, Columns: names, Target: res.value}, snap)
	if err != nil {
		return nil, err
	}
	res.id = id
	return res, nil
}
