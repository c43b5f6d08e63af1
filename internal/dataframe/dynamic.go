package dataframe

import (
	"tidb-dataframe/internal/action"
	"tidb-dataframe/internal/coltype"
	"tidb-dataframe/internal/column"
	"tidb-dataframe/internal/hist"
)

// Book requests an action on columns whose element types are looked up by
// name: derived columns report their tag, source columns their store type
// name. The specialization is chosen from the registry now and built at the
// start of the next pass. The model is only used by histogram kinds.
func Book(f *Frame, kind action.Kind, model hist.Model, cols ...string) (*DynamicResult, error) {
	n, err := bindCount(kind, cols)
	if err != nil {
		return nil, err
	}
	names, err := resolveNames(f, n, cols)
	if err != nil {
		return nil, err
	}
	tags := make([]coltype.Tag, len(names))
	for i, name := range names {
		if tags[i], err = f.ColumnTag(name); err != nil {
			return nil, err
		}
	}
	d, err := action.NewDeferred(f.registry, kind, tags, action.Request{Prev: f.node, Columns: names})
	if err != nil {
		return nil, err
	}
	target, err := d.Entry.NewTarget(model)
	if err != nil {
		return nil, err
	}
	d.Request.Target = target
	f.m.BookDeferred(d)
	return &DynamicResult{m: f.m, bridge: d.Bridge, sig: d.Signature(), target: target}, nil
}

// resolveNames validates names without defining source columns. Deferred
// bookings define them just before the build.
func resolveNames(f *Frame, n int, cols []string) ([]string, error) {
	return column.Resolve(f.m, n, cols, f.defaults)
}

// ColumnTag returns the element type of a derived or source column.
func (f *Frame) ColumnTag(name string) (coltype.Tag, error) {
	g := f.m.Graph()
	if id, ok := g.Lookup(name); ok {
		return g.Column(id).Tag, nil
	}
	return f.m.SourceTag(name)
}
