// Package dataframe is the declarative front end of the engine. A Frame is a
// position in the computation graph: transformations return new frames that
// share the same graph and coordinator, and actions return lazy results that
// trigger one event loop pass when first read.
package dataframe

import (
	"context"
	"slices"

	"tidb-dataframe/internal/action"
	"tidb-dataframe/internal/column"
	"tidb-dataframe/internal/graph"
	"tidb-dataframe/internal/logging"
	"tidb-dataframe/internal/loop"
	"tidb-dataframe/internal/observability"
	"tidb-dataframe/internal/source"
)

type settings struct {
	slots    int
	logger   *logging.Logger
	metrics  *observability.EngineMetrics
	defaults []string
	registry *action.Registry
}

// Option configures a root frame.
type Option func(*settings)

// WithSlots sets the number of worker slots.
func WithSlots(n int) Option { return func(s *settings) { s.slots = n } }

// WithLogger sets the logger used by the coordinator.
func WithLogger(l *logging.Logger) Option { return func(s *settings) { s.logger = l } }

// WithMetrics records event loop metrics.
func WithMetrics(m *observability.EngineMetrics) Option { return func(s *settings) { s.metrics = m } }

// WithDefaultColumns sets the columns used when an operation is given no names.
func WithDefaultColumns(names ...string) Option {
	return func(s *settings) { s.defaults = slices.Clone(names) }
}

// WithRegistry sets the registry used for dynamically typed bookings.
func WithRegistry(r *action.Registry) Option { return func(s *settings) { s.registry = r } }

// Frame is a node of the computation graph together with the coordinator
// owning it.
type Frame struct {
	m        *loop.Manager
	node     graph.NodeID
	defaults []string
	registry *action.Registry
}

// New returns the root frame over a record source.
func New(src source.Source, opts ...Option) *Frame {
	s := applyOptions(opts)
	return &Frame{m: loop.New(src, s.loopOptions()), node: graph.Root, defaults: s.defaults, registry: s.registry}
}

// NewEmpty returns the root frame over n records with no source columns.
func NewEmpty(n int64, opts ...Option) *Frame {
	s := applyOptions(opts)
	return &Frame{m: loop.NewEmpty(n, s.loopOptions()), node: graph.Root, defaults: s.defaults, registry: s.registry}
}

func applyOptions(opts []Option) *settings {
	s := &settings{slots: 1}
	for _, o := range opts {
		o(s)
	}
	if s.registry == nil {
		s.registry = action.DefaultRegistry()
	}
	return s
}

func (s *settings) loopOptions() loop.Options {
	return loop.Options{Slots: s.slots, Logger: s.logger, Metrics: s.metrics}
}

func (f *Frame) child(id graph.NodeID) *Frame {
	return &Frame{m: f.m, node: id, defaults: f.defaults, registry: f.registry}
}

// Manager returns the coordinator shared by every frame of this graph.
func (f *Frame) Manager() *loop.Manager { return f.m }

// Node returns the graph node this frame stands for.
func (f *Frame) Node() graph.NodeID { return f.node }

// DefaultColumns returns the default column list.
func (f *Frame) DefaultColumns() []string { return slices.Clone(f.defaults) }

// Columns lists derived and source columns, sorted, without internal ones.
func (f *Frame) Columns() []string {
	names := f.m.Graph().ColumnNames()
	if src := f.m.Source(); src != nil {
		names = append(names, src.ColumnNames()...)
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// Run executes every pending action now.
func (f *Frame) Run(ctx context.Context) error { return f.m.Run(ctx) }

// Report returns statistics of named filters accumulated over all passes.
func (f *Frame) Report() []loop.FilterStat { return f.m.FilterStats() }

// Range restricts downstream nodes to records begin, begin+stride, ... below
// end, counted among the records reaching this frame. End 0 means no bound.
func (f *Frame) Range(begin, end, stride int64) (*Frame, error) {
	if err := f.m.CheckRange(); err != nil {
		return nil, err
	}
	id, err := f.m.Graph().AddRange(f.node, begin, end, stride)
	if err != nil {
		return nil, err
	}
	return f.child(id), nil
}

// resolve fixes the column list for an operation needing n columns and
// defines every source column it refers to.
func (f *Frame) resolve(n int, names []string) ([]string, []graph.ColumnID, error) {
	selected, err := column.Resolve(f.m, n, names, f.defaults)
	if err != nil {
		return nil, nil, err
	}
	for _, name := range column.PendingSource(f.m, selected) {
		tag, err := f.m.SourceTag(name)
		if err != nil {
			return nil, nil, err
		}
		if _, err := f.m.DefineSourceColumn(name, tag); err != nil {
			return nil, nil, err
		}
	}
	ids, err := f.m.Graph().LookupAll(selected)
	if err != nil {
		return nil, nil, err
	}
	return selected, ids, nil
}
