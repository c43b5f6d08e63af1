package loop

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidb-dataframe/internal/action"
	"tidb-dataframe/internal/coltype"
	"tidb-dataframe/internal/graph"
	"tidb-dataframe/internal/logging"
	"tidb-dataframe/internal/source"
)

type memSource struct {
	cols   map[string][]any
	tags   map[string]coltype.Tag
	parts  int
	slots  int
	failAt int64

	mu    sync.Mutex
	inits map[int][]source.Range
}

func newMemSource(parts int) *memSource {
	return &memSource{
		cols:   map[string][]any{},
		tags:   map[string]coltype.Tag{},
		parts:  parts,
		failAt: -1,
		inits:  map[int][]source.Range{},
	}
}

func (s *memSource) add(name string, tag coltype.Tag, vals []any) {
	s.cols[name] = vals
	s.tags[name] = tag
}

func (s *memSource) ColumnNames() []string {
	names := make([]string, 0, len(s.cols))
	for n := range s.cols {
		names = append(names, n)
	}
	return names
}

func (s *memSource) HasColumn(name string) bool {
	_, ok := s.cols[name]
	return ok
}

func (s *memSource) ColumnType(name string) (string, error) {
	tag, ok := s.tags[name]
	if !ok {
		return "", source.ErrUnknownColumn
	}
	return tag.String(), nil
}

func (s *memSource) SetSlots(n int) { s.slots = n }

func (s *memSource) Readers(name string, tag coltype.Tag) ([]source.Reader, error) {
	vals, ok := s.cols[name]
	if !ok {
		return nil, source.ErrUnknownColumn
	}
	if s.tags[name] != tag {
		return nil, &source.TypeMismatchError{Column: name, Want: tag, Have: s.tags[name]}
	}
	readers := make([]source.Reader, s.slots)
	for i := range readers {
		readers[i] = source.ReaderFunc(func(entry int64) (any, error) {
			if entry == s.failAt {
				return nil, errors.New("read failed")
			}
			return vals[entry], nil
		})
	}
	return readers, nil
}

func (s *memSource) len() int64 {
	for _, v := range s.cols {
		return int64(len(v))
	}
	return 0
}

func (s *memSource) EntryRanges(context.Context) ([]source.Range, error) {
	return source.Split(s.len(), s.parts), nil
}

func (s *memSource) InitSlot(_ context.Context, slot int, r source.Range) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inits[slot] = append(s.inits[slot], r)
	return nil
}

func (s *memSource) FinalizeSlot(int) error { return nil }

func uniform(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = float64(i%97) / 97
	}
	return out
}

func bookSum(t *testing.T, m *Manager, col string, res *float64) graph.NodeID {
	t.Helper()
	_, err := m.DefineSourceColumn(col, coltype.Float64)
	require.NoError(t, err)
	id, err := action.BuildAndBook[float64](m, action.KindSum, action.Request{Prev: graph.Root, Columns: []string{col}, Target: res})
	require.NoError(t, err)
	return id
}

func TestSumMatchesAcrossSlotCounts(t *testing.T) {
	data := uniform(1000)
	var want float64
	for _, v := range data {
		want += v.(float64)
	}
	for _, slots := range []int{1, 2, 8} {
		src := newMemSource(slots * 3)
		src.add("x", coltype.Float64, data)
		m := New(src, Options{Slots: slots})
		var sum float64
		id := bookSum(t, m, "x", &sum)

		require.NoError(t, m.Run(context.Background()))
		assert.InDelta(t, want, sum, 1e-9, "slots=%d", slots)
		done, err := m.Status(id)
		assert.True(t, done)
		assert.NoError(t, err)
	}
}

func TestRangesAssignedRoundRobin(t *testing.T) {
	src := newMemSource(6)
	src.add("x", coltype.Float64, uniform(60))
	m := New(src, Options{Slots: 3})
	var sum float64
	bookSum(t, m, "x", &sum)
	require.NoError(t, m.Run(context.Background()))

	ranges := source.Split(60, 6)
	for slot := 0; slot < 3; slot++ {
		assert.Equal(t, []source.Range{ranges[slot], ranges[slot+3]}, src.inits[slot])
	}
}

func TestRunExecutesAllBookedActionsInOnePass(t *testing.T) {
	src := newMemSource(4)
	src.add("x", coltype.Float64, uniform(100))
	m := New(src, Options{Slots: 2})

	var sum, lo float64
	bookSum(t, m, "x", &sum)
	_, err := action.BuildAndBook[float64](m, action.KindMin, action.Request{Prev: graph.Root, Columns: []string{"x"}, Target: &lo})
	require.NoError(t, err)
	assert.Equal(t, 2, m.Pending())
	assert.Empty(t, m.LastRunID())

	require.NoError(t, m.Run(context.Background()))
	assert.Equal(t, 1, m.Passes())
	assert.Equal(t, 0, m.Pending())
	runID := m.LastRunID()
	assert.NotEmpty(t, runID)
	assert.Len(t, src.inits[0], 2)
	assert.Len(t, src.inits[1], 2)

	// Nothing booked: no new pass over the data.
	require.NoError(t, m.Run(context.Background()))
	assert.Equal(t, 1, m.Passes())
	assert.Equal(t, runID, m.LastRunID())
	assert.Len(t, src.inits[0], 2)
}

func TestEnsureRunsOnlyWhenNeeded(t *testing.T) {
	m := NewEmpty(10, Options{Slots: 2})
	var count uint64
	id, err := action.BuildCount(m, action.Request{Prev: graph.Root, Target: &count})
	require.NoError(t, err)

	require.NoError(t, m.Ensure(context.Background(), id))
	assert.Equal(t, uint64(10), count)
	require.NoError(t, m.Ensure(context.Background(), id))
	assert.Equal(t, 1, m.Passes())

	assert.Error(t, m.Ensure(context.Background(), graph.NodeID(99)))
}

func TestPassFailureMarksEveryResult(t *testing.T) {
	src := newMemSource(4)
	src.add("x", coltype.Float64, uniform(100))
	src.failAt = 42
	m := New(src, Options{Slots: 2})

	var a, b float64
	idA := bookSum(t, m, "x", &a)
	idB, err := action.BuildAndBook[float64](m, action.KindMax, action.Request{Prev: graph.Root, Columns: []string{"x"}, Target: &b})
	require.NoError(t, err)

	err = m.Run(context.Background())
	var passErr *PassError
	require.ErrorAs(t, err, &passErr)
	assert.Equal(t, 1, passErr.Pass)
	assert.Contains(t, err.Error(), "read failed")

	for _, id := range []graph.NodeID{idA, idB} {
		done, err := m.Status(id)
		assert.True(t, done)
		assert.ErrorAs(t, err, &passErr)
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	m := NewEmpty(5000, Options{Slots: 2})
	var count uint64
	_, err := action.BuildCount(m, action.Request{Prev: graph.Root, Target: &count})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = m.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFilterStats(t *testing.T) {
	m := NewEmpty(10, Options{Slots: 2})
	g := m.Graph()
	entry, ok := g.Lookup("tdfentry_")
	require.True(t, ok)
	even, err := g.AddFilter(graph.Root, "even", []graph.ColumnID{entry}, func(args []any) (bool, error) {
		return args[0].(int64)%2 == 0, nil
	})
	require.NoError(t, err)
	var count uint64
	_, err = action.BuildCount(m, action.Request{Prev: even, Target: &count})
	require.NoError(t, err)

	require.NoError(t, m.Run(context.Background()))
	assert.Equal(t, uint64(5), count)
	stats := m.FilterStats()
	require.Len(t, stats, 1)
	assert.Equal(t, FilterStat{Name: "even", Accepted: 5, Rejected: 5}, stats[0])
	assert.InDelta(t, 0.5, stats[0].Pass(), 1e-12)
}

func TestDefineSourceColumnIsIdempotent(t *testing.T) {
	src := newMemSource(1)
	src.add("x", coltype.Float64, uniform(3))
	m := New(src, Options{})

	first, err := m.DefineSourceColumn("x", coltype.Float64)
	require.NoError(t, err)
	cols := m.Graph().NumColumns()
	second, err := m.DefineSourceColumn("x", coltype.Float64)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, cols, m.Graph().NumColumns())

	_, err = m.DefineSourceColumn("x", coltype.Int64)
	var mismatch *source.TypeMismatchError
	assert.ErrorAs(t, err, &mismatch)

	_, err = m.DefineSourceColumn("nope", coltype.Int64)
	assert.ErrorIs(t, err, source.ErrUnknownColumn)

	tag, err := m.SourceTag("x")
	require.NoError(t, err)
	assert.Equal(t, coltype.Float64, tag)
	assert.True(t, m.SourceProvides("x"))
	assert.False(t, m.Defined("nope"))
}

func TestEmptyManagerHasNoSourceColumns(t *testing.T) {
	m := NewEmpty(3, Options{})
	_, err := m.DefineSourceColumn("x", coltype.Float64)
	assert.ErrorIs(t, err, ErrNoSource)
	_, err = m.SourceTag("x")
	assert.ErrorIs(t, err, ErrNoSource)
	assert.False(t, m.SourceProvides("x"))
}

func TestCheckRange(t *testing.T) {
	assert.NoError(t, NewEmpty(1, Options{Slots: 1}).CheckRange())
	assert.ErrorIs(t, NewEmpty(1, Options{Slots: 4}).CheckRange(), ErrRangeMultiSlot)
}

func TestDeferredBuiltAtPassStart(t *testing.T) {
	src := newMemSource(2)
	src.add("x", coltype.Float64, uniform(50))
	m := New(src, Options{Slots: 2})

	var sum float64
	d, err := action.NewDeferred(action.DefaultRegistry(), action.KindSum, []coltype.Tag{coltype.Float64},
		action.Request{Prev: graph.Root, Columns: []string{"x"}, Target: &sum})
	require.NoError(t, err)
	m.BookDeferred(d)
	assert.False(t, m.Defined("x"))
	assert.Equal(t, 1, m.Pending())

	ctx := logging.WithVerbosity(context.Background(), logging.VerbosityDebug)
	require.NoError(t, m.Run(ctx))
	id, err := d.Bridge.Node()
	require.NoError(t, err)
	done, err := m.Status(id)
	assert.True(t, done)
	assert.NoError(t, err)
	assert.Greater(t, sum, 0.0)
	assert.True(t, m.Defined("x"))
}

func TestDeferredBuildErrorDoesNotBlockOthers(t *testing.T) {
	src := newMemSource(2)
	src.add("x", coltype.Float64, uniform(10))
	m := New(src, Options{Slots: 1})

	var sum float64
	bookSum(t, m, "x", &sum)
	d, err := action.NewDeferred(action.DefaultRegistry(), action.KindMax, []coltype.Tag{coltype.Float64},
		action.Request{Prev: graph.Root, Columns: []string{"missing"}, Target: new(float64)})
	require.NoError(t, err)
	m.BookDeferred(d)

	err = m.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Max<float64>")
	assert.Greater(t, sum, 0.0)
	_, bridgeErr := d.Bridge.Node()
	assert.Error(t, bridgeErr)
}
