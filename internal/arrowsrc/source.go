// Package arrowsrc serves Arrow records to the event loop and materializes
// selected columns back into Arrow records.
package arrowsrc

import (
	"context"
	"fmt"
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"tidb-dataframe/internal/coltype"
	"tidb-dataframe/internal/source"
)

// Option configures a Source.
type Option func(*Source)

// WithPartitions sets how many entry ranges the record is split into. The
// default is one range per slot.
func WithPartitions(n int) Option {
	return func(s *Source) { s.parts = n }
}

// Source is a read-only record source over one Arrow record. Column arrays are
// immutable, so every slot reads from the same arrays.
type Source struct {
	rec   arrow.Record
	index map[string]int
	slots int
	parts int
}

var _ source.Source = (*Source)(nil)

// New wraps rec. The caller keeps ownership of rec and must keep it alive
// until the last pass over the source has finished.
func New(rec arrow.Record, opts ...Option) *Source {
	s := &Source{rec: rec, index: make(map[string]int), slots: 1}
	for i, f := range rec.Schema().Fields() {
		s.index[f.Name] = i
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Source) ColumnNames() []string {
	fields := s.rec.Schema().Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

func (s *Source) HasColumn(name string) bool {
	_, ok := s.index[name]
	return ok
}

// ColumnType maps the Arrow type of a column to a canonical type name.
func (s *Source) ColumnType(name string) (string, error) {
	i, ok := s.index[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", source.ErrUnknownColumn, name)
	}
	tag := tagOf(s.rec.Schema().Field(i).Type)
	if tag == coltype.Unknown {
		return "", fmt.Errorf("column %q has unsupported arrow type %s", name, s.rec.Schema().Field(i).Type)
	}
	return tag.String(), nil
}

func tagOf(dt arrow.DataType) coltype.Tag {
	switch dt.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return coltype.Int64
	case arrow.FLOAT32, arrow.FLOAT64:
		return coltype.Float64
	case arrow.STRING, arrow.LARGE_STRING:
		return coltype.String
	case arrow.BOOL:
		return coltype.Bool
	case arrow.TIMESTAMP:
		return coltype.Time
	default:
		return coltype.Unknown
	}
}

func (s *Source) SetSlots(n int) {
	if n < 1 {
		n = 1
	}
	s.slots = n
}

// Readers returns one reader per slot. The conversion from the Arrow array to
// the tag's Go type is chosen once here, not per value.
func (s *Source) Readers(name string, tag coltype.Tag) ([]source.Reader, error) {
	i, ok := s.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", source.ErrUnknownColumn, name)
	}
	col := s.rec.Column(i)
	if have := tagOf(col.DataType()); have != tag {
		return nil, &source.TypeMismatchError{Column: name, Want: tag, Have: have}
	}
	get, err := accessor(col)
	if err != nil {
		return nil, fmt.Errorf("column %q: %w", name, err)
	}
	// uint64 shares the int64 tag; values past MaxInt64 fail instead of wrapping.
	var overflows func(int) bool
	if u, ok := col.(*array.Uint64); ok {
		overflows = func(i int) bool { return u.Value(i) > math.MaxInt64 }
	}
	read := source.ReaderFunc(func(entry int64) (any, error) {
		if entry < 0 || entry >= int64(col.Len()) {
			return nil, fmt.Errorf("column %q: entry %d out of range", name, entry)
		}
		if col.IsNull(int(entry)) {
			return nil, fmt.Errorf("column %q: null value at entry %d", name, entry)
		}
		if overflows != nil && overflows(int(entry)) {
			return nil, fmt.Errorf("column %q: value at entry %d overflows int64", name, entry)
		}
		return get(int(entry)), nil
	})
	readers := make([]source.Reader, s.slots)
	for slot := range readers {
		readers[slot] = read
	}
	return readers, nil
}

func accessor(col arrow.Array) (func(int) any, error) {
	switch a := col.(type) {
	case *array.Int8:
		return func(i int) any { return int64(a.Value(i)) }, nil
	case *array.Int16:
		return func(i int) any { return int64(a.Value(i)) }, nil
	case *array.Int32:
		return func(i int) any { return int64(a.Value(i)) }, nil
	case *array.Int64:
		return func(i int) any { return a.Value(i) }, nil
	case *array.Uint8:
		return func(i int) any { return int64(a.Value(i)) }, nil
	case *array.Uint16:
		return func(i int) any { return int64(a.Value(i)) }, nil
	case *array.Uint32:
		return func(i int) any { return int64(a.Value(i)) }, nil
	case *array.Uint64:
		return func(i int) any { return int64(a.Value(i)) }, nil
	case *array.Float32:
		return func(i int) any { return float64(a.Value(i)) }, nil
	case *array.Float64:
		return func(i int) any { return a.Value(i) }, nil
	case *array.String:
		return func(i int) any { return a.Value(i) }, nil
	case *array.LargeString:
		return func(i int) any { return a.Value(i) }, nil
	case *array.Boolean:
		return func(i int) any { return a.Value(i) }, nil
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return func(i int) any { return a.Value(i).ToTime(unit) }, nil
	default:
		return nil, fmt.Errorf("unsupported arrow type %s", col.DataType())
	}
}

// EntryRanges splits the record into contiguous ranges.
func (s *Source) EntryRanges(_ context.Context) ([]source.Range, error) {
	parts := s.parts
	if parts < 1 {
		parts = s.slots
	}
	return source.Split(s.rec.NumRows(), parts), nil
}

func (s *Source) InitSlot(context.Context, int, source.Range) error { return nil }

func (s *Source) FinalizeSlot(int) error { return nil }
