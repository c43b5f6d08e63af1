package arrowsrc

import (
	"errors"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"tidb-dataframe/internal/coltype"
	"tidb-dataframe/internal/column"
)

// TimeType is the Arrow type time columns are written with.
var TimeType = &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}

// DataType returns the Arrow type used to store values of a tag.
func DataType(tag coltype.Tag) (arrow.DataType, error) {
	switch tag {
	case coltype.Int64:
		return arrow.PrimitiveTypes.Int64, nil
	case coltype.Float64:
		return arrow.PrimitiveTypes.Float64, nil
	case coltype.String:
		return arrow.BinaryTypes.String, nil
	case coltype.Bool:
		return arrow.FixedWidthTypes.Boolean, nil
	case coltype.Time:
		return TimeType, nil
	default:
		return nil, fmt.Errorf("no arrow type for %s columns", tag)
	}
}

// Schema builds the schema of a snapshot of the named columns.
func Schema(names []string, tags []coltype.Tag) (*arrow.Schema, error) {
	if err := column.CheckArity(len(tags), len(names)); err != nil {
		return nil, err
	}
	fields := make([]arrow.Field, len(names))
	for i, name := range names {
		dt, err := DataType(tags[i])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		fields[i] = arrow.Field{Name: name, Type: dt}
	}
	return arrow.NewSchema(fields, nil), nil
}

// Snapshot is an action helper writing every record it sees into a new Arrow
// record. Each slot appends to its own builder; the slot records are
// concatenated in ascending slot order when the pass finishes.
type Snapshot struct {
	mem      memory.Allocator
	schema   *arrow.Schema
	tags     []coltype.Tag
	builders []*array.RecordBuilder
	result   *arrow.Record
}

// NewSnapshot creates the helper. result receives the record, which the caller
// must release.
func NewSnapshot(mem memory.Allocator, names []string, tags []coltype.Tag, slots int, result *arrow.Record) (*Snapshot, error) {
	if result == nil {
		return nil, errors.New("snapshot needs a result record pointer")
	}
	schema, err := Schema(names, tags)
	if err != nil {
		return nil, err
	}
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	return &Snapshot{
		mem:      mem,
		schema:   schema,
		tags:     append([]coltype.Tag(nil), tags...),
		builders: make([]*array.RecordBuilder, slots),
		result:   result,
	}, nil
}

func (s *Snapshot) InitSlot(slot int) {
	if s.builders[slot] == nil {
		s.builders[slot] = array.NewRecordBuilder(s.mem, s.schema)
	}
}

func (s *Snapshot) Exec(slot int, args []any) error {
	b := s.builders[slot]
	for i, v := range args {
		if err := appendValue(b.Field(i), s.tags[i], v); err != nil {
			return fmt.Errorf("snapshot column %q: %w", s.schema.Field(i).Name, err)
		}
	}
	return nil
}

func appendValue(fb array.Builder, tag coltype.Tag, v any) error {
	switch tag {
	case coltype.Int64:
		x, ok := v.(int64)
		if !ok {
			return fmt.Errorf("got %T, want int64", v)
		}
		fb.(*array.Int64Builder).Append(x)
	case coltype.Float64:
		x, ok := v.(float64)
		if !ok {
			return fmt.Errorf("got %T, want float64", v)
		}
		fb.(*array.Float64Builder).Append(x)
	case coltype.String:
		x, ok := v.(string)
		if !ok {
			return fmt.Errorf("got %T, want string", v)
		}
		fb.(*array.StringBuilder).Append(x)
	case coltype.Bool:
		x, ok := v.(bool)
		if !ok {
			return fmt.Errorf("got %T, want bool", v)
		}
		fb.(*array.BooleanBuilder).Append(x)
	case coltype.Time:
		x, ok := v.(time.Time)
		if !ok {
			return fmt.Errorf("got %T, want time.Time", v)
		}
		fb.(*array.TimestampBuilder).Append(arrow.Timestamp(x.UnixMicro()))
	default:
		return fmt.Errorf("unsupported tag %s", tag)
	}
	return nil
}

func (s *Snapshot) Finalize() error {
	parts := make([]arrow.Record, 0, len(s.builders))
	defer func() {
		for _, p := range parts {
			p.Release()
		}
	}()
	for i, b := range s.builders {
		if b == nil {
			continue
		}
		parts = append(parts, b.NewRecord())
		b.Release()
		s.builders[i] = nil
	}
	rec, err := concat(s.mem, s.schema, parts)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	*s.result = rec
	return nil
}
