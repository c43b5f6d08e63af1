// Package tidbsource reads dataframe entries from a TiDB table. Entry i is the
// i-th row in a fixed order (the primary key unless configured otherwise), so
// every entry range maps to one ordered LIMIT/OFFSET query.
package tidbsource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tidb-dataframe/internal/coltype"
	"tidb-dataframe/internal/dbexec"
	"tidb-dataframe/internal/introspection"
	"tidb-dataframe/internal/source"
)

// Option configures a Source.
type Option func(*Source)

// WithOrderBy fixes the entry order. The default is the primary key.
func WithOrderBy(cols ...string) Option {
	return func(s *Source) { s.orderBy = cols }
}

// WithPartitions sets how many entry ranges the table is split into. The
// default is one range per slot.
func WithPartitions(n int) Option {
	return func(s *Source) { s.parts = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Source) { s.logger = l }
}

// Source is a table-backed record source. Each slot buffers the rows of the
// range it is working on; readers index into that buffer.
type Source struct {
	db      dbexec.QueryExecutor
	table   *introspection.Table
	orderBy []string
	parts   int
	logger  *slog.Logger

	mu      sync.Mutex
	slots   int
	fetch   []string // requested columns, in reader order
	fetchAt map[string]int
	buffers []*slotBuffer
}

type slotBuffer struct {
	begin int64
	n     int64
	cols  [][]any // column-major; nil marks SQL NULL
}

var _ source.Source = (*Source)(nil)

// New describes table in database and returns a source over it.
func New(ctx context.Context, db dbexec.QueryExecutor, database, table string, opts ...Option) (*Source, error) {
	t, err := introspection.DescribeTable(ctx, db, database, table)
	if errors.Is(err, introspection.ErrTableNotFound) {
		if names, lerr := introspection.ListTables(ctx, db, database); lerr == nil && len(names) > 0 {
			return nil, fmt.Errorf("%w (available: %s)", err, strings.Join(names, ", "))
		}
	}
	if err != nil {
		return nil, err
	}
	return FromTable(db, t, opts...)
}

// FromTable returns a source over already described table metadata.
func FromTable(db dbexec.QueryExecutor, t *introspection.Table, opts ...Option) (*Source, error) {
	s := &Source{db: db, table: t, slots: 1, fetchAt: make(map[string]int)}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if len(s.orderBy) == 0 {
		s.orderBy = t.OrderColumns()
	}
	for _, name := range s.orderBy {
		if _, ok := t.Column(name); !ok {
			return nil, fmt.Errorf("order column %q: %w", name, source.ErrUnknownColumn)
		}
	}
	s.buffers = make([]*slotBuffer, s.slots)
	return s, nil
}

// Table returns the table metadata.
func (s *Source) Table() *introspection.Table { return s.table }

func (s *Source) ColumnNames() []string { return s.table.ColumnNames() }

func (s *Source) HasColumn(name string) bool {
	_, ok := s.table.Column(name)
	return ok
}

// ColumnType maps the SQL column type to a canonical type name.
func (s *Source) ColumnType(name string) (string, error) {
	col, ok := s.table.Column(name)
	if !ok {
		return "", fmt.Errorf("%w: %q", source.ErrUnknownColumn, name)
	}
	return col.Tag().String(), nil
}

func (s *Source) SetSlots(n int) {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots = n
	s.buffers = make([]*slotBuffer, n)
}

// Readers registers name for fetching and returns one reader per slot.
func (s *Source) Readers(name string, tag coltype.Tag) ([]source.Reader, error) {
	col, ok := s.table.Column(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", source.ErrUnknownColumn, name)
	}
	if have := col.Tag(); have != tag {
		return nil, &source.TypeMismatchError{Column: name, Want: tag, Have: have}
	}

	s.mu.Lock()
	idx, ok := s.fetchAt[col.Name]
	if !ok {
		idx = len(s.fetch)
		s.fetch = append(s.fetch, col.Name)
		s.fetchAt[col.Name] = idx
	}
	slots := s.slots
	s.mu.Unlock()

	readers := make([]source.Reader, slots)
	for slot := range readers {
		readers[slot] = source.ReaderFunc(func(entry int64) (any, error) {
			buf := s.buffers[slot]
			if buf == nil || entry < buf.begin || entry >= buf.begin+buf.n {
				return nil, fmt.Errorf("column %q: entry %d is not loaded in slot %d", name, entry, slot)
			}
			v := buf.cols[idx][entry-buf.begin]
			if v == nil {
				return nil, fmt.Errorf("column %q: null value at entry %d", name, entry)
			}
			return v, nil
		})
	}
	return readers, nil
}

// EntryRanges counts the table rows and splits them into ranges.
func (s *Source) EntryRanges(ctx context.Context) ([]source.Range, error) {
	ctx, span := startSpan(ctx, "tidbsource.count", attribute.String("db.table", s.table.Name))
	defer span.End()

	query, args, err := sq.Select("COUNT(*)").
		From(qualified(s.table.Schema, s.table.Name)).
		PlaceholderFormat(sq.Question).
		ToSql()
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to count rows of %s: %w", s.table.Name, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int64("db.rows", n))

	s.mu.Lock()
	parts := s.parts
	if parts < 1 {
		parts = s.slots
	}
	s.mu.Unlock()
	return source.Split(n, parts), nil
}

// InitSlot loads the rows of r into the slot buffer.
func (s *Source) InitSlot(ctx context.Context, slot int, r source.Range) error {
	buf := &slotBuffer{begin: r.Begin, n: r.Len(), cols: make([][]any, len(s.fetch))}
	if len(s.fetch) == 0 || buf.n == 0 {
		s.buffers[slot] = buf
		return nil
	}

	ctx, span := startSpan(ctx, "tidbsource.fetch",
		attribute.String("db.table", s.table.Name),
		attribute.Int("dataframe.slot", slot),
		attribute.Int64("dataframe.range.begin", r.Begin),
		attribute.Int64("dataframe.range.end", r.End),
	)
	defer span.End()

	// A failed load must not leave the previous range readable.
	s.buffers[slot] = nil
	query, args, err := s.rangeQuery(r)
	if err != nil {
		recordSpanError(span, err)
		return err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("failed to read entries [%d, %d) of %s: %w", r.Begin, r.End, s.table.Name, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	for i := range buf.cols {
		buf.cols[i] = make([]any, 0, buf.n)
	}
	dest, scanned := s.scanTargets()
	var got int64
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			recordSpanError(span, err)
			return err
		}
		for i, v := range scanned() {
			buf.cols[i] = append(buf.cols[i], v)
		}
		got++
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return err
	}
	if got != buf.n {
		// Rows were inserted or deleted since the ranges were computed.
		err := fmt.Errorf("table %s changed during the pass: range [%d, %d) returned %d rows", s.table.Name, r.Begin, r.End, got)
		recordSpanError(span, err)
		return err
	}
	span.SetAttributes(attribute.Int64("db.rows", got))
	s.buffers[slot] = buf
	return nil
}

// FinalizeSlot drops the slot buffer.
func (s *Source) FinalizeSlot(slot int) error {
	s.buffers[slot] = nil
	return nil
}

func (s *Source) rangeQuery(r source.Range) (string, []any, error) {
	cols := make([]string, len(s.fetch))
	for i, name := range s.fetch {
		cols[i] = quoteIdentifier(name)
	}
	order := make([]string, len(s.orderBy))
	for i, name := range s.orderBy {
		order[i] = quoteIdentifier(name)
	}
	return sq.Select(cols...).
		From(qualified(s.table.Schema, s.table.Name)).
		OrderBy(order...).
		Limit(uint64(r.Len())).
		Offset(uint64(r.Begin)).
		PlaceholderFormat(sq.Question).
		ToSql()
}

// scanTargets returns nullable scan destinations for the fetched columns and
// a function turning the last scanned row into tag-typed values.
func (s *Source) scanTargets() ([]any, func() []any) {
	dest := make([]any, len(s.fetch))
	read := make([]func() any, len(s.fetch))
	for i, name := range s.fetch {
		col, _ := s.table.Column(name)
		switch col.Tag() {
		case coltype.Int64:
			var v sql.NullInt64
			dest[i], read[i] = &v, func() any { return nullable(v.Valid, v.Int64) }
		case coltype.Float64:
			var v sql.NullFloat64
			dest[i], read[i] = &v, func() any { return nullable(v.Valid, v.Float64) }
		case coltype.Bool:
			var v sql.NullBool
			dest[i], read[i] = &v, func() any { return nullable(v.Valid, v.Bool) }
		case coltype.Time:
			var v sql.NullTime
			dest[i], read[i] = &v, func() any { return nullable(v.Valid, v.Time) }
		default:
			var v sql.NullString
			dest[i], read[i] = &v, func() any { return nullable(v.Valid, v.String) }
		}
	}
	out := make([]any, len(s.fetch))
	return dest, func() []any {
		for i, r := range read {
			out[i] = r()
		}
		return out
	}
}

func nullable[T any](valid bool, v T) any {
	if !valid {
		return nil
	}
	return v
}

func quoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func qualified(schema, table string) string {
	if schema == "" {
		return quoteIdentifier(table)
	}
	return quoteIdentifier(schema) + "." + quoteIdentifier(table)
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("tidb-dataframe/tidbsource").Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
