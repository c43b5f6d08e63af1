// Package source defines the record source contract consumed by the loop coordinator.
// Storage engines implement Source; the core never reaches past it.
package source

import (
	"context"
	"errors"
	"fmt"

	"tidb-dataframe/internal/coltype"
)

// ErrUnknownColumn is returned when a source is asked for a column it does not provide.
var ErrUnknownColumn = errors.New("unknown column")

// Range is a half-open interval [Begin, End) of record indices.
type Range struct {
	Begin int64
	End   int64
}

// Len returns the number of records in the range.
func (r Range) Len() int64 {
	if r.End <= r.Begin {
		return 0
	}
	return r.End - r.Begin
}

// Reader yields the value of one column for one slot. A Reader is only used by
// the slot it was created for, so implementations need no locking.
type Reader interface {
	Value(entry int64) (any, error)
}

// ReaderFunc adapts a function to the Reader interface.
type ReaderFunc func(entry int64) (any, error)

// Value calls f(entry).
func (f ReaderFunc) Value(entry int64) (any, error) { return f(entry) }

// Source is a columnar record store.
//
// The coordinator calls SetSlots once, then Readers for each column it needs,
// then EntryRanges. During the pass each slot calls InitSlot before reading a
// range and FinalizeSlot after it.
type Source interface {
	ColumnNames() []string
	HasColumn(name string) bool
	// ColumnType returns the canonical type name of a column (see coltype.Parse).
	ColumnType(name string) (string, error)
	SetSlots(n int)
	// Readers returns one reader per slot for the named column.
	Readers(name string, tag coltype.Tag) ([]Reader, error)
	EntryRanges(ctx context.Context) ([]Range, error)
	InitSlot(ctx context.Context, slot int, r Range) error
	FinalizeSlot(slot int) error
}

// TypeMismatchError is returned when a reader is requested with the wrong element type.
type TypeMismatchError struct {
	Column string
	Want   coltype.Tag
	Have   coltype.Tag
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("column %q holds %s values, not %s", e.Column, e.Have, e.Want)
}

// Split divides n records into at most parts contiguous ranges of near-equal size.
// Empty ranges are never returned.
func Split(n int64, parts int) []Range {
	if n <= 0 {
		return nil
	}
	if parts < 1 {
		parts = 1
	}
	if int64(parts) > n {
		parts = int(n)
	}
	ranges := make([]Range, 0, parts)
	size := n / int64(parts)
	rem := n % int64(parts)
	var begin int64
	for i := 0; i < parts; i++ {
		end := begin + size
		if int64(i) < rem {
			end++
		}
		ranges = append(ranges, Range{Begin: begin, End: end})
		begin = end
	}
	return ranges
}
