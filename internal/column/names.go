// Package column resolves requested column names against derived, source-provided
// and internal columns.
package column

import (
	"strings"

	"github.com/google/uuid"
)

// Internal column names start with InternalPrefix and end with InternalSuffix.
const (
	InternalPrefix = "tdf"
	InternalSuffix = "_"
)

const (
	// EntryColumn yields the int64 index of the record being processed.
	EntryColumn = "tdfentry_"
	// SlotColumn yields the int64 index of the worker slot processing the record.
	SlotColumn = "tdfslot_"
)

// IsInternal reports whether name follows the reserved internal naming convention.
func IsInternal(name string) bool {
	return len(name) > len(InternalPrefix)+len(InternalSuffix) &&
		strings.HasPrefix(name, InternalPrefix) &&
		strings.HasSuffix(name, InternalSuffix)
}

// NewInternalName returns a fresh internal column name.
func NewInternalName() string {
	id := uuid.New()
	return InternalPrefix + strings.ReplaceAll(id.String(), "-", "")[:16] + InternalSuffix
}
