// Package action builds per-slot helpers for terminal operations and books them
// as action nodes. BuildAndBook is the static path, used when element types are
// type parameters. Registry is the dynamic path, used when element types are only
// known by name.
package action

import (
	"fmt"
	"strings"
)

// Kind is the closed set of terminal operations.
type Kind int

const (
	KindHisto1D Kind = iota
	KindHisto2D
	KindHisto3D
	KindProfile1D
	KindProfile2D
	KindFill
	KindMin
	KindMax
	KindSum
	KindMean
	KindCount
	KindTake
	KindAggregate
	KindSnapshot
)

var kindNames = [...]string{
	KindHisto1D:   "Histo1D",
	KindHisto2D:   "Histo2D",
	KindHisto3D:   "Histo3D",
	KindProfile1D: "Profile1D",
	KindProfile2D: "Profile2D",
	KindFill:      "Fill",
	KindMin:       "Min",
	KindMax:       "Max",
	KindSum:       "Sum",
	KindMean:      "Mean",
	KindCount:     "Count",
	KindTake:      "Take",
	KindAggregate: "Aggregate",
	KindSnapshot:  "Snapshot",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Kinds returns every kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, len(kindNames))
	for i := range kindNames {
		out[i] = Kind(i)
	}
	return out
}

// ParseKind converts a case-insensitive kind name.
func ParseKind(name string) (Kind, error) {
	for i, n := range kindNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown action kind %q", name)
}

// Columns returns the minimum and maximum number of input columns. Weighted
// histogram fills take one extra column. Fill and Snapshot report -1 as maximum:
// their arity depends on the target or the type list.
func (k Kind) Columns() (lo, hi int) {
	switch k {
	case KindHisto1D:
		return 1, 2
	case KindHisto2D, KindProfile1D:
		return 2, 3
	case KindHisto3D, KindProfile2D:
		return 3, 4
	case KindMin, KindMax, KindSum, KindMean, KindTake, KindAggregate:
		return 1, 1
	case KindCount:
		return 0, 0
	default:
		return 1, -1
	}
}

// IsHistogram reports whether the kind fills a histogram or profile target.
func (k Kind) IsHistogram() bool {
	switch k {
	case KindHisto1D, KindHisto2D, KindHisto3D, KindProfile1D, KindProfile2D, KindFill:
		return true
	default:
		return false
	}
}
