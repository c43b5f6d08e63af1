// Package coltype describes column element types with a small closed set of tags.
// Tags are how record sources report types by name and how the dynamic dispatch
// registry selects a precompiled specialization.
package coltype

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Tag identifies the element type of a column.
type Tag int

const (
	// Unknown is used for derived columns whose Go type has no tag.
	Unknown Tag = iota
	// Int64 columns yield int64 values.
	Int64
	// Float64 columns yield float64 values.
	Float64
	// String columns yield string values.
	String
	// Bool columns yield bool values.
	Bool
	// Time columns yield time.Time values.
	Time
)

var (
	int64Type   = reflect.TypeFor[int64]()
	float64Type = reflect.TypeFor[float64]()
	stringType  = reflect.TypeFor[string]()
	boolType    = reflect.TypeFor[bool]()
	timeType    = reflect.TypeFor[time.Time]()
)

// Number is the set of element types the numeric reductions accept.
type Number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// String returns the canonical type name. Parse accepts every name String returns.
func (t Tag) String() string {
	switch t {
	case Int64:
		return "int64"
	case Float64:
		return "float64"
	case String:
		return "string"
	case Bool:
		return "bool"
	case Time:
		return "time"
	default:
		return "unknown"
	}
}

// IsNumeric reports whether values of the tag convert to float64.
func (t Tag) IsNumeric() bool {
	return t == Int64 || t == Float64 || t == Bool
}

// Type returns the Go type carried by columns of this tag, or nil for Unknown.
func (t Tag) Type() reflect.Type {
	switch t {
	case Int64:
		return int64Type
	case Float64:
		return float64Type
	case String:
		return stringType
	case Bool:
		return boolType
	case Time:
		return timeType
	default:
		return nil
	}
}

// Parse converts a canonical type name into a tag. A few common aliases are accepted.
func Parse(name string) (Tag, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "int64", "long", "int":
		return Int64, nil
	case "float64", "double", "float":
		return Float64, nil
	case "string", "str":
		return String, nil
	case "bool", "boolean":
		return Bool, nil
	case "time", "time.time", "timestamp":
		return Time, nil
	default:
		return Unknown, fmt.Errorf("unsupported column type %q", name)
	}
}

// OfType returns the tag for a Go type, or Unknown.
func OfType(t reflect.Type) Tag {
	switch t {
	case int64Type:
		return Int64
	case float64Type:
		return Float64
	case stringType:
		return String
	case boolType:
		return Bool
	case timeType:
		return Time
	default:
		return Unknown
	}
}

// TagFor returns the tag for the type parameter, or Unknown.
func TagFor[T any]() Tag {
	return OfType(reflect.TypeFor[T]())
}

// ToFloat64 converts a numeric or boolean value to float64.
func ToFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int64:
		return float64(x), nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int8:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case uint:
		return float64(x), nil
	case uint8:
		return float64(x), nil
	case uint16:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("value of type %T is not numeric", v)
	}
}
