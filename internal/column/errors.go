package column

import (
	"fmt"
	"strings"
)

// ArityError reports a column list whose length does not match the requesting operation.
type ArityError struct {
	Expected int
	Got      int
	// Defaults is true when the default column list was consulted.
	Defaults bool
}

func (e *ArityError) Error() string {
	if e.Defaults {
		return fmt.Sprintf("no column names were passed and only %d default columns are set, but %d are required", e.Got, e.Expected)
	}
	return fmt.Sprintf("%d column names were passed but %d are required", e.Got, e.Expected)
}

// InvalidNameError reports an empty or otherwise unusable column name.
type InvalidNameError struct {
	Name   string
	Reason string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid column name %q: %s", e.Name, e.Reason)
}

// UnknownColumnsError lists every requested name that could not be resolved.
type UnknownColumnsError struct {
	Names []string
}

func (e *UnknownColumnsError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("unknown column: %s", e.Names[0])
	}
	return fmt.Sprintf("unknown columns: %s", strings.Join(e.Names, ", "))
}

// DuplicateError reports an attempt to redefine an existing column.
type DuplicateError struct {
	Name string
	// Source is true when the name collides with a record source column.
	Source bool
}

func (e *DuplicateError) Error() string {
	if e.Source {
		return fmt.Sprintf("column %q is already provided by the record source", e.Name)
	}
	return fmt.Sprintf("column %q is already defined", e.Name)
}
