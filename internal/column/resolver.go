package column

import "slices"

// Catalog answers name lookups for the resolver.
type Catalog interface {
	// Defined reports whether name is a derived column, including source columns
	// that were already materialized.
	Defined(name string) bool
	// SourceProvides reports whether the record source can provide name.
	SourceProvides(name string) bool
}

// Select returns the names to bind for an operation that needs n columns.
// A non-empty explicit list must have exactly n entries; otherwise the first n
// defaults are used.
func Select(n int, names, defaults []string) ([]string, error) {
	if len(names) > 0 {
		if len(names) != n {
			return nil, &ArityError{Expected: n, Got: len(names)}
		}
		return slices.Clone(names), nil
	}
	if len(defaults) < n {
		return nil, &ArityError{Expected: n, Got: len(defaults), Defaults: true}
	}
	return slices.Clone(defaults[:n]), nil
}

// CheckNames rejects empty names.
func CheckNames(names []string) error {
	for _, name := range names {
		if name == "" {
			return &InvalidNameError{Name: name, Reason: "column names must not be empty"}
		}
	}
	return nil
}

// FindUnknown returns, in request order and without repeats, every name the catalog
// cannot resolve. Internal names are never reported.
func FindUnknown(cat Catalog, names []string) []string {
	var unknown []string
	for _, name := range names {
		if IsInternal(name) || cat.Defined(name) || cat.SourceProvides(name) {
			continue
		}
		if !slices.Contains(unknown, name) {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// Resolve selects, validates and resolves the columns for an operation needing n columns.
// Unknown names are reported together in one UnknownColumnsError.
func Resolve(cat Catalog, n int, names, defaults []string) ([]string, error) {
	selected, err := Select(n, names, defaults)
	if err != nil {
		return nil, err
	}
	if err := CheckNames(selected); err != nil {
		return nil, err
	}
	if unknown := FindUnknown(cat, selected); len(unknown) > 0 {
		return nil, &UnknownColumnsError{Names: unknown}
	}
	return selected, nil
}

// PendingSource returns the resolved names that the source provides but that are
// not yet defined. Each name appears once, so defining the result is idempotent.
func PendingSource(cat Catalog, names []string) []string {
	var pending []string
	for _, name := range names {
		if IsInternal(name) || cat.Defined(name) || !cat.SourceProvides(name) {
			continue
		}
		if !slices.Contains(pending, name) {
			pending = append(pending, name)
		}
	}
	return pending
}

// CheckDefinable validates the name of a new derived column.
func CheckDefinable(cat Catalog, name string) error {
	if name == "" {
		return &InvalidNameError{Name: name, Reason: "column names must not be empty"}
	}
	if IsInternal(name) {
		return &InvalidNameError{Name: name, Reason: "names starting with \"" + InternalPrefix + "\" and ending with \"" + InternalSuffix + "\" are reserved"}
	}
	if cat.Defined(name) {
		return &DuplicateError{Name: name}
	}
	if cat.SourceProvides(name) {
		return &DuplicateError{Name: name, Source: true}
	}
	return nil
}

// CheckArity validates that a record materialization received one type per column.
func CheckArity(nTypes, nNames int) error {
	if nTypes != nNames {
		return &ArityError{Expected: nTypes, Got: nNames}
	}
	return nil
}
