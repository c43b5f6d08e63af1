package action

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"tidb-dataframe/internal/coltype"
	"tidb-dataframe/internal/graph"
	"tidb-dataframe/internal/hist"
)

// Builder books a helper whose element types were fixed at registration time.
type Builder func(b Booker, req Request) (graph.NodeID, error)

// TargetFactory creates an empty result for a dynamically booked action. The
// model is only consulted by histogram kinds.
type TargetFactory func(m hist.Model) (any, error)

// Entry is one precompiled specialization.
type Entry struct {
	Build     Builder
	NewTarget TargetFactory
}

type registryKey struct {
	kind Kind
	tag  coltype.Tag
}

// Registry maps (kind, element type tag) to precompiled builders. It replaces
// run-time code generation: a combination that was not registered is reported
// at lookup, before anything is booked.
type Registry struct {
	mu      sync.RWMutex
	entries map[registryKey]Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[registryKey]Entry)}
}

// Register adds or replaces the specialization for kind and tag. Count is
// registered under coltype.Unknown.
func (r *Registry) Register(kind Kind, tag coltype.Tag, e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[registryKey{kind, tag}] = e
}

// Lookup returns the specialization for kind applied to columns of the given
// tags. Histogram kinds key on the first tag and require every tag to be
// numeric.
func (r *Registry) Lookup(kind Kind, tags []coltype.Tag) (Entry, error) {
	sig := Signature(kind, tags...)
	key := registryKey{kind: kind, tag: coltype.Unknown}
	if len(tags) > 0 {
		key.tag = tags[0]
	}
	if kind.IsHistogram() {
		for _, t := range tags {
			if !t.IsNumeric() {
				return Entry{}, &DispatchError{Signature: sig, Reason: fmt.Sprintf("%s columns cannot fill a histogram", t)}
			}
		}
	}
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok {
		return Entry{}, &DispatchError{Signature: sig, Reason: "no specialization registered"}
	}
	return e, nil
}

// Signatures lists registered combinations, sorted.
func (r *Registry) Signatures() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for k := range r.entries {
		if k.tag == coltype.Unknown {
			out = append(out, Signature(k.kind))
			continue
		}
		out = append(out, Signature(k.kind, k.tag))
	}
	slices.Sort(out)
	return out
}

// Signature renders an action/type combination such as "Sum<string>".
func Signature(kind Kind, tags ...coltype.Tag) string {
	if len(tags) == 0 {
		return kind.String()
	}
	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = t.String()
	}
	return fmt.Sprintf("%s<%s>", kind, strings.Join(names, ", "))
}

// DefaultRegistry returns the shared registry holding every built-in
// specialization.
var DefaultRegistry = sync.OnceValue(func() *Registry {
	r := NewRegistry()
	registerDefaults(r)
	return r
})

func registerDefaults(r *Registry) {
	for _, tag := range []coltype.Tag{coltype.Int64, coltype.Float64, coltype.Bool} {
		r.Register(KindHisto1D, tag, Entry{Build: numeric[float64](KindHisto1D), NewTarget: histFactory(1)})
		r.Register(KindHisto2D, tag, Entry{Build: numeric[float64](KindHisto2D), NewTarget: histFactory(2)})
		r.Register(KindHisto3D, tag, Entry{Build: numeric[float64](KindHisto3D), NewTarget: histFactory(3)})
		r.Register(KindProfile1D, tag, Entry{Build: numeric[float64](KindProfile1D), NewTarget: profileFactory(1)})
		r.Register(KindProfile2D, tag, Entry{Build: numeric[float64](KindProfile2D), NewTarget: profileFactory(2)})
		r.Register(KindFill, tag, Entry{Build: numeric[float64](KindFill), NewTarget: func(m hist.Model) (any, error) {
			return hist.FromModel(m)
		}})
	}

	registerReductions[int64](r, coltype.Int64)
	registerReductions[float64](r, coltype.Float64)

	r.Register(KindCount, coltype.Unknown, Entry{
		Build:     BuildCount,
		NewTarget: func(hist.Model) (any, error) { return new(uint64), nil },
	})

	registerTake[int64](r, coltype.Int64)
	registerTake[float64](r, coltype.Float64)
	registerTake[string](r, coltype.String)
	registerTake[bool](r, coltype.Bool)
	registerTake[time.Time](r, coltype.Time)
}

func registerReductions[T coltype.Number](r *Registry, tag coltype.Tag) {
	same := func(hist.Model) (any, error) { return new(T), nil }
	r.Register(KindMin, tag, Entry{Build: numeric[T](KindMin), NewTarget: same})
	r.Register(KindMax, tag, Entry{Build: numeric[T](KindMax), NewTarget: same})
	r.Register(KindSum, tag, Entry{Build: numeric[T](KindSum), NewTarget: same})
	r.Register(KindMean, tag, Entry{Build: numeric[T](KindMean), NewTarget: func(hist.Model) (any, error) {
		return new(float64), nil
	}})
}

func registerTake[T any](r *Registry, tag coltype.Tag) {
	r.Register(KindTake, tag, Entry{
		Build:     BuildTake[T],
		NewTarget: func(hist.Model) (any, error) { return new([]T), nil },
	})
}

func numeric[T coltype.Number](kind Kind) Builder {
	return func(b Booker, req Request) (graph.NodeID, error) {
		return BuildAndBook[T](b, kind, req)
	}
}

func histFactory(dim int) TargetFactory {
	return func(m hist.Model) (any, error) {
		if len(m.Axes) != dim {
			return nil, fmt.Errorf("histogram model %q has %d axes, %d required", m.Name, len(m.Axes), dim)
		}
		return hist.FromModel(m)
	}
}

func profileFactory(dim int) TargetFactory {
	return func(m hist.Model) (any, error) {
		if len(m.Axes) != dim {
			return nil, fmt.Errorf("profile model %q has %d axes, %d required", m.Name, len(m.Axes), dim)
		}
		return hist.NewProfile(m.Name, m.Title, m.Axes...)
	}
}
