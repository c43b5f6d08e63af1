package action

import (
	"fmt"
	"reflect"
	"strings"

	"tidb-dataframe/internal/coltype"
	"tidb-dataframe/internal/graph"
	"tidb-dataframe/internal/hist"
)

// Booker is the part of the loop coordinator builders need.
type Booker interface {
	Graph() *graph.Graph
	Slots() int
	// Book registers an action node for the next event loop pass.
	Book(id graph.NodeID)
	// DefineSourceColumn makes a record source column available by name. It is
	// a no-op for names that are already defined.
	DefineSourceColumn(name string, tag coltype.Tag) (graph.ColumnID, error)
}

// Request carries everything a builder needs besides the element types.
type Request struct {
	// Prev is the node the action hangs from.
	Prev graph.NodeID
	// Columns are the resolved input column names.
	Columns []string
	// Target is a pointer to the caller-owned result.
	Target any
	// Name labels the action node. Defaults to Kind(columns).
	Name string
}

func (r Request) label(k Kind) string {
	if r.Name != "" {
		return r.Name
	}
	return fmt.Sprintf("%s(%s)", k, strings.Join(r.Columns, ", "))
}

// BuildAndBook builds the helper for kind with element type T, wires it to a new
// action node below req.Prev and books it. Count, Take, Aggregate and Snapshot
// have dedicated builders since their helpers need other type parameters.
func BuildAndBook[T coltype.Number](b Booker, kind Kind, req Request) (graph.NodeID, error) {
	g := b.Graph()
	inputs, err := g.LookupAll(req.Columns)
	if err != nil {
		return graph.NoNode, err
	}
	if err := checkColumnCount(kind, req.Columns); err != nil {
		return graph.NoNode, err
	}
	slots := b.Slots()

	var r graph.Runner
	switch kind {
	case KindHisto1D:
		h, err := histTarget(kind, req.Target, 1)
		if err != nil {
			return graph.NoNode, err
		}
		if err := checkNumeric(g, inputs); err != nil {
			return graph.NoNode, err
		}
		weighted := len(inputs) == 2
		if h.HasAxisLimits() {
			r = newDirectFill(h, weighted, slots)
		} else {
			r = newBufferedFill(h, weighted, slots)
		}
	case KindHisto2D, KindHisto3D:
		dim := 2
		if kind == KindHisto3D {
			dim = 3
		}
		h, err := histTarget(kind, req.Target, dim)
		if err != nil {
			return graph.NoNode, err
		}
		if !h.HasAxisLimits() {
			return graph.NoNode, &TargetError{Kind: kind, Target: req.Target,
				Reason: "histograms with more than one dimension need explicit axis limits"}
		}
		if err := checkNumeric(g, inputs); err != nil {
			return graph.NoNode, err
		}
		r = newDirectFill(h, len(inputs) == dim+1, slots)
	case KindProfile1D, KindProfile2D:
		dim := 1
		if kind == KindProfile2D {
			dim = 2
		}
		p, ok := req.Target.(*hist.Profile)
		if !ok || p == nil {
			return graph.NoNode, &TargetError{Kind: kind, Target: req.Target, Reason: "a *hist.Profile is required"}
		}
		if p.Dim() != dim {
			return graph.NoNode, &TargetError{Kind: kind, Target: req.Target,
				Reason: fmt.Sprintf("profile has %d axes, %d required", p.Dim(), dim)}
		}
		if err := checkNumeric(g, inputs); err != nil {
			return graph.NoNode, err
		}
		r = newDirectFill(p, len(inputs) == p.Arity()+1, slots)
	case KindFill:
		f, ok := req.Target.(hist.Filler)
		if !ok || f == nil {
			return graph.NoNode, &TargetError{Kind: kind, Target: req.Target, Reason: "target does not implement Filler"}
		}
		if n := len(inputs); n != f.Arity() && n != f.Arity()+1 {
			return graph.NoNode, &TargetError{Kind: kind, Target: req.Target,
				Reason: fmt.Sprintf("target takes %d values per fill, %d columns given", f.Arity(), n)}
		}
		if err := checkNumeric(g, inputs); err != nil {
			return graph.NoNode, err
		}
		r = newDirectFill(f, len(inputs) == f.Arity()+1, slots)
	case KindMin, KindMax, KindSum:
		res, ok := req.Target.(*T)
		if !ok || res == nil {
			return graph.NoNode, &TargetError{Kind: kind, Target: req.Target, Reason: fmt.Sprintf("a *%s is required", reflect.TypeFor[T]())}
		}
		if err := checkElem[T](g, inputs[0]); err != nil {
			return graph.NoNode, err
		}
		switch kind {
		case KindMin:
			r = newMin(res, slots)
		case KindMax:
			r = newMax(res, slots)
		default:
			r = newSum(res, slots)
		}
	case KindMean:
		res, ok := req.Target.(*float64)
		if !ok || res == nil {
			return graph.NoNode, &TargetError{Kind: kind, Target: req.Target, Reason: "a *float64 is required"}
		}
		if err := checkElem[T](g, inputs[0]); err != nil {
			return graph.NoNode, err
		}
		r = newMean[T](res, slots)
	default:
		return graph.NoNode, &DispatchError{Signature: Signature(kind, coltype.TagFor[T]()),
			Reason: "kind is not handled by the numeric builder"}
	}
	return book(b, kind, req, inputs, r)
}

// BuildCount books a record counter.
func BuildCount(b Booker, req Request) (graph.NodeID, error) {
	res, ok := req.Target.(*uint64)
	if !ok || res == nil {
		return graph.NoNode, &TargetError{Kind: KindCount, Target: req.Target, Reason: "a *uint64 is required"}
	}
	return book(b, KindCount, req, nil, newCount(res, b.Slots()))
}

// BuildTake books a collector of every value of one column.
func BuildTake[T any](b Booker, req Request) (graph.NodeID, error) {
	g := b.Graph()
	inputs, err := g.LookupAll(req.Columns)
	if err != nil {
		return graph.NoNode, err
	}
	if err := checkColumnCount(KindTake, req.Columns); err != nil {
		return graph.NoNode, err
	}
	res, ok := req.Target.(*[]T)
	if !ok || res == nil {
		return graph.NoNode, &TargetError{Kind: KindTake, Target: req.Target, Reason: fmt.Sprintf("a *[]%s is required", reflect.TypeFor[T]())}
	}
	if err := checkElem[T](g, inputs[0]); err != nil {
		return graph.NoNode, err
	}
	return book(b, KindTake, req, inputs, newTake(res, b.Slots()))
}

// BuildAggregate books a user-defined reduction. Both callables are validated
// before anything is added to the graph.
func BuildAggregate[T, U any](b Booker, req Request, aggregator, merger any, init U) (graph.NodeID, error) {
	if err := CheckAggregate(aggregator, merger, reflect.TypeFor[T](), reflect.TypeFor[U]()); err != nil {
		return graph.NoNode, err
	}
	g := b.Graph()
	inputs, err := g.LookupAll(req.Columns)
	if err != nil {
		return graph.NoNode, err
	}
	if err := checkColumnCount(KindAggregate, req.Columns); err != nil {
		return graph.NoNode, err
	}
	res, ok := req.Target.(*U)
	if !ok || res == nil {
		return graph.NoNode, &TargetError{Kind: KindAggregate, Target: req.Target, Reason: fmt.Sprintf("a *%s is required", reflect.TypeFor[U]())}
	}
	if err := checkElem[T](g, inputs[0]); err != nil {
		return graph.NoNode, err
	}
	h := &aggregateHelper[T, U]{
		result:   res,
		init:     initCopier(init),
		step:     stepFunc[T, U](aggregator),
		merge:    mergeFunc[U](merger),
		partials: make([]U, b.Slots()),
	}
	return book(b, KindAggregate, req, inputs, h)
}

// BookRunner books an action whose helper was built elsewhere, such as a
// snapshot writer.
func BookRunner(b Booker, kind Kind, req Request, r graph.Runner) (graph.NodeID, error) {
	inputs, err := b.Graph().LookupAll(req.Columns)
	if err != nil {
		return graph.NoNode, err
	}
	return book(b, kind, req, inputs, r)
}

func book(b Booker, kind Kind, req Request, inputs []graph.ColumnID, r graph.Runner) (graph.NodeID, error) {
	id, err := b.Graph().AddAction(req.Prev, req.label(kind), inputs, r)
	if err != nil {
		return graph.NoNode, err
	}
	b.Book(id)
	return id, nil
}

func histTarget(kind Kind, target any, dim int) (*hist.Hist, error) {
	h, ok := target.(*hist.Hist)
	if !ok || h == nil {
		return nil, &TargetError{Kind: kind, Target: target, Reason: "a *hist.Hist is required"}
	}
	if h.Dim() != dim {
		return nil, &TargetError{Kind: kind, Target: target,
			Reason: fmt.Sprintf("histogram has %d axes, %d required", h.Dim(), dim)}
	}
	return h, nil
}

func checkColumnCount(kind Kind, cols []string) error {
	lo, hi := kind.Columns()
	n := len(cols)
	if n < lo || (hi >= 0 && n > hi) {
		if lo == hi {
			return fmt.Errorf("%s takes %d columns, %d given", kind, lo, n)
		}
		return fmt.Errorf("%s takes %d to %d columns, %d given", kind, lo, hi, n)
	}
	return nil
}

func checkElem[T any](g *graph.Graph, id graph.ColumnID) error {
	col := g.Column(id)
	want := reflect.TypeFor[T]()
	if col.Type != want {
		return &ColumnTypeError{Column: col.Name, Want: want.String(), Have: col.Type}
	}
	return nil
}

func checkNumeric(g *graph.Graph, ids []graph.ColumnID) error {
	for _, id := range ids {
		col := g.Column(id)
		if !isNumeric(col.Type) {
			return &ColumnTypeError{Column: col.Name, Want: "a numeric type", Have: col.Type}
		}
	}
	return nil
}

func isNumeric(t reflect.Type) bool {
	if t == nil {
		return false
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Bool:
		return true
	default:
		return false
	}
}
