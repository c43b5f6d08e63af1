// Package graph holds the computation graph as an arena of nodes addressed by
// NodeID handles. A node's parent handle is always lower than its own, so the
// graph is acyclic by construction. Several children may share a parent.
package graph

import (
	"fmt"
	"reflect"

	"tidb-dataframe/internal/coltype"
	"tidb-dataframe/internal/column"
	"tidb-dataframe/internal/source"
)

// NodeID is a handle into the node arena.
type NodeID int32

// ColumnID is a handle into the column table.
type ColumnID int32

// Root is the handle of the root node, which stands for the record source.
const Root NodeID = 0

// NoNode marks the absent parent of the root.
const NoNode NodeID = -1

// Kind enumerates node kinds.
type Kind uint8

const (
	KindRoot Kind = iota
	KindFilter
	KindDefine
	KindRange
	KindAction
)

func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindFilter:
		return "filter"
	case KindDefine:
		return "define"
	case KindRange:
		return "range"
	case KindAction:
		return "action"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// EvalFunc computes a derived column value from its input values.
type EvalFunc func(slot int, entry int64, args []any) (any, error)

// PredicateFunc decides whether a record passes a filter.
type PredicateFunc func(args []any) (bool, error)

// Runner is the per-slot execution hook of an action node. Exec receives the
// action's input values for one record; args is reused between calls and must
// not be retained.
type Runner interface {
	InitSlot(slot int)
	Exec(slot int, args []any) error
	Finalize() error
}

// Node is one vertex of the graph.
type Node struct {
	ID     NodeID
	Kind   Kind
	Parent NodeID
	Name   string
	Inputs []ColumnID
	// Column is the column produced by a define node.
	Column ColumnID
	// Begin, End and Stride bound a range node. End 0 means unbounded.
	Begin, End, Stride int64

	pred   PredicateFunc
	runner Runner
}

// Runner returns the runner of an action node.
func (n Node) Runner() Runner { return n.runner }

// Column is a named, typed value available to every node downstream of its definition.
type Column struct {
	ID     ColumnID
	Name   string
	Type   reflect.Type
	Tag    coltype.Tag
	Node   NodeID
	Inputs []ColumnID
	// FromSource marks columns that read record source values.
	FromSource bool

	eval    EvalFunc
	readers []source.Reader
}

// Graph is the node arena plus the column table.
type Graph struct {
	nodes   []Node
	columns []Column
	byName  map[string]ColumnID
}

// New returns a graph holding only the root node and the internal entry and slot columns.
func New() *Graph {
	g := &Graph{byName: make(map[string]ColumnID)}
	g.nodes = append(g.nodes, Node{ID: Root, Kind: KindRoot, Parent: NoNode})
	g.addColumn(Column{
		Name: column.EntryColumn,
		Type: coltype.Int64.Type(),
		Tag:  coltype.Int64,
		Node: Root,
		eval: func(_ int, entry int64, _ []any) (any, error) { return entry, nil },
	})
	g.addColumn(Column{
		Name: column.SlotColumn,
		Type: coltype.Int64.Type(),
		Tag:  coltype.Int64,
		Node: Root,
		eval: func(slot int, _ int64, _ []any) (any, error) { return int64(slot), nil },
	})
	return g
}

func (g *Graph) addColumn(c Column) ColumnID {
	c.ID = ColumnID(len(g.columns))
	g.columns = append(g.columns, c)
	g.byName[c.Name] = c.ID
	return c.ID
}

func (g *Graph) addNode(n Node) NodeID {
	n.ID = NodeID(len(g.nodes))
	g.nodes = append(g.nodes, n)
	return n.ID
}

func (g *Graph) checkParent(parent NodeID) error {
	if parent < 0 || int(parent) >= len(g.nodes) {
		return fmt.Errorf("unknown parent node %d", parent)
	}
	if g.nodes[parent].Kind == KindAction {
		return fmt.Errorf("node %d is an action and cannot have children", parent)
	}
	return nil
}

func (g *Graph) checkInputs(inputs []ColumnID) error {
	for _, id := range inputs {
		if id < 0 || int(id) >= len(g.columns) {
			return fmt.Errorf("unknown input column %d", id)
		}
	}
	return nil
}

// Defined reports whether a column with this name exists.
func (g *Graph) Defined(name string) bool {
	_, ok := g.byName[name]
	return ok
}

// Lookup returns the handle of a named column.
func (g *Graph) Lookup(name string) (ColumnID, bool) {
	id, ok := g.byName[name]
	return id, ok
}

// LookupAll resolves names to handles, failing on the first unknown name.
func (g *Graph) LookupAll(names []string) ([]ColumnID, error) {
	ids := make([]ColumnID, len(names))
	for i, name := range names {
		id, ok := g.byName[name]
		if !ok {
			return nil, &column.UnknownColumnsError{Names: []string{name}}
		}
		ids[i] = id
	}
	return ids, nil
}

// Column returns the column for a handle.
func (g *Graph) Column(id ColumnID) Column { return g.columns[id] }

// Node returns the node for a handle.
func (g *Graph) Node(id NodeID) Node { return g.nodes[id] }

// NumNodes returns the arena size.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// NumColumns returns the number of columns, internal ones included.
func (g *Graph) NumColumns() int { return len(g.columns) }

// ColumnNames returns the names of all non-internal columns in definition order.
func (g *Graph) ColumnNames() []string {
	var names []string
	for _, c := range g.columns {
		if !column.IsInternal(c.Name) {
			names = append(names, c.Name)
		}
	}
	return names
}

// Children returns the direct children of a node in creation order.
func (g *Graph) Children(id NodeID) []NodeID {
	var out []NodeID
	for _, n := range g.nodes {
		if n.Parent == id {
			out = append(out, n.ID)
		}
	}
	return out
}

// CountKind returns the number of nodes of a kind.
func (g *Graph) CountKind(k Kind) int {
	n := 0
	for _, node := range g.nodes {
		if node.Kind == k {
			n++
		}
	}
	return n
}

// AddDefine adds a derived column computed by eval from inputs.
func (g *Graph) AddDefine(parent NodeID, name string, typ reflect.Type, inputs []ColumnID, eval EvalFunc) (ColumnID, error) {
	if err := g.checkParent(parent); err != nil {
		return 0, err
	}
	if err := g.checkInputs(inputs); err != nil {
		return 0, err
	}
	if name == "" {
		return 0, &column.InvalidNameError{Name: name, Reason: "column names must not be empty"}
	}
	if g.Defined(name) {
		return 0, &column.DuplicateError{Name: name}
	}
	node := g.addNode(Node{Kind: KindDefine, Parent: parent, Name: name, Inputs: inputs})
	id := g.addColumn(Column{
		Name:   name,
		Type:   typ,
		Tag:    coltype.OfType(typ),
		Node:   node,
		Inputs: inputs,
		eval:   eval,
	})
	g.nodes[node].Column = id
	return id, nil
}

// AddSourceColumn adds a column that reads values from per-slot source readers.
// It is attached to the root. Calling it for an existing name returns the existing
// handle when the type matches.
func (g *Graph) AddSourceColumn(name string, tag coltype.Tag, readers []source.Reader) (ColumnID, error) {
	if id, ok := g.byName[name]; ok {
		existing := g.columns[id]
		if existing.Tag != tag {
			return 0, &source.TypeMismatchError{Column: name, Want: tag, Have: existing.Tag}
		}
		return id, nil
	}
	if tag == coltype.Unknown {
		return 0, fmt.Errorf("source column %q needs a known element type", name)
	}
	node := g.addNode(Node{Kind: KindDefine, Parent: Root, Name: name})
	id := g.addColumn(Column{
		Name:       name,
		Type:       tag.Type(),
		Tag:        tag,
		Node:       node,
		FromSource: true,
		readers:    readers,
	})
	g.nodes[node].Column = id
	return id, nil
}

// AddFilter adds a filter node.
func (g *Graph) AddFilter(parent NodeID, name string, inputs []ColumnID, pred PredicateFunc) (NodeID, error) {
	if err := g.checkParent(parent); err != nil {
		return 0, err
	}
	if err := g.checkInputs(inputs); err != nil {
		return 0, err
	}
	if pred == nil {
		return 0, fmt.Errorf("filter %q has no predicate", name)
	}
	return g.addNode(Node{Kind: KindFilter, Parent: parent, Name: name, Inputs: inputs, pred: pred}), nil
}

// AddRange adds a node that passes records number begin, begin+stride, ... below
// end, counted among the records reaching it. End 0 means no upper bound.
func (g *Graph) AddRange(parent NodeID, begin, end, stride int64) (NodeID, error) {
	if err := g.checkParent(parent); err != nil {
		return 0, err
	}
	if stride < 1 {
		return 0, fmt.Errorf("range stride must be at least 1, got %d", stride)
	}
	if begin < 0 || (end != 0 && end < begin) {
		return 0, fmt.Errorf("invalid range [%d, %d)", begin, end)
	}
	return g.addNode(Node{Kind: KindRange, Parent: parent, Begin: begin, End: end, Stride: stride}), nil
}

// AddAction adds an action node. Booking it with the coordinator is the caller's job.
func (g *Graph) AddAction(parent NodeID, name string, inputs []ColumnID, r Runner) (NodeID, error) {
	if err := g.checkParent(parent); err != nil {
		return 0, err
	}
	if err := g.checkInputs(inputs); err != nil {
		return 0, err
	}
	if r == nil {
		return 0, fmt.Errorf("action %q has no runner", name)
	}
	return g.addNode(Node{Kind: KindAction, Parent: parent, Name: name, Inputs: inputs, runner: r}), nil
}
