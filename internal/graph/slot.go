package graph

import "fmt"

// Slot holds the private evaluation state of one worker slot: per-record caches of
// column values and filter decisions, range counters and filter statistics. A Slot
// must only be used by one goroutine.
type Slot struct {
	index int
	g     *Graph

	colEntry []int64
	colVal   []any
	colArgs  [][]any

	nodeEntry []int64
	nodePass  []bool
	nodeArgs  [][]any
	rangeSeen []int64
	accepted  []uint64
	rejected  []uint64
}

// NewSlot creates the evaluation state for slot index. Nodes added after this call
// are not visible to the slot.
func (g *Graph) NewSlot(index int) *Slot {
	s := &Slot{
		index:     index,
		g:         g,
		colEntry:  make([]int64, len(g.columns)),
		colVal:    make([]any, len(g.columns)),
		colArgs:   make([][]any, len(g.columns)),
		nodeEntry: make([]int64, len(g.nodes)),
		nodePass:  make([]bool, len(g.nodes)),
		nodeArgs:  make([][]any, len(g.nodes)),
		rangeSeen: make([]int64, len(g.nodes)),
		accepted:  make([]uint64, len(g.nodes)),
		rejected:  make([]uint64, len(g.nodes)),
	}
	for i, c := range g.columns {
		s.colEntry[i] = -1
		s.colArgs[i] = make([]any, len(c.Inputs))
	}
	for i, n := range g.nodes {
		s.nodeEntry[i] = -1
		s.nodeArgs[i] = make([]any, len(n.Inputs))
	}
	return s
}

// Index returns the slot number.
func (s *Slot) Index() int { return s.index }

// Value returns the value of a column for entry, computing it at most once per entry.
func (s *Slot) Value(id ColumnID, entry int64) (any, error) {
	if s.colEntry[id] == entry {
		return s.colVal[id], nil
	}
	c := &s.g.columns[id]
	var (
		v   any
		err error
	)
	if c.FromSource {
		if s.index >= len(c.readers) {
			return nil, fmt.Errorf("column %q has no reader for slot %d", c.Name, s.index)
		}
		v, err = c.readers[s.index].Value(entry)
	} else {
		args := s.colArgs[id]
		for i, in := range c.Inputs {
			if args[i], err = s.Value(in, entry); err != nil {
				return nil, err
			}
		}
		v, err = c.eval(s.index, entry, args)
	}
	if err != nil {
		return nil, fmt.Errorf("column %q: %w", c.Name, err)
	}
	s.colEntry[id] = entry
	s.colVal[id] = v
	return v, nil
}

func (s *Slot) gather(id NodeID, entry int64) ([]any, error) {
	args := s.nodeArgs[id]
	for i, in := range s.g.nodes[id].Inputs {
		v, err := s.Value(in, entry)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

// Check reports whether entry reaches node id, evaluating its ancestors first.
// Decisions are cached per entry, so range counters advance once per record even
// when several actions share the range.
func (s *Slot) Check(id NodeID, entry int64) (bool, error) {
	n := &s.g.nodes[id]
	if n.Kind == KindRoot {
		return true, nil
	}
	if s.nodeEntry[id] == entry {
		return s.nodePass[id], nil
	}
	pass, err := s.Check(n.Parent, entry)
	if err != nil {
		return false, err
	}
	if pass {
		switch n.Kind {
		case KindFilter:
			args, err := s.gather(id, entry)
			if err != nil {
				return false, err
			}
			if pass, err = n.pred(args); err != nil {
				return false, fmt.Errorf("filter %q: %w", n.Name, err)
			}
			if pass {
				s.accepted[id]++
			} else {
				s.rejected[id]++
			}
		case KindRange:
			seen := s.rangeSeen[id]
			s.rangeSeen[id]++
			pass = seen >= n.Begin && (n.End == 0 || seen < n.End) && (seen-n.Begin)%n.Stride == 0
		}
	}
	s.nodeEntry[id] = entry
	s.nodePass[id] = pass
	return pass, nil
}

// Run executes action node id for entry if the entry passes its ancestors.
func (s *Slot) Run(id NodeID, entry int64) error {
	n := &s.g.nodes[id]
	if n.Kind != KindAction {
		return fmt.Errorf("node %d is a %s, not an action", id, n.Kind)
	}
	pass, err := s.Check(n.Parent, entry)
	if err != nil || !pass {
		return err
	}
	args, err := s.gather(id, entry)
	if err != nil {
		return err
	}
	if err := n.runner.Exec(s.index, args); err != nil {
		return fmt.Errorf("action %q: %w", n.Name, err)
	}
	return nil
}

// FilterCounts returns how many records this slot accepted and rejected at a filter.
func (s *Slot) FilterCounts(id NodeID) (accepted, rejected uint64) {
	if int(id) >= len(s.accepted) {
		return 0, 0
	}
	return s.accepted[id], s.rejected[id]
}
