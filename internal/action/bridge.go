package action

import (
	"context"
	"sync"

	"tidb-dataframe/internal/graph"
)

// Bridge hands the node built by a deferred booking back to the caller that
// requested it. It is written exactly once.
type Bridge struct {
	mu        sync.Mutex
	done      chan struct{}
	completed bool
	node      graph.NodeID
	err       error
}

// NewBridge returns a pending bridge.
func NewBridge() *Bridge {
	return &Bridge{done: make(chan struct{}), node: graph.NoNode}
}

// Complete records the outcome of the deferred build. A second call returns
// ErrBridgeCompleted and leaves the first outcome in place.
func (b *Bridge) Complete(id graph.NodeID, err error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.completed {
		return ErrBridgeCompleted
	}
	b.completed = true
	b.node, b.err = id, err
	close(b.done)
	return nil
}

// Done is closed once the bridge is completed.
func (b *Bridge) Done() <-chan struct{} { return b.done }

// Node returns the booked node, the build error, or ErrBridgePending.
func (b *Bridge) Node() (graph.NodeID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.completed {
		return graph.NoNode, ErrBridgePending
	}
	return b.node, b.err
}

// Wait blocks until the bridge is completed or ctx is done.
func (b *Bridge) Wait(ctx context.Context) (graph.NodeID, error) {
	select {
	case <-b.done:
		return b.Node()
	case <-ctx.Done():
		return graph.NoNode, ctx.Err()
	}
}
