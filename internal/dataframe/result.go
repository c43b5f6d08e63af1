package dataframe

import (
	"context"
	"errors"
	"fmt"

	"tidb-dataframe/internal/action"
	"tidb-dataframe/internal/graph"
	"tidb-dataframe/internal/loop"
)

// Result is a lazily computed action result. Reading it runs the event loop
// if the action has not been executed yet.
type Result[T any] struct {
	m     *loop.Manager
	id    graph.NodeID
	value *T
}

func newResult[T any](m *loop.Manager, value *T) *Result[T] {
	return &Result[T]{m: m, id: graph.NoNode, value: value}
}

// Get returns the result, running the event loop if needed.
func (r *Result[T]) Get(ctx context.Context) (T, error) {
	if err := r.m.Ensure(ctx, r.id); err != nil {
		var zero T
		return zero, err
	}
	return *r.value, nil
}

// Ready reports whether the action has been executed.
func (r *Result[T]) Ready() bool {
	done, _ := r.m.Status(r.id)
	return done
}

// Node returns the action node.
func (r *Result[T]) Node() graph.NodeID { return r.id }

// DynamicResult is the result of a booking whose types were known only by
// name. The action node exists once the bridge has been completed at the start
// of the next pass.
type DynamicResult struct {
	m      *loop.Manager
	bridge *action.Bridge
	sig    string
	target any
}

// Signature returns the specialization used, such as "Histo1D<float64>".
func (r *DynamicResult) Signature() string { return r.sig }

// Target returns the result object. It is only filled after Get succeeds.
func (r *DynamicResult) Target() any { return r.target }

// Get runs the event loop if needed and returns the result object.
func (r *DynamicResult) Get(ctx context.Context) (any, error) {
	if _, err := r.bridge.Node(); errors.Is(err, action.ErrBridgePending) {
		// The deferred build only happens as part of a run.
		runErr := r.m.Run(ctx)
		if _, err := r.bridge.Node(); errors.Is(err, action.ErrBridgePending) {
			if runErr == nil {
				runErr = fmt.Errorf("%s: deferred action was not built", r.sig)
			}
			return nil, runErr
		}
	}
	id, err := r.bridge.Node()
	if err != nil {
		return nil, err
	}
	if err := r.m.Ensure(ctx, id); err != nil {
		return nil, err
	}
	return r.target, nil
}

// Ready reports whether the action has been built and executed.
func (r *DynamicResult) Ready() bool {
	id, err := r.bridge.Node()
	if err != nil {
		return false
	}
	done, _ := r.m.Status(id)
	return done
}
