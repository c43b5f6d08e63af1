package action

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrBridgeCompleted is returned when a bridge is completed a second time.
	ErrBridgeCompleted = errors.New("bridge already completed")
	// ErrBridgePending is returned when a bridge is read before completion.
	ErrBridgePending = errors.New("bridge not completed yet")
)

// SignatureError reports a user callable whose shape does not fit Aggregate.
type SignatureError struct {
	Callable string
	Got      string
	Want     string
	Reason   string
}

func (e *SignatureError) Error() string {
	msg := fmt.Sprintf("%s function has signature %s", e.Callable, e.Got)
	if e.Reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Reason)
	}
	if e.Want != "" {
		msg = fmt.Sprintf("%s; expected %s", msg, e.Want)
	}
	return msg
}

// DispatchError reports an action/type combination no builder handles.
type DispatchError struct {
	Signature string
	Reason    string
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("cannot dispatch %s: %s", e.Signature, e.Reason)
}

// ColumnTypeError reports a bound column whose element type does not fit the helper.
type ColumnTypeError struct {
	Column string
	Want   string
	Have   reflect.Type
}

func (e *ColumnTypeError) Error() string {
	have := "unknown"
	if e.Have != nil {
		have = e.Have.String()
	}
	return fmt.Sprintf("column %q holds %s values but %s is required", e.Column, have, e.Want)
}

// TargetError reports a target result that does not fit the requested action.
type TargetError struct {
	Kind   Kind
	Target any
	Reason string
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("%s: invalid target %T: %s", e.Kind, e.Target, e.Reason)
}

// valueTypeError is returned by helpers when a record value has an unexpected type.
func valueTypeError(want string, got any) error {
	return fmt.Errorf("expected %s value, got %T", want, got)
}
