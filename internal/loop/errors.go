package loop

import (
	"errors"
	"fmt"
)

var (
	// ErrRunning is returned when Run is called while a pass is in progress.
	ErrRunning = errors.New("event loop is already running")
	// ErrRangeMultiSlot is returned when a range node is requested with more than one slot.
	ErrRangeMultiSlot = errors.New("ranges are not supported when processing with more than one slot")
	// ErrNoSource is returned when a source column is requested from a frame without a source.
	ErrNoSource = errors.New("frame has no record source")
)

// PassError is recorded for every action booked in a pass that failed.
type PassError struct {
	RunID string
	Pass  int
	Err   error
}

func (e *PassError) Error() string {
	return fmt.Sprintf("event loop pass %d (run %s) failed: %v", e.Pass, e.RunID, e.Err)
}

func (e *PassError) Unwrap() error { return e.Err }
