package logview

import (
	"errors"
	"fmt"
)

// ErrStaleResponse is returned by Apply for a result that a newer request
// has superseded. The result is dropped.
var ErrStaleResponse = errors.New("stale response")

// ErrMeasurement means a row could not be laid out (no width yet).
// Callers use PlaceholderHeight instead.
var ErrMeasurement = errors.New("row measurement unavailable")

// FetchError wraps a Source failure for a load or merge request.
type FetchError struct {
	Op    string // "load" or "merge"
	Start int64
	End   int64
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s logs [%d, %d): %v", e.Op, e.Start, e.End, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
