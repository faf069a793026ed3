package capture

import (
	"fmt"

	"github.com/pkg/errors"
	"go.docrelay.dev/core/changestream"
	"go.docrelay.dev/core/checkpoint"
	"go.docrelay.dev/core/lease"
)

// ErrorClass classifies the failure of a capture run.
type ErrorClass int

const (
	// ClassTransient failures of infrastructure calls are retried by the
	// next scheduled run, from the last durable checkpoint.
	ClassTransient ErrorClass = iota
	// ClassPositionPurged failures reset the checkpoint to having no
	// position, so that the next run bootstraps from the stream tail.
	ClassPositionPurged
	// ClassFatalEvent failures to stage or relay a single event abort the
	// run without checkpointing the failed event.
	ClassFatalEvent
	// ClassConfig failures report a missing or invalid setting.
	ClassConfig
	// ClassFenced failures report that another run of the same WatchTarget
	// overlapped this one.
	ClassFenced
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassPositionPurged:
		return "position-purged"
	case ClassFatalEvent:
		return "fatal-event"
	case ClassConfig:
		return "config"
	case ClassFenced:
		return "fenced"
	default:
		return fmt.Sprintf("ErrorClass(%d)", int(c))
	}
}

// RunError is the failure of a capture run.
type RunError struct {
	Class ErrorClass
	Err   error
}

func (e *RunError) Error() string { return e.Err.Error() }

// Unwrap returns the underlying error.
func (e *RunError) Unwrap() error { return e.Err }

// ConfigError returns a ClassConfig RunError of the formatted message.
func ConfigError(format string, args ...interface{}) error {
	return &RunError{Class: ClassConfig, Err: errors.Errorf(format, args...)}
}

// classify wraps |err| as a RunError. Errors which are already RunErrors
// keep their class. Otherwise, recognized sentinels select their class and
// all other errors are of class |def|.
func classify(err error, def ErrorClass) *RunError {
	var re *RunError

	switch {
	case err == nil:
		return nil
	case errors.As(err, &re):
		return re
	case errors.Is(err, changestream.ErrPositionPurged):
		return &RunError{Class: ClassPositionPurged, Err: err}
	case errors.Is(err, checkpoint.ErrFenced), errors.Is(err, lease.ErrHeld):
		return &RunError{Class: ClassFenced, Err: err}
	default:
		return &RunError{Class: def, Err: err}
	}
}

// ClassOf returns the ErrorClass of |err|, which is ClassTransient if |err|
// is not a RunError.
func ClassOf(err error) ErrorClass {
	var re *RunError
	if errors.As(err, &re) {
		return re.Class
	}
	return ClassTransient
}
