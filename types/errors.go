package types

import (
	"fmt"
	"time"
)

// ErrInitialization is returned when the segmentation capability failed to
// become ready. The pipeline stays faulted until it is started again.
type ErrInitialization struct {
	Err error
}

func (e ErrInitialization) Error() string {
	return fmt.Sprintf("unable to initialize the segmentation: %v", e.Err)
}

func (e ErrInitialization) Unwrap() error {
	return e.Err
}

// ErrStep is a failure of a single segmentation+composite step. It faults
// the pipeline; the failing frame is dropped and nothing is retried.
type ErrStep struct {
	Timestamp time.Duration
	Err       error
}

func (e ErrStep) Error() string {
	return fmt.Sprintf("unable to process the frame at %v: %v", e.Timestamp, e.Err)
}

func (e ErrStep) Unwrap() error {
	return e.Err
}

// ErrTimeout is a segmentation call which exceeded its deadline. It is
// always reported wrapped into an ErrStep.
type ErrTimeout struct {
	Deadline time.Duration
}

func (e ErrTimeout) Error() string {
	return fmt.Sprintf("segmentation did not complete within %v", e.Deadline)
}

// ErrInvalidState is an operation requested in a state which does not
// allow it.
type ErrInvalidState struct {
	Operation string
	State     fmt.Stringer
	Reason    string
}

func (e ErrInvalidState) Error() string {
	msg := fmt.Sprintf("'%s' is not allowed", e.Operation)
	if e.State != nil {
		msg += fmt.Sprintf(" in state '%s'", e.State)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// ErrActivate wraps any failure of an activation request to the facade.
type ErrActivate struct {
	Mode AdapterMode
	Err  error
}

func (e ErrActivate) Error() string {
	return fmt.Sprintf("unable to activate '%s': %v", e.Mode, e.Err)
}

func (e ErrActivate) Unwrap() error {
	return e.Err
}

// ErrDeactivate wraps any failure of a deactivation request to the facade.
type ErrDeactivate struct {
	Err error
}

func (e ErrDeactivate) Error() string {
	return fmt.Sprintf("unable to deactivate: %v", e.Err)
}

func (e ErrDeactivate) Unwrap() error {
	return e.Err
}

// ErrNotSupported is returned when the selected variant cannot run here.
type ErrNotSupported struct {
	Details string
}

func (e ErrNotSupported) Error() string {
	if e.Details == "" {
		return "not supported"
	}
	return fmt.Sprintf("not supported: %s", e.Details)
}
