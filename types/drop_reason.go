package types

import (
	"fmt"
)

// DropReason explains why an admitted frame did not produce an output frame.
type DropReason int

const (
	DropReasonUndefined = DropReason(iota)

	// DropReasonSuperseded: the frame waited in the pending slot and was
	// replaced by a newer one (latest-wins backpressure).
	DropReasonSuperseded

	// DropReasonBackpressure: the frame arrived while a segmentation was in
	// flight and the drop-newest backpressure mode is configured.
	DropReasonBackpressure

	// DropReasonStale: the frame belongs to a generation which was replaced
	// by Start/ChangeInput/Stop while the frame was queued or in flight.
	DropReasonStale

	// DropReasonStopped: the frame waited in the pending slot when the
	// pipeline was stopped.
	DropReasonStopped

	// DropReasonNotRunning: the frame was read while the pipeline did not
	// accept frames (e.g. faulted).
	DropReasonNotRunning

	// DropReasonStepFailure: segmentation or compositing of the frame failed.
	DropReasonStepFailure

	EndOfDropReason
)

func (r DropReason) String() string {
	switch r {
	case DropReasonUndefined:
		return "undefined"
	case DropReasonSuperseded:
		return "superseded"
	case DropReasonBackpressure:
		return "backpressure"
	case DropReasonStale:
		return "stale"
	case DropReasonStopped:
		return "stopped"
	case DropReasonNotRunning:
		return "not_running"
	case DropReasonStepFailure:
		return "step_failure"
	default:
		return fmt.Sprintf("unknown_reason_%d", int(r))
	}
}
