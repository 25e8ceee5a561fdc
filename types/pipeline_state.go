package types

import (
	"fmt"
)

type PipelineState int32

const (
	PipelineStateIdle = PipelineState(iota)
	PipelineStateInitializing
	PipelineStateRunning
	PipelineStateSuspended
	PipelineStateFaulted
)

func (s PipelineState) String() string {
	switch s {
	case PipelineStateIdle:
		return "idle"
	case PipelineStateInitializing:
		return "initializing"
	case PipelineStateRunning:
		return "running"
	case PipelineStateSuspended:
		return "suspended"
	case PipelineStateFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("unknown_state_%d", int32(s))
	}
}

// AcceptsFrames reports whether frames read in this state are processed.
func (s PipelineState) AcceptsFrames() bool {
	return s == PipelineStateRunning
}
