package pipeline

import (
	"context"
	"fmt"
	"time"
)

// BackpressureMode defines what happens to a frame which arrives while a
// segmentation is already in flight.
type BackpressureMode int

const (
	// BackpressureLatestWins keeps the newest frame in a single pending
	// slot, dropping the frame it replaces.
	BackpressureLatestWins = BackpressureMode(iota)

	// BackpressureDropNewest drops the arriving frame.
	BackpressureDropNewest
)

func (m BackpressureMode) String() string {
	switch m {
	case BackpressureLatestWins:
		return "latest_wins"
	case BackpressureDropNewest:
		return "drop_newest"
	default:
		return fmt.Sprintf("unknown_backpressure_mode_%d", int(m))
	}
}

func ParseBackpressureMode(s string) (BackpressureMode, error) {
	for m := BackpressureLatestWins; m <= BackpressureDropNewest; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown backpressure mode '%s'", s)
}

const (
	DefaultSegmentationTimeout = 2 * time.Second
	DefaultInitTimeout         = 30 * time.Second
	DefaultOutputQueueSize     = 1
)

type Config struct {
	Backpressure BackpressureMode

	// SegmentationTimeout bounds a single Segment call; zero disables the
	// deadline.
	SegmentationTimeout time.Duration

	// InitTimeout bounds the segmenter initialization; zero disables the
	// deadline.
	InitTimeout time.Duration

	// OutputQueueSize is the capacity of the channel returned by
	// Output.Frames.
	OutputQueueSize int

	// OnFault (if set) is called once each time the pipeline becomes faulted.
	OnFault func(ctx context.Context, err error)
}

func DefaultConfig() Config {
	return Config{
		Backpressure:        BackpressureLatestWins,
		SegmentationTimeout: DefaultSegmentationTimeout,
		InitTimeout:         DefaultInitTimeout,
		OutputQueueSize:     DefaultOutputQueueSize,
	}
}
