// Package segmentation defines the contract of the foreground/background
// segmentation capability used by the pipeline.
package segmentation

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/avbackground/frame"
)

// Segmenter computes a foreground mask for a frame.
//
// Init prepares the model (and whatever assets it needs); Segment must not
// be called before Init succeeded. Implementations may take an arbitrary
// time per call; the pipeline never issues two Segment calls concurrently.
type Segmenter interface {
	fmt.Stringer
	Init(ctx context.Context) error
	Segment(ctx context.Context, f *frame.Frame) (*Mask, error)
	Close(ctx context.Context) error
}
