// Package compositor merges a frame, its segmentation mask and the
// substitute background into the output frame.
//
// Every implementation follows the same layering:
//  1. the mask (scaled to the frame resolution) becomes the alpha channel;
//  2. the background (the substitute image, or the blurred frame) is drawn
//     only where the mask is transparent ("source-out");
//  3. the original frame is drawn beneath everything ("destination-over"),
//     filling whatever the previous passes left uncovered.
//
// The result is opaque and has the resolution of the frame.
package compositor

import (
	"context"
	"fmt"
	"image"

	"github.com/xaionaro-go/avbackground/frame"
	"github.com/xaionaro-go/avbackground/segmentation"
	"github.com/xaionaro-go/avbackground/types"
)

type Compositor interface {
	fmt.Stringer

	// Composite produces a new image; it never retains the frame, the mask
	// or the returned image.
	Composite(
		ctx context.Context,
		f *frame.Frame,
		mask *segmentation.Mask,
		bg *types.BackgroundSpec,
	) (*image.RGBA, error)

	// Release frees the surfaces the compositor keeps between calls. The
	// compositor stays usable: the surfaces are re-acquired on demand.
	Release(ctx context.Context) error
}

// ValidateInput checks the arguments of Compositor.Composite.
func ValidateInput(
	f *frame.Frame,
	mask *segmentation.Mask,
	bg *types.BackgroundSpec,
) error {
	if f == nil || f.Image == nil {
		return fmt.Errorf("no frame")
	}
	if f.Bounds().Empty() {
		return fmt.Errorf("the frame is empty")
	}
	if mask == nil || mask.Alpha == nil {
		return fmt.Errorf("no segmentation mask")
	}
	if mask.Bounds().Empty() {
		return fmt.Errorf("the segmentation mask is empty")
	}
	if err := bg.Validate(); err != nil {
		return fmt.Errorf("invalid background: %w", err)
	}
	return nil
}
