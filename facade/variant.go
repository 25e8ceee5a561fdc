package facade

import (
	"context"

	"github.com/xaionaro-go/avbackground/compositor"
	"github.com/xaionaro-go/avbackground/segmentation"
	"github.com/xaionaro-go/avbackground/segmentation/otsu"
	"github.com/xaionaro-go/typing"
)

// Variant is one realization of the segmentation+compositing capability
// pair. The pipeline never depends on which variant is used.
type Variant struct {
	Name          string
	NewSegmenter  func(ctx context.Context) (segmentation.Segmenter, error)
	NewCompositor func(ctx context.Context) (compositor.Compositor, error)

	// Probe (optional) reports why the variant cannot run in this
	// environment.
	Probe func() error
}

const VariantNameLayered = "otsu+layered"

// VariantLayered is the pure-Go variant: the Otsu segmenter and the layered
// compositor.
func VariantLayered(
	segCfg otsu.Config,
	blurRadius typing.Optional[float64],
) Variant {
	return Variant{
		Name: VariantNameLayered,
		NewSegmenter: func(ctx context.Context) (segmentation.Segmenter, error) {
			return otsu.New(segCfg), nil
		},
		NewCompositor: func(ctx context.Context) (compositor.Compositor, error) {
			c := compositor.NewLayered()
			c.BlurRadius = blurRadius
			return c, nil
		},
	}
}
