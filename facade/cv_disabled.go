//go:build !with_cv
// +build !with_cv

package facade

import (
	"context"
	"errors"

	"github.com/xaionaro-go/avbackground/compositor"
	"github.com/xaionaro-go/avbackground/segmentation"
)

const cvEnabled = false

const VariantNameCV = "haarcascade+opencv"

var errCVDisabled = errors.New("built without the 'with_cv' tag")

// VariantCV is never supported in this build; see the "with_cv" tag.
func VariantCV(classifierPath string) Variant {
	return Variant{
		Name: VariantNameCV,
		NewSegmenter: func(ctx context.Context) (segmentation.Segmenter, error) {
			return nil, errCVDisabled
		},
		NewCompositor: func(ctx context.Context) (compositor.Compositor, error) {
			return nil, errCVDisabled
		},
		Probe: func() error {
			return errCVDisabled
		},
	}
}
