//go:build with_cv
// +build with_cv

package facade

import (
	"context"

	"github.com/xaionaro-go/avbackground/compositor"
	"github.com/xaionaro-go/avbackground/compositor/cvcompositor"
	"github.com/xaionaro-go/avbackground/segmentation"
	"github.com/xaionaro-go/avbackground/segmentation/haarcascade"
)

const cvEnabled = true

const VariantNameCV = "haarcascade+opencv"

// VariantCV detects people with a Haar cascade and composites with OpenCV.
func VariantCV(classifierPath string) Variant {
	return Variant{
		Name: VariantNameCV,
		NewSegmenter: func(ctx context.Context) (segmentation.Segmenter, error) {
			return haarcascade.New(haarcascade.Config{
				ClassifierPath: classifierPath,
			}), nil
		},
		NewCompositor: func(ctx context.Context) (compositor.Compositor, error) {
			return cvcompositor.New(), nil
		},
	}
}
