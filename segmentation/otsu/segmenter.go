// Package otsu implements a model-free segmenter: the frame is downscaled
// to the model input resolution and split into foreground and background by
// Otsu's luminance threshold.
//
// It is meant for well-lit subjects in front of a darker (or, with
// ForegroundIsDark, brighter) backdrop, and as a dependency-free stand-in
// for an inference backend.
package otsu

import (
	"context"
	"fmt"
	"image"

	"github.com/anthonynsimon/bild/blur"
	"github.com/anthonynsimon/bild/effect"
	"github.com/anthonynsimon/bild/histogram"
	"github.com/anthonynsimon/bild/segment"
	"github.com/anthonynsimon/bild/transform"
	"github.com/xaionaro-go/avbackground/frame"
	"github.com/xaionaro-go/avbackground/logger"
	"github.com/xaionaro-go/avbackground/segmentation"
	"github.com/xaionaro-go/typing"
	"go.uber.org/atomic"
)

type InputResolution string

const (
	InputResolution256x144 = InputResolution("256x144")
	InputResolution160x96  = InputResolution("160x96")
	InputResolution144x256 = InputResolution("144x256")
	InputResolution256x256 = InputResolution("256x256")
)

var inputResolutions = map[InputResolution]image.Point{
	InputResolution256x144: {X: 256, Y: 144},
	InputResolution160x96:  {X: 160, Y: 96},
	InputResolution144x256: {X: 144, Y: 256},
	InputResolution256x256: {X: 256, Y: 256},
}

func (r InputResolution) Size() (image.Point, bool) {
	size, ok := inputResolutions[r]
	return size, ok
}

const defaultSmoothRadius = 1.0

type Config struct {
	InputResolution InputResolution

	// SmoothRadius is the radius of the Gaussian blur applied to the binary
	// mask; zero disables smoothing. Defaults to 1.
	SmoothRadius typing.Optional[float64]

	// ForegroundIsDark swaps the classes: pixels below the threshold are
	// considered the foreground.
	ForegroundIsDark bool
}

type Segmenter struct {
	Config      Config
	initialized atomic.Bool
	size        image.Point
}

var _ segmentation.Segmenter = (*Segmenter)(nil)

func New(cfg Config) *Segmenter {
	if cfg.InputResolution == "" {
		cfg.InputResolution = InputResolution256x144
	}
	if !cfg.SmoothRadius.IsSet() {
		cfg.SmoothRadius = typing.Opt(defaultSmoothRadius)
	}
	return &Segmenter{
		Config: cfg,
	}
}

func (s *Segmenter) String() string {
	return fmt.Sprintf("Otsu(%s)", s.Config.InputResolution)
}

func (s *Segmenter) Init(ctx context.Context) error {
	size, ok := s.Config.InputResolution.Size()
	if !ok {
		return fmt.Errorf("unknown input resolution '%s'", s.Config.InputResolution)
	}
	if r := s.Config.SmoothRadius.Get(); r < 0 {
		return fmt.Errorf("smooth radius must not be negative, got %v", r)
	}
	s.size = size
	s.initialized.Store(true)
	logger.Debugf(ctx, "initialized %s", s)
	return nil
}

func (s *Segmenter) Segment(
	ctx context.Context,
	f *frame.Frame,
) (*segmentation.Mask, error) {
	if !s.initialized.Load() {
		return nil, fmt.Errorf("%s is not initialized", s)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f == nil || f.Image == nil || f.Bounds().Empty() {
		return nil, fmt.Errorf("the frame has no image")
	}

	normalized := transform.Resize(f.Image, s.size.X, s.size.Y, transform.Linear)
	gray := effect.Grayscale(normalized)
	level := Threshold(histogram.NewRGBAHistogram(gray).R.Bins)
	logger.Tracef(ctx, "otsu threshold for the frame at %v: %d", f.Timestamp, level)
	binary := segment.Threshold(gray, level)

	alpha := image.NewAlpha(image.Rect(0, 0, s.size.X, s.size.Y))
	if radius := s.Config.SmoothRadius.Get(); radius > 0 {
		smoothed := blur.Gaussian(binary, radius)
		for i := range alpha.Pix {
			alpha.Pix[i] = smoothed.Pix[i*4]
		}
	} else {
		copy(alpha.Pix, binary.Pix)
	}
	if s.Config.ForegroundIsDark {
		for i, v := range alpha.Pix {
			alpha.Pix[i] = 0xff - v
		}
	}

	return &segmentation.Mask{
		Alpha:      alpha,
		Normalized: normalized,
	}, nil
}

func (s *Segmenter) Close(ctx context.Context) error {
	s.initialized.Store(false)
	return nil
}
