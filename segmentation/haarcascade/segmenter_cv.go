//go:build with_cv
// +build with_cv

package haarcascade

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os"

	"github.com/xaionaro-go/avbackground/frame"
	"github.com/xaionaro-go/avbackground/logger"
	"github.com/xaionaro-go/avbackground/segmentation"
	"github.com/xaionaro-go/xsync"
	"gocv.io/x/gocv"
)

const defaultSmoothKernel = 9

type Config struct {
	// ClassifierPath is the cascade XML file; used when ClassifierXML is
	// empty.
	ClassifierPath string
	ClassifierXML  []byte

	// InputSize is the resolution the detector works at; defaults to 320x180.
	InputSize image.Point

	// SmoothKernel is the (odd) size of the Gaussian kernel applied to the
	// silhouette; zero disables smoothing.
	SmoothKernel int
}

type Segmenter struct {
	Config Config

	locker      xsync.Mutex
	classifier  gocv.CascadeClassifier
	initialized bool
}

var _ segmentation.Segmenter = (*Segmenter)(nil)

func New(cfg Config) *Segmenter {
	if cfg.InputSize == (image.Point{}) {
		cfg.InputSize = image.Pt(320, 180)
	}
	if cfg.SmoothKernel == 0 {
		cfg.SmoothKernel = defaultSmoothKernel
	}
	return &Segmenter{Config: cfg}
}

func (s *Segmenter) String() string {
	return fmt.Sprintf("HaarCascade(%dx%d)", s.Config.InputSize.X, s.Config.InputSize.Y)
}

func (s *Segmenter) Init(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Init")
	defer func() { logger.Debugf(ctx, "/Init: %v", _err) }()
	return xsync.DoR1(ctx, &s.locker, func() error {
		if s.initialized {
			return nil
		}
		path := s.Config.ClassifierPath
		if len(s.Config.ClassifierXML) > 0 {
			tempFile, err := os.CreateTemp("", "avbackground-haar-cascade-classifier-*")
			if err != nil {
				return fmt.Errorf("unable to create a temporary file: %w", err)
			}
			defer os.Remove(tempFile.Name())
			_, err = io.Copy(tempFile, bytes.NewReader(s.Config.ClassifierXML))
			tempFile.Close()
			if err != nil {
				return fmt.Errorf("unable to write the classifier XML into file '%s': %w", tempFile.Name(), err)
			}
			path = tempFile.Name()
		}
		if path == "" {
			return fmt.Errorf("no classifier is configured")
		}

		classifier := gocv.NewCascadeClassifier()
		if !classifier.Load(path) {
			classifier.Close()
			return fmt.Errorf("unable to load the classifier from '%s'", path)
		}
		s.classifier = classifier
		s.initialized = true
		return nil
	})
}

func (s *Segmenter) Segment(
	ctx context.Context,
	f *frame.Frame,
) (*segmentation.Mask, error) {
	if f == nil || f.Image == nil || f.Bounds().Empty() {
		return nil, fmt.Errorf("the frame has no image")
	}
	return xsync.DoR2(xsync.WithNoLogging(ctx, true), &s.locker, func() (*segmentation.Mask, error) {
		if !s.initialized {
			return nil, fmt.Errorf("%s is not initialized", s)
		}
		return s.segmentLocked(ctx, f)
	})
}

func (s *Segmenter) segmentLocked(
	ctx context.Context,
	f *frame.Frame,
) (*segmentation.Mask, error) {
	src, err := gocv.ImageToMatRGBA(f.Image)
	if err != nil {
		return nil, fmt.Errorf("unable to convert the frame into a matrix: %w", err)
	}
	defer src.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(src, &resized, s.Config.InputSize, 0, 0, gocv.InterpolationLinear)

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(resized, &gray, gocv.ColorRGBAToGray)

	faces := s.classifier.DetectMultiScale(gray)
	logger.Tracef(ctx, "detected %d faces in the frame at %v", len(faces), f.Timestamp)
	alpha := personMask(s.Config.InputSize, faces)
	if k := s.Config.SmoothKernel; k > 0 && len(faces) > 0 {
		smoothed, err := smooth(alpha, k)
		if err != nil {
			return nil, err
		}
		alpha = smoothed
	}

	normalized, err := resized.ToImage()
	if err != nil {
		return nil, fmt.Errorf("unable to convert the model input into an image: %w", err)
	}
	return &segmentation.Mask{
		Alpha:      alpha,
		Normalized: normalized,
	}, nil
}

func smooth(alpha *image.Alpha, kernel int) (*image.Alpha, error) {
	if kernel%2 == 0 {
		kernel++
	}
	size := alpha.Bounds().Size()
	m, err := gocv.NewMatFromBytes(size.Y, size.X, gocv.MatTypeCV8UC1, alpha.Pix)
	if err != nil {
		return nil, fmt.Errorf("unable to convert the mask into a matrix: %w", err)
	}
	defer m.Close()
	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(m, &blurred, image.Pt(kernel, kernel), 0, 0, gocv.BorderReplicate)

	result := image.NewAlpha(alpha.Bounds())
	copy(result.Pix, blurred.ToBytes())
	return result, nil
}

func (s *Segmenter) Close(ctx context.Context) error {
	s.locker.Do(ctx, func() {
		if !s.initialized {
			return
		}
		s.classifier.Close()
		s.initialized = false
	})
	return nil
}
