// Package imagedir writes output frames as numbered image files.
package imagedir

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/xaionaro-go/avbackground/frame"
	"github.com/xaionaro-go/avbackground/logger"
	"go.uber.org/atomic"
)

type Format string

const (
	FormatPNG  = Format("png")
	FormatJPEG = Format("jpeg")
)

const DefaultJPEGQuality = 90

type Sink struct {
	Dir         string
	Format      Format
	JPEGQuality int

	count atomic.Uint64
}

var _ frame.Sink = (*Sink)(nil)

func New(dir string, format Format) (*Sink, error) {
	switch format {
	case "":
		format = FormatPNG
	case FormatPNG, FormatJPEG:
	default:
		return nil, fmt.Errorf("unknown image format '%s'", format)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("unable to create the directory '%s': %w", dir, err)
	}
	return &Sink{
		Dir:         dir,
		Format:      format,
		JPEGQuality: DefaultJPEGQuality,
	}, nil
}

func (s *Sink) String() string {
	return fmt.Sprintf("ImageDirSink(%s, %s)", s.Dir, s.Format)
}

// Count returns the amount of written frames.
func (s *Sink) Count() uint64 {
	return s.count.Load()
}

func (s *Sink) WriteFrame(ctx context.Context, f *frame.Frame) error {
	idx := s.count.Inc() - 1
	var (
		encoder imgio.Encoder
		ext     string
	)
	switch s.Format {
	case FormatJPEG:
		encoder, ext = imgio.JPEGEncoder(s.JPEGQuality), "jpg"
	default:
		encoder, ext = imgio.PNGEncoder(), "png"
	}
	path := filepath.Join(s.Dir, fmt.Sprintf("%08d.%s", idx, ext))
	logger.Tracef(ctx, "writing %s to '%s'", f, path)
	if err := imgio.Save(path, f.Image, encoder); err != nil {
		return fmt.Errorf("unable to save '%s': %w", path, err)
	}
	return nil
}
