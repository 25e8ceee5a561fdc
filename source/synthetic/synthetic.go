// Package synthetic produces generated test-pattern frames: a bright
// "subject" disc moving over a dark gradient backdrop.
package synthetic

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"time"

	"github.com/xaionaro-go/avbackground/frame"
	"github.com/xaionaro-go/avbackground/logger"
	"github.com/xaionaro-go/avbackground/pool"
	"go.uber.org/atomic"
)

const (
	DefaultWidth    = 640
	DefaultHeight   = 360
	DefaultInterval = 33 * time.Millisecond
)

type Config struct {
	Width  int
	Height int

	// Interval is the timestamp distance between two frames.
	Interval time.Duration

	// Count limits the amount of frames; zero means infinite.
	Count uint64

	// Realtime makes ReadFrame wait for the wall-clock time of the frame.
	Realtime bool
}

type Source struct {
	Config Config

	buffers   *pool.RGBA
	index     atomic.Uint64
	startedAt time.Time
	closed    atomic.Bool
}

var _ frame.Source = (*Source)(nil)

func New(cfg Config) *Source {
	if cfg.Width <= 0 {
		cfg.Width = DefaultWidth
	}
	if cfg.Height <= 0 {
		cfg.Height = DefaultHeight
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Source{
		Config:  cfg,
		buffers: pool.NewRGBA(),
	}
}

func (s *Source) String() string {
	return fmt.Sprintf("Synthetic(%dx%d@%v)", s.Config.Width, s.Config.Height, s.Config.Interval)
}

func (s *Source) ReadFrame(ctx context.Context) (*frame.Frame, error) {
	if s.closed.Load() {
		return nil, io.ErrClosedPipe
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx := s.index.Inc() - 1
	if s.Config.Count > 0 && idx >= s.Config.Count {
		return nil, io.EOF
	}
	ts := time.Duration(idx) * s.Config.Interval

	if s.Config.Realtime {
		if idx == 0 {
			s.startedAt = time.Now()
		}
		if wait := time.Until(s.startedAt.Add(ts)); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}
	}

	img := s.buffers.Get(s.Config.Width, s.Config.Height)
	Draw(img, idx)
	logger.Tracef(ctx, "generated frame #%d", idx)
	return frame.New(img, ts, func() { s.buffers.Put(img) }), nil
}

func (s *Source) Close(ctx context.Context) error {
	s.closed.Store(true)
	return nil
}

// SubjectColor is the color of the moving disc.
var SubjectColor = color.RGBA{R: 0xf0, G: 0xd8, B: 0xc0, A: 0xff}

// Draw renders the pattern of the idx-th frame into img.
func Draw(img *image.RGBA, idx uint64) {
	r := img.Bounds()
	w, h := r.Dx(), r.Dy()
	radius := float64(min(w, h)) / 4
	phase := float64(idx) / 30 * math.Pi
	cx := float64(w)/2 + float64(w)/4*math.Sin(phase)
	cy := float64(h) / 2

	for y := 0; y < h; y++ {
		row := img.Pix[img.PixOffset(r.Min.X, r.Min.Y+y):]
		for x := 0; x < w; x++ {
			px := row[x*4 : x*4+4]
			dx, dy := float64(x)+0.5-cx, float64(y)+0.5-cy
			if dx*dx+dy*dy <= radius*radius {
				px[0], px[1], px[2], px[3] = SubjectColor.R, SubjectColor.G, SubjectColor.B, 0xff
				continue
			}
			px[0] = uint8(0x10 + x*0x30/w)
			px[1] = uint8(0x10 + y*0x30/h)
			px[2] = 0x40
			px[3] = 0xff
		}
	}
}
