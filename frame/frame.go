// Package frame defines the video frame as seen by the background pipeline,
// and the contracts of frame producers and consumers.
package frame

import (
	"fmt"
	"image"
	"sync"
	"time"
)

// Frame is an immutable image tagged with its capture timestamp.
//
// A frame is consumed exactly once: whoever receives it must Close it,
// which gives the underlying buffer back to its producer.
type Frame struct {
	Image     image.Image
	Timestamp time.Duration

	releaseOnce sync.Once
	releaseFunc func()
}

// New wraps an image into a Frame. The release function (may be nil) is
// invoked once on Close.
func New(
	img image.Image,
	ts time.Duration,
	release func(),
) *Frame {
	return &Frame{
		Image:       img,
		Timestamp:   ts,
		releaseFunc: release,
	}
}

func (f *Frame) Bounds() image.Rectangle {
	if f == nil || f.Image == nil {
		return image.Rectangle{}
	}
	return f.Image.Bounds()
}

func (f *Frame) Width() int {
	return f.Bounds().Dx()
}

func (f *Frame) Height() int {
	return f.Bounds().Dy()
}

func (f *Frame) PixelFormat() PixelFormat {
	if f == nil {
		return PixelFormatUndefined
	}
	return PixelFormatOf(f.Image)
}

// Close releases the frame. It is safe to call it multiple times.
func (f *Frame) Close() {
	if f == nil {
		return
	}
	f.releaseOnce.Do(func() {
		if f.releaseFunc != nil {
			f.releaseFunc()
		}
	})
}

func (f *Frame) String() string {
	if f == nil {
		return "Frame(<nil>)"
	}
	return fmt.Sprintf("Frame(%dx%d %s @%v)", f.Width(), f.Height(), f.PixelFormat(), f.Timestamp)
}
