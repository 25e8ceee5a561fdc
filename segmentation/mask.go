package segmentation

import (
	"image"
)

const (
	AlphaBackground = uint8(0x00)
	AlphaForeground = uint8(0xff)
)

// Mask is the opacity map of the foreground of a frame: 0xff means
// foreground, 0x00 means background. The mask may have a resolution lower
// than the frame (the model resolution); it is aligned to the whole frame.
type Mask struct {
	Alpha *image.Alpha

	// Normalized is the copy of the source image the segmenter fed into the
	// model (optional).
	Normalized image.Image
}

// NewUniformMask returns a w x h mask where every cell has the given opacity.
func NewUniformMask(w, h int, alpha uint8) *Mask {
	m := image.NewAlpha(image.Rect(0, 0, w, h))
	if alpha != 0 {
		for i := range m.Pix {
			m.Pix[i] = alpha
		}
	}
	return &Mask{Alpha: m}
}

func (m *Mask) Bounds() image.Rectangle {
	if m == nil || m.Alpha == nil {
		return image.Rectangle{}
	}
	return m.Alpha.Bounds()
}

// Coverage returns the share of foreground in the mask, in [0, 1].
func (m *Mask) Coverage() float64 {
	if m == nil || m.Alpha == nil {
		return 0
	}
	r := m.Alpha.Bounds()
	if r.Empty() {
		return 0
	}
	var sum uint64
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := m.Alpha.Pix[m.Alpha.PixOffset(r.Min.X, y):m.Alpha.PixOffset(r.Max.X, y)]
		for _, a := range row {
			sum += uint64(a)
		}
	}
	return float64(sum) / float64(uint64(r.Dx())*uint64(r.Dy())*0xff)
}
