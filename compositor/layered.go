package compositor

import (
	"context"
	"fmt"
	"image"
	"image/draw"

	"github.com/anthonynsimon/bild/blur"
	"github.com/xaionaro-go/avbackground/frame"
	"github.com/xaionaro-go/avbackground/logger"
	"github.com/xaionaro-go/avbackground/pool"
	"github.com/xaionaro-go/avbackground/segmentation"
	"github.com/xaionaro-go/avbackground/types"
	"github.com/xaionaro-go/typing"
	"github.com/xaionaro-go/xsync"
	xdraw "golang.org/x/image/draw"
)

// Layered is the CPU 2D compositor. The mask and the substitute image are
// scaled to the frame resolution with bilinear interpolation.
type Layered struct {
	// BlurRadius overrides the blur radius of blur backgrounds when set.
	BlurRadius typing.Optional[float64]

	locker   xsync.Mutex
	surfaces *pool.RGBA

	maskSurface *image.Alpha

	// the substitute image pre-scaled to the last seen frame resolution
	bgSurface     *image.RGBA
	bgSurfaceSpec *types.BackgroundSpec
}

var _ Compositor = (*Layered)(nil)

func NewLayered() *Layered {
	return &Layered{
		surfaces: pool.NewRGBA(),
	}
}

func (c *Layered) String() string {
	return "Layered"
}

func (c *Layered) Composite(
	ctx context.Context,
	f *frame.Frame,
	mask *segmentation.Mask,
	bg *types.BackgroundSpec,
) (*image.RGBA, error) {
	if err := ValidateInput(f, mask, bg); err != nil {
		return nil, err
	}
	return xsync.DoR2(xsync.WithNoLogging(ctx, true), &c.locker, func() (*image.RGBA, error) {
		return c.compositeLocked(ctx, f, mask, bg)
	})
}

func (c *Layered) compositeLocked(
	ctx context.Context,
	f *frame.Frame,
	mask *segmentation.Mask,
	bg *types.BackgroundSpec,
) (*image.RGBA, error) {
	size := f.Bounds().Size()
	logger.Tracef(ctx, "compositing %s with a %v mask over %s", f, mask.Bounds().Size(), bg)

	src, releaseSrc := c.asRGBA(f.Image)
	defer releaseSrc()

	var bgLayer *image.RGBA
	switch bg.Kind {
	case types.BackgroundKindBlur:
		radius := bg.BlurRadius
		if c.BlurRadius.IsSet() {
			radius = c.BlurRadius.Get()
		}
		bgLayer = blur.Gaussian(src, radius)
	case types.BackgroundKindImage:
		bgLayer = c.imageSurface(bg, size)
	default:
		return nil, fmt.Errorf("unexpected background kind %s", bg.Kind)
	}

	out := image.NewRGBA(image.Rectangle{Max: size})
	drawMask(out, c.scaledMask(mask.Alpha, size))
	sourceOut(out, bgLayer)
	destinationOver(out, src)
	return out, nil
}

// asRGBA returns the image as an RGBA anchored at (0,0), converting it into
// a pooled surface when needed.
func (c *Layered) asRGBA(img image.Image) (*image.RGBA, func()) {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba, func() {}
	}
	b := img.Bounds()
	surface := c.surfaces.Get(b.Dx(), b.Dy())
	draw.Draw(surface, surface.Rect, img, b.Min, draw.Src)
	return surface, func() { c.surfaces.Put(surface) }
}

func (c *Layered) scaledMask(mask *image.Alpha, size image.Point) *image.Alpha {
	if mask.Rect.Size() == size && mask.Rect.Min == (image.Point{}) {
		return mask
	}
	if c.maskSurface == nil || c.maskSurface.Rect.Size() != size {
		c.maskSurface = image.NewAlpha(image.Rectangle{Max: size})
	}
	if mask.Rect.Size() == size {
		draw.Draw(c.maskSurface, c.maskSurface.Rect, mask, mask.Rect.Min, draw.Src)
		return c.maskSurface
	}
	xdraw.BiLinear.Scale(c.maskSurface, c.maskSurface.Rect, mask, mask.Rect, xdraw.Src, nil)
	return c.maskSurface
}

func (c *Layered) imageSurface(
	bg *types.BackgroundSpec,
	size image.Point,
) *image.RGBA {
	if c.bgSurfaceSpec == bg && c.bgSurface != nil && c.bgSurface.Rect.Size() == size {
		return c.bgSurface
	}
	if c.bgSurface != nil {
		c.surfaces.Put(c.bgSurface)
	}
	surface := c.surfaces.Get(size.X, size.Y)
	b := bg.Image.Bounds()
	if b.Size() == size {
		draw.Draw(surface, surface.Rect, bg.Image, b.Min, draw.Src)
	} else {
		xdraw.BiLinear.Scale(surface, surface.Rect, bg.Image, b, xdraw.Src, nil)
	}
	c.bgSurface = surface
	c.bgSurfaceSpec = bg
	return surface
}

func (c *Layered) Release(ctx context.Context) error {
	logger.Debugf(ctx, "Release")
	defer func() { logger.Debugf(ctx, "/Release") }()
	c.locker.Do(ctx, func() {
		c.bgSurface = nil
		c.bgSurfaceSpec = nil
		c.maskSurface = nil
		c.surfaces.Reset()
	})
	return nil
}
