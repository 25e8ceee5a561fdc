//go:build with_cv
// +build with_cv

package cvcompositor

import (
	"context"
	"fmt"
	"image"
	"image/draw"

	"github.com/xaionaro-go/avbackground/compositor"
	"github.com/xaionaro-go/avbackground/frame"
	"github.com/xaionaro-go/avbackground/logger"
	"github.com/xaionaro-go/avbackground/segmentation"
	"github.com/xaionaro-go/avbackground/types"
	"github.com/xaionaro-go/xsync"
	"gocv.io/x/gocv"
)

// Compositor computes out = frame*a + background*(1-a), where a is the
// bilinearly scaled mask; it is the same layering as compositor.Layered.
type Compositor struct {
	locker xsync.Mutex

	// the background image scaled to the frame size, as 32-bit floats
	bgMat     *gocv.Mat
	bgMatSpec *types.BackgroundSpec
	bgMatSize image.Point
}

var _ compositor.Compositor = (*Compositor)(nil)

func New() *Compositor {
	return &Compositor{}
}

func (c *Compositor) String() string {
	return "CVCompositor"
}

func (c *Compositor) Composite(
	ctx context.Context,
	f *frame.Frame,
	mask *segmentation.Mask,
	bg *types.BackgroundSpec,
) (*image.RGBA, error) {
	if err := compositor.ValidateInput(f, mask, bg); err != nil {
		return nil, err
	}
	return xsync.DoR2(xsync.WithNoLogging(ctx, true), &c.locker, func() (*image.RGBA, error) {
		return c.compositeLocked(ctx, f, mask, bg)
	})
}

func (c *Compositor) compositeLocked(
	ctx context.Context,
	f *frame.Frame,
	mask *segmentation.Mask,
	bg *types.BackgroundSpec,
) (*image.RGBA, error) {
	size := f.Bounds().Size()

	frame8, err := gocv.ImageToMatRGBA(f.Image)
	if err != nil {
		return nil, fmt.Errorf("unable to convert the frame into a matrix: %w", err)
	}
	defer frame8.Close()
	frameF := gocv.NewMat()
	defer frameF.Close()
	frame8.ConvertTo(&frameF, gocv.MatTypeCV32F)

	alpha, err := c.alphaMat(mask.Alpha, size)
	if err != nil {
		return nil, err
	}
	defer alpha.Close()

	var bgF gocv.Mat
	switch bg.Kind {
	case types.BackgroundKindBlur:
		bgF = gocv.NewMat()
		defer bgF.Close()
		if bg.BlurRadius > 0 {
			gocv.GaussianBlur(frameF, &bgF, image.Point{}, bg.BlurRadius, bg.BlurRadius, gocv.BorderReflect101)
		} else {
			frameF.CopyTo(&bgF)
		}
	case types.BackgroundKindImage:
		bgPtr, err := c.imageMat(bg, size)
		if err != nil {
			return nil, err
		}
		bgF = *bgPtr
	default:
		return nil, fmt.Errorf("unexpected background kind: %s", bg.Kind)
	}

	ones := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(1, 1, 1, 1), size.Y, size.X, gocv.MatTypeCV32FC4)
	defer ones.Close()
	inverse := gocv.NewMat()
	defer inverse.Close()
	if err := gocv.Subtract(ones, alpha, &inverse); err != nil {
		return nil, fmt.Errorf("unable to invert the mask: %w", err)
	}

	fg := gocv.NewMat()
	defer fg.Close()
	if err := gocv.Multiply(frameF, alpha, &fg); err != nil {
		return nil, fmt.Errorf("unable to apply the mask to the frame: %w", err)
	}
	back := gocv.NewMat()
	defer back.Close()
	if err := gocv.Multiply(bgF, inverse, &back); err != nil {
		return nil, fmt.Errorf("unable to apply the mask to the background: %w", err)
	}
	sum := gocv.NewMat()
	defer sum.Close()
	if err := gocv.Add(fg, back, &sum); err != nil {
		return nil, fmt.Errorf("unable to merge the layers: %w", err)
	}

	out8 := gocv.NewMat()
	defer out8.Close()
	sum.ConvertTo(&out8, gocv.MatTypeCV8U)
	img, err := out8.ToImage()
	if err != nil {
		return nil, fmt.Errorf("unable to convert the result into an image: %w", err)
	}
	logger.Tracef(ctx, "composited %s over %s", f, bg)

	if rgba, ok := img.(*image.RGBA); ok {
		return rgba, nil
	}
	rgba := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	draw.Draw(rgba, rgba.Rect, img, img.Bounds().Min, draw.Src)
	return rgba, nil
}

// alphaMat returns the mask scaled to size as a 4-channel matrix of
// opacities in [0, 1].
func (c *Compositor) alphaMat(
	alpha *image.Alpha,
	size image.Point,
) (gocv.Mat, error) {
	r := alpha.Bounds()
	pix := make([]byte, 0, r.Dx()*r.Dy())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		pix = append(pix, alpha.Pix[alpha.PixOffset(r.Min.X, y):alpha.PixOffset(r.Max.X, y)]...)
	}
	small, err := gocv.NewMatFromBytes(r.Dy(), r.Dx(), gocv.MatTypeCV8UC1, pix)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("unable to convert the mask into a matrix: %w", err)
	}
	defer small.Close()

	scaled := gocv.NewMat()
	defer scaled.Close()
	gocv.Resize(small, &scaled, size, 0, 0, gocv.InterpolationLinear)

	normalized := gocv.NewMat()
	defer normalized.Close()
	scaled.ConvertToWithParams(&normalized, gocv.MatTypeCV32F, 1.0/255, 0)

	result := gocv.NewMat()
	gocv.Merge([]gocv.Mat{normalized, normalized, normalized, normalized}, &result)
	return result, nil
}

func (c *Compositor) imageMat(
	bg *types.BackgroundSpec,
	size image.Point,
) (*gocv.Mat, error) {
	if c.bgMat != nil && c.bgMatSpec == bg && c.bgMatSize == size {
		return c.bgMat, nil
	}
	c.releaseLocked()

	img8, err := gocv.ImageToMatRGBA(bg.Image)
	if err != nil {
		return nil, fmt.Errorf("unable to convert the background '%s' into a matrix: %w", bg.Ref, err)
	}
	defer img8.Close()
	scaled := gocv.NewMat()
	defer scaled.Close()
	gocv.Resize(img8, &scaled, size, 0, 0, gocv.InterpolationLinear)

	m := gocv.NewMat()
	scaled.ConvertTo(&m, gocv.MatTypeCV32F)
	c.bgMat, c.bgMatSpec, c.bgMatSize = &m, bg, size
	return c.bgMat, nil
}

func (c *Compositor) releaseLocked() {
	if c.bgMat != nil {
		c.bgMat.Close()
	}
	c.bgMat, c.bgMatSpec, c.bgMatSize = nil, nil, image.Point{}
}

func (c *Compositor) Release(ctx context.Context) error {
	c.locker.Do(ctx, func() {
		c.releaseLocked()
	})
	return nil
}
