//go:build with_cv
// +build with_cv

package cvcompositor

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avbackground/frame"
	"github.com/xaionaro-go/avbackground/segmentation"
	"github.com/xaionaro-go/avbackground/types"
)

func uniformImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

func TestCompositeUniformMasks(t *testing.T) {
	ctx := context.Background()
	c := New()
	defer c.Release(ctx)

	frameColor := color.RGBA{R: 0x20, G: 0x40, B: 0x60, A: 0xff}
	green := color.RGBA{G: 0xff, A: 0xff}
	f := frame.New(uniformImage(32, 18, frameColor), 0, nil)
	bg := types.BackgroundImage("green", uniformImage(8, 8, green))

	out, err := c.Composite(ctx, f, segmentation.NewUniformMask(8, 4, segmentation.AlphaForeground), bg)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 32, 18), out.Bounds())
	require.Equal(t, frameColor, out.RGBAAt(5, 5))

	out, err = c.Composite(ctx, f, segmentation.NewUniformMask(8, 4, segmentation.AlphaBackground), bg)
	require.NoError(t, err)
	require.Equal(t, green, out.RGBAAt(5, 5))

	// blurring a uniform frame keeps its color
	out, err = c.Composite(ctx, f, segmentation.NewUniformMask(8, 4, segmentation.AlphaBackground), types.BackgroundBlur(4))
	require.NoError(t, err)
	require.Equal(t, frameColor, out.RGBAAt(16, 9))

	require.NoError(t, c.Release(ctx))
	require.Nil(t, c.bgMat)
}

func TestCompositeRejectsMissingMask(t *testing.T) {
	c := New()
	f := frame.New(uniformImage(4, 4, color.RGBA{A: 0xff}), 0, nil)
	_, err := c.Composite(context.Background(), f, nil, types.BackgroundBlur(1))
	require.Error(t, err)
}
