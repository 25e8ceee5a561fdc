package otsu

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avbackground/frame"
	"github.com/xaionaro-go/typing"
)

func subjectFrame(w, h int) *frame.Frame {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 20, G: 20, B: 30, A: 0xff}}, image.Point{}, draw.Src)
	subject := image.Rect(w/4, h/4, w*3/4, h*3/4)
	draw.Draw(img, subject, &image.Uniform{C: color.RGBA{R: 230, G: 210, B: 200, A: 0xff}}, image.Point{}, draw.Src)
	return frame.New(img, 0, nil)
}

func TestThreshold(t *testing.T) {
	bins := make([]int, 256)
	bins[20] = 100
	bins[230] = 50
	level := Threshold(bins)
	require.Greater(t, level, uint8(20))
	require.LessOrEqual(t, level, uint8(230))

	require.Equal(t, uint8(0x80), Threshold(make([]int, 256)))

	single := make([]int, 256)
	single[42] = 10
	require.Equal(t, uint8(0x80), Threshold(single))
}

func TestSegmentBrightSubject(t *testing.T) {
	ctx := context.Background()
	s := New(Config{InputResolution: InputResolution160x96})
	require.NoError(t, s.Init(ctx))
	defer s.Close(ctx)

	mask, err := s.Segment(ctx, subjectFrame(320, 192))
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 160, 96), mask.Bounds())
	require.NotNil(t, mask.Normalized)
	require.Equal(t, image.Rect(0, 0, 160, 96), mask.Normalized.Bounds())

	// smoothing truncates, so allow one level off the extremes
	require.GreaterOrEqual(t, mask.Alpha.AlphaAt(80, 48).A, uint8(0xfe))
	require.LessOrEqual(t, mask.Alpha.AlphaAt(2, 2).A, uint8(0x01))
	require.InDelta(t, 0.25, mask.Coverage(), 0.05)
}

func TestSegmentDarkSubject(t *testing.T) {
	ctx := context.Background()
	s := New(Config{
		InputResolution:  InputResolution256x144,
		SmoothRadius:     typing.Opt(0.0),
		ForegroundIsDark: true,
	})
	require.NoError(t, s.Init(ctx))

	mask, err := s.Segment(ctx, subjectFrame(256, 144))
	require.NoError(t, err)
	require.Equal(t, uint8(0x00), mask.Alpha.AlphaAt(128, 72).A)
	require.Equal(t, uint8(0xff), mask.Alpha.AlphaAt(1, 1).A)
}

func TestSegmentRequiresInit(t *testing.T) {
	ctx := context.Background()
	s := New(Config{})
	_, err := s.Segment(ctx, subjectFrame(16, 16))
	require.Error(t, err)

	bad := New(Config{InputResolution: "1x1"})
	require.Error(t, bad.Init(ctx))
}
