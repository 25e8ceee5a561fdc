package synthetic

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avbackground/segmentation/otsu"
)

func TestSourceCount(t *testing.T) {
	ctx := context.Background()
	s := New(Config{Width: 64, Height: 36, Count: 3})

	var timestamps []time.Duration
	for {
		f, err := s.ReadFrame(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.Equal(t, 64, f.Width())
		require.Equal(t, 36, f.Height())
		timestamps = append(timestamps, f.Timestamp)
		f.Close()
	}
	require.Equal(t, []time.Duration{0, DefaultInterval, 2 * DefaultInterval}, timestamps)

	require.NoError(t, s.Close(ctx))
	_, err := s.ReadFrame(ctx)
	require.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestSourceCancelled(t *testing.T) {
	ctx, cancelFn := context.WithCancel(context.Background())
	s := New(Config{Width: 16, Height: 16, Interval: time.Hour, Realtime: true})

	f, err := s.ReadFrame(ctx)
	require.NoError(t, err)
	f.Close()

	cancelFn()
	_, err = s.ReadFrame(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestPatternIsSegmentable(t *testing.T) {
	ctx := context.Background()
	s := New(Config{})
	f, err := s.ReadFrame(ctx)
	require.NoError(t, err)
	defer f.Close()

	seg := otsu.New(otsu.Config{})
	require.NoError(t, seg.Init(ctx))
	mask, err := seg.Segment(ctx, f)
	require.NoError(t, err)

	size := mask.Bounds().Size()
	require.GreaterOrEqual(t, mask.Alpha.AlphaAt(size.X/2, size.Y/2).A, uint8(0xf0))
	require.LessOrEqual(t, mask.Alpha.AlphaAt(0, 0).A, uint8(0x10))
	require.InDelta(t, 0.11, mask.Coverage(), 0.05)
}
