package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avbackground/frame"
	"github.com/xaionaro-go/avbackground/segmentation"
	"github.com/xaionaro-go/avbackground/types"
	"go.uber.org/atomic"
)

func newTestController(
	t *testing.T,
	ctx context.Context,
	seg *fakeSegmenter,
	comp *spyCompositor,
	cfg Config,
) *Controller {
	c := NewController(ctx, seg, comp, cfg)
	t.Cleanup(func() {
		require.NoError(t, c.Close(context.Background()))
		require.Zero(t, seg.overlaps.Load(), "Segment calls overlapped")
	})
	return c
}

func requireBalancedStats(t *testing.T, c *Controller) {
	eventually(t, func() bool {
		s := c.Stats()
		return s.FramesAdmitted == s.FramesEmitted+s.DroppedTotal()
	}, "%s", c.Stats())
}

func TestControllerEmitsEveryFrameInOrder(t *testing.T) {
	ctx := testCtx(t)
	seg := newFakeSegmenter(segmentation.AlphaForeground)
	c := newTestController(t, ctx, seg, newSpyCompositor(), DefaultConfig())
	src := newChanSource("src")

	out, err := c.Start(ctx, src, types.BackgroundBlur(2))
	require.NoError(t, err)
	require.Equal(t, types.PipelineStateRunning, c.State())
	require.Equal(t, int32(1), seg.inits.Load())

	var (
		expected []time.Duration
		actual   []time.Duration
	)
	for i := 0; i < 10; i++ {
		ts := time.Duration(i) * 33 * time.Millisecond
		f, closed := testFrame(ts)
		src.push(t, f)
		result := receive(t, out)
		actual = append(actual, result.Timestamp)
		expected = append(expected, ts)
		require.Equal(t, image.Rect(0, 0, 8, 6), result.Bounds())
		require.Equal(t, frameColor, result.Image.(*image.RGBA).RGBAAt(3, 3))
		result.Close()
		eventually(t, closed.Load, "the input frame %d was not released", i)
	}
	require.Empty(t, cmp.Diff(expected, actual))

	requireBalancedStats(t, c)
	s := c.Stats()
	require.Equal(t, uint64(10), s.FramesAdmitted)
	require.Equal(t, uint64(10), s.FramesEmitted)
	require.Zero(t, s.DroppedTotal())
	require.NotZero(t, s.SegmentationLatencyP95)
}

func TestControllerLatestWins(t *testing.T) {
	ctx := testCtx(t)
	seg := newFakeSegmenter(segmentation.AlphaForeground)
	c := newTestController(t, ctx, seg, newSpyCompositor(), DefaultConfig())
	src := newChanSource("src")
	out, err := c.Start(ctx, src, types.BackgroundBlur(2))
	require.NoError(t, err)

	unhold := seg.hold()
	defer unhold()

	var closedFlags []*atomic.Bool
	for i := 0; i < 10; i++ {
		f, closed := testFrame(time.Duration(i) * time.Second)
		closedFlags = append(closedFlags, closed)
		src.push(t, f)
		if i == 0 {
			eventually(t, func() bool { return seg.calls.Load() == 1 })
		}
	}
	eventually(t, func() bool {
		return c.Stats().FramesDropped[types.DropReasonSuperseded] == 8
	}, "%s", c.Stats())
	for i := 1; i < 9; i++ {
		require.True(t, closedFlags[i].Load(), "superseded frame %d was not released", i)
	}
	unhold()

	var timestamps []time.Duration
	for range 2 {
		f := receive(t, out)
		timestamps = append(timestamps, f.Timestamp)
		f.Close()
	}
	require.Empty(t, cmp.Diff([]time.Duration{0, 9 * time.Second}, timestamps))
	requireBalancedStats(t, c)
	require.Equal(t, int32(2), seg.calls.Load())
}

func TestControllerDropNewest(t *testing.T) {
	ctx := testCtx(t)
	seg := newFakeSegmenter(segmentation.AlphaForeground)
	cfg := DefaultConfig()
	cfg.Backpressure = BackpressureDropNewest
	c := newTestController(t, ctx, seg, newSpyCompositor(), cfg)
	src := newChanSource("src")
	out, err := c.Start(ctx, src, types.BackgroundBlur(2))
	require.NoError(t, err)

	unhold := seg.hold()
	defer unhold()
	for i := 0; i < 5; i++ {
		f, _ := testFrame(time.Duration(i) * time.Second)
		src.push(t, f)
		if i == 0 {
			eventually(t, func() bool { return seg.calls.Load() == 1 })
		}
	}
	eventually(t, func() bool {
		return c.Stats().FramesDropped[types.DropReasonBackpressure] == 4
	}, "%s", c.Stats())
	unhold()

	f := receive(t, out)
	require.Equal(t, time.Duration(0), f.Timestamp)
	f.Close()
	requireNoFrame(t, out, 50*time.Millisecond)
	requireBalancedStats(t, c)
}

func TestControllerChangeInputDiscardsStaleResult(t *testing.T) {
	ctx := testCtx(t)
	seg := newFakeSegmenter(segmentation.AlphaForeground)
	c := newTestController(t, ctx, seg, newSpyCompositor(), DefaultConfig())
	src0 := newChanSource("src0")
	out, err := c.Start(ctx, src0, types.BackgroundBlur(2))
	require.NoError(t, err)
	gen := c.Generation()

	unhold := seg.hold()
	defer unhold()
	f0, closed0 := testFrame(time.Second)
	src0.push(t, f0)
	eventually(t, func() bool { return seg.calls.Load() == 1 })

	src1 := newChanSource("src1")
	require.NoError(t, c.ChangeInput(ctx, src1, true))
	require.True(t, src0.closed.Load())
	require.Equal(t, gen+1, c.Generation())
	require.Equal(t, types.GetObjectID(src1), types.GetObjectID(c.Source()))

	// the same source again is a no-op
	require.NoError(t, c.ChangeInput(ctx, src1, true))
	require.False(t, src1.closed.Load())
	require.Equal(t, gen+1, c.Generation())

	unhold()
	eventually(t, func() bool {
		return c.Stats().FramesDropped[types.DropReasonStale] == 1
	}, "%s", c.Stats())
	eventually(t, closed0.Load)

	f1, _ := testFrame(2 * time.Second)
	src1.push(t, f1)
	f := receive(t, out)
	require.Equal(t, 2*time.Second, f.Timestamp)
	f.Close()
	requireBalancedStats(t, c)
	require.Equal(t, uint64(1), c.Stats().FramesEmitted)
}

func TestControllerChangeBackground(t *testing.T) {
	ctx := testCtx(t)
	seg := newFakeSegmenter(segmentation.AlphaBackground)
	c := newTestController(t, ctx, seg, newSpyCompositor(), DefaultConfig())
	src := newChanSource("src")

	red := color.RGBA{R: 0xff, A: 0xff}
	green := color.RGBA{G: 0xff, A: 0xff}
	out, err := c.Start(ctx, src, types.BackgroundImage("red", uniformImage(8, 6, red)))
	require.NoError(t, err)

	f, _ := testFrame(0)
	src.push(t, f)
	result := receive(t, out)
	require.Equal(t, red, result.Image.(*image.RGBA).RGBAAt(2, 2))
	result.Close()

	require.NoError(t, c.ChangeBackground(ctx, types.BackgroundImage("green", uniformImage(8, 6, green))))
	f, _ = testFrame(time.Second)
	src.push(t, f)
	result = receive(t, out)
	require.Equal(t, green, result.Image.(*image.RGBA).RGBAAt(2, 2))
	result.Close()

	err = c.ChangeBackground(ctx, &types.BackgroundSpec{Kind: types.BackgroundKindImage})
	require.Error(t, err)
	require.Equal(t, "Image(green)", c.Background.Get().String())
}

func TestControllerStop(t *testing.T) {
	ctx := testCtx(t)
	seg := newFakeSegmenter(segmentation.AlphaForeground)
	comp := newSpyCompositor()
	c := newTestController(t, ctx, seg, comp, DefaultConfig())
	src := newChanSource("src")
	out, err := c.Start(ctx, src, types.BackgroundBlur(2))
	require.NoError(t, err)

	unhold := seg.hold()
	defer unhold()
	f0, _ := testFrame(0)
	src.push(t, f0)
	eventually(t, func() bool { return seg.calls.Load() == 1 })
	f1, closed1 := testFrame(time.Second)
	src.push(t, f1)
	eventually(t, func() bool { return c.Stats().FramesAdmitted == 2 })

	require.NoError(t, c.Stop(ctx))
	require.Equal(t, types.PipelineStateSuspended, c.State())
	require.False(t, src.closed.Load())
	require.Equal(t, int32(1), comp.releases.Load())
	require.True(t, closed1.Load(), "the pending frame was not released")
	requireClosed(t, out.Done())
	require.NoError(t, out.Err())

	unhold()
	eventually(t, func() bool {
		s := c.Stats()
		return s.FramesDropped[types.DropReasonStopped] == 1 && s.FramesDropped[types.DropReasonStale] == 1
	}, "%s", c.Stats())
	_, ok := <-out.Frames()
	require.False(t, ok)
	require.Zero(t, c.Stats().FramesEmitted)

	// stopping twice is fine
	require.NoError(t, c.Stop(ctx))

	// and the same controller can be started again
	out, err = c.Start(ctx, src, types.BackgroundBlur(2))
	require.NoError(t, err)
	require.Equal(t, int32(1), seg.inits.Load())
	f2, _ := testFrame(2 * time.Second)
	src.push(t, f2)
	f := receive(t, out)
	require.Equal(t, 2*time.Second, f.Timestamp)
	f.Close()
	requireBalancedStats(t, c)
}

func TestControllerSegmentationTimeout(t *testing.T) {
	ctx := testCtx(t)
	seg := newFakeSegmenter(segmentation.AlphaForeground)
	comp := newSpyCompositor()
	faults := make(chan error, 1)
	cfg := DefaultConfig()
	cfg.SegmentationTimeout = 50 * time.Millisecond
	cfg.OnFault = func(ctx context.Context, err error) { faults <- err }
	c := newTestController(t, ctx, seg, comp, cfg)
	src := newChanSource("src")
	out, err := c.Start(ctx, src, types.BackgroundBlur(2))
	require.NoError(t, err)

	unhold := seg.hold()
	defer unhold()
	f, closed := testFrame(0)
	src.push(t, f)

	requireClosed(t, out.Done())
	require.Equal(t, types.PipelineStateFaulted, c.State())

	var errStep types.ErrStep
	require.True(t, errors.As(out.Err(), &errStep), "%v", out.Err())
	var errTimeout types.ErrTimeout
	require.True(t, errors.As(out.Err(), &errTimeout), "%v", out.Err())
	require.Equal(t, out.Err(), c.Err())
	require.Equal(t, out.Err(), <-faults)
	require.Equal(t, uint64(1), c.Stats().FramesDropped[types.DropReasonStepFailure])
	require.GreaterOrEqual(t, comp.releases.Load(), int32(1))

	// the abandoned Segment call still owns the frame
	require.False(t, closed.Load())
	unhold()
	eventually(t, closed.Load)

	_, err = c.Start(ctx, src, types.BackgroundBlur(2))
	require.ErrorAs(t, err, &types.ErrInvalidState{})
	require.NoError(t, c.Stop(ctx))
	require.Equal(t, types.PipelineStateSuspended, c.State())
	require.NoError(t, c.Err())
}

func TestControllerCompositeFailure(t *testing.T) {
	ctx := testCtx(t)
	seg := newFakeSegmenter(segmentation.AlphaForeground)
	comp := newSpyCompositor()
	comp.Err = errors.New("out of surfaces")
	c := newTestController(t, ctx, seg, comp, DefaultConfig())
	src := newChanSource("src")
	out, err := c.Start(ctx, src, types.BackgroundBlur(2))
	require.NoError(t, err)

	f, closed := testFrame(time.Second)
	src.push(t, f)
	requireClosed(t, out.Done())
	require.ErrorIs(t, out.Err(), comp.Err)
	var errStep types.ErrStep
	require.ErrorAs(t, out.Err(), &errStep)
	require.Equal(t, time.Second, errStep.Timestamp)
	require.Equal(t, types.PipelineStateFaulted, c.State())
	eventually(t, closed.Load)
	eventually(t, func() bool { return comp.releases.Load() == 1 })
	requireBalancedStats(t, c)
}

func TestControllerSegmentationFailure(t *testing.T) {
	ctx := testCtx(t)
	seg := newFakeSegmenter(segmentation.AlphaForeground)
	seg.FailAt = 2
	c := newTestController(t, ctx, seg, newSpyCompositor(), DefaultConfig())
	src := newChanSource("src")
	out, err := c.Start(ctx, src, types.BackgroundBlur(2))
	require.NoError(t, err)

	f, _ := testFrame(0)
	src.push(t, f)
	receive(t, out).Close()

	f, _ = testFrame(time.Second)
	src.push(t, f)
	requireClosed(t, out.Done())
	require.ErrorAs(t, out.Err(), &types.ErrStep{})
	require.Equal(t, types.PipelineStateFaulted, c.State())
	_, ok := <-out.Frames()
	require.False(t, ok)
}

func TestControllerInitFailure(t *testing.T) {
	ctx := testCtx(t)
	seg := newFakeSegmenter(segmentation.AlphaForeground)
	seg.InitErr = errors.New("no model")
	c := newTestController(t, ctx, seg, newSpyCompositor(), DefaultConfig())
	src := newChanSource("src")

	_, err := c.Start(ctx, src, types.BackgroundBlur(2))
	require.ErrorAs(t, err, &types.ErrInitialization{})
	require.ErrorIs(t, err, seg.InitErr)
	require.Equal(t, types.PipelineStateFaulted, c.State())

	_, err = c.Start(ctx, src, types.BackgroundBlur(2))
	require.ErrorAs(t, err, &types.ErrInvalidState{})

	require.NoError(t, c.Stop(ctx))
	seg.InitErr = nil
	out, err := c.Start(ctx, src, types.BackgroundBlur(2))
	require.NoError(t, err)
	require.Equal(t, int32(2), seg.inits.Load())

	f, _ := testFrame(0)
	src.push(t, f)
	receive(t, out).Close()
}

func TestControllerInvalidState(t *testing.T) {
	ctx := testCtx(t)
	seg := newFakeSegmenter(segmentation.AlphaForeground)
	c := newTestController(t, ctx, seg, newSpyCompositor(), DefaultConfig())

	var errState types.ErrInvalidState
	require.ErrorAs(t, c.ChangeBackground(ctx, types.BackgroundBlur(2)), &errState)
	require.Equal(t, types.PipelineStateIdle, errState.State)
	require.ErrorAs(t, c.Stop(ctx), &errState)
	require.ErrorAs(t, c.ChangeInput(ctx, newChanSource("src"), false), &errState)

	_, err := c.Start(ctx, nil, types.BackgroundBlur(2))
	require.Error(t, err)
	_, err = c.Start(ctx, newChanSource("src"), nil)
	require.Error(t, err)
	require.Equal(t, types.PipelineStateIdle, c.State())

	require.NoError(t, c.Close(ctx))
	require.True(t, seg.closed.Load())
	_, err = c.Start(ctx, newChanSource("src"), types.BackgroundBlur(2))
	require.ErrorAs(t, err, &errState)
}

type sliceSink struct {
	timestamps []time.Duration
}

func (s *sliceSink) WriteFrame(ctx context.Context, f *frame.Frame) error {
	s.timestamps = append(s.timestamps, f.Timestamp)
	return nil
}

func TestControllerEndOfStream(t *testing.T) {
	ctx := testCtx(t)
	seg := newFakeSegmenter(segmentation.AlphaForeground)
	c := newTestController(t, ctx, seg, newSpyCompositor(), DefaultConfig())
	src := newChanSource("src")
	out, err := c.Start(ctx, src, types.BackgroundBlur(2))
	require.NoError(t, err)

	sink := &sliceSink{}
	pipeErr := make(chan error, 1)
	go func() { pipeErr <- out.PipeTo(ctx, sink) }()

	for i := 0; i < 3; i++ {
		f, _ := testFrame(time.Duration(i) * time.Second)
		src.push(t, f)
		eventually(t, func() bool { return c.Stats().FramesEmitted == uint64(i+1) })
	}
	close(src.frames)
	requireClosed(t, out.EndOfStream())
	require.NoError(t, c.Stop(ctx))

	select {
	case err := <-pipeErr:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("PipeTo did not return")
	}
	require.Empty(t, cmp.Diff([]time.Duration{0, time.Second, 2 * time.Second}, sink.timestamps))
}

func TestControllerChangeInputWithUndrainedOutput(t *testing.T) {
	ctx := testCtx(t)
	seg := newFakeSegmenter(segmentation.AlphaForeground)
	c := newTestController(t, ctx, seg, newSpyCompositor(), DefaultConfig())
	src0 := newChanSource("src0")
	out, err := c.Start(ctx, src0, types.BackgroundBlur(2))
	require.NoError(t, err)

	// nobody reads the output: the first result fills the queue and the
	// second one waits for room
	for i := 0; i < 3; i++ {
		f, _ := testFrame(time.Duration(i) * time.Second)
		src0.push(t, f)
	}
	eventually(t, func() bool { return seg.calls.Load() >= 2 })

	src1 := newChanSource("src1")
	changeCtx, cancelFn := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancelFn()
	errCh := make(chan error, 1)
	go func() { errCh <- c.ChangeInput(changeCtx, src1, false) }()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("ChangeInput waits for the output consumer")
	}
	require.Equal(t, types.PipelineStateRunning, c.State())

	f3, _ := testFrame(10 * time.Second)
	src1.push(t, f3)
	var timestamps []time.Duration
	for {
		f := receive(t, out)
		timestamps = append(timestamps, f.Timestamp)
		f.Close()
		if f.Timestamp == 10*time.Second {
			break
		}
	}
	// at most the result which was already queued precedes the new source
	require.LessOrEqual(t, len(timestamps), 2, "%v", timestamps)
	requireBalancedStats(t, c)
}

func TestControllerTimedLatestWins(t *testing.T) {
	ctx := testCtx(t)
	const interval = 33 * time.Millisecond
	seg := newFakeSegmenter(segmentation.AlphaForeground)
	seg.Latency = 2 * interval
	c := newTestController(t, ctx, seg, newSpyCompositor(), DefaultConfig())
	src := newChanSource("src")
	out, err := c.Start(ctx, src, types.BackgroundBlur(2))
	require.NoError(t, err)

	sink := &sliceSink{}
	pipeErr := make(chan error, 1)
	go func() { pipeErr <- out.PipeTo(ctx, sink) }()

	inputs := map[time.Duration]bool{}
	startedAt := time.Now()
	for i := 0; i < 10; i++ {
		ts := time.Duration(i) * interval
		inputs[ts] = true
		time.Sleep(time.Until(startedAt.Add(ts)))
		f, _ := testFrame(ts)
		src.push(t, f)
	}
	close(src.frames)
	requireClosed(t, out.EndOfStream())
	require.NoError(t, c.Stop(ctx))
	select {
	case err := <-pipeErr:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("PipeTo did not return")
	}

	stats := c.Stats()
	superseded := stats.FramesDropped[types.DropReasonSuperseded]
	require.Equal(t, uint64(10), stats.FramesAdmitted)
	require.Equal(t, superseded, stats.DroppedTotal(), "%s", stats)
	require.NotZero(t, superseded, "%s", stats)
	require.Equal(t, int(stats.FramesAdmitted-superseded), len(sink.timestamps))
	for i, ts := range sink.timestamps {
		require.True(t, inputs[ts], "unexpected timestamp %v", ts)
		if i > 0 {
			require.Greater(t, ts, sink.timestamps[i-1])
		}
	}
}
