package pipeline

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avbackground/compositor"
	"github.com/xaionaro-go/avbackground/frame"
	"github.com/xaionaro-go/avbackground/logger"
	"github.com/xaionaro-go/avbackground/segmentation"
	"github.com/xaionaro-go/avbackground/types"
	"go.uber.org/atomic"
)

const waitTimeout = 5 * time.Second

func testCtx(t *testing.T) context.Context {
	l := logrus.Default().WithLevel(logger.LevelDebug)
	ctx, cancelFn := context.WithCancel(logger.CtxWithLogger(context.Background(), l))
	t.Cleanup(cancelFn)
	return ctx
}

func uniformImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

var frameColor = color.RGBA{R: 0x40, G: 0x80, B: 0xc0, A: 0xff}

// testFrame returns a frame and a flag raised when the frame is closed.
func testFrame(ts time.Duration) (*frame.Frame, *atomic.Bool) {
	closed := atomic.NewBool(false)
	f := frame.New(uniformImage(8, 6, frameColor), ts, func() { closed.Store(true) })
	return f, closed
}

// chanSource yields the frames sent to it; closing the channel ends the
// stream.
type chanSource struct {
	name   string
	frames chan *frame.Frame
	closed atomic.Bool
}

var _ frame.Source = (*chanSource)(nil)

func newChanSource(name string) *chanSource {
	return &chanSource{
		name:   name,
		frames: make(chan *frame.Frame),
	}
}

func (s *chanSource) String() string {
	return s.name
}

func (s *chanSource) ReadFrame(ctx context.Context) (*frame.Frame, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case f, ok := <-s.frames:
		if !ok {
			return nil, io.EOF
		}
		return f, nil
	}
}

func (s *chanSource) Close(ctx context.Context) error {
	s.closed.Store(true)
	return nil
}

func (s *chanSource) push(t *testing.T, f *frame.Frame) {
	select {
	case s.frames <- f:
	case <-time.After(waitTimeout):
		t.Fatalf("%s: nobody reads the source", s.name)
	}
}

// fakeSegmenter returns a uniform mask of the configured opacity and
// records whether Segment calls ever overlapped.
type fakeSegmenter struct {
	Alpha   uint8
	InitErr error
	FailAt  int // the 1-based number of the Segment call that fails; 0 never
	Latency time.Duration

	locker sync.Mutex
	gate   chan struct{}

	inits    atomic.Int32
	calls    atomic.Int32
	active   atomic.Int32
	overlaps atomic.Int32
	closed   atomic.Bool
}

var _ segmentation.Segmenter = (*fakeSegmenter)(nil)

func newFakeSegmenter(alpha uint8) *fakeSegmenter {
	return &fakeSegmenter{Alpha: alpha}
}

func (s *fakeSegmenter) String() string {
	return "fakeSegmenter"
}

// hold makes subsequent Segment calls block until the returned function is
// called.
func (s *fakeSegmenter) hold() func() {
	gate := make(chan struct{})
	s.locker.Lock()
	s.gate = gate
	s.locker.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.locker.Lock()
			if s.gate == gate {
				s.gate = nil
			}
			s.locker.Unlock()
			close(gate)
		})
	}
}

func (s *fakeSegmenter) Init(ctx context.Context) error {
	s.inits.Inc()
	return s.InitErr
}

func (s *fakeSegmenter) Segment(ctx context.Context, f *frame.Frame) (*segmentation.Mask, error) {
	if s.active.Inc() > 1 {
		s.overlaps.Inc()
	}
	defer s.active.Dec()
	call := s.calls.Inc()

	s.locker.Lock()
	gate := s.gate
	s.locker.Unlock()
	if gate != nil {
		<-gate
	}
	if s.Latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.Latency):
		}
	}

	if s.FailAt != 0 && int(call) == s.FailAt {
		return nil, fmt.Errorf("segmentation failure on call %d", call)
	}
	return segmentation.NewUniformMask(f.Width()/2, f.Height()/2, s.Alpha), nil
}

func (s *fakeSegmenter) Close(ctx context.Context) error {
	s.closed.Store(true)
	return nil
}

// spyCompositor counts releases of the wrapped compositor and optionally
// fails every Composite call.
type spyCompositor struct {
	compositor.Compositor
	Err      error
	releases atomic.Int32
}

func newSpyCompositor() *spyCompositor {
	return &spyCompositor{Compositor: compositor.NewLayered()}
}

func (c *spyCompositor) Composite(
	ctx context.Context,
	f *frame.Frame,
	mask *segmentation.Mask,
	bg *types.BackgroundSpec,
) (*image.RGBA, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	return c.Compositor.Composite(ctx, f, mask, bg)
}

func (c *spyCompositor) Release(ctx context.Context) error {
	c.releases.Inc()
	return c.Compositor.Release(ctx)
}

func receive(t *testing.T, out *Output) *frame.Frame {
	select {
	case f, ok := <-out.Frames():
		require.True(t, ok, "the output is closed")
		return f
	case <-time.After(waitTimeout):
		t.Fatal("no output frame")
		return nil
	}
}

func requireNoFrame(t *testing.T, out *Output, wait time.Duration) {
	select {
	case f, ok := <-out.Frames():
		if ok {
			t.Fatalf("unexpected output frame %s", f)
		}
	case <-time.After(wait):
	}
}

func requireClosed(t *testing.T, ch <-chan struct{}) {
	select {
	case <-ch:
	case <-time.After(waitTimeout):
		t.Fatal("the channel is not closed")
	}
}

func eventually(t *testing.T, cond func() bool, msgAndArgs ...any) {
	require.Eventually(t, cond, waitTimeout, time.Millisecond, msgAndArgs...)
}
