package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/xaionaro-go/avbackground/frame"
	"github.com/xaionaro-go/avbackground/helpers/closuresignaler"
	"github.com/xaionaro-go/avbackground/logger"
)

// Output is the stream of composited frames of a single run (from Start
// until Stop or a fault).
//
// The consumer must keep draining Frames and must Close every received
// frame. The channel is closed when the run ends; Err tells whether it
// ended because of a fault.
type Output struct {
	*closuresignaler.ClosureSignaler

	frames      chan *frame.Frame
	sendLocker  sync.RWMutex
	framesShut  bool
	endOfStream chan struct{}
	eosOnce     sync.Once
}

func newOutput(queueSize int) *Output {
	if queueSize < 0 {
		queueSize = 0
	}
	return &Output{
		ClosureSignaler: closuresignaler.New(),
		frames:          make(chan *frame.Frame, queueSize),
		endOfStream:     make(chan struct{}),
	}
}

func (o *Output) Frames() <-chan *frame.Frame {
	return o.frames
}

// Done is closed when the run ended.
func (o *Output) Done() <-chan struct{} {
	return o.CloseChan()
}

// EndOfStream is closed when the current source reported the end of its
// stream and every frame read from it was either emitted or dropped.
func (o *Output) EndOfStream() <-chan struct{} {
	return o.endOfStream
}

// PipeTo writes every output frame to the sink until the run ends, ctx is
// cancelled or the sink fails.
func (o *Output) PipeTo(
	ctx context.Context,
	sink frame.Sink,
) (_err error) {
	logger.Debugf(ctx, "PipeTo(%T)", sink)
	defer func() { logger.Debugf(ctx, "/PipeTo(%T): %v", sink, _err) }()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-o.frames:
			if !ok {
				return o.Err()
			}
			err := sink.WriteFrame(ctx, f)
			f.Close()
			if err != nil {
				return fmt.Errorf("unable to write %s: %w", f, err)
			}
		}
	}
}

func (o *Output) send(
	ctx context.Context,
	f *frame.Frame,
) bool {
	o.sendLocker.RLock()
	defer o.sendLocker.RUnlock()
	if o.framesShut || ctx.Err() != nil {
		return false
	}
	select {
	case <-o.CloseChan():
		return false
	case <-ctx.Done():
		return false
	case o.frames <- f:
		return true
	}
}

func (o *Output) markEndOfStream() {
	o.eosOnce.Do(func() {
		close(o.endOfStream)
	})
}

// finish ends the run; the frames already queued stay readable.
func (o *Output) finish(ctx context.Context, err error) {
	o.CloseWithError(ctx, err)
	o.sendLocker.Lock()
	defer o.sendLocker.Unlock()
	if o.framesShut {
		return
	}
	o.framesShut = true
	close(o.frames)
}
