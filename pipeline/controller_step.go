package pipeline

import (
	"context"
	"fmt"
	"image"
	"runtime/debug"
	"time"

	"github.com/xaionaro-go/avbackground/frame"
	"github.com/xaionaro-go/avbackground/internal"
	"github.com/xaionaro-go/avbackground/logger"
	"github.com/xaionaro-go/avbackground/segmentation"
	"github.com/xaionaro-go/avbackground/types"
	"github.com/xaionaro-go/observability"
	"go.uber.org/atomic"
)

func (c *Controller) onFrame(
	ctx context.Context,
	gen uint64,
	output *Output,
	f *frame.Frame,
) {
	logger.Tracef(ctx, "onFrame(gen:%d, %s)", gen, f)
	c.slotLocker.Lock()
	c.stats.admitted.Inc()
	switch {
	case c.generation.Load() != gen:
		c.slotLocker.Unlock()
		c.drop(ctx, f, types.DropReasonStale)
		return
	case !c.State().AcceptsFrames():
		c.slotLocker.Unlock()
		c.drop(ctx, f, types.DropReasonNotRunning)
		return
	}

	w := &work{
		frame:      f,
		generation: gen,
		output:     output,
	}
	if c.inFlight {
		switch c.Config.Backpressure {
		case BackpressureDropNewest:
			c.slotLocker.Unlock()
			c.drop(ctx, f, types.DropReasonBackpressure)
		default:
			superseded := c.pending
			c.pending = w
			c.slotLocker.Unlock()
			if superseded != nil {
				c.drop(ctx, superseded.frame, types.DropReasonSuperseded)
			}
		}
		return
	}
	c.inFlight = true
	c.slotLocker.Unlock()

	observability.Go(c.ctx, func(ctx context.Context) {
		c.processLoop(ctx, w)
	})
}

// processLoop is the only place where steps are executed; a new loop is
// never started while another one is running.
func (c *Controller) processLoop(
	ctx context.Context,
	w *work,
) {
	for w != nil {
		c.step(ctx, w)
		w = c.nextWork()
	}
}

func (c *Controller) nextWork() *work {
	c.slotLocker.Lock()
	defer c.slotLocker.Unlock()
	w := c.pending
	c.pending = nil
	if w != nil {
		return w
	}
	c.inFlight = false
	if r := c.run; r != nil && r.endedGen != 0 && r.endedGen == c.generation.Load() {
		r.output.markEndOfStream()
	}
	return nil
}

func (c *Controller) drop(
	ctx context.Context,
	f *frame.Frame,
	reason types.DropReason,
) {
	logger.Tracef(ctx, "dropping %s: %s", f, reason)
	f.Close()
	c.stats.dropped[reason].Inc()
}

func (c *Controller) isCurrent(gen uint64) bool {
	return c.generation.Load() == gen
}

func (c *Controller) step(
	ctx context.Context,
	w *work,
) {
	logger.Tracef(ctx, "step(gen:%d, %s)", w.generation, w.frame)
	if !c.isCurrent(w.generation) {
		c.drop(ctx, w.frame, types.DropReasonStale)
		return
	}

	// the frame is shared with the segmentation goroutine, which may
	// outlive this step on timeout
	refs := atomic.NewInt32(2)
	release := func() {
		if refs.Dec() == 0 {
			w.frame.Close()
		}
	}
	mask, err := c.segment(ctx, w.frame, release)
	if err != nil {
		if !c.isCurrent(w.generation) {
			logger.Debugf(ctx, "the segmentation of a stale frame failed: %v", err)
			c.stats.dropped[types.DropReasonStale].Inc()
			release()
			return
		}
		c.stats.dropped[types.DropReasonStepFailure].Inc()
		release()
		c.fault(ctx, w.generation, types.ErrStep{Timestamp: w.frame.Timestamp, Err: err})
		return
	}
	defer release()

	out, genCtx, ok := c.compositeStep(ctx, w, mask)
	if !ok {
		return
	}

	// sent without the step lock, reconfigurations do not wait for the consumer
	if !w.output.send(genCtx, out) {
		logger.Debugf(ctx, "generation %d is over or its output is closed; dropping %s", w.generation, out)
		out.Close()
		c.stats.dropped[types.DropReasonStale].Inc()
		return
	}
	c.stats.emitted.Inc()
}

// compositeStep composites the frame under the step lock. The returned
// context is done once the generation of the frame is not current.
func (c *Controller) compositeStep(
	ctx context.Context,
	w *work,
	mask *segmentation.Mask,
) (*frame.Frame, context.Context, bool) {
	c.stepLocker.Lock()
	defer c.stepLocker.Unlock()
	genCtx, ok := c.generationCtx(w.generation)
	if !ok {
		c.stats.dropped[types.DropReasonStale].Inc()
		return nil, nil, false
	}

	img, err := c.composite(ctx, w.frame, mask, c.Background.Get())
	if err != nil {
		c.stats.dropped[types.DropReasonStepFailure].Inc()
		c.faultLocked(ctx, w.generation, types.ErrStep{Timestamp: w.frame.Timestamp, Err: err})
		return nil, nil, false
	}
	return frame.New(img, w.frame.Timestamp, nil), genCtx, true
}

// segment runs Segment in a separate goroutine, so that a stalled model
// cannot block the pipeline beyond SegmentationTimeout. A new Segment call
// is issued only after the previous one returned, even if the previous
// one was abandoned on timeout. release is called once Segment returned.
func (c *Controller) segment(
	ctx context.Context,
	f *frame.Frame,
	release func(),
) (*segmentation.Mask, error) {
	var deadline <-chan time.Time
	if timeout := c.Config.SegmentationTimeout; timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	timeoutErr := types.ErrTimeout{Deadline: c.Config.SegmentationTimeout}

	c.slotLocker.Lock()
	prevIdle := c.segmentIdle
	c.slotLocker.Unlock()
	if prevIdle != nil {
		select {
		case <-prevIdle:
		case <-deadline:
			release()
			return nil, timeoutErr
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		}
	}

	idle := make(chan struct{})
	c.slotLocker.Lock()
	internal.Assert(ctx, c.segmentIdle == prevIdle, "two segmentations were started concurrently")
	c.segmentIdle = idle
	c.slotLocker.Unlock()

	type result struct {
		mask *segmentation.Mask
		err  error
	}
	resultCh := make(chan result, 1)
	segCtx, cancelFn := context.WithCancel(ctx)
	defer cancelFn()
	startTS := time.Now()
	observability.Go(ctx, func(ctx context.Context) {
		defer close(idle)
		defer release()
		mask, err := c.Segmenter.Segment(segCtx, f)
		resultCh <- result{mask: mask, err: err}
	})

	select {
	case r := <-resultCh:
		if r.err != nil {
			return nil, fmt.Errorf("unable to segment %s with %s: %w", f, c.Segmenter, r.err)
		}
		if r.mask == nil || r.mask.Alpha == nil {
			return nil, fmt.Errorf("%s returned no mask for %s", c.Segmenter, f)
		}
		c.stats.observeLatency(time.Since(startTS))
		return r.mask, nil
	case <-deadline:
		return nil, timeoutErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Controller) composite(
	ctx context.Context,
	f *frame.Frame,
	mask *segmentation.Mask,
	bg *types.BackgroundSpec,
) (_ret *image.RGBA, _err error) {
	defer func() {
		if r := recover(); r != nil {
			_err = fmt.Errorf("got panic: %v\n%s", r, debug.Stack())
		}
	}()
	img, err := c.Compositor.Composite(ctx, f, mask, bg)
	if err != nil {
		return nil, fmt.Errorf("unable to composite %s with %s: %w", f, c.Compositor, err)
	}
	return img, nil
}
