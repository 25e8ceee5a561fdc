// Package pipeline drives frames of a source through segmentation and
// compositing, one frame at a time, while staying reconfigurable.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xaionaro-go/avbackground/background"
	"github.com/xaionaro-go/avbackground/compositor"
	"github.com/xaionaro-go/avbackground/frame"
	"github.com/xaionaro-go/avbackground/logger"
	"github.com/xaionaro-go/avbackground/segmentation"
	"github.com/xaionaro-go/avbackground/types"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/xcontext"
	"github.com/xaionaro-go/xsync"
	"go.uber.org/atomic"
)

// Controller owns the per-frame loop of a single stream.
//
// At most one Segment call is in flight at any time, and composite steps
// never overlap. Every frame read from the source is either emitted (with
// its original timestamp) or dropped with a reason counted in Stats.
//
// Each Start, ChangeInput and Stop bumps the generation; a frame whose
// generation is not current anymore when it reaches the next stage is
// dropped as stale.
type Controller struct {
	ID         uuid.UUID
	Config     Config
	Segmenter  segmentation.Segmenter
	Compositor compositor.Compositor
	Background *background.Source

	ctx        context.Context
	cancelFn   context.CancelFunc
	state      atomic.Int32
	generation atomic.Uint64
	faultErr   atomic.Error
	stats      *statistics

	// locker serializes the lifecycle operations.
	locker         xsync.Mutex
	segmenterReady bool
	closed         bool

	// stepLocker is held for the duration of a composite step, so that
	// reconfigurations happen between steps.
	stepLocker sync.Mutex

	// slotLocker guards the fields below.
	slotLocker  sync.Mutex
	inFlight    bool
	pending     *work
	run         *run
	segmentIdle chan struct{}

	// genCtx is cancelled when the generation changes.
	genCtx    context.Context
	genCancel context.CancelFunc
}

type run struct {
	output       *Output
	source       frame.Source
	readerCancel context.CancelFunc
	readerDone   chan struct{}
	endedGen     uint64
}

type work struct {
	frame      *frame.Frame
	generation uint64
	output     *Output
}

func NewController(
	ctx context.Context,
	segmenter segmentation.Segmenter,
	compositor compositor.Compositor,
	cfg Config,
) *Controller {
	ctx, cancelFn := context.WithCancel(xcontext.DetachDone(ctx))
	c := &Controller{
		ID:         uuid.New(),
		Config:     cfg,
		Segmenter:  segmenter,
		Compositor: compositor,
		Background: background.NewSource(nil),
		ctx:        ctx,
		cancelFn:   cancelFn,
		stats:      newStatistics(),
	}
	c.state.Store(int32(types.PipelineStateIdle))
	return c
}

func (c *Controller) String() string {
	return fmt.Sprintf("Controller(%s; %s+%s)", c.ID, c.Segmenter, c.Compositor)
}

func (c *Controller) State() types.PipelineState {
	return types.PipelineState(c.state.Load())
}

func (c *Controller) setState(ctx context.Context, s types.PipelineState) {
	old := types.PipelineState(c.state.Swap(int32(s)))
	if old != s {
		logger.Debugf(ctx, "state: %s -> %s", old, s)
	}
}

// Err returns the cause of the last fault, or nil if the pipeline is not
// faulted.
func (c *Controller) Err() error {
	return c.faultErr.Load()
}

func (c *Controller) Generation() uint64 {
	return c.generation.Load()
}

func (c *Controller) Stats() Stats {
	s := c.stats.snapshot()
	s.State = c.State()
	s.Generation = c.Generation()
	return s
}

// Source returns the currently read source, or nil if not running.
func (c *Controller) Source() frame.Source {
	c.slotLocker.Lock()
	defer c.slotLocker.Unlock()
	if c.run == nil {
		return nil
	}
	return c.run.source
}

// Start initializes the segmenter (if not yet) and begins reading src.
// It is allowed only in the idle and suspended states.
func (c *Controller) Start(
	ctx context.Context,
	src frame.Source,
	bg *types.BackgroundSpec,
) (_ret *Output, _err error) {
	logger.Debugf(ctx, "Start(%s, %s)", src, bg)
	defer func() { logger.Debugf(ctx, "/Start(%s, %s): %v", src, bg, _err) }()
	return xsync.DoR2(ctx, &c.locker, func() (*Output, error) {
		return c.startLocked(ctx, src, bg)
	})
}

func (c *Controller) startLocked(
	ctx context.Context,
	src frame.Source,
	bg *types.BackgroundSpec,
) (*Output, error) {
	state := c.State()
	if c.closed {
		return nil, types.ErrInvalidState{Operation: "Start", State: state, Reason: "the controller is closed"}
	}
	switch state {
	case types.PipelineStateIdle, types.PipelineStateSuspended:
	default:
		return nil, types.ErrInvalidState{Operation: "Start", State: state}
	}
	if src == nil {
		return nil, fmt.Errorf("no frame source")
	}
	if err := bg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid background: %w", err)
	}

	c.Background.Set(bg)
	c.faultErr.Store(nil)
	c.setState(ctx, types.PipelineStateInitializing)
	if err := c.initSegmenter(ctx); err != nil {
		err = types.ErrInitialization{Err: err}
		c.faultErr.Store(err)
		c.setState(ctx, types.PipelineStateFaulted)
		c.notifyFault(ctx, err)
		return nil, err
	}

	r := &run{
		output: newOutput(c.Config.OutputQueueSize),
		source: src,
	}
	c.slotLocker.Lock()
	gen := c.bumpGenerationLocked()
	c.run = r
	c.setState(ctx, types.PipelineStateRunning)
	c.startReaderLocked(r, src, gen)
	c.slotLocker.Unlock()
	return r.output, nil
}

// Init prepares the segmenter ahead of Start, so that Start does not have
// to wait for the model.
func (c *Controller) Init(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Init")
	defer func() { logger.Debugf(ctx, "/Init: %v", _err) }()
	return xsync.DoR1(ctx, &c.locker, func() error {
		if err := c.initSegmenter(ctx); err != nil {
			return types.ErrInitialization{Err: err}
		}
		return nil
	})
}

func (c *Controller) initSegmenter(ctx context.Context) error {
	if c.segmenterReady {
		return nil
	}
	ctx, cancelFn := context.WithCancel(ctx)
	defer cancelFn()
	var deadline <-chan time.Time
	if c.Config.InitTimeout > 0 {
		t := time.NewTimer(c.Config.InitTimeout)
		defer t.Stop()
		deadline = t.C
	}

	errCh := make(chan error, 1)
	observability.Go(ctx, func(ctx context.Context) {
		errCh <- c.Segmenter.Init(ctx)
	})
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("unable to initialize %s: %w", c.Segmenter, err)
		}
	case <-deadline:
		return types.ErrTimeout{Deadline: c.Config.InitTimeout}
	case <-ctx.Done():
		return ctx.Err()
	}
	c.segmenterReady = true
	return nil
}

// bumpGenerationLocked must be called with slotLocker held.
func (c *Controller) bumpGenerationLocked() uint64 {
	if c.genCancel != nil {
		c.genCancel()
	}
	c.genCtx, c.genCancel = context.WithCancel(c.ctx)
	return c.generation.Inc()
}

// generationCtx returns the context of the generation gen, which is done
// as soon as gen is not current anymore.
func (c *Controller) generationCtx(gen uint64) (context.Context, bool) {
	c.slotLocker.Lock()
	defer c.slotLocker.Unlock()
	if c.generation.Load() != gen || c.genCtx == nil {
		return nil, false
	}
	return c.genCtx, true
}

// startReaderLocked must be called with slotLocker held.
func (c *Controller) startReaderLocked(
	r *run,
	src frame.Source,
	gen uint64,
) {
	ctx, cancelFn := context.WithCancel(c.ctx)
	done := make(chan struct{})
	r.readerCancel = cancelFn
	r.readerDone = done
	output := r.output
	observability.Go(ctx, func(ctx context.Context) {
		defer close(done)
		c.readLoop(ctx, src, gen, output)
	})
}

func (c *Controller) readLoop(
	ctx context.Context,
	src frame.Source,
	gen uint64,
	output *Output,
) {
	logger.Debugf(ctx, "readLoop(%s, gen:%d)", src, gen)
	defer func() { logger.Debugf(ctx, "/readLoop(%s, gen:%d)", src, gen) }()
	for {
		f, err := src.ReadFrame(ctx)
		switch {
		case err == nil:
			c.onFrame(ctx, gen, output, f)
			continue
		case ctx.Err() != nil:
		case errors.Is(err, io.EOF):
			c.onEndOfStream(ctx, gen)
		default:
			c.fault(ctx, gen, fmt.Errorf("unable to read a frame from %s: %w", src, err))
		}
		return
	}
}

// ChangeInput switches the pipeline to another source without restarting
// it. Frames of the previous source that are still queued or in flight are
// discarded. With stopPrevious the previous source is closed afterwards.
func (c *Controller) ChangeInput(
	ctx context.Context,
	src frame.Source,
	stopPrevious bool,
) (_err error) {
	logger.Debugf(ctx, "ChangeInput(%s, %t)", src, stopPrevious)
	defer func() { logger.Debugf(ctx, "/ChangeInput(%s, %t): %v", src, stopPrevious, _err) }()
	return xsync.DoR1(ctx, &c.locker, func() error {
		return c.changeInputLocked(ctx, src, stopPrevious)
	})
}

func (c *Controller) changeInputLocked(
	ctx context.Context,
	src frame.Source,
	stopPrevious bool,
) error {
	if src == nil {
		return fmt.Errorf("no frame source")
	}

	c.stepLocker.Lock()
	c.slotLocker.Lock()
	state := c.State()
	r := c.run
	if state != types.PipelineStateRunning || r == nil {
		c.slotLocker.Unlock()
		c.stepLocker.Unlock()
		return types.ErrInvalidState{Operation: "ChangeInput", State: state}
	}
	if types.GetObjectID(src) == types.GetObjectID(r.source) {
		c.slotLocker.Unlock()
		c.stepLocker.Unlock()
		logger.Debugf(ctx, "the source is already active")
		return nil
	}
	gen := c.bumpGenerationLocked()
	prevSource, prevCancel, prevDone := r.source, r.readerCancel, r.readerDone
	pending := c.pending
	c.pending = nil
	r.source = src
	c.startReaderLocked(r, src, gen)
	c.slotLocker.Unlock()
	c.stepLocker.Unlock()

	if pending != nil {
		c.drop(ctx, pending.frame, types.DropReasonStale)
	}
	prevCancel()
	if !stopPrevious {
		return nil
	}
	select {
	case <-prevDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := prevSource.Close(xcontext.DetachDone(ctx)); err != nil {
		return fmt.Errorf("unable to close the previous source %s: %w", prevSource, err)
	}
	return nil
}

// ChangeBackground replaces the background; the next composite step uses
// it. It never waits for the in-flight segmentation.
func (c *Controller) ChangeBackground(
	ctx context.Context,
	bg *types.BackgroundSpec,
) error {
	logger.Debugf(ctx, "ChangeBackground(%s)", bg)
	if state := c.State(); state == types.PipelineStateIdle {
		return types.ErrInvalidState{Operation: "ChangeBackground", State: state, Reason: "the pipeline was never started"}
	}
	if err := bg.Validate(); err != nil {
		return fmt.Errorf("invalid background: %w", err)
	}
	c.Background.Set(bg)
	return nil
}

// Stop suspends the pipeline: it stops reading the source, drops the
// pending frame, ends the Output and releases the compositor surfaces.
// The source itself is not closed. An in-flight segmentation is left to
// complete and its result is discarded.
func (c *Controller) Stop(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Stop")
	defer func() { logger.Debugf(ctx, "/Stop: %v", _err) }()
	return xsync.DoR1(ctx, &c.locker, func() error {
		return c.stopLocked(ctx)
	})
}

func (c *Controller) stopLocked(ctx context.Context) error {
	c.slotLocker.Lock()
	state := c.State()
	switch state {
	case types.PipelineStateIdle:
		c.slotLocker.Unlock()
		return types.ErrInvalidState{Operation: "Stop", State: state, Reason: "the pipeline was never started"}
	case types.PipelineStateSuspended:
		c.slotLocker.Unlock()
		return nil
	}
	c.bumpGenerationLocked()
	c.faultErr.Store(nil)
	c.setState(ctx, types.PipelineStateSuspended)
	pending := c.pending
	c.pending = nil
	r := c.run
	c.run = nil
	c.slotLocker.Unlock()

	if pending != nil {
		c.drop(ctx, pending.frame, types.DropReasonStopped)
	}
	if r != nil {
		r.output.finish(ctx, nil)
		r.readerCancel()
		select {
		case <-r.readerDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.stepLocker.Lock()
	defer c.stepLocker.Unlock()
	if err := c.Compositor.Release(xcontext.DetachDone(ctx)); err != nil {
		return fmt.Errorf("unable to release %s: %w", c.Compositor, err)
	}
	return nil
}

// Close stops the pipeline (if running) and closes the segmenter. The
// controller cannot be started again.
func (c *Controller) Close(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Close")
	defer func() { logger.Debugf(ctx, "/Close: %v", _err) }()
	return xsync.DoR1(ctx, &c.locker, func() error {
		if c.closed {
			return nil
		}
		c.closed = true
		var result []error
		if c.State() != types.PipelineStateIdle {
			if err := c.stopLocked(ctx); err != nil {
				result = append(result, err)
			}
		}
		if err := c.Segmenter.Close(xcontext.DetachDone(ctx)); err != nil {
			result = append(result, fmt.Errorf("unable to close %s: %w", c.Segmenter, err))
		}
		c.cancelFn()
		return errors.Join(result...)
	})
}

func (c *Controller) fault(
	ctx context.Context,
	gen uint64,
	err error,
) {
	c.stepLocker.Lock()
	defer c.stepLocker.Unlock()
	c.faultLocked(ctx, gen, err)
}

// faultLocked must be called with stepLocker held.
func (c *Controller) faultLocked(
	ctx context.Context,
	gen uint64,
	err error,
) {
	c.slotLocker.Lock()
	if c.generation.Load() != gen {
		c.slotLocker.Unlock()
		logger.Debugf(ctx, "ignoring a fault of a stale generation %d: %v", gen, err)
		return
	}
	logger.Errorf(ctx, "the pipeline is faulted: %v", err)
	c.bumpGenerationLocked()
	c.faultErr.Store(err)
	c.setState(ctx, types.PipelineStateFaulted)
	pending := c.pending
	c.pending = nil
	r := c.run
	c.slotLocker.Unlock()

	if pending != nil {
		c.drop(ctx, pending.frame, types.DropReasonStopped)
	}
	if r != nil {
		r.output.finish(ctx, err)
		r.readerCancel()
	}
	if releaseErr := c.Compositor.Release(xcontext.DetachDone(ctx)); releaseErr != nil {
		logger.Errorf(ctx, "unable to release %s: %v", c.Compositor, releaseErr)
	}
	c.notifyFault(ctx, err)
}

func (c *Controller) notifyFault(ctx context.Context, err error) {
	if c.Config.OnFault != nil {
		c.Config.OnFault(ctx, err)
	}
}

func (c *Controller) onEndOfStream(ctx context.Context, gen uint64) {
	logger.Debugf(ctx, "end of stream (gen:%d)", gen)
	c.slotLocker.Lock()
	defer c.slotLocker.Unlock()
	r := c.run
	if r == nil || c.generation.Load() != gen {
		return
	}
	r.endedGen = gen
	if !c.inFlight {
		r.output.markEndOfStream()
	}
}
