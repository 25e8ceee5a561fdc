// Package facade is the high-level adapter to enable a blurred or
// substituted background on a video stream.
//
// It keeps at most one pipeline controller per facade: switching between
// blur and a virtual background, or between input streams, reconfigures
// the running controller. A new controller is built only when there is no
// controller yet or the previous one is faulted.
package facade

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/xaionaro-go/avbackground/background"
	"github.com/xaionaro-go/avbackground/frame"
	"github.com/xaionaro-go/avbackground/logger"
	"github.com/xaionaro-go/avbackground/pipeline"
	"github.com/xaionaro-go/avbackground/types"
	"github.com/xaionaro-go/xcontext"
	"github.com/xaionaro-go/xsync"
)

type SupportStatus struct {
	Status  bool
	Details map[string]string
}

type Facade struct {
	ID      uuid.UUID
	Variant Variant
	Loader  background.Loader
	Config  pipeline.Config

	// BlurRadius is used by ActivateBlur.
	BlurRadius float64

	locker     xsync.Mutex
	controller *pipeline.Controller
	output     *pipeline.Output
	mode       types.AdapterMode
}

func New(
	variant Variant,
	loader background.Loader,
	cfg pipeline.Config,
) *Facade {
	return &Facade{
		ID:         uuid.New(),
		Variant:    variant,
		Loader:     loader,
		Config:     cfg,
		BlurRadius: types.DefaultBlurRadius,
	}
}

func (f *Facade) Name() string {
	return f.Variant.Name
}

func (f *Facade) String() string {
	return fmt.Sprintf("Facade(%s; %s)", f.Variant.Name, f.ID)
}

func (f *Facade) IsSupported() SupportStatus {
	details := map[string]string{
		"variant": f.Variant.Name,
		"cv":      strconv.FormatBool(cvEnabled),
	}
	var err error
	switch {
	case f.Variant.NewSegmenter == nil:
		err = types.ErrNotSupported{Details: "no segmenter"}
	case f.Variant.NewCompositor == nil:
		err = types.ErrNotSupported{Details: "no compositor"}
	case f.Variant.Probe != nil:
		err = f.Variant.Probe()
	}
	if err != nil {
		details["reason"] = err.Error()
	}
	return SupportStatus{
		Status:  err == nil,
		Details: details,
	}
}

// Mode returns the active mode; a faulted pipeline has no active mode
// (Deactivate still releases it).
func (f *Facade) Mode() types.AdapterMode {
	return xsync.DoR1(xsync.WithNoLogging(context.Background(), true), &f.locker, func() types.AdapterMode {
		if f.controller != nil && f.controller.State() == types.PipelineStateFaulted {
			return types.AdapterModeNone
		}
		return f.mode
	})
}

func (f *Facade) IsBlurActive() bool {
	return f.Mode() == types.AdapterModeBlur
}

func (f *Facade) IsVirtualBackgroundActive() bool {
	return f.Mode() == types.AdapterModeVirtualBackground
}

// Controller returns the current pipeline controller (nil if none was
// built yet).
func (f *Facade) Controller() *pipeline.Controller {
	return xsync.DoR1(xsync.WithNoLogging(context.Background(), true), &f.locker, func() *pipeline.Controller {
		return f.controller
	})
}

// Init builds the controller and initializes the segmenter ahead of the
// first activation.
func (f *Facade) Init(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Init")
	defer func() { logger.Debugf(ctx, "/Init: %v", _err) }()
	return xsync.DoR1(ctx, &f.locker, func() error {
		if f.controller == nil {
			c, err := f.newController(ctx)
			if err != nil {
				return err
			}
			f.controller = c
		}
		return f.controller.Init(ctx)
	})
}

func (f *Facade) ActivateBlur(
	ctx context.Context,
	src frame.Source,
) (_ret *pipeline.Output, _err error) {
	logger.Debugf(ctx, "ActivateBlur(%s)", src)
	defer func() { logger.Debugf(ctx, "/ActivateBlur(%s): %v", src, _err) }()
	return f.activate(ctx, types.AdapterModeBlur, src, types.BackgroundRefBlur)
}

func (f *Facade) ActivateVirtualBackground(
	ctx context.Context,
	src frame.Source,
	imageRef string,
) (_ret *pipeline.Output, _err error) {
	logger.Debugf(ctx, "ActivateVirtualBackground(%s, '%s')", src, imageRef)
	defer func() { logger.Debugf(ctx, "/ActivateVirtualBackground(%s, '%s'): %v", src, imageRef, _err) }()
	if imageRef == types.BackgroundRefBlur {
		return nil, types.ErrActivate{
			Mode: types.AdapterModeVirtualBackground,
			Err:  fmt.Errorf("'%s' is not an image reference", imageRef),
		}
	}
	return f.activate(ctx, types.AdapterModeVirtualBackground, src, imageRef)
}

func (f *Facade) activate(
	ctx context.Context,
	mode types.AdapterMode,
	src frame.Source,
	ref string,
) (*pipeline.Output, error) {
	out, err := xsync.DoR2(ctx, &f.locker, func() (*pipeline.Output, error) {
		return f.activateLocked(ctx, mode, src, ref)
	})
	if err != nil {
		return nil, types.ErrActivate{Mode: mode, Err: err}
	}
	return out, nil
}

func (f *Facade) activateLocked(
	ctx context.Context,
	mode types.AdapterMode,
	src frame.Source,
	ref string,
) (*pipeline.Output, error) {
	if src == nil {
		return nil, fmt.Errorf("no frame source")
	}
	spec, err := background.Resolve(ctx, f.Loader, ref, f.BlurRadius)
	if err != nil {
		return nil, fmt.Errorf("unable to resolve the background '%s': %w", ref, err)
	}

	if f.controller != nil && f.controller.State() == types.PipelineStateFaulted {
		logger.Warnf(ctx, "the previous pipeline is faulted (%v), rebuilding", f.controller.Err())
		prevSrc := f.controller.Source()
		if err := f.controller.Close(xcontext.DetachDone(ctx)); err != nil {
			logger.Errorf(ctx, "unable to close the faulted pipeline: %v", err)
		}
		if prevSrc != nil && types.GetObjectID(prevSrc) != types.GetObjectID(src) {
			if err := prevSrc.Close(xcontext.DetachDone(ctx)); err != nil {
				logger.Errorf(ctx, "unable to close %s: %v", prevSrc, err)
			}
		}
		f.controller, f.output, f.mode = nil, nil, types.AdapterModeNone
	}
	if f.controller == nil {
		c, err := f.newController(ctx)
		if err != nil {
			return nil, err
		}
		f.controller = c
	}

	switch f.mode {
	case types.AdapterModeNone:
		out, err := f.controller.Start(ctx, src, spec)
		if err != nil {
			return nil, err
		}
		f.output = out
	default:
		if types.GetObjectID(src) != types.GetObjectID(f.controller.Source()) {
			if err := f.controller.ChangeInput(ctx, src, false); err != nil {
				return nil, err
			}
		}
		if err := f.controller.ChangeBackground(ctx, spec); err != nil {
			return nil, err
		}
	}
	f.mode = mode
	return f.output, nil
}

func (f *Facade) newController(ctx context.Context) (*pipeline.Controller, error) {
	if status := f.IsSupported(); !status.Status {
		return nil, types.ErrNotSupported{Details: status.Details["reason"]}
	}
	seg, err := f.Variant.NewSegmenter(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to create the segmenter of '%s': %w", f.Variant.Name, err)
	}
	comp, err := f.Variant.NewCompositor(ctx)
	if err != nil {
		return nil, errors.Join(
			fmt.Errorf("unable to create the compositor of '%s': %w", f.Variant.Name, err),
			seg.Close(ctx),
		)
	}
	c := pipeline.NewController(ctx, seg, comp, f.Config)
	logger.Debugf(ctx, "created %s", c)
	return c, nil
}

// Deactivate stops the pipeline and closes its source. It fails if nothing
// is active.
func (f *Facade) Deactivate(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Deactivate")
	defer func() { logger.Debugf(ctx, "/Deactivate: %v", _err) }()
	err := xsync.DoR1(ctx, &f.locker, func() error {
		return f.deactivateLocked(ctx)
	})
	if err != nil {
		return types.ErrDeactivate{Err: err}
	}
	return nil
}

func (f *Facade) deactivateLocked(ctx context.Context) error {
	if f.mode == types.AdapterModeNone || f.controller == nil {
		return types.ErrInvalidState{
			Operation: "Deactivate",
			State:     f.mode,
			Reason:    "nothing to deactivate",
		}
	}
	src := f.controller.Source()
	f.mode, f.output = types.AdapterModeNone, nil

	var result []error
	if err := f.controller.Stop(ctx); err != nil {
		result = append(result, err)
	}
	if src != nil {
		if err := src.Close(xcontext.DetachDone(ctx)); err != nil {
			result = append(result, fmt.Errorf("unable to close %s: %w", src, err))
		}
	}
	return errors.Join(result...)
}

// Close deactivates (if active) and releases the controller.
func (f *Facade) Close(ctx context.Context) (_err error) {
	logger.Debugf(ctx, "Close")
	defer func() { logger.Debugf(ctx, "/Close: %v", _err) }()
	return xsync.DoR1(ctx, &f.locker, func() error {
		var result []error
		if f.mode != types.AdapterModeNone {
			if err := f.deactivateLocked(ctx); err != nil {
				result = append(result, err)
			}
		}
		if f.controller != nil {
			if err := f.controller.Close(ctx); err != nil {
				result = append(result, err)
			}
			f.controller = nil
		}
		return errors.Join(result...)
	})
}
