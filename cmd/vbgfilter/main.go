package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/dustin/go-humanize"
	"github.com/facebookincubator/go-belt"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/avbackground/background"
	"github.com/xaionaro-go/avbackground/facade"
	"github.com/xaionaro-go/avbackground/frame"
	"github.com/xaionaro-go/avbackground/logger"
	"github.com/xaionaro-go/avbackground/pipeline"
	"github.com/xaionaro-go/avbackground/pool"
	"github.com/xaionaro-go/avbackground/segmentation/otsu"
	"github.com/xaionaro-go/avbackground/sink/imagedir"
	srcimagedir "github.com/xaionaro-go/avbackground/source/imagedir"
	"github.com/xaionaro-go/avbackground/source/libav"
	"github.com/xaionaro-go/avbackground/source/synthetic"
	"github.com/xaionaro-go/avbackground/types"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/secret"
	"github.com/xaionaro-go/typing"
)

const syntheticInputPrefix = "synthetic:"

func main() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "syntax: %s [flags] <input> <output-directory>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  <input> is a directory of images, '%s<frame count>' or a libav URL\n", syntheticInputPrefix)
		pflag.PrintDefaults()
	}

	loggerLevel := logger.LevelWarning
	pflag.Var(&loggerLevel, "log-level", "Log level")
	netPprofAddr := pflag.String("net-pprof-listen-addr", "", "an address to listen for incoming net/pprof connections")
	backgroundRef := pflag.String("background", types.BackgroundRefBlur, "the substitute background image, or 'blur'")
	variantName := pflag.String("variant", facade.VariantNameLayered, fmt.Sprintf("'%s' or '%s'", facade.VariantNameLayered, facade.VariantNameCV))
	cascadePath := pflag.String("cascade", "haarcascade_frontalface_default.xml", "the Haar cascade classifier file of the OpenCV variant")
	inputResolution := pflag.String("input-resolution", string(otsu.InputResolution256x144), "the model input resolution of the Otsu segmenter")
	foregroundIsDark := pflag.Bool("foreground-is-dark", false, "the subject is darker than the backdrop")
	blurRadius := pflag.Float64("blur-radius", types.DefaultBlurRadius, "the radius of the background blur")
	backpressure := pflag.String("backpressure", pipeline.BackpressureLatestWins.String(), fmt.Sprintf("'%s' or '%s'", pipeline.BackpressureLatestWins, pipeline.BackpressureDropNewest))
	segmentationTimeout := pflag.Duration("segmentation-timeout", pipeline.DefaultSegmentationTimeout, "the deadline of a single segmentation")
	outputFormat := pflag.String("output-format", string(imagedir.FormatPNG), "'png' or 'jpeg'")
	loop := pflag.Bool("loop", false, "loop the images of an input directory")
	authKey := pflag.String("auth-key", "", "the key appended to a libav input URL")
	readTimeout := pflag.Duration("read-timeout", 0, "the deadline of a single network read of a libav input; zero keeps the protocol default")
	noReuseMemory := pflag.Bool("no-reuse-memory", false, "do not recycle pixel buffers (helps catching use-after-release bugs)")
	statsInterval := pflag.Duration("stats-interval", time.Second, "how often to print the pipeline statistics; zero disables")
	pflag.Parse()
	if len(pflag.Args()) != 2 {
		pflag.Usage()
		os.Exit(1)
	}
	inputArg, outputDir := pflag.Arg(0), pflag.Arg(1)
	if *noReuseMemory {
		pool.ReuseMemory = false
	}

	ctx := logger.CtxWithDefault(context.Background(), loggerLevel)
	ctx, cancelFn := signal.NotifyContext(ctx, os.Interrupt)
	defer cancelFn()
	defer belt.Flush(ctx)
	l := logger.FromCtx(ctx)

	if *netPprofAddr != "" {
		observability.Go(ctx, func(context.Context) { l.Error(http.ListenAndServe(*netPprofAddr, nil)) })
	}

	cfg := pipeline.DefaultConfig()
	mode, err := pipeline.ParseBackpressureMode(*backpressure)
	if err != nil {
		l.Fatal(err)
	}
	cfg.Backpressure = mode
	cfg.SegmentationTimeout = *segmentationTimeout
	cfg.OnFault = func(ctx context.Context, err error) {
		logger.Errorf(ctx, "the pipeline faulted: %v", err)
	}

	var variant facade.Variant
	switch *variantName {
	case facade.VariantNameLayered:
		variant = facade.VariantLayered(otsu.Config{
			InputResolution:  otsu.InputResolution(*inputResolution),
			ForegroundIsDark: *foregroundIsDark,
		}, typing.Opt(*blurRadius))
	case facade.VariantNameCV:
		variant = facade.VariantCV(*cascadePath)
	default:
		l.Fatalf("unknown variant '%s'", *variantName)
	}

	adapter := facade.New(variant, background.NewCachingLoader(background.FileLoader{}), cfg)
	adapter.BlurRadius = *blurRadius
	if l.Level() >= logger.LevelDebug {
		l.Debugf("config: %s", spew.Sdump(cfg))
		l.Debugf("support: %s", spew.Sdump(adapter.IsSupported()))
	}
	defer func() {
		if err := adapter.Close(context.Background()); err != nil {
			l.Error(err)
		}
	}()

	sink, err := imagedir.New(outputDir, imagedir.Format(*outputFormat))
	if err != nil {
		l.Fatal(err)
	}

	l.Debugf("opening '%s' as the input...", inputArg)
	src, err := openInput(ctx, inputArg, *loop, *authKey, *readTimeout)
	if err != nil {
		l.Fatal(err)
	}

	var output *pipeline.Output
	if *backgroundRef == types.BackgroundRefBlur {
		output, err = adapter.ActivateBlur(ctx, src)
	} else {
		output, err = adapter.ActivateVirtualBackground(ctx, src, *backgroundRef)
	}
	if err != nil {
		src.Close(ctx)
		l.Fatal(err)
	}

	pipeToErr := make(chan error, 1)
	observability.Go(ctx, func(ctx context.Context) {
		pipeToErr <- output.PipeTo(ctx, sink)
	})

	var tickerCh <-chan time.Time
	if *statsInterval > 0 {
		t := time.NewTicker(*statsInterval)
		defer t.Stop()
		tickerCh = t.C
	}
	startedAt := time.Now()
	for {
		select {
		case <-ctx.Done():
			l.Infof("interrupted")
			return
		case <-output.EndOfStream():
			if err := adapter.Deactivate(ctx); err != nil {
				l.Error(err)
			}
			if err := <-pipeToErr; err != nil {
				l.Fatal(err)
			}
			printStats(adapter.Controller(), sink.Count(), startedAt)
			return
		case err := <-pipeToErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				l.Fatal(err)
			}
			return
		case <-tickerCh:
			printStats(adapter.Controller(), sink.Count(), startedAt)
		}
	}
}

func openInput(
	ctx context.Context,
	arg string,
	loop bool,
	authKey string,
	readTimeout time.Duration,
) (frame.Source, error) {
	if countStr, ok := strings.CutPrefix(arg, syntheticInputPrefix); ok {
		var count uint64
		if _, err := fmt.Sscanf(countStr, "%d", &count); err != nil {
			return nil, fmt.Errorf("unable to parse the frame count '%s': %w", countStr, err)
		}
		return synthetic.New(synthetic.Config{Count: count}), nil
	}
	if fi, err := os.Stat(arg); err == nil && fi.IsDir() {
		return srcimagedir.New(arg, srcimagedir.Config{Loop: loop})
	}
	libav.RedirectLogs(logger.FromCtx(ctx))
	return libav.Open(ctx, arg, libav.Config{
		AuthKey:     secret.New(authKey),
		ReadTimeout: readTimeout,
	})
}

func printStats(
	controller *pipeline.Controller,
	written uint64,
	startedAt time.Time,
) {
	if controller == nil {
		return
	}
	fmt.Printf("%s written:%s uptime:%s\n",
		controller.Stats(), humanize.Comma(int64(written)), time.Since(startedAt).Round(time.Second))
}
