// Package libav reads video frames from anything libav can demux and
// decode: files, devices and network URLs.
package libav

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/xaionaro-go/avbackground/frame"
	"github.com/xaionaro-go/avbackground/internal"
	"github.com/xaionaro-go/avbackground/logger"
	"github.com/xaionaro-go/secret"
	"github.com/xaionaro-go/xcontext"
)

type Config struct {
	// AuthKey is appended to the URL when opening it, and is never logged.
	AuthKey secret.String

	// Options are passed to the demuxer; the option "f" forces the input
	// format.
	Options map[string]string

	// ReadTimeout bounds a single blocking read for protocols that support
	// it; zero keeps the protocol default.
	ReadTimeout time.Duration
}

// demuxerOptions merges ReadTimeout into Options.
func (cfg Config) demuxerOptions() map[string]string {
	if cfg.ReadTimeout <= 0 {
		return cfg.Options
	}
	opts := make(map[string]string, len(cfg.Options)+1)
	for key, value := range cfg.Options {
		opts[key] = value
	}
	if _, ok := opts["rw_timeout"]; !ok {
		opts["rw_timeout"] = strconv.FormatInt(cfg.ReadTimeout.Microseconds(), 10)
	}
	return opts
}

type Source struct {
	URL string

	locker        sync.Mutex
	formatContext *astiav.FormatContext
	codecContext  *astiav.CodecContext
	packet        *astiav.Packet
	avFrame       *astiav.Frame
	streamIndex   int
	timeBase      astiav.Rational
	flushed       bool
	lastTS        time.Duration
	closed        bool

	// reading is set while a read runs without locker; a Close meanwhile
	// leaves the release of the libav objects to that read.
	reading bool
}

var _ frame.Source = (*Source)(nil)

func Open(
	ctx context.Context,
	url string,
	cfg Config,
) (_ret *Source, _err error) {
	logger.Debugf(ctx, "Open('%s')", url)
	defer func() { logger.Debugf(ctx, "/Open('%s'): %v", url, _err) }()
	if url == "" {
		return nil, fmt.Errorf("the provided URL is empty")
	}

	s := &Source{URL: url}
	if err := s.open(ctx, cfg); err != nil {
		s.free()
		return nil, err
	}
	internal.SetFinalizer(xcontext.DetachDone(ctx), s)
	return s, nil
}

func (s *Source) open(ctx context.Context, cfg Config) error {
	var (
		dict        *astiav.Dictionary
		inputFormat *astiav.InputFormat
	)
	if opts := cfg.demuxerOptions(); len(opts) > 0 {
		dict = astiav.NewDictionary()
		defer dict.Free()
		for key, value := range opts {
			if key == "f" {
				if inputFormat = astiav.FindInputFormat(value); inputFormat == nil {
					return fmt.Errorf("unable to find input format by name '%s'", value)
				}
				continue
			}
			logger.Debugf(ctx, "input option '%s' = '%s'", key, value)
			dict.Set(key, value, 0)
		}
	}

	if s.formatContext = astiav.AllocFormatContext(); s.formatContext == nil {
		return fmt.Errorf("unable to allocate a format context")
	}
	urlWithSecret := s.URL + cfg.AuthKey.Get()
	if err := s.formatContext.OpenInput(urlWithSecret, inputFormat, dict); err != nil {
		s.formatContext.Free()
		s.formatContext = nil
		if cfg.AuthKey.Get() != "" {
			return fmt.Errorf("unable to open input by URL '%s/<HIDDEN>': %w", s.URL, err)
		}
		return fmt.Errorf("unable to open input by URL '%s': %w", s.URL, err)
	}
	if err := s.formatContext.FindStreamInfo(nil); err != nil {
		return fmt.Errorf("unable to get stream info: %w", err)
	}

	var videoStream *astiav.Stream
	for _, stream := range s.formatContext.Streams() {
		if stream.CodecParameters().MediaType() == astiav.MediaTypeVideo {
			videoStream = stream
			break
		}
	}
	if videoStream == nil {
		return fmt.Errorf("no video stream in '%s'", s.URL)
	}
	s.streamIndex = videoStream.Index()
	s.timeBase = videoStream.TimeBase()

	codec := astiav.FindDecoder(videoStream.CodecParameters().CodecID())
	if codec == nil {
		return fmt.Errorf("no decoder for %s", videoStream.CodecParameters().CodecID())
	}
	if s.codecContext = astiav.AllocCodecContext(codec); s.codecContext == nil {
		return fmt.Errorf("unable to allocate a codec context for %s", codec.Name())
	}
	if err := videoStream.CodecParameters().ToCodecContext(s.codecContext); err != nil {
		return fmt.Errorf("unable to copy the codec parameters: %w", err)
	}
	if err := s.codecContext.Open(codec, nil); err != nil {
		return fmt.Errorf("unable to open the decoder %s: %w", codec.Name(), err)
	}
	s.packet = astiav.AllocPacket()
	s.avFrame = astiav.AllocFrame()
	logger.Debugf(ctx, "decoding stream #%d of '%s' with %s", s.streamIndex, s.URL, codec.Name())
	return nil
}

func (s *Source) String() string {
	return fmt.Sprintf("Libav(%s)", s.URL)
}

// ReadFrame decodes the next frame. The blocking demuxer read runs without
// the lock, so Close returns without waiting for it.
func (s *Source) ReadFrame(ctx context.Context) (*frame.Frame, error) {
	s.locker.Lock()
	switch {
	case s.closed:
		s.locker.Unlock()
		return nil, io.ErrClosedPipe
	case s.reading:
		s.locker.Unlock()
		return nil, fmt.Errorf("'%s' is already being read", s.URL)
	}
	s.reading = true
	s.locker.Unlock()

	f, err := s.decodeNext(ctx)

	s.locker.Lock()
	defer s.locker.Unlock()
	s.reading = false
	if s.closed {
		logger.Debugf(ctx, "'%s' was closed during the read, releasing it", s.URL)
		if f != nil {
			f.Close()
		}
		s.free()
		return nil, io.ErrClosedPipe
	}
	return f, err
}

func (s *Source) decodeNext(ctx context.Context) (*frame.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		err := s.codecContext.ReceiveFrame(s.avFrame)
		switch {
		case err == nil:
			return s.convertFrame(ctx)
		case errors.Is(err, astiav.ErrEof):
			return nil, io.EOF
		case errors.Is(err, astiav.ErrEagain):
		default:
			return nil, fmt.Errorf("unable to receive a frame from the decoder: %w", err)
		}

		if err := s.feedDecoder(ctx); err != nil {
			return nil, err
		}
	}
}

func (s *Source) feedDecoder(ctx context.Context) error {
	if s.flushed {
		return io.EOF
	}
	err := s.formatContext.ReadFrame(s.packet)
	if errors.Is(err, astiav.ErrEof) {
		logger.Debugf(ctx, "'%s' reached the end, flushing the decoder", s.URL)
		s.flushed = true
		// an empty packet puts the decoder into the draining mode
		s.packet.Unref()
		if err := s.codecContext.SendPacket(s.packet); err != nil {
			return fmt.Errorf("unable to flush the decoder: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("unable to read a packet: %w", err)
	}
	defer s.packet.Unref()
	if s.packet.StreamIndex() != s.streamIndex {
		return nil
	}
	if err := s.codecContext.SendPacket(s.packet); err != nil {
		return fmt.Errorf("unable to send a packet to the decoder: %w", err)
	}
	return nil
}

func (s *Source) convertFrame(ctx context.Context) (*frame.Frame, error) {
	defer s.avFrame.Unref()

	var ts time.Duration
	if pts := s.avFrame.Pts(); pts != astiav.NoPtsValue {
		ts = toDuration(pts, s.timeBase)
	}
	ts = monotonic(s.lastTS, ts)
	s.lastTS = ts

	img, err := s.avFrame.Data().GuessImageFormat()
	if err != nil {
		return nil, fmt.Errorf("unable to guess the image format: %w", err)
	}
	if err := s.avFrame.Data().ToImage(img); err != nil {
		return nil, fmt.Errorf("unable to convert the image into Go's format: %w", err)
	}
	logger.Tracef(ctx, "decoded a %T frame at %v", img, ts)
	return frame.New(img, ts, nil), nil
}

func (s *Source) Close(ctx context.Context) error {
	logger.Debugf(ctx, "Close")
	s.locker.Lock()
	defer s.locker.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.reading {
		logger.Debugf(ctx, "a read of '%s' is in progress; it will release the input", s.URL)
		return nil
	}
	s.free()
	return nil
}

func (s *Source) free() {
	if s.avFrame != nil {
		s.avFrame.Free()
		s.avFrame = nil
	}
	if s.packet != nil {
		s.packet.Free()
		s.packet = nil
	}
	if s.codecContext != nil {
		s.codecContext.Free()
		s.codecContext = nil
	}
	if s.formatContext != nil {
		s.formatContext.CloseInput()
		s.formatContext.Free()
		s.formatContext = nil
	}
}
