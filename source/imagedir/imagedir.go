// Package imagedir reads frames from a directory of still images, in the
// lexical order of the file names.
package imagedir

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/xaionaro-go/avbackground/frame"
	"github.com/xaionaro-go/avbackground/logger"
)

const DefaultInterval = 33 * time.Millisecond

var supportedExtensions = []string{".png", ".jpg", ".jpeg"}

type Config struct {
	// Interval is the timestamp distance between two frames.
	Interval time.Duration

	// Loop restarts from the first image after the last one.
	Loop bool
}

type Source struct {
	Dir    string
	Config Config

	locker sync.Mutex
	files  []string
	next   int
	index  uint64
	closed bool
}

var _ frame.Source = (*Source)(nil)

func New(dir string, cfg Config) (*Source, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("unable to read the directory '%s': %w", dir, err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if !slices.Contains(supportedExtensions, ext) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images in '%s'", dir)
	}
	slices.Sort(files)
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Source{
		Dir:    dir,
		Config: cfg,
		files:  files,
	}, nil
}

func (s *Source) String() string {
	return fmt.Sprintf("ImageDir(%s)", s.Dir)
}

func (s *Source) ReadFrame(ctx context.Context) (*frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.locker.Lock()
	defer s.locker.Unlock()
	if s.closed {
		return nil, io.ErrClosedPipe
	}
	if s.next >= len(s.files) {
		if !s.Config.Loop {
			return nil, io.EOF
		}
		s.next = 0
	}
	path := s.files[s.next]
	s.next++

	img, err := imgio.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to decode '%s': %w", path, err)
	}
	ts := time.Duration(s.index) * s.Config.Interval
	s.index++
	logger.Tracef(ctx, "read '%s' as the frame at %v", path, ts)
	return frame.New(img, ts, nil), nil
}

func (s *Source) Close(ctx context.Context) error {
	s.locker.Lock()
	defer s.locker.Unlock()
	s.closed = true
	return nil
}
