package background

import (
	"context"
	"fmt"
	"image"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/xaionaro-go/avbackground/logger"
	"github.com/xaionaro-go/avbackground/types"
	"github.com/xaionaro-go/xsync"
)

// Loader decodes a background reference into an image.
type Loader interface {
	LoadImage(ctx context.Context, ref string) (image.Image, error)
}

// FileLoader decodes PNG and JPEG images from the local filesystem.
type FileLoader struct{}

var _ Loader = FileLoader{}

func (FileLoader) LoadImage(ctx context.Context, ref string) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := imgio.Open(ref)
	if err != nil {
		return nil, fmt.Errorf("unable to decode the image '%s': %w", ref, err)
	}
	return img, nil
}

// CachingLoader remembers the decoded images by reference, so that
// switching back and forth between backgrounds does not decode again.
type CachingLoader struct {
	Backend Loader
	cache   xsync.Map[string, image.Image]
}

var _ Loader = (*CachingLoader)(nil)

func NewCachingLoader(backend Loader) *CachingLoader {
	return &CachingLoader{
		Backend: backend,
	}
}

func (l *CachingLoader) LoadImage(ctx context.Context, ref string) (image.Image, error) {
	if img, ok := l.cache.Load(ref); ok {
		logger.Tracef(ctx, "background image '%s' is taken from the cache", ref)
		return img, nil
	}
	img, err := l.Backend.LoadImage(ctx, ref)
	if err != nil {
		return nil, err
	}
	l.cache.Store(ref, img)
	return img, nil
}

// Forget drops the cached image of the given reference.
func (l *CachingLoader) Forget(ref string) {
	l.cache.Delete(ref)
}

// Resolve turns a background reference into a spec: the reference "blur"
// selects the blur mode, anything else is decoded by the loader.
func Resolve(
	ctx context.Context,
	loader Loader,
	ref string,
	blurRadius float64,
) (_ret *types.BackgroundSpec, _err error) {
	logger.Debugf(ctx, "Resolve(ctx, '%s', %v)", ref, blurRadius)
	defer func() { logger.Debugf(ctx, "/Resolve(ctx, '%s', %v): %s %v", ref, blurRadius, _ret, _err) }()

	if ref == types.BackgroundRefBlur {
		spec := types.BackgroundBlur(blurRadius)
		return spec, spec.Validate()
	}
	if ref == "" {
		return nil, fmt.Errorf("the background reference is empty")
	}
	if loader == nil {
		return nil, fmt.Errorf("no image loader is configured")
	}
	img, err := loader.LoadImage(ctx, ref)
	if err != nil {
		return nil, err
	}
	spec := types.BackgroundImage(ref, img)
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}
