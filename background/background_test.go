package background

import (
	"context"
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"sync"
	"testing"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/avbackground/types"
)

type countingLoader struct {
	locker sync.Mutex
	calls  map[string]int
	img    image.Image
	err    error
}

func (l *countingLoader) LoadImage(ctx context.Context, ref string) (image.Image, error) {
	l.locker.Lock()
	defer l.locker.Unlock()
	if l.calls == nil {
		l.calls = map[string]int{}
	}
	l.calls[ref]++
	return l.img, l.err
}

func TestSourceSwap(t *testing.T) {
	blur := types.BackgroundBlur(3)
	s := NewSource(blur)
	require.Same(t, blur, s.Get())

	img := types.BackgroundImage("a.png", image.NewRGBA(image.Rect(0, 0, 1, 1)))
	prev := s.Swap(img)
	require.Same(t, blur, prev)
	require.Same(t, img, s.Get())

	s.Set(nil)
	require.Nil(t, s.Get())
}

func TestResolveBlur(t *testing.T) {
	spec, err := Resolve(context.Background(), nil, types.BackgroundRefBlur, 5)
	require.NoError(t, err)
	require.Equal(t, types.BackgroundKindBlur, spec.Kind)
	require.Equal(t, 5.0, spec.BlurRadius)
}

func TestResolveImageFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bg.png")
	src := image.NewRGBA(image.Rect(0, 0, 3, 2))
	src.Set(1, 1, color.RGBA{R: 10, G: 20, B: 30, A: 0xff})
	require.NoError(t, imgio.Save(path, src, imgio.PNGEncoder()))

	spec, err := Resolve(context.Background(), FileLoader{}, path, types.DefaultBlurRadius)
	require.NoError(t, err)
	require.Equal(t, types.BackgroundKindImage, spec.Kind)
	require.Equal(t, path, spec.Ref)
	require.Equal(t, image.Rect(0, 0, 3, 2), spec.Image.Bounds())
	r, g, b, _ := spec.Image.At(1, 1).RGBA()
	require.Equal(t, []uint32{10, 20, 30}, []uint32{r >> 8, g >> 8, b >> 8})

	_, err = Resolve(context.Background(), FileLoader{}, filepath.Join(t.TempDir(), "missing.png"), 0)
	require.Error(t, err)
}

func TestResolveErrors(t *testing.T) {
	ctx := context.Background()
	_, err := Resolve(ctx, FileLoader{}, "", 0)
	require.Error(t, err)

	_, err = Resolve(ctx, nil, "x.png", 0)
	require.Error(t, err)

	broken := errors.New("broken")
	_, err = Resolve(ctx, &countingLoader{err: broken}, "x.png", 0)
	require.ErrorIs(t, err, broken)
}

func TestCachingLoader(t *testing.T) {
	ctx := context.Background()
	backend := &countingLoader{img: image.NewRGBA(image.Rect(0, 0, 2, 2))}
	l := NewCachingLoader(backend)

	for range 3 {
		img, err := l.LoadImage(ctx, "a.png")
		require.NoError(t, err)
		require.NotNil(t, img)
	}
	_, err := l.LoadImage(ctx, "b.png")
	require.NoError(t, err)
	require.Equal(t, map[string]int{"a.png": 1, "b.png": 1}, backend.calls)

	l.Forget("a.png")
	_, err = l.LoadImage(ctx, "a.png")
	require.NoError(t, err)
	require.Equal(t, 2, backend.calls["a.png"])
}
