// Package pool provides reusable pixel buffers for frames and compositing
// surfaces.
package pool

import (
	"image"
	"sync"
)

// ReuseMemory disables recycling when false (useful to catch
// use-after-release bugs).
var ReuseMemory = true

// Pool is a generic object pool with a reset hook.
type Pool[T any] struct {
	sync.Pool
	ResetFunc func(*T)
}

func NewPool[T any](
	allocFunc func() *T,
	resetFunc func(*T),
) *Pool[T] {
	return &Pool[T]{
		Pool: sync.Pool{
			New: func() any {
				return allocFunc()
			},
		},
		ResetFunc: resetFunc,
	}
}

func (p *Pool[T]) Get() *T {
	return p.Pool.Get().(*T)
}

func (p *Pool[T]) Put(items ...*T) {
	if !ReuseMemory {
		return
	}
	for _, item := range items {
		if item == nil {
			continue
		}
		if p.ResetFunc != nil {
			p.ResetFunc(item)
		}
		p.Pool.Put(item)
	}
}

// RGBA hands out *image.RGBA buffers of a requested size. Buffers are
// bucketed by size, so a stream of equally-sized frames reuses memory.
type RGBA struct {
	locker  sync.Mutex
	buckets map[image.Point]*Pool[image.RGBA]
}

func NewRGBA() *RGBA {
	return &RGBA{
		buckets: map[image.Point]*Pool[image.RGBA]{},
	}
}

func (p *RGBA) bucket(size image.Point) *Pool[image.RGBA] {
	p.locker.Lock()
	defer p.locker.Unlock()
	b, ok := p.buckets[size]
	if ok {
		return b
	}
	b = NewPool(
		func() *image.RGBA {
			return image.NewRGBA(image.Rectangle{Max: size})
		},
		nil,
	)
	p.buckets[size] = b
	return b
}

// Get returns a buffer with bounds (0,0)-(w,h). The content is undefined.
func (p *RGBA) Get(w, h int) *image.RGBA {
	return p.bucket(image.Point{X: w, Y: h}).Get()
}

// Put returns a buffer obtained via Get.
func (p *RGBA) Put(img *image.RGBA) {
	if img == nil {
		return
	}
	p.bucket(img.Rect.Size()).Put(img)
}

// Reset forgets all the pooled buffers.
func (p *RGBA) Reset() {
	p.locker.Lock()
	defer p.locker.Unlock()
	p.buckets = map[image.Point]*Pool[image.RGBA]{}
}
