package renderer

import (
	"image"
	"sync"
)

// defaultPerSize bounds how many idle buffers of one size a Pool keeps.
const defaultPerSize = 4

// PoolStats counts how a Pool served its requests.
type PoolStats struct {
	Allocated int
	Reused    int
	Dropped   int
}

// Pool keeps a bounded free list of RGBA buffers per frame size so
// private export surfaces do not reallocate for every job.
type Pool struct {
	mu      sync.Mutex
	perSize int
	free    map[image.Point][]*image.RGBA
	stats   PoolStats
}

// NewPool returns a pool holding at most perSize idle buffers per size.
// perSize <= 0 selects the default.
func NewPool(perSize int) *Pool {
	if perSize <= 0 {
		perSize = defaultPerSize
	}
	return &Pool{perSize: perSize, free: make(map[image.Point][]*image.RGBA)}
}

// Get returns a buffer of width x height anchored at the origin. Reused
// buffers keep their old pixels.
func (p *Pool) Get(width, height int) *image.RGBA {
	size := image.Pt(width, height)

	p.mu.Lock()
	if list := p.free[size]; len(list) > 0 {
		img := list[len(list)-1]
		p.free[size] = list[:len(list)-1]
		p.stats.Reused++
		p.mu.Unlock()
		return img
	}
	p.stats.Allocated++
	p.mu.Unlock()

	return image.NewRGBA(image.Rectangle{Max: size})
}

// Put offers img for reuse. Buffers not anchored at the origin, and
// buffers beyond the per-size bound, are left to the garbage collector.
func (p *Pool) Put(img *image.RGBA) {
	if img == nil || img.Rect.Min != (image.Point{}) || img.Rect.Empty() {
		return
	}
	size := img.Rect.Size()

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free[size]) >= p.perSize {
		p.stats.Dropped++
		return
	}
	p.free[size] = append(p.free[size], img)
}

func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
