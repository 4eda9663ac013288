package renderer

import (
	"image"
	"image/color"
	"image/draw"
)

// Surface is a drawable RGBA canvas.
type Surface struct {
	img *image.RGBA
}

func NewSurface(width, height int) *Surface {
	return &Surface{img: image.NewRGBA(image.Rect(0, 0, width, height))}
}

// Wrap adopts an existing image; drawing goes straight into it.
func Wrap(img *image.RGBA) *Surface {
	return &Surface{img: img}
}

func (s *Surface) Image() *image.RGBA {
	return s.img
}

func (s *Surface) Width() int {
	return s.img.Rect.Dx()
}

func (s *Surface) Height() int {
	return s.img.Rect.Dy()
}

// Clear resets every pixel to transparent black.
func (s *Surface) Clear() {
	clear(s.img.Pix)
}

// Fill paints the whole surface with c, replacing what was there.
func (s *Surface) Fill(c color.Color) {
	draw.Draw(s.img, s.img.Rect, image.NewUniform(c), image.Point{}, draw.Src)
}

// Snapshot copies the current pixels into a new image.
func (s *Surface) Snapshot() *image.RGBA {
	out := image.NewRGBA(s.img.Rect)
	copy(out.Pix, s.img.Pix)
	return out
}

// Provider hands out the caller's primary surface and private surfaces of
// any size.
type Provider interface {
	Surface() *Surface
	NewSurface(width, height int) *Surface
}

// Releaser is implemented by providers that recycle surfaces.
type Releaser interface {
	Release(s *Surface)
}

// CanvasProvider owns a primary surface and recycles private ones through
// a Pool.
type CanvasProvider struct {
	primary *Surface
	pool    *Pool
}

func NewProvider(width, height int) *CanvasProvider {
	return &CanvasProvider{
		primary: NewSurface(width, height),
		pool:    NewPool(0),
	}
}

func (p *CanvasProvider) Surface() *Surface {
	return p.primary
}

// NewSurface returns a cleared surface, reusing a released one of the same
// size when available.
func (p *CanvasProvider) NewSurface(width, height int) *Surface {
	img := p.pool.Get(width, height)
	clear(img.Pix)
	return Wrap(img)
}

func (p *CanvasProvider) Release(s *Surface) {
	if s == nil || s == p.primary {
		return
	}
	p.pool.Put(s.img)
}

// Release returns s to provider when it supports recycling.
func Release(provider Provider, s *Surface) {
	if r, ok := provider.(Releaser); ok {
		r.Release(s)
	}
}
