package renderer

import (
	"image"
	"testing"
)

func TestPoolReusesBySize(t *testing.T) {
	p := NewPool(1)

	a := p.Get(8, 4)
	if a.Rect != image.Rect(0, 0, 8, 4) {
		t.Fatalf("Unexpected bounds %v", a.Rect)
	}
	p.Put(a)

	if b := p.Get(4, 8); b == a {
		t.Error("Buffer of another size was reused")
	}
	if c := p.Get(8, 4); c != a {
		t.Error("Expected the released buffer back")
	}

	p.Put(image.NewRGBA(image.Rect(0, 0, 2, 2)))
	p.Put(image.NewRGBA(image.Rect(0, 0, 2, 2)))
	p.Put(image.NewRGBA(image.Rect(1, 1, 3, 3)))
	p.Put(nil)

	want := PoolStats{Allocated: 2, Reused: 1, Dropped: 1}
	if got := p.Stats(); got != want {
		t.Errorf("Expected stats %+v, got %+v", want, got)
	}
}

func TestPoolDefaultBound(t *testing.T) {
	p := NewPool(0)
	for i := 0; i < defaultPerSize+2; i++ {
		p.Put(image.NewRGBA(image.Rect(0, 0, 1, 1)))
	}
	if got := p.Stats().Dropped; got != 2 {
		t.Errorf("Expected 2 dropped buffers, got %d", got)
	}
}
