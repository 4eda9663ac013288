package renderer

import (
	"image/color"
	"testing"

	"github.com/ivlev/animexport/internal/project"
	"github.com/ivlev/animexport/internal/timeline"
)

func circleProject() *project.Project {
	return &project.Project{
		Name:            "dot",
		Width:           100,
		Height:          100,
		BackgroundColor: "#000000",
		Layers: []project.Layer{{
			Visible: true,
			Opacity: 1,
			Shapes: []project.Shape{{
				Type:       project.ShapeCircle,
				Position:   timeline.Vec2{X: 50, Y: 50},
				Properties: map[string]any{"radius": 20.0, "fill": "#ff0000"},
			}},
		}},
	}
}

func TestRenderCircle(t *testing.T) {
	s := NewSurface(100, 100)
	if err := NewShapeRenderer().RenderFrame(s, circleProject(), 0, FrameOptions{}); err != nil {
		t.Fatalf("RenderFrame failed: %v", err)
	}

	if got := s.Image().RGBAAt(50, 50); got != (color.RGBA{255, 0, 0, 255}) {
		t.Errorf("Expected red at center, got %v", got)
	}
	if got := s.Image().RGBAAt(2, 2); got != (color.RGBA{0, 0, 0, 255}) {
		t.Errorf("Expected black background in corner, got %v", got)
	}
}

func TestRenderScalesToSurface(t *testing.T) {
	s := NewSurface(200, 200)
	if err := NewShapeRenderer().RenderFrame(s, circleProject(), 0, FrameOptions{}); err != nil {
		t.Fatalf("RenderFrame failed: %v", err)
	}

	// radius 20 scaled x2 covers (135, 100)
	if got := s.Image().RGBAAt(135, 100); got.R != 255 {
		t.Errorf("Expected circle to be scaled, got %v at (135,100)", got)
	}
	if got := s.Image().RGBAAt(150, 100); got.R != 0 {
		t.Errorf("Expected background outside scaled radius, got %v", got)
	}
}

func TestRenderTransparent(t *testing.T) {
	s := NewSurface(100, 100)
	s.Fill(color.RGBA{1, 2, 3, 255})
	if err := NewShapeRenderer().RenderFrame(s, circleProject(), 0, FrameOptions{Transparent: true}); err != nil {
		t.Fatalf("RenderFrame failed: %v", err)
	}
	if got := s.Image().RGBAAt(2, 2); got.A != 0 {
		t.Errorf("Expected transparent corner, got %v", got)
	}
	if got := s.Image().RGBAAt(50, 50); got.A != 255 {
		t.Errorf("Expected opaque circle, got %v", got)
	}
}

func TestRenderBackgroundOverride(t *testing.T) {
	s := NewSurface(10, 10)
	p := &project.Project{Width: 10, Height: 10, BackgroundColor: "not-a-colour"}

	if err := NewShapeRenderer().RenderFrame(s, p, 0, FrameOptions{}); err != nil {
		t.Fatalf("RenderFrame failed: %v", err)
	}
	if got := s.Image().RGBAAt(5, 5); got != (color.RGBA{255, 255, 255, 255}) {
		t.Errorf("Expected white fallback, got %v", got)
	}

	if err := NewShapeRenderer().RenderFrame(s, p, 0, FrameOptions{Background: "#0000ff"}); err != nil {
		t.Fatalf("RenderFrame failed: %v", err)
	}
	if got := s.Image().RGBAAt(5, 5); got != (color.RGBA{0, 0, 255, 255}) {
		t.Errorf("Expected blue override, got %v", got)
	}
}

func TestRenderAnimatedPosition(t *testing.T) {
	p := circleProject()
	p.Layers[0].Shapes[0].Animations = []project.Animation{{
		Property: "x",
		Keyframes: []timeline.Keyframe{
			{Time: 0, Value: 25.0},
			{Time: 1000, Value: 75.0},
		},
	}}
	p.Layers[0].Shapes[0].Properties["radius"] = 10.0

	s := NewSurface(100, 100)
	if err := NewShapeRenderer().RenderFrame(s, p, 1000, FrameOptions{}); err != nil {
		t.Fatalf("RenderFrame failed: %v", err)
	}
	if got := s.Image().RGBAAt(75, 50); got.R != 255 {
		t.Errorf("Expected circle at x=75 at t=1000, got %v", got)
	}
	if got := s.Image().RGBAAt(25, 50); got.R != 0 {
		t.Errorf("Expected empty x=25 at t=1000, got %v", got)
	}
}

func TestRenderLineAndNetwork(t *testing.T) {
	p := &project.Project{
		Width: 100, Height: 100, BackgroundColor: "#ffffff",
		Layers: []project.Layer{{
			Visible: true, Opacity: 1,
			Shapes: []project.Shape{
				{
					Type:       project.ShapeLine,
					Position:   timeline.Vec2{X: 0, Y: 10},
					Properties: map[string]any{"end": map[string]any{"x": 100.0, "y": 10.0}, "strokeWidth": 4.0, "stroke": "#00ff00"},
				},
				{
					Type:     project.ShapeNetwork,
					Position: timeline.Vec2{X: 50, Y: 60},
					Properties: map[string]any{
						"nodes":       []any{map[string]any{"x": -30.0, "y": 0.0}, map[string]any{"x": 30.0, "y": 0.0}},
						"edges":       []any{[]any{0, 1}},
						"nodeRadius":  5.0,
						"fill":        "#0000ff",
						"stroke":      "#ff0000",
						"strokeWidth": 4.0,
					},
				},
			},
		}},
	}

	s := NewSurface(100, 100)
	if err := NewShapeRenderer().RenderFrame(s, p, 0, FrameOptions{}); err != nil {
		t.Fatalf("RenderFrame failed: %v", err)
	}

	if got := s.Image().RGBAAt(50, 10); got != (color.RGBA{0, 255, 0, 255}) {
		t.Errorf("Expected green line, got %v", got)
	}
	if got := s.Image().RGBAAt(20, 60); got != (color.RGBA{0, 0, 255, 255}) {
		t.Errorf("Expected blue network node, got %v", got)
	}
	if got := s.Image().RGBAAt(50, 60); got.R != 255 || got.B != 0 {
		t.Errorf("Expected red edge between nodes, got %v", got)
	}
}

func TestRenderLayerOpacity(t *testing.T) {
	p := circleProject()
	p.Layers[0].Opacity = 0.5

	s := NewSurface(100, 100)
	if err := NewShapeRenderer().RenderFrame(s, p, 0, FrameOptions{Transparent: true}); err != nil {
		t.Fatalf("RenderFrame failed: %v", err)
	}
	got := s.Image().RGBAAt(50, 50)
	if got.A < 120 || got.A > 135 {
		t.Errorf("Expected half alpha, got %v", got)
	}
}

func TestRenderInvalidProject(t *testing.T) {
	r := NewShapeRenderer()
	if err := r.RenderFrame(NewSurface(1, 1), nil, 0, FrameOptions{}); err == nil {
		t.Error("Expected error for nil project")
	}
	if err := r.RenderFrame(NewSurface(1, 1), &project.Project{}, 0, FrameOptions{}); err == nil {
		t.Error("Expected error for empty canvas")
	}
}

func TestProviderRecyclesSurfaces(t *testing.T) {
	p := NewProvider(64, 48)
	if p.Surface().Width() != 64 || p.Surface().Height() != 48 {
		t.Fatalf("Unexpected primary size %dx%d", p.Surface().Width(), p.Surface().Height())
	}

	s := p.NewSurface(32, 32)
	s.Fill(color.RGBA{9, 9, 9, 255})
	Release(p, s)

	again := p.NewSurface(32, 32)
	if again.Image().RGBAAt(0, 0).A != 0 {
		t.Error("Recycled surface was not cleared")
	}
	if again == p.Surface() {
		t.Error("NewSurface returned the primary surface")
	}
}
