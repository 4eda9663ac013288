package project

import (
	"fmt"
	"math"

	"github.com/ivlev/animexport/internal/timeline"
)

// ShapeType discriminates the drawable primitives.
type ShapeType string

const (
	ShapeCircle  ShapeType = "circle"
	ShapeLine    ShapeType = "line"
	ShapeNode    ShapeType = "node"
	ShapeNetwork ShapeType = "network"
)

// Project is the animation document handed to the exporter.
type Project struct {
	Name            string  `yaml:"name" json:"name"`
	Width           int     `yaml:"width" json:"width"`
	Height          int     `yaml:"height" json:"height"`
	BackgroundColor string  `yaml:"backgroundColor,omitempty" json:"backgroundColor,omitempty"`
	CurrentTime     float64 `yaml:"currentTime,omitempty" json:"currentTime,omitempty"` // ms
	Duration        float64 `yaml:"duration,omitempty" json:"duration,omitempty"`       // ms
	FPS             int     `yaml:"fps,omitempty" json:"fps,omitempty"`
	Layers          []Layer `yaml:"layers" json:"layers"`
}

// Layer groups shapes that share visibility and opacity.
type Layer struct {
	ID      string  `yaml:"id,omitempty" json:"id,omitempty"`
	Name    string  `yaml:"name,omitempty" json:"name,omitempty"`
	Visible bool    `yaml:"visible" json:"visible"`
	Locked  bool    `yaml:"locked,omitempty" json:"locked,omitempty"`
	Opacity float64 `yaml:"opacity" json:"opacity"`
	Shapes  []Shape `yaml:"shapes" json:"shapes"`
}

// Shape is a drawable primitive with a position and a type-specific
// property bag.
type Shape struct {
	ID         string         `yaml:"id,omitempty" json:"id,omitempty"`
	Type       ShapeType      `yaml:"type" json:"type"`
	Position   timeline.Vec2  `yaml:"position" json:"position"`
	Properties map[string]any `yaml:"properties,omitempty" json:"properties,omitempty"`
	Animations []Animation    `yaml:"animations,omitempty" json:"animations,omitempty"`
}

// Animation drives one property through keyframes. Keyframe times are
// relative to StartTime.
type Animation struct {
	Property  string              `yaml:"property" json:"property"`
	Keyframes []timeline.Keyframe `yaml:"keyframes" json:"keyframes"`
	Duration  float64             `yaml:"duration,omitempty" json:"duration,omitempty"`
	StartTime float64             `yaml:"startTime,omitempty" json:"startTime,omitempty"`
	Easing    string              `yaml:"easing,omitempty" json:"easing,omitempty"`
}

// ValueAt evaluates the animation at project time t (ms).
func (a Animation) ValueAt(t float64) (any, bool) {
	return timeline.Evaluate(a.Keyframes, t-a.StartTime, a.Property, a.Easing)
}

// End returns the project time at which the animation settles.
func (a Animation) End() float64 {
	end := a.StartTime + a.Duration
	for _, kf := range a.Keyframes {
		end = math.Max(end, a.StartTime+kf.Time)
	}
	return end
}

// Validate checks structural invariants of the document.
func (p *Project) Validate() error {
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("project %q: invalid canvas size %dx%d", p.Name, p.Width, p.Height)
	}
	for li, l := range p.Layers {
		if l.Opacity < 0 || l.Opacity > 1 {
			return fmt.Errorf("layer %d: opacity %.2f outside [0,1]", li, l.Opacity)
		}
		for si, s := range l.Shapes {
			switch s.Type {
			case ShapeCircle, ShapeLine, ShapeNode, ShapeNetwork:
			default:
				return fmt.Errorf("layer %d shape %d: unknown type %q", li, si, s.Type)
			}
			for ai, a := range s.Animations {
				seen := make(map[float64]bool, len(a.Keyframes))
				for _, kf := range a.Keyframes {
					if seen[kf.Time] {
						return fmt.Errorf("layer %d shape %d animation %d: duplicate keyframe time %.0f", li, si, ai, kf.Time)
					}
					seen[kf.Time] = true
				}
			}
		}
	}
	return nil
}

// AnimationLength returns the project duration, falling back to the end of
// the longest animation when the document does not declare one.
func (p *Project) AnimationLength() float64 {
	if p.Duration > 0 {
		return p.Duration
	}
	end := 0.0
	for _, l := range p.Layers {
		for _, s := range l.Shapes {
			for _, a := range s.Animations {
				end = math.Max(end, a.End())
			}
		}
	}
	return end
}

// ShapeCount returns the number of shapes across all layers.
func (p *Project) ShapeCount() int {
	n := 0
	for _, l := range p.Layers {
		n += len(l.Shapes)
	}
	return n
}

// Clone returns a deep copy so a snapshot can be rendered while the editor
// keeps mutating the original.
func (p *Project) Clone() *Project {
	c := *p
	c.Layers = make([]Layer, len(p.Layers))
	for i, l := range p.Layers {
		cl := l
		cl.Shapes = make([]Shape, len(l.Shapes))
		for j, s := range l.Shapes {
			cs := s
			if s.Properties != nil {
				cs.Properties = make(map[string]any, len(s.Properties))
				for k, v := range s.Properties {
					cs.Properties[k] = cloneValue(v)
				}
			}
			cs.Animations = make([]Animation, len(s.Animations))
			for k, a := range s.Animations {
				ca := a
				ca.Keyframes = make([]timeline.Keyframe, len(a.Keyframes))
				for n, kf := range a.Keyframes {
					kf.Value = cloneValue(kf.Value)
					ca.Keyframes[n] = kf
				}
				cs.Animations[k] = ca
			}
			cl.Shapes[j] = cs
		}
		c.Layers[i] = cl
	}
	return &c
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	case []float64:
		return append([]float64(nil), t...)
	}
	return v
}
