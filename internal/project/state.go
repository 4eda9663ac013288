package project

import (
	"github.com/ivlev/animexport/internal/timeline"
)

// ShapeState is a shape resolved at one playback time.
type ShapeState struct {
	ID         string
	Type       ShapeType
	Position   timeline.Vec2
	Properties map[string]any
}

// LayerState is a visible layer with its shapes resolved.
type LayerState struct {
	Opacity float64
	Shapes  []ShapeState
}

// StateAt applies every animation of the shape at project time t (ms).
// The shape itself is not modified.
func (s Shape) StateAt(t float64) ShapeState {
	st := ShapeState{
		ID:         s.ID,
		Type:       s.Type,
		Position:   s.Position,
		Properties: make(map[string]any, len(s.Properties)+len(s.Animations)),
	}
	for k, v := range s.Properties {
		st.Properties[k] = v
	}

	for _, a := range s.Animations {
		v, ok := a.ValueAt(t)
		if !ok {
			continue
		}
		switch a.Property {
		case "position":
			if p, ok := timeline.AsVec2(v); ok {
				st.Position = p
			}
		case "x":
			if f, ok := timeline.AsFloat(v); ok {
				st.Position.X = f
			}
		case "y":
			if f, ok := timeline.AsFloat(v); ok {
				st.Position.Y = f
			}
		default:
			st.Properties[a.Property] = v
		}
	}
	return st
}

// StateAt resolves all visible layers at project time t (ms), bottom layer
// first.
func (p *Project) StateAt(t float64) []LayerState {
	layers := make([]LayerState, 0, len(p.Layers))
	for _, l := range p.Layers {
		if !l.Visible || l.Opacity <= 0 {
			continue
		}
		ls := LayerState{Opacity: l.Opacity, Shapes: make([]ShapeState, 0, len(l.Shapes))}
		for _, s := range l.Shapes {
			ls.Shapes = append(ls.Shapes, s.StateAt(t))
		}
		layers = append(layers, ls)
	}
	return layers
}

// Float reads a numeric property with a fallback.
func (s ShapeState) Float(name string, fallback float64) float64 {
	if f, ok := timeline.AsFloat(s.Properties[name]); ok {
		return f
	}
	return fallback
}

// String reads a string property with a fallback.
func (s ShapeState) String(name, fallback string) string {
	if v, ok := s.Properties[name].(string); ok && v != "" {
		return v
	}
	return fallback
}

// Vec reads a vector property.
func (s ShapeState) Vec(name string) (timeline.Vec2, bool) {
	return timeline.AsVec2(s.Properties[name])
}
