// Package timeline evaluates keyframed property animations at an arbitrary
// playback time.
package timeline

import (
	"sort"
)

// Vec2 is a 2D vector value.
type Vec2 struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
}

// Keyframe anchors a property value at a time offset in milliseconds.
//
// Value holds a number, a Vec2 (or a map with "x"/"y"), a colour string, a
// bool, an opaque string or a homogeneous slice of any of these.
type Keyframe struct {
	Time   float64 `yaml:"time" json:"time"`
	Value  any     `yaml:"value" json:"value"`
	Easing string  `yaml:"easing,omitempty" json:"easing,omitempty"`
}

// Sorted returns the keyframes ordered by time. The input is returned as is
// when it is already sorted.
func Sorted(keyframes []Keyframe) []Keyframe {
	less := func(i, j int) bool { return keyframes[i].Time < keyframes[j].Time }
	if sort.SliceIsSorted(keyframes, less) {
		return keyframes
	}
	out := make([]Keyframe, len(keyframes))
	copy(out, keyframes)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

// AsFloat converts numeric values of any width to float64.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	}
	return 0, false
}

// AsVec2 converts Vec2 values and {x,y} maps decoded from YAML/JSON.
func AsVec2(v any) (Vec2, bool) {
	switch p := v.(type) {
	case Vec2:
		return p, true
	case *Vec2:
		if p == nil {
			return Vec2{}, false
		}
		return *p, true
	case map[string]any:
		x, okX := AsFloat(p["x"])
		y, okY := AsFloat(p["y"])
		if okX && okY {
			return Vec2{X: x, Y: y}, true
		}
	}
	return Vec2{}, false
}

// asSlice converts the slice shapes produced by decoders and callers.
func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []float64:
		out := make([]any, len(s))
		for i, f := range s {
			out[i] = f
		}
		return out, true
	case []int:
		out := make([]any, len(s))
		for i, n := range s {
			out[i] = float64(n)
		}
		return out, true
	case []string:
		out := make([]any, len(s))
		for i, str := range s {
			out[i] = str
		}
		return out, true
	case []Vec2:
		out := make([]any, len(s))
		for i, p := range s {
			out[i] = p
		}
		return out, true
	}
	return nil, false
}
