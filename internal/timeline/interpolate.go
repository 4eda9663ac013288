package timeline

import (
	"strings"
)

// ValueAtTime evaluates keyframes at time t (ms) with linear as the default
// easing. The boolean is false when there are no keyframes; callers supply
// their own fallback.
func ValueAtTime(keyframes []Keyframe, t float64, property string) (any, bool) {
	return Evaluate(keyframes, t, property, "")
}

// Evaluate is ValueAtTime with an explicit fallback easing used when neither
// bracketing keyframe names one.
func Evaluate(keyframes []Keyframe, t float64, property, defaultEasing string) (any, bool) {
	if len(keyframes) == 0 {
		return nil, false
	}

	kfs := Sorted(keyframes)
	first, last := kfs[0], kfs[len(kfs)-1]

	// Clamp outside the keyframe range, no extrapolation.
	if t <= first.Time {
		return first.Value, true
	}
	if t >= last.Time {
		return last.Value, true
	}

	var from, to Keyframe
	for i := 0; i < len(kfs)-1; i++ {
		if t >= kfs[i].Time && t <= kfs[i+1].Time {
			from, to = kfs[i], kfs[i+1]
			break
		}
	}

	span := to.Time - from.Time
	progress := 1.0
	if span > 0 {
		progress = clamp01((t - from.Time) / span)
	}

	easing := to.Easing
	if easing == "" {
		easing = from.Easing
	}
	if easing == "" {
		easing = defaultEasing
	}
	if easing == "" {
		easing = "linear"
	}

	return Interpolate(from.Value, to.Value, Ease(easing, progress), property), true
}

// Interpolate blends two keyframe values at eased progress t according to
// their runtime shape.
func Interpolate(from, to any, t float64, property string) any {
	if a, ok := AsFloat(from); ok {
		if b, ok := AsFloat(to); ok {
			return lerp(a, b, t)
		}
		return step(from, to, t)
	}

	if a, ok := AsVec2(from); ok {
		if b, ok := AsVec2(to); ok {
			return Vec2{X: lerp(a.X, b.X, t), Y: lerp(a.Y, b.Y, t)}
		}
		return step(from, to, t)
	}

	if a, ok := from.(string); ok {
		if b, ok := to.(string); ok && IsColorProperty(property) {
			ca, okA := ParseColor(a)
			cb, okB := ParseColor(b)
			if okA && okB {
				return FormatColor(LerpColor(ca, cb, t))
			}
		}
		return step(from, to, t)
	}

	if a, ok := asSlice(from); ok {
		if b, ok := asSlice(to); ok {
			return interpolateSlice(a, b, t)
		}
	}

	return step(from, to, t)
}

// IsColorProperty reports whether string values of property are treated as
// colours.
func IsColorProperty(property string) bool {
	return strings.Contains(strings.ToLower(property), "color")
}

func interpolateSlice(a, b []any, t float64) []any {
	if len(a) == 0 || len(b) == 0 {
		if t < 0.5 {
			return a
		}
		return b
	}

	n := len(a)
	if len(b) > n {
		n = len(b)
	}

	out := make([]any, n)
	for i := 0; i < n; i++ {
		// The shorter slice holds its last element.
		va := a[min(i, len(a)-1)]
		vb := b[min(i, len(b)-1)]

		fa, okA := AsFloat(va)
		fb, okB := AsFloat(vb)
		if okA && okB {
			out[i] = lerp(fa, fb, t)
			continue
		}
		out[i] = step(va, vb, t)
	}
	return out
}

func step(from, to any, t float64) any {
	if t < 0.5 {
		return from
	}
	return to
}

// lerp weights both ends so that t = 0.5 yields exactly (a+b)/2.
func lerp(a, b, t float64) float64 {
	return a*(1-t) + b*t
}
