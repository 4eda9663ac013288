package timeline

import "math"

// optimizeTolerance is the relative deviation under which an interior
// keyframe is considered redundant.
const optimizeTolerance = 0.01

// Optimize removes interior keyframes whose numeric value is within 1% of
// what linear interpolation between their neighbours already produces. The
// easing id must match across the triple. First and last keyframes are
// always kept and non-numeric keyframes are never dropped. Passes repeat
// until nothing changes, so Optimize(Optimize(k)) == Optimize(k).
func Optimize(keyframes []Keyframe) []Keyframe {
	kfs := Sorted(keyframes)
	out := make([]Keyframe, len(kfs))
	copy(out, kfs)

	for len(out) > 2 {
		next, dropped := optimizePass(out)
		if !dropped {
			break
		}
		out = next
	}
	return out
}

func optimizePass(kfs []Keyframe) ([]Keyframe, bool) {
	out := make([]Keyframe, 0, len(kfs))
	out = append(out, kfs[0])
	dropped := false

	for i := 1; i < len(kfs)-1; i++ {
		prev := out[len(out)-1]
		cur, next := kfs[i], kfs[i+1]
		if redundant(prev, cur, next) {
			dropped = true
			continue
		}
		out = append(out, cur)
	}

	out = append(out, kfs[len(kfs)-1])
	return out, dropped
}

func redundant(prev, cur, next Keyframe) bool {
	if prev.Easing != cur.Easing || cur.Easing != next.Easing {
		return false
	}

	p, ok1 := AsFloat(prev.Value)
	c, ok2 := AsFloat(cur.Value)
	n, ok3 := AsFloat(next.Value)
	if !ok1 || !ok2 || !ok3 {
		return false
	}

	span := next.Time - prev.Time
	if span <= 0 {
		return false
	}

	expected := lerp(p, n, (cur.Time-prev.Time)/span)
	return math.Abs(c-expected) <= optimizeTolerance*math.Abs(expected)+1e-9
}
