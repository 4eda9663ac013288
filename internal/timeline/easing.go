package timeline

import (
	"math"
	"sort"
	"strings"
)

// EasingFunc maps interpolation progress in [0,1] to eased progress.
type EasingFunc func(t float64) float64

const (
	backC1 = 1.70158
	backC2 = backC1 * 1.525
	backC3 = backC1 + 1

	elasticC4 = (2 * math.Pi) / 3
	elasticC5 = (2 * math.Pi) / 4.5

	bounceN1 = 7.5625
	bounceD1 = 2.75
)

var easings = map[string]EasingFunc{
	"linear": func(t float64) float64 { return t },

	// CSS timing functions
	"ease":      cubicBezier(0.25, 0.1, 0.25, 1),
	"easeIn":    cubicBezier(0.42, 0, 1, 1),
	"easeOut":   cubicBezier(0, 0, 0.58, 1),
	"easeInOut": cubicBezier(0.42, 0, 0.58, 1),

	"easeInSine":    func(t float64) float64 { return 1 - math.Cos(t*math.Pi/2) },
	"easeOutSine":   func(t float64) float64 { return math.Sin(t * math.Pi / 2) },
	"easeInOutSine": func(t float64) float64 { return -(math.Cos(math.Pi*t) - 1) / 2 },

	"easeInQuad":    powIn(2),
	"easeOutQuad":   powOut(2),
	"easeInOutQuad": powInOut(2),

	"easeInCubic":    powIn(3),
	"easeOutCubic":   powOut(3),
	"easeInOutCubic": powInOut(3),

	"easeInQuart":    powIn(4),
	"easeOutQuart":   powOut(4),
	"easeInOutQuart": powInOut(4),

	"easeInQuint":    powIn(5),
	"easeOutQuint":   powOut(5),
	"easeInOutQuint": powInOut(5),

	"easeInExpo": func(t float64) float64 {
		if t == 0 {
			return 0
		}
		return math.Pow(2, 10*t-10)
	},
	"easeOutExpo": func(t float64) float64 {
		if t == 1 {
			return 1
		}
		return 1 - math.Pow(2, -10*t)
	},
	"easeInOutExpo": func(t float64) float64 {
		switch {
		case t == 0:
			return 0
		case t == 1:
			return 1
		case t < 0.5:
			return math.Pow(2, 20*t-10) / 2
		default:
			return (2 - math.Pow(2, -20*t+10)) / 2
		}
	},

	"easeInCirc":  func(t float64) float64 { return 1 - math.Sqrt(1-t*t) },
	"easeOutCirc": func(t float64) float64 { return math.Sqrt(1 - (t-1)*(t-1)) },
	"easeInOutCirc": func(t float64) float64 {
		if t < 0.5 {
			return (1 - math.Sqrt(1-(2*t)*(2*t))) / 2
		}
		return (math.Sqrt(1-(-2*t+2)*(-2*t+2)) + 1) / 2
	},

	"easeInBack": func(t float64) float64 { return backC3*t*t*t - backC1*t*t },
	"easeOutBack": func(t float64) float64 {
		u := t - 1
		return 1 + backC3*u*u*u + backC1*u*u
	},
	"easeInOutBack": func(t float64) float64 {
		if t < 0.5 {
			return (math.Pow(2*t, 2) * ((backC2+1)*2*t - backC2)) / 2
		}
		return (math.Pow(2*t-2, 2)*((backC2+1)*(t*2-2)+backC2) + 2) / 2
	},

	"easeInElastic": func(t float64) float64 {
		if t == 0 || t == 1 {
			return t
		}
		return -math.Pow(2, 10*t-10) * math.Sin((t*10-10.75)*elasticC4)
	},
	"easeOutElastic": func(t float64) float64 {
		if t == 0 || t == 1 {
			return t
		}
		return math.Pow(2, -10*t)*math.Sin((t*10-0.75)*elasticC4) + 1
	},
	"easeInOutElastic": func(t float64) float64 {
		switch {
		case t == 0 || t == 1:
			return t
		case t < 0.5:
			return -(math.Pow(2, 20*t-10) * math.Sin((20*t-11.125)*elasticC5)) / 2
		default:
			return (math.Pow(2, -20*t+10)*math.Sin((20*t-11.125)*elasticC5))/2 + 1
		}
	},

	"easeInBounce":  func(t float64) float64 { return 1 - bounceOut(1-t) },
	"easeOutBounce": bounceOut,
	"easeInOutBounce": func(t float64) float64 {
		if t < 0.5 {
			return (1 - bounceOut(1-2*t)) / 2
		}
		return (1 + bounceOut(2*t-1)) / 2
	},
}

// lookup is keyed by the normalized id so "ease-in-out", "ease_in_out" and
// "easeInOut" resolve to the same function.
var lookup = func() map[string]EasingFunc {
	m := make(map[string]EasingFunc, len(easings))
	for id, fn := range easings {
		m[normalizeID(id)] = fn
	}
	return m
}()

func normalizeID(id string) string {
	id = strings.ToLower(id)
	id = strings.ReplaceAll(id, "-", "")
	return strings.ReplaceAll(id, "_", "")
}

// Easing returns the easing function registered under id. Unknown ids
// resolve to linear.
func Easing(id string) EasingFunc {
	if fn, ok := lookup[normalizeID(id)]; ok {
		return fn
	}
	return easings["linear"]
}

// HasEasing reports whether id names a registered easing function.
func HasEasing(id string) bool {
	_, ok := lookup[normalizeID(id)]
	return ok
}

// Ease clamps t to [0,1] and applies the named easing.
func Ease(id string, t float64) float64 {
	return Easing(id)(clamp01(t))
}

// Easings returns the registered easing ids in sorted order.
func Easings() []string {
	ids := make([]string, 0, len(easings))
	for id := range easings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func powIn(n float64) EasingFunc {
	return func(t float64) float64 { return math.Pow(t, n) }
}

func powOut(n float64) EasingFunc {
	return func(t float64) float64 { return 1 - math.Pow(1-t, n) }
}

func powInOut(n float64) EasingFunc {
	return func(t float64) float64 {
		if t < 0.5 {
			return math.Pow(2, n-1) * math.Pow(t, n)
		}
		return 1 - math.Pow(-2*t+2, n)/2
	}
}

// bounceOut is the four-segment piecewise parabola.
func bounceOut(t float64) float64 {
	switch {
	case t < 1/bounceD1:
		return bounceN1 * t * t
	case t < 2/bounceD1:
		t -= 1.5 / bounceD1
		return bounceN1*t*t + 0.75
	case t < 2.5/bounceD1:
		t -= 2.25 / bounceD1
		return bounceN1*t*t + 0.9375
	default:
		t -= 2.625 / bounceD1
		return bounceN1*t*t + 0.984375
	}
}

// cubicBezier builds a CSS-style timing function with control points
// (x1,y1) and (x2,y2); the curve endpoints are fixed at (0,0) and (1,1).
func cubicBezier(x1, y1, x2, y2 float64) EasingFunc {
	cx := 3 * x1
	bx := 3*(x2-x1) - cx
	ax := 1 - cx - bx
	cy := 3 * y1
	by := 3*(y2-y1) - cy
	ay := 1 - cy - by

	sampleX := func(s float64) float64 { return ((ax*s+bx)*s + cx) * s }
	sampleY := func(s float64) float64 { return ((ay*s+by)*s + cy) * s }
	slopeX := func(s float64) float64 { return (3*ax*s+2*bx)*s + cx }

	solve := func(x float64) float64 {
		s := x
		for i := 0; i < 8; i++ {
			dx := sampleX(s) - x
			if math.Abs(dx) < 1e-7 {
				return s
			}
			d := slopeX(s)
			if math.Abs(d) < 1e-6 {
				break
			}
			s -= dx / d
		}

		lo, hi := 0.0, 1.0
		s = x
		for i := 0; i < 64 && lo < hi; i++ {
			v := sampleX(s)
			if math.Abs(v-x) < 1e-7 {
				return s
			}
			if x > v {
				lo = s
			} else {
				hi = s
			}
			s = (lo + hi) / 2
		}
		return s
	}

	return func(t float64) float64 {
		if t <= 0 {
			return 0
		}
		if t >= 1 {
			return 1
		}
		return sampleY(solve(t))
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
