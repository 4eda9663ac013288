package timeline

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Color is a straight-alpha colour with 0..255 channels and alpha in [0,1].
type Color struct {
	R, G, B float64
	A       float64
	// HasAlpha records whether the source notation carried an alpha channel.
	HasAlpha bool
}

var namedColors = map[string]Color{
	"black":       {R: 0, G: 0, B: 0, A: 1},
	"white":       {R: 255, G: 255, B: 255, A: 1},
	"red":         {R: 255, G: 0, B: 0, A: 1},
	"green":       {R: 0, G: 128, B: 0, A: 1},
	"blue":        {R: 0, G: 0, B: 255, A: 1},
	"yellow":      {R: 255, G: 255, B: 0, A: 1},
	"gray":        {R: 128, G: 128, B: 128, A: 1},
	"transparent": {A: 0, HasAlpha: true},
}

// ParseColor parses #rgb, #rrggbb, #rrggbbaa, rgb(), rgba() and a few
// named colours.
func ParseColor(s string) (Color, bool) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return Color{}, false
	}
	if c, ok := namedColors[s]; ok {
		return c, true
	}
	if strings.HasPrefix(s, "#") {
		return parseHexColor(s[1:])
	}
	if strings.HasPrefix(s, "rgb") {
		return parseFuncColor(s)
	}
	return Color{}, false
}

func parseHexColor(h string) (Color, bool) {
	var digits []string
	switch len(h) {
	case 3, 4:
		for i := 0; i < len(h); i++ {
			digits = append(digits, strings.Repeat(h[i:i+1], 2))
		}
	case 6, 8:
		for i := 0; i < len(h); i += 2 {
			digits = append(digits, h[i:i+2])
		}
	default:
		return Color{}, false
	}

	vals := make([]float64, len(digits))
	for i, d := range digits {
		n, err := strconv.ParseUint(d, 16, 8)
		if err != nil {
			return Color{}, false
		}
		vals[i] = float64(n)
	}

	c := Color{R: vals[0], G: vals[1], B: vals[2], A: 1}
	if len(vals) == 4 {
		c.A = vals[3] / 255
		c.HasAlpha = true
	}
	return c, true
}

func parseFuncColor(s string) (Color, bool) {
	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return Color{}, false
	}
	name := strings.TrimSpace(s[:open])
	if name != "rgb" && name != "rgba" {
		return Color{}, false
	}

	parts := strings.Split(s[open+1:len(s)-1], ",")
	if len(parts) != 3 && len(parts) != 4 {
		return Color{}, false
	}

	vals := make([]float64, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		percent := strings.HasSuffix(p, "%")
		f, err := strconv.ParseFloat(strings.TrimSuffix(p, "%"), 64)
		if err != nil {
			return Color{}, false
		}
		if percent {
			if i == 3 {
				f /= 100
			} else {
				f = f * 255 / 100
			}
		}
		vals[i] = f
	}

	c := Color{
		R: clampChannel(vals[0]),
		G: clampChannel(vals[1]),
		B: clampChannel(vals[2]),
		A: 1,
	}
	if len(vals) == 4 {
		c.A = clamp01(vals[3])
		c.HasAlpha = true
	}
	return c, true
}

// FormatColor serializes to #rrggbb, or rgba() when alpha is present.
func FormatColor(c Color) string {
	r := int(math.Round(clampChannel(c.R)))
	g := int(math.Round(clampChannel(c.G)))
	b := int(math.Round(clampChannel(c.B)))
	if c.HasAlpha {
		a := math.Round(clamp01(c.A)*1000) / 1000
		return fmt.Sprintf("rgba(%d, %d, %d, %s)", r, g, b, strconv.FormatFloat(a, 'f', -1, 64))
	}
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}

// LerpColor blends channel-wise. Alpha is kept when either side has it.
func LerpColor(a, b Color, t float64) Color {
	return Color{
		R:        lerp(a.R, b.R, t),
		G:        lerp(a.G, b.G, t),
		B:        lerp(a.B, b.B, t),
		A:        lerp(a.A, b.A, t),
		HasAlpha: a.HasAlpha || b.HasAlpha,
	}
}

// RGBA8 returns non-premultiplied 8-bit channels.
func (c Color) RGBA8() (r, g, b, a uint8) {
	return uint8(math.Round(clampChannel(c.R))),
		uint8(math.Round(clampChannel(c.G))),
		uint8(math.Round(clampChannel(c.B))),
		uint8(math.Round(clamp01(c.A) * 255))
}

func clampChannel(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
