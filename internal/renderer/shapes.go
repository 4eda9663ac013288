package renderer

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"github.com/ivlev/animexport/internal/project"
	"github.com/ivlev/animexport/internal/timeline"
)

// kappa places cubic control points so four segments approximate a circle.
const kappa = 0.5522847498

// FrameOptions controls how the canvas is prepared before shapes are drawn.
type FrameOptions struct {
	// Background overrides the project background colour.
	Background string
	// Transparent leaves the canvas clear instead of filling it.
	Transparent bool
}

// Renderer draws the project state at a playback time onto a surface.
type Renderer interface {
	RenderFrame(dst *Surface, p *project.Project, t float64, opts FrameOptions) error
}

// ShapeRenderer is the default Renderer. It rasterizes circles, lines,
// nodes and networks with golang.org/x/image/vector, scaling project
// coordinates to the destination size.
type ShapeRenderer struct {
	Face font.Face
}

func NewShapeRenderer() *ShapeRenderer {
	return &ShapeRenderer{Face: basicfont.Face7x13}
}

func (r *ShapeRenderer) RenderFrame(dst *Surface, p *project.Project, t float64, opts FrameOptions) error {
	if p == nil {
		return fmt.Errorf("render: nil project")
	}
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("render: invalid project size %dx%d", p.Width, p.Height)
	}

	if opts.Transparent {
		dst.Clear()
	} else {
		bg := opts.Background
		if bg == "" {
			bg = p.BackgroundColor
		}
		c, ok := timeline.ParseColor(bg)
		if !ok {
			c = timeline.Color{R: 255, G: 255, B: 255, A: 1}
		}
		dst.Fill(toNRGBA(c, 1))
	}

	pt := &painter{
		dst:  dst.img,
		z:    vector.NewRasterizer(dst.Width(), dst.Height()),
		sx:   float64(dst.Width()) / float64(p.Width),
		sy:   float64(dst.Height()) / float64(p.Height),
		face: r.Face,
	}

	for _, layer := range p.StateAt(t) {
		for _, st := range layer.Shapes {
			pt.drawShape(st, layer.Opacity)
		}
	}
	return nil
}

type painter struct {
	dst    *image.RGBA
	z      *vector.Rasterizer
	sx, sy float64
	face   font.Face
}

func (pt *painter) drawShape(st project.ShapeState, layerOpacity float64) {
	opacity := layerOpacity * clampUnit(st.Float("opacity", 1))
	if opacity <= 0 {
		return
	}

	switch st.Type {
	case project.ShapeCircle:
		pt.drawDisc(st, st.Position, st.Float("radius", 20), opacity)
	case project.ShapeNode:
		radius := st.Float("radius", 12)
		pt.drawDisc(st, st.Position, radius, opacity)
		if label := st.String("label", ""); label != "" {
			pt.drawLabel(label, st.Position, radius, colorProp(st, "#000000", "labelColor"), opacity)
		}
	case project.ShapeLine:
		end, ok := st.Vec("end")
		if !ok {
			if x2, ok2 := timeline.AsFloat(st.Properties["x2"]); ok2 {
				end = timeline.Vec2{X: x2, Y: st.Float("y2", st.Position.Y)}
			} else {
				angle := st.Float("angle", 0) * math.Pi / 180
				length := st.Float("length", 100)
				end = timeline.Vec2{X: st.Position.X + length*math.Cos(angle), Y: st.Position.Y + length*math.Sin(angle)}
			}
		}
		col := colorProp(st, "#000000", "strokeColor", "stroke", "color")
		pt.line(st.Position, end, st.Float("strokeWidth", 2), col, opacity)
	case project.ShapeNetwork:
		pt.drawNetwork(st, opacity)
	}
}

func (pt *painter) drawDisc(st project.ShapeState, center timeline.Vec2, radius, opacity float64) {
	if radius <= 0 {
		return
	}
	fill := colorProp(st, "#3b82f6", "fillColor", "fill", "color")
	pt.fillCircle(center, radius, fill, opacity)

	if stroke := colorProp(st, "", "strokeColor", "stroke"); stroke.A > 0 {
		pt.ring(center, radius, st.Float("strokeWidth", 1), stroke, opacity)
	}
}

func (pt *painter) drawNetwork(st project.ShapeState, opacity float64) {
	nodes, _ := st.Properties["nodes"].([]any)
	points := make([]timeline.Vec2, 0, len(nodes))
	for _, n := range nodes {
		if v, ok := timeline.AsVec2(n); ok {
			points = append(points, timeline.Vec2{X: st.Position.X + v.X, Y: st.Position.Y + v.Y})
		}
	}

	edgeColor := colorProp(st, "#94a3b8", "edgeColor", "strokeColor", "stroke")
	edgeWidth := st.Float("strokeWidth", 1.5)
	edges, _ := st.Properties["edges"].([]any)
	for _, e := range edges {
		pair, ok := e.([]any)
		if !ok || len(pair) != 2 {
			continue
		}
		i, okI := timeline.AsFloat(pair[0])
		j, okJ := timeline.AsFloat(pair[1])
		if !okI || !okJ || int(i) < 0 || int(j) < 0 || int(i) >= len(points) || int(j) >= len(points) {
			continue
		}
		pt.line(points[int(i)], points[int(j)], edgeWidth, edgeColor, opacity)
	}

	radius := st.Float("nodeRadius", 6)
	fill := colorProp(st, "#3b82f6", "fillColor", "fill", "color")
	for _, p := range points {
		pt.fillCircle(p, radius, fill, opacity)
	}
}

func (pt *painter) fillCircle(c timeline.Vec2, radius float64, col timeline.Color, opacity float64) {
	if col.A <= 0 {
		return
	}
	pt.z.Reset(pt.dst.Rect.Dx(), pt.dst.Rect.Dy())
	pt.circlePath(c, radius, false)
	pt.flush(col, opacity)
}

// ring strokes the circle outline: the inner contour runs the opposite way
// so its area cancels out of the accumulation buffer.
func (pt *painter) ring(c timeline.Vec2, radius, width float64, col timeline.Color, opacity float64) {
	if width <= 0 {
		return
	}
	pt.z.Reset(pt.dst.Rect.Dx(), pt.dst.Rect.Dy())
	pt.circlePath(c, radius+width/2, false)
	if inner := radius - width/2; inner > 0 {
		pt.circlePath(c, inner, true)
	}
	pt.flush(col, opacity)
}

func (pt *painter) line(a, b timeline.Vec2, width float64, col timeline.Color, opacity float64) {
	if width <= 0 || col.A <= 0 {
		return
	}
	ax, ay := a.X*pt.sx, a.Y*pt.sy
	bx, by := b.X*pt.sx, b.Y*pt.sy
	dx, dy := bx-ax, by-ay
	length := math.Hypot(dx, dy)
	if length == 0 {
		return
	}
	hw := width * pt.scale() / 2
	nx, ny := -dy/length*hw, dx/length*hw

	pt.z.Reset(pt.dst.Rect.Dx(), pt.dst.Rect.Dy())
	pt.z.MoveTo(float32(ax+nx), float32(ay+ny))
	pt.z.LineTo(float32(bx+nx), float32(by+ny))
	pt.z.LineTo(float32(bx-nx), float32(by-ny))
	pt.z.LineTo(float32(ax-nx), float32(ay-ny))
	pt.z.ClosePath()
	pt.flush(col, opacity)
}

func (pt *painter) circlePath(c timeline.Vec2, radius float64, reverse bool) {
	cx, cy := float32(c.X*pt.sx), float32(c.Y*pt.sy)
	r := float32(radius * pt.scale())
	k := float32(kappa) * r

	z := pt.z
	z.MoveTo(cx+r, cy)
	if reverse {
		z.CubeTo(cx+r, cy-k, cx+k, cy-r, cx, cy-r)
		z.CubeTo(cx-k, cy-r, cx-r, cy-k, cx-r, cy)
		z.CubeTo(cx-r, cy+k, cx-k, cy+r, cx, cy+r)
		z.CubeTo(cx+k, cy+r, cx+r, cy+k, cx+r, cy)
	} else {
		z.CubeTo(cx+r, cy+k, cx+k, cy+r, cx, cy+r)
		z.CubeTo(cx-k, cy+r, cx-r, cy+k, cx-r, cy)
		z.CubeTo(cx-r, cy-k, cx-k, cy-r, cx, cy-r)
		z.CubeTo(cx+k, cy-r, cx+r, cy-k, cx+r, cy)
	}
	z.ClosePath()
}

func (pt *painter) flush(col timeline.Color, opacity float64) {
	pt.z.Draw(pt.dst, pt.dst.Rect, image.NewUniform(toNRGBA(col, opacity)), image.Point{})
}

func (pt *painter) drawLabel(label string, c timeline.Vec2, radius float64, col timeline.Color, opacity float64) {
	if pt.face == nil || col.A <= 0 {
		return
	}
	width := font.MeasureString(pt.face, label).Round()
	ascent := pt.face.Metrics().Ascent.Round()
	x := int(math.Round(c.X*pt.sx)) - width/2
	y := int(math.Round(c.Y*pt.sy+radius*pt.scale())) + ascent + 2

	d := &font.Drawer{
		Dst:  pt.dst,
		Src:  image.NewUniform(toNRGBA(col, opacity)),
		Face: pt.face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(label)
}

func (pt *painter) scale() float64 {
	return (pt.sx + pt.sy) / 2
}

// colorProp returns the first parseable colour among names, then fallback.
// An empty fallback yields a fully transparent colour.
func colorProp(st project.ShapeState, fallback string, names ...string) timeline.Color {
	for _, n := range names {
		if s, ok := st.Properties[n].(string); ok {
			if c, ok := timeline.ParseColor(s); ok {
				return c
			}
		}
	}
	c, _ := timeline.ParseColor(fallback)
	return c
}

func toNRGBA(c timeline.Color, opacity float64) color.NRGBA {
	r, g, b, _ := c.RGBA8()
	a := math.Round(clampUnit(c.A*opacity) * 255)
	return color.NRGBA{R: r, G: g, B: b, A: uint8(a)}
}

func clampUnit(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
