package formats

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ivlev/animexport/internal/export"
	"github.com/ivlev/animexport/internal/renderer"
)

// GIFMaxFrames caps the frame count of one GIF.
const GIFMaxFrames = 300

// GIF renders every frame up front and quantizes them in parallel.
type GIF struct {
	export.Base
	Workers int
}

func NewGIF(workers int) *GIF {
	return &GIF{
		Base: export.Base{
			Meta: export.Info{
				ID:                   "gif",
				Name:                 "Animated GIF",
				Description:          "Looping palette animation",
				Extension:            "gif",
				MimeType:             "image/gif",
				Category:             export.CategoryAnimation,
				SupportsTransparency: true,
				SupportsAnimation:    true,
				MaxFrames:            GIFMaxFrames,
				Defaults: export.SettingsPatch{
					FPS: export.Ptr(12),
				},
			},
			FrameCost:      40 * time.Millisecond,
			MemoryOverhead: 1.25,
		},
		Workers: workers,
	}
}

// gifPalette returns Plan9, with its last entry swapped for a fully
// transparent color when transparency is requested.
func gifPalette(transparent bool) (color.Palette, int) {
	p := make(color.Palette, len(palette.Plan9))
	copy(p, palette.Plan9)
	if !transparent {
		return p, -1
	}
	idx := len(p) - 1
	p[idx] = color.RGBA{}
	return p, idx
}

// gifDelay converts fps to the per-frame delay in hundredths of a second.
func gifDelay(fps int) int {
	d := int(math.Round(100 / float64(fps)))
	return max(d, 1)
}

func (g *GIF) Export(ctx context.Context, ectx *export.Context) (*export.Result, error) {
	s := ectx.Settings
	total := s.FrameCount()
	start := time.Now()
	ectx.Report(export.Progress{Progress: 0.02, Stage: export.StagePreparing, Message: "Preparing frames", TotalFrames: total})

	surface := ectx.Surfaces.NewSurface(s.Width, s.Height)
	defer renderer.Release(ectx.Surfaces, surface)

	// Все кадры рендерим заранее, квантование идёт параллельно.
	frames := make([]*image.RGBA, total)
	for i := range total {
		if ctx.Err() != nil {
			return cancelled(ctx), nil
		}
		t := float64(i) * 1000 / float64(s.FPS)
		if err := renderAt(ectx, surface, t); err != nil {
			return export.Failed(export.CodeRender, "render frame %d at %.0fms: %v", i, t, err), nil
		}
		frames[i] = surface.Snapshot()
		ectx.Report(frameProgress(export.StageRendering, "Rendering frame", 0.05, 0.45, i+1, total, start))
	}

	pal, transparentIdx := gifPalette(s.Transparent)
	images := make([]*image.Paletted, total)

	var (
		reportMu sync.Mutex
		done     int
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(defaultWorkers(g.Workers))
	for i, frame := range frames {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			dst := image.NewPaletted(frame.Bounds(), pal)
			draw.FloydSteinberg.Draw(dst, frame.Bounds(), frame, frame.Bounds().Min)
			images[i] = dst
			frames[i] = nil

			reportMu.Lock()
			done++
			ectx.Report(frameProgress(export.StageEncoding, "Quantizing frame", 0.5, 0.4, done, total, start))
			reportMu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		if ctx.Err() != nil {
			return cancelled(ctx), nil
		}
		return export.Failed(export.CodeEncoding, "quantize frames: %v", err), nil
	}

	ectx.Report(export.Progress{Progress: 0.92, Stage: export.StageFinalizing, Message: "Writing GIF", CurrentFrame: total, TotalFrames: total, Elapsed: time.Since(start)})

	delay := gifDelay(s.FPS)
	anim := &gif.GIF{
		Image:     images,
		Delay:     make([]int, total),
		LoopCount: -1,
		Config: image.Config{
			ColorModel: pal,
			Width:      s.Width,
			Height:     s.Height,
		},
	}
	if s.Loop {
		anim.LoopCount = 0
	}
	for i := range anim.Delay {
		anim.Delay[i] = delay
	}
	if transparentIdx >= 0 {
		anim.BackgroundIndex = byte(transparentIdx)
		anim.Disposal = make([]byte, total)
		for i := range anim.Disposal {
			anim.Disposal[i] = gif.DisposalBackground
		}
	}

	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, anim); err != nil {
		return export.Failed(export.CodeEncoding, "encode gif: %v", err), nil
	}

	meta := baseMetadata(s, "gif")
	meta["frames"] = total
	meta["delay"] = delay
	meta["loop"] = s.Loop
	ectx.Report(export.Progress{Progress: 1, Stage: export.StageComplete, Message: "GIF ready", CurrentFrame: total, TotalFrames: total, Elapsed: time.Since(start)})

	return export.Succeeded(buf.Bytes(), export.Filename(projectName(ectx), "gif", time.Now()), g.Meta.MimeType, meta), nil
}
