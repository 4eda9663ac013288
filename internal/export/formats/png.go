package formats

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"time"

	"github.com/ivlev/animexport/internal/export"
	"github.com/ivlev/animexport/internal/renderer"
)

var pngCompression = map[string]png.CompressionLevel{
	"":        png.DefaultCompression,
	"default": png.DefaultCompression,
	"none":    png.NoCompression,
	"speed":   png.BestSpeed,
	"best":    png.BestCompression,
}

// PNG exports the single frame at the project's current time.
type PNG struct {
	export.Base
}

func NewPNG() *PNG {
	return &PNG{Base: export.Base{
		Meta: export.Info{
			ID:                   "png",
			Name:                 "PNG Image",
			Description:          "Single still frame at the current playback time",
			Extension:            "png",
			MimeType:             "image/png",
			Category:             export.CategoryImage,
			SupportsTransparency: true,
			Defaults: export.SettingsPatch{
				// One millisecond is a single frame at any valid fps.
				Duration: export.Ptr(1.0),
			},
		},
		FrameCost:      50 * time.Millisecond,
		MemoryOverhead: 2,
	}}
}

func (p *PNG) Validate(s export.Settings) []string {
	errs := p.Base.Validate(s)
	if _, ok := pngCompression[s.Compression]; !ok {
		errs = append(errs, fmt.Sprintf("unknown compression %q (use default, none, speed or best)", s.Compression))
	}
	return errs
}

func (p *PNG) Export(ctx context.Context, ectx *export.Context) (*export.Result, error) {
	s := ectx.Settings
	start := time.Now()
	ectx.Report(export.Progress{Progress: 0.1, Stage: export.StagePreparing, Message: "Preparing canvas"})

	if ctx.Err() != nil {
		return cancelled(ctx), nil
	}

	surface := ectx.Surfaces.NewSurface(s.Width, s.Height)
	defer renderer.Release(ectx.Surfaces, surface)

	at := ectx.Project.CurrentTime
	if err := renderAt(ectx, surface, at); err != nil {
		return export.Failed(export.CodeRender, "render frame at %.0fms: %v", at, err), nil
	}
	ectx.Report(export.Progress{Progress: 0.5, Stage: export.StageEncoding, Message: "Encoding PNG", CurrentFrame: 1, TotalFrames: 1, Elapsed: time.Since(start)})

	if ctx.Err() != nil {
		return cancelled(ctx), nil
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: pngCompression[s.Compression]}
	if err := enc.Encode(&buf, surface.Image()); err != nil {
		return export.Failed(export.CodeEncoding, "encode png: %v", err), nil
	}

	meta := baseMetadata(s, "png")
	meta["time"] = at
	meta["compression"] = s.Compression
	ectx.Report(export.Progress{Progress: 1, Stage: export.StageComplete, Message: "PNG ready", Elapsed: time.Since(start)})

	return export.Succeeded(buf.Bytes(), export.Filename(projectName(ectx), "png", time.Now()), p.Meta.MimeType, meta), nil
}
