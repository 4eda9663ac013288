// Package formats holds the export plugins for PNG, GIF, MP4 and WebM.
package formats

import (
	"context"
	"fmt"
	"time"

	"github.com/ivlev/animexport/internal/export"
	"github.com/ivlev/animexport/internal/renderer"
	"github.com/ivlev/animexport/internal/system"
	"github.com/ivlev/animexport/internal/video"
)

// Deps are the collaborators shared by the default plugins.
type Deps struct {
	// Opener starts capture streams for the video formats.
	Opener video.Opener
	// Workers bounds parallel GIF quantization; 0 uses every CPU.
	Workers int
	// Realtime paces video capture by wall clock.
	Realtime bool
}

// RegisterDefaults registers the built-in plugins, video formats first.
func RegisterDefaults(reg *export.Registry, deps Deps) {
	reg.Register(NewMP4(deps.Opener, deps.Realtime), 100)
	reg.Register(NewWebM(deps.Opener, deps.Realtime), 90)
	reg.Register(NewGIF(deps.Workers), 80)
	reg.Register(NewPNG(), 70)
}

func defaultWorkers(n int) int {
	if n > 0 {
		return n
	}
	return system.CPUCount()
}

// renderAt renders the project at timeline time t onto s.
func renderAt(ectx *export.Context, s *renderer.Surface, t float64) error {
	return ectx.Renderer.RenderFrame(s, ectx.Project, t, renderer.FrameOptions{
		Background:  ectx.Settings.Background,
		Transparent: ectx.Settings.Transparent,
	})
}

func cancelled(ctx context.Context) *export.Result {
	return export.Failed(export.CodeCancelled, "export cancelled: %v", context.Cause(ctx))
}

// frameProgress maps frame done of total into [from, from+span] and
// extrapolates the remaining time from the elapsed time.
func frameProgress(stage export.Stage, msg string, from, span float64, done, total int, start time.Time) export.Progress {
	elapsed := time.Since(start)
	p := export.Progress{
		Progress:     from,
		Stage:        stage,
		Message:      fmt.Sprintf("%s %d/%d", msg, done, total),
		CurrentFrame: done,
		TotalFrames:  total,
		Elapsed:      elapsed,
	}
	if total > 0 {
		p.Progress = from + span*float64(done)/float64(total)
	}
	if done > 0 && done < total {
		p.Remaining = time.Duration(float64(elapsed) / float64(done) * float64(total-done))
	}
	return p
}

func baseMetadata(s export.Settings, format string) map[string]any {
	return map[string]any{
		"format":      format,
		"width":       s.Width,
		"height":      s.Height,
		"fps":         s.FPS,
		"duration":    s.Duration,
		"transparent": s.Transparent,
	}
}

func projectName(ectx *export.Context) string {
	if ectx.Project == nil {
		return ""
	}
	return ectx.Project.Name
}
