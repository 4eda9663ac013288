package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ivlev/animexport/internal/project"
	"github.com/ivlev/animexport/internal/renderer"
)

// Category groups plugins for pickers and lookups.
type Category string

const (
	CategoryImage     Category = "image"
	CategoryVideo     Category = "video"
	CategoryAnimation Category = "animation"
	CategoryWeb       Category = "web"
)

// Info is the static capability description of a plugin.
type Info struct {
	ID                   string        `json:"id"`
	Name                 string        `json:"name"`
	Description          string        `json:"description"`
	Extension            string        `json:"extension"`
	MimeType             string        `json:"mimeType"`
	Category             Category      `json:"category"`
	SupportsTransparency bool          `json:"supportsTransparency"`
	SupportsAnimation    bool          `json:"supportsAnimation"`
	MaxDuration          float64       `json:"maxDuration,omitempty"` // ms, 0 = unlimited
	MaxFrames            int           `json:"maxFrames,omitempty"`
	Defaults             SettingsPatch `json:"defaults"`
}

// Plugin exports a project to one output format.
//
// Export emits progress through ectx.Report and returns exactly one Result.
// When ctx is cancelled it must release its streams and workers and return
// a Result with code CANCELLED instead of blocking. All state of one export
// lives inside the call, so a plugin value may serve concurrent jobs.
type Plugin interface {
	Info() Info
	Validate(s Settings) []string
	Export(ctx context.Context, ectx *Context) (*Result, error)
	EstimateExportTime(s Settings) time.Duration
	MemoryRequirements(s Settings) uint64
	IsSupported() bool
}

// Context is everything a plugin needs for one export.
type Context struct {
	Project  *project.Project
	Surfaces renderer.Provider
	Renderer renderer.Renderer
	Settings Settings
	Logger   *slog.Logger

	OnProgress func(Progress)
	OnComplete func(*Result)
	OnError    func(error)
	// Annotate may add metadata to a successful result before it is stored
	// on the job and handed to OnComplete.
	Annotate func(*Result)
}

// Report forwards a progress event.
func (c *Context) Report(p Progress) {
	if c.OnProgress != nil {
		c.OnProgress(p)
	}
}

// Log returns the logger for this export.
func (c *Context) Log() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// ExportError is the error form of a failed Result.
type ExportError struct {
	Code    ErrorCode
	Message string
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Base implements the checks and heuristics shared by every format.
type Base struct {
	Meta Info
	// FrameCost is the estimated wall time to produce one frame.
	FrameCost time.Duration
	// MemoryOverhead multiplies the raw pixel memory estimate.
	MemoryOverhead float64
}

func (b *Base) Info() Info {
	return b.Meta
}

func (b *Base) IsSupported() bool {
	return true
}

// Validate returns the problems with s; an empty list means proceed.
func (b *Base) Validate(s Settings) []string {
	var errs []string
	if s.Width <= 0 || s.Height <= 0 {
		errs = append(errs, fmt.Sprintf("width and height must be positive, got %dx%d", s.Width, s.Height))
	}
	if s.FPS <= 0 || s.FPS > 120 {
		errs = append(errs, fmt.Sprintf("fps must be in (0, 120], got %d", s.FPS))
	}
	if s.Duration <= 0 {
		errs = append(errs, fmt.Sprintf("duration must be positive, got %.0fms", s.Duration))
	}
	if b.Meta.MaxDuration > 0 && s.Duration > b.Meta.MaxDuration {
		errs = append(errs, fmt.Sprintf("%s supports at most %.0fms, got %.0fms", b.Meta.Name, b.Meta.MaxDuration, s.Duration))
	}
	if s.Transparent && !b.Meta.SupportsTransparency {
		errs = append(errs, fmt.Sprintf("%s does not support transparency", b.Meta.Name))
	}
	if s.FPS > 0 && s.Duration > 0 {
		frames := s.FrameCount()
		if frames > 1 && !b.Meta.SupportsAnimation {
			errs = append(errs, fmt.Sprintf("%s exports a single frame, duration %.0fms spans %d frames", b.Meta.Name, s.Duration, frames))
		}
		if b.Meta.MaxFrames > 0 && frames > b.Meta.MaxFrames {
			errs = append(errs, fmt.Sprintf("%s is limited to %d frames, %.0fms at %dfps needs %d", b.Meta.Name, b.Meta.MaxFrames, s.Duration, s.FPS, frames))
		}
	}
	if s.Quality < 0 || s.Quality > 1 {
		errs = append(errs, fmt.Sprintf("quality must be in [0, 1], got %.2f", s.Quality))
	}
	if s.Bitrate < 0 {
		errs = append(errs, fmt.Sprintf("bitrate must not be negative, got %d", s.Bitrate))
	}
	return errs
}

// EstimateExportTime is frame count times the per-frame cost.
func (b *Base) EstimateExportTime(s Settings) time.Duration {
	cost := b.FrameCost
	if cost <= 0 {
		cost = 20 * time.Millisecond
	}
	return time.Duration(b.frames(s)) * cost
}

// MemoryRequirements is pixels × frames × 4 bytes × overhead.
func (b *Base) MemoryRequirements(s Settings) uint64 {
	overhead := b.MemoryOverhead
	if overhead <= 0 {
		overhead = 1.5
	}
	pixels := float64(s.Width) * float64(s.Height)
	return uint64(pixels * float64(b.frames(s)) * 4 * overhead)
}

func (b *Base) frames(s Settings) int {
	if !b.Meta.SupportsAnimation {
		return 1
	}
	return s.FrameCount()
}
