package export

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrPluginNotFound    = errors.New("export plugin not found")
	ErrPluginDisabled    = errors.New("export plugin disabled")
	ErrJobNotFound       = errors.New("export job not found")
	ErrUnknownPreset     = errors.New("unknown platform preset")
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// ValidationError carries the list of problems found in a settings object.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "invalid export settings: " + strings.Join(e.Errors, "; ")
}

// Settings is the fully resolved configuration of one export.
type Settings struct {
	Format   string  `yaml:"format" json:"format"`
	Width    int     `yaml:"width" json:"width"`
	Height   int     `yaml:"height" json:"height"`
	FPS      int     `yaml:"fps" json:"fps"`
	Duration float64 `yaml:"duration" json:"duration"` // ms
	// Quality in [0,1]; 0 means encoder default.
	Quality float64 `yaml:"quality,omitempty" json:"quality,omitempty"`
	// Bitrate in bits per second; 0 means quality-driven.
	Bitrate        int    `yaml:"bitrate,omitempty" json:"bitrate,omitempty"`
	Background     string `yaml:"background,omitempty" json:"background,omitempty"`
	Compression    string `yaml:"compression,omitempty" json:"compression,omitempty"`
	Loop           bool   `yaml:"loop" json:"loop"`
	Transparent    bool   `yaml:"transparent" json:"transparent"`
	PlatformPreset string `yaml:"platformPreset,omitempty" json:"platformPreset,omitempty"`
}

// DefaultSettings are the built-in values every resolution starts from.
func DefaultSettings() Settings {
	return Settings{
		Format:   "mp4",
		Width:    1920,
		Height:   1080,
		FPS:      30,
		Duration: 5000,
		Quality:  0.9,
		Loop:     true,
	}
}

// FrameCount is the number of frames needed to cover the duration.
func (s Settings) FrameCount() int {
	if s.FPS <= 0 || s.Duration <= 0 {
		return 0
	}
	// The tolerance keeps 5000ms at 12fps at exactly 60 frames.
	exact := s.Duration / 1000 * float64(s.FPS)
	n := int(exact)
	if exact-float64(n) > 1e-9 {
		n++
	}
	return n
}

// SettingsPatch is a partial Settings; nil fields are left untouched.
type SettingsPatch struct {
	Format      *string  `yaml:"format,omitempty" json:"format,omitempty"`
	Width       *int     `yaml:"width,omitempty" json:"width,omitempty"`
	Height      *int     `yaml:"height,omitempty" json:"height,omitempty"`
	FPS         *int     `yaml:"fps,omitempty" json:"fps,omitempty"`
	Duration    *float64 `yaml:"duration,omitempty" json:"duration,omitempty"`
	Quality     *float64 `yaml:"quality,omitempty" json:"quality,omitempty"`
	Bitrate     *int     `yaml:"bitrate,omitempty" json:"bitrate,omitempty"`
	Background  *string  `yaml:"background,omitempty" json:"background,omitempty"`
	Compression *string  `yaml:"compression,omitempty" json:"compression,omitempty"`
	Loop        *bool    `yaml:"loop,omitempty" json:"loop,omitempty"`
	Transparent *bool    `yaml:"transparent,omitempty" json:"transparent,omitempty"`
}

// Apply returns s with every set field of p copied over it.
func (p SettingsPatch) Apply(s Settings) Settings {
	if p.Format != nil {
		s.Format = *p.Format
	}
	if p.Width != nil {
		s.Width = *p.Width
	}
	if p.Height != nil {
		s.Height = *p.Height
	}
	if p.FPS != nil {
		s.FPS = *p.FPS
	}
	if p.Duration != nil {
		s.Duration = *p.Duration
	}
	if p.Quality != nil {
		s.Quality = *p.Quality
	}
	if p.Bitrate != nil {
		s.Bitrate = *p.Bitrate
	}
	if p.Background != nil {
		s.Background = *p.Background
	}
	if p.Compression != nil {
		s.Compression = *p.Compression
	}
	if p.Loop != nil {
		s.Loop = *p.Loop
	}
	if p.Transparent != nil {
		s.Transparent = *p.Transparent
	}
	return s
}

// Ptr returns a pointer to v, for building patches.
func Ptr[T any](v T) *T {
	return &v
}

// Stage tags the phase an export is in.
type Stage string

const (
	StagePreparing  Stage = "preparing"
	StageRendering  Stage = "rendering"
	StageEncoding   Stage = "encoding"
	StageFinalizing Stage = "finalizing"
	StageComplete   Stage = "complete"
	StageError      Stage = "error"
)

// Progress is one progress report of a running export.
type Progress struct {
	Progress     float64       `json:"progress"`
	Stage        Stage         `json:"stage"`
	Message      string        `json:"message"`
	CurrentFrame int           `json:"currentFrame,omitempty"`
	TotalFrames  int           `json:"totalFrames,omitempty"`
	Elapsed      time.Duration `json:"elapsed,omitempty"`
	Remaining    time.Duration `json:"remaining,omitempty"`
}

// ErrorCode categorizes a failed Result.
type ErrorCode string

const (
	CodeValidation     ErrorCode = "VALIDATION_ERROR"
	CodeUnsupported    ErrorCode = "UNSUPPORTED_ENVIRONMENT"
	CodeRender         ErrorCode = "RENDER_ERROR"
	CodeRecording      ErrorCode = "RECORDING_ERROR"
	CodeEncoding       ErrorCode = "ENCODING_ERROR"
	CodeCancelled      ErrorCode = "CANCELLED"
	CodeTimeout        ErrorCode = "TIMEOUT"
	CodeInternal       ErrorCode = "INTERNAL_ERROR"
	CodePluginNotFound ErrorCode = "PLUGIN_NOT_FOUND"
)

// Result is the terminal outcome of an export.
type Result struct {
	Success  bool           `json:"success"`
	Data     []byte         `json:"-"`
	Path     string         `json:"path,omitempty"`
	Filename string         `json:"filename"`
	MimeType string         `json:"mimeType,omitempty"`
	Size     int            `json:"size"`
	Error    string         `json:"error,omitempty"`
	Code     ErrorCode      `json:"code,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Failed builds a non-success Result.
func Failed(code ErrorCode, format string, args ...any) *Result {
	return &Result{Code: code, Error: fmt.Sprintf(format, args...)}
}

// Succeeded wraps an encoded payload.
func Succeeded(data []byte, filename, mimeType string, metadata map[string]any) *Result {
	return &Result{
		Success:  true,
		Data:     data,
		Filename: filename,
		MimeType: mimeType,
		Size:     len(data),
		Metadata: metadata,
	}
}

// Filename builds the download name "<project>_<timestamp>.<ext>".
func Filename(projectName, ext string, now time.Time) string {
	name := strings.TrimSpace(projectName)
	if name == "" {
		name = "animation"
	}
	name = strings.Map(func(r rune) rune {
		switch {
		case r == ' ':
			return '_'
		case strings.ContainsRune(`/\:*?"<>|`, r):
			return -1
		}
		return r
	}, name)
	return fmt.Sprintf("%s_%s.%s", name, now.Format("2006-01-02_15-04-05"), ext)
}
