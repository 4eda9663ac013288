package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ivlev/animexport/internal/logging"
	"github.com/ivlev/animexport/internal/project"
	"github.com/ivlev/animexport/internal/renderer"
	"github.com/ivlev/animexport/internal/system"
)

// QuickPlatforms maps the quick-export platform names to preset ids.
var QuickPlatforms = map[string]string{
	"instagram": "instagram-post",
	"tiktok":    "tiktok",
	"youtube":   "youtube",
	"twitter":   "twitter",
	"discord":   "discord",
}

// Service composes the registry and the preset catalog into the export
// entry points used by the CLI and the HTTP API.
type Service struct {
	registry *Registry
	catalog  *Catalog
	renderer renderer.Renderer
	logger   *slog.Logger
}

func NewService(reg *Registry, catalog *Catalog, r renderer.Renderer, logger *slog.Logger) *Service {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if r == nil {
		r = renderer.NewShapeRenderer()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		registry: reg,
		catalog:  catalog,
		renderer: r,
		logger:   logging.WithComponent(logger, "service"),
	}
}

func (s *Service) Registry() *Registry {
	return s.registry
}

func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// Request is one export call.
type Request struct {
	Project *project.Project
	// Surfaces defaults to a provider sized like the project.
	Surfaces renderer.Provider
	// Renderer defaults to the service renderer.
	Renderer  renderer.Renderer
	PresetID  string
	Overrides SettingsPatch

	OnProgress func(Progress)
	OnComplete func(*Result)
	OnError    func(error)
}

// ResolveSettings merges built-in defaults, the target plugin's defaults,
// the preset (with its ideal format) and the overrides, in that order.
func (s *Service) ResolveSettings(presetID string, overrides SettingsPatch) (Settings, error) {
	settings := DefaultSettings()

	var preset *Preset
	if presetID != "" {
		p, ok := s.catalog.Get(presetID)
		if !ok {
			return Settings{}, fmt.Errorf("%w: %s", ErrUnknownPreset, presetID)
		}
		preset = &p
	}

	// The format decides which plugin defaults apply.
	format := settings.Format
	if preset != nil && preset.Recommendations.IdealFormat != "" {
		format = preset.Recommendations.IdealFormat
	}
	if overrides.Format != nil {
		format = *overrides.Format
	}
	if p, err := s.registry.Plugin(format); err == nil {
		settings = p.Info().Defaults.Apply(settings)
	}

	if preset != nil {
		settings = preset.Settings.Apply(settings)
		settings.PlatformPreset = preset.ID
	}
	settings = overrides.Apply(settings)
	settings.Format = format
	return settings, nil
}

// Export resolves settings, checks the preset constraints and queues the
// job. A preset violation returns a *ValidationError before any plugin runs.
// Cancelling ctx cancels the job.
func (s *Service) Export(ctx context.Context, req Request) (*Ticket, error) {
	if req.Project == nil {
		return nil, errors.New("project is required")
	}
	settings, err := s.ResolveSettings(req.PresetID, req.Overrides)
	if err != nil {
		return nil, err
	}

	var preset Preset
	if req.PresetID != "" {
		if vr := ValidatePlatformSettings(s.catalog, req.PresetID, settings); !vr.Valid {
			return nil, &ValidationError{Errors: vr.Errors}
		}
		preset, _ = s.catalog.Get(req.PresetID)
	}

	surfaces := req.Surfaces
	if surfaces == nil {
		surfaces = renderer.NewProvider(req.Project.Width, req.Project.Height)
	}
	r := req.Renderer
	if r == nil {
		r = s.renderer
	}

	t := newTicket()
	ectx := &Context{
		Project:  req.Project,
		Surfaces: surfaces,
		Renderer: r,
		Settings: settings,
		Logger:   s.logger,
		OnProgress: func(p Progress) {
			t.progress(p)
			if req.OnProgress != nil {
				req.OnProgress(p)
			}
		},
		OnComplete: func(res *Result) {
			if req.OnComplete != nil {
				req.OnComplete(res)
			}
			t.complete(res)
		},
		OnError: func(err error) {
			if req.OnError != nil {
				req.OnError(err)
			}
			t.fail(err)
		},
		Annotate: func(res *Result) {
			annotate(res, settings, preset)
		},
	}

	id, err := s.registry.CreateJob(settings.Format, ectx)
	if err != nil {
		return nil, err
	}
	t.ID = id
	s.logger.Info("export queued", "job_id", id, "format", settings.Format, "preset", req.PresetID,
		"size", fmt.Sprintf("%dx%d", settings.Width, settings.Height))

	stop := context.AfterFunc(ctx, func() { s.registry.CancelJob(id) })
	go func() {
		<-t.Done()
		stop()
	}()
	return t, nil
}

func annotate(res *Result, settings Settings, preset Preset) {
	if res.Metadata == nil {
		res.Metadata = make(map[string]any)
	}
	if settings.PlatformPreset != "" {
		res.Metadata["platformPreset"] = settings.PlatformPreset
	}
	if limit := preset.Recommendations.MaxFileSize; limit > 0 {
		res.Metadata["exceedsRecommendedSize"] = int64(res.Size) > limit
	}
}

// QuickExport exports with the preset mapped to a platform name.
func (s *Service) QuickExport(ctx context.Context, p *project.Project, surfaces renderer.Provider, platform string) (*Ticket, error) {
	presetID, ok := QuickPlatforms[platform]
	if !ok {
		return nil, fmt.Errorf("%w: platform %q", ErrUnknownPreset, platform)
	}
	return s.Export(ctx, Request{Project: p, Surfaces: surfaces, PresetID: presetID})
}

// BatchExport runs the project through each format one after another and
// returns every outcome keyed by format. A failing format does not stop
// the batch. Still formats ignore the duration and fps overrides so one
// patch can drive a mixed batch.
func (s *Service) BatchExport(ctx context.Context, p *project.Project, surfaces renderer.Provider, formats []string, overrides SettingsPatch) map[string]*Result {
	results := make(map[string]*Result, len(formats))
	for _, format := range formats {
		if err := ctx.Err(); err != nil {
			results[format] = Failed(CodeCancelled, "batch cancelled before %s started", format)
			continue
		}

		patch := overrides
		patch.Format = Ptr(format)
		if p, err := s.registry.Plugin(format); err == nil && !p.Info().SupportsAnimation {
			patch.Duration, patch.FPS = nil, nil
		}
		t, err := s.Export(ctx, Request{Project: p, Surfaces: surfaces, Overrides: patch})
		if err != nil {
			results[format] = resultFromError(err)
			continue
		}
		res, err := t.Wait(ctx)
		if err != nil {
			s.registry.CancelJob(t.ID)
			res = Failed(CodeCancelled, "%v", err)
		}
		results[format] = res
	}
	return results
}

func resultFromError(err error) *Result {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return Failed(CodeValidation, "%s", ve.Error())
	case errors.Is(err, ErrPluginNotFound):
		return Failed(CodePluginNotFound, "%v", err)
	case errors.Is(err, ErrPluginDisabled):
		return Failed(CodeUnsupported, "%v", err)
	}
	return Failed(CodeInternal, "%v", err)
}

// JobStatus returns the current snapshot of a job.
func (s *Service) JobStatus(id string) (Job, error) {
	return s.registry.GetJob(id)
}

func (s *Service) CancelExport(id string) error {
	return s.registry.CancelJob(id)
}

func (s *Service) ClearCompleted() int {
	return s.registry.ClearCompletedJobs()
}

func (s *Service) Presets() []Preset {
	return s.catalog.List()
}

func (s *Service) Plugins() []PluginStatus {
	return s.registry.Describe()
}

// PreflightReport holds the cheap estimates shown before an export starts.
type PreflightReport struct {
	Settings        Settings      `json:"settings"`
	Frames          int           `json:"frames"`
	EstimatedTime   time.Duration `json:"estimatedTime"`
	MemoryRequired  uint64        `json:"memoryRequired"`
	MemoryAvailable uint64        `json:"memoryAvailable,omitempty"`
	Problems        []string      `json:"problems,omitempty"`
	Warnings        []string      `json:"warnings,omitempty"`
}

// Preflight validates settings and estimates the cost of the export.
func (s *Service) Preflight(ctx context.Context, settings Settings) (PreflightReport, error) {
	p, err := s.registry.Plugin(settings.Format)
	if err != nil {
		return PreflightReport{}, err
	}

	report := PreflightReport{
		Settings:       settings,
		Frames:         settings.FrameCount(),
		EstimatedTime:  p.EstimateExportTime(settings),
		MemoryRequired: p.MemoryRequirements(settings),
		Problems:       p.Validate(settings),
	}
	if !p.Info().SupportsAnimation {
		report.Frames = 1
	}
	if settings.PlatformPreset != "" {
		if vr := ValidatePlatformSettings(s.catalog, settings.PlatformPreset, settings); !vr.Valid {
			report.Problems = append(report.Problems, vr.Errors...)
		}
	}

	avail, err := system.AvailableMemory(ctx)
	if err != nil {
		s.logger.Warn("memory probe failed", "error", err)
		return report, nil
	}
	report.MemoryAvailable = avail
	if report.MemoryRequired > avail {
		report.Warnings = append(report.Warnings, fmt.Sprintf("export needs about %d MiB but only %d MiB are available",
			report.MemoryRequired>>20, avail>>20))
	}
	return report, nil
}

// SaveResult writes the payload into dir under its generated filename and
// records the path on the result.
func SaveResult(res *Result, dir string) (string, error) {
	if res == nil || !res.Success {
		return "", errors.New("nothing to save from a failed export")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, res.Filename)
	if err := os.WriteFile(path, res.Data, 0644); err != nil {
		return "", err
	}
	res.Path = path
	return path, nil
}

// Ticket tracks one queued export.
type Ticket struct {
	ID string

	mu     sync.Mutex
	events chan Progress
	done   chan struct{}
	closed bool
	result *Result
	err    error
}

func newTicket() *Ticket {
	return &Ticket{
		events: make(chan Progress, 32),
		done:   make(chan struct{}),
	}
}

// Progress streams progress events. Events are dropped when the reader
// falls behind; the channel is closed after the terminal event.
func (t *Ticket) Progress() <-chan Progress {
	return t.events
}

// Done is closed once the export reached a terminal state.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the export finishes or ctx ends. The Result describes
// completed, failed and cancelled exports alike; the error is only set
// when ctx ends first.
func (t *Ticket) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-t.done:
		return t.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Err returns the failure reported for a failed export.
func (t *Ticket) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Ticket) progress(p Progress) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.events <- p:
	default:
	}
}

func (t *Ticket) complete(res *Result) {
	t.terminate(res, nil)
}

func (t *Ticket) fail(err error) {
	var ee *ExportError
	res := Failed(CodeInternal, "%v", err)
	if errors.As(err, &ee) {
		res = Failed(ee.Code, "%s", ee.Message)
	}
	t.terminate(res, err)
}

func (t *Ticket) terminate(res *Result, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.result = res
	t.err = err
	close(t.events)
	close(t.done)
}
