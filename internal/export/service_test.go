package export

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ivlev/animexport/internal/logging"
	"github.com/ivlev/animexport/internal/project"
)

type serviceFixture struct {
	svc   *Service
	reg   *Registry
	video *fakePlugin
	gif   *fakePlugin
	still *fakePlugin
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	reg := newTestRegistry(Options{})
	t.Cleanup(func() { closeRegistry(t, reg) })

	video := newFakePlugin("mp4", nil)
	video.Meta.Defaults = SettingsPatch{FPS: Ptr(30)}
	gif := newFakePlugin("gif", nil)
	gif.Meta.Defaults = SettingsPatch{FPS: Ptr(12)}
	gif.Meta.MaxFrames = 300
	still := newFakePlugin("png", nil)
	still.Meta.SupportsAnimation = false
	still.Meta.Defaults = SettingsPatch{Duration: Ptr(1.0)}

	reg.Register(video, 100)
	reg.Register(gif, 80)
	reg.Register(still, 70)

	return &serviceFixture{
		svc:   NewService(reg, DefaultCatalog(), nil, logging.Discard()),
		reg:   reg,
		video: video,
		gif:   gif,
		still: still,
	}
}

func demoProject() *project.Project {
	return &project.Project{Name: "demo", Width: 100, Height: 100}
}

func TestResolveSettings(t *testing.T) {
	f := newServiceFixture(t)

	tests := []struct {
		name      string
		preset    string
		overrides SettingsPatch
		want      func(t *testing.T, s Settings)
	}{
		{
			name: "defaults",
			want: func(t *testing.T, s Settings) {
				if s.Format != "mp4" || s.Width != 1920 || s.Height != 1080 || s.FPS != 30 || s.Duration != 5000 {
					t.Errorf("Unexpected defaults %+v", s)
				}
			},
		},
		{
			name:      "plugin defaults follow the format",
			overrides: SettingsPatch{Format: Ptr("gif")},
			want: func(t *testing.T, s Settings) {
				if s.Format != "gif" || s.FPS != 12 {
					t.Errorf("Expected gif at 12fps, got %s at %d", s.Format, s.FPS)
				}
			},
		},
		{
			name:   "preset ideal format and values",
			preset: "discord",
			want: func(t *testing.T, s Settings) {
				if s.Format != "gif" || s.Width != 480 || s.Height != 270 || s.FPS != 15 {
					t.Errorf("Expected discord gif 480x270@15, got %+v", s)
				}
				if s.PlatformPreset != "discord" {
					t.Errorf("Expected platform preset recorded, got %q", s.PlatformPreset)
				}
			},
		},
		{
			name:      "overrides win",
			preset:    "discord",
			overrides: SettingsPatch{Format: Ptr("mp4"), FPS: Ptr(10), Duration: Ptr(2000.0)},
			want: func(t *testing.T, s Settings) {
				if s.Format != "mp4" || s.FPS != 10 || s.Duration != 2000 || s.Width != 480 {
					t.Errorf("Expected overrides on top of discord, got %+v", s)
				}
			},
		},
		{
			name:      "still format gets single frame duration",
			overrides: SettingsPatch{Format: Ptr("png")},
			want: func(t *testing.T, s Settings) {
				if s.Duration != 1 || s.FrameCount() != 1 {
					t.Errorf("Expected one frame for png, got %.0fms", s.Duration)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := f.svc.ResolveSettings(tt.preset, tt.overrides)
			if err != nil {
				t.Fatalf("ResolveSettings failed: %v", err)
			}
			tt.want(t, s)
		})
	}

	if _, err := f.svc.ResolveSettings("myspace", SettingsPatch{}); !errors.Is(err, ErrUnknownPreset) {
		t.Errorf("Expected ErrUnknownPreset, got %v", err)
	}
}

func TestExportRejectsPresetViolation(t *testing.T) {
	defer leakChecks(t)()
	f := newServiceFixture(t)

	_, err := f.svc.Export(context.Background(), Request{
		Project:   demoProject(),
		PresetID:  "instagram-story",
		Overrides: SettingsPatch{Duration: Ptr(20000.0)},
	})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("Expected *ValidationError, got %v", err)
	}
	if f.video.calls.Load() != 0 {
		t.Error("Expected no plugin to run")
	}
	if n := len(f.reg.Jobs()); n != 0 {
		t.Errorf("Expected no job, got %d", n)
	}
}

func TestExportWithPreset(t *testing.T) {
	defer leakChecks(t)()
	f := newServiceFixture(t)

	var completed int
	ticket, err := f.svc.Export(context.Background(), Request{
		Project:    demoProject(),
		PresetID:   "discord",
		Overrides:  SettingsPatch{Duration: Ptr(1000.0)},
		OnComplete: func(*Result) { completed++ },
	})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := ticket.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if !res.Success {
		t.Fatalf("Expected success, got %+v", res)
	}
	if f.gif.calls.Load() != 1 {
		t.Error("Expected the gif plugin to run")
	}
	if res.Metadata["platformPreset"] != "discord" {
		t.Errorf("Expected platformPreset metadata, got %v", res.Metadata)
	}
	if res.Metadata["exceedsRecommendedSize"] != false {
		t.Errorf("Expected size within the discord limit, got %v", res.Metadata["exceedsRecommendedSize"])
	}
	if completed != 1 {
		t.Errorf("Expected OnComplete once, got %d", completed)
	}
	for range ticket.Progress() {
	}
	if ticket.Err() != nil {
		t.Errorf("Expected no error, got %v", ticket.Err())
	}
}

func TestExportContextCancels(t *testing.T) {
	defer leakChecks(t)()
	f := newServiceFixture(t)

	started := make(chan struct{})
	f.video.run = func(ctx context.Context, ectx *Context) (*Result, error) {
		close(started)
		<-ctx.Done()
		return Failed(CodeCancelled, "stopped"), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	ticket, err := f.svc.Export(ctx, Request{Project: demoProject()})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	<-started
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	res, err := ticket.Wait(waitCtx)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if res.Code != CodeCancelled {
		t.Errorf("Expected CANCELLED, got %+v", res)
	}
	if j, _ := f.svc.JobStatus(ticket.ID); j.Status != StatusCancelled {
		t.Errorf("Expected cancelled job, got %s", j.Status)
	}
}

func TestTicketFailure(t *testing.T) {
	defer leakChecks(t)()
	f := newServiceFixture(t)
	f.video.run = func(ctx context.Context, ectx *Context) (*Result, error) {
		return Failed(CodeEncoding, "muxer exploded"), nil
	}

	ticket, err := f.svc.Export(context.Background(), Request{Project: demoProject()})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := ticket.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if res.Success || res.Code != CodeEncoding || res.Error != "muxer exploded" {
		t.Errorf("Unexpected result %+v", res)
	}
	var ee *ExportError
	if !errors.As(ticket.Err(), &ee) || ee.Code != CodeEncoding {
		t.Errorf("Expected ExportError ENCODING_ERROR, got %v", ticket.Err())
	}
}

func TestQuickExport(t *testing.T) {
	defer leakChecks(t)()
	f := newServiceFixture(t)

	if _, err := f.svc.QuickExport(context.Background(), demoProject(), nil, "friendster"); !errors.Is(err, ErrUnknownPreset) {
		t.Errorf("Expected ErrUnknownPreset, got %v", err)
	}

	ticket, err := f.svc.QuickExport(context.Background(), demoProject(), nil, "youtube")
	if err != nil {
		t.Fatalf("QuickExport failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if res, err := ticket.Wait(ctx); err != nil || !res.Success {
		t.Fatalf("Expected success, got %+v %v", res, err)
	}
	j, _ := f.svc.JobStatus(ticket.ID)
	if j.Settings.FPS != 60 || j.Settings.PlatformPreset != "youtube" {
		t.Errorf("Expected youtube settings, got %+v", j.Settings)
	}
}

func TestBatchExport(t *testing.T) {
	defer leakChecks(t)()
	f := newServiceFixture(t)

	results := f.svc.BatchExport(context.Background(), demoProject(), nil,
		[]string{"mp4", "png", "flv"}, SettingsPatch{Width: Ptr(320), Height: Ptr(240)})

	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	if !results["mp4"].Success || !results["png"].Success {
		t.Errorf("Expected mp4 and png to succeed, got %+v %+v", results["mp4"], results["png"])
	}
	if results["flv"].Code != CodePluginNotFound {
		t.Errorf("Expected PLUGIN_NOT_FOUND for flv, got %+v", results["flv"])
	}

	bad := f.svc.BatchExport(context.Background(), demoProject(), nil,
		[]string{"gif"}, SettingsPatch{Duration: Ptr(30000.0)})
	if bad["gif"].Code != CodeValidation {
		t.Errorf("Expected VALIDATION_ERROR for 360 gif frames, got %+v", bad["gif"])
	}

	mixed := f.svc.BatchExport(context.Background(), demoProject(), nil,
		[]string{"png", "gif"}, SettingsPatch{Duration: Ptr(3000.0), FPS: Ptr(10)})
	if !mixed["png"].Success || !mixed["gif"].Success {
		t.Fatalf("Expected a mixed batch to succeed, got png %+v gif %+v", mixed["png"], mixed["gif"])
	}
	for _, j := range f.reg.Jobs() {
		switch {
		case j.PluginID == "png" && j.Settings.Duration != 1:
			t.Errorf("Expected png to keep its single frame, got duration %v", j.Settings.Duration)
		case j.PluginID == "gif" && j.Status == StatusCompleted && j.Settings.Duration == 3000 && j.Settings.FPS != 10:
			t.Errorf("Expected gif to take the fps override, got %d", j.Settings.FPS)
		}
	}
}

func TestPreflight(t *testing.T) {
	f := newServiceFixture(t)

	s := DefaultSettings()
	report, err := f.svc.Preflight(context.Background(), s)
	if err != nil {
		t.Fatalf("Preflight failed: %v", err)
	}
	if report.Frames != 150 || len(report.Problems) != 0 {
		t.Errorf("Expected 150 frames and no problems, got %+v", report)
	}
	if report.MemoryRequired == 0 || report.EstimatedTime <= 0 {
		t.Errorf("Expected non-zero estimates, got %+v", report)
	}

	s.FPS = 0
	report, err = f.svc.Preflight(context.Background(), s)
	if err != nil {
		t.Fatalf("Preflight failed: %v", err)
	}
	if len(report.Problems) == 0 {
		t.Error("Expected problems for fps 0")
	}

	s = DefaultSettings()
	s.Format = "nope"
	if _, err := f.svc.Preflight(context.Background(), s); !errors.Is(err, ErrPluginNotFound) {
		t.Errorf("Expected ErrPluginNotFound, got %v", err)
	}
}

func TestSaveResult(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	res := Succeeded([]byte("data"), "demo.png", "image/png", nil)

	path, err := SaveResult(res, dir)
	if err != nil {
		t.Fatalf("SaveResult failed: %v", err)
	}
	if path != filepath.Join(dir, "demo.png") || res.Path != path {
		t.Errorf("Unexpected path %q (result path %q)", path, res.Path)
	}
	got, err := os.ReadFile(path)
	if err != nil || string(got) != "data" {
		t.Errorf("Expected saved payload, got %q %v", got, err)
	}

	if _, err := SaveResult(Failed(CodeRender, "x"), dir); err == nil {
		t.Error("Expected error saving a failed result")
	}
}

func TestFilename(t *testing.T) {
	now := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)
	tests := []struct {
		name, ext, want string
	}{
		{"My Project", "mp4", "My_Project_2024-03-05_14-07-09.mp4"},
		{"", "gif", "animation_2024-03-05_14-07-09.gif"},
		{"a/b:c", "png", "abc_2024-03-05_14-07-09.png"},
	}
	for _, tt := range tests {
		if got := Filename(tt.name, tt.ext, now); got != tt.want {
			t.Errorf("Filename(%q): expected %q, got %q", tt.name, tt.want, got)
		}
	}
}

func TestFrameCount(t *testing.T) {
	tests := []struct {
		duration float64
		fps      int
		want     int
	}{
		{5000, 12, 60},
		{30000, 12, 360},
		{1, 30, 1},
		{1000, 30, 30},
		{1001, 30, 31},
		{0, 30, 0},
	}
	for _, tt := range tests {
		s := Settings{Duration: tt.duration, FPS: tt.fps}
		if got := s.FrameCount(); got != tt.want {
			t.Errorf("%.0fms at %dfps: expected %d frames, got %d", tt.duration, tt.fps, tt.want, got)
		}
	}
}
