package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ivlev/animexport/internal/config"
	"github.com/ivlev/animexport/internal/export"
	"github.com/ivlev/animexport/internal/logging"
)

// heldPlugin runs until its context ends and records that it stopped.
type heldPlugin struct {
	export.Base
	started chan struct{}
	stopped chan struct{}
}

func (h *heldPlugin) Export(ctx context.Context, ectx *export.Context) (*export.Result, error) {
	close(h.started)
	<-ctx.Done()
	close(h.stopped)
	return export.Failed(export.CodeCancelled, "stopped"), nil
}

func newHeldService(t *testing.T) (*export.Service, *export.Registry, *heldPlugin) {
	t.Helper()
	reg := export.NewRegistry(export.Options{MaxConcurrentJobs: 1, PollInterval: 5 * time.Millisecond, Logger: logging.Discard()})
	held := &heldPlugin{
		Base: export.Base{Meta: export.Info{
			ID: "mp4", Name: "Held", Extension: "mp4", SupportsAnimation: true, Category: export.CategoryVideo,
		}},
		started: make(chan struct{}),
		stopped: make(chan struct{}),
	}
	reg.Register(held, 100)
	t.Cleanup(func() { closeRegistry(reg, 5*time.Second) })
	return export.NewService(reg, export.DefaultCatalog(), nil, logging.Discard()), reg, held
}

func TestCloseRegistryStopsRunningExports(t *testing.T) {
	_, reg, held := newHeldService(t)

	id, err := reg.CreateJob("mp4", &export.Context{Settings: export.DefaultSettings(), Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	select {
	case <-held.started:
	case <-time.After(5 * time.Second):
		t.Fatal("export did not start")
	}

	if err := closeRegistry(reg, 5*time.Second); err != nil {
		t.Fatalf("closeRegistry failed: %v", err)
	}
	select {
	case <-held.stopped:
	default:
		t.Error("Expected the running export to be stopped before closeRegistry returned")
	}
	if job, _ := reg.GetJob(id); job.Status != export.StatusCancelled {
		t.Errorf("Expected cancelled job, got %s", job.Status)
	}
}

func TestRunExitCodes(t *testing.T) {
	svc, _, _ := newHeldService(t)
	cfg := config.Default()
	cfg.InputDir = t.TempDir()

	tests := []struct {
		name string
		opts runOptions
		want int
	}{
		{"list", runOptions{list: true}, 0},
		{"unknown platform", runOptions{platform: "vine"}, 1},
		{"unknown preset preflight", runOptions{preset: "vine", preflight: true}, 1},
		{"no project in input dir", runOptions{}, 1},
		{"missing project file", runOptions{input: filepath.Join(cfg.InputDir, "none.yaml")}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := run(context.Background(), cfg, svc, logging.Discard(), tt.opts); got != tt.want {
				t.Errorf("Expected exit code %d, got %d", tt.want, got)
			}
		})
	}
}

func TestBuildPatchOnlySetFlags(t *testing.T) {
	format, bg, comp := "gif", "", ""
	width, height, fps, bitrate := 640, 0, 0, 0
	duration, quality := 2000.0, 0.0
	transparent, loop := false, true

	patch := buildPatch(map[string]bool{"format": true, "width": true, "duration": true}, patchFlags{
		format: &format, background: &bg, compression: &comp,
		width: &width, height: &height, fps: &fps, bitrate: &bitrate,
		duration: &duration, quality: &quality,
		transparent: &transparent, loop: &loop,
	})

	if patch.Format == nil || *patch.Format != "gif" || patch.Width == nil || *patch.Width != 640 || patch.Duration == nil {
		t.Errorf("Expected set flags in patch, got %+v", patch)
	}
	if patch.Height != nil || patch.FPS != nil || patch.Loop != nil || patch.Transparent != nil {
		t.Errorf("Expected unset flags to stay nil, got %+v", patch)
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()

	res := export.Succeeded([]byte("x"), "demo_2024.png", "image/png", nil)
	path, err := save(res, filepath.Join(dir, "custom.png"), dir)
	if err != nil || path != filepath.Join(dir, "custom.png") {
		t.Errorf("Expected explicit file path, got %q %v", path, err)
	}

	res = export.Succeeded([]byte("y"), "demo_2024.gif", "image/gif", nil)
	path, err = save(res, "", dir)
	if err != nil || path != filepath.Join(dir, "demo_2024.gif") {
		t.Errorf("Expected default dir, got %q %v", path, err)
	}
	if data, _ := os.ReadFile(path); string(data) != "y" {
		t.Errorf("Unexpected content %q", data)
	}
}

func TestProgressLine(t *testing.T) {
	line := progressLine(export.Progress{
		Progress: 0.5, Stage: export.StageRendering, CurrentFrame: 30, TotalFrames: 60, Remaining: 3 * time.Second,
	})
	for _, want := range []string{"rendering", " 50%", "30/60", "~3s", strings.Repeat("#", 15)} {
		if !strings.Contains(line, want) {
			t.Errorf("Expected %q in %q", want, line)
		}
	}
}

func TestHumanSize(t *testing.T) {
	tests := map[int]string{
		512:             "512 B",
		2048:            "2.0 KiB",
		5 * 1024 * 1024: "5.0 MiB",
	}
	for n, want := range tests {
		if got := humanSize(n); got != want {
			t.Errorf("humanSize(%d): expected %q, got %q", n, want, got)
		}
	}
}
