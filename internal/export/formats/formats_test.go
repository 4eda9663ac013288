package formats

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/gif"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/wader/osleaktest"

	"github.com/ivlev/animexport/internal/export"
	"github.com/ivlev/animexport/internal/logging"
	"github.com/ivlev/animexport/internal/project"
	"github.com/ivlev/animexport/internal/renderer"
	"github.com/ivlev/animexport/internal/timeline"
	"github.com/ivlev/animexport/internal/video"
)

func leakChecks(t *testing.T) func() {
	leakFn := leaktest.Check(t)
	osLeakFn := osleaktest.Check(t)
	return func() {
		leakFn()
		osLeakFn()
	}
}

func dotProject() *project.Project {
	return &project.Project{
		Name:            "dot",
		Width:           100,
		Height:          100,
		BackgroundColor: "#000000",
		Layers: []project.Layer{{
			Visible: true,
			Opacity: 1,
			Shapes: []project.Shape{{
				Type:       project.ShapeCircle,
				Position:   timeline.Vec2{X: 50, Y: 50},
				Properties: map[string]any{"radius": 20.0, "fill": "#ff0000"},
				Animations: []project.Animation{{
					Property: "position.x",
					Keyframes: []timeline.Keyframe{
						{Time: 0, Value: 30.0},
						{Time: 1000, Value: 70.0},
					},
				}},
			}},
		}},
	}
}

func exportContext(s export.Settings) *export.Context {
	p := dotProject()
	return &export.Context{
		Project:  p,
		Surfaces: renderer.NewProvider(p.Width, p.Height),
		Renderer: renderer.NewShapeRenderer(),
		Settings: s,
		Logger:   logging.Discard(),
	}
}

func settingsFor(p export.Plugin, patch export.SettingsPatch) export.Settings {
	s := p.Info().Defaults.Apply(export.DefaultSettings())
	s.Format = p.Info().ID
	return patch.Apply(s)
}

type fakeCapture struct {
	mu       sync.Mutex
	frames   int
	stopped  bool
	finished bool
	writeErr error
	onWrite  func(n int)
}

func (c *fakeCapture) WriteFrame(ctx context.Context, img *image.RGBA) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if c.writeErr != nil {
		c.mu.Unlock()
		return c.writeErr
	}
	c.frames++
	n := c.frames
	c.mu.Unlock()
	if c.onWrite != nil {
		c.onWrite(n)
	}
	return nil
}

func (c *fakeCapture) Finish(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return nil, video.ErrStopped
	}
	c.finished = true
	return []byte("video-bytes"), nil
}

func (c *fakeCapture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	return nil
}

type fakeOpener struct {
	codecs  map[string]bool
	capture *fakeCapture
	config  video.Config
}

func (o *fakeOpener) Supports(codec string) bool {
	return o.codecs[codec]
}

func (o *fakeOpener) Open(ctx context.Context, cfg video.Config) (video.Capture, error) {
	o.config = cfg
	return o.capture, nil
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		codecs:  map[string]bool{"h264": true, "vp9": true},
		capture: &fakeCapture{},
	}
}

func TestPNGStill(t *testing.T) {
	p := NewPNG()
	s := settingsFor(p, export.SettingsPatch{Width: export.Ptr(100), Height: export.Ptr(100)})
	if errs := p.Validate(s); len(errs) != 0 {
		t.Fatalf("Expected valid settings, got %v", errs)
	}

	ectx := exportContext(s)
	ectx.Project.CurrentTime = 500
	res, err := p.Export(context.Background(), ectx)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if !res.Success {
		t.Fatalf("Expected success, got %+v", res)
	}
	if res.Metadata["width"] != 100 || res.Metadata["height"] != 100 {
		t.Errorf("Expected 100x100 metadata, got %v", res.Metadata)
	}
	if !strings.HasPrefix(res.Filename, "dot_") || !strings.HasSuffix(res.Filename, ".png") || res.MimeType != "image/png" {
		t.Errorf("Unexpected file %q (%s)", res.Filename, res.MimeType)
	}

	img, err := png.Decode(bytes.NewReader(res.Data))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	// at 500ms the circle is centred
	if r, _, _, _ := img.At(50, 50).RGBA(); r>>8 != 255 {
		t.Errorf("Expected red circle at the centre, got %v", img.At(50, 50))
	}
}

func TestPNGValidation(t *testing.T) {
	p := NewPNG()

	s := settingsFor(p, export.SettingsPatch{Compression: export.Ptr("maximum")})
	if errs := p.Validate(s); len(errs) != 1 || !strings.Contains(errs[0], "compression") {
		t.Errorf("Expected compression error, got %v", errs)
	}

	s = settingsFor(p, export.SettingsPatch{Duration: export.Ptr(1000.0)})
	if errs := p.Validate(s); len(errs) == 0 {
		t.Error("Expected a still format to reject multiple frames")
	}
}

func TestPNGCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewPNG()
	res, _ := p.Export(ctx, exportContext(settingsFor(p, export.SettingsPatch{})))
	if res.Code != export.CodeCancelled {
		t.Errorf("Expected CANCELLED, got %+v", res)
	}
}

func TestGIFFrames(t *testing.T) {
	defer leakChecks(t)()

	g := NewGIF(2)
	s := settingsFor(g, export.SettingsPatch{
		Width:    export.Ptr(40),
		Height:   export.Ptr(40),
		Duration: export.Ptr(5000.0),
	})
	if s.FPS != 12 || s.FrameCount() != 60 {
		t.Fatalf("Expected 60 frames at 12fps, got %d at %d", s.FrameCount(), s.FPS)
	}
	if errs := g.Validate(s); len(errs) != 0 {
		t.Fatalf("Expected valid settings, got %v", errs)
	}

	ectx := exportContext(s)
	var (
		mu   sync.Mutex
		last float64
		bad  bool
	)
	ectx.OnProgress = func(p export.Progress) {
		mu.Lock()
		defer mu.Unlock()
		if p.Progress < last {
			bad = true
		}
		last = p.Progress
	}

	res, err := g.Export(context.Background(), ectx)
	if err != nil || !res.Success {
		t.Fatalf("Export failed: %+v %v", res, err)
	}
	anim, err := gif.DecodeAll(bytes.NewReader(res.Data))
	if err != nil {
		t.Fatalf("DecodeAll failed: %v", err)
	}
	if len(anim.Image) != 60 {
		t.Errorf("Expected 60 frames, got %d", len(anim.Image))
	}
	if anim.Delay[0] != 8 || anim.LoopCount != 0 {
		t.Errorf("Expected delay 8 and infinite loop, got %d / %d", anim.Delay[0], anim.LoopCount)
	}
	if res.Metadata["frames"] != 60 {
		t.Errorf("Expected frames metadata 60, got %v", res.Metadata["frames"])
	}
	mu.Lock()
	defer mu.Unlock()
	if bad || last != 1 {
		t.Errorf("Expected monotonic progress ending at 1, last %v", last)
	}
}

func TestGIFRejectsTooManyFrames(t *testing.T) {
	g := NewGIF(1)
	s := settingsFor(g, export.SettingsPatch{Duration: export.Ptr(30000.0)})
	errs := g.Validate(s)
	if len(errs) != 1 || !strings.Contains(errs[0], "360") {
		t.Errorf("Expected a 360 frame error, got %v", errs)
	}
}

func TestGIFTransparentNoLoop(t *testing.T) {
	g := NewGIF(1)
	s := settingsFor(g, export.SettingsPatch{
		Width:       export.Ptr(20),
		Height:      export.Ptr(20),
		Duration:    export.Ptr(250.0),
		Transparent: export.Ptr(true),
		Loop:        export.Ptr(false),
	})
	res, err := g.Export(context.Background(), exportContext(s))
	if err != nil || !res.Success {
		t.Fatalf("Export failed: %+v %v", res, err)
	}
	anim, err := gif.DecodeAll(bytes.NewReader(res.Data))
	if err != nil {
		t.Fatalf("DecodeAll failed: %v", err)
	}
	if anim.LoopCount != -1 {
		t.Errorf("Expected play-once loop count -1, got %d", anim.LoopCount)
	}
	if _, _, _, a := anim.Image[0].At(0, 0).RGBA(); a != 0 {
		t.Errorf("Expected transparent corner, got alpha %d", a)
	}
}

func TestGIFCancelled(t *testing.T) {
	defer leakChecks(t)()

	ctx, cancel := context.WithCancel(context.Background())
	g := NewGIF(2)
	s := settingsFor(g, export.SettingsPatch{Width: export.Ptr(20), Height: export.Ptr(20)})
	ectx := exportContext(s)
	ectx.OnProgress = func(p export.Progress) {
		if p.CurrentFrame == 3 {
			cancel()
		}
	}
	res, _ := g.Export(ctx, ectx)
	if res.Code != export.CodeCancelled {
		t.Errorf("Expected CANCELLED, got %+v", res)
	}
}

func TestVideoStreamsEveryFrame(t *testing.T) {
	defer leakChecks(t)()

	opener := newFakeOpener()
	v := NewMP4(opener, false)
	s := settingsFor(v, export.SettingsPatch{
		Width:    export.Ptr(64),
		Height:   export.Ptr(48),
		Duration: export.Ptr(1000.0),
		Quality:  export.Ptr(0.5),
	})

	res, err := v.Export(context.Background(), exportContext(s))
	if err != nil || !res.Success {
		t.Fatalf("Export failed: %+v %v", res, err)
	}
	if string(res.Data) != "video-bytes" || res.MimeType != "video/mp4" {
		t.Errorf("Unexpected payload %q (%s)", res.Data, res.MimeType)
	}
	if opener.capture.frames != 30 {
		t.Errorf("Expected 30 frames written, got %d", opener.capture.frames)
	}
	if !opener.capture.finished || !opener.capture.stopped {
		t.Error("Expected capture finished and released")
	}
	want := video.Config{Width: 64, Height: 48, FPS: 30, Codec: "h264", Container: "mp4", Quality: 0.5}
	if opener.config != want {
		t.Errorf("Expected config %+v, got %+v", want, opener.config)
	}
	if res.Metadata["codec"] != "h264" || res.Metadata["duplicatedFrames"] != 0 {
		t.Errorf("Unexpected metadata %v", res.Metadata)
	}
}

func TestVideoCancelStopsStream(t *testing.T) {
	defer leakChecks(t)()

	opener := newFakeOpener()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	opener.capture.onWrite = func(n int) {
		if n == 5 {
			cancel()
		}
	}

	v := NewWebM(opener, false)
	s := settingsFor(v, export.SettingsPatch{Width: export.Ptr(32), Height: export.Ptr(32), Duration: export.Ptr(2000.0)})
	res, err := v.Export(ctx, exportContext(s))
	if err != nil {
		t.Fatalf("Export returned error: %v", err)
	}
	if res.Code != export.CodeCancelled {
		t.Errorf("Expected CANCELLED, got %+v", res)
	}
	if !opener.capture.stopped || opener.capture.finished {
		t.Errorf("Expected stream stopped without finishing, got stopped=%v finished=%v",
			opener.capture.stopped, opener.capture.finished)
	}
}

func TestVideoRealtimePacing(t *testing.T) {
	defer leakChecks(t)()

	opener := newFakeOpener()
	v := NewMP4(opener, true)
	s := settingsFor(v, export.SettingsPatch{
		Width:    export.Ptr(16),
		Height:   export.Ptr(16),
		FPS:      export.Ptr(50),
		Duration: export.Ptr(200.0),
	})

	start := time.Now()
	res, _ := v.Export(context.Background(), exportContext(s))
	if !res.Success {
		t.Fatalf("Expected success, got %+v", res)
	}
	if opener.capture.frames != 10 {
		t.Errorf("Expected exactly 10 frames, got %d", opener.capture.frames)
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("Expected wall-clock pacing, finished in %v", elapsed)
	}
}

func TestVideoWriteFailure(t *testing.T) {
	opener := newFakeOpener()
	opener.capture.writeErr = errors.New("broken pipe")
	v := NewMP4(opener, false)

	res, _ := v.Export(context.Background(), exportContext(settingsFor(v, export.SettingsPatch{
		Width: export.Ptr(16), Height: export.Ptr(16), Duration: export.Ptr(100.0),
	})))
	if res.Code != export.CodeRecording || !strings.Contains(res.Error, "broken pipe") {
		t.Errorf("Expected RECORDING_ERROR, got %+v", res)
	}
	if !opener.capture.stopped {
		t.Error("Expected stream released after failure")
	}
}

func TestVideoValidation(t *testing.T) {
	mp4 := NewMP4(newFakeOpener(), false)
	webm := NewWebM(newFakeOpener(), false)

	s := settingsFor(mp4, export.SettingsPatch{Transparent: export.Ptr(true)})
	if errs := mp4.Validate(s); len(errs) != 1 || !strings.Contains(errs[0], "transparency") {
		t.Errorf("Expected mp4 to reject transparency, got %v", errs)
	}
	s = settingsFor(webm, export.SettingsPatch{Transparent: export.Ptr(true)})
	if errs := webm.Validate(s); len(errs) != 0 {
		t.Errorf("Expected webm to accept transparency, got %v", errs)
	}
	s = settingsFor(mp4, export.SettingsPatch{Duration: export.Ptr(600001.0)})
	if errs := mp4.Validate(s); len(errs) == 0 {
		t.Error("Expected mp4 to reject more than ten minutes")
	}
}

func TestRegisterDefaults(t *testing.T) {
	opener := newFakeOpener()
	opener.codecs = map[string]bool{"h264": true}

	reg := export.NewRegistry(export.Options{Logger: logging.Discard()})
	defer reg.Close(context.Background())
	RegisterDefaults(reg, Deps{Opener: opener, Workers: 1})

	var ids []string
	for _, st := range reg.Describe() {
		ids = append(ids, st.Info.ID)
		if st.Info.ID == "webm" && st.Enabled {
			t.Error("Expected webm disabled without vp9")
		}
	}
	if strings.Join(ids, ",") != "mp4,webm,gif,png" {
		t.Errorf("Unexpected plugin order %v", ids)
	}

	res, _ := NewWebM(opener, false).Export(context.Background(), exportContext(export.DefaultSettings()))
	if res.Code != export.CodeUnsupported {
		t.Errorf("Expected UNSUPPORTED_ENVIRONMENT, got %+v", res)
	}
}

func TestZeroFPSRejectedEverywhere(t *testing.T) {
	defer leakChecks(t)()

	reg := export.NewRegistry(export.Options{Logger: logging.Discard()})
	defer reg.Close(context.Background())
	RegisterDefaults(reg, Deps{Opener: newFakeOpener(), Workers: 1})

	for _, p := range reg.Plugins() {
		s := settingsFor(p, export.SettingsPatch{FPS: export.Ptr(0)})
		_, err := reg.CreateJob(p.Info().ID, exportContext(s))
		var ve *export.ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("%s: expected validation error, got %v", p.Info().ID, err)
		}
	}
	if n := len(reg.Jobs()); n != 0 {
		t.Errorf("Expected no jobs, got %d", n)
	}
}

func TestStillExportThroughRegistry(t *testing.T) {
	defer leakChecks(t)()

	reg := export.NewRegistry(export.Options{Logger: logging.Discard()})
	defer reg.Close(context.Background())
	RegisterDefaults(reg, Deps{Opener: newFakeOpener(), Workers: 1})

	p, _ := reg.Plugin("png")
	s := settingsFor(p, export.SettingsPatch{Width: export.Ptr(100), Height: export.Ptr(100)})
	id, err := reg.CreateJob("png", exportContext(s))
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	done, _ := reg.Done(id)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("png export did not finish")
	}

	j, _ := reg.GetJob(id)
	if j.Status != export.StatusCompleted || j.Result.Metadata["width"] != 100 {
		t.Errorf("Expected completed 100px still, got %s %+v", j.Status, j.Result)
	}
}
