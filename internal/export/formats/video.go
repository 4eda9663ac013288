package formats

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/ivlev/animexport/internal/export"
	"github.com/ivlev/animexport/internal/renderer"
	"github.com/ivlev/animexport/internal/video"
)

// videoMaxDuration is ten minutes in milliseconds.
const videoMaxDuration = 600_000

// Video streams frames into a capture opened for one codec and container.
// MP4 and WebM differ only in their metadata and codec.
type Video struct {
	export.Base
	Opener    video.Opener
	Codec     string
	Container string
	// Realtime paces frames by wall clock and duplicates frames when
	// rendering falls behind. It is off by default: ffmpeg reads rawvideo
	// at a fixed -framerate, so frame i lands at i/fps in the output
	// however fast it was written, and asap pacing gives the same timing
	// without the wait. Enable it for capture sinks that timestamp on
	// arrival.
	Realtime bool
}

func NewMP4(opener video.Opener, realtime bool) *Video {
	return &Video{
		Base: export.Base{
			Meta: export.Info{
				ID:                "mp4",
				Name:              "MP4 Video",
				Description:       "H.264 video for maximum compatibility",
				Extension:         "mp4",
				MimeType:          "video/mp4",
				Category:          export.CategoryVideo,
				SupportsAnimation: true,
				MaxDuration:       videoMaxDuration,
				Defaults: export.SettingsPatch{
					FPS: export.Ptr(30),
				},
			},
			FrameCost:      15 * time.Millisecond,
			MemoryOverhead: 0.1,
		},
		Opener:    opener,
		Codec:     "h264",
		Container: "mp4",
		Realtime:  realtime,
	}
}

func NewWebM(opener video.Opener, realtime bool) *Video {
	return &Video{
		Base: export.Base{
			Meta: export.Info{
				ID:                   "webm",
				Name:                 "WebM Video",
				Description:          "VP9 video with alpha channel support",
				Extension:            "webm",
				MimeType:             "video/webm",
				Category:             export.CategoryWeb,
				SupportsTransparency: true,
				SupportsAnimation:    true,
				MaxDuration:          videoMaxDuration,
				Defaults: export.SettingsPatch{
					FPS: export.Ptr(30),
				},
			},
			FrameCost:      25 * time.Millisecond,
			MemoryOverhead: 0.1,
		},
		Opener:    opener,
		Codec:     "vp9",
		Container: "webm",
		Realtime:  realtime,
	}
}

// IsSupported reports whether the opener can record this codec.
func (v *Video) IsSupported() bool {
	return v.Opener != nil && v.Opener.Supports(v.Codec)
}

func (v *Video) Export(ctx context.Context, ectx *export.Context) (*export.Result, error) {
	s := ectx.Settings
	total := s.FrameCount()
	start := time.Now()
	log := ectx.Log()

	if !v.IsSupported() {
		return export.Failed(export.CodeUnsupported, "%s recording is not available on this machine", v.Codec), nil
	}
	ectx.Report(export.Progress{Progress: 0.02, Stage: export.StagePreparing, Message: "Opening capture stream", TotalFrames: total})

	// Отдельный холст под размер экспорта, превью не трогаем.
	surface := ectx.Surfaces.NewSurface(s.Width, s.Height)
	defer renderer.Release(ectx.Surfaces, surface)

	capture, err := v.Opener.Open(ctx, video.Config{
		Width:       s.Width,
		Height:      s.Height,
		FPS:         s.FPS,
		Codec:       v.Codec,
		Container:   v.Container,
		Bitrate:     s.Bitrate,
		Quality:     s.Quality,
		Transparent: s.Transparent,
	})
	if err != nil {
		if ctx.Err() != nil {
			return cancelled(ctx), nil
		}
		return export.Failed(export.CodeRecording, "open %s capture: %v", v.Container, err), nil
	}
	defer func() {
		if err := capture.Stop(); err != nil && !errors.Is(err, video.ErrStopped) {
			log.Debug("capture stop", "error", err)
		}
	}()

	pacer := video.NewPacer(s.FPS, total, v.Realtime)
	duplicated := 0
	for {
		frame, repeat, err := pacer.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return cancelled(ctx), nil
		}

		t := pacer.FrameTime(frame)
		if err := renderAt(ectx, surface, t); err != nil {
			return export.Failed(export.CodeRender, "render frame %d at %.0fms: %v", frame, t, err), nil
		}
		for range repeat {
			if err := capture.WriteFrame(ctx, surface.Image()); err != nil {
				if ctx.Err() != nil {
					return cancelled(ctx), nil
				}
				return export.Failed(export.CodeRecording, "write frame %d: %v", frame, err), nil
			}
		}
		duplicated += repeat - 1
		ectx.Report(frameProgress(export.StageRendering, "Recording frame", 0.05, 0.85, pacer.Written(), total, start))
	}

	ectx.Report(export.Progress{Progress: 0.92, Stage: export.StageFinalizing, Message: "Finalizing stream", CurrentFrame: total, TotalFrames: total, Elapsed: time.Since(start)})
	data, err := capture.Finish(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return cancelled(ctx), nil
		}
		return export.Failed(export.CodeEncoding, "finalize %s: %v", v.Container, err), nil
	}
	if len(data) == 0 {
		return export.Failed(export.CodeEncoding, "%s stream produced no data", v.Container), nil
	}

	meta := baseMetadata(s, v.Container)
	meta["codec"] = v.Codec
	meta["frames"] = total
	meta["duplicatedFrames"] = duplicated
	meta["realtime"] = v.Realtime
	if duplicated > 0 {
		log.Warn("capture fell behind, frames duplicated", "duplicated", duplicated, "frames", total)
	}
	ectx.Report(export.Progress{Progress: 1, Stage: export.StageComplete, Message: "Video ready", CurrentFrame: total, TotalFrames: total, Elapsed: time.Since(start)})

	return export.Succeeded(data, export.Filename(projectName(ectx), v.Meta.Extension, time.Now()), v.Meta.MimeType, meta), nil
}
