package video

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"io"
	"log/slog"
	"math"
	"os/exec"
	"strings"
	"sync"

	"github.com/ivlev/animexport/internal/system"
)

const chunkSize = 64 << 10

// FFmpegOpener records through an ffmpeg process reading raw RGBA frames on
// stdin and writing the container to stdout.
type FFmpegOpener struct {
	// Path to the ffmpeg binary.
	Path string
	// H264Encoder overrides encoder detection for h264 streams.
	H264Encoder string
	Logger      *slog.Logger
}

func NewFFmpegOpener(path, h264Encoder string, logger *slog.Logger) *FFmpegOpener {
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegOpener{Path: path, H264Encoder: h264Encoder, Logger: logger}
}

// Supports reports whether the binary exists and carries an encoder for codec.
func (o *FFmpegOpener) Supports(codec string) bool {
	path, err := system.LookFFmpeg(o.Path)
	if err != nil {
		return false
	}
	encoders, err := system.Encoders(path)
	if err != nil {
		return false
	}
	switch codec {
	case "h264":
		if o.H264Encoder != "" {
			return encoders[o.H264Encoder]
		}
		return encoders["libx264"] || encoders["h264_videotoolbox"] || encoders["h264_nvenc"]
	case "vp9":
		return encoders["libvpx-vp9"]
	}
	return false
}

func (o *FFmpegOpener) encoderFor(path, codec string) (string, error) {
	switch codec {
	case "h264":
		if o.H264Encoder != "" {
			return o.H264Encoder, nil
		}
		encoders, err := system.Encoders(path)
		if err != nil {
			return "", err
		}
		return system.BestH264Encoder(encoders), nil
	case "vp9":
		return "libvpx-vp9", nil
	}
	return "", fmt.Errorf("unsupported codec %q", codec)
}

func (o *FFmpegOpener) Open(ctx context.Context, cfg Config) (Capture, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.FPS <= 0 {
		return nil, fmt.Errorf("invalid capture config %dx%d@%d", cfg.Width, cfg.Height, cfg.FPS)
	}
	path, err := system.LookFFmpeg(o.Path)
	if err != nil {
		return nil, err
	}
	encoder, err := o.encoderFor(path, cfg.Codec)
	if err != nil {
		return nil, err
	}

	args := buildFFmpegArgs(cfg, encoder)
	o.Logger.Debug("starting ffmpeg", "encoder", encoder, "args", strings.Join(args, " "))

	cmd := exec.Command(path, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe error: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe error: %w", err)
	}
	stderr := &lastLines{max: 20}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		return nil, fmt.Errorf("ffmpeg start error: %w", err)
	}

	c := &ffmpegCapture{
		cmd:      cmd,
		stdin:    stdin,
		stderr:   stderr,
		width:    cfg.Width,
		height:   cfg.Height,
		readDone: make(chan struct{}),
	}
	go c.readChunks(stdout)

	// Stop the recorder as soon as the caller's context ends.
	c.mu.Lock()
	c.stopWatch = context.AfterFunc(ctx, func() { c.Stop() })
	c.mu.Unlock()
	return c, nil
}

func buildFFmpegArgs(cfg Config, encoderName string) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "rawvideo",
		"-pixel_format", "rgba",
		"-video_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-framerate", fmt.Sprintf("%d", cfg.FPS),
		"-i", "-",
		"-an",
		"-c:v", encoderName,
	}

	pixFmt := "yuv420p"
	if cfg.Transparent && encoderName == "libvpx-vp9" {
		pixFmt = "yuva420p"
	}
	args = append(args, "-pix_fmt", pixFmt)

	// Качество в зависимости от энкодера
	switch encoderName {
	case "h264_videotoolbox":
		bitrate := cfg.Bitrate / 1000
		if bitrate <= 0 {
			bitrate = qualityScale(cfg.Quality, 75) * 100
		}
		args = append(args, "-b:v", fmt.Sprintf("%dk", bitrate))
	case "h264_nvenc":
		if cfg.Bitrate > 0 {
			args = append(args, "-b:v", fmt.Sprintf("%d", cfg.Bitrate))
		} else {
			args = append(args, "-cq", fmt.Sprintf("%d", crf(cfg.Quality, 23)))
		}
	case "libvpx-vp9":
		if cfg.Bitrate > 0 {
			args = append(args, "-b:v", fmt.Sprintf("%d", cfg.Bitrate))
		} else {
			args = append(args, "-b:v", "0", "-crf", fmt.Sprintf("%d", crf(cfg.Quality, 31)))
		}
		args = append(args, "-deadline", "realtime", "-cpu-used", "8", "-row-mt", "1")
	default: // libx264
		if cfg.Bitrate > 0 {
			args = append(args, "-b:v", fmt.Sprintf("%d", cfg.Bitrate))
		} else {
			args = append(args, "-crf", fmt.Sprintf("%d", crf(cfg.Quality, 23)))
		}
		args = append(args, "-preset", "medium")
	}

	switch cfg.Container {
	case "webm":
		args = append(args, "-f", "webm")
	default:
		// stdout is not seekable, so the moov atom has to lead.
		args = append(args, "-movflags", "frag_keyframe+empty_moov", "-f", "mp4")
	}
	return append(args, "pipe:1")
}

// crf maps quality in (0,1] to a constant rate factor, 1.0 being visually
// lossless. Zero quality keeps the encoder's usual default.
func crf(quality float64, fallback int) int {
	if quality <= 0 {
		return fallback
	}
	q := math.Min(quality, 1)
	return int(math.Round(51 - q*33))
}

// qualityScale maps quality in (0,1] to the 1..100 scale.
func qualityScale(quality float64, fallback int) int {
	if quality <= 0 {
		return fallback
	}
	return int(math.Round(math.Min(quality, 1) * 100))
}

type ffmpegCapture struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *lastLines
	width  int
	height int

	chunks   [][]byte
	readErr  error
	readDone chan struct{}

	stopWatch func() bool
	mu        sync.Mutex
	finished  bool
	stopped   bool
	waitErr   error
	waitOnce  sync.Once
}

func (c *ffmpegCapture) readChunks(r io.Reader) {
	defer close(c.readDone)
	for {
		buf := make([]byte, chunkSize)
		n, err := r.Read(buf)
		if n > 0 {
			c.chunks = append(c.chunks, buf[:n])
		}
		if err != nil {
			if err != io.EOF {
				c.readErr = err
			}
			return
		}
	}
}

func (c *ffmpegCapture) WriteFrame(ctx context.Context, img *image.RGBA) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	stopped := c.stopped || c.finished
	c.mu.Unlock()
	if stopped {
		return ErrStopped
	}

	if err := writeRawRGBA(c.stdin, img, c.width, c.height); err != nil {
		return fmt.Errorf("write raw error: %w%s", err, c.stderr.suffix())
	}
	return nil
}

func (c *ffmpegCapture) Finish(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil, ErrStopped
	}
	c.finished = true
	stopWatch := c.stopWatch
	c.mu.Unlock()

	c.stdin.Close()
	select {
	case <-c.readDone:
	case <-ctx.Done():
		c.Stop()
		return nil, ctx.Err()
	}

	defer stopWatch()
	if err := c.wait(); err != nil {
		return nil, fmt.Errorf("ffmpeg wait error: %w%s", err, c.stderr.suffix())
	}
	if c.readErr != nil {
		return nil, fmt.Errorf("read ffmpeg output: %w", c.readErr)
	}
	return bytes.Join(c.chunks, nil), nil
}

func (c *ffmpegCapture) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	stopWatch := c.stopWatch
	c.mu.Unlock()

	stopWatch()
	c.stdin.Close()
	if c.cmd.Process != nil {
		c.cmd.Process.Kill()
	}
	<-c.readDone
	c.wait()
	return nil
}

func (c *ffmpegCapture) wait() error {
	c.waitOnce.Do(func() {
		c.waitErr = c.cmd.Wait()
	})
	return c.waitErr
}

// writeRawRGBA writes the pixels row by row so sub-images and padded
// strides are handled without a copy of the whole frame.
func writeRawRGBA(w io.Writer, img *image.RGBA, width, height int) error {
	b := img.Bounds()
	if b.Dx() != width || b.Dy() != height {
		fitted := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.Draw(fitted, fitted.Rect, img, b.Min, draw.Src)
		img, b = fitted, fitted.Rect
	}
	if img.Stride == width*4 && b.Min == (image.Point{}) {
		_, err := w.Write(img.Pix[:width*height*4])
		return err
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := img.PixOffset(b.Min.X, y)
		if _, err := w.Write(img.Pix[off : off+width*4]); err != nil {
			return err
		}
	}
	return nil
}

// lastLines keeps the tail of ffmpeg's stderr for error messages.
type lastLines struct {
	mu    sync.Mutex
	max   int
	lines []string
	part  string
}

func (l *lastLines) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	text := l.part + string(p)
	parts := strings.Split(text, "\n")
	l.part = parts[len(parts)-1]
	for _, line := range parts[:len(parts)-1] {
		if line = strings.TrimSpace(line); line != "" {
			l.lines = append(l.lines, line)
		}
	}
	if over := len(l.lines) - l.max; over > 0 {
		l.lines = l.lines[over:]
	}
	return len(p), nil
}

func (l *lastLines) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	lines := l.lines
	if p := strings.TrimSpace(l.part); p != "" {
		lines = append(lines[:len(lines):len(lines)], p)
	}
	if over := len(lines) - l.max; over > 0 {
		lines = lines[over:]
	}
	return strings.Join(lines, "\n")
}

func (l *lastLines) suffix() string {
	if s := l.String(); s != "" {
		return ", output: " + s
	}
	return ""
}
