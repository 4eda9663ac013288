// Package video opens live capture streams that turn a sequence of RGBA
// frames into an encoded video payload.
package video

import (
	"context"
	"errors"
	"image"
)

// ErrStopped is returned by a capture that was stopped before Finish.
var ErrStopped = errors.New("capture stopped")

// Config describes the stream to open.
type Config struct {
	Width, Height int
	FPS           int
	// Codec is "h264" or "vp9".
	Codec string
	// Container is "mp4" or "webm".
	Container string
	// Bitrate in bits per second; 0 lets quality decide.
	Bitrate int
	// Quality in [0,1]; 0 selects the encoder default.
	Quality     float64
	Transparent bool
}

// Capture is a running recorder. Frames are written in presentation order.
type Capture interface {
	WriteFrame(ctx context.Context, img *image.RGBA) error
	// Finish flushes the encoder and returns the joined output chunks.
	Finish(ctx context.Context) ([]byte, error)
	// Stop aborts the recorder and releases its process and pipes. It is
	// safe to call more than once and after Finish.
	Stop() error
}

// Opener starts capture streams.
type Opener interface {
	Open(ctx context.Context, cfg Config) (Capture, error)
	Supports(codec string) bool
}
