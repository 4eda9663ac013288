package video

import (
	"context"
	"io"
	"time"
)

// Pacer hands out frame indices for a capture loop. In realtime mode the
// frame due is derived from elapsed wall time, so a loop that falls behind
// skips ahead on the timeline and repeats the frame it draws to keep the
// stream's frame count. In asap mode every frame is produced in order.
type Pacer struct {
	fps      int
	interval time.Duration
	total    int
	realtime bool
	written  int
	start    time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewPacer(fps, total int, realtime bool) *Pacer {
	if fps <= 0 {
		fps = 1
	}
	return &Pacer{
		fps:      fps,
		interval: time.Second / time.Duration(fps),
		total:    total,
		realtime: realtime,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Next blocks until the next frame is due and returns its index and how many
// times it must be written. It returns io.EOF once all frames are handed out.
func (p *Pacer) Next(ctx context.Context) (frame, repeat int, err error) {
	if p.written >= p.total {
		return 0, 0, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	if !p.realtime {
		frame = p.written
		p.written++
		return frame, 1, nil
	}

	if p.start.IsZero() {
		p.start = p.now()
	}
	for {
		elapsed := p.now().Sub(p.start)
		due := int(elapsed/p.interval) + 1
		if due > p.total {
			due = p.total
		}
		if due > p.written {
			repeat = due - p.written
			p.written = due
			return due - 1, repeat, nil
		}
		wait := time.Duration(p.written)*p.interval - elapsed
		if err := p.sleep(ctx, wait); err != nil {
			return 0, 0, err
		}
	}
}

// Written returns the number of frames handed out so far.
func (p *Pacer) Written() int {
	return p.written
}

func (p *Pacer) Total() int {
	return p.total
}

// FrameTime returns the timeline time (ms) of a frame index.
func (p *Pacer) FrameTime(frame int) float64 {
	return float64(frame) * 1000 / float64(p.fps)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
