package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/ivlev/animexport/internal/export"
)

const barWidth = 30

// progressPrinter draws a single updating line on a terminal and falls back
// to one line per stage when stdout is redirected.
type progressPrinter struct {
	out       *os.File
	tty       bool
	width     int
	lastStage export.Stage
}

func newProgressPrinter(f *os.File) *progressPrinter {
	p := &progressPrinter{out: f, width: 80}
	fd := int(f.Fd())
	if term.IsTerminal(fd) {
		p.tty = true
		if w, _, err := term.GetSize(fd); err == nil && w > 20 {
			p.width = w
		}
	}
	return p
}

func (p *progressPrinter) Print(ev export.Progress) {
	if !p.tty {
		if ev.Stage != p.lastStage {
			fmt.Fprintf(p.out, "[>] %s: %s\n", ev.Stage, ev.Message)
			p.lastStage = ev.Stage
		}
		return
	}
	fmt.Fprintf(p.out, "\r%s\x1b[K", truncate(progressLine(ev), p.width-1))
}

func (p *progressPrinter) Done() {
	if p.tty {
		fmt.Fprintln(p.out)
	}
}

func progressLine(ev export.Progress) string {
	frac := min(max(ev.Progress, 0), 1)
	filled := int(frac * barWidth)
	bar := strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled)

	line := fmt.Sprintf("[>] %-10s [%s] %3.0f%%", ev.Stage, bar, frac*100)
	if ev.TotalFrames > 0 {
		line += fmt.Sprintf(" %d/%d", ev.CurrentFrame, ev.TotalFrames)
	}
	if ev.Remaining > 0 {
		line += " ~" + ev.Remaining.Round(time.Second).String()
	}
	return line
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}

func humanSize(n int) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := unit, 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGT"[exp])
}
