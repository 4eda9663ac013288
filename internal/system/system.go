package system

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// InitResourceLimits raises the open-file limit; every video job holds an
// ffmpeg process with three pipes.
func InitResourceLimits(logger *slog.Logger) {
	var rLimit syscall.Rlimit
	err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	if err != nil {
		logger.Warn("failed to read open file limit", "error", err)
		return
	}

	rLimit.Cur = 2048
	if rLimit.Cur > rLimit.Max {
		rLimit.Cur = rLimit.Max
	}

	err = syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	if err != nil {
		logger.Warn("failed to raise open file limit", "error", err)
	} else {
		logger.Debug("open file limit raised", "limit", rLimit.Cur)
	}
}

// FindLatestFile returns the most recently modified file in dir whose
// extension is one of exts.
func FindLatestFile(dir string, exts ...string) (string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var latestFile string
	var latestTime time.Time

	for _, f := range files {
		if f.IsDir() {
			continue
		}
		matched := false
		for _, ext := range exts {
			if strings.HasSuffix(strings.ToLower(f.Name()), ext) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(latestTime) {
			latestTime = info.ModTime()
			latestFile = filepath.Join(dir, f.Name())
		}
	}

	if latestFile == "" {
		return "", fmt.Errorf("в папке %s не найдено файлов %s", dir, strings.Join(exts, ", "))
	}

	return latestFile, nil
}

// LookFFmpeg resolves the ffmpeg binary. An empty path means "ffmpeg" on PATH.
func LookFFmpeg(path string) (string, error) {
	if path == "" {
		path = "ffmpeg"
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return "", fmt.Errorf("ffmpeg not found: %w", err)
	}
	return resolved, nil
}

var (
	encodersMu    sync.Mutex
	encodersCache = map[string]map[string]bool{}
)

// Encoders lists the encoder names compiled into the ffmpeg binary. The
// result is cached per binary path.
func Encoders(ffmpegPath string) (map[string]bool, error) {
	encodersMu.Lock()
	defer encodersMu.Unlock()

	if cached, ok := encodersCache[ffmpegPath]; ok {
		return cached, nil
	}

	out, err := exec.Command(ffmpegPath, "-hide_banner", "-encoders").CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg -encoders: %w", err)
	}
	set := ParseEncoders(string(out))
	encodersCache[ffmpegPath] = set
	return set, nil
}

// ParseEncoders reads the listing printed by "ffmpeg -encoders":
//
//	V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC (codec h264)
func ParseEncoders(out string) map[string]bool {
	set := make(map[string]bool)
	body := out
	if i := strings.Index(out, "------"); i >= 0 {
		body = out[i:]
		if nl := strings.IndexByte(body, '\n'); nl >= 0 {
			body = body[nl+1:]
		} else {
			body = ""
		}
	}
	for _, line := range strings.Split(body, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 {
			continue
		}
		set[fields[1]] = true
	}
	return set
}

// BestH264Encoder picks a hardware H.264 encoder when one is available.
func BestH264Encoder(encoders map[string]bool) string {
	// Приоритеты:
	// 1. MacOS (VideoToolbox)
	// 2. NVIDIA (NVENC)
	// 3. Software (libx264)
	for _, name := range []string{"h264_videotoolbox", "h264_nvenc"} {
		if encoders[name] {
			return name
		}
	}
	return "libx264"
}

// AvailableMemory reports the memory the OS can hand out without swapping.
func AvailableMemory(ctx context.Context) (uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("read memory stats: %w", err)
	}
	return vm.Available, nil
}

// CPUCount returns the number of logical CPUs.
func CPUCount() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		return runtime.NumCPU()
	}
	return n
}
