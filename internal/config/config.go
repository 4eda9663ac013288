// Package config loads the application configuration: built-in defaults,
// then an optional YAML file, then ANIMEXPORT_* environment variables.
// Command-line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultInputDir     = "input/projects"
	DefaultOutputDir    = "output"
	DefaultListenAddr   = ":8790"
	DefaultPollInterval = 100 * time.Millisecond

	EnvPrefix = "ANIMEXPORT_"
)

type Config struct {
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`

	InputDir   string `yaml:"inputDir"`
	OutputDir  string `yaml:"outputDir"`
	ListenAddr string `yaml:"listenAddr"`
	// PresetsPath replaces the built-in preset catalog when set.
	PresetsPath string `yaml:"presetsPath"`

	MaxConcurrentJobs int           `yaml:"maxConcurrentJobs"`
	PollInterval      time.Duration `yaml:"pollInterval"`
	JobTimeout        time.Duration `yaml:"jobTimeout"`

	FFmpegPath string `yaml:"ffmpegPath"`
	// VideoEncoder is an H.264 encoder name or "auto".
	VideoEncoder string `yaml:"videoEncoder"`
	Workers      int    `yaml:"workers"`
	// Realtime turns on wall-clock video pacing; see formats.Video.
	Realtime bool `yaml:"realtime"`

	BuildVersion string `yaml:"-"`
}

func Default() Config {
	return Config{
		LogLevel:          "info",
		LogFormat:         "text",
		InputDir:          DefaultInputDir,
		OutputDir:         DefaultOutputDir,
		ListenAddr:        DefaultListenAddr,
		MaxConcurrentJobs: 1,
		PollInterval:      DefaultPollInterval,
		FFmpegPath:        "ffmpeg",
		VideoEncoder:      "auto",
	}
}

// Load reads path (if not empty) over the defaults and applies the
// environment. A missing file is an error only when path was given.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("INPUT_DIR", &c.InputDir)
	str("OUTPUT_DIR", &c.OutputDir)
	str("LISTEN_ADDR", &c.ListenAddr)
	str("PRESETS", &c.PresetsPath)
	str("FFMPEG", &c.FFmpegPath)
	str("VIDEO_ENCODER", &c.VideoEncoder)

	var errs []error
	num := func(name string, dst *int) {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err))
			return
		}
		*dst = n
	}
	num("MAX_JOBS", &c.MaxConcurrentJobs)
	num("WORKERS", &c.Workers)

	dur := func(name string, dst *time.Duration) {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err))
			return
		}
		*dst = d
	}
	dur("POLL_INTERVAL", &c.PollInterval)
	dur("JOB_TIMEOUT", &c.JobTimeout)

	if v, ok := lookup(EnvPrefix + "REALTIME"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %sREALTIME: %w", EnvPrefix, err))
		} else {
			c.Realtime = b
		}
	}
	return errors.Join(errs...)
}

// Validate rejects values the registry and workers cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.MaxConcurrentJobs < 1 {
		errs = append(errs, fmt.Errorf("maxConcurrentJobs must be at least 1, got %d", c.MaxConcurrentJobs))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("pollInterval must be positive, got %s", c.PollInterval))
	}
	if c.JobTimeout < 0 {
		errs = append(errs, fmt.Errorf("jobTimeout must not be negative, got %s", c.JobTimeout))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logFormat must be text or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}
