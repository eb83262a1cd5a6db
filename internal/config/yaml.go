package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/bhosie/chronoaudio/pkg/bitint"
)

// Load reads configuration from a YAML file at path. If path is empty it
// checks the default location ("chronoaudio.yaml") and falls back to the
// built-in defaults. Environment overrides are applied after the file,
// then the result is validated.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		if _, err := os.Stat("chronoaudio.yaml"); err == nil {
			path = "chronoaudio.yaml"
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets a few operational settings be changed without
// editing the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CHRONO_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("CHRONO_SERVE_ADDR"); v != "" {
		c.Serve.Addr = v
		c.Serve.Enabled = true
	}
	if v := os.Getenv("CHRONO_DEVICE"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			c.Audio.OutputDevice = id
		}
	}
}

// Validate checks the configuration for values the engine cannot work with.
func (c *Config) Validate() error {
	if c.Audio.FramesPerBuffer <= 0 {
		return fmt.Errorf("frames_per_buffer must be positive, got %d", c.Audio.FramesPerBuffer)
	}
	if c.Playback.Rate < MinRate || c.Playback.Rate > MaxRate {
		return fmt.Errorf("rate must be in [%.2f, %.2f], got %.2f", MinRate, MaxRate, c.Playback.Rate)
	}
	if c.Playback.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.Playback.PollInterval)
	}
	if !bitint.IsPowerOfTwo(c.Analysis.WindowSize) {
		return fmt.Errorf("analysis window_size must be a power of 2, got %d", c.Analysis.WindowSize)
	}
	if c.Analysis.HopSize <= 0 || c.Analysis.HopSize > c.Analysis.WindowSize {
		return fmt.Errorf("analysis hop_size must be in (0, window_size], got %d", c.Analysis.HopSize)
	}
	if c.Analysis.PeakWindow < 2 {
		return fmt.Errorf("analysis peak_window must be at least 2, got %d", c.Analysis.PeakWindow)
	}
	switch c.Click.BeatUnit {
	case 1, 2, 4, 8, 16:
	default:
		return fmt.Errorf("click beat_unit must be one of 1,2,4,8,16, got %d", c.Click.BeatUnit)
	}
	if c.Click.LookaheadBeats <= 0 {
		return fmt.Errorf("click lookahead_beats must be positive, got %d", c.Click.LookaheadBeats)
	}
	if c.Click.Interval <= 0 || c.Click.Safety < 0 {
		return fmt.Errorf("click interval/safety out of range")
	}
	return nil
}
