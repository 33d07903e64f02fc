// Package config defines the capture configuration, its defaults and
// validation, and the YAML loader behind them.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Profile selects the capture quality tier.
type Profile string

const (
	ProfileHigh   Profile = "high"   // Full resolution.
	ProfileNormal Profile = "normal" // Scaled to 80%.
	ProfileLow    Profile = "low"    // Scaled to 50%.
)

// Scale returns the resolution scale frames are downsampled by under
// this profile.
func (p Profile) Scale() float64 {
	switch p {
	case ProfileNormal:
		return 0.8
	case ProfileLow:
		return 0.5
	default:
		return 1.0
	}
}

// Mode pins capture to one backend, or lets the orchestrator pick and
// fall back on its own.
type Mode string

const (
	ModeAuto        Mode = "auto"
	ModeHardware    Mode = "hardware"
	ModeCompositing Mode = "compositing"
)

// Frame rate bounds and defaults.
const (
	MinTargetFPS     = 1
	MaxTargetFPS     = 120
	DefaultTargetFPS = 30
	DefaultMinFPS    = 5
)

// Fallback defaults.
const (
	DefaultFailureThreshold    = 20
	DefaultCooldownSeconds     = 10
	DefaultMaxRecoveryAttempts = 5
)

// Per-attempt timeout defaults, in milliseconds.
const (
	DefaultHardwareTimeoutMS    = 250
	DefaultCompositingTimeoutMS = 500
)

// RegionPreset is a named capture rectangle in monitor-relative
// coordinates.
type RegionPreset struct {
	Monitor int `yaml:"monitor"`
	X       int `yaml:"x"`
	Y       int `yaml:"y"`
	Width   int `yaml:"width"`
	Height  int `yaml:"height"`
}

// FallbackConfig tunes failure-driven backend switching.
type FallbackConfig struct {
	Enabled             bool `yaml:"enabled"`
	FailureThreshold    int  `yaml:"failure_threshold"`
	CooldownSeconds     int  `yaml:"cooldown_seconds"`
	MaxRecoveryAttempts int  `yaml:"max_recovery_attempts"`
}

// Cooldown returns the fallback cooldown as a duration.
func (f FallbackConfig) Cooldown() time.Duration {
	return time.Duration(f.CooldownSeconds) * time.Second
}

// AdaptiveConfig tunes automatic rate reduction under load.
type AdaptiveConfig struct {
	Enabled bool `yaml:"enabled"`
	MinFPS  int  `yaml:"min_fps"`
}

// TimeoutConfig sets the per-attempt capture deadlines.
type TimeoutConfig struct {
	HardwareMS    int `yaml:"hardware_ms"`
	CompositingMS int `yaml:"compositing_ms"`
}

// Hardware returns the duplication deadline as a duration.
func (t TimeoutConfig) Hardware() time.Duration {
	return time.Duration(t.HardwareMS) * time.Millisecond
}

// Compositing returns the compositing deadline as a duration.
func (t TimeoutConfig) Compositing() time.Duration {
	return time.Duration(t.CompositingMS) * time.Millisecond
}

// Config is the effective capture configuration: defaults with any file
// overrides already applied.
type Config struct {
	TargetFPS          int                     `yaml:"target_fps"`
	PerformanceProfile Profile                 `yaml:"performance_profile"`
	CaptureMode        Mode                    `yaml:"capture_mode"`
	LogLevel           string                  `yaml:"log_level"`
	Fallback           FallbackConfig          `yaml:"fallback"`
	Adaptive           AdaptiveConfig          `yaml:"adaptive"`
	Timeouts           TimeoutConfig           `yaml:"timeouts"`
	RegionPresets      map[string]RegionPreset `yaml:"region_presets,omitempty"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		TargetFPS:          DefaultTargetFPS,
		PerformanceProfile: ProfileHigh,
		CaptureMode:        ModeAuto,
		LogLevel:           "info",
		Fallback: FallbackConfig{
			Enabled:             true,
			FailureThreshold:    DefaultFailureThreshold,
			CooldownSeconds:     DefaultCooldownSeconds,
			MaxRecoveryAttempts: DefaultMaxRecoveryAttempts,
		},
		Adaptive: AdaptiveConfig{
			Enabled: true,
			MinFPS:  DefaultMinFPS,
		},
		Timeouts: TimeoutConfig{
			HardwareMS:    DefaultHardwareTimeoutMS,
			CompositingMS: DefaultCompositingTimeoutMS,
		},
		RegionPresets: make(map[string]RegionPreset),
	}
}

func (c *Config) Validate() error {
	if c.TargetFPS < MinTargetFPS || c.TargetFPS > MaxTargetFPS {
		return &ValidationError{Path: "target_fps", Err: fmt.Errorf("target_fps must be between %d and %d", MinTargetFPS, MaxTargetFPS)}
	}
	switch c.PerformanceProfile {
	case ProfileHigh, ProfileNormal, ProfileLow:
	default:
		return &ValidationError{Path: "performance_profile", Err: fmt.Errorf("performance_profile must be one of: high, normal, low")}
	}
	switch c.CaptureMode {
	case ModeAuto, ModeHardware, ModeCompositing:
	default:
		return &ValidationError{Path: "capture_mode", Err: fmt.Errorf("capture_mode must be one of: auto, hardware, compositing")}
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return &ValidationError{Path: "log_level", Err: fmt.Errorf("log_level must be one of: debug, info, warn, error")}
	}
	if c.Fallback.FailureThreshold < 1 {
		return &ValidationError{Path: "fallback.failure_threshold", Err: fmt.Errorf("failure_threshold must be >= 1")}
	}
	if c.Fallback.CooldownSeconds < 0 {
		return &ValidationError{Path: "fallback.cooldown_seconds", Err: fmt.Errorf("cooldown_seconds must be >= 0")}
	}
	if c.Fallback.MaxRecoveryAttempts < 0 {
		return &ValidationError{Path: "fallback.max_recovery_attempts", Err: fmt.Errorf("max_recovery_attempts must be >= 0")}
	}
	if c.Adaptive.MinFPS < MinTargetFPS || c.Adaptive.MinFPS > MaxTargetFPS {
		return &ValidationError{Path: "adaptive.min_fps", Err: fmt.Errorf("min_fps must be between %d and %d", MinTargetFPS, MaxTargetFPS)}
	}
	if c.Timeouts.HardwareMS < 1 {
		return &ValidationError{Path: "timeouts.hardware_ms", Err: fmt.Errorf("hardware_ms must be >= 1")}
	}
	if c.Timeouts.CompositingMS < 1 {
		return &ValidationError{Path: "timeouts.compositing_ms", Err: fmt.Errorf("compositing_ms must be >= 1")}
	}
	for name, preset := range c.RegionPresets {
		if strings.TrimSpace(name) == "" {
			return &ValidationError{Path: "region_presets", Err: fmt.Errorf("region_presets contains an empty name")}
		}
		if preset.Monitor < 0 {
			return &ValidationError{Path: "region_presets." + name + ".monitor", Err: fmt.Errorf("monitor must be >= 0")}
		}
		if preset.Width < 1 || preset.Height < 1 {
			return &ValidationError{Path: "region_presets." + name, Err: fmt.Errorf("width and height must be >= 1")}
		}
	}
	return nil
}
