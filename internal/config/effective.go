package config

import (
	"fmt"
)

// ValidationError carries the YAML path of the offending field and,
// when it came from a file, where it was written.
type ValidationError struct {
	Path   string
	Source Source
	Err    error
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Source.Kind == SourceFile && e.Source.File != "" && e.Source.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s: %v", e.Source.File, e.Source.Line, e.Source.Column, e.Path, e.Err)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %v", e.Path, e.Err)
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// BuildEffectiveConfig applies the raw file values onto the defaults.
// Only keys present in the file override; explicit zeros stick.
func BuildEffectiveConfig(raw RawConfig) *Config {
	cfg := DefaultConfig()

	if raw.TargetFPS != nil {
		cfg.TargetFPS = *raw.TargetFPS
	}
	if raw.PerformanceProfile != nil {
		cfg.PerformanceProfile = Profile(*raw.PerformanceProfile)
	}
	if raw.CaptureMode != nil {
		cfg.CaptureMode = Mode(*raw.CaptureMode)
	}
	if raw.LogLevel != nil {
		cfg.LogLevel = *raw.LogLevel
	}
	if raw.Fallback != nil {
		if raw.Fallback.Enabled != nil {
			cfg.Fallback.Enabled = *raw.Fallback.Enabled
		}
		if raw.Fallback.FailureThreshold != nil {
			cfg.Fallback.FailureThreshold = *raw.Fallback.FailureThreshold
		}
		if raw.Fallback.CooldownSeconds != nil {
			cfg.Fallback.CooldownSeconds = *raw.Fallback.CooldownSeconds
		}
		if raw.Fallback.MaxRecoveryAttempts != nil {
			cfg.Fallback.MaxRecoveryAttempts = *raw.Fallback.MaxRecoveryAttempts
		}
	}
	if raw.Adaptive != nil {
		if raw.Adaptive.Enabled != nil {
			cfg.Adaptive.Enabled = *raw.Adaptive.Enabled
		}
		if raw.Adaptive.MinFPS != nil {
			cfg.Adaptive.MinFPS = *raw.Adaptive.MinFPS
		}
	}
	if raw.Timeouts != nil {
		if raw.Timeouts.HardwareMS != nil {
			cfg.Timeouts.HardwareMS = *raw.Timeouts.HardwareMS
		}
		if raw.Timeouts.CompositingMS != nil {
			cfg.Timeouts.CompositingMS = *raw.Timeouts.CompositingMS
		}
	}
	for name, preset := range raw.RegionPresets {
		cfg.RegionPresets[name] = preset
	}

	return cfg
}
