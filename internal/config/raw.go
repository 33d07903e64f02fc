package config

// RawConfig mirrors the YAML schema with pointer fields, so an absent
// key and an explicit zero can be told apart when building the effective
// config.
type RawConfig struct {
	TargetFPS          *int                    `yaml:"target_fps,omitempty"`
	PerformanceProfile *string                 `yaml:"performance_profile,omitempty"`
	CaptureMode        *string                 `yaml:"capture_mode,omitempty"`
	LogLevel           *string                 `yaml:"log_level,omitempty"`
	Fallback           *RawFallback            `yaml:"fallback,omitempty"`
	Adaptive           *RawAdaptive            `yaml:"adaptive,omitempty"`
	Timeouts           *RawTimeouts            `yaml:"timeouts,omitempty"`
	RegionPresets      map[string]RegionPreset `yaml:"region_presets,omitempty"`
}

type RawFallback struct {
	Enabled             *bool `yaml:"enabled,omitempty"`
	FailureThreshold    *int  `yaml:"failure_threshold,omitempty"`
	CooldownSeconds     *int  `yaml:"cooldown_seconds,omitempty"`
	MaxRecoveryAttempts *int  `yaml:"max_recovery_attempts,omitempty"`
}

type RawAdaptive struct {
	Enabled *bool `yaml:"enabled,omitempty"`
	MinFPS  *int  `yaml:"min_fps,omitempty"`
}

type RawTimeouts struct {
	HardwareMS    *int `yaml:"hardware_ms,omitempty"`
	CompositingMS *int `yaml:"compositing_ms,omitempty"`
}
