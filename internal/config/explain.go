package config

import (
	"fmt"
	"strings"
)

// Explain returns the effective value at the given YAML-like path and
// its source.
//
// Supported paths include:
//
//	target_fps
//	performance_profile
//	capture_mode
//	log_level
//	fallback.enabled
//	fallback.failure_threshold
//	fallback.cooldown_seconds
//	fallback.max_recovery_attempts
//	adaptive.enabled
//	adaptive.min_fps
//	timeouts.hardware_ms
//	timeouts.compositing_ms
//	region_presets.<name>.width
func Explain(res *LoadResult, path string) (any, Source, error) {
	if res == nil || res.Config == nil {
		return nil, Source{}, fmt.Errorf("no config loaded")
	}
	if path == "" {
		return nil, Source{}, fmt.Errorf("path is empty")
	}

	value, err := lookupValue(res.Config, path)
	if err != nil {
		return nil, Source{}, err
	}

	// Exact-path file source wins; anything else is a default.
	if src, ok := res.Sources[path]; ok {
		return value, src, nil
	}
	return value, Source{Kind: SourceDefault}, nil
}

func lookupValue(cfg *Config, path string) (any, error) {
	parts := strings.Split(path, ".")
	switch parts[0] {
	case "target_fps":
		if len(parts) != 1 {
			return nil, fmt.Errorf("unknown path: %s", path)
		}
		return cfg.TargetFPS, nil
	case "performance_profile":
		if len(parts) != 1 {
			return nil, fmt.Errorf("unknown path: %s", path)
		}
		return cfg.PerformanceProfile, nil
	case "capture_mode":
		if len(parts) != 1 {
			return nil, fmt.Errorf("unknown path: %s", path)
		}
		return cfg.CaptureMode, nil
	case "log_level":
		if len(parts) != 1 {
			return nil, fmt.Errorf("unknown path: %s", path)
		}
		return cfg.LogLevel, nil
	case "fallback":
		if len(parts) == 1 {
			return cfg.Fallback, nil
		}
		if len(parts) != 2 {
			return nil, fmt.Errorf("unknown path: %s", path)
		}
		switch parts[1] {
		case "enabled":
			return cfg.Fallback.Enabled, nil
		case "failure_threshold":
			return cfg.Fallback.FailureThreshold, nil
		case "cooldown_seconds":
			return cfg.Fallback.CooldownSeconds, nil
		case "max_recovery_attempts":
			return cfg.Fallback.MaxRecoveryAttempts, nil
		default:
			return nil, fmt.Errorf("unknown path: %s", path)
		}
	case "adaptive":
		if len(parts) == 1 {
			return cfg.Adaptive, nil
		}
		if len(parts) != 2 {
			return nil, fmt.Errorf("unknown path: %s", path)
		}
		switch parts[1] {
		case "enabled":
			return cfg.Adaptive.Enabled, nil
		case "min_fps":
			return cfg.Adaptive.MinFPS, nil
		default:
			return nil, fmt.Errorf("unknown path: %s", path)
		}
	case "timeouts":
		if len(parts) == 1 {
			return cfg.Timeouts, nil
		}
		if len(parts) != 2 {
			return nil, fmt.Errorf("unknown path: %s", path)
		}
		switch parts[1] {
		case "hardware_ms":
			return cfg.Timeouts.HardwareMS, nil
		case "compositing_ms":
			return cfg.Timeouts.CompositingMS, nil
		default:
			return nil, fmt.Errorf("unknown path: %s", path)
		}
	case "region_presets":
		if len(parts) == 1 {
			return cfg.RegionPresets, nil
		}
		name := parts[1]
		preset, ok := cfg.RegionPresets[name]
		if !ok {
			return nil, fmt.Errorf("unknown region_presets entry %q", name)
		}
		if len(parts) == 2 {
			return preset, nil
		}
		if len(parts) != 3 {
			return nil, fmt.Errorf("unknown path: %s", path)
		}
		switch parts[2] {
		case "monitor":
			return preset.Monitor, nil
		case "x":
			return preset.X, nil
		case "y":
			return preset.Y, nil
		case "width":
			return preset.Width, nil
		case "height":
			return preset.Height, nil
		default:
			return nil, fmt.Errorf("unknown path: %s", path)
		}
	default:
		return nil, fmt.Errorf("unknown path: %s", path)
	}
}
