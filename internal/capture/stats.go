package capture

import (
	"time"

	"github.com/overglass/capscope/internal/backend"
	"github.com/overglass/capscope/internal/config"
)

// BackendStats aggregates capture attempts against one backend kind.
type BackendStats struct {
	Attempts       uint64
	Failures       uint64
	AverageLatency time.Duration
}

// Stats is a point-in-time snapshot of the orchestrator counters.
type Stats struct {
	TotalFrames        uint64
	SuccessFrames      uint64
	FailedFrames       uint64
	BackendSwitches    uint64
	Fallbacks          uint64
	Recoveries         uint64
	RateAdjustments    uint64
	AverageCaptureTime time.Duration

	ActiveBackend BackendID
	Mode          config.Mode
	TargetFPS     int
	Profile       config.Profile
	QualityScale  float64
	Running       bool

	Backends        map[backend.Kind]BackendStats
	FramesByMonitor map[int]uint64
}

type backendAccum struct {
	attempts   uint64
	failures   uint64
	latencySum time.Duration
}

// statsAccum is the running tally; only touched under the orchestrator
// mutex.
type statsAccum struct {
	total       uint64
	success     uint64
	failed      uint64
	switches    uint64
	fallbacks   uint64
	recoveries  uint64
	adjustments uint64
	attempts    uint64
	latencySum  time.Duration

	backends  map[backend.Kind]*backendAccum
	byMonitor map[int]uint64
}

func (s *statsAccum) recordAttempt(kind backend.Kind, latency time.Duration, ok bool) {
	s.attempts++
	s.latencySum += latency
	acc := s.backends[kind]
	if acc == nil {
		acc = &backendAccum{}
		s.backends[kind] = acc
	}
	acc.attempts++
	acc.latencySum += latency
	if !ok {
		acc.failures++
	}
}

// recordOutcome counts one CaptureFrame call; per-monitor counts only
// track delivered frames.
func (s *statsAccum) recordOutcome(monitor int, ok bool) {
	s.total++
	if ok {
		s.success++
		s.byMonitor[monitor]++
	} else {
		s.failed++
	}
}

// Stats returns a copy of the current counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := Stats{
		TotalFrames:     o.stats.total,
		SuccessFrames:   o.stats.success,
		FailedFrames:    o.stats.failed,
		BackendSwitches: o.stats.switches,
		Fallbacks:       o.stats.fallbacks,
		Recoveries:      o.stats.recoveries,
		RateAdjustments: o.stats.adjustments,
		ActiveBackend:   o.active,
		Mode:            o.mode,
		TargetFPS:       o.targetFPS,
		Profile:         o.profile,
		QualityScale:    o.effectiveScaleLocked(),
		Running:         o.running,
		Backends:        make(map[backend.Kind]BackendStats, len(o.stats.backends)),
		FramesByMonitor: make(map[int]uint64, len(o.stats.byMonitor)),
	}
	if o.stats.attempts > 0 {
		st.AverageCaptureTime = o.stats.latencySum / time.Duration(o.stats.attempts)
	}
	for kind, acc := range o.stats.backends {
		b := BackendStats{Attempts: acc.attempts, Failures: acc.failures}
		if acc.attempts > 0 {
			b.AverageLatency = acc.latencySum / time.Duration(acc.attempts)
		}
		st.Backends[kind] = b
	}
	for id, n := range o.stats.byMonitor {
		st.FramesByMonitor[id] = n
	}
	return st
}
