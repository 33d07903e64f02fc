// Package health watches capture outcomes and decides when the active
// backend has degraded enough to fall back, and when the primary looks
// healthy enough to try going back.
package health

import (
	"log/slog"
	"sync"
	"time"
)

// Active names which backend the samples are coming from.
type Active int

const (
	// ActivePrimary means the preferred backend is capturing.
	ActivePrimary Active = iota
	// ActiveFallback means capture has fallen back.
	ActiveFallback
)

// Defaults for Config fields left zero.
const (
	// DefaultFailureThreshold is how many consecutive failures trip the
	// fallback.
	DefaultFailureThreshold = 20
	// DefaultLatencyWindow is how many recent samples are retained.
	DefaultLatencyWindow = 30
	// DefaultDegradeWindow is how many samples the degradation average
	// runs over.
	DefaultDegradeWindow = 10
	// DefaultDegradeFactor scales the target frame time into the
	// unacceptable average: avg > target/factor trips the fallback.
	DefaultDegradeFactor = 0.3
	// DefaultCooldown suppresses repeated fallback decisions.
	DefaultCooldown = 10 * time.Second
	// DefaultMaxRecoveryAttempts bounds recovery probes per fallback
	// episode.
	DefaultMaxRecoveryAttempts = 5
	// DefaultRecoveryWindow is how many consecutive healthy samples
	// recovery requires.
	DefaultRecoveryWindow = 20
	// DefaultHealthyLatency is the per-sample bar for recovery.
	DefaultHealthyLatency = 100 * time.Millisecond
)

// Config tunes the detector. Zero fields take the defaults above.
type Config struct {
	FailureThreshold    int
	LatencyWindow       int
	DegradeWindow       int
	DegradeFactor       float64
	Cooldown            time.Duration
	MaxRecoveryAttempts int
	RecoveryWindow      int
	HealthyLatency      time.Duration
	TargetFrameTime     time.Duration
	Logger              *slog.Logger

	// Now overrides the clock used for cooldown arithmetic.
	Now func() time.Time
}

type sample struct {
	ok      bool
	latency time.Duration
}

// Detector accumulates capture samples and answers the two questions the
// orchestrator asks after every frame: should we fall back, and should
// we probe the primary again.
type Detector struct {
	mu  sync.Mutex
	cfg Config

	targetFrameTime     time.Duration
	consecutiveFailures int
	samples             []sample
	lastFallback        time.Time
	recoveryAttempts    int

	now func() time.Time
}

// New creates a detector. Zero config fields take the package defaults.
func New(cfg Config) *Detector {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.LatencyWindow <= 0 {
		cfg.LatencyWindow = DefaultLatencyWindow
	}
	if cfg.DegradeWindow <= 0 {
		cfg.DegradeWindow = DefaultDegradeWindow
	}
	if cfg.DegradeFactor <= 0 {
		cfg.DegradeFactor = DefaultDegradeFactor
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.MaxRecoveryAttempts <= 0 {
		cfg.MaxRecoveryAttempts = DefaultMaxRecoveryAttempts
	}
	if cfg.RecoveryWindow <= 0 {
		cfg.RecoveryWindow = DefaultRecoveryWindow
	}
	if cfg.HealthyLatency <= 0 {
		cfg.HealthyLatency = DefaultHealthyLatency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Detector{
		cfg:             cfg,
		targetFrameTime: cfg.TargetFrameTime,
		now:             cfg.Now,
	}
}

// SetTargetFrameTime updates the frame budget the degradation average is
// judged against.
func (d *Detector) SetTargetFrameTime(t time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.targetFrameTime = t
}

// Observe records one capture outcome without deciding anything. Used
// when the capture mode is pinned and fallback is off the table.
func (d *Detector) Observe(success bool, latency time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(success, latency)
}

// ShouldFallBack records one capture outcome and reports whether the
// orchestrator should switch to the fallback backend. A true return
// starts the cooldown; further fallback decisions are suppressed until
// it passes.
func (d *Detector) ShouldFallBack(active Active, success bool, latency time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(success, latency)

	if active != ActivePrimary {
		return false
	}
	if !d.lastFallback.IsZero() && d.now().Sub(d.lastFallback) < d.cfg.Cooldown {
		return false
	}

	byFailures := d.consecutiveFailures >= d.cfg.FailureThreshold
	byLatency := d.degraded()
	if !byFailures && !byLatency {
		return false
	}

	d.cfg.Logger.Info("capture backend degraded, falling back",
		"consecutive_failures", d.consecutiveFailures,
		"avg_latency", d.average(d.cfg.DegradeWindow),
		"by_failures", byFailures,
		"by_latency", byLatency)
	d.lastFallback = d.now()
	d.consecutiveFailures = 0
	return true
}

// ShouldAttemptRecovery reports whether the primary backend deserves a
// probe: only while on fallback, only while attempts remain, only after
// twice the cooldown, and only when every sample in the recovery window
// was a fast success.
func (d *Detector) ShouldAttemptRecovery(active Active) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if active != ActiveFallback {
		return false
	}
	if d.recoveryAttempts >= d.cfg.MaxRecoveryAttempts {
		return false
	}
	if d.lastFallback.IsZero() || d.now().Sub(d.lastFallback) < 2*d.cfg.Cooldown {
		return false
	}
	if len(d.samples) < d.cfg.RecoveryWindow {
		return false
	}
	for _, s := range d.samples[len(d.samples)-d.cfg.RecoveryWindow:] {
		if !s.ok || s.latency >= d.cfg.HealthyLatency {
			return false
		}
	}
	return true
}

// NoteRecoveryAttempt burns one recovery attempt.
func (d *Detector) NoteRecoveryAttempt() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recoveryAttempts++
	d.cfg.Logger.Info("probing primary backend",
		"attempt", d.recoveryAttempts,
		"max", d.cfg.MaxRecoveryAttempts)
}

// NoteRecovered resets the episode after a successful switch back to the
// primary backend.
func (d *Detector) NoteRecovered() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recoveryAttempts = 0
	d.consecutiveFailures = 0
	d.cfg.Logger.Info("primary backend recovered")
}

// ConsecutiveFailures returns the current failure streak.
func (d *Detector) ConsecutiveFailures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.consecutiveFailures
}

// RecoveryAttempts returns the probes burned this fallback episode.
func (d *Detector) RecoveryAttempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.recoveryAttempts
}

// AverageLatency returns the degradation-window average, zero when there
// are no samples yet.
func (d *Detector) AverageLatency() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.average(d.cfg.DegradeWindow)
}

func (d *Detector) record(success bool, latency time.Duration) {
	if success {
		d.consecutiveFailures = 0
	} else {
		d.consecutiveFailures++
	}
	d.samples = append(d.samples, sample{ok: success, latency: latency})
	if len(d.samples) > d.cfg.LatencyWindow {
		d.samples = d.samples[len(d.samples)-d.cfg.LatencyWindow:]
	}
}

// degraded reports whether the recent average latency blows the frame
// budget. It stays quiet until a full degradation window of samples
// exists.
func (d *Detector) degraded() bool {
	if d.targetFrameTime <= 0 || len(d.samples) < d.cfg.DegradeWindow {
		return false
	}
	// With the default factor 0.3 and a 30 fps budget of 33.3ms, the
	// average has to exceed 111ms before latency alone trips fallback.
	limit := time.Duration(float64(d.targetFrameTime) / d.cfg.DegradeFactor)
	return d.average(d.cfg.DegradeWindow) > limit
}

func (d *Detector) average(window int) time.Duration {
	if len(d.samples) == 0 {
		return 0
	}
	if window > len(d.samples) {
		window = len(d.samples)
	}
	var sum time.Duration
	for _, s := range d.samples[len(d.samples)-window:] {
		sum += s.latency
	}
	return sum / time.Duration(window)
}
