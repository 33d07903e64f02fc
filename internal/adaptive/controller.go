// Package adaptive lowers the capture rate and quality when achieved
// throughput falls behind the target. It only ever steps down; raising
// the rate again is a user decision.
package adaptive

import (
	"log/slog"
	"sync"
	"time"

	"github.com/overglass/capscope/internal/config"
)

// Defaults for Config fields left zero.
const (
	// DefaultWindow is how many frame times are retained.
	DefaultWindow = 30
	// DefaultSampleCount is how many recent frame times the achieved
	// rate is computed from.
	DefaultSampleCount = 5
	// DefaultAdjustRatio is the achieved/target ratio below which an
	// adjustment is due.
	DefaultAdjustRatio = 0.8
	// DefaultSevereRatio is the ratio below which the severe downgrade
	// applies.
	DefaultSevereRatio = 0.5
	// DefaultCooldown spaces out adjustments.
	DefaultCooldown = 5 * time.Second
	// DefaultMinFrameRate is the floor no adjustment goes under.
	DefaultMinFrameRate = 5
)

// Config tunes the controller. Zero fields take the defaults above.
type Config struct {
	Window       int
	SampleCount  int
	AdjustRatio  float64
	SevereRatio  float64
	Cooldown     time.Duration
	MinFrameRate int
	Logger       *slog.Logger

	// Now overrides the clock used for cooldown arithmetic.
	Now func() time.Time
}

// Suggestion is one downgrade step: fractional reductions plus the
// profile to land on.
type Suggestion struct {
	RateReduction    float64
	QualityReduction float64
	Profile          config.Profile
}

// Controller tracks recent frame times and suggests downgrades when the
// pipeline cannot keep up with the target rate.
type Controller struct {
	mu         sync.Mutex
	cfg        Config
	frameTimes []time.Duration
	lastAdjust time.Time

	now func() time.Time
}

// New creates a controller. Zero config fields take the package
// defaults.
func New(cfg Config) *Controller {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.SampleCount <= 0 {
		cfg.SampleCount = DefaultSampleCount
	}
	if cfg.AdjustRatio <= 0 {
		cfg.AdjustRatio = DefaultAdjustRatio
	}
	if cfg.SevereRatio <= 0 {
		cfg.SevereRatio = DefaultSevereRatio
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.MinFrameRate <= 0 {
		cfg.MinFrameRate = DefaultMinFrameRate
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Controller{cfg: cfg, now: cfg.Now}
}

// RecordFrameTime adds one end-to-end frame duration to the window.
func (c *Controller) RecordFrameTime(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frameTimes = append(c.frameTimes, d)
	if len(c.frameTimes) > c.cfg.Window {
		c.frameTimes = c.frameTimes[len(c.frameTimes)-c.cfg.Window:]
	}
}

// AchievedFPS returns the frame rate implied by the most recent frame
// times, zero when there are none yet.
func (c *Controller) AchievedFPS() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.achievedFPS()
}

// ShouldAdjust reports whether a downgrade is due: a full sample set,
// achieved rate under the adjust ratio, and the cooldown passed.
func (c *Controller) ShouldAdjust(targetFPS int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if targetFPS <= 0 || len(c.frameTimes) < c.cfg.SampleCount {
		return false
	}
	if !c.lastAdjust.IsZero() && c.now().Sub(c.lastAdjust) < c.cfg.Cooldown {
		return false
	}
	return c.achievedFPS()/float64(targetFPS) < c.cfg.AdjustRatio
}

// Recommend returns the downgrade for the current shortfall and starts
// the adjustment cooldown. Falling under half the target gets the severe
// step; anything else the moderate one.
func (c *Controller) Recommend(targetFPS int) Suggestion {
	c.mu.Lock()
	defer c.mu.Unlock()

	achieved := c.achievedFPS()
	ratio := 0.0
	if targetFPS > 0 {
		ratio = achieved / float64(targetFPS)
	}
	c.lastAdjust = c.now()

	s := Suggestion{RateReduction: 0.2, QualityReduction: 0.1, Profile: config.ProfileNormal}
	if ratio < c.cfg.SevereRatio {
		s = Suggestion{RateReduction: 0.5, QualityReduction: 0.3, Profile: config.ProfileLow}
	}
	c.cfg.Logger.Info("capture falling behind, downgrading",
		"achieved_fps", achieved,
		"target_fps", targetFPS,
		"rate_reduction", s.RateReduction,
		"quality_reduction", s.QualityReduction,
		"profile", s.Profile)
	return s
}

// Apply computes the new target rate for a suggestion. The result never
// goes under the floor and never above the current rate.
func (c *Controller) Apply(current int, s Suggestion) int {
	next := int(float64(current) * (1 - s.RateReduction))
	if next < c.cfg.MinFrameRate {
		next = c.cfg.MinFrameRate
	}
	// A target already under the floor stays put rather than being
	// raised to it.
	if next > current {
		next = current
	}
	return next
}

func (c *Controller) achievedFPS() float64 {
	if len(c.frameTimes) == 0 {
		return 0
	}
	n := c.cfg.SampleCount
	if n > len(c.frameTimes) {
		n = len(c.frameTimes)
	}
	var sum time.Duration
	for _, d := range c.frameTimes[len(c.frameTimes)-n:] {
		sum += d
	}
	avg := sum / time.Duration(n)
	if avg <= 0 {
		return 0
	}
	return float64(time.Second) / float64(avg)
}
