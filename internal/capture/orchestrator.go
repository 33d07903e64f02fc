// Package capture orchestrates screen capture across backends. It
// resolves capture regions against the monitor topology, watches the
// health of the active backend, falls back and recovers on its own, and
// paces a continuous capture loop against the target frame rate.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	xdraw "golang.org/x/image/draw"

	"github.com/overglass/capscope/internal/adaptive"
	"github.com/overglass/capscope/internal/backend"
	"github.com/overglass/capscope/internal/config"
	"github.com/overglass/capscope/internal/display"
	"github.com/overglass/capscope/internal/frame"
	"github.com/overglass/capscope/internal/geom"
	"github.com/overglass/capscope/internal/health"
)

// Hard ceiling on a single capture region, 8K in each dimension.
const (
	MaxRegionWidth  = 7680
	MaxRegionHeight = 4320
)

// minQualityScale is the floor under the effective scale after adaptive
// quality reductions.
const minQualityScale = 0.3

// SourceKind selects how the region argument of CaptureFrame is read.
type SourceKind string

const (
	// SourceScreen captures a whole monitor; only Region.Monitor is read.
	SourceScreen SourceKind = "screen"
	// SourceRegion captures an explicit desktop-coordinate rectangle.
	SourceRegion SourceKind = "region"
	// SourceWindow captures the rectangle of one window. The caller
	// resolves the window geometry into Bounds; the handle rides along
	// on the region.
	SourceWindow SourceKind = "window"
)

// BackendID names the role a backend plays in the orchestrator.
type BackendID string

const (
	// BackendHardware is the preferred duplication path.
	BackendHardware BackendID = "hardware"
	// BackendFallback is the portable compositing path.
	BackendFallback BackendID = "fallback"
)

var (
	// ErrRegionInvalid rejects a capture region before any backend is
	// touched: empty, oversized, or entirely off-screen.
	ErrRegionInvalid = errors.New("capture region invalid")
	// ErrAllBackendsFailed means the active backend failed and no swap
	// produced a frame for this call.
	ErrAllBackendsFailed = errors.New("all capture backends failed")
)

// Consumer receives every frame the continuous loop produces. Consumers
// run synchronously on the loop goroutine in registration order.
type Consumer func(*frame.Frame)

// Options wires an Orchestrator. Nil fields take production defaults:
// the platform duplication backend, the compositing fallback, a
// topology on the system provider, and detector and controller built
// from the configuration.
type Options struct {
	Config     *config.Config
	Topology   *display.Topology
	Hardware   backend.Backend
	Fallback   backend.Backend
	Detector   *health.Detector
	Controller *adaptive.Controller
	Logger     *slog.Logger
}

// Orchestrator owns the capture pipeline: region resolution, backend
// selection, health-driven fallback and recovery, adaptive rate
// control, and the continuous dispatch loop.
type Orchestrator struct {
	mu     sync.Mutex
	logger *slog.Logger

	cfg        *config.Config
	topo       *display.Topology
	hardware   backend.Backend
	fallback   backend.Backend
	detector   *health.Detector
	controller *adaptive.Controller

	mode      config.Mode
	active    BackendID
	profile   config.Profile
	quality   float64
	targetFPS int
	region    display.Region

	consumers []Consumer
	running   bool
	stop      chan struct{}
	done      chan struct{}

	stats statsAccum
}

// New builds an orchestrator. The configuration is validated before
// anything is wired; a nil Config takes the defaults.
func New(opts Options) (*Orchestrator, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	topo := opts.Topology
	if topo == nil {
		topo = display.NewTopology(display.SystemProvider(), logger)
	}
	hardware := opts.Hardware
	if hardware == nil {
		hardware = backend.NewDuplication(cfg.Timeouts.Hardware(), logger)
	}
	fallback := opts.Fallback
	if fallback == nil {
		fallback = backend.NewCompositing(cfg.Timeouts.Compositing(), logger)
	}
	detector := opts.Detector
	if detector == nil {
		detector = health.New(health.Config{
			FailureThreshold:    cfg.Fallback.FailureThreshold,
			Cooldown:            cfg.Fallback.Cooldown(),
			MaxRecoveryAttempts: cfg.Fallback.MaxRecoveryAttempts,
			TargetFrameTime:     frameInterval(cfg.TargetFPS),
			Logger:              logger,
		})
	}
	controller := opts.Controller
	if controller == nil {
		controller = adaptive.New(adaptive.Config{
			MinFrameRate: cfg.Adaptive.MinFPS,
			Logger:       logger,
		})
	}

	o := &Orchestrator{
		logger:     logger,
		cfg:        cfg,
		topo:       topo,
		hardware:   hardware,
		fallback:   fallback,
		detector:   detector,
		controller: controller,
		mode:       cfg.CaptureMode,
		profile:    cfg.PerformanceProfile,
		quality:    1.0,
		targetFPS:  cfg.TargetFPS,
	}
	o.stats.backends = make(map[backend.Kind]*backendAccum)
	o.stats.byMonitor = make(map[int]uint64)
	o.active = o.preferredLocked()
	o.region = topo.FullScreenRegion(topo.Primary().ID)
	return o, nil
}

// ConfigureRate sets the target frame rate. Out-of-range rates are
// rejected and the current rate stands.
func (o *Orchestrator) ConfigureRate(fps int) bool {
	if fps < config.MinTargetFPS || fps > config.MaxTargetFPS {
		o.logger.Warn("rejected frame rate",
			"fps", fps, "min", config.MinTargetFPS, "max", config.MaxTargetFPS)
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.targetFPS = fps
	o.detector.SetTargetFrameTime(frameInterval(fps))
	o.logger.Info("target frame rate set", "fps", fps)
	return true
}

// SetProfile switches the performance profile. An explicit choice
// clears any accumulated adaptive quality reduction.
func (o *Orchestrator) SetProfile(profile config.Profile) {
	switch profile {
	case config.ProfileHigh, config.ProfileNormal, config.ProfileLow:
	default:
		o.logger.Warn("ignoring unknown profile", "profile", profile)
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.profile = profile
	o.quality = 1.0
}

// SetMode pins capture to one backend ("hardware", "compositing") or
// returns it to automatic selection ("auto"). Pinned modes disable
// fallback swaps and recovery probes.
func (o *Orchestrator) SetMode(name string) bool {
	mode := config.Mode(name)
	switch mode {
	case config.ModeAuto, config.ModeHardware, config.ModeCompositing:
	default:
		o.logger.Warn("ignoring unknown capture mode", "mode", name)
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.mode = mode
	o.switchLocked(o.preferredLocked(), "mode")
	return true
}

// SetTargetRegion sets the region the continuous loop captures. The
// region is resolved immediately; later topology changes do not move
// it.
func (o *Orchestrator) SetTargetRegion(region display.Region) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	resolved, err := o.resolveRegionLocked(SourceRegion, region)
	if err != nil {
		return err
	}
	o.region = resolved
	o.logger.Debug("target region set",
		"bounds", resolved.Bounds, "monitor", resolved.Monitor)
	return nil
}

// TargetRegion returns the region the continuous loop captures.
func (o *Orchestrator) TargetRegion() display.Region {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.region
}

// ActiveBackend reports which backend the next capture will use.
func (o *Orchestrator) ActiveBackend() BackendID {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// CaptureFrame resolves and captures a single frame. A failure of the
// active backend may swap backends mid-call; the frame then comes from
// the replacement.
func (o *Orchestrator) CaptureFrame(kind SourceKind, region display.Region) (*frame.Frame, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	resolved, err := o.resolveRegionLocked(kind, region)
	if err != nil {
		o.logger.Warn("capture rejected", "kind", kind, "error", err)
		return nil, err
	}
	return o.captureLocked(context.Background(), resolved)
}

// Validate reports every readiness problem at once: rate bounds,
// backend availability for the configured mode, and the target region.
func (o *Orchestrator) Validate() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.validateLocked()
}

// ValidateRegion checks a region without capturing. It reports whether
// the region is usable plus a reason or clipping note.
func (o *Orchestrator) ValidateRegion(region display.Region) (bool, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	resolved, err := o.resolveRegionLocked(SourceRegion, region)
	if err != nil {
		return false, err.Error()
	}
	if resolved.Bounds != region.Bounds {
		b := resolved.Bounds
		return true, fmt.Sprintf("clipped to %dx%d+%d+%d on monitor %d",
			b.Width, b.Height, b.X, b.Y, resolved.Monitor)
	}
	return true, ""
}

// EnumerateMonitors returns the known monitors ordered by ID.
func (o *Orchestrator) EnumerateMonitors() []display.MonitorInfo {
	monitors := o.topo.Monitors()
	ids := make([]int, 0, len(monitors))
	for id := range monitors {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]display.MonitorInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, monitors[id])
	}
	return out
}

// PrimaryMonitorID returns the primary monitor's ID.
func (o *Orchestrator) PrimaryMonitorID() int {
	return o.topo.Primary().ID
}

// FullScreenRegion returns a region covering one whole monitor. A
// negative or unknown ID selects the primary.
func (o *Orchestrator) FullScreenRegion(monitor int) display.Region {
	return o.topo.FullScreenRegion(monitor)
}

// MonitorRegion builds a region from monitor-relative coordinates.
func (o *Orchestrator) MonitorRegion(id int, sub *geom.Rect) (display.Region, error) {
	return o.topo.Region(id, sub)
}

// RefreshMonitors re-enumerates the monitor topology.
func (o *Orchestrator) RefreshMonitors() error {
	return o.topo.Refresh()
}

// Close stops the continuous loop if running and releases both
// backends.
func (o *Orchestrator) Close() {
	o.StopContinuous()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hardware.Release()
	o.fallback.Release()
}

func (o *Orchestrator) validateLocked() error {
	var problems []error
	if o.targetFPS < config.MinTargetFPS || o.targetFPS > config.MaxTargetFPS {
		problems = append(problems, fmt.Errorf("target rate %d outside %d..%d",
			o.targetFPS, config.MinTargetFPS, config.MaxTargetFPS))
	}
	hw, fb := o.hardware.Available(), o.fallback.Available()
	switch {
	case !hw && !fb:
		problems = append(problems, fmt.Errorf("%w: no capture backend available", backend.ErrUnavailable))
	case o.mode == config.ModeHardware && !hw:
		problems = append(problems, fmt.Errorf("%w: hardware capture pinned but unavailable", backend.ErrUnavailable))
	case o.mode == config.ModeCompositing && !fb:
		problems = append(problems, fmt.Errorf("%w: compositing capture pinned but unavailable", backend.ErrUnavailable))
	}
	if o.region.Bounds.Empty() {
		problems = append(problems, fmt.Errorf("%w: no target region", ErrRegionInvalid))
	}
	return errors.Join(problems...)
}

// captureLocked runs the full per-frame pipeline on an already resolved
// region: attempt, health accounting, fallback or recovery, adaptive
// adjustment, and frame finishing.
func (o *Orchestrator) captureLocked(ctx context.Context, region display.Region) (*frame.Frame, error) {
	start := time.Now()
	producer := o.active
	f, latency, err := o.attemptLocked(ctx, producer, region)

	if o.swapsEnabledLocked() {
		if o.detector.ShouldFallBack(o.healthActiveLocked(), err == nil, latency) {
			if ff, fErr := o.fallBackLocked(ctx, region); fErr == nil && err != nil {
				producer = BackendFallback
				f, err = ff, nil
			}
		} else if o.detector.ShouldAttemptRecovery(o.healthActiveLocked()) {
			o.recoverLocked(ctx, region)
		}
	} else {
		o.detector.Observe(err == nil, latency)
	}

	o.maybeAdaptLocked(time.Since(start))

	if err != nil {
		o.stats.recordOutcome(region.Monitor, false)
		return nil, fmt.Errorf("%w: %v", ErrAllBackendsFailed, err)
	}
	o.stats.recordOutcome(region.Monitor, true)
	return o.finishLocked(f, producer), nil
}

// attemptLocked runs one capture on one backend and records it in the
// per-backend stats.
func (o *Orchestrator) attemptLocked(ctx context.Context, id BackendID, region display.Region) (*frame.Frame, time.Duration, error) {
	b := o.backendLocked(id)
	start := time.Now()
	var f *frame.Frame
	err := b.Configure(region)
	if err == nil {
		f, err = b.CaptureOnce(ctx)
	}
	latency := time.Since(start)
	o.stats.recordAttempt(b.Kind(), latency, err == nil)
	if err != nil {
		o.logger.Debug("capture attempt failed",
			"backend", id, "latency", latency, "error", err)
	}
	return f, latency, err
}

// fallBackLocked tries one capture on the compositing backend after the
// detector trips. The active backend changes only when that capture
// produces a frame; a dead fallback leaves hardware active, so a later
// hardware recovery is picked up by the next capture.
func (o *Orchestrator) fallBackLocked(ctx context.Context, region display.Region) (*frame.Frame, error) {
	if !o.fallback.Available() {
		o.logger.Info("fallback skipped, backend unavailable")
		return nil, backend.ErrUnavailable
	}
	f, latency, err := o.attemptLocked(ctx, BackendFallback, region)
	o.detector.Observe(err == nil, latency)
	if err != nil {
		o.logger.Info("fallback attempt failed", "error", err)
		return nil, err
	}
	o.switchLocked(BackendFallback, "health")
	o.stats.fallbacks++
	return f, nil
}

// recoverLocked burns one recovery attempt probing the hardware
// backend, switching back when the probe produces a frame.
func (o *Orchestrator) recoverLocked(ctx context.Context, region display.Region) {
	o.detector.NoteRecoveryAttempt()
	if !o.hardware.Available() {
		o.logger.Info("primary probe skipped, backend unavailable")
		return
	}
	if _, _, err := o.attemptLocked(ctx, BackendHardware, region); err != nil {
		o.logger.Info("primary probe failed", "error", err)
		return
	}
	o.switchLocked(BackendHardware, "recovery")
	o.stats.recoveries++
	o.detector.NoteRecovered()
}

// maybeAdaptLocked records the end-to-end frame time and applies a
// downgrade when the controller calls for one. The frame rate never
// goes under the controller floor; the quality multiplier never goes
// under minQualityScale.
func (o *Orchestrator) maybeAdaptLocked(frameTime time.Duration) {
	if !o.cfg.Adaptive.Enabled {
		return
	}
	o.controller.RecordFrameTime(frameTime)
	if !o.controller.ShouldAdjust(o.targetFPS) {
		return
	}
	sug := o.controller.Recommend(o.targetFPS)
	if next := o.controller.Apply(o.targetFPS, sug); next != o.targetFPS {
		o.targetFPS = next
		o.detector.SetTargetFrameTime(frameInterval(next))
		o.stats.adjustments++
	}
	o.profile = sug.Profile
	o.quality *= 1 - sug.QualityReduction
	if o.quality < minQualityScale {
		o.quality = minQualityScale
	}
	o.logger.Info("capture downgraded",
		"target_fps", o.targetFPS,
		"profile", o.profile,
		"scale", o.effectiveScaleLocked())
}

// finishLocked applies the effective scale and stamps frame metadata.
// The method records the backend that actually produced the frame,
// which can differ from the active one right after a recovery switch.
func (o *Orchestrator) finishLocked(f *frame.Frame, producer BackendID) *frame.Frame {
	scale := o.effectiveScaleLocked()
	if scale < 1.0 && f.RGBA != nil {
		f.RGBA = downscale(f.RGBA, scale)
	}
	f.Meta[frame.MetaMethod] = string(o.backendLocked(producer).Kind())
	f.Meta[frame.MetaFrameRate] = strconv.Itoa(o.targetFPS)
	f.Meta[frame.MetaProfile] = string(o.profile)
	f.Meta[frame.MetaScale] = strconv.FormatFloat(scale, 'f', 2, 64)
	return f
}

// resolveRegionLocked turns a caller-supplied region into a captureable
// one: full-screen lookup for screen sources; bounds checks, monitor
// re-homing, and clipping for the rest. The size cap binds on the
// resolved result, so an oversized request that clips down to a legal
// area is accepted rather than rejected.
func (o *Orchestrator) resolveRegionLocked(kind SourceKind, region display.Region) (display.Region, error) {
	var resolved display.Region
	switch kind {
	case SourceScreen:
		resolved = o.topo.FullScreenRegion(region.Monitor)
	case SourceRegion, SourceWindow:
		b := region.Bounds
		if b.Empty() {
			return display.Region{}, fmt.Errorf("%w: empty bounds", ErrRegionInvalid)
		}
		mon, ok := o.topo.Monitor(region.Monitor)
		if !ok || !mon.Bounds.ContainsRect(b) {
			// Stale or missing monitor hint; re-home to the monitor with
			// the largest overlap.
			if rehomed, found := o.topo.MonitorFor(b); found {
				mon, ok = rehomed, true
			}
		}
		if !ok {
			return display.Region{}, fmt.Errorf("%w: %dx%d+%d+%d is outside every monitor",
				ErrRegionInvalid, b.Width, b.Height, b.X, b.Y)
		}
		clipped := b.Clip(mon.Bounds)
		if clipped.Empty() {
			return display.Region{}, fmt.Errorf("%w: %dx%d+%d+%d is outside monitor %d",
				ErrRegionInvalid, b.Width, b.Height, b.X, b.Y, mon.ID)
		}
		if clipped != b {
			o.logger.Debug("capture region clipped",
				"requested", b, "clipped", clipped, "monitor", mon.ID)
		}
		resolved = display.Region{Bounds: clipped, Monitor: mon.ID, Window: region.Window}
	default:
		return display.Region{}, fmt.Errorf("%w: unknown source kind %q", ErrRegionInvalid, kind)
	}

	if b := resolved.Bounds; b.Width > MaxRegionWidth || b.Height > MaxRegionHeight {
		return display.Region{}, fmt.Errorf("%w: %dx%d exceeds %dx%d",
			ErrRegionInvalid, b.Width, b.Height, MaxRegionWidth, MaxRegionHeight)
	}
	return resolved, nil
}

// preferredLocked picks the backend the current mode calls for.
func (o *Orchestrator) preferredLocked() BackendID {
	switch o.mode {
	case config.ModeHardware:
		return BackendHardware
	case config.ModeCompositing:
		return BackendFallback
	default:
		if o.hardware.Available() {
			return BackendHardware
		}
		return BackendFallback
	}
}

func (o *Orchestrator) backendLocked(id BackendID) backend.Backend {
	if id == BackendFallback {
		return o.fallback
	}
	return o.hardware
}

func (o *Orchestrator) switchLocked(to BackendID, reason string) {
	if o.active == to {
		return
	}
	from := o.active
	o.active = to
	o.stats.switches++
	o.logger.Info("capture backend switched",
		"from", from, "to", to, "reason", reason)
}

func (o *Orchestrator) swapsEnabledLocked() bool {
	return o.mode == config.ModeAuto && o.cfg.Fallback.Enabled
}

func (o *Orchestrator) healthActiveLocked() health.Active {
	if o.active == BackendFallback {
		return health.ActiveFallback
	}
	return health.ActivePrimary
}

func (o *Orchestrator) effectiveScaleLocked() float64 {
	scale := o.profile.Scale() * o.quality
	if scale < minQualityScale {
		scale = minQualityScale
	}
	return scale
}

// frameInterval converts a frame rate into the per-frame budget.
func frameInterval(fps int) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Duration(int64(time.Second) / int64(fps))
}

// downscale resamples a frame to scale in each dimension, never under
// one pixel.
func downscale(img *image.RGBA, scale float64) *image.RGBA {
	w := int(float64(img.Rect.Dx()) * scale)
	h := int(float64(img.Rect.Dy()) * scale)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(out, out.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return out
}
