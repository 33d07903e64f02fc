//go:build windows

package backend

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/kbinani/screenshot"
	"github.com/kirides/screencapture/d3d"
	"github.com/kirides/screencapture/win"

	"github.com/overglass/capscope/internal/display"
	"github.com/overglass/capscope/internal/frame"
	"github.com/overglass/capscope/internal/geom"
)

// Duplication captures through IDXGIOutputDuplication. The duplicator
// always serves a whole output, so a sub-monitor region puts the backend
// into crop mode: it duplicates the full output and copies the requested
// rectangle out of the staging buffer.
type Duplication struct {
	mu         sync.Mutex
	region     display.Region
	output     geom.Rect
	configured bool
	cropMode   bool
	timeout    time.Duration
	logger     *slog.Logger

	dup        *d3d.OutputDuplicator
	haveDevice bool
	buf        *image.RGBA
	havePrev   bool

	warmupFailures int
	nonFunctional  bool
}

var _ Backend = (*Duplication)(nil)

// NewDuplication creates the output-duplication backend. A zero timeout
// uses DefaultDuplicationTimeout.
func NewDuplication(timeout time.Duration, logger *slog.Logger) *Duplication {
	if timeout <= 0 {
		timeout = DefaultDuplicationTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Duplication{timeout: timeout, logger: logger}
}

// Kind reports KindDuplication.
func (d *Duplication) Kind() Kind { return KindDuplication }

// Available reports false once warm-up has been exhausted.
func (d *Duplication) Available() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.nonFunctional
}

// Configure binds the backend to a region. Retargeting within the same
// output keeps the duplicator and staging buffer; moving to another
// monitor tears the native state down and warms up again.
func (d *Duplication) Configure(region display.Region) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.nonFunctional {
		return ErrUnavailable
	}
	if region.Bounds.Empty() {
		return fmt.Errorf("duplication: empty region %+v", region.Bounds)
	}

	if d.configured && d.dup != nil && region.Monitor == d.region.Monitor {
		d.region = region
		d.setCropModeLocked()
		return nil
	}

	d.teardownLocked()
	d.region = region
	if err := d.warmUpLocked(); err != nil {
		return err
	}
	d.configured = true
	return nil
}

// CaptureOnce grabs one frame of the configured region. The native call
// blocks at most the configured timeout, so the context is only checked
// up front.
func (d *Duplication) CaptureOnce(ctx context.Context) (*frame.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.nonFunctional {
		return nil, ErrUnavailable
	}
	if !d.configured {
		return nil, ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.dup == nil {
		// Native state was dropped after a device loss; warm up again.
		if err := d.warmUpLocked(); err != nil {
			return nil, err
		}
	}

	// Keep the thread, so d3d11/dxgi can use their threadlocal caches.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	setThreadDPIAware(d.logger)

	err := d.dup.GetImage(d.buf, int(d.timeout/time.Millisecond))
	switch {
	case err == nil:
		d.havePrev = true
	case errors.Is(err, d3d.ErrNoImageYet):
		// Nothing changed on screen since the last grab, so the staging
		// buffer still holds the current contents.
		if !d.havePrev {
			return nil, ErrTimeout
		}
	default:
		// Resolution change, fullscreen-exclusive handoff or an actual
		// device reset. Drop the native state; the next capture warms
		// up from scratch.
		d.logger.Warn("output duplication lost", "monitor", d.region.Monitor, "error", err)
		d.teardownLocked()
		return nil, fmt.Errorf("%w: %v", ErrDeviceLost, err)
	}

	return d.frameLocked(), nil
}

// Release frees the duplicator and the device reference.
func (d *Duplication) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.teardownLocked()
	d.configured = false
}

// warmUpLocked attempts the native setup, counting failures. Once the
// budget is exhausted the backend reports unavailable for the rest of
// the session; a successful setup resets the count.
func (d *Duplication) warmUpLocked() error {
	err := d.setupLocked()
	if err == nil {
		d.warmupFailures = 0
		return nil
	}
	d.warmupFailures++
	d.logger.Warn("duplication warm-up failed",
		"attempt", d.warmupFailures,
		"max", warmupAttempts,
		"error", err)
	if d.warmupFailures >= warmupAttempts {
		d.nonFunctional = true
		d.logger.Error("duplication disabled for this session", "attempts", d.warmupFailures)
		return fmt.Errorf("%w: warm-up exhausted: %v", ErrUnavailable, err)
	}
	return err
}

func (d *Duplication) setupLocked() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	setThreadDPIAware(d.logger)

	device, deviceCtx, err := sharedDevice.acquire()
	if err != nil {
		return err
	}
	d.haveDevice = true

	dup, err := d3d.NewIDXGIOutputDuplication(device, deviceCtx, uint(d.region.Monitor))
	if err != nil {
		sharedDevice.release()
		d.haveDevice = false
		return fmt.Errorf("output duplication for monitor %d: %w", d.region.Monitor, err)
	}

	// Monitor IDs are positional and match the display indices here.
	bounds := screenshot.GetDisplayBounds(d.region.Monitor)
	d.output = geom.FromImageRect(bounds)
	d.buf = image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	d.dup = dup
	d.havePrev = false
	d.setCropModeLocked()
	return nil
}

// setCropModeLocked flips crop mode when the region does not cover the
// whole duplicated output.
func (d *Duplication) setCropModeLocked() {
	crop := d.region.Bounds != d.output
	if crop && !d.cropMode {
		d.logger.Info("duplication serves the whole output, cropping to region",
			"monitor", d.region.Monitor,
			"region", d.region.Bounds,
			"output", d.output)
	}
	d.cropMode = crop
}

// frameLocked copies the requested rectangle out of the staging buffer,
// so the caller owns its pixels outright.
func (d *Duplication) frameLocked() *frame.Frame {
	rect := d.region.Bounds
	out := image.NewRGBA(image.Rect(0, 0, rect.Width, rect.Height))
	src := image.Point{X: rect.X - d.output.X, Y: rect.Y - d.output.Y}
	draw.Draw(out, out.Bounds(), d.buf, src, draw.Src)
	return frame.New(out, d.region)
}

func (d *Duplication) teardownLocked() {
	if d.dup != nil {
		d.dup.Release()
		d.dup = nil
	}
	if d.haveDevice {
		sharedDevice.release()
		d.haveDevice = false
	}
	d.havePrev = false
}

// setThreadDPIAware makes the current thread per-monitor DPI aware where
// the OS supports it, which lets windows hand over pixels without
// additional scaling.
func setThreadDPIAware(logger *slog.Logger) {
	if !win.IsValidDpiAwarenessContext(win.DpiAwarenessContextPerMonitorAwareV2) {
		return
	}
	if _, err := win.SetThreadDpiAwarenessContext(win.DpiAwarenessContextPerMonitorAwareV2); err != nil {
		logger.Debug("per-monitor DPI awareness not applied", "error", err)
	}
}
