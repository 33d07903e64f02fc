//go:build linux

package backend

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"

	"github.com/overglass/capscope/internal/display"
	"github.com/overglass/capscope/internal/frame"
	"github.com/overglass/capscope/internal/geom"
)

// Duplication captures straight off the X server over one persistent
// connection, skipping the per-call connection setup the compositing
// path pays. Region grabs the server rejects are retried against the
// whole root window and cropped; once that happens the backend stays in
// crop mode for the rest of the session.
type Duplication struct {
	mu         sync.Mutex
	region     display.Region
	configured bool
	cropMode   bool
	timeout    time.Duration
	logger     *slog.Logger

	xu   *xgbutil.XUtil
	root geom.Rect

	warmupFailures int
	nonFunctional  bool
}

var _ Backend = (*Duplication)(nil)

// NewDuplication creates the direct X11 backend. A zero timeout uses
// DefaultDuplicationTimeout.
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

// Available reports false without a DISPLAY to talk to, or once warm-up
// has been exhausted.
func (d *Duplication) Available() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.nonFunctional && os.Getenv("DISPLAY") != ""
}

// Configure binds the backend to a region. The connection serves every
// monitor, so retargeting never tears it down.
func (d *Duplication) Configure(region display.Region) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.nonFunctional {
		return ErrUnavailable
	}
	if region.Bounds.Empty() {
		return fmt.Errorf("duplication: empty region %+v", region.Bounds)
	}

	if d.xu == nil {
		if err := d.warmUpLocked(); err != nil {
			return err
		}
	}
	d.region = region
	d.configured = true
	return nil
}

// CaptureOnce grabs one frame of the configured region.
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
	if d.xu == nil {
		// Connection was dropped after a failure; warm up again.
		if err := d.warmUpLocked(); err != nil {
			return nil, err
		}
	}

	if d.cropMode {
		return d.captureCroppedLocked(ctx)
	}

	img, err := d.getImageLocked(ctx, d.region.Bounds)
	if err == nil {
		return frame.New(img, d.region), nil
	}

	var matchErr xproto.MatchError
	if errors.As(err, &matchErr) {
		// The server rejected the region grab. Grab the whole root
		// instead and crop; if that works, stick with it.
		f, rootErr := d.captureCroppedLocked(ctx)
		if rootErr == nil {
			d.cropMode = true
			d.logger.Warn("region capture rejected by server, switching to full-screen crop",
				"region", d.region.Bounds,
				"root", d.root)
			return f, nil
		}
		err = rootErr
	}

	return nil, d.captureFailedLocked(err)
}

// Release drops the shared connection reference.
func (d *Duplication) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.teardownLocked()
	d.configured = false
}

// captureFailedLocked classifies a capture error. Timeouts and context
// cancellation leave the connection alone; anything else drops it so the
// next capture redials.
func (d *Duplication) captureFailedLocked(err error) error {
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	d.logger.Warn("x11 capture failed, dropping connection", "error", err)
	d.teardownLocked()
	return fmt.Errorf("%w: %v", ErrDeviceLost, err)
}

// captureCroppedLocked grabs the whole root window and copies the
// configured region out of it.
func (d *Duplication) captureCroppedLocked(ctx context.Context) (*frame.Frame, error) {
	rootImg, err := d.getImageLocked(ctx, d.root)
	if err != nil {
		if d.cropMode {
			return nil, d.captureFailedLocked(err)
		}
		return nil, err
	}

	rect := d.region.Bounds
	out := image.NewRGBA(image.Rect(0, 0, rect.Width, rect.Height))
	src := image.Point{X: rect.X - d.root.X, Y: rect.Y - d.root.Y}
	draw.Draw(out, out.Bounds(), rootImg, src, draw.Src)
	return frame.New(out, d.region), nil
}

// getImageLocked fetches one rectangle from the server. The reply wait
// runs on its own goroutine so a stalled server cannot hold the pipeline
// past the configured timeout.
func (d *Duplication) getImageLocked(ctx context.Context, rect geom.Rect) (*image.RGBA, error) {
	type result struct {
		reply *xproto.GetImageReply
		err   error
	}
	conn := d.xu.Conn()
	drawable := xproto.Drawable(d.xu.RootWin())

	// Buffered so a late reply can still deliver and exit.
	ch := make(chan result, 1)
	go func() {
		reply, err := xproto.GetImage(conn, xproto.ImageFormatZPixmap, drawable,
			int16(rect.X), int16(rect.Y), uint16(rect.Width), uint16(rect.Height),
			0xffffffff).Reply()
		ch <- result{reply: reply, err: err}
	}()

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return bgrxToRGBA(res.reply.Data, rect.Width, rect.Height), nil
	case <-timer.C:
		d.logger.Debug("x11 GetImage timed out", "timeout", d.timeout, "rect", rect)
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
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
	xu, err := sharedX.acquire()
	if err != nil {
		return err
	}

	screen := xu.Screen()
	if screen.RootDepth != 24 && screen.RootDepth != 32 {
		sharedX.release()
		return fmt.Errorf("unsupported root depth %d", screen.RootDepth)
	}

	d.xu = xu
	d.root = geom.Rect{
		Width:  int(screen.WidthInPixels),
		Height: int(screen.HeightInPixels),
	}
	return nil
}

func (d *Duplication) teardownLocked() {
	if d.xu != nil {
		sharedX.release()
		d.xu = nil
	}
}

// bgrxToRGBA converts 32-bit ZPixmap data, which X hands over as BGRX,
// into an RGBA image.
func bgrxToRGBA(data []byte, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	n := len(img.Pix)
	if len(data) < n {
		n = len(data)
	}
	for i := 0; i+3 < n; i += 4 {
		img.Pix[i] = data[i+2]
		img.Pix[i+1] = data[i+1]
		img.Pix[i+2] = data[i]
		img.Pix[i+3] = 0xff
	}
	return img
}
