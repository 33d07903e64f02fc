package backend

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/kbinani/screenshot"

	"github.com/overglass/capscope/internal/display"
	"github.com/overglass/capscope/internal/frame"
)

// grabFunc captures the given desktop rectangle. Tests swap it out.
type grabFunc func(rect image.Rectangle) (*image.RGBA, error)

// Compositing captures through the window system's composited desktop
// image. It works on every platform the process can reach a display on
// and serves as the fallback when output duplication fails.
type Compositing struct {
	mu         sync.Mutex
	region     display.Region
	configured bool
	timeout    time.Duration
	grab       grabFunc
	logger     *slog.Logger
}

var _ Backend = (*Compositing)(nil)

// NewCompositing creates the compositing backend. A zero timeout uses
// DefaultCompositingTimeout.
func NewCompositing(timeout time.Duration, logger *slog.Logger) *Compositing {
	if timeout <= 0 {
		timeout = DefaultCompositingTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compositing{
		timeout: timeout,
		grab:    screenshot.CaptureRect,
		logger:  logger,
	}
}

// Kind reports KindCompositing.
func (c *Compositing) Kind() Kind { return KindCompositing }

// Available always reports true: the compositing grab has no native
// state to warm up and is the last resort either way.
func (c *Compositing) Available() bool { return true }

// Configure binds the backend to a region. There is no native setup, so
// this never degrades the backend.
func (c *Compositing) Configure(region display.Region) error {
	if region.Bounds.Empty() {
		return fmt.Errorf("compositing: empty region %+v", region.Bounds)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.region = region
	c.configured = true
	return nil
}

// CaptureOnce grabs one frame of the configured region. The grab runs on
// its own goroutine so a wedged window-system call cannot stall the
// pipeline past the configured timeout.
func (c *Compositing) CaptureOnce(ctx context.Context) (*frame.Frame, error) {
	c.mu.Lock()
	if !c.configured {
		c.mu.Unlock()
		return nil, ErrNotConfigured
	}
	region := c.region
	grab := c.grab
	timeout := c.timeout
	c.mu.Unlock()

	type result struct {
		img *image.RGBA
		err error
	}
	// Buffered so a late grab can still deliver and exit.
	ch := make(chan result, 1)
	go func() {
		img, err := grab(region.Bounds.ImageRect())
		ch <- result{img: img, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("compositing grab: %w", res.err)
		}
		return frame.New(res.img, region), nil
	case <-timer.C:
		c.logger.Debug("compositing grab timed out", "timeout", timeout, "region", region.Bounds)
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release clears the configured region.
func (c *Compositing) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configured = false
}
