package display

import (
	"errors"
	"fmt"

	"github.com/kbinani/screenshot"

	"github.com/overglass/capscope/internal/geom"
)

// Values reported when the platform cannot supply the real ones.
const (
	defaultDPI        = 96.0
	defaultRefreshHz  = 60.0
	defaultColorDepth = 24
)

// Provider enumerates the displays attached to the system.
type Provider interface {
	Detect() ([]MonitorInfo, error)
}

// Chain returns a provider that tries each given provider in order and
// returns the first successful detection.
func Chain(providers ...Provider) Provider { return chainProvider(providers) }

type chainProvider []Provider

func (c chainProvider) Detect() ([]MonitorInfo, error) {
	var errs []error
	for _, p := range c {
		monitors, err := p.Detect()
		if err == nil && len(monitors) > 0 {
			return monitors, nil
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("no displays detected")
	}
	return nil, errors.Join(errs...)
}

// boundsProvider enumerates displays through the portable screenshot
// library. It sees geometry only; DPI, refresh rate and color depth get
// defaults.
type boundsProvider struct{}

func (boundsProvider) Detect() ([]MonitorInfo, error) {
	n := screenshot.NumActiveDisplays()
	if n <= 0 {
		return nil, fmt.Errorf("no active displays reported")
	}

	monitors := make([]MonitorInfo, 0, n)
	for i := 0; i < n; i++ {
		b := geom.FromImageRect(screenshot.GetDisplayBounds(i))
		if b.Empty() {
			continue
		}
		monitors = append(monitors, MonitorInfo{
			ID:          i,
			Name:        fmt.Sprintf("display-%d", i),
			Bounds:      b,
			WorkArea:    b,
			Primary:     i == 0, // display 0 is the main display
			DPIX:        defaultDPI,
			DPIY:        defaultDPI,
			ScaleFactor: 1.0,
			Orientation: orientationForBounds(b),
			RefreshRate: defaultRefreshHz,
			ColorDepth:  defaultColorDepth,
			Available:   true,
		})
	}
	if len(monitors) == 0 {
		return nil, fmt.Errorf("no usable displays")
	}
	return monitors, nil
}

func orientationForBounds(b geom.Rect) Orientation {
	if b.Height > b.Width {
		return OrientationPortrait
	}
	return OrientationLandscape
}
