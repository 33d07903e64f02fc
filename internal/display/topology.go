package display

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/overglass/capscope/internal/geom"
)

// fallbackMonitor is installed when no display can be enumerated.
// Capturing from it will fail, but callers always see a usable topology
// instead of an empty one.
var fallbackMonitor = MonitorInfo{
	ID:          0,
	Name:        "synthesized-fallback",
	Bounds:      geom.Rect{Width: 1920, Height: 1080},
	WorkArea:    geom.Rect{Width: 1920, Height: 1080},
	Primary:     true,
	DPIX:        defaultDPI,
	DPIY:        defaultDPI,
	ScaleFactor: 1.0,
	Orientation: OrientationLandscape,
	RefreshRate: defaultRefreshHz,
	ColorDepth:  defaultColorDepth,
	Available:   false,
}

// Topology tracks the current multi-monitor arrangement. The monitor map
// is replaced wholesale on Refresh, so readers always observe a
// consistent snapshot and never a partial update.
type Topology struct {
	mu       sync.RWMutex
	provider Provider
	monitors map[int]MonitorInfo
	logger   *slog.Logger
}

// NewTopology enumerates monitors through the given provider. The result
// is never empty: when detection fails, a synthesized fallback monitor is
// installed so downstream consumers always have a target.
func NewTopology(provider Provider, logger *slog.Logger) *Topology {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Topology{provider: provider, logger: logger}
	// Refresh installs the fallback monitor on failure and logs it.
	_ = t.Refresh()
	return t
}

// Refresh re-enumerates monitors and replaces the map wholesale. Monitor
// IDs are positional and may change across calls; regions issued before
// the refresh keep their old snapshot and stay valid. A failed detection
// keeps the last good state, or installs the synthesized fallback when
// there is none.
func (t *Topology) Refresh() error {
	detected, err := t.provider.Detect()
	if err == nil && len(detected) == 0 {
		err = fmt.Errorf("provider reported no monitors")
	}
	if err != nil {
		t.mu.Lock()
		if len(t.monitors) == 0 {
			t.monitors = map[int]MonitorInfo{fallbackMonitor.ID: fallbackMonitor}
			t.logger.Warn("monitor enumeration failed, topology synthesized", "error", err)
		}
		t.mu.Unlock()
		return fmt.Errorf("monitor enumeration: %w", err)
	}

	fresh := make(map[int]MonitorInfo, len(detected))
	for i, mon := range detected {
		mon.ID = i
		fresh[i] = mon
	}
	ensurePrimary(fresh)

	t.mu.Lock()
	t.monitors = fresh
	t.mu.Unlock()
	return nil
}

// ensurePrimary leaves exactly one monitor marked primary. When the
// provider marks none, the lowest ID wins; when it marks several, the
// lowest-ID marked one wins.
func ensurePrimary(monitors map[int]MonitorInfo) {
	ids := sortedIDs(monitors)
	primary := -1
	for _, id := range ids {
		if monitors[id].Primary {
			primary = id
			break
		}
	}
	if primary == -1 {
		primary = ids[0]
	}
	for _, id := range ids {
		mon := monitors[id]
		mon.Primary = id == primary
		monitors[id] = mon
	}
}

// Monitors returns a copy of the current monitor map keyed by ID.
func (t *Topology) Monitors() map[int]MonitorInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[int]MonitorInfo, len(t.monitors))
	for id, mon := range t.monitors {
		out[id] = mon
	}
	return out
}

// Monitor returns the monitor with the given ID.
func (t *Topology) Monitor(id int) (MonitorInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	mon, ok := t.monitors[id]
	return mon, ok
}

// Primary returns the primary monitor.
func (t *Topology) Primary() MonitorInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, id := range sortedIDs(t.monitors) {
		if t.monitors[id].Primary {
			return t.monitors[id]
		}
	}
	// Refresh guarantees a primary; only an empty map lands here.
	return fallbackMonitor
}

// VirtualBounds returns the union of all monitor bounds.
func (t *Topology) VirtualBounds() geom.Rect {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var bounds geom.Rect
	for _, mon := range t.monitors {
		bounds = bounds.Union(mon.Bounds)
	}
	return bounds
}

// MonitorAt returns the monitor containing the point (x, y).
func (t *Topology) MonitorAt(x, y int) (MonitorInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, id := range sortedIDs(t.monitors) {
		if t.monitors[id].Bounds.Contains(x, y) {
			return t.monitors[id], true
		}
	}
	return MonitorInfo{}, false
}

// MonitorFor returns the monitor with the largest overlap with r. Ties
// go to the lowest monitor ID.
func (t *Topology) MonitorFor(r geom.Rect) (MonitorInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	best := -1
	bestOverlap := 0
	for _, id := range sortedIDs(t.monitors) {
		if overlap := t.monitors[id].Bounds.Overlap(r); overlap > bestOverlap {
			best = id
			bestOverlap = overlap
		}
	}
	if best == -1 {
		return MonitorInfo{}, false
	}
	return t.monitors[best], true
}

// Region builds a capture region on the given monitor. sub is in
// monitor-relative coordinates; nil selects the whole monitor. Requests
// reaching past the monitor edge are clipped into range, not rejected;
// only a sub-rectangle entirely outside the monitor is an error.
func (t *Topology) Region(monitorID int, sub *geom.Rect) (Region, error) {
	mon, ok := t.Monitor(monitorID)
	if !ok {
		return Region{}, fmt.Errorf("unknown monitor %d", monitorID)
	}
	if sub == nil {
		return Region{Bounds: mon.Bounds, Monitor: mon.ID}, nil
	}

	desktop := geom.Rect{
		X:      mon.Bounds.X + sub.X,
		Y:      mon.Bounds.Y + sub.Y,
		Width:  sub.Width,
		Height: sub.Height,
	}
	clipped := desktop.Clip(mon.Bounds)
	if clipped.Empty() {
		return Region{}, fmt.Errorf("region %dx%d+%d+%d lies outside monitor %d", sub.Width, sub.Height, sub.X, sub.Y, monitorID)
	}
	return Region{Bounds: clipped, Monitor: mon.ID}, nil
}

// FullScreenRegion returns a region covering one whole monitor. A
// negative or unknown ID selects the primary monitor.
func (t *Topology) FullScreenRegion(id int) Region {
	if id >= 0 {
		if mon, ok := t.Monitor(id); ok {
			return Region{Bounds: mon.Bounds, Monitor: mon.ID}
		}
	}
	mon := t.Primary()
	return Region{Bounds: mon.Bounds, Monitor: mon.ID}
}

func sortedIDs(monitors map[int]MonitorInfo) []int {
	ids := make([]int, 0, len(monitors))
	for id := range monitors {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
