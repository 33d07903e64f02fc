package display

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/overglass/capscope/internal/geom"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProvider struct {
	monitors []MonitorInfo
	err      error
	calls    int
}

func (f *fakeProvider) Detect() ([]MonitorInfo, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.monitors, nil
}

func dualMonitors() []MonitorInfo {
	return []MonitorInfo{
		{
			Name:      "DP-1",
			Bounds:    geom.Rect{X: 0, Y: 0, Width: 1920, Height: 1080},
			WorkArea:  geom.Rect{X: 0, Y: 30, Width: 1920, Height: 1050},
			Primary:   true,
			Available: true,
		},
		{
			Name:      "HDMI-1",
			Bounds:    geom.Rect{X: 1920, Y: 0, Width: 1920, Height: 1080},
			WorkArea:  geom.Rect{X: 1920, Y: 0, Width: 1920, Height: 1080},
			Available: true,
		},
	}
}

func TestTopologyNeverEmpty(t *testing.T) {
	provider := &fakeProvider{err: errors.New("no display server")}
	topo := NewTopology(provider, testLogger())

	monitors := topo.Monitors()
	if len(monitors) != 1 {
		t.Fatalf("expected synthesized monitor, got %d monitors", len(monitors))
	}
	mon := monitors[0]
	if !mon.Primary {
		t.Fatalf("expected synthesized monitor to be primary")
	}
	if mon.Available {
		t.Fatalf("expected synthesized monitor to be marked unavailable")
	}
	if mon.Bounds.Empty() {
		t.Fatalf("expected synthesized monitor to have non-empty bounds")
	}
}

func TestTopologyAssignsPositionalIDs(t *testing.T) {
	provider := &fakeProvider{monitors: dualMonitors()}
	topo := NewTopology(provider, testLogger())

	monitors := topo.Monitors()
	if len(monitors) != 2 {
		t.Fatalf("expected 2 monitors, got %d", len(monitors))
	}
	if monitors[0].Name != "DP-1" || monitors[1].Name != "HDMI-1" {
		t.Fatalf("expected positional IDs in detection order, got %q and %q", monitors[0].Name, monitors[1].Name)
	}
}

func TestEnsurePrimaryWhenProviderMarksNone(t *testing.T) {
	mons := dualMonitors()
	mons[0].Primary = false
	provider := &fakeProvider{monitors: mons}
	topo := NewTopology(provider, testLogger())

	primary := topo.Primary()
	if primary.ID != 0 {
		t.Fatalf("expected lowest ID to become primary, got %d", primary.ID)
	}

	count := 0
	for _, mon := range topo.Monitors() {
		if mon.Primary {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one primary, got %d", count)
	}
}

func TestVirtualBounds(t *testing.T) {
	provider := &fakeProvider{monitors: dualMonitors()}
	topo := NewTopology(provider, testLogger())

	got := topo.VirtualBounds()
	want := geom.Rect{X: 0, Y: 0, Width: 3840, Height: 1080}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestMonitorAt(t *testing.T) {
	provider := &fakeProvider{monitors: dualMonitors()}
	topo := NewTopology(provider, testLogger())

	mon, ok := topo.MonitorAt(2000, 500)
	if !ok || mon.ID != 1 {
		t.Fatalf("expected monitor 1 at (2000,500), got %+v ok=%v", mon, ok)
	}
	if _, ok := topo.MonitorAt(-10, -10); ok {
		t.Fatalf("expected no monitor at (-10,-10)")
	}
}

func TestMonitorForLargestOverlapTieBreaksLow(t *testing.T) {
	provider := &fakeProvider{monitors: dualMonitors()}
	topo := NewTopology(provider, testLogger())

	// 200px wide rect centered on the seam at x=1920: 100px of overlap
	// on each monitor, so the tie goes to monitor 0.
	r := geom.Rect{X: 1820, Y: 100, Width: 200, Height: 100}
	mon, ok := topo.MonitorFor(r)
	if !ok || mon.ID != 0 {
		t.Fatalf("expected tie to resolve to monitor 0, got %+v ok=%v", mon, ok)
	}

	// Shifting one pixel right makes monitor 1 the larger overlap.
	r.X = 1821
	mon, ok = topo.MonitorFor(r)
	if !ok || mon.ID != 1 {
		t.Fatalf("expected monitor 1 for shifted rect, got %+v ok=%v", mon, ok)
	}
}

func TestRegionClipsToMonitor(t *testing.T) {
	provider := &fakeProvider{monitors: dualMonitors()}
	topo := NewTopology(provider, testLogger())

	// Requested 400px of height starting at y=880 on a 1080-tall
	// monitor: only 200px fit.
	sub := geom.Rect{X: 0, Y: 880, Width: 1920, Height: 400}
	region, err := topo.Region(0, &sub)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := geom.Rect{X: 0, Y: 880, Width: 1920, Height: 200}
	if region.Bounds != want {
		t.Fatalf("expected %+v, got %+v", want, region.Bounds)
	}
	if region.Monitor != 0 {
		t.Fatalf("expected monitor 0, got %d", region.Monitor)
	}
}

func TestRegionOnSecondMonitorUsesDesktopCoordinates(t *testing.T) {
	provider := &fakeProvider{monitors: dualMonitors()}
	topo := NewTopology(provider, testLogger())

	sub := geom.Rect{X: 100, Y: 100, Width: 300, Height: 200}
	region, err := topo.Region(1, &sub)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Monitor 1 starts at x=1920, so the region lands at 2020.
	want := geom.Rect{X: 2020, Y: 100, Width: 300, Height: 200}
	if region.Bounds != want {
		t.Fatalf("expected %+v, got %+v", want, region.Bounds)
	}
}

func TestRegionOutsideMonitorRejected(t *testing.T) {
	provider := &fakeProvider{monitors: dualMonitors()}
	topo := NewTopology(provider, testLogger())

	sub := geom.Rect{X: 5000, Y: 5000, Width: 10, Height: 10}
	if _, err := topo.Region(0, &sub); err == nil {
		t.Fatalf("expected error for region outside monitor")
	}
	if _, err := topo.Region(42, nil); err == nil {
		t.Fatalf("expected error for unknown monitor")
	}
}

func TestRefreshReplacesWholesale(t *testing.T) {
	provider := &fakeProvider{monitors: dualMonitors()}
	topo := NewTopology(provider, testLogger())

	if len(topo.Monitors()) != 2 {
		t.Fatalf("expected 2 monitors before refresh")
	}

	// The second monitor disappears.
	provider.monitors = dualMonitors()[:1]
	if err := topo.Refresh(); err != nil {
		t.Fatalf("unexpected refresh error: %v", err)
	}

	monitors := topo.Monitors()
	if len(monitors) != 1 {
		t.Fatalf("expected 1 monitor after refresh, got %d", len(monitors))
	}
	if _, ok := topo.Monitor(1); ok {
		t.Fatalf("expected monitor 1 to be gone after refresh")
	}
}

func TestFullScreenRegionFallsBackToPrimary(t *testing.T) {
	provider := &fakeProvider{monitors: dualMonitors()}
	topo := NewTopology(provider, testLogger())

	region := topo.FullScreenRegion(-1)
	if region.Monitor != 0 {
		t.Fatalf("expected primary monitor for negative ID, got %d", region.Monitor)
	}
	region = topo.FullScreenRegion(99)
	if region.Monitor != 0 {
		t.Fatalf("expected primary monitor for unknown ID, got %d", region.Monitor)
	}
	region = topo.FullScreenRegion(1)
	if region.Monitor != 1 || region.Bounds.X != 1920 {
		t.Fatalf("expected monitor 1 bounds, got %+v", region)
	}
}
