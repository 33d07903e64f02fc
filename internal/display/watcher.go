package display

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// ChangeHandler receives topology changes detected by the watcher.
type ChangeHandler func(added, removed []MonitorInfo)

// WatcherConfig holds configuration for the topology watcher.
type WatcherConfig struct {
	Interval time.Duration
	Logger   *slog.Logger
}

// Watcher periodically re-enumerates monitors and reports hot-plug
// changes. A geometry change on a surviving monitor shows up as a remove
// plus an add.
type Watcher struct {
	interval time.Duration
	topo     *Topology
	onChange ChangeHandler
	logger   *slog.Logger
}

// NewWatcher creates a watcher for the given topology.
func NewWatcher(topo *Topology, onChange ChangeHandler, cfg WatcherConfig) *Watcher {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{interval: interval, topo: topo, onChange: onChange, logger: logger}
}

// Run starts the watch loop. Blocks until context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("topology watcher started", "interval", w.interval)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("topology watcher stopped")
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// CheckNow triggers an immediate re-enumeration pass.
func (w *Watcher) CheckNow() {
	w.check()
}

// check performs a single re-enumeration pass.
func (w *Watcher) check() {
	// Recover from panics so a misbehaving change handler cannot take
	// the watch loop down.
	defer func() {
		if err := recover(); err != nil {
			w.logger.Error("topology watcher panic recovered", "error", err)
		}
	}()

	before := w.topo.Monitors()
	if err := w.topo.Refresh(); err != nil {
		w.logger.Warn("topology refresh failed", "error", err)
		return
	}
	after := w.topo.Monitors()

	added, removed := diffMonitors(before, after)
	if len(added) == 0 && len(removed) == 0 {
		return
	}

	w.logger.Info("monitor topology changed",
		"added", len(added),
		"removed", len(removed),
		"total", len(after))

	if w.onChange != nil {
		w.onChange(added, removed)
	}
}

// diffMonitors matches monitors by name and bounds across a refresh.
// Positional IDs are not stable, so they play no part in the match.
func diffMonitors(before, after map[int]MonitorInfo) (added, removed []MonitorInfo) {
	key := func(m MonitorInfo) string {
		return fmt.Sprintf("%s:%dx%d+%d+%d", m.Name, m.Bounds.Width, m.Bounds.Height, m.Bounds.X, m.Bounds.Y)
	}

	beforeKeys := make(map[string]MonitorInfo, len(before))
	for _, mon := range before {
		beforeKeys[key(mon)] = mon
	}
	afterKeys := make(map[string]MonitorInfo, len(after))
	for _, mon := range after {
		afterKeys[key(mon)] = mon
	}

	for k, mon := range afterKeys {
		if _, ok := beforeKeys[k]; !ok {
			added = append(added, mon)
		}
	}
	for k, mon := range beforeKeys {
		if _, ok := afterKeys[k]; !ok {
			removed = append(removed, mon)
		}
	}

	sort.Slice(added, func(i, j int) bool { return added[i].ID < added[j].ID })
	sort.Slice(removed, func(i, j int) bool { return removed[i].ID < removed[j].ID })
	return added, removed
}
