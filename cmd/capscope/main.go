package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/overglass/capscope/internal/backend"
	"github.com/overglass/capscope/internal/capture"
	"github.com/overglass/capscope/internal/config"
	"github.com/overglass/capscope/internal/display"
	"github.com/overglass/capscope/internal/frame"
	"github.com/overglass/capscope/internal/geom"
)

func main() {
	if len(os.Args) < 2 {
		printMainUsage(os.Stdout)
		os.Exit(0)
	}

	switch os.Args[1] {
	case "monitors":
		os.Exit(runMonitors(os.Args[2:]))
	case "shot":
		os.Exit(runShot(os.Args[2:]))
	case "run":
		os.Exit(runRun(os.Args[2:]))
	case "validate":
		os.Exit(runValidate(os.Args[2:]))
	case "config":
		os.Exit(runConfig(os.Args[2:]))
	case "help", "-h", "--help":
		printMainUsage(os.Stdout)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printMainUsage(os.Stderr)
		os.Exit(2)
	}
}

func printMainUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: capscope <command> [options]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  monitors            List detected monitors")
	fmt.Fprintln(w, "  shot                Capture a single frame to a PNG file")
	fmt.Fprintln(w, "  run                 Run continuous capture until interrupted")
	fmt.Fprintln(w, "  validate            Validate configuration and capture readiness")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  config validate     Validate configuration")
	fmt.Fprintln(w, "  config print        Print configuration")
	fmt.Fprintln(w, "  config explain      Explain a config value")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Run 'capscope <command> --help' for command-specific options.")
}

// loadConfig loads from the explicit path when given, otherwise from
// the default location.
func loadConfig(path string) (*config.LoadResult, error) {
	if path == "" {
		return config.LoadWithSources()
	}
	return config.LoadFromPath(path)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger logs human-readable text on a terminal and JSON lines when
// stderr is redirected.
func newLogger(level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func newOrchestrator(path string) (*capture.Orchestrator, *config.Config, error) {
	res, err := loadConfig(path)
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(res.Config.LogLevel)
	slog.SetDefault(logger)
	orch, err := capture.New(capture.Options{Config: res.Config, Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	return orch, res.Config, nil
}

// presetRegion resolves a named region preset from the config into
// desktop coordinates.
func presetRegion(orch *capture.Orchestrator, cfg *config.Config, name string) (display.Region, error) {
	preset, ok := cfg.RegionPresets[name]
	if !ok {
		names := make([]string, 0, len(cfg.RegionPresets))
		for n := range cfg.RegionPresets {
			names = append(names, n)
		}
		sort.Strings(names)
		return display.Region{}, fmt.Errorf("unknown region preset %q (have: %s)", name, strings.Join(names, ", "))
	}
	sub := geom.Rect{X: preset.X, Y: preset.Y, Width: preset.Width, Height: preset.Height}
	return orch.MonitorRegion(preset.Monitor, &sub)
}

func runMonitors(args []string) int {
	fs := flag.NewFlagSet("monitors", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: capscope monitors [--json]")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "List detected monitors with bounds, scale, and refresh rate.")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Flags:")
		fs.PrintDefaults()
	}
	jsonOut := fs.Bool("json", false, "Output monitor details as JSON")
	path := fs.String("path", "", "Config file path (default: ~/.config/capscope/config.yaml)")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "monitors takes no arguments")
		fs.Usage()
		return 2
	}

	orch, _, err := newOrchestrator(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer orch.Close()

	monitors := orch.EnumerateMonitors()
	if *jsonOut {
		data, err := json.MarshalIndent(monitors, "", "  ")
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}
	for _, m := range monitors {
		marker := " "
		if m.Primary {
			marker = "*"
		}
		fmt.Printf("%s %d: %-12s %dx%d+%d+%d  %.0fHz  scale %.2f  %s\n",
			marker, m.ID, m.Name,
			m.Bounds.Width, m.Bounds.Height, m.Bounds.X, m.Bounds.Y,
			m.RefreshRate, m.ScaleFactor, m.Orientation)
	}
	return 0
}

func runShot(args []string) int {
	fs := flag.NewFlagSet("shot", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: capscope shot [--monitor N | --x X --y Y --width W --height H | --preset NAME] [--out FILE]")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Capture a single frame and write it as PNG.")
		fmt.Fprintln(os.Stderr, "Region coordinates are desktop-absolute; presets come from the config file.")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Flags:")
		fs.PrintDefaults()
	}
	path := fs.String("path", "", "Config file path (default: ~/.config/capscope/config.yaml)")
	monitor := fs.Int("monitor", -1, "Capture this whole monitor (default: primary)")
	x := fs.Int("x", 0, "Region left edge in desktop coordinates")
	y := fs.Int("y", 0, "Region top edge in desktop coordinates")
	width := fs.Int("width", 0, "Region width")
	height := fs.Int("height", 0, "Region height")
	preset := fs.String("preset", "", "Use a named region preset from the config")
	out := fs.String("out", "shot.png", "Output PNG file")
	mode := fs.String("mode", "", "Capture mode override: auto, hardware, compositing")
	profile := fs.String("profile", "", "Performance profile override: high, normal, low")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}

	orch, cfg, err := newOrchestrator(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer orch.Close()

	if *mode != "" && !orch.SetMode(*mode) {
		fmt.Fprintf(os.Stderr, "invalid mode %q (want auto, hardware, or compositing)\n", *mode)
		return 2
	}
	if *profile != "" {
		orch.SetProfile(config.Profile(*profile))
	}

	kind := capture.SourceScreen
	region := display.Region{Monitor: *monitor}
	switch {
	case *preset != "":
		region, err = presetRegion(orch, cfg, *preset)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		kind = capture.SourceRegion
	case *width > 0 && *height > 0:
		region = display.Region{Bounds: geom.Rect{X: *x, Y: *y, Width: *width, Height: *height}}
		kind = capture.SourceRegion
	}

	f, err := orch.CaptureFrame(kind, region)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, orch.Guidance())
		return 1
	}

	file, err := os.Create(*out)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer file.Close()
	if err := png.Encode(file, f.RGBA); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Printf("wrote %s (%dx%d, monitor %d, method %s)\n",
		*out, f.Width(), f.Height(), f.Region.Monitor, f.Meta[frame.MetaMethod])
	return 0
}

func runRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: capscope run [--duration D] [--fps N] [--monitor N | --preset NAME] [--json]")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Run the continuous capture loop, then print capture statistics.")
		fmt.Fprintln(os.Stderr, "A zero duration runs until interrupted.")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Flags:")
		fs.PrintDefaults()
	}
	path := fs.String("path", "", "Config file path (default: ~/.config/capscope/config.yaml)")
	duration := fs.Duration("duration", 10*time.Second, "How long to capture (0 = until interrupted)")
	fps := fs.Int("fps", 0, "Target frame rate override")
	monitor := fs.Int("monitor", -1, "Capture this whole monitor (default: primary)")
	preset := fs.String("preset", "", "Use a named region preset from the config")
	mode := fs.String("mode", "", "Capture mode override: auto, hardware, compositing")
	jsonOut := fs.Bool("json", false, "Print final statistics as JSON")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}

	res, err := loadConfig(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	cfg := res.Config
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	// The topology is shared with a hot-plug watcher so monitors that
	// appear or vanish mid-run are picked up.
	topo := display.NewTopology(display.SystemProvider(), logger)
	orch, err := capture.New(capture.Options{Config: cfg, Topology: topo, Logger: logger})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer orch.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher := display.NewWatcher(topo, nil, display.WatcherConfig{Logger: logger})
	go watcher.Run(ctx)

	if *mode != "" && !orch.SetMode(*mode) {
		fmt.Fprintf(os.Stderr, "invalid mode %q (want auto, hardware, or compositing)\n", *mode)
		return 2
	}
	if *fps != 0 && !orch.ConfigureRate(*fps) {
		fmt.Fprintf(os.Stderr, "invalid frame rate %d (want %d..%d)\n",
			*fps, config.MinTargetFPS, config.MaxTargetFPS)
		return 2
	}
	switch {
	case *preset != "":
		region, err := presetRegion(orch, cfg, *preset)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		if err := orch.SetTargetRegion(region); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
	case *monitor >= 0:
		if err := orch.SetTargetRegion(orch.FullScreenRegion(*monitor)); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
	}

	if err := orch.StartContinuous(nil); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	if *duration > 0 {
		select {
		case <-sigCh:
		case <-time.After(*duration):
		}
	} else {
		<-sigCh
	}
	orch.StopContinuous()

	st := orch.Stats()
	if *jsonOut {
		data, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}
	printStats(st)
	fmt.Println()
	fmt.Println(orch.Guidance())
	return 0
}

func printStats(st capture.Stats) {
	fmt.Printf("frames_total:     %d\n", st.TotalFrames)
	fmt.Printf("frames_success:   %d\n", st.SuccessFrames)
	fmt.Printf("frames_failed:    %d\n", st.FailedFrames)
	fmt.Printf("backend_switches: %d\n", st.BackendSwitches)
	fmt.Printf("fallbacks:        %d\n", st.Fallbacks)
	fmt.Printf("recoveries:       %d\n", st.Recoveries)
	fmt.Printf("rate_adjustments: %d\n", st.RateAdjustments)
	fmt.Printf("avg_capture_time: %s\n", st.AverageCaptureTime)
	fmt.Printf("active_backend:   %s\n", st.ActiveBackend)
	fmt.Printf("target_fps:       %d\n", st.TargetFPS)
	fmt.Printf("profile:          %s\n", st.Profile)
	fmt.Printf("quality_scale:    %.2f\n", st.QualityScale)

	kinds := make([]string, 0, len(st.Backends))
	for kind := range st.Backends {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		bs := st.Backends[backend.Kind(kind)]
		fmt.Printf("backend %s: %d attempts, %d failures, %s avg\n",
			kind, bs.Attempts, bs.Failures, bs.AverageLatency)
	}

	ids := make([]int, 0, len(st.FramesByMonitor))
	for id := range st.FramesByMonitor {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		fmt.Printf("monitor %d: %d frames\n", id, st.FramesByMonitor[id])
	}
}

func runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: capscope validate [--path PATH]")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Validate the configuration and check capture readiness.")
	}
	path := fs.String("path", "", "Config file path (default: ~/.config/capscope/config.yaml)")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}

	orch, _, err := newOrchestrator(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer orch.Close()
	fmt.Println("config: ok")

	if err := orch.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println("capture: ok")
	for _, m := range orch.EnumerateMonitors() {
		if ok, note := orch.ValidateRegion(orch.FullScreenRegion(m.ID)); !ok {
			fmt.Fprintf(os.Stderr, "monitor %d: %s\n", m.ID, note)
			return 1
		}
	}
	fmt.Printf("monitors: %d\n", len(orch.EnumerateMonitors()))
	return 0
}

func runConfig(args []string) int {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		fmt.Fprintln(os.Stderr, "Usage:")
		fmt.Fprintln(os.Stderr, "  capscope config validate [--path PATH]")
		fmt.Fprintln(os.Stderr, "  capscope config print [--path PATH] [--effective|--defaults]")
		fmt.Fprintln(os.Stderr, "  capscope config explain [--path PATH] <yaml.path>")
		return 2
	}

	switch args[0] {
	case "validate":
		fs := flag.NewFlagSet("validate", flag.ContinueOnError)
		fs.SetOutput(os.Stderr)
		path := fs.String("path", "", "Config file path (default: ~/.config/capscope/config.yaml)")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}

		if _, err := loadConfig(*path); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Println("config: ok")
		return 0

	case "print":
		fs := flag.NewFlagSet("print", flag.ContinueOnError)
		fs.SetOutput(os.Stderr)
		path := fs.String("path", "", "Config file path (default: ~/.config/capscope/config.yaml)")
		printDefaults := fs.Bool("defaults", false, "Print built-in defaults (no files)")
		printEffective := fs.Bool("effective", false, "Print effective config (default)")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}

		if *printDefaults {
			data, err := yaml.Marshal(config.DefaultConfig())
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return 1
			}
			fmt.Print(string(data))
			return 0
		}

		_ = printEffective // default
		res, err := loadConfig(*path)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		data, err := yaml.Marshal(res.Config)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Print(string(data))
		return 0

	case "explain":
		fs := flag.NewFlagSet("explain", flag.ContinueOnError)
		fs.SetOutput(os.Stderr)
		path := fs.String("path", "", "Config file path (default: ~/.config/capscope/config.yaml)")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		if fs.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "explain requires <yaml.path>")
			return 2
		}
		queryPath := fs.Arg(0)

		res, err := loadConfig(*path)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}

		value, src, err := config.Explain(res, queryPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}

		out, err := yaml.Marshal(value)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}

		fmt.Printf("path: %s\n", queryPath)
		fmt.Printf("source: %s\n", formatSource(src))
		fmt.Printf("value:\n%s", string(out))
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown config subcommand: %s\n", args[0])
		return 2
	}
}

func formatSource(src config.Source) string {
	switch src.Kind {
	case config.SourceFile:
		if src.File == "" {
			return "file"
		}
		if src.Line > 0 {
			return fmt.Sprintf("file:%s:%d:%d", src.File, src.Line, src.Column)
		}
		return "file:" + src.File
	case config.SourceDefault:
		return "default"
	default:
		return string(src.Kind)
	}
}
