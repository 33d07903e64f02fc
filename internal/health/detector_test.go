package health

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testDetector returns a detector with a controllable clock.
func testDetector(cfg Config) (*Detector, *time.Time) {
	if cfg.Logger == nil {
		cfg.Logger = testLogger()
	}
	d := New(cfg)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	return d, &now
}

func TestFallBackAfterConsecutiveFailures(t *testing.T) {
	d, _ := testDetector(Config{})

	for i := 0; i < DefaultFailureThreshold-1; i++ {
		if d.ShouldFallBack(ActivePrimary, false, 5*time.Millisecond) {
			t.Fatalf("fell back after %d failures", i+1)
		}
	}
	if !d.ShouldFallBack(ActivePrimary, false, 5*time.Millisecond) {
		t.Fatalf("expected fallback at %d consecutive failures", DefaultFailureThreshold)
	}
	if got := d.ConsecutiveFailures(); got != 0 {
		t.Fatalf("expected failure streak reset after fallback, got %d", got)
	}
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	d, _ := testDetector(Config{})

	for i := 0; i < DefaultFailureThreshold-1; i++ {
		d.ShouldFallBack(ActivePrimary, false, 5*time.Millisecond)
	}
	d.ShouldFallBack(ActivePrimary, true, 5*time.Millisecond)
	if d.ShouldFallBack(ActivePrimary, false, 5*time.Millisecond) {
		t.Fatalf("expected streak to reset on success")
	}
	if got := d.ConsecutiveFailures(); got != 1 {
		t.Fatalf("expected streak of 1, got %d", got)
	}
}

func TestFallBackOnDegradedLatency(t *testing.T) {
	// 30 fps budget is 33.3ms; with factor 0.3 the average must exceed
	// 111ms, so ten successful 200ms captures trip it.
	d, _ := testDetector(Config{TargetFrameTime: 33300 * time.Microsecond})

	for i := 0; i < DefaultDegradeWindow-1; i++ {
		if d.ShouldFallBack(ActivePrimary, true, 200*time.Millisecond) {
			t.Fatalf("fell back before the degradation window filled (sample %d)", i+1)
		}
	}
	if !d.ShouldFallBack(ActivePrimary, true, 200*time.Millisecond) {
		t.Fatalf("expected latency degradation to trip fallback")
	}
}

func TestDegradationIgnoredWithoutTarget(t *testing.T) {
	d, _ := testDetector(Config{})

	for i := 0; i < DefaultLatencyWindow; i++ {
		if d.ShouldFallBack(ActivePrimary, true, time.Second) {
			t.Fatalf("fell back without a frame budget to judge against")
		}
	}
}

func TestCooldownSuppressesRepeatFallback(t *testing.T) {
	d, now := testDetector(Config{})

	for i := 0; i < DefaultFailureThreshold; i++ {
		d.ShouldFallBack(ActivePrimary, false, time.Millisecond)
	}

	// Immediately failing again must not re-trip inside the cooldown.
	for i := 0; i < DefaultFailureThreshold+5; i++ {
		if d.ShouldFallBack(ActivePrimary, false, time.Millisecond) {
			t.Fatalf("fell back inside the cooldown")
		}
	}

	*now = now.Add(DefaultCooldown + time.Second)
	if !d.ShouldFallBack(ActivePrimary, false, time.Millisecond) {
		t.Fatalf("expected fallback once the cooldown passed")
	}
}

func TestFallbackOnlyFromPrimary(t *testing.T) {
	d, _ := testDetector(Config{})

	for i := 0; i < DefaultFailureThreshold*2; i++ {
		if d.ShouldFallBack(ActiveFallback, false, time.Millisecond) {
			t.Fatalf("fallback decision while already on fallback")
		}
	}
}

// tripFallback drives the detector onto the fallback backend.
func tripFallback(d *Detector) {
	for i := 0; i < DefaultFailureThreshold; i++ {
		d.ShouldFallBack(ActivePrimary, false, time.Millisecond)
	}
}

// fillHealthy records a full recovery window of fast successes.
func fillHealthy(d *Detector) {
	for i := 0; i < DefaultRecoveryWindow; i++ {
		d.Observe(true, 10*time.Millisecond)
	}
}

func TestRecoveryRequiresQuietPeriod(t *testing.T) {
	d, now := testDetector(Config{})
	tripFallback(d)
	fillHealthy(d)

	if d.ShouldAttemptRecovery(ActiveFallback) {
		t.Fatalf("recovery offered before twice the cooldown")
	}
	*now = now.Add(2*DefaultCooldown + time.Second)
	if !d.ShouldAttemptRecovery(ActiveFallback) {
		t.Fatalf("expected recovery after the quiet period")
	}
}

func TestRecoveryRequiresFullHealthyWindow(t *testing.T) {
	d, now := testDetector(Config{FailureThreshold: 5})
	for i := 0; i < 5; i++ {
		d.ShouldFallBack(ActivePrimary, false, time.Millisecond)
	}
	*now = now.Add(2*DefaultCooldown + time.Second)

	// 19 samples total: fewer than the window, ineligible.
	for i := 0; i < 14; i++ {
		d.Observe(true, 10*time.Millisecond)
	}
	if d.ShouldAttemptRecovery(ActiveFallback) {
		t.Fatalf("recovery offered with fewer samples than the window")
	}

	// 20 samples, but the window still contains the old failures.
	d.Observe(true, 10*time.Millisecond)
	if d.ShouldAttemptRecovery(ActiveFallback) {
		t.Fatalf("recovery offered with failures in the window")
	}

	// A full window of fast successes qualifies.
	fillHealthy(d)
	if !d.ShouldAttemptRecovery(ActiveFallback) {
		t.Fatalf("expected recovery with a fully healthy window")
	}

	// A single slow sample spoils it again.
	d.Observe(true, DefaultHealthyLatency)
	if d.ShouldAttemptRecovery(ActiveFallback) {
		t.Fatalf("recovery offered with a slow sample in the window")
	}
}

func TestRecoveryRequiresFallbackActive(t *testing.T) {
	d, now := testDetector(Config{})
	tripFallback(d)
	*now = now.Add(2*DefaultCooldown + time.Second)
	fillHealthy(d)

	if d.ShouldAttemptRecovery(ActivePrimary) {
		t.Fatalf("recovery offered while already on primary")
	}
}

func TestRecoveryAttemptsAreBounded(t *testing.T) {
	d, now := testDetector(Config{})
	tripFallback(d)
	*now = now.Add(2*DefaultCooldown + time.Second)
	fillHealthy(d)

	for i := 0; i < DefaultMaxRecoveryAttempts; i++ {
		if !d.ShouldAttemptRecovery(ActiveFallback) {
			t.Fatalf("expected attempt %d to be offered", i+1)
		}
		d.NoteRecoveryAttempt()
	}
	if d.ShouldAttemptRecovery(ActiveFallback) {
		t.Fatalf("recovery offered past the attempt budget")
	}

	// A successful recovery resets the episode.
	d.NoteRecovered()
	tripFallback(d)
	*now = now.Add(2*DefaultCooldown + time.Second)
	fillHealthy(d)
	if !d.ShouldAttemptRecovery(ActiveFallback) {
		t.Fatalf("expected a fresh attempt budget after recovery")
	}
}
