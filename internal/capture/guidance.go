package capture

import (
	"fmt"
	"strings"
	"time"

	"github.com/overglass/capscope/internal/config"
)

// Guidance returns a short human-readable reading of capture health,
// suitable for surfacing in a UI when captures keep failing.
func (o *Orchestrator) Guidance() string {
	st := o.Stats()
	o.mu.Lock()
	hw := o.hardware.Available()
	fb := o.fallback.Available()
	o.mu.Unlock()

	if !hw && !fb {
		return "No capture backend is available; check that a display session is reachable from this process."
	}
	if st.TotalFrames == 0 {
		return "No captures attempted yet."
	}

	var parts []string
	if failed := float64(st.FailedFrames) / float64(st.TotalFrames); failed > 0.5 {
		parts = append(parts, fmt.Sprintf("most captures are failing (%d of %d)",
			st.FailedFrames, st.TotalFrames))
		if !hw {
			parts = append(parts, "hardware capture is unavailable for the rest of this session")
		}
	}
	if st.ActiveBackend == BackendFallback && st.Mode == config.ModeAuto && st.Fallbacks > 0 {
		parts = append(parts, fmt.Sprintf("running on the compositing fallback after %d fallback(s); captures are slower on this path",
			st.Fallbacks))
	}
	if st.RateAdjustments > 0 {
		parts = append(parts, fmt.Sprintf("frame rate lowered to %d fps to keep up", st.TargetFPS))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("Capture healthy: %d frames, %d failed, %s average on the %s backend.",
			st.TotalFrames, st.FailedFrames,
			st.AverageCaptureTime.Round(time.Millisecond), st.ActiveBackend)
	}
	msg := strings.Join(parts, "; ")
	return strings.ToUpper(msg[:1]) + msg[1:] + "."
}
