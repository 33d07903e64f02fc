// Package backend implements the capture backends: hardware output
// duplication where the platform offers it, and a portable compositing
// grab everywhere. Backends produce raw frames for a single configured
// region and report failures precisely enough for the capture
// orchestrator to decide on fallback and recovery.
package backend

import (
	"context"
	"errors"
	"time"

	"github.com/overglass/capscope/internal/display"
	"github.com/overglass/capscope/internal/frame"
)

// Kind identifies the capture strategy a backend implements.
type Kind string

const (
	// KindDuplication is the hardware output-duplication path.
	KindDuplication Kind = "duplication"
	// KindCompositing is the portable compositing grab.
	KindCompositing Kind = "compositing"
)

// Default per-attempt deadlines. Duplication answers from a mapped
// surface and is expected to be fast; compositing round-trips through
// the window system and gets more headroom.
const (
	DefaultDuplicationTimeout = 250 * time.Millisecond
	DefaultCompositingTimeout = 500 * time.Millisecond
)

// warmupAttempts bounds how often a backend retries its native setup
// before declaring itself non-functional for the rest of the session.
const warmupAttempts = 5

var (
	// ErrUnavailable means the backend cannot run in this session at
	// all: missing platform support, exhausted warm-up, or released.
	ErrUnavailable = errors.New("capture backend unavailable")
	// ErrTimeout means a single capture attempt exceeded its deadline.
	ErrTimeout = errors.New("capture timed out")
	// ErrDeviceLost means the native resources backing the backend were
	// invalidated and must be rebuilt before the next capture.
	ErrDeviceLost = errors.New("capture device lost")
	// ErrNotConfigured means CaptureOnce was called before Configure.
	ErrNotConfigured = errors.New("capture backend not configured")
)

// Backend is a single capture strategy bound to one region at a time.
//
// Configure may be called repeatedly to retarget the backend; native
// resources are reused when the region stays on the same monitor.
// CaptureOnce is not safe for concurrent use; the orchestrator
// serializes capture calls per backend.
type Backend interface {
	// Kind reports the strategy this backend implements.
	Kind() Kind
	// Available reports whether the backend can plausibly capture in
	// this session. It is a cheap check, not a probe.
	Available() bool
	// Configure binds the backend to a region and performs any native
	// warm-up needed before the first capture.
	Configure(region display.Region) error
	// CaptureOnce grabs one frame of the configured region.
	CaptureOnce(ctx context.Context) (*frame.Frame, error)
	// Release frees native resources. The backend may be configured
	// again afterwards.
	Release()
}
