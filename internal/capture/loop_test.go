package capture

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/overglass/capscope/internal/backend"
	"github.com/overglass/capscope/internal/display"
	"github.com/overglass/capscope/internal/frame"
	"github.com/overglass/capscope/internal/geom"
)

func collectFrames(t *testing.T, frames <-chan *frame.Frame, n int) []*frame.Frame {
	t.Helper()
	var got []*frame.Frame
	deadline := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case f := <-frames:
			got = append(got, f)
		case <-deadline:
			t.Fatalf("timed out with %d of %d frames", len(got), n)
		}
	}
	return got
}

func TestContinuousDeliversFrames(t *testing.T) {
	tc := newTestOrchestrator(t, nil)
	frames := make(chan *frame.Frame, 64)
	err := tc.o.StartContinuous(func(f *frame.Frame) {
		select {
		case frames <- f:
		default:
		}
	})
	if err != nil {
		t.Fatalf("StartContinuous: %v", err)
	}
	defer tc.o.StopContinuous()

	got := collectFrames(t, frames, 3)
	if got[0].TraceID == got[1].TraceID {
		t.Fatal("frames share a trace ID")
	}
	for i, f := range got {
		if f.Region.Monitor != 0 {
			t.Fatalf("frame %d from monitor %d, want the primary", i, f.Region.Monitor)
		}
		if m := f.Meta[frame.MetaMethod]; m != string(backend.KindDuplication) {
			t.Fatalf("frame %d method = %q, want %q", i, m, backend.KindDuplication)
		}
	}
	if !tc.o.Stats().Running {
		t.Fatal("stats report not running")
	}

	if !tc.o.StopContinuous() {
		t.Fatal("stop returned false")
	}
	if !tc.o.StopContinuous() {
		t.Fatal("second stop returned false")
	}
	if tc.o.Stats().Running {
		t.Fatal("stats report running after stop")
	}
}

func TestStartContinuousTwice(t *testing.T) {
	tc := newTestOrchestrator(t, nil)
	if err := tc.o.StartContinuous(nil); err != nil {
		t.Fatalf("StartContinuous: %v", err)
	}
	defer tc.o.StopContinuous()
	if err := tc.o.StartContinuous(nil); err == nil {
		t.Fatal("second start succeeded")
	}
}

func TestStartContinuousValidates(t *testing.T) {
	tc := newTestOrchestrator(t, nil)
	tc.hardware.setUnavailable(true)
	tc.fallback.setUnavailable(true)

	err := tc.o.StartContinuous(nil)
	if !errors.Is(err, backend.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if tc.o.Stats().Running {
		t.Fatal("loop started despite failing validation")
	}
}

func TestConsumerPanicContained(t *testing.T) {
	tc := newTestOrchestrator(t, nil)
	var healthy atomic.Int64
	tc.o.AddConsumer(func(*frame.Frame) { panic("consumer exploded") })
	tc.o.AddConsumer(func(*frame.Frame) { healthy.Add(1) })

	if err := tc.o.StartContinuous(nil); err != nil {
		t.Fatalf("StartContinuous: %v", err)
	}
	defer tc.o.StopContinuous()

	deadline := time.Now().Add(2 * time.Second)
	for healthy.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("consumer after the panicking one got %d frames", healthy.Load())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRetargetWhileRunning(t *testing.T) {
	tc := newTestOrchestrator(t, nil)
	frames := make(chan *frame.Frame, 64)
	err := tc.o.StartContinuous(func(f *frame.Frame) {
		select {
		case frames <- f:
		default:
		}
	})
	if err != nil {
		t.Fatalf("StartContinuous: %v", err)
	}
	defer tc.o.StopContinuous()

	collectFrames(t, frames, 1)
	moved := display.Region{Bounds: geom.Rect{X: 2000, Y: 100, Width: 200, Height: 100}}
	if err := tc.o.SetTargetRegion(moved); err != nil {
		t.Fatalf("SetTargetRegion: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case f := <-frames:
			if f.Region.Monitor == 1 {
				if f.Region.Bounds != moved.Bounds {
					t.Fatalf("retargeted bounds = %+v, want %+v", f.Region.Bounds, moved.Bounds)
				}
				return
			}
		case <-deadline:
			t.Fatal("loop never picked up the new target region")
		}
	}
}

func TestStopAbandonsStuckLoop(t *testing.T) {
	tc := newTestOrchestrator(t, nil)
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	err := tc.o.StartContinuous(func(*frame.Frame) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	})
	if err != nil {
		t.Fatalf("StartContinuous: %v", err)
	}

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("no frame reached the consumer")
	}

	start := time.Now()
	if !tc.o.StopContinuous() {
		t.Fatal("stop returned false")
	}
	if waited := time.Since(start); waited < stopJoinTimeout {
		t.Fatalf("stop returned after %v, before the join timeout", waited)
	}
	close(release)
}
