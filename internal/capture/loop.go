package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/overglass/capscope/internal/frame"
)

// stopJoinTimeout bounds how long StopContinuous waits for the loop
// goroutine before abandoning it.
const stopJoinTimeout = 2 * time.Second

// AddConsumer registers a frame consumer. Consumers added while the
// loop runs receive frames from the next dispatch on.
func (o *Orchestrator) AddConsumer(fn Consumer) {
	if fn == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.consumers = append(o.consumers, fn)
}

// StartContinuous validates the pipeline and starts the paced capture
// loop. The consumer, when non-nil, is registered before the first
// frame.
func (o *Orchestrator) StartContinuous(consumer Consumer) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return fmt.Errorf("continuous capture already running")
	}
	if err := o.validateLocked(); err != nil {
		return err
	}
	if consumer != nil {
		o.consumers = append(o.consumers, consumer)
	}
	o.stop = make(chan struct{})
	o.done = make(chan struct{})
	o.running = true
	go o.runLoop(o.stop, o.done)
	o.logger.Info("continuous capture started",
		"fps", o.targetFPS,
		"bounds", o.region.Bounds,
		"monitor", o.region.Monitor)
	return nil
}

// StopContinuous stops the capture loop. It waits up to two seconds
// for the loop goroutine to finish its current frame, then abandons
// it; an abandoned loop may deliver one more frame before exiting.
// Always returns true, including when nothing was running.
func (o *Orchestrator) StopContinuous() bool {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return true
	}
	stop, done := o.stop, o.done
	o.running = false
	o.stop, o.done = nil, nil
	o.mu.Unlock()

	close(stop)
	select {
	case <-done:
		o.logger.Info("continuous capture stopped")
	case <-time.After(stopJoinTimeout):
		o.logger.Warn("capture loop stuck, abandoning", "waited", stopJoinTimeout)
	}
	return true
}

// runLoop paces captures against the target rate. Deadlines advance by
// the frame interval rather than by sleep drift; a loop more than one
// whole interval behind rebases instead of bursting to catch up. The
// rate and region are re-read every iteration so adaptive downgrades
// and retargeting take effect immediately.
func (o *Orchestrator) runLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	next := time.Now()
	for {
		o.mu.Lock()
		interval := frameInterval(o.targetFPS)
		region := o.region
		o.mu.Unlock()

		next = next.Add(interval)
		wait := time.Until(next)
		switch {
		case wait > 0:
			timer := time.NewTimer(wait)
			select {
			case <-stop:
				timer.Stop()
				return
			case <-timer.C:
			}
		case -wait > interval:
			next = time.Now()
		}
		select {
		case <-stop:
			return
		default:
		}

		o.mu.Lock()
		f, err := o.captureLocked(context.Background(), region)
		o.mu.Unlock()
		if err != nil {
			o.logger.Debug("continuous frame failed", "error", err)
			continue
		}
		o.dispatch(f)
	}
}

// dispatch hands one frame to every consumer in registration order. A
// panicking consumer is contained and logged; the rest still run.
func (o *Orchestrator) dispatch(f *frame.Frame) {
	o.mu.Lock()
	consumers := make([]Consumer, len(o.consumers))
	copy(consumers, o.consumers)
	o.mu.Unlock()

	for i, fn := range consumers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error("frame consumer panicked",
						"consumer", i, "panic", r)
				}
			}()
			fn(f)
		}()
	}
}
