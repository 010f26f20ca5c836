// Package fence provides timeline fences built on queue submission indices.
//
// A Fence carries a monotonically increasing value chosen by the caller.
// Each Signal binds a value to the submission index returned by
// hal.Queue.Submit; the value counts as reached once the queue reports that
// submission complete. This mirrors the fence model of explicit APIs
// (signal after submit, wait for value) on top of the HAL's polling model.
package fence

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotMonotonic is returned when Signal is called with a value that is
	// not greater than the last signaled value.
	ErrNotMonotonic = errors.New("fence: signal value not monotonic")

	// ErrUnsignaled is returned by Wait for a value no Signal has promised.
	// Waiting on it would block forever.
	ErrUnsignaled = errors.New("fence: value never signaled")
)

const (
	minBackoff = 50 * time.Microsecond
	maxBackoff = 2 * time.Millisecond
)

// Poller reports the highest completed submission index.
// hal.Queue satisfies it.
type Poller interface {
	PollCompleted() uint64
}

type signal struct {
	value      uint64
	submission uint64
}

// Fence is a timeline fence. It is not safe for concurrent use.
type Fence struct {
	label     string
	poller    Poller
	pending   []signal
	signaled  uint64
	completed uint64
}

// New creates a fence whose completed value starts at 0.
func New(label string, poller Poller) *Fence {
	return &Fence{label: label, poller: poller}
}

// Label returns the debug label.
func (f *Fence) Label() string { return f.label }

// Signal schedules value to be reached when submission completes.
func (f *Fence) Signal(value, submission uint64) error {
	if value <= f.signaled {
		return fmt.Errorf("%w: %s got %d after %d", ErrNotMonotonic, f.label, value, f.signaled)
	}
	f.signaled = value
	f.pending = append(f.pending, signal{value: value, submission: submission})
	return nil
}

// Signaled returns the last value passed to Signal.
func (f *Fence) Signaled() uint64 { return f.signaled }

// Completed polls the queue and returns the highest reached value.
func (f *Fence) Completed() uint64 {
	if len(f.pending) == 0 {
		return f.completed
	}
	done := f.poller.PollCompleted()
	n := 0
	for _, s := range f.pending {
		if s.submission > done {
			break
		}
		f.completed = s.value
		n++
	}
	if n > 0 {
		f.pending = append(f.pending[:0], f.pending[n:]...)
	}
	return f.completed
}

// Reached reports whether the fence has reached value.
func (f *Fence) Reached(value uint64) bool {
	return f.Completed() >= value
}

// Wait blocks until the fence reaches value or ctx is done.
// Waiting for 0 returns immediately.
func (f *Fence) Wait(ctx context.Context, value uint64) error {
	if f.Reached(value) {
		return nil
	}
	if value > f.signaled {
		return fmt.Errorf("%w: %s value %d, last signal %d", ErrUnsignaled, f.label, value, f.signaled)
	}

	backoff := minBackoff
	timer := time.NewTimer(backoff)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait %s for %d: %w", f.label, value, ctx.Err())
		case <-timer.C:
		}
		if f.Reached(value) {
			return nil
		}
		backoff = min(backoff*2, maxBackoff)
		timer.Reset(backoff)
	}
}
