package timectrl

import (
	"context"
	"sync"
	"time"
)

// FrameSource reports the frame currently being processed. Components that
// only need to know "which frame is it" depend on this rather than on the
// concrete clock.
type FrameSource interface {
	Frame() (frame uint64, started bool)
}

var _ FrameSource = (*FrameClock)(nil)

// Mode describes how the FrameClock paces frames.
type Mode int

const (
	// RealTime emits one frame per Period of wall-clock time.
	RealTime Mode = iota
	// Accelerated emits frames back to back.
	Accelerated
)

func (m Mode) String() string {
	if m == Accelerated {
		return "accelerated"
	}
	return "realtime"
}

// FrameListener is invoked once per frame, in order. Returning an error
// stops the clock.
type FrameListener func(ctx context.Context, frame uint64) error

// FrameClock drives the frame loop and notifies registered listeners
// sequentially, so a listener for frame f always returns before frame f+1
// is announced.
type FrameClock struct {
	mu         sync.RWMutex
	StartFrame uint64
	Period     time.Duration
	Mode       Mode

	current uint64
	started bool
	err     error

	listeners []FrameListener
}

// NewFrameClock constructs a clock that begins at start.
func NewFrameClock(start uint64, period time.Duration, mode Mode) *FrameClock {
	return &FrameClock{
		StartFrame: start,
		Period:     period,
		Mode:       mode,
	}
}

// Frame returns the frame most recently announced. Implements FrameSource.
func (fc *FrameClock) Frame() (uint64, bool) {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	return fc.current, fc.started
}

// AddListener registers a callback invoked on every frame.
func (fc *FrameClock) AddListener(fn FrameListener) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.listeners = append(fc.listeners, fn)
}

// Err returns the listener error that stopped the clock, if any.
func (fc *FrameClock) Err() error {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	return fc.err
}

// Run announces frames StartFrame, StartFrame+1, ... until frames have been
// emitted (0 means unbounded), ctx is cancelled, or a listener fails.
func (fc *FrameClock) Run(ctx context.Context, frames uint64) error {
	fc.mu.RLock()
	listeners := append([]FrameListener(nil), fc.listeners...)
	fc.mu.RUnlock()

	var tick <-chan time.Time
	if fc.Mode == RealTime && fc.Period > 0 {
		ticker := time.NewTicker(fc.Period)
		defer ticker.Stop()
		tick = ticker.C
	}

	frame := fc.StartFrame
	for emitted := uint64(0); frames == 0 || emitted < frames; emitted++ {
		if tick != nil && emitted > 0 {
			select {
			case <-ctx.Done():
			case <-tick:
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		fc.mu.Lock()
		fc.current = frame
		fc.started = true
		fc.mu.Unlock()

		for _, fn := range listeners {
			if err := fn(ctx, frame); err != nil {
				fc.mu.Lock()
				fc.err = err
				fc.mu.Unlock()
				return err
			}
		}
		frame++
	}
	return nil
}

// Start runs the clock in a separate goroutine and returns a channel that is
// closed when it finishes. Use Err to inspect a listener failure.
func (fc *FrameClock) Start(ctx context.Context, frames uint64) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = fc.Run(ctx, frames)
	}()
	return done
}
