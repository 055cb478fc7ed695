package timectrl

import (
	"context"
	"sync"
	"time"
)

// SimClock is an interface for accessing the wall time that drives frames.
// The frame loop and the control server depend on it rather than on the
// concrete controller so tests can substitute a fixed clock.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
}

// Mode describes how the TimeController advances time.
type Mode int

const (
	// RealTime advances according to wall-clock time; frame dt is measured.
	RealTime Mode = iota
	// Accelerated runs frames back to back, each advancing by exactly Tick.
	Accelerated
)

func (m Mode) String() string {
	switch m {
	case RealTime:
		return "realtime"
	case Accelerated:
		return "accelerated"
	default:
		return "unknown"
	}
}

// FrameFunc is invoked once per frame with the new time and the elapsed
// frame duration.
type FrameFunc func(now time.Time, dt time.Duration)

// TimeController drives the frame loop and notifies registered listeners.
// It implements SimClock.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	currentTime time.Time
	frames      uint64

	listeners []FrameFunc
}

// NewTimeController constructs a controller.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// SetTime jumps the controller to t without emitting a frame.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.currentTime = t
}

// Frames returns the number of frames emitted so far.
func (tc *TimeController) Frames() uint64 {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.frames
}

// AddListener registers a callback invoked on every frame. Listeners run on
// the controller goroutine, one after the other, in registration order.
func (tc *TimeController) AddListener(fn FrameFunc) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Start runs the frame loop in a separate goroutine until ctx is done or, when
// duration is positive, until that much simulated time has elapsed. It
// returns a channel closed when the loop exits.
func (tc *TimeController) Start(ctx context.Context, duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		tc.mu.Lock()
		simTime := tc.currentTime
		listeners := append([]FrameFunc(nil), tc.listeners...)
		tc.mu.Unlock()

		var elapsed time.Duration
		var ticker *time.Ticker
		if tc.Mode == RealTime {
			ticker = time.NewTicker(tc.Tick)
			defer ticker.Stop()
		}
		last := time.Now()

		for {
			if duration > 0 && elapsed >= duration {
				return
			}

			dt := tc.Tick
			if ticker != nil {
				select {
				case <-ctx.Done():
					return
				case now := <-ticker.C:
					dt = now.Sub(last)
					last = now
				}
			} else if ctx.Err() != nil {
				return
			}
			if duration > 0 && elapsed+dt > duration {
				dt = duration - elapsed
			}
			simTime = simTime.Add(dt)
			elapsed += dt

			tc.mu.Lock()
			tc.currentTime = simTime
			tc.frames++
			tc.mu.Unlock()

			for _, fn := range listeners {
				fn(simTime, dt)
			}
		}
	}()
	return done
}
