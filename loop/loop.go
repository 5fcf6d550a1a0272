// Package loop provides the tick driver that advances timeout accounting
// for correlation engines. The driver measures real elapsed time between
// ticks and applies a configurable scale before handing it to the tick
// function, so callers can run timeouts faster or slower than wall clock.
package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Tick driver errors
var (
	ErrInvalidInterval = errors.New("tick interval must be positive")
	ErrInvalidScale    = errors.New("time scale must be positive")
	ErrNilTickFunc     = errors.New("tick function is nil")
	ErrAlreadyRunning  = errors.New("runner is already running")
	ErrNotRunning      = errors.New("runner is not running")
)

// TickFunc receives the scaled elapsed time since the previous tick and
// the real wall-clock elapsed time
type TickFunc func(elapsed, realElapsed time.Duration)

// Runner drives a TickFunc at a fixed wall-clock interval
type Runner struct {
	interval time.Duration
	scale    float64
	fn       TickFunc

	// Lifecycle
	running int32
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Statistics
	ticks       int64
	scaledTotal int64
	realTotal   int64
}

// NewRunner creates a tick runner. The scale multiplies real elapsed time
// before it reaches the tick function; 1.0 runs at wall-clock speed.
func NewRunner(interval time.Duration, scale float64, fn TickFunc) (*Runner, error) {
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}
	if scale <= 0 {
		return nil, ErrInvalidScale
	}
	if fn == nil {
		return nil, ErrNilTickFunc
	}

	return &Runner{
		interval: interval,
		scale:    scale,
		fn:       fn,
	}, nil
}

// Start starts the tick loop
func (r *Runner) Start() error {
	if !atomic.CompareAndSwapInt32(&r.running, 0, 1) {
		return ErrAlreadyRunning
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())

	r.wg.Add(1)
	go r.run()

	return nil
}

// Stop stops the tick loop and waits for the in-flight tick to finish
func (r *Runner) Stop() error {
	if !atomic.CompareAndSwapInt32(&r.running, 1, 0) {
		return ErrNotRunning
	}

	r.cancel()
	r.wg.Wait()

	return nil
}

// IsRunning reports whether the loop is active
func (r *Runner) IsRunning() bool {
	return atomic.LoadInt32(&r.running) == 1
}

// run is the tick loop. Ticks are delivered from this single goroutine,
// which is what the engine's sweep requires.
func (r *Runner) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	last := time.Now()

	for {
		select {
		case <-r.ctx.Done():
			return

		case now := <-ticker.C:
			real := now.Sub(last)
			last = now

			if real <= 0 {
				continue
			}

			scaled := time.Duration(float64(real) * r.scale)

			atomic.AddInt64(&r.ticks, 1)
			atomic.AddInt64(&r.scaledTotal, int64(scaled))
			atomic.AddInt64(&r.realTotal, int64(real))

			r.fn(scaled, real)
		}
	}
}

// GetStatistics returns a snapshot of runner counters
func (r *Runner) GetStatistics() RunnerStatistics {
	return RunnerStatistics{
		Running:     r.IsRunning(),
		Interval:    r.interval,
		TimeScale:   r.scale,
		Ticks:       atomic.LoadInt64(&r.ticks),
		ScaledTotal: time.Duration(atomic.LoadInt64(&r.scaledTotal)),
		RealTotal:   time.Duration(atomic.LoadInt64(&r.realTotal)),
	}
}

// RunnerStatistics contains tick runner statistics
type RunnerStatistics struct {
	Running     bool
	Interval    time.Duration
	TimeScale   float64
	Ticks       int64
	ScaledTotal time.Duration
	RealTotal   time.Duration
}

// String returns a string representation of the statistics
func (rs RunnerStatistics) String() string {
	return fmt.Sprintf("Runner Stats: Running=%v, Interval=%v, Scale=%.2f, Ticks=%d, Scaled=%v, Real=%v",
		rs.Running, rs.Interval, rs.TimeScale, rs.Ticks, rs.ScaledTotal, rs.RealTotal)
}
