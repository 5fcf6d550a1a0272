// Package rpc provides the correlation engine composition root
package rpc

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Engine correlates requests with responses over an unreliable channel.
//
// Three independent goroutines may drive it concurrently: application logic
// issuing Call, the transport receive path delivering Reply, and an update
// loop driving Tick. Tick itself must come from a single goroutine because
// the expired-id scratch buffer is reused between sweeps.
type Engine struct {
	table *callTable
	hooks *hookSet

	defaultTimeout time.Duration

	// expired is the scratch buffer reused by every sweep
	expired []uint32

	closed int32 // atomic flag

	// Statistics
	callsStarted     int64
	repliesMatched   int64
	repliesUnmatched int64
	timeouts         int64
	ticks            int64
	scaledTime       int64 // nanoseconds, atomic
	realTime         int64 // nanoseconds, atomic
}

// Option configures an Engine at construction time
type Option func(*Engine)

// WithDefaultTimeout overrides DefaultCallTimeout for calls that carry no
// per-call timeout
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.defaultTimeout = d
		}
	}
}

// NewEngine creates a correlation engine with an empty call table
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		table:          newCallTable(),
		hooks:          &hookSet{},
		defaultTimeout: DefaultCallTimeout,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// callOptions holds per-call overrides
type callOptions struct {
	timeout time.Duration
}

// CallOption configures a single call
type CallOption func(*callOptions)

// WithTimeout sets the timeout budget for one call
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// Call registers the request and returns its completion handle. The handle
// receives exactly one Result: the matching response, or a *TimeoutError
// once the accumulated tick time reaches the timeout budget.
//
// Calling again with the same id before resolution returns the existing
// handle instead of registering a second in-flight call.
func (e *Engine) Call(req Request, opts ...CallOption) (<-chan Result, error) {
	if req == nil {
		return nil, ErrNilRequest
	}
	if e.isClosed() {
		return nil, ErrEngineClosed
	}

	options := callOptions{timeout: e.defaultTimeout}
	for _, opt := range opts {
		opt(&options)
	}

	id := req.CallID()
	for {
		// Duplicate call for a live id reuses its completion handle
		if existing, ok := e.table.tryGet(id); ok {
			return existing.done, nil
		}

		pc := newPendingCall(req, options.timeout)
		if e.table.insert(id, pc) {
			atomic.AddInt64(&e.callsStarted, 1)
			e.hooks.fireStart(req)
			return pc.done, nil
		}
		// Lost an insert race for the same id, look the winner up again
	}
}

// Reply matches the response against the pending call with the same id.
// On a match it resolves the completion, fires the end hook and returns
// true. A response with no live entry (late, duplicate, or unknown) is a
// normal outcome: Reply returns false and nothing else happens.
func (e *Engine) Reply(resp Response) bool {
	if resp == nil || e.isClosed() {
		return false
	}

	pc, ok := e.table.removeIfPresent(resp.CallID())
	if !ok {
		atomic.AddInt64(&e.repliesUnmatched, 1)
		return false
	}

	atomic.AddInt64(&e.repliesMatched, 1)
	pc.resolve(Result{Response: resp})
	e.hooks.fireEnd(resp)
	return true
}

// Tick advances every pending call by elapsed and evicts the ones whose
// timeout budget ran out. realElapsed is the unscaled wall-clock duration;
// it is recorded for statistics but never drives timeout accounting.
//
// Sweep cost is O(live calls). An entry whose reply lands between being
// marked expired and being removed is not double-resolved: removal from
// the table decides.
func (e *Engine) Tick(elapsed, realElapsed time.Duration) {
	if e.isClosed() {
		return
	}

	atomic.AddInt64(&e.ticks, 1)
	atomic.AddInt64(&e.scaledTime, int64(elapsed))
	atomic.AddInt64(&e.realTime, int64(realElapsed))

	if e.table.size() == 0 {
		return
	}

	e.expired = e.expired[:0]
	for _, id := range e.table.snapshotIDs() {
		if expired, ok := e.table.advance(id, elapsed); ok && expired {
			e.expired = append(e.expired, id)
		}
	}

	for _, id := range e.expired {
		pc, ok := e.table.removeIfPresent(id)
		if !ok {
			// A concurrent Reply won the race for this id
			continue
		}

		atomic.AddInt64(&e.timeouts, 1)
		pc.resolve(Result{Err: &TimeoutError{Request: pc.request, Elapsed: pc.elapsed}})
		e.hooks.fireError(pc.request)
	}
	e.expired = e.expired[:0]
}

// SetStartHandler registers the handler fired when a call is registered.
// It replaces any previous handler and rejects nil.
func (e *Engine) SetStartHandler(fn StartHandler) error {
	return e.hooks.setStart(fn)
}

// SetEndHandler registers the handler fired when a reply resolves a call.
// It replaces any previous handler and rejects nil.
func (e *Engine) SetEndHandler(fn EndHandler) error {
	return e.hooks.setEnd(fn)
}

// SetErrorHandler registers the handler fired when a call times out.
// It replaces any previous handler and rejects nil.
func (e *Engine) SetErrorHandler(fn ErrorHandler) error {
	return e.hooks.setError(fn)
}

// Pending returns the number of in-flight calls
func (e *Engine) Pending() int {
	return e.table.size()
}

// Close tears the engine down. Still-pending completions are abandoned,
// not force-resolved: callers awaiting them at shutdown must rely on the
// surrounding process lifecycle. Close is idempotent.
func (e *Engine) Close() error {
	if !atomic.CompareAndSwapInt32(&e.closed, 0, 1) {
		return nil // Already closed
	}

	e.table.clear()
	e.hooks.clearAll()
	return nil
}

// isClosed checks the teardown flag
func (e *Engine) isClosed() bool {
	return atomic.LoadInt32(&e.closed) != 0
}

// EngineStatistics holds counters for one engine
type EngineStatistics struct {
	CallsStarted     int64         `json:"calls_started"`
	RepliesMatched   int64         `json:"replies_matched"`
	RepliesUnmatched int64         `json:"replies_unmatched"`
	Timeouts         int64         `json:"timeouts"`
	Ticks            int64         `json:"ticks"`
	Pending          int           `json:"pending"`
	ScaledTime       time.Duration `json:"scaled_time"`
	RealTime         time.Duration `json:"real_time"`
}

// GetStatistics returns a snapshot of the engine counters
func (e *Engine) GetStatistics() EngineStatistics {
	return EngineStatistics{
		CallsStarted:     atomic.LoadInt64(&e.callsStarted),
		RepliesMatched:   atomic.LoadInt64(&e.repliesMatched),
		RepliesUnmatched: atomic.LoadInt64(&e.repliesUnmatched),
		Timeouts:         atomic.LoadInt64(&e.timeouts),
		Ticks:            atomic.LoadInt64(&e.ticks),
		Pending:          e.table.size(),
		ScaledTime:       time.Duration(atomic.LoadInt64(&e.scaledTime)),
		RealTime:         time.Duration(atomic.LoadInt64(&e.realTime)),
	}
}

// String returns the string representation of engine statistics
func (es EngineStatistics) String() string {
	return fmt.Sprintf("Engine Calls=%d Matched=%d Unmatched=%d Timeouts=%d Ticks=%d Pending=%d",
		es.CallsStarted, es.RepliesMatched, es.RepliesUnmatched, es.Timeouts, es.Ticks, es.Pending)
}
