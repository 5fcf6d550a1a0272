// Package rpc provides lifecycle hook dispatch for the correlation engine
package rpc

import "sync"

// StartHandler observes a request right after it is registered
type StartHandler func(Request)

// EndHandler observes a response right after it resolved its call
type EndHandler func(Response)

// ErrorHandler observes the original request of a call that timed out
type ErrorHandler func(Request)

// hookSet holds the three optional handler slots. Each slot is a single
// mutable registration: setting a handler replaces the previous one.
// Handlers run inline on whatever goroutine drives Call, Reply or Tick,
// so they must not block.
type hookSet struct {
	mu      sync.RWMutex
	onStart StartHandler
	onEnd   EndHandler
	onError ErrorHandler
}

func (h *hookSet) setStart(fn StartHandler) error {
	if fn == nil {
		return ErrNilHandler
	}

	h.mu.Lock()
	h.onStart = fn
	h.mu.Unlock()
	return nil
}

func (h *hookSet) setEnd(fn EndHandler) error {
	if fn == nil {
		return ErrNilHandler
	}

	h.mu.Lock()
	h.onEnd = fn
	h.mu.Unlock()
	return nil
}

func (h *hookSet) setError(fn ErrorHandler) error {
	if fn == nil {
		return ErrNilHandler
	}

	h.mu.Lock()
	h.onError = fn
	h.mu.Unlock()
	return nil
}

func (h *hookSet) fireStart(req Request) {
	h.mu.RLock()
	fn := h.onStart
	h.mu.RUnlock()

	if fn != nil {
		fn(req)
	}
}

func (h *hookSet) fireEnd(resp Response) {
	h.mu.RLock()
	fn := h.onEnd
	h.mu.RUnlock()

	if fn != nil {
		fn(resp)
	}
}

func (h *hookSet) fireError(req Request) {
	h.mu.RLock()
	fn := h.onError
	h.mu.RUnlock()

	if fn != nil {
		fn(req)
	}
}

// clearAll drops every registered handler
func (h *hookSet) clearAll() {
	h.mu.Lock()
	h.onStart = nil
	h.onEnd = nil
	h.onError = nil
	h.mu.Unlock()
}
