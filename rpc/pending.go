// Package rpc provides the pending call bookkeeping and its table
package rpc

import (
	"sync"
	"time"
)

// pendingCall is the bookkeeping record for one in-flight request. The
// completion channel is buffered with capacity 1 and written exactly once,
// by whichever side removed the entry from the table first.
type pendingCall struct {
	id        uint32
	request   Request
	createdAt time.Time

	// elapsed is advanced only by Tick, under the table lock
	elapsed time.Duration
	budget  time.Duration

	done chan Result
}

// newPendingCall creates a pending call with a zero elapsed time
func newPendingCall(req Request, budget time.Duration) *pendingCall {
	return &pendingCall{
		id:        req.CallID(),
		request:   req,
		createdAt: time.Now(),
		budget:    budget,
		done:      make(chan Result, 1),
	}
}

// resolve delivers the final outcome. It must only be called by the
// goroutine that removed this call from the table; the atomic remove is
// what guarantees the channel is written once.
func (pc *pendingCall) resolve(res Result) {
	pc.done <- res
}

// callTable is a concurrency-safe mapping from correlation id to pending
// call. All mutation goes through its atomic insert/remove primitives, so
// the engine needs no lock of its own.
type callTable struct {
	mu    sync.RWMutex
	calls map[uint32]*pendingCall
}

// newCallTable creates an empty call table
func newCallTable() *callTable {
	return &callTable{
		calls: make(map[uint32]*pendingCall),
	}
}

// tryGet performs a non-blocking lookup
func (t *callTable) tryGet(id uint32) (*pendingCall, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	pc, ok := t.calls[id]
	return pc, ok
}

// insert adds the call if no entry exists for its id yet. It returns false
// when another entry is already live, signaling duplicate-call reuse.
func (t *callTable) insert(id uint32, pc *pendingCall) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.calls[id]; exists {
		return false
	}

	t.calls[id] = pc
	return true
}

// removeIfPresent atomically removes and returns the entry for id. This is
// the only way a call leaves the table, and it is the single arbiter of the
// reply-vs-timeout race: only the caller that gets ok=true may resolve.
func (t *callTable) removeIfPresent(id uint32) (*pendingCall, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pc, ok := t.calls[id]
	if !ok {
		return nil, false
	}

	delete(t.calls, id)
	return pc, true
}

// snapshotIDs returns a point-in-time copy of the registered ids, safe to
// iterate while concurrent inserts and removes proceed
func (t *callTable) snapshotIDs() []uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]uint32, 0, len(t.calls))
	for id := range t.calls {
		ids = append(ids, id)
	}

	return ids
}

// advance adds d to the entry's elapsed time. It returns whether the entry
// is still live and whether its elapsed time has reached the budget.
func (t *callTable) advance(id uint32, d time.Duration) (expired, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	pc, found := t.calls[id]
	if !found {
		return false, false
	}

	pc.elapsed += d
	return pc.elapsed >= pc.budget, true
}

// size returns the number of live calls
func (t *callTable) size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.calls)
}

// clear removes every entry without resolving it and returns the removed
// calls. Used for engine teardown, where pending completions are abandoned.
func (t *callTable) clear() []*pendingCall {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := make([]*pendingCall, 0, len(t.calls))
	for _, pc := range t.calls {
		removed = append(removed, pc)
	}
	t.calls = make(map[uint32]*pendingCall)

	return removed
}
