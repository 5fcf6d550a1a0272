// Package rpc provides request/response correlation for KNET channels.
//
// The engine pairs asynchronously sent requests with asynchronously received
// responses by correlation id, enforces per-call timeouts through an
// externally driven tick, and fires start/end/error hooks at well-defined
// points. It never touches sockets and never serializes payloads; the
// network package owns both.
package rpc

import "time"

// DefaultCallTimeout is the timeout budget assigned to calls that do not
// specify their own.
const DefaultCallTimeout = 5 * time.Second

// Request is the capability a message needs to be issued through Call.
// The call id must be unique among concurrently in-flight calls.
type Request interface {
	// CallID returns the correlation identifier of this request
	CallID() uint32
}

// Response is the capability a message needs to be matched by Reply.
// The call id must equal the originating request's call id.
type Response interface {
	// CallID returns the correlation identifier this response answers
	CallID() uint32
}

// Result carries the outcome of a call: either a matched response or an
// error (a *TimeoutError when the timeout budget ran out first).
type Result struct {
	Response Response
	Err      error
}
