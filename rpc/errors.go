// Package rpc provides error definitions for the correlation engine
package rpc

import (
	"errors"
	"fmt"
	"time"
)

// Engine contract errors
var (
	ErrNilHandler   = errors.New("handler is nil")
	ErrNilRequest   = errors.New("request is nil")
	ErrEngineClosed = errors.New("rpc engine is closed")
)

// ErrCallTimeout is the sentinel every *TimeoutError unwraps to.
var ErrCallTimeout = errors.New("call timed out")

// TimeoutError is delivered through a call's completion when its elapsed
// time reached the timeout budget before a reply arrived. It carries the
// original request for diagnostics.
type TimeoutError struct {
	Request Request
	Elapsed time.Duration
}

// Error returns the string representation of the timeout
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("call %d timed out after %s", e.Request.CallID(), e.Elapsed)
}

// Unwrap makes errors.Is(err, ErrCallTimeout) work
func (e *TimeoutError) Unwrap() error {
	return ErrCallTimeout
}
