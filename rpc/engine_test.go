// Package rpc provides tests for the correlation engine
package rpc

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testMessage satisfies both the Request and the Response capability
type testMessage struct {
	id      uint32
	payload string
}

func (m *testMessage) CallID() uint32 {
	return m.id
}

func TestEngineCall(t *testing.T) {
	t.Run("RegistersPendingCall", func(t *testing.T) {
		engine := NewEngine()

		done, err := engine.Call(&testMessage{id: 1, payload: "ping"})
		if err != nil {
			t.Fatalf("Failed to register call: %v", err)
		}
		if done == nil {
			t.Fatal("Expected a completion handle")
		}

		if engine.Pending() != 1 {
			t.Errorf("Expected 1 pending call, got %d", engine.Pending())
		}
	})

	t.Run("DuplicateCallReturnsSameHandle", func(t *testing.T) {
		engine := NewEngine()
		req := &testMessage{id: 7}

		first, err := engine.Call(req)
		if err != nil {
			t.Fatalf("First call failed: %v", err)
		}

		second, err := engine.Call(req)
		if err != nil {
			t.Fatalf("Second call failed: %v", err)
		}

		if first != second {
			t.Error("Duplicate call should return the existing completion handle")
		}
		if engine.Pending() != 1 {
			t.Errorf("Expected table size 1, got %d", engine.Pending())
		}
	})

	t.Run("NilRequest", func(t *testing.T) {
		engine := NewEngine()

		_, err := engine.Call(nil)
		if !errors.Is(err, ErrNilRequest) {
			t.Errorf("Expected ErrNilRequest, got %v", err)
		}
	})

	t.Run("ClosedEngine", func(t *testing.T) {
		engine := NewEngine()
		engine.Close()

		_, err := engine.Call(&testMessage{id: 1})
		if !errors.Is(err, ErrEngineClosed) {
			t.Errorf("Expected ErrEngineClosed, got %v", err)
		}
	})
}

func TestEngineReply(t *testing.T) {
	t.Run("MatchedReplyResolvesCall", func(t *testing.T) {
		engine := NewEngine()

		done, err := engine.Call(&testMessage{id: 42})
		if err != nil {
			t.Fatalf("Failed to register call: %v", err)
		}

		resp := &testMessage{id: 42, payload: "pong"}
		if !engine.Reply(resp) {
			t.Fatal("Reply should match the pending call")
		}

		select {
		case res := <-done:
			if res.Err != nil {
				t.Fatalf("Expected success, got error: %v", res.Err)
			}
			if res.Response.CallID() != 42 {
				t.Errorf("Expected response for call 42, got %d", res.Response.CallID())
			}
		default:
			t.Fatal("Completion should be resolved after Reply")
		}

		if engine.Pending() != 0 {
			t.Errorf("Expected empty table after reply, got %d entries", engine.Pending())
		}
	})

	t.Run("UnmatchedReplyIsNoOp", func(t *testing.T) {
		engine := NewEngine()

		hookFired := false
		engine.SetEndHandler(func(Response) { hookFired = true })

		if engine.Reply(&testMessage{id: 99}) {
			t.Error("Reply for an unknown id should return false")
		}
		if hookFired {
			t.Error("Unmatched reply should fire no hooks")
		}
	})

	t.Run("DuplicateReplyIsIgnored", func(t *testing.T) {
		engine := NewEngine()
		engine.Call(&testMessage{id: 5})

		endCount := 0
		engine.SetEndHandler(func(Response) { endCount++ })

		resp := &testMessage{id: 5}
		if !engine.Reply(resp) {
			t.Fatal("First reply should succeed")
		}
		if engine.Reply(resp) {
			t.Error("Second reply for the same id should fail")
		}
		if endCount != 1 {
			t.Errorf("End hook should fire exactly once, fired %d times", endCount)
		}
	})
}

func TestEngineTick(t *testing.T) {
	t.Run("TimeoutBoundary", func(t *testing.T) {
		engine := NewEngine()

		done, err := engine.Call(&testMessage{id: 1})
		if err != nil {
			t.Fatalf("Failed to register call: %v", err)
		}

		// One tick short of the 5s default budget
		engine.Tick(4999*time.Millisecond, 4999*time.Millisecond)
		select {
		case <-done:
			t.Fatal("Call should not time out at 4999ms")
		default:
		}

		// The final millisecond crosses the budget exactly
		engine.Tick(1*time.Millisecond, 1*time.Millisecond)
		select {
		case res := <-done:
			if !errors.Is(res.Err, ErrCallTimeout) {
				t.Fatalf("Expected ErrCallTimeout, got %v", res.Err)
			}
		default:
			t.Fatal("Call should time out once accumulated ticks reach 5000ms")
		}
	})

	t.Run("TimeoutCarriesOriginalRequest", func(t *testing.T) {
		engine := NewEngine()
		req := &testMessage{id: 7, payload: "lost"}

		done, _ := engine.Call(req)
		engine.Tick(3000*time.Millisecond, 3000*time.Millisecond)
		engine.Tick(3000*time.Millisecond, 3000*time.Millisecond)

		res := <-done
		var timeoutErr *TimeoutError
		if !errors.As(res.Err, &timeoutErr) {
			t.Fatalf("Expected *TimeoutError, got %v", res.Err)
		}
		if timeoutErr.Request != Request(req) {
			t.Error("Timeout error should reference the original request")
		}
		if timeoutErr.Elapsed < 5000*time.Millisecond {
			t.Errorf("Expected elapsed >= 5s, got %s", timeoutErr.Elapsed)
		}
	})

	t.Run("TimeoutEvictsEntry", func(t *testing.T) {
		engine := NewEngine()
		engine.Call(&testMessage{id: 3}, WithTimeout(time.Second))

		engine.Tick(time.Second, time.Second)

		if engine.Pending() != 0 {
			t.Errorf("Expected empty table after timeout, got %d entries", engine.Pending())
		}
		if engine.Reply(&testMessage{id: 3}) {
			t.Error("Reply after eviction should return false")
		}
	})

	t.Run("PerCallTimeoutOverridesDefault", func(t *testing.T) {
		engine := NewEngine(WithDefaultTimeout(10 * time.Second))

		done, _ := engine.Call(&testMessage{id: 1}, WithTimeout(500*time.Millisecond))
		engine.Tick(500*time.Millisecond, 500*time.Millisecond)

		select {
		case res := <-done:
			if !errors.Is(res.Err, ErrCallTimeout) {
				t.Fatalf("Expected timeout, got %v", res.Err)
			}
		default:
			t.Fatal("Per-call timeout should beat the engine default")
		}
	})

	t.Run("EmptyTableIsNoOp", func(t *testing.T) {
		engine := NewEngine()

		engine.Tick(time.Hour, time.Hour)

		stats := engine.GetStatistics()
		if stats.Timeouts != 0 {
			t.Errorf("Expected no timeouts on an empty table, got %d", stats.Timeouts)
		}
		if stats.Ticks != 1 {
			t.Errorf("Expected 1 tick recorded, got %d", stats.Ticks)
		}
	})

	t.Run("RealElapsedDoesNotDriveTimeouts", func(t *testing.T) {
		engine := NewEngine()

		done, _ := engine.Call(&testMessage{id: 1}, WithTimeout(time.Second))

		// Scaled time stands still while real time races ahead
		engine.Tick(0, time.Hour)
		select {
		case <-done:
			t.Fatal("Real elapsed time must not expire calls")
		default:
		}

		stats := engine.GetStatistics()
		if stats.RealTime != time.Hour {
			t.Errorf("Expected real time 1h recorded, got %s", stats.RealTime)
		}
	})
}

func TestEngineEndToEnd(t *testing.T) {
	t.Run("ReplyBeforeTimeout", func(t *testing.T) {
		engine := NewEngine()

		endCount := 0
		engine.SetEndHandler(func(Response) { endCount++ })

		done, err := engine.Call(&testMessage{id: 42}, WithTimeout(1000*time.Millisecond))
		if err != nil {
			t.Fatalf("Failed to register call: %v", err)
		}

		engine.Tick(500*time.Millisecond, 500*time.Millisecond)
		if engine.Pending() != 1 {
			t.Fatal("Entry should still be live at 500ms")
		}

		resp := &testMessage{id: 42, payload: "echo"}
		if !engine.Reply(resp) {
			t.Fatal("Reply should resolve the call")
		}

		res := <-done
		if res.Err != nil || res.Response.CallID() != 42 {
			t.Fatalf("Expected response 42, got %+v", res)
		}
		if engine.Pending() != 0 {
			t.Error("Entry should be removed after reply")
		}
		if endCount != 1 {
			t.Errorf("End hook should fire once, fired %d times", endCount)
		}

		// A later tick over an empty table does nothing
		engine.Tick(1000*time.Millisecond, 1000*time.Millisecond)
		if got := engine.GetStatistics().Timeouts; got != 0 {
			t.Errorf("Expected no timeouts, got %d", got)
		}
	})

	t.Run("TimeoutBeforeReply", func(t *testing.T) {
		engine := NewEngine()

		errorCount := 0
		engine.SetErrorHandler(func(Request) { errorCount++ })

		req := &testMessage{id: 7}
		done, _ := engine.Call(req)

		engine.Tick(3000*time.Millisecond, 3000*time.Millisecond)
		engine.Tick(3000*time.Millisecond, 3000*time.Millisecond)

		res := <-done
		var timeoutErr *TimeoutError
		if !errors.As(res.Err, &timeoutErr) {
			t.Fatalf("Expected *TimeoutError, got %v", res.Err)
		}
		if timeoutErr.Request.CallID() != 7 {
			t.Error("Timeout should reference request 7")
		}
		if errorCount != 1 {
			t.Errorf("Error hook should fire once, fired %d times", errorCount)
		}
		if engine.Pending() != 0 {
			t.Error("Entry should be evicted after timeout")
		}
	})
}

func TestEngineExactlyOnce(t *testing.T) {
	// Race a reply against a timeout-inducing tick for many ids and assert
	// each call resolves exactly once, with exactly one of the two outcomes.
	const calls = 200

	engine := NewEngine()
	handles := make([]<-chan Result, calls)

	for i := 0; i < calls; i++ {
		done, err := engine.Call(&testMessage{id: uint32(i)}, WithTimeout(time.Millisecond))
		if err != nil {
			t.Fatalf("Failed to register call %d: %v", i, err)
		}
		handles[i] = done
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < calls; i++ {
			engine.Reply(&testMessage{id: uint32(i)})
		}
	}()
	go func() {
		defer wg.Done()
		engine.Tick(time.Millisecond, time.Millisecond)
	}()
	wg.Wait()

	var successes, timeouts int64
	for i, done := range handles {
		select {
		case res := <-done:
			if res.Err == nil {
				atomic.AddInt64(&successes, 1)
			} else if errors.Is(res.Err, ErrCallTimeout) {
				atomic.AddInt64(&timeouts, 1)
			} else {
				t.Fatalf("Call %d resolved with unexpected error: %v", i, res.Err)
			}
		case <-time.After(time.Second):
			t.Fatalf("Call %d never resolved", i)
		}

		// A second read must not be possible
		select {
		case res, ok := <-done:
			if ok {
				t.Fatalf("Call %d resolved twice: %+v", i, res)
			}
		default:
		}
	}

	if successes+timeouts != calls {
		t.Fatalf("Expected %d resolutions, got %d successes + %d timeouts",
			calls, successes, timeouts)
	}
	if engine.Pending() != 0 {
		t.Errorf("Expected empty table, got %d entries", engine.Pending())
	}

	stats := engine.GetStatistics()
	if stats.RepliesMatched != successes || stats.Timeouts != timeouts {
		t.Errorf("Statistics disagree with observed outcomes: %s", stats)
	}
}

func TestEngineConcurrentDuplicateCalls(t *testing.T) {
	engine := NewEngine()
	req := &testMessage{id: 11}

	const goroutines = 16
	handles := make([]<-chan Result, goroutines)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			done, err := engine.Call(req)
			if err != nil {
				t.Errorf("Call failed: %v", err)
				return
			}
			handles[slot] = done
		}(i)
	}
	wg.Wait()

	if engine.Pending() != 1 {
		t.Fatalf("Expected a single pending call, got %d", engine.Pending())
	}
	for i := 1; i < goroutines; i++ {
		if handles[i] != handles[0] {
			t.Fatal("All concurrent calls for one id should share a handle")
		}
	}
}

func TestEngineClose(t *testing.T) {
	t.Run("AbandonsPendingCompletions", func(t *testing.T) {
		engine := NewEngine()

		done, _ := engine.Call(&testMessage{id: 1})
		if err := engine.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}

		select {
		case res := <-done:
			t.Fatalf("Teardown must not resolve completions, got %+v", res)
		default:
		}

		if engine.Pending() != 0 {
			t.Errorf("Expected empty table after close, got %d", engine.Pending())
		}
	})

	t.Run("EngineBecomesInert", func(t *testing.T) {
		engine := NewEngine()
		done, _ := engine.Call(&testMessage{id: 2}, WithTimeout(time.Millisecond))
		engine.Close()

		if engine.Reply(&testMessage{id: 2}) {
			t.Error("Reply on a closed engine should return false")
		}

		engine.Tick(time.Second, time.Second)
		select {
		case <-done:
			t.Error("Tick on a closed engine should resolve nothing")
		default:
		}

		// Close is idempotent
		if err := engine.Close(); err != nil {
			t.Errorf("Second close failed: %v", err)
		}
	})
}
