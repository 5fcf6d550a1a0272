// Package rpc provides tests for lifecycle hook dispatch
package rpc

import (
	"errors"
	"testing"
	"time"
)

func TestHookRegistration(t *testing.T) {
	t.Run("NilHandlerRejected", func(t *testing.T) {
		engine := NewEngine()

		if err := engine.SetStartHandler(nil); !errors.Is(err, ErrNilHandler) {
			t.Errorf("SetStartHandler(nil): expected ErrNilHandler, got %v", err)
		}
		if err := engine.SetEndHandler(nil); !errors.Is(err, ErrNilHandler) {
			t.Errorf("SetEndHandler(nil): expected ErrNilHandler, got %v", err)
		}
		if err := engine.SetErrorHandler(nil); !errors.Is(err, ErrNilHandler) {
			t.Errorf("SetErrorHandler(nil): expected ErrNilHandler, got %v", err)
		}
	})

	t.Run("LastRegistrationWins", func(t *testing.T) {
		engine := NewEngine()

		var fired string
		engine.SetStartHandler(func(Request) { fired = "first" })
		engine.SetStartHandler(func(Request) { fired = "second" })

		engine.Call(&testMessage{id: 1})
		if fired != "second" {
			t.Errorf("Expected replacement handler to fire, got %q", fired)
		}
	})
}

func TestHookOrdering(t *testing.T) {
	t.Run("StartFiresBeforeResolution", func(t *testing.T) {
		engine := NewEngine()

		var order []string
		engine.SetStartHandler(func(req Request) {
			order = append(order, "start")
			if engine.Pending() != 1 {
				t.Error("Start hook should see the registered call")
			}
		})
		engine.SetEndHandler(func(Response) {
			order = append(order, "end")
		})

		done, _ := engine.Call(&testMessage{id: 1})
		select {
		case <-done:
			t.Fatal("Handle must not resolve before Reply")
		default:
		}

		engine.Reply(&testMessage{id: 1})

		if len(order) != 2 || order[0] != "start" || order[1] != "end" {
			t.Errorf("Expected [start end], got %v", order)
		}
	})

	t.Run("ErrorFiresOncePerEviction", func(t *testing.T) {
		engine := NewEngine()

		errorIDs := make(map[uint32]int)
		engine.SetErrorHandler(func(req Request) {
			errorIDs[req.CallID()]++
		})

		for id := uint32(1); id <= 3; id++ {
			engine.Call(&testMessage{id: id}, WithTimeout(time.Second))
		}

		engine.Tick(time.Second, time.Second)
		engine.Tick(time.Second, time.Second)

		for id := uint32(1); id <= 3; id++ {
			if errorIDs[id] != 1 {
				t.Errorf("Error hook for id %d fired %d times, expected 1", id, errorIDs[id])
			}
		}
	})

	t.Run("HookReceivesPayloads", func(t *testing.T) {
		engine := NewEngine()

		var startReq Request
		var endResp Response
		engine.SetStartHandler(func(req Request) { startReq = req })
		engine.SetEndHandler(func(resp Response) { endResp = resp })

		req := &testMessage{id: 8, payload: "out"}
		resp := &testMessage{id: 8, payload: "back"}
		engine.Call(req)
		engine.Reply(resp)

		if startReq != Request(req) {
			t.Error("Start hook should receive the request")
		}
		if endResp != Response(resp) {
			t.Error("End hook should receive the response")
		}
	})
}
