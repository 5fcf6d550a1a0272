// Package protocol provides a method-oriented layer on top of network
// channels. Requests carry a method name and a JSON body inside the
// message payload; a Router dispatches incoming requests to registered
// handlers and answers them on the same correlation id.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/lycerius/knet/network"
	"github.com/lycerius/knet/rpc"
)

var (
	ErrUnknownMethod = errors.New("unknown method")
	ErrEmptyMethod   = errors.New("method name is empty")
	ErrNilHandler    = errors.New("handler is nil")
)

// Envelope is the JSON payload carried by request and response messages
type Envelope struct {
	Method string          `json:"method"`
	Body   json.RawMessage `json:"body,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// RemoteError is the failure reported by the remote handler
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error from %s: %s", e.Method, e.Message)
}

// EncodeRequest builds a request message for the given method
func EncodeRequest(method string, body interface{}) (*network.Message, error) {
	if method == "" {
		return nil, ErrEmptyMethod
	}

	env := Envelope{Method: method}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body for %s: %w", method, err)
		}
		env.Body = data
	}

	payload, err := json.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope for %s: %w", method, err)
	}

	return network.NewRequestMessage(payload), nil
}

// EncodeResponse builds a response answering req with the given body
func EncodeResponse(req *network.Message, method string, body interface{}) (*network.Message, error) {
	env := Envelope{Method: method}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body for %s: %w", method, err)
		}
		env.Body = data
	}

	payload, err := json.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope for %s: %w", method, err)
	}

	return network.NewResponseMessage(req, payload), nil
}

// EncodeErrorResponse builds a response carrying a handler failure
func EncodeErrorResponse(req *network.Message, method string, handlerErr error) (*network.Message, error) {
	env := Envelope{Method: method, Error: handlerErr.Error()}

	payload, err := json.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal error envelope for %s: %w", method, err)
	}

	return network.NewResponseMessage(req, payload), nil
}

// DecodeEnvelope extracts the envelope from a message payload
func DecodeEnvelope(msg *network.Message) (*Envelope, error) {
	if msg == nil {
		return nil, fmt.Errorf("message is nil")
	}

	env := &Envelope{}
	if err := json.Unmarshal(msg.Data, env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}

	return env, nil
}

// HandlerFunc handles a decoded request body and returns the response
// body, or an error to report to the caller
type HandlerFunc func(ch network.Channel, body json.RawMessage) (interface{}, error)

// Router dispatches request messages to handlers by method name.
// It implements network.MessageHandler, so it plugs directly into a
// listener or dialer.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRouter creates an empty router
func NewRouter() *Router {
	return &Router{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register registers a handler for a method name
func (r *Router) Register(method string, fn HandlerFunc) error {
	if method == "" {
		return ErrEmptyMethod
	}
	if fn == nil {
		return ErrNilHandler
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[method] = fn

	return nil
}

// Methods returns the registered method names
func (r *Router) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	methods := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		methods = append(methods, name)
	}
	return methods
}

// OnMessage dispatches a request to its handler and sends the response
// back on the same channel. Non-request messages are ignored.
func (r *Router) OnMessage(ch network.Channel, msg *network.Message) {
	if !msg.IsRequest() {
		return
	}

	env, err := DecodeEnvelope(msg)
	if err != nil {
		log.Printf("channel %s: dropping malformed request %d: %v", ch.ID(), msg.Id, err)
		return
	}

	r.mu.RLock()
	fn, ok := r.handlers[env.Method]
	r.mu.RUnlock()

	var resp *network.Message
	if !ok {
		resp, err = EncodeErrorResponse(msg, env.Method, ErrUnknownMethod)
	} else {
		result, handlerErr := fn(ch, env.Body)
		if handlerErr != nil {
			resp, err = EncodeErrorResponse(msg, env.Method, handlerErr)
		} else {
			resp, err = EncodeResponse(msg, env.Method, result)
		}
	}

	if err != nil {
		log.Printf("channel %s: failed to encode response for %s: %v", ch.ID(), env.Method, err)
		return
	}

	if err := ch.SendMessage(resp); err != nil {
		log.Printf("channel %s: failed to send response for %s: %v", ch.ID(), env.Method, err)
	}
}

// OnError is part of network.MessageHandler
func (r *Router) OnError(ch network.Channel, err error) {
	log.Printf("channel %s: receive error: %v", ch.ID(), err)
}

// Call sends a method request over the channel and blocks until the
// response arrives or the call's timeout budget evicts it. The reply
// body is unmarshaled into reply when it is non-nil.
//
// The channel's tick driver must be running, otherwise an unanswered
// call never times out.
func Call(ch network.Channel, method string, body, reply interface{}, opts ...rpc.CallOption) error {
	req, err := EncodeRequest(method, body)
	if err != nil {
		return err
	}

	done, err := ch.Call(req, opts...)
	if err != nil {
		return err
	}

	res := <-done
	if res.Err != nil {
		return res.Err
	}

	msg, ok := res.Response.(*network.Message)
	if !ok {
		return fmt.Errorf("unexpected response type %T for %s", res.Response, method)
	}

	env, err := DecodeEnvelope(msg)
	if err != nil {
		return err
	}
	if env.Error != "" {
		return &RemoteError{Method: method, Message: env.Error}
	}

	if reply != nil && len(env.Body) > 0 {
		if err := json.Unmarshal(env.Body, reply); err != nil {
			return fmt.Errorf("failed to decode reply for %s: %w", method, err)
		}
	}

	return nil
}
