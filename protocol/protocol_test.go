package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/lycerius/knet/network"
)

// fakeChannel records sent messages; unimplemented methods panic
type fakeChannel struct {
	network.Channel
	sent []*network.Message
}

func (fc *fakeChannel) ID() string { return "fake-1" }

func (fc *fakeChannel) SendMessage(msg *network.Message) error {
	fc.sent = append(fc.sent, msg)
	return nil
}

type greetRequest struct {
	Name string `json:"name"`
}

type greetResponse struct {
	Greeting string `json:"greeting"`
}

func TestEnvelope(t *testing.T) {
	t.Run("EncodeRequest", func(t *testing.T) {
		req, err := EncodeRequest("greet", &greetRequest{Name: "world"})
		if err != nil {
			t.Fatalf("Failed to encode request: %v", err)
		}

		if !req.IsRequest() {
			t.Error("Encoded request should carry the request flag")
		}
		if req.Id == 0 {
			t.Error("Encoded request should get a correlation id")
		}

		env, err := DecodeEnvelope(req)
		if err != nil {
			t.Fatalf("Failed to decode envelope: %v", err)
		}
		if env.Method != "greet" {
			t.Errorf("Expected method 'greet', got '%s'", env.Method)
		}

		var body greetRequest
		if err := json.Unmarshal(env.Body, &body); err != nil {
			t.Fatalf("Failed to decode body: %v", err)
		}
		if body.Name != "world" {
			t.Errorf("Expected name 'world', got '%s'", body.Name)
		}
	})

	t.Run("EmptyMethod", func(t *testing.T) {
		if _, err := EncodeRequest("", nil); err != ErrEmptyMethod {
			t.Errorf("Expected %v, got %v", ErrEmptyMethod, err)
		}
	})

	t.Run("EncodeResponse", func(t *testing.T) {
		req, _ := EncodeRequest("greet", nil)
		resp, err := EncodeResponse(req, "greet", &greetResponse{Greeting: "hi"})
		if err != nil {
			t.Fatalf("Failed to encode response: %v", err)
		}

		if !resp.IsResponse() {
			t.Error("Encoded response should carry the response flag")
		}
		if resp.Id != req.Id {
			t.Errorf("Response id %d should echo request id %d", resp.Id, req.Id)
		}
	})

	t.Run("EncodeErrorResponse", func(t *testing.T) {
		req, _ := EncodeRequest("greet", nil)
		resp, err := EncodeErrorResponse(req, "greet", errors.New("boom"))
		if err != nil {
			t.Fatalf("Failed to encode error response: %v", err)
		}

		env, _ := DecodeEnvelope(resp)
		if env.Error != "boom" {
			t.Errorf("Expected error 'boom', got '%s'", env.Error)
		}
	})
}

func TestRouter(t *testing.T) {
	t.Run("Register", func(t *testing.T) {
		router := NewRouter()

		err := router.Register("greet", func(ch network.Channel, body json.RawMessage) (interface{}, error) {
			return nil, nil
		})
		if err != nil {
			t.Fatalf("Failed to register handler: %v", err)
		}

		if err := router.Register("", nil); err != ErrEmptyMethod {
			t.Errorf("Expected %v, got %v", ErrEmptyMethod, err)
		}
		if err := router.Register("bad", nil); err != ErrNilHandler {
			t.Errorf("Expected %v, got %v", ErrNilHandler, err)
		}

		methods := router.Methods()
		if len(methods) != 1 || methods[0] != "greet" {
			t.Errorf("Expected methods [greet], got %v", methods)
		}
	})

	t.Run("Dispatch", func(t *testing.T) {
		router := NewRouter()
		router.Register("greet", func(ch network.Channel, body json.RawMessage) (interface{}, error) {
			var req greetRequest
			if err := json.Unmarshal(body, &req); err != nil {
				return nil, err
			}
			return &greetResponse{Greeting: "hello " + req.Name}, nil
		})

		ch := &fakeChannel{}
		req, _ := EncodeRequest("greet", &greetRequest{Name: "world"})
		router.OnMessage(ch, req)

		if len(ch.sent) != 1 {
			t.Fatalf("Expected one response, got %d", len(ch.sent))
		}

		resp := ch.sent[0]
		if resp.Id != req.Id {
			t.Errorf("Response id %d should echo request id %d", resp.Id, req.Id)
		}

		env, err := DecodeEnvelope(resp)
		if err != nil {
			t.Fatalf("Failed to decode envelope: %v", err)
		}

		var body greetResponse
		if err := json.Unmarshal(env.Body, &body); err != nil {
			t.Fatalf("Failed to decode body: %v", err)
		}
		if body.Greeting != "hello world" {
			t.Errorf("Expected 'hello world', got '%s'", body.Greeting)
		}
	})

	t.Run("HandlerError", func(t *testing.T) {
		router := NewRouter()
		router.Register("fail", func(ch network.Channel, body json.RawMessage) (interface{}, error) {
			return nil, errors.New("handler exploded")
		})

		ch := &fakeChannel{}
		req, _ := EncodeRequest("fail", nil)
		router.OnMessage(ch, req)

		if len(ch.sent) != 1 {
			t.Fatalf("Expected one response, got %d", len(ch.sent))
		}

		env, _ := DecodeEnvelope(ch.sent[0])
		if env.Error != "handler exploded" {
			t.Errorf("Expected handler error, got '%s'", env.Error)
		}
	})

	t.Run("UnknownMethod", func(t *testing.T) {
		router := NewRouter()

		ch := &fakeChannel{}
		req, _ := EncodeRequest("missing", nil)
		router.OnMessage(ch, req)

		if len(ch.sent) != 1 {
			t.Fatalf("Expected one response, got %d", len(ch.sent))
		}

		env, _ := DecodeEnvelope(ch.sent[0])
		if env.Error != ErrUnknownMethod.Error() {
			t.Errorf("Expected unknown method error, got '%s'", env.Error)
		}
	})

	t.Run("IgnoresNonRequests", func(t *testing.T) {
		router := NewRouter()

		ch := &fakeChannel{}
		router.OnMessage(ch, network.NewMessage(network.MessageTypeData, []byte("stray")))

		if len(ch.sent) != 0 {
			t.Errorf("Expected no responses, got %d", len(ch.sent))
		}
	})
}
