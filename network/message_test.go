// Package network provides tests for message encoding/decoding
package network

import (
	"testing"
	"time"
)

func TestMessage(t *testing.T) {
	t.Run("NewMessage", func(t *testing.T) {
		data := []byte("test data")
		msg := NewMessage(MessageTypeData, data)

		if msg.Type != MessageTypeData {
			t.Errorf("Expected type %v, got %v", MessageTypeData, msg.Type)
		}

		if string(msg.Data) != string(data) {
			t.Errorf("Expected data %s, got %s", string(data), string(msg.Data))
		}

		if msg.Flags != MessageFlagNone {
			t.Errorf("Expected flags %v, got %v", MessageFlagNone, msg.Flags)
		}
	})

	t.Run("RequestMessage", func(t *testing.T) {
		req := NewRequestMessage([]byte("ping"))

		if req.Type != MessageTypeRequest {
			t.Errorf("Expected request type, got %v", req.Type)
		}
		if !req.IsRequest() {
			t.Error("Request message should carry the request flag")
		}
		if req.Id == 0 {
			t.Error("Request message should get a correlation id")
		}
		if req.CallID() != req.Id {
			t.Error("CallID should expose the correlation id")
		}

		// Ids are unique per request
		other := NewRequestMessage(nil)
		if other.Id == req.Id {
			t.Error("Consecutive requests should get distinct ids")
		}
	})

	t.Run("ResponseMessage", func(t *testing.T) {
		req := NewRequestMessage([]byte("ping"))
		resp := NewResponseMessage(req, []byte("pong"))

		if resp.Type != MessageTypeResponse {
			t.Errorf("Expected response type, got %v", resp.Type)
		}
		if !resp.IsResponse() {
			t.Error("Response message should carry the response flag")
		}
		if resp.Id != req.Id {
			t.Errorf("Response should echo the request id %d, got %d", req.Id, resp.Id)
		}
	})

	t.Run("SpecialMessages", func(t *testing.T) {
		heartbeat := NewHeartbeatMessage()
		if heartbeat.Type != MessageTypeHeartbeat {
			t.Errorf("Expected heartbeat type, got %v", heartbeat.Type)
		}
		if len(heartbeat.Data) != 0 {
			t.Errorf("Expected empty data for heartbeat, got %d bytes", len(heartbeat.Data))
		}

		errorMsg := NewErrorMessage("test error")
		if errorMsg.Type != MessageTypeError {
			t.Errorf("Expected error type, got %v", errorMsg.Type)
		}
		if string(errorMsg.Data) != "test error" {
			t.Errorf("Expected error data 'test error', got %s", string(errorMsg.Data))
		}
	})

	t.Run("Flags", func(t *testing.T) {
		msg := NewMessage(MessageTypeData, nil)

		msg.SetFlag(MessageFlagCompressed)
		if !msg.HasFlag(MessageFlagCompressed) {
			t.Error("Flag should be set")
		}

		msg.ClearFlag(MessageFlagCompressed)
		if msg.HasFlag(MessageFlagCompressed) {
			t.Error("Flag should be cleared")
		}
	})

	t.Run("Clone", func(t *testing.T) {
		msg := NewRequestMessage([]byte("payload"))
		msg.SessionID = 99

		clone := msg.Clone()
		if clone.Id != msg.Id || clone.SessionID != msg.SessionID {
			t.Error("Clone should copy header fields")
		}

		clone.Data[0] = 'X'
		if msg.Data[0] == 'X' {
			t.Error("Clone should deep-copy the data")
		}
	})
}

func TestBinaryMessageCodec(t *testing.T) {
	codec := NewBinaryMessageCodec()

	t.Run("EncodeDecode", func(t *testing.T) {
		original := NewRequestMessage([]byte("hello channel"))
		original.SessionID = 7
		original.Timestamp = time.Unix(1700000000, 0)

		encoded, err := codec.Encode(original)
		if err != nil {
			t.Fatalf("Failed to encode message: %v", err)
		}
		if len(encoded) != MessageHeaderSize+len(original.Data) {
			t.Errorf("Expected %d bytes, got %d", MessageHeaderSize+len(original.Data), len(encoded))
		}

		decoded, err := codec.Decode(encoded)
		if err != nil {
			t.Fatalf("Failed to decode message: %v", err)
		}

		if decoded.Type != original.Type {
			t.Errorf("Type mismatch: %v != %v", decoded.Type, original.Type)
		}
		if decoded.Id != original.Id {
			t.Errorf("Correlation id mismatch: %d != %d", decoded.Id, original.Id)
		}
		if decoded.SessionID != original.SessionID {
			t.Errorf("Session mismatch: %d != %d", decoded.SessionID, original.SessionID)
		}
		if !decoded.IsRequest() {
			t.Error("Request flag should survive the round trip")
		}
		if string(decoded.Data) != string(original.Data) {
			t.Errorf("Data mismatch: %s != %s", decoded.Data, original.Data)
		}
	})

	t.Run("DecodeHeader", func(t *testing.T) {
		original := NewResponseMessage(NewRequestMessage(nil), []byte("body"))
		encoded, _ := codec.Encode(original)

		header, err := codec.DecodeHeader(encoded[:MessageHeaderSize])
		if err != nil {
			t.Fatalf("Failed to decode header: %v", err)
		}

		if header.Id != original.Id {
			t.Errorf("Correlation id mismatch: %d != %d", header.Id, original.Id)
		}
		if cap(header.Data) != len(original.Data) {
			t.Errorf("Header should announce payload length %d, got %d",
				len(original.Data), cap(header.Data))
		}
	})

	t.Run("DecodeErrors", func(t *testing.T) {
		if _, err := codec.Decode([]byte("short")); err == nil {
			t.Error("Decoding truncated data should fail")
		}

		msg := NewMessage(MessageTypeData, []byte("full payload"))
		encoded, _ := codec.Encode(msg)
		if _, err := codec.Decode(encoded[:len(encoded)-1]); err == nil {
			t.Error("Decoding a message with a truncated payload should fail")
		}
	})

	t.Run("EncodeNil", func(t *testing.T) {
		if _, err := codec.Encode(nil); err == nil {
			t.Error("Encoding nil should fail")
		}
	})
}
