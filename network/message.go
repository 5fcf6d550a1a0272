// Package network provides message types for channel communication
package network

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"
)

// MessageType defines the type of network message
type MessageType uint32

const (
	// System message types (0-99)
	MessageTypeHeartbeat MessageType = 1
	MessageTypeError     MessageType = 3
	MessageTypeClose     MessageType = 4

	// User message types (100+)
	MessageTypeUserStart MessageType = 100
	MessageTypeRequest   MessageType = 101
	MessageTypeResponse  MessageType = 102
	MessageTypeData      MessageType = 103
	MessageTypeBroadcast MessageType = 104
)

// String returns the string representation of MessageType
func (mt MessageType) String() string {
	switch mt {
	case MessageTypeHeartbeat:
		return "heartbeat"
	case MessageTypeError:
		return "error"
	case MessageTypeClose:
		return "close"
	case MessageTypeRequest:
		return "request"
	case MessageTypeResponse:
		return "response"
	case MessageTypeData:
		return "data"
	case MessageTypeBroadcast:
		return "broadcast"
	default:
		return fmt.Sprintf("unknown(%d)", mt)
	}
}

// MessageFlag defines message flags
type MessageFlag uint32

const (
	MessageFlagNone       MessageFlag = 0
	MessageFlagCompressed MessageFlag = 1 << 0
	MessageFlagEncrypted  MessageFlag = 1 << 1
	MessageFlagPriority   MessageFlag = 1 << 2
	MessageFlagRequest    MessageFlag = 1 << 3
	MessageFlagResponse   MessageFlag = 1 << 4
)

// Message represents a network message with header and payload.
//
// Id is the correlation identifier that pairs a request with its eventual
// response; it travels in the wire header so the receive path can route
// responses to the channel's rpc engine.
type Message struct {
	// Header fields
	Type      MessageType `json:"type"`
	Flags     MessageFlag `json:"flags"`
	Id        uint32      `json:"id"`
	SessionID uint64      `json:"session_id"`

	// Timing information
	Timestamp time.Time `json:"timestamp"`

	// Payload
	Data []byte `json:"data,omitempty"`

	// Metadata for internal use
	ChannelID string `json:"-"`
}

// callIDCounter assigns correlation ids for outgoing requests
var callIDCounter uint32

// NextCallID returns a process-unique correlation id
func NextCallID() uint32 {
	return atomic.AddUint32(&callIDCounter, 1)
}

// CallID returns the correlation identifier. It satisfies both the
// rpc.Request and rpc.Response capabilities.
func (m *Message) CallID() uint32 {
	return m.Id
}

// IsRequest checks whether the message expects a correlated response
func (m *Message) IsRequest() bool {
	return m.HasFlag(MessageFlagRequest)
}

// IsResponse checks whether the message answers a correlated request
func (m *Message) IsResponse() bool {
	return m.HasFlag(MessageFlagResponse)
}

// NewMessage creates a new message with the specified type and data
func NewMessage(msgType MessageType, data []byte) *Message {
	return &Message{
		Type:      msgType,
		Flags:     MessageFlagNone,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// NewRequestMessage creates a request message with a fresh correlation id
func NewRequestMessage(data []byte) *Message {
	msg := NewMessage(MessageTypeRequest, data)
	msg.Id = NextCallID()
	msg.SetFlag(MessageFlagRequest)
	return msg
}

// NewResponseMessage creates a response answering the given request,
// echoing its correlation id
func NewResponseMessage(req *Message, data []byte) *Message {
	msg := NewMessage(MessageTypeResponse, data)
	msg.Id = req.Id
	msg.SetFlag(MessageFlagResponse)
	return msg
}

// NewHeartbeatMessage creates a heartbeat message
func NewHeartbeatMessage() *Message {
	return NewMessage(MessageTypeHeartbeat, nil)
}

// NewErrorMessage creates an error message
func NewErrorMessage(errorMsg string) *Message {
	return NewMessage(MessageTypeError, []byte(errorMsg))
}

// SetFlag sets a message flag
func (m *Message) SetFlag(flag MessageFlag) {
	m.Flags |= flag
}

// ClearFlag clears a message flag
func (m *Message) ClearFlag(flag MessageFlag) {
	m.Flags &^= flag
}

// HasFlag checks if a message flag is set
func (m *Message) HasFlag(flag MessageFlag) bool {
	return m.Flags&flag != 0
}

// Size returns the total size of the message in bytes
func (m *Message) Size() int {
	return MessageHeaderSize + len(m.Data)
}

// Clone creates a deep copy of the message
func (m *Message) Clone() *Message {
	clone := &Message{
		Type:      m.Type,
		Flags:     m.Flags,
		Id:        m.Id,
		SessionID: m.SessionID,
		Timestamp: m.Timestamp,
		ChannelID: m.ChannelID,
	}

	if m.Data != nil {
		clone.Data = make([]byte, len(m.Data))
		copy(clone.Data, m.Data)
	}

	return clone
}

// Constants for message serialization
const (
	// MessageHeaderSize is the fixed size of the message header in bytes
	MessageHeaderSize = 32

	// MaxMessageSize is the maximum allowed message size
	MaxMessageSize = 64 * 1024 * 1024 // 64MB

	// MaxDataSize is the maximum allowed data payload size
	MaxDataSize = MaxMessageSize - MessageHeaderSize
)

// MessageCodec handles message encoding and decoding
type MessageCodec interface {
	// Encode encodes a message to bytes
	Encode(msg *Message) ([]byte, error)

	// Decode decodes bytes to a message
	Decode(data []byte) (*Message, error)

	// DecodeHeader decodes only the message header
	DecodeHeader(data []byte) (*Message, error)
}

// BinaryMessageCodec implements MessageCodec using binary encoding
type BinaryMessageCodec struct{}

// NewBinaryMessageCodec creates a new binary message codec
func NewBinaryMessageCodec() *BinaryMessageCodec {
	return &BinaryMessageCodec{}
}

// Encode encodes a message to binary format
func (c *BinaryMessageCodec) Encode(msg *Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("message is nil")
	}

	dataLen := len(msg.Data)
	if dataLen > MaxDataSize {
		return nil, fmt.Errorf("message data too large: %d bytes (max %d)", dataLen, MaxDataSize)
	}

	buf := make([]byte, MessageHeaderSize+dataLen)

	binary.BigEndian.PutUint32(buf[0:4], uint32(msg.Type))
	binary.BigEndian.PutUint32(buf[4:8], uint32(msg.Flags))
	binary.BigEndian.PutUint32(buf[8:12], msg.Id)
	binary.BigEndian.PutUint64(buf[12:20], msg.SessionID)
	binary.BigEndian.PutUint64(buf[20:28], uint64(msg.Timestamp.Unix()))
	binary.BigEndian.PutUint32(buf[28:32], uint32(dataLen))

	if dataLen > 0 {
		copy(buf[MessageHeaderSize:], msg.Data)
	}

	return buf, nil
}

// Decode decodes binary data to a message
func (c *BinaryMessageCodec) Decode(data []byte) (*Message, error) {
	msg, err := c.DecodeHeader(data)
	if err != nil {
		return nil, err
	}

	dataLen := cap(msg.Data)
	if len(data) < MessageHeaderSize+dataLen {
		return nil, fmt.Errorf("data too short for message: expected %d, got %d",
			MessageHeaderSize+dataLen, len(data))
	}

	if dataLen > 0 {
		msg.Data = make([]byte, dataLen)
		copy(msg.Data, data[MessageHeaderSize:MessageHeaderSize+dataLen])
	}

	return msg, nil
}

// DecodeHeader decodes only the message header. The returned message holds
// a zero-length Data slice whose capacity announces the payload length.
func (c *BinaryMessageCodec) DecodeHeader(data []byte) (*Message, error) {
	if len(data) < MessageHeaderSize {
		return nil, fmt.Errorf("data too short for message header: %d bytes", len(data))
	}

	msg := &Message{
		Type:      MessageType(binary.BigEndian.Uint32(data[0:4])),
		Flags:     MessageFlag(binary.BigEndian.Uint32(data[4:8])),
		Id:        binary.BigEndian.Uint32(data[8:12]),
		SessionID: binary.BigEndian.Uint64(data[12:20]),
		Timestamp: time.Unix(int64(binary.BigEndian.Uint64(data[20:28])), 0),
	}

	dataLen := binary.BigEndian.Uint32(data[28:32])
	if int(dataLen) > MaxDataSize {
		return nil, fmt.Errorf("message data too large: %d bytes (max %d)", dataLen, MaxDataSize)
	}

	if dataLen > 0 {
		msg.Data = make([]byte, 0, dataLen)
	}

	return msg, nil
}
