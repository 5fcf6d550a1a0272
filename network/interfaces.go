// Package network provides the channel manager for KNET: channels pair a
// transport connection with a request/response correlation engine.
package network

import (
	"net"
	"time"

	"github.com/lycerius/knet/rpc"
)

// Protocol defines the network protocol type
type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// ChannelState represents the state of a channel
type ChannelState int

const (
	ChannelStateConnected ChannelState = iota
	ChannelStateDisconnected
	ChannelStateReconnecting
	ChannelStateClosed
)

// String returns the string representation of ChannelState
func (cs ChannelState) String() string {
	switch cs {
	case ChannelStateConnected:
		return "connected"
	case ChannelStateDisconnected:
		return "disconnected"
	case ChannelStateReconnecting:
		return "reconnecting"
	case ChannelStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Channel represents one connection plus its correlation engine
type Channel interface {
	// ID returns the unique identifier for this channel
	ID() string

	// RemoteAddr returns the remote network address
	RemoteAddr() net.Addr

	// LocalAddr returns the local network address
	LocalAddr() net.Addr

	// Send sends raw data through the channel
	Send(data []byte) error

	// SendMessage sends a structured message
	SendMessage(msg *Message) error

	// Call sends a request message and registers it with the channel's
	// engine; the returned handle resolves with the correlated response
	// or a timeout error
	Call(req *Message, opts ...rpc.CallOption) (<-chan rpc.Result, error)

	// Engine returns the channel's correlation engine
	Engine() *rpc.Engine

	// Serve starts the receive loop, routing responses into the engine
	// and everything else to the handler
	Serve(handler MessageHandler)

	// Close closes the channel and tears its engine down
	Close() error

	// State returns the current channel state
	State() ChannelState

	// SetReadTimeout sets the read timeout
	SetReadTimeout(timeout time.Duration)

	// SetWriteTimeout sets the write timeout
	SetWriteTimeout(timeout time.Duration)

	// GetLastActivity returns the timestamp of last activity
	GetLastActivity() time.Time

	// ReadMessage reads a single message from the channel
	ReadMessage() (*Message, error)

	// GetStatistics returns channel statistics
	GetStatistics() ChannelStatistics
}

// MessageHandler handles incoming messages that are not correlated
// responses (those are consumed by the channel's engine)
type MessageHandler interface {
	// OnMessage is called when a message is received
	OnMessage(ch Channel, msg *Message)

	// OnError is called when a receive error occurs
	OnError(ch Channel, err error)
}

// ChannelHandler observes channel lifecycle
type ChannelHandler interface {
	// OnOpen is called when a new channel is established
	OnOpen(ch Channel)

	// OnClose is called when a channel is closed
	OnClose(ch Channel, err error)
}

// ChannelManager manages multiple channels and drives their engines
type ChannelManager interface {
	// AddChannel adds a channel to the manager
	AddChannel(ch Channel) error

	// RemoveChannel removes a channel from the manager
	RemoveChannel(channelID string) error

	// GetChannel gets a channel by ID
	GetChannel(channelID string) (Channel, bool)

	// GetAllChannels returns all managed channels
	GetAllChannels() []Channel

	// GetChannelsByState returns channels filtered by state
	GetChannelsByState(state ChannelState) []Channel

	// GetChannelCount returns the number of managed channels
	GetChannelCount() int

	// BroadcastMessage broadcasts a message to all channels
	BroadcastMessage(msg *Message) error

	// Tick advances every channel's correlation engine; elapsed drives
	// timeout accounting, realElapsed is the unscaled wall-clock duration
	Tick(elapsed, realElapsed time.Duration)

	// StartHeartbeat starts heartbeat for all channels
	StartHeartbeat(interval time.Duration) error

	// StopHeartbeat stops heartbeat
	StopHeartbeat() error

	// Cleanup removes inactive channels
	Cleanup(timeout time.Duration) int

	// CloseAllChannels closes all managed channels
	CloseAllChannels() error

	// GetStatistics returns channel manager statistics
	GetStatistics() ChannelManagerStatistics
}

// NetworkConfig represents network configuration
type NetworkConfig struct {
	// Protocol is the network protocol (tcp, udp)
	Protocol Protocol

	// Address is the listening address
	Address string

	// Port is the listening port
	Port int

	// ReadTimeout is the read timeout duration
	ReadTimeout time.Duration

	// WriteTimeout is the write timeout duration
	WriteTimeout time.Duration

	// KeepAlive enables TCP keep-alive
	KeepAlive bool

	// KeepAliveInterval is the keep-alive interval
	KeepAliveInterval time.Duration

	// MaxChannels is the maximum number of concurrent channels
	MaxChannels int

	// SendBuffer is the capacity of a channel's async send queue
	SendBuffer int

	// HeartbeatInterval is the heartbeat interval
	HeartbeatInterval time.Duration

	// ReconnectInterval is the auto-reconnect interval
	ReconnectInterval time.Duration

	// MaxReconnectAttempts is the maximum number of reconnect attempts
	MaxReconnectAttempts int

	// CallTimeout is the default timeout budget for correlated calls
	CallTimeout time.Duration

	// Secret enables payload encryption when both ends share it
	Secret string
}

// DefaultNetworkConfig returns a default network configuration
func DefaultNetworkConfig() *NetworkConfig {
	return &NetworkConfig{
		Protocol:             ProtocolTCP,
		Address:              "0.0.0.0",
		Port:                 8080,
		ReadTimeout:          30 * time.Second,
		WriteTimeout:         30 * time.Second,
		KeepAlive:            true,
		KeepAliveInterval:    60 * time.Second,
		MaxChannels:          1000,
		SendBuffer:           256,
		HeartbeatInterval:    30 * time.Second,
		ReconnectInterval:    5 * time.Second,
		MaxReconnectAttempts: 3,
		CallTimeout:          rpc.DefaultCallTimeout,
	}
}
