// Package network provides the TCP channel implementation
package network

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"

	"github.com/lycerius/knet/crypt"
	"github.com/lycerius/knet/rpc"
)

// tcpChannel implements the Channel interface for TCP connections
type tcpChannel struct {
	id           string
	conn         net.Conn
	state        int32 // ChannelState as atomic int32
	readTimeout  time.Duration
	writeTimeout time.Duration
	lastActivity int64 // Unix timestamp as atomic int64
	codec        MessageCodec
	cipher       crypt.Cipher
	engine       *rpc.Engine

	// Synchronization
	mu       sync.RWMutex
	closed   int32 // atomic flag
	serving  int32 // atomic flag
	sendChan chan []byte
	sendKick chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup

	// overflow holds writes that did not fit in sendChan, drained in
	// order by the send loop
	overflow   *queue.Queue
	overflowMu sync.Mutex

	// Statistics
	bytesRead    int64
	bytesWritten int64
	messagesRead int64
	messagesSent int64
}

// channelIDCounter generates unique channel IDs
var channelIDCounter int64

// NewTCPChannel wraps a connection into a channel with its own
// correlation engine
func NewTCPChannel(conn net.Conn, config *NetworkConfig) Channel {
	if config == nil {
		config = DefaultNetworkConfig()
	}

	id := fmt.Sprintf("tcp-%d", atomic.AddInt64(&channelIDCounter, 1))

	ch := &tcpChannel{
		id:           id,
		conn:         conn,
		state:        int32(ChannelStateConnected),
		readTimeout:  config.ReadTimeout,
		writeTimeout: config.WriteTimeout,
		lastActivity: time.Now().Unix(),
		codec:        NewBinaryMessageCodec(),
		engine:       rpc.NewEngine(rpc.WithDefaultTimeout(config.CallTimeout)),
		sendChan:     make(chan []byte, config.SendBuffer),
		sendKick:     make(chan struct{}, 1),
		done:         make(chan struct{}),
		overflow:     queue.New(),
	}

	// Payload encryption is on when both ends share a secret
	if config.Secret != "" {
		cipher, err := crypt.NewDESCipher(config.Secret)
		if err == nil {
			ch.cipher = cipher
		}
	}

	go ch.sendLoop()

	return ch
}

// ID returns the channel ID
func (tc *tcpChannel) ID() string {
	return tc.id
}

// RemoteAddr returns the remote address
func (tc *tcpChannel) RemoteAddr() net.Addr {
	if tc.conn == nil {
		return nil
	}
	return tc.conn.RemoteAddr()
}

// LocalAddr returns the local address
func (tc *tcpChannel) LocalAddr() net.Addr {
	if tc.conn == nil {
		return nil
	}
	return tc.conn.LocalAddr()
}

// Send sends raw data through the channel
func (tc *tcpChannel) Send(data []byte) error {
	if tc.isClosed() {
		return fmt.Errorf("channel %s is closed", tc.id)
	}

	if len(data) == 0 {
		return nil
	}

	// Try the buffered channel first (non-blocking)
	select {
	case tc.sendChan <- data:
		return nil
	default:
	}

	// Channel is full, park the write in the overflow queue
	tc.overflowMu.Lock()
	tc.overflow.Add(data)
	tc.overflowMu.Unlock()

	// Wake the send loop in case sendChan stays quiet
	select {
	case tc.sendKick <- struct{}{}:
	default:
	}

	return nil
}

// SendMessage sends a structured message
func (tc *tcpChannel) SendMessage(msg *Message) error {
	if tc.isClosed() {
		return fmt.Errorf("channel %s is closed", tc.id)
	}

	if msg == nil {
		return fmt.Errorf("message is nil")
	}

	// Set channel ID
	msg.ChannelID = tc.id

	// Encrypt the payload without touching the caller's message
	wire := msg
	if tc.cipher != nil && len(msg.Data) > 0 && !msg.HasFlag(MessageFlagEncrypted) {
		encrypted, err := tc.cipher.Encrypt(msg.Data)
		if err != nil {
			return fmt.Errorf("failed to encrypt message %d: %w", msg.Id, err)
		}
		clone := *msg
		clone.Data = encrypted
		clone.SetFlag(MessageFlagEncrypted)
		wire = &clone
	}

	// Encode message
	data, err := tc.codec.Encode(wire)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	// Send encoded data
	err = tc.Send(data)
	if err == nil {
		atomic.AddInt64(&tc.messagesSent, 1)
	}

	return err
}

// Call registers the request with the channel's engine and sends it.
// The returned handle resolves exactly once, with the correlated response
// or a *rpc.TimeoutError once the tick-driven budget runs out.
//
// If sending fails after registration, the handle is still returned: the
// pending call will resolve through its timeout budget.
func (tc *tcpChannel) Call(req *Message, opts ...rpc.CallOption) (<-chan rpc.Result, error) {
	if req == nil {
		return nil, fmt.Errorf("request is nil")
	}
	if !req.IsRequest() {
		return nil, fmt.Errorf("message %d does not carry the request flag", req.Id)
	}

	// Register before sending so a fast response cannot miss the entry
	done, err := tc.engine.Call(req, opts...)
	if err != nil {
		return nil, err
	}

	if err := tc.SendMessage(req); err != nil {
		return done, fmt.Errorf("failed to send request %d: %w", req.Id, err)
	}

	return done, nil
}

// Engine returns the channel's correlation engine
func (tc *tcpChannel) Engine() *rpc.Engine {
	return tc.engine
}

// Serve starts the receive loop. Correlated responses are consumed by the
// engine; everything else is handed to the handler. Serve is a no-op if
// the loop is already running.
func (tc *tcpChannel) Serve(handler MessageHandler) {
	if !atomic.CompareAndSwapInt32(&tc.serving, 0, 1) {
		return
	}

	tc.wg.Add(1)
	go tc.recvLoop(handler)
}

// Close closes the channel and tears its engine down
func (tc *tcpChannel) Close() error {
	if !atomic.CompareAndSwapInt32(&tc.closed, 0, 1) {
		return nil // Already closed
	}

	// Update state
	atomic.StoreInt32(&tc.state, int32(ChannelStateClosed))

	// Abandon pending calls
	tc.engine.Close()

	// Signal the send loop. sendChan itself is never closed: a Send racing
	// past the closed check may still write to it, and a write to a closed
	// channel would panic. Late writes land in the buffer and are dropped
	// when the loop exits.
	close(tc.done)

	// Close underlying connection
	if tc.conn != nil {
		return tc.conn.Close()
	}

	return nil
}

// State returns the current channel state
func (tc *tcpChannel) State() ChannelState {
	return ChannelState(atomic.LoadInt32(&tc.state))
}

// SetReadTimeout sets the read timeout
func (tc *tcpChannel) SetReadTimeout(timeout time.Duration) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.readTimeout = timeout
}

// SetWriteTimeout sets the write timeout
func (tc *tcpChannel) SetWriteTimeout(timeout time.Duration) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.writeTimeout = timeout
}

// GetLastActivity returns the last activity timestamp
func (tc *tcpChannel) GetLastActivity() time.Time {
	timestamp := atomic.LoadInt64(&tc.lastActivity)
	return time.Unix(timestamp, 0)
}

// ReadMessage reads a single message from the channel
func (tc *tcpChannel) ReadMessage() (*Message, error) {
	if tc.isClosed() {
		return nil, fmt.Errorf("channel %s is closed", tc.id)
	}

	// Set read deadline
	tc.mu.RLock()
	readTimeout := tc.readTimeout
	tc.mu.RUnlock()

	if readTimeout > 0 {
		err := tc.conn.SetReadDeadline(time.Now().Add(readTimeout))
		if err != nil {
			return nil, fmt.Errorf("failed to set read deadline: %w", err)
		}
	}

	// Read message header first
	headerBuf := make([]byte, MessageHeaderSize)
	_, err := tc.readFull(headerBuf)
	if err != nil {
		return nil, fmt.Errorf("failed to read message header: %w", err)
	}

	// Decode header to get data length
	header, err := tc.codec.DecodeHeader(headerBuf)
	if err != nil {
		return nil, fmt.Errorf("failed to decode message header: %w", err)
	}

	// Read message data if any
	if cap(header.Data) > 0 {
		dataBuf := make([]byte, cap(header.Data))
		_, err = tc.readFull(dataBuf)
		if err != nil {
			return nil, fmt.Errorf("failed to read message data: %w", err)
		}
		header.Data = dataBuf
	}

	// Decrypt the payload
	if header.HasFlag(MessageFlagEncrypted) {
		if tc.cipher == nil {
			return nil, fmt.Errorf("message %d is encrypted but channel %s has no secret", header.Id, tc.id)
		}
		decrypted, err := tc.cipher.Decrypt(header.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt message %d: %w", header.Id, err)
		}
		header.Data = decrypted
		header.ClearFlag(MessageFlagEncrypted)
	}

	// Update statistics and activity
	atomic.AddInt64(&tc.messagesRead, 1)
	tc.updateActivity()

	// Set channel ID
	header.ChannelID = tc.id

	return header, nil
}

// GetStatistics returns channel statistics
func (tc *tcpChannel) GetStatistics() ChannelStatistics {
	var remoteAddr, localAddr string
	if addr := tc.RemoteAddr(); addr != nil {
		remoteAddr = addr.String()
	}
	if addr := tc.LocalAddr(); addr != nil {
		localAddr = addr.String()
	}

	return ChannelStatistics{
		ChannelID:    tc.id,
		State:        tc.State(),
		BytesRead:    atomic.LoadInt64(&tc.bytesRead),
		BytesWritten: atomic.LoadInt64(&tc.bytesWritten),
		MessagesRead: atomic.LoadInt64(&tc.messagesRead),
		MessagesSent: atomic.LoadInt64(&tc.messagesSent),
		LastActivity: tc.GetLastActivity(),
		RemoteAddr:   remoteAddr,
		LocalAddr:    localAddr,
		Engine:       tc.engine.GetStatistics(),
	}
}

// Private methods

// isClosed checks if the channel is closed
func (tc *tcpChannel) isClosed() bool {
	return atomic.LoadInt32(&tc.closed) != 0
}

// recvLoop reads messages until the connection fails. Messages carrying
// the response flag are routed into the correlation engine; an unmatched
// response is a normal late/duplicate delivery and is dropped.
func (tc *tcpChannel) recvLoop(handler MessageHandler) {
	defer tc.wg.Done()

	for {
		msg, err := tc.ReadMessage()
		if err != nil {
			if !tc.isClosed() {
				atomic.StoreInt32(&tc.state, int32(ChannelStateDisconnected))
				if handler != nil {
					handler.OnError(tc, err)
				}
			}
			return
		}

		if msg.IsResponse() {
			tc.engine.Reply(msg)
			continue
		}

		if msg.Type == MessageTypeHeartbeat {
			continue
		}

		if handler != nil {
			handler.OnMessage(tc, msg)
		}
	}
}

// sendLoop handles asynchronous sending, draining the overflow queue
// after every write
func (tc *tcpChannel) sendLoop() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("sendLoop panic in channel %s: %v\n", tc.id, r)
		}
	}()

	for {
		select {
		case <-tc.done:
			return
		case data := <-tc.sendChan:
			if tc.isClosed() {
				return
			}
			if err := tc.sendDirect(data); err != nil {
				tc.Close()
				return
			}
		case <-tc.sendKick:
			if tc.isClosed() {
				return
			}
		}

		if err := tc.drainOverflow(); err != nil {
			tc.Close()
			return
		}
	}
}

// drainOverflow writes every parked buffer in arrival order
func (tc *tcpChannel) drainOverflow() error {
	for {
		tc.overflowMu.Lock()
		if tc.overflow.Length() == 0 {
			tc.overflowMu.Unlock()
			return nil
		}
		data := tc.overflow.Remove().([]byte)
		tc.overflowMu.Unlock()

		if err := tc.sendDirect(data); err != nil {
			return err
		}
	}
}

// sendDirect sends data directly through the connection
func (tc *tcpChannel) sendDirect(data []byte) error {
	if tc.conn == nil {
		return fmt.Errorf("connection is nil")
	}

	// Set write deadline
	tc.mu.RLock()
	writeTimeout := tc.writeTimeout
	tc.mu.RUnlock()

	if writeTimeout > 0 {
		err := tc.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}

	// Write data
	n, err := tc.conn.Write(data)
	if err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}

	// Update statistics and activity
	atomic.AddInt64(&tc.bytesWritten, int64(n))
	tc.updateActivity()

	return nil
}

// readFull reads exactly len(buf) bytes
func (tc *tcpChannel) readFull(buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := tc.conn.Read(buf[total:])
		if err != nil {
			return total, err
		}
		total += n
		atomic.AddInt64(&tc.bytesRead, int64(n))
	}
	return total, nil
}

// updateActivity updates the last activity timestamp
func (tc *tcpChannel) updateActivity() {
	atomic.StoreInt64(&tc.lastActivity, time.Now().Unix())
}

// ChannelStatistics holds statistics for a channel
type ChannelStatistics struct {
	ChannelID    string               `json:"channel_id"`
	State        ChannelState         `json:"state"`
	BytesRead    int64                `json:"bytes_read"`
	BytesWritten int64                `json:"bytes_written"`
	MessagesRead int64                `json:"messages_read"`
	MessagesSent int64                `json:"messages_sent"`
	LastActivity time.Time            `json:"last_activity"`
	RemoteAddr   string               `json:"remote_addr"`
	LocalAddr    string               `json:"local_addr"`
	Engine       rpc.EngineStatistics `json:"engine"`
}

// String returns the string representation of channel statistics
func (cs ChannelStatistics) String() string {
	return fmt.Sprintf("Channel[%s] State=%s BytesR/W=%d/%d MsgsR/S=%d/%d Pending=%d Remote=%s",
		cs.ChannelID, cs.State, cs.BytesRead, cs.BytesWritten,
		cs.MessagesRead, cs.MessagesSent, cs.Engine.Pending, cs.RemoteAddr)
}
