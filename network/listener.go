// Package network provides the accepting side of channel creation
package network

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Listener accepts incoming connections and wraps them into channels
type Listener interface {
	// Start starts accepting connections
	Start() error

	// Stop stops the listener gracefully
	Stop() error

	// Addr returns the listening address
	Addr() net.Addr

	// SetChannelHandler sets the handler for channel lifecycle events
	SetChannelHandler(handler ChannelHandler)

	// SetMessageHandler sets the handler for incoming messages
	SetMessageHandler(handler MessageHandler)

	// GetActiveChannels returns all active channels
	GetActiveChannels() []Channel

	// GetChannelCount returns the number of active channels
	GetChannelCount() int

	// GetStatistics returns listener statistics
	GetStatistics() ListenerStatistics
}

// tcpListener implements the Listener interface for TCP
type tcpListener struct {
	config   *NetworkConfig
	listener net.Listener
	running  int32 // atomic flag

	// Event handlers
	chanHandler ChannelHandler
	msgHandler  MessageHandler

	// Channel management
	channels   map[string]Channel
	channelsMu sync.RWMutex

	// Synchronization
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Statistics
	totalChannels   int64
	currentChannels int64
	startTime       time.Time
}

// NewTCPListener creates a new TCP listener
func NewTCPListener(config *NetworkConfig) (Listener, error) {
	if config == nil {
		config = DefaultNetworkConfig()
	}

	// Validate configuration
	if config.Protocol != ProtocolTCP {
		return nil, fmt.Errorf("invalid protocol for TCP listener: %s", config.Protocol)
	}

	ctx, cancel := context.WithCancel(context.Background())

	l := &tcpListener{
		config:   config,
		channels: make(map[string]Channel),
		ctx:      ctx,
		cancel:   cancel,
	}

	return l, nil
}

// Start starts accepting connections
func (tl *tcpListener) Start() error {
	if !atomic.CompareAndSwapInt32(&tl.running, 0, 1) {
		return fmt.Errorf("listener is already running")
	}

	address := fmt.Sprintf("%s:%d", tl.config.Address, tl.config.Port)
	listener, err := net.Listen(string(tl.config.Protocol), address)
	if err != nil {
		atomic.StoreInt32(&tl.running, 0)
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	// Fresh context so a stopped listener can be started again
	tl.ctx, tl.cancel = context.WithCancel(context.Background())

	tl.listener = listener
	tl.startTime = time.Now()

	tl.wg.Add(1)
	go tl.acceptLoop()

	log.Printf("listener started on %s", listener.Addr())
	return nil
}

// Stop stops the listener gracefully
func (tl *tcpListener) Stop() error {
	if !atomic.CompareAndSwapInt32(&tl.running, 1, 0) {
		return nil // Already stopped
	}

	// Cancel context
	tl.cancel()

	// Close listener
	if tl.listener != nil {
		tl.listener.Close()
	}

	// Wait for the accept loop to finish
	tl.wg.Wait()

	// Close all channels
	tl.channelsMu.Lock()
	for _, ch := range tl.channels {
		ch.Close()
	}
	tl.channels = make(map[string]Channel)
	tl.channelsMu.Unlock()

	log.Println("listener stopped")
	return nil
}

// Addr returns the listening address
func (tl *tcpListener) Addr() net.Addr {
	if tl.listener == nil {
		return nil
	}
	return tl.listener.Addr()
}

// SetChannelHandler sets the handler for channel lifecycle events
func (tl *tcpListener) SetChannelHandler(handler ChannelHandler) {
	tl.chanHandler = handler
}

// SetMessageHandler sets the handler for incoming messages
func (tl *tcpListener) SetMessageHandler(handler MessageHandler) {
	tl.msgHandler = handler
}

// GetActiveChannels returns all active channels
func (tl *tcpListener) GetActiveChannels() []Channel {
	tl.channelsMu.RLock()
	defer tl.channelsMu.RUnlock()

	channels := make([]Channel, 0, len(tl.channels))
	for _, ch := range tl.channels {
		channels = append(channels, ch)
	}

	return channels
}

// GetChannelCount returns the number of active channels
func (tl *tcpListener) GetChannelCount() int {
	return int(atomic.LoadInt64(&tl.currentChannels))
}

// GetStatistics returns listener statistics
func (tl *tcpListener) GetStatistics() ListenerStatistics {
	var address string
	if addr := tl.Addr(); addr != nil {
		address = addr.String()
	}

	return ListenerStatistics{
		Address:         address,
		Protocol:        string(tl.config.Protocol),
		Running:         atomic.LoadInt32(&tl.running) == 1,
		StartTime:       tl.startTime,
		Uptime:          time.Since(tl.startTime),
		TotalChannels:   atomic.LoadInt64(&tl.totalChannels),
		CurrentChannels: atomic.LoadInt64(&tl.currentChannels),
	}
}

// Private methods

// acceptLoop accepts incoming connections
func (tl *tcpListener) acceptLoop() {
	defer tl.wg.Done()

	for {
		conn, err := tl.listener.Accept()
		if err != nil {
			select {
			case <-tl.ctx.Done():
				return
			default:
				log.Printf("failed to accept connection: %v", err)
				continue
			}
		}

		// Check channel limit
		if tl.config.MaxChannels > 0 {
			currentCount := atomic.LoadInt64(&tl.currentChannels)
			if currentCount >= int64(tl.config.MaxChannels) {
				log.Printf("channel limit reached (%d), rejecting %s",
					tl.config.MaxChannels, conn.RemoteAddr())
				conn.Close()
				continue
			}
		}

		// Configure TCP connection
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			if tl.config.KeepAlive {
				tcpConn.SetKeepAlive(true)
				tcpConn.SetKeepAlivePeriod(tl.config.KeepAliveInterval)
			}
		}

		// Wrap into a channel and start its receive loop
		channel := NewTCPChannel(conn, tl.config)
		tl.addChannel(channel)
		channel.Serve(&listenerMessageHandler{listener: tl})

		if tl.chanHandler != nil {
			tl.chanHandler.OnOpen(channel)
		}

		atomic.AddInt64(&tl.totalChannels, 1)
	}
}

// listenerMessageHandler forwards channel messages to the listener's
// handler and removes channels whose receive loop failed
type listenerMessageHandler struct {
	listener *tcpListener
}

func (h *listenerMessageHandler) OnMessage(ch Channel, msg *Message) {
	if handler := h.listener.msgHandler; handler != nil {
		handler.OnMessage(ch, msg)
	}
}

func (h *listenerMessageHandler) OnError(ch Channel, err error) {
	h.listener.removeChannel(ch.ID())

	if handler := h.listener.chanHandler; handler != nil {
		handler.OnClose(ch, err)
	}
}

// addChannel adds a channel to the listener
func (tl *tcpListener) addChannel(ch Channel) {
	tl.channelsMu.Lock()
	defer tl.channelsMu.Unlock()

	tl.channels[ch.ID()] = ch
	atomic.AddInt64(&tl.currentChannels, 1)
}

// removeChannel removes a channel from the listener
func (tl *tcpListener) removeChannel(channelID string) {
	tl.channelsMu.Lock()
	defer tl.channelsMu.Unlock()

	if _, exists := tl.channels[channelID]; exists {
		delete(tl.channels, channelID)
		atomic.AddInt64(&tl.currentChannels, -1)
	}
}

// ListenerStatistics holds statistics for a listener
type ListenerStatistics struct {
	Address         string        `json:"address"`
	Protocol        string        `json:"protocol"`
	Running         bool          `json:"running"`
	StartTime       time.Time     `json:"start_time"`
	Uptime          time.Duration `json:"uptime"`
	TotalChannels   int64         `json:"total_channels"`
	CurrentChannels int64         `json:"current_channels"`
}

// String returns the string representation of listener statistics
func (ls ListenerStatistics) String() string {
	return fmt.Sprintf("Listener[%s] Protocol=%s Running=%t Uptime=%s Channels=%d/%d",
		ls.Address, ls.Protocol, ls.Running, ls.Uptime.Truncate(time.Second),
		ls.CurrentChannels, ls.TotalChannels)
}
