// Package network provides the outgoing channel dialer
package network

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Dialer maintains one outgoing channel, reconnecting when it drops
type Dialer interface {
	// Connect connects to the remote server
	Connect(address string) (Channel, error)

	// ConnectWithTimeout connects with a timeout
	ConnectWithTimeout(address string, timeout time.Duration) (Channel, error)

	// Disconnect disconnects from the server
	Disconnect() error

	// GetChannel returns the current channel
	GetChannel() Channel

	// SetAutoReconnect enables/disables auto reconnection
	SetAutoReconnect(enabled bool, interval time.Duration)

	// SetMessageHandler sets the handler for incoming messages
	SetMessageHandler(handler MessageHandler)

	// IsConnected returns true if the dialer holds a live channel
	IsConnected() bool

	// GetStatistics returns dialer statistics
	GetStatistics() DialerStatistics
}

// tcpDialer implements the Dialer interface for TCP
type tcpDialer struct {
	config  *NetworkConfig
	channel Channel

	// Event handlers
	msgHandler MessageHandler

	// Auto-reconnect
	autoReconnect        bool
	reconnectInterval    time.Duration
	maxReconnectAttempts int
	currentAttempt       int

	// reconnectLimiter caps how fast reconnect attempts may fire,
	// regardless of how aggressively the loop wakes up
	reconnectLimiter *rate.Limiter

	// State management
	connecting   int32 // atomic flag
	connected    int32 // atomic flag
	reconnecting int32 // atomic flag
	monitoring   int32 // atomic flag, one reconnect loop at most

	// Synchronization
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex

	// Target address
	targetAddress string

	// Statistics
	connectAttempts    int64
	successfulConnects int64
	startTime          time.Time
}

// NewTCPDialer creates a new TCP dialer
func NewTCPDialer(config *NetworkConfig) (Dialer, error) {
	if config == nil {
		config = DefaultNetworkConfig()
	}

	// Validate configuration
	if config.Protocol != ProtocolTCP {
		return nil, fmt.Errorf("invalid protocol for TCP dialer: %s", config.Protocol)
	}

	ctx, cancel := context.WithCancel(context.Background())

	interval := config.ReconnectInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	dialer := &tcpDialer{
		config:               config,
		ctx:                  ctx,
		cancel:               cancel,
		reconnectInterval:    interval,
		maxReconnectAttempts: config.MaxReconnectAttempts,
		reconnectLimiter:     rate.NewLimiter(rate.Every(interval), 1),
		startTime:            time.Now(),
	}

	return dialer, nil
}

// Connect connects to the remote server
func (td *tcpDialer) Connect(address string) (Channel, error) {
	return td.ConnectWithTimeout(address, 30*time.Second)
}

// ConnectWithTimeout connects with a timeout
func (td *tcpDialer) ConnectWithTimeout(address string, timeout time.Duration) (Channel, error) {
	if !atomic.CompareAndSwapInt32(&td.connecting, 0, 1) {
		return nil, fmt.Errorf("connection already in progress")
	}
	defer atomic.StoreInt32(&td.connecting, 0)

	td.mu.Lock()
	td.targetAddress = address
	td.mu.Unlock()

	atomic.AddInt64(&td.connectAttempts, 1)

	// Create dialer with timeout
	dialer := &net.Dialer{
		Timeout: timeout,
	}

	conn, err := dialer.Dial(string(td.config.Protocol), address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	// Configure TCP connection
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if td.config.KeepAlive {
			tcpConn.SetKeepAlive(true)
			tcpConn.SetKeepAlivePeriod(td.config.KeepAliveInterval)
		}
	}

	// Wrap into a channel with its own correlation engine
	channel := NewTCPChannel(conn, td.config)
	channel.Serve(td.handler())

	// Update state
	td.mu.Lock()
	td.channel = channel
	td.mu.Unlock()

	atomic.StoreInt32(&td.connected, 1)
	atomic.AddInt64(&td.successfulConnects, 1)

	// Start auto-reconnect monitoring
	if td.autoReconnect && atomic.CompareAndSwapInt32(&td.monitoring, 0, 1) {
		td.wg.Add(1)
		go td.reconnectLoop()
	}

	log.Printf("dialer connected to %s as channel %s", address, channel.ID())
	return channel, nil
}

// Disconnect disconnects from the server
func (td *tcpDialer) Disconnect() error {
	// Cancel context to stop the reconnect loop
	td.cancel()

	td.mu.Lock()
	channel := td.channel
	td.channel = nil
	td.mu.Unlock()

	atomic.StoreInt32(&td.connected, 0)

	if channel != nil {
		err := channel.Close()
		td.wg.Wait()
		return err
	}

	return nil
}

// GetChannel returns the current channel
func (td *tcpDialer) GetChannel() Channel {
	td.mu.RLock()
	defer td.mu.RUnlock()
	return td.channel
}

// SetAutoReconnect enables/disables auto reconnection
func (td *tcpDialer) SetAutoReconnect(enabled bool, interval time.Duration) {
	td.mu.Lock()
	defer td.mu.Unlock()

	td.autoReconnect = enabled
	if interval > 0 {
		td.reconnectInterval = interval
		td.reconnectLimiter.SetLimit(rate.Every(interval))
	}
}

// SetMessageHandler sets the handler for incoming messages
func (td *tcpDialer) SetMessageHandler(handler MessageHandler) {
	td.mu.Lock()
	td.msgHandler = handler
	td.mu.Unlock()
}

// IsConnected returns true if the dialer holds a live channel
func (td *tcpDialer) IsConnected() bool {
	if atomic.LoadInt32(&td.connected) != 1 {
		return false
	}

	channel := td.GetChannel()
	return channel != nil && channel.State() == ChannelStateConnected
}

// GetStatistics returns dialer statistics
func (td *tcpDialer) GetStatistics() DialerStatistics {
	td.mu.RLock()
	targetAddr := td.targetAddress
	td.mu.RUnlock()

	var channelStats ChannelStatistics
	if channel := td.GetChannel(); channel != nil {
		channelStats = channel.GetStatistics()
	}

	return DialerStatistics{
		TargetAddress:      targetAddr,
		Protocol:           string(td.config.Protocol),
		Connected:          td.IsConnected(),
		StartTime:          td.startTime,
		Uptime:             time.Since(td.startTime),
		ConnectAttempts:    atomic.LoadInt64(&td.connectAttempts),
		SuccessfulConnects: atomic.LoadInt64(&td.successfulConnects),
		AutoReconnect:      td.autoReconnect,
		ReconnectInterval:  td.reconnectInterval,
		ChannelStats:       channelStats,
	}
}

// Private methods

// handler returns the currently registered message handler
func (td *tcpDialer) handler() MessageHandler {
	td.mu.RLock()
	defer td.mu.RUnlock()
	return td.msgHandler
}

// reconnectLoop watches the channel and re-dials when it drops
func (td *tcpDialer) reconnectLoop() {
	defer td.wg.Done()

	ticker := time.NewTicker(td.reconnectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-td.ctx.Done():
			return
		case <-ticker.C:
			if !td.IsConnected() && atomic.LoadInt32(&td.reconnecting) == 0 {
				td.attemptReconnect()
			}
		}
	}
}

// attemptReconnect attempts to reconnect to the server
func (td *tcpDialer) attemptReconnect() {
	if !atomic.CompareAndSwapInt32(&td.reconnecting, 0, 1) {
		return // Already reconnecting
	}
	defer atomic.StoreInt32(&td.reconnecting, 0)

	td.mu.RLock()
	targetAddr := td.targetAddress
	td.mu.RUnlock()

	if targetAddr == "" {
		return // No target address set
	}

	// Check reconnect attempts limit
	if td.maxReconnectAttempts > 0 && td.currentAttempt >= td.maxReconnectAttempts {
		log.Printf("max reconnect attempts (%d) reached for %s", td.maxReconnectAttempts, targetAddr)
		return
	}

	// Respect the reconnect rate limit
	if err := td.reconnectLimiter.Wait(td.ctx); err != nil {
		return
	}

	atomic.StoreInt32(&td.connected, 0)
	td.currentAttempt++
	log.Printf("attempting to reconnect to %s (attempt %d)", targetAddr, td.currentAttempt)

	_, err := td.ConnectWithTimeout(targetAddr, 10*time.Second)
	if err != nil {
		log.Printf("reconnect attempt %d failed: %v", td.currentAttempt, err)
	} else {
		log.Printf("reconnected to %s", targetAddr)
		td.currentAttempt = 0 // Reset attempt counter on success
	}
}

// DialerStatistics holds statistics for a dialer
type DialerStatistics struct {
	TargetAddress      string            `json:"target_address"`
	Protocol           string            `json:"protocol"`
	Connected          bool              `json:"connected"`
	StartTime          time.Time         `json:"start_time"`
	Uptime             time.Duration     `json:"uptime"`
	ConnectAttempts    int64             `json:"connect_attempts"`
	SuccessfulConnects int64             `json:"successful_connects"`
	AutoReconnect      bool              `json:"auto_reconnect"`
	ReconnectInterval  time.Duration     `json:"reconnect_interval"`
	ChannelStats       ChannelStatistics `json:"channel_stats"`
}

// String returns the string representation of dialer statistics
func (ds DialerStatistics) String() string {
	return fmt.Sprintf("Dialer[%s] Protocol=%s Connected=%t Uptime=%s Attempts=%d/%d AutoReconnect=%t",
		ds.TargetAddress, ds.Protocol, ds.Connected, ds.Uptime.Truncate(time.Second),
		ds.SuccessfulConnects, ds.ConnectAttempts, ds.AutoReconnect)
}
