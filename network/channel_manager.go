// Package network provides channel management implementation
package network

import (
	"fmt"
	"sync"
	"time"
)

// channelManager implements the ChannelManager interface
type channelManager struct {
	channels map[string]Channel
	mu       sync.RWMutex

	// Heartbeat management
	heartbeatEnabled  bool
	heartbeatInterval time.Duration
	heartbeatTicker   *time.Ticker
	heartbeatStopChan chan struct{}
	heartbeatWg       sync.WaitGroup

	// Statistics
	totalChannels int64
	totalMessages int64
	tickCount     int64
	startTime     time.Time
}

// NewChannelManager creates a new channel manager
func NewChannelManager() ChannelManager {
	return &channelManager{
		channels:  make(map[string]Channel),
		startTime: time.Now(),
	}
}

// AddChannel adds a channel to the manager
func (cm *channelManager) AddChannel(ch Channel) error {
	if ch == nil {
		return fmt.Errorf("channel is nil")
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	channelID := ch.ID()
	if _, exists := cm.channels[channelID]; exists {
		return fmt.Errorf("channel %s already exists", channelID)
	}

	cm.channels[channelID] = ch
	cm.totalChannels++

	return nil
}

// RemoveChannel removes a channel from the manager
func (cm *channelManager) RemoveChannel(channelID string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	ch, exists := cm.channels[channelID]
	if !exists {
		return fmt.Errorf("channel %s not found", channelID)
	}

	// Close the channel (abandons its pending calls)
	ch.Close()

	// Remove from map
	delete(cm.channels, channelID)

	return nil
}

// GetChannel gets a channel by ID
func (cm *channelManager) GetChannel(channelID string) (Channel, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	ch, exists := cm.channels[channelID]
	return ch, exists
}

// GetAllChannels returns all managed channels
func (cm *channelManager) GetAllChannels() []Channel {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	channels := make([]Channel, 0, len(cm.channels))
	for _, ch := range cm.channels {
		channels = append(channels, ch)
	}

	return channels
}

// GetChannelsByState returns channels filtered by state
func (cm *channelManager) GetChannelsByState(state ChannelState) []Channel {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	var channels []Channel
	for _, ch := range cm.channels {
		if ch.State() == state {
			channels = append(channels, ch)
		}
	}

	return channels
}

// GetChannelCount returns the number of managed channels
func (cm *channelManager) GetChannelCount() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	return len(cm.channels)
}

// BroadcastMessage broadcasts a message to all channels
func (cm *channelManager) BroadcastMessage(msg *Message) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}

	channels := cm.GetAllChannels()
	if len(channels) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errorChan := make(chan error, len(channels))

	for _, ch := range channels {
		wg.Add(1)
		go func(c Channel) {
			defer wg.Done()
			if err := c.SendMessage(msg.Clone()); err != nil {
				errorChan <- fmt.Errorf("failed to send to %s: %w", c.ID(), err)
			}
		}(ch)
	}

	wg.Wait()
	close(errorChan)

	// Collect errors
	var errors []error
	for err := range errorChan {
		errors = append(errors, err)
	}

	cm.mu.Lock()
	cm.totalMessages += int64(len(channels) - len(errors))
	cm.mu.Unlock()

	if len(errors) > 0 {
		return fmt.Errorf("broadcast failed for %d/%d channels: %v",
			len(errors), len(channels), errors)
	}

	return nil
}

// Tick advances every channel's correlation engine. The update loop is
// expected to call this once per cycle from a single goroutine.
func (cm *channelManager) Tick(elapsed, realElapsed time.Duration) {
	channels := cm.GetAllChannels()

	cm.mu.Lock()
	cm.tickCount++
	cm.mu.Unlock()

	for _, ch := range channels {
		ch.Engine().Tick(elapsed, realElapsed)
	}
}

// StartHeartbeat starts heartbeat for all channels
func (cm *channelManager) StartHeartbeat(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid heartbeat interval: %v", interval)
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.heartbeatEnabled {
		return fmt.Errorf("heartbeat is already running")
	}

	cm.heartbeatEnabled = true
	cm.heartbeatInterval = interval
	cm.heartbeatTicker = time.NewTicker(interval)
	cm.heartbeatStopChan = make(chan struct{})

	cm.heartbeatWg.Add(1)
	go cm.heartbeatLoop(cm.heartbeatTicker, cm.heartbeatStopChan)

	return nil
}

// StopHeartbeat stops heartbeat
func (cm *channelManager) StopHeartbeat() error {
	cm.mu.Lock()

	if !cm.heartbeatEnabled {
		cm.mu.Unlock()
		return nil // Already stopped
	}

	cm.heartbeatEnabled = false

	// Stop ticker
	if cm.heartbeatTicker != nil {
		cm.heartbeatTicker.Stop()
		cm.heartbeatTicker = nil
	}

	// Stop heartbeat loop
	if cm.heartbeatStopChan != nil {
		close(cm.heartbeatStopChan)
		cm.heartbeatStopChan = nil
	}

	// The loop walks the channel map under the read lock, so release
	// ours before waiting for it to finish
	cm.mu.Unlock()
	cm.heartbeatWg.Wait()

	return nil
}

// Cleanup removes inactive channels
func (cm *channelManager) Cleanup(timeout time.Duration) int {
	if timeout <= 0 {
		return 0
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	cutoffTime := time.Now().Add(-timeout)
	removedCount := 0

	for channelID, ch := range cm.channels {
		lastActivity := ch.GetLastActivity()
		if lastActivity.Before(cutoffTime) || ch.State() == ChannelStateClosed {
			// Channel is inactive or closed, remove it
			ch.Close()
			delete(cm.channels, channelID)
			removedCount++
		}
	}

	return removedCount
}

// CloseAllChannels closes all managed channels
func (cm *channelManager) CloseAllChannels() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	var errors []error
	for channelID, ch := range cm.channels {
		if err := ch.Close(); err != nil {
			errors = append(errors, fmt.Errorf("failed to close channel %s: %w", channelID, err))
		}
	}

	// Clear the channels map
	cm.channels = make(map[string]Channel)

	// Stop heartbeat if running
	if cm.heartbeatEnabled {
		cm.heartbeatEnabled = false
		if cm.heartbeatTicker != nil {
			cm.heartbeatTicker.Stop()
			cm.heartbeatTicker = nil
		}
		if cm.heartbeatStopChan != nil {
			close(cm.heartbeatStopChan)
			cm.heartbeatStopChan = nil
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("errors occurred while closing channels: %v", errors)
	}

	return nil
}

// GetStatistics returns channel manager statistics
func (cm *channelManager) GetStatistics() ChannelManagerStatistics {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	// Count channels by state and accumulate per-channel counters
	stateCount := make(map[ChannelState]int)
	totalBytes := int64(0)
	totalMessages := int64(0)
	pendingCalls := 0

	for _, ch := range cm.channels {
		state := ch.State()
		stateCount[state]++

		stats := ch.GetStatistics()
		totalBytes += stats.BytesRead + stats.BytesWritten
		totalMessages += stats.MessagesRead + stats.MessagesSent
		pendingCalls += stats.Engine.Pending
	}

	return ChannelManagerStatistics{
		TotalChannels:     cm.totalChannels,
		ActiveChannels:    int64(len(cm.channels)),
		ChannelsByState:   stateCount,
		TotalBytes:        totalBytes,
		TotalMessages:     totalMessages,
		PendingCalls:      pendingCalls,
		Ticks:             cm.tickCount,
		HeartbeatEnabled:  cm.heartbeatEnabled,
		HeartbeatInterval: cm.heartbeatInterval,
		StartTime:         cm.startTime,
		Uptime:            time.Since(cm.startTime),
	}
}

// Private methods

// heartbeatLoop sends periodic heartbeat messages. The ticker and stop
// channel are passed in because the manager's fields are reset by Stop
// while the loop is still draining.
func (cm *channelManager) heartbeatLoop(ticker *time.Ticker, stop chan struct{}) {
	defer cm.heartbeatWg.Done()

	for {
		select {
		case <-ticker.C:
			cm.sendHeartbeatToAll()
		case <-stop:
			return
		}
	}
}

// sendHeartbeatToAll sends heartbeat to all connected channels
func (cm *channelManager) sendHeartbeatToAll() {
	channels := cm.GetChannelsByState(ChannelStateConnected)

	for _, ch := range channels {
		go func(c Channel) {
			if err := c.SendMessage(NewHeartbeatMessage()); err != nil {
				// Channel error, it will be cleaned up in the next cleanup cycle
			}
		}(ch)
	}
}

// ChannelManagerStatistics holds statistics for the channel manager
type ChannelManagerStatistics struct {
	TotalChannels     int64                `json:"total_channels"`
	ActiveChannels    int64                `json:"active_channels"`
	ChannelsByState   map[ChannelState]int `json:"channels_by_state"`
	TotalBytes        int64                `json:"total_bytes"`
	TotalMessages     int64                `json:"total_messages"`
	PendingCalls      int                  `json:"pending_calls"`
	Ticks             int64                `json:"ticks"`
	HeartbeatEnabled  bool                 `json:"heartbeat_enabled"`
	HeartbeatInterval time.Duration        `json:"heartbeat_interval"`
	StartTime         time.Time            `json:"start_time"`
	Uptime            time.Duration        `json:"uptime"`
}

// String returns the string representation of channel manager statistics
func (cms ChannelManagerStatistics) String() string {
	return fmt.Sprintf("ChannelManager Total=%d Active=%d Pending=%d Ticks=%d Bytes=%d Messages=%d Heartbeat=%t Uptime=%s",
		cms.TotalChannels, cms.ActiveChannels, cms.PendingCalls, cms.Ticks,
		cms.TotalBytes, cms.TotalMessages, cms.HeartbeatEnabled, cms.Uptime.Truncate(time.Second))
}
