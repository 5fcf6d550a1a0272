// Package network provides factory implementation for creating network components
package network

import (
	"fmt"
)

// NetworkFactory creates network components
type NetworkFactory interface {
	// CreateListener creates a new listener
	CreateListener(config *NetworkConfig) (Listener, error)

	// CreateDialer creates a new dialer
	CreateDialer(config *NetworkConfig) (Dialer, error)

	// CreateChannelManager creates a new channel manager
	CreateChannelManager() ChannelManager
}

// networkFactory implements the NetworkFactory interface
type networkFactory struct{}

// NewNetworkFactory creates a new network factory
func NewNetworkFactory() NetworkFactory {
	return &networkFactory{}
}

// CreateListener creates a new listener
func (nf *networkFactory) CreateListener(config *NetworkConfig) (Listener, error) {
	if config == nil {
		return nil, fmt.Errorf("config is nil")
	}

	switch config.Protocol {
	case ProtocolTCP:
		return NewTCPListener(config)
	case ProtocolUDP:
		// TODO: wrap a PacketConn once the UDP channel exists
		return nil, fmt.Errorf("UDP listener not implemented yet")
	default:
		return nil, fmt.Errorf("unsupported protocol: %s", config.Protocol)
	}
}

// CreateDialer creates a new dialer
func (nf *networkFactory) CreateDialer(config *NetworkConfig) (Dialer, error) {
	if config == nil {
		return nil, fmt.Errorf("config is nil")
	}

	switch config.Protocol {
	case ProtocolTCP:
		return NewTCPDialer(config)
	case ProtocolUDP:
		return nil, fmt.Errorf("UDP dialer not implemented yet")
	default:
		return nil, fmt.Errorf("unsupported protocol: %s", config.Protocol)
	}
}

// CreateChannelManager creates a new channel manager
func (nf *networkFactory) CreateChannelManager() ChannelManager {
	return NewChannelManager()
}
