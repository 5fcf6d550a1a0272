// Package config provides configuration management for the knet framework
package config

import (
	"time"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// String returns the string representation of Environment
func (e Environment) String() string {
	return string(e)
}

// IsValid checks if the environment is valid
func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvTesting, EnvStaging, EnvProduction:
		return true
	default:
		return false
	}
}

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelFatal LogLevel = "fatal"
)

// String returns the string representation of LogLevel
func (l LogLevel) String() string {
	return string(l)
}

// IsValid checks if the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelTrace, LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, LogLevelFatal:
		return true
	default:
		return false
	}
}

// Config represents the complete knet configuration
type Config struct {
	// Application configuration
	App AppConfig `yaml:"app" json:"app"`

	// Logging configuration
	Log LogConfig `yaml:"log" json:"log"`

	// Network configuration
	Network NetworkConfig `yaml:"network" json:"network"`

	// Request/response correlation configuration
	RPC RPCConfig `yaml:"rpc" json:"rpc"`

	// Tick loop configuration
	Loop LoopConfig `yaml:"loop" json:"loop"`

	// Custom configurations (for user-defined services)
	Custom map[string]interface{} `yaml:"custom,omitempty" json:"custom,omitempty"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	// Application name
	Name string `yaml:"name" json:"name"`

	// Application version
	Version string `yaml:"version" json:"version"`

	// Deployment environment
	Environment Environment `yaml:"environment" json:"environment"`

	// Debug mode
	Debug bool `yaml:"debug" json:"debug"`

	// Application description
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Application metadata
	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	// Log level
	Level LogLevel `yaml:"level" json:"level"`

	// Log format (json, text)
	Format string `yaml:"format" json:"format"`

	// Output destination (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`

	// Enable colored output
	Color bool `yaml:"color" json:"color"`

	// Fields to include in log output
	Fields map[string]interface{} `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// NetworkConfig contains network-related configuration
type NetworkConfig struct {
	// TCP configuration
	TCP TCPConfig `yaml:"tcp" json:"tcp"`

	// Channel limits
	Limits ChannelLimits `yaml:"limits" json:"limits"`

	// Timeouts
	Timeouts TimeoutConfig `yaml:"timeouts" json:"timeouts"`
}

// TCPConfig contains TCP-specific configuration
type TCPConfig struct {
	// Listening address
	Address string `yaml:"address" json:"address"`

	// Listening port
	Port int `yaml:"port" json:"port"`

	// Enable TCP keep-alive
	KeepAlive bool `yaml:"keep_alive" json:"keep_alive"`

	// Keep-alive interval
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval" json:"keep_alive_interval"`

	// Buffered writes per channel before the overflow queue kicks in
	SendBuffer int `yaml:"send_buffer" json:"send_buffer"`

	// Secret enables payload encryption when both ends share it
	Secret string `yaml:"secret,omitempty" json:"secret,omitempty"`
}

// ChannelLimits contains channel limit settings
type ChannelLimits struct {
	// Maximum concurrent channels
	MaxChannels int `yaml:"max_channels" json:"max_channels"`

	// Heartbeat interval for managed channels
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" json:"heartbeat_interval"`

	// Idle timeout before a channel is cleaned up
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// Interval between idle-channel sweeps. Zero disables the sweep.
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

// TimeoutConfig contains timeout settings
type TimeoutConfig struct {
	// Read timeout
	Read time.Duration `yaml:"read" json:"read"`

	// Write timeout
	Write time.Duration `yaml:"write" json:"write"`

	// Reconnect interval for dialers
	Reconnect time.Duration `yaml:"reconnect" json:"reconnect"`
}

// RPCConfig contains request/response correlation settings
type RPCConfig struct {
	// Default per-call timeout budget
	DefaultTimeout time.Duration `yaml:"default_timeout" json:"default_timeout"`

	// Warn when a channel carries more pending calls than this
	MaxPendingWarning int `yaml:"max_pending_warning" json:"max_pending_warning"`
}

// LoopConfig contains tick loop settings
type LoopConfig struct {
	// Wall-clock interval between ticks
	TickInterval time.Duration `yaml:"tick_interval" json:"tick_interval"`

	// Multiplier applied to real elapsed time before it is fed to
	// timeout accounting. 1.0 runs timeouts at wall-clock speed.
	TimeScale float64 `yaml:"time_scale" json:"time_scale"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "knet-app",
			Version:     "1.0.0",
			Environment: EnvDevelopment,
			Debug:       true,
			Description: "knet application",
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: "text",
			Output: "stdout",
			Color:  true,
		},
		Network: NetworkConfig{
			TCP: TCPConfig{
				Address:           "0.0.0.0",
				Port:              8080,
				KeepAlive:         true,
				KeepAliveInterval: 60 * time.Second,
				SendBuffer:        256,
			},
			Limits: ChannelLimits{
				MaxChannels:       1000,
				HeartbeatInterval: 30 * time.Second,
				IdleTimeout:       5 * time.Minute,
				CleanupInterval:   time.Minute,
			},
			Timeouts: TimeoutConfig{
				Read:      30 * time.Second,
				Write:     30 * time.Second,
				Reconnect: 5 * time.Second,
			},
		},
		RPC: RPCConfig{
			DefaultTimeout:    5 * time.Second,
			MaxPendingWarning: 10000,
		},
		Loop: LoopConfig{
			TickInterval: 100 * time.Millisecond,
			TimeScale:    1.0,
		},
		Custom: make(map[string]interface{}),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return ErrInvalidAppName
	}
	if !c.App.Environment.IsValid() {
		return ErrInvalidEnvironment
	}

	if !c.Log.Level.IsValid() {
		return ErrInvalidLogLevel
	}

	if c.Network.TCP.Port <= 0 || c.Network.TCP.Port > 65535 {
		return ErrInvalidPort
	}
	if c.Network.Limits.MaxChannels <= 0 {
		return ErrInvalidMaxChannels
	}

	if c.RPC.DefaultTimeout <= 0 {
		return ErrInvalidCallTimeout
	}

	if c.Loop.TickInterval <= 0 {
		return ErrInvalidTickInterval
	}
	if c.Loop.TimeScale <= 0 {
		return ErrInvalidTimeScale
	}

	return nil
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// GetLogLevel returns the log level
func (c *Config) GetLogLevel() LogLevel {
	return c.Log.Level
}

// IsDebugEnabled returns true if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.App.Environment == EnvDevelopment
}
