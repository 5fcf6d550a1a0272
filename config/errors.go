// Package config provides error definitions for configuration management
package config

import "errors"

// Configuration validation errors
var (
	ErrInvalidAppName      = errors.New("invalid application name")
	ErrInvalidEnvironment  = errors.New("invalid environment")
	ErrInvalidLogLevel     = errors.New("invalid log level")
	ErrInvalidPort         = errors.New("invalid port number")
	ErrInvalidMaxChannels  = errors.New("invalid max channels")
	ErrInvalidCallTimeout  = errors.New("invalid call timeout")
	ErrInvalidTickInterval = errors.New("invalid tick interval")
	ErrInvalidTimeScale    = errors.New("invalid time scale")
)

// Configuration loading errors
var (
	ErrConfigFileNotFound  = errors.New("configuration file not found")
	ErrConfigParseError    = errors.New("configuration parse error")
	ErrConfigValidateError = errors.New("configuration validation error")
	ErrEnvironmentVarError = errors.New("environment variable error")
	ErrConfigWatchError    = errors.New("configuration watch error")
)
