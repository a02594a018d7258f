// Package config provides error definitions for configuration management
package config

import "errors"

// Configuration validation errors
var (
	ErrInvalidAppName         = errors.New("invalid application name")
	ErrInvalidEnvironment     = errors.New("invalid environment")
	ErrInvalidLogLevel        = errors.New("invalid log level")
	ErrInvalidHost            = errors.New("invalid network host")
	ErrInvalidPort            = errors.New("invalid port number")
	ErrInvalidDelimiter       = errors.New("invalid line delimiter")
	ErrInvalidBufferSize      = errors.New("invalid read buffer size")
	ErrInvalidChannelCapacity = errors.New("invalid channel capacity")
	ErrInvalidNick            = errors.New("invalid nickname")
	ErrInvalidPluginName      = errors.New("invalid plugin name")
	ErrConflictingSession     = errors.New("record and replay are mutually exclusive")
	ErrInvalidReplayTimeout   = errors.New("invalid replay timeout")
)

// Configuration loading errors
var (
	ErrConfigFileNotFound = errors.New("configuration file not found")
	ErrConfigParseError   = errors.New("configuration parse error")
	ErrConfigWatchError   = errors.New("configuration watch error")
)
