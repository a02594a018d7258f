// Package network owns the chat server socket: it frames the byte stream
// into delimiter-terminated lines and carries lines back out.
package network

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEmptyDelimiter is returned when a link or framer is configured
	// without a line delimiter.
	ErrEmptyDelimiter = errors.New("network: delimiter must not be empty")

	// ErrInvalidCapacity is returned for a non-positive channel capacity.
	ErrInvalidCapacity = errors.New("network: channel capacity must be positive")
)

// ConnectionState represents the state of a link
type ConnectionState int32

const (
	ConnectionStateConnected ConnectionState = iota
	ConnectionStateClosed
)

// String returns the string representation of ConnectionState
func (cs ConnectionState) String() string {
	switch cs {
	case ConnectionStateConnected:
		return "connected"
	case ConnectionStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// LinkConfig represents link configuration
type LinkConfig struct {
	// Host and Port of the chat server
	Host string
	Port int

	// Delimiter terminates every line on the wire
	Delimiter string

	// BufferSize is the size of a single socket read
	BufferSize int

	// ChannelCapacity bounds both line queues
	ChannelCapacity int

	// KeepAlive enables TCP keep-alive
	KeepAlive bool

	// KeepAliveInterval is the keep-alive interval
	KeepAliveInterval time.Duration

	// DialTimeout bounds connection establishment; zero means none
	DialTimeout time.Duration

	// WriteTimeout bounds a single line write; zero means none
	WriteTimeout time.Duration
}

// DefaultLinkConfig returns a default link configuration
func DefaultLinkConfig() LinkConfig {
	return LinkConfig{
		Host:              "localhost",
		Port:              6667,
		Delimiter:         "\r\n",
		BufferSize:        1024,
		ChannelCapacity:   100,
		KeepAlive:         true,
		KeepAliveInterval: 60 * time.Second,
		DialTimeout:       30 * time.Second,
	}
}

// Validate checks the configuration. An empty delimiter is always fatal.
func (c LinkConfig) Validate() error {
	if c.Delimiter == "" {
		return ErrEmptyDelimiter
	}
	if c.ChannelCapacity <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCapacity, c.ChannelCapacity)
	}
	return nil
}
