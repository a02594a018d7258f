package core

import (
	"errors"
	"fmt"
	"strings"
)

// State is the router's connection readiness.
type State uint8

const (
	// StateConnecting means the handshake has been sent but the server has
	// not yet welcomed the bot.
	StateConnecting State = iota

	// StateReady means the server accepted the bot's identity. It is
	// terminal.
	StateReady
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidPluginName = errors.New("core: invalid plugin name")
	ErrInvalidNick       = errors.New("core: nick cannot be empty")
	ErrNilTransport      = errors.New("core: transport cannot be nil")
	ErrNilLoader         = errors.New("core: plugin loader cannot be nil")
	ErrRouterRunning     = errors.New("core: router is already running")
	ErrRouterStopped     = errors.New("core: router is stopped")
)

// Options holds the bot identity used in the handshake.
type Options struct {
	Nick     string
	RealName string
}

// DefaultOptions returns the stock identity.
func DefaultOptions() Options {
	return Options{
		Nick:     "Dot",
		RealName: "Dot the bot",
	}
}

// NickLine builds the NICK handshake command.
func NickLine(nick string) string {
	return "NICK " + nick
}

// UserLine builds the USER handshake command.
func UserLine(nick, realName string) string {
	return fmt.Sprintf("USER %s localhost localhost :%s", nick, realName)
}

// ReadyMarker is the fragment of the server welcome (numeric 001) that
// marks the bot as ready.
func ReadyMarker(nick string) string {
	return "001 " + nick + " :"
}

// Pong returns the keepalive reply for line and whether line is a PING.
func Pong(line string) (string, bool) {
	if !strings.HasPrefix(line, "PING") {
		return "", false
	}
	return "PONG" + line[len("PING"):], true
}
