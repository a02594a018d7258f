// Package record taps router traffic into a session log and plays such logs
// back against a router for regression testing.
//
// A session log is plain text, one message per line. Lines read from the
// network are written as "> <line>", lines sent to the network as
// "< <line>". Lines are written unescaped, so a message that itself contains
// a newline is split into several log lines and cannot be replayed as one;
// the Recorder logs a warning when that happens.
package record

import (
	"errors"
	"fmt"
	"strings"
)

// Direction tells which way a logged line travelled.
type Direction uint8

const (
	// FromNetwork marks a line the router received from the network.
	FromNetwork Direction = iota

	// ToNetwork marks a line the router sent to the network.
	ToNetwork
)

const (
	fromNetworkPrefix = "> "
	toNetworkPrefix   = "< "
)

// ErrMalformedEntry is returned for log lines without a direction prefix.
var ErrMalformedEntry = errors.New("record: malformed entry")

// String returns the log prefix of the direction without its trailing space.
func (d Direction) String() string {
	switch d {
	case FromNetwork:
		return ">"
	case ToNetwork:
		return "<"
	default:
		return "?"
	}
}

// Entry is one line of a session log.
type Entry struct {
	Direction Direction
	Line      string
}

// String renders the entry as it appears in the log.
func (e Entry) String() string {
	if e.Direction == ToNetwork {
		return toNetworkPrefix + e.Line
	}
	return fromNetworkPrefix + e.Line
}

// ParseEntry parses one log line.
func ParseEntry(text string) (Entry, error) {
	if line, ok := strings.CutPrefix(text, fromNetworkPrefix); ok {
		return Entry{Direction: FromNetwork, Line: line}, nil
	}
	if line, ok := strings.CutPrefix(text, toNetworkPrefix); ok {
		return Entry{Direction: ToNetwork, Line: line}, nil
	}
	return Entry{}, fmt.Errorf("%w: %q", ErrMalformedEntry, text)
}
