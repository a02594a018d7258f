// Package plugin defines the boundary between the router and its isolated
// plugin workers, and provides in-process and subprocess loaders.
//
// A plugin is a uniquely named worker with two bounded line queues. The
// router writes to In: raw network lines, the StateReady control line, and
// finally closes In to stop the worker. The worker writes to Out: lines for
// the network, ReceiveOutput control lines, and closes Out when it exits.
package plugin

import (
	"errors"
	"fmt"
	"strings"
)

// Control lines exchanged on the plugin boundary.
const (
	// StateReady is sent to a plugin once the server has accepted the
	// bot's identity.
	StateReady = "STATE:READY"

	// ReceiveOutputPrefix subscribes ("True") or unsubscribes (anything
	// else) a plugin from other plugins' outgoing lines.
	ReceiveOutputPrefix = "RECEIVE_OUTPUT:"
)

var (
	// ErrNotFound is returned by a Loader that does not know a plugin name.
	ErrNotFound = errors.New("plugin: not found")

	// ErrInvalidName is returned for names that cannot identify a plugin.
	ErrInvalidName = errors.New("plugin: invalid name")
)

// ReceiveOutput builds the subscription control line.
func ReceiveOutput(enabled bool) string {
	if enabled {
		return ReceiveOutputPrefix + "True"
	}
	return ReceiveOutputPrefix + "False"
}

// ParseReceiveOutput reports whether line is a subscription control line and
// whether it subscribes.
func ParseReceiveOutput(line string) (enabled, ok bool) {
	value, ok := strings.CutPrefix(line, ReceiveOutputPrefix)
	if !ok {
		return false, false
	}
	return value == "True", true
}

// Handle is the router's reference to one running plugin worker.
type Handle struct {
	Name string
	ID   string

	// In is written and closed by the router only.
	In chan<- string

	// Out is written and closed by the worker only.
	Out <-chan string
}

// String returns the string representation of the handle
func (h *Handle) String() string {
	return fmt.Sprintf("%s[%s]", h.Name, h.ID)
}

// Loader starts plugin workers by name.
type Loader interface {
	Load(name string) (*Handle, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(name string) (*Handle, error)

// Load calls f(name).
func (f LoaderFunc) Load(name string) (*Handle, error) {
	return f(name)
}

// Chain tries each loader in order and returns the first result that is not
// ErrNotFound.
type Chain []Loader

// Load implements Loader.
func (c Chain) Load(name string) (*Handle, error) {
	for _, loader := range c {
		h, err := loader.Load(name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return h, err
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}
