package record

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/najoast/yakr/core"
	"github.com/najoast/yakr/logging"
)

// Recorder sits between a router and its transport. It forwards every line
// unchanged in both directions and appends it to the session log first.
//
// The router attaches to the Recorder's own Inbound and Outbound. When the
// transport closes its inbound stream the Recorder closes its Inbound; when
// the router closes Outbound the Recorder closes the transport's outbound.
type Recorder struct {
	transport core.Transport
	logger    logging.Logger

	inbound  chan string
	outbound chan string
	stopped  chan struct{} // closed once the router closed Outbound

	mu     sync.Mutex
	log    io.WriteCloser
	writer *bufio.Writer
	err    error

	wg sync.WaitGroup
}

// NewRecorder creates (or truncates) the log at path and starts recording
// traffic of transport.
func NewRecorder(path string, transport core.Transport, capacity int, logger logging.Logger) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create session log: %w", err)
	}
	return NewRecorderWriter(f, transport, capacity, logger), nil
}

// NewRecorderWriter records to w, which is closed when recording ends.
func NewRecorderWriter(w io.WriteCloser, transport core.Transport, capacity int, logger logging.Logger) *Recorder {
	if capacity <= 0 {
		capacity = 1
	}
	if logger == nil {
		logger = logging.Nop
	}

	r := &Recorder{
		transport: transport,
		logger:    logger.With("component", "recorder"),
		inbound:   make(chan string, capacity),
		outbound:  make(chan string, capacity),
		stopped:   make(chan struct{}),
		log:       w,
		writer:    bufio.NewWriter(w),
	}

	r.wg.Add(2)
	go r.recordInbound()
	go r.recordOutbound()

	go func() {
		r.wg.Wait()
		r.closeLog()
	}()

	return r
}

// Inbound returns the lines received from the network.
func (r *Recorder) Inbound() <-chan string {
	return r.inbound
}

// Outbound returns the queue the router sends to. Close it to stop.
func (r *Recorder) Outbound() chan<- string {
	return r.outbound
}

// Wait blocks until both directions have ended and the log is closed. It
// returns the first error met while writing the log.
func (r *Recorder) Wait() error {
	r.wg.Wait()
	r.closeLog()

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Recorder) recordInbound() {
	defer r.wg.Done()
	defer close(r.inbound)

	source := r.transport.Inbound()
	for line := range source {
		r.append(Entry{Direction: FromNetwork, Line: line})
		select {
		case r.inbound <- line:
		case <-r.stopped:
			// The router is gone; release the transport.
			for range source {
			}
			return
		}
	}
}

func (r *Recorder) recordOutbound() {
	defer r.wg.Done()
	defer close(r.transport.Outbound())
	defer close(r.stopped)

	sink := r.transport.Outbound()
	for line := range r.outbound {
		r.append(Entry{Direction: ToNetwork, Line: line})
		sink <- line
	}
}

func (r *Recorder) append(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.writer == nil {
		return
	}
	if strings.Contains(e.Line, "\n") {
		r.logger.Warn("logged line contains a newline and will not replay as one message", "line", e.Line)
	}
	if _, err := r.writer.WriteString(e.String() + "\n"); err != nil {
		r.failLocked(err)
		return
	}
	if err := r.writer.Flush(); err != nil {
		r.failLocked(err)
	}
}

// failLocked closes the log after a write error. Forwarding continues.
func (r *Recorder) failLocked(err error) {
	r.logger.Error("session log write failed, recording stopped", "error", err)
	r.err = fmt.Errorf("failed to write session log: %w", err)
	r.log.Close()
	r.writer = nil
}

func (r *Recorder) closeLog() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.writer == nil {
		return
	}
	if err := r.writer.Flush(); err != nil && r.err == nil {
		r.err = fmt.Errorf("failed to flush session log: %w", err)
	}
	if err := r.log.Close(); err != nil && r.err == nil {
		r.err = fmt.Errorf("failed to close session log: %w", err)
	}
	r.writer = nil
	r.logger.Info("session log closed")
}
