package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/najoast/yakr/logging"
)

// Link is the network worker. It owns the socket and exposes two bounded
// line queues: Inbound carries framed lines read from the server and
// Outbound carries lines to be written.
//
// Closing Outbound stops the link deliberately. When the link stops for any
// reason it closes Inbound exactly once and closes the socket. After that it
// keeps discarding Outbound until the producer closes it, so a producer
// never blocks on a dead link.
type Link struct {
	id     string
	conn   net.Conn
	config LinkConfig
	framer *Framer
	logger logging.Logger

	inbound  chan string
	outbound chan string

	state     int32 // ConnectionState
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// Statistics
	bytesRead      int64
	bytesWritten   int64
	linesRead      int64
	linesWritten   int64
	linesDropped   int64
	decodeFailures int64
	lastActivity   int64 // Unix timestamp
}

// Dial connects to cfg.Host:cfg.Port and starts a link on the connection.
// The configuration is validated before any connection attempt.
func Dial(ctx context.Context, cfg LinkConfig, logger logging.Logger) (*Link, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: cfg.DialTimeout}
	if cfg.KeepAlive {
		dialer.KeepAlive = cfg.KeepAliveInterval
	} else {
		dialer.KeepAlive = -1
	}

	address := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	link, err := NewLink(conn, cfg, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return link, nil
}

// NewLink starts a link over an established connection.
func NewLink(conn net.Conn, cfg LinkConfig, logger logging.Logger) (*Link, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, errors.New("network: nil connection")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultLinkConfig().BufferSize
	}
	if logger == nil {
		logger = logging.Nop
	}

	framer, err := NewFramer(cfg.Delimiter)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	l := &Link{
		id:           id,
		conn:         conn,
		config:       cfg,
		framer:       framer,
		logger:       logger.With("component", "link", "link_id", id),
		inbound:      make(chan string, cfg.ChannelCapacity),
		outbound:     make(chan string, cfg.ChannelCapacity),
		state:        int32(ConnectionStateConnected),
		done:         make(chan struct{}),
		lastActivity: time.Now().Unix(),
	}

	l.wg.Add(2)
	go l.readLoop()
	go l.writeLoop()

	l.logger.Info("link started", "remote", conn.RemoteAddr().String())
	return l, nil
}

// ID returns the link identifier
func (l *Link) ID() string {
	return l.id
}

// Inbound returns the queue of lines read from the server. It is closed
// when the link stops.
func (l *Link) Inbound() <-chan string {
	return l.inbound
}

// Outbound returns the queue of lines to write. Close it to stop the link.
func (l *Link) Outbound() chan<- string {
	return l.outbound
}

// State returns the current connection state
func (l *Link) State() ConnectionState {
	return ConnectionState(atomic.LoadInt32(&l.state))
}

// Done is closed once the socket has been closed.
func (l *Link) Done() <-chan struct{} {
	return l.done
}

// Close forces the link down. Inbound is closed by the reader shortly after.
func (l *Link) Close() error {
	return l.shutdown()
}

// Wait blocks until both workers have exited. The writer only exits once
// Outbound has been closed.
func (l *Link) Wait() {
	l.wg.Wait()
}

// readLoop reads bounded chunks, drops chunks that are not valid UTF-8 and
// forwards every complete line.
func (l *Link) readLoop() {
	defer l.wg.Done()
	defer close(l.inbound)
	defer l.shutdown()

	buf := make([]byte, l.config.BufferSize)
	var carry []byte

	for {
		n, err := l.conn.Read(buf)
		if n > 0 {
			atomic.AddInt64(&l.bytesRead, int64(n))
			l.touch()

			chunk, rest := splitIncomplete(append(carry, buf[:n]...))
			if !utf8.Valid(chunk) && len(carry) > 0 {
				// The held-back bytes were not continued by this read.
				if fresh, freshRest := splitIncomplete(buf[:n]); utf8.Valid(fresh) {
					l.discardUndecodable(carry)
					chunk, rest = fresh, freshRest
				}
			}
			carry = append([]byte(nil), rest...)

			if !utf8.Valid(chunk) {
				l.discardUndecodable(chunk)
			} else if !l.forward(l.framer.Feed(string(chunk))) {
				return
			}
		}

		if err != nil {
			if len(carry) > 0 {
				l.discardUndecodable(carry)
			}
			switch {
			case errors.Is(err, io.EOF):
				l.logger.Info("server closed the connection")
			case l.isClosed():
				l.logger.Debug("reader stopped", "error", err)
			default:
				l.logger.Warn("read failed", "error", err)
			}
			return
		}
	}
}

func (l *Link) discardUndecodable(b []byte) {
	atomic.AddInt64(&l.decodeFailures, 1)
	l.logger.Warn("discarding undecodable chunk", "bytes", len(b), "data", fmt.Sprintf("%q", b))
}

func (l *Link) forward(lines []string) bool {
	for _, line := range lines {
		select {
		case l.inbound <- line:
			atomic.AddInt64(&l.linesRead, 1)
		case <-l.done:
			return false
		}
	}
	return true
}

// writeLoop writes one line per dequeue until Outbound is closed or the
// link goes down.
func (l *Link) writeLoop() {
	defer l.wg.Done()

	for {
		select {
		case line, ok := <-l.outbound:
			if !ok {
				l.logger.Info("outbound closed, stopping link")
				l.shutdown()
				return
			}
			if err := l.write(line); err != nil {
				atomic.AddInt64(&l.linesDropped, 1)
				if !l.isClosed() {
					l.logger.Warn("write failed", "error", err)
				}
				l.shutdown()
				l.discard()
				return
			}
		case <-l.done:
			l.discard()
			return
		}
	}
}

func (l *Link) write(line string) error {
	if l.config.WriteTimeout > 0 {
		if err := l.conn.SetWriteDeadline(time.Now().Add(l.config.WriteTimeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}

	n, err := l.conn.Write(l.framer.Encode(line))
	atomic.AddInt64(&l.bytesWritten, int64(n))
	if err != nil {
		return fmt.Errorf("failed to write line: %w", err)
	}
	atomic.AddInt64(&l.linesWritten, 1)
	l.touch()
	return nil
}

// discard drains Outbound until its producer closes it.
func (l *Link) discard() {
	for range l.outbound {
		atomic.AddInt64(&l.linesDropped, 1)
	}
}

func (l *Link) shutdown() error {
	var err error
	l.closeOnce.Do(func() {
		atomic.StoreInt32(&l.state, int32(ConnectionStateClosed))
		close(l.done)
		err = l.conn.Close()
		l.logger.Info("link closed")
	})
	return err
}

func (l *Link) isClosed() bool {
	return l.State() == ConnectionStateClosed
}

func (l *Link) touch() {
	atomic.StoreInt64(&l.lastActivity, time.Now().Unix())
}

// Stats returns link statistics
func (l *Link) Stats() LinkStatistics {
	return LinkStatistics{
		LinkID:         l.id,
		State:          l.State(),
		BytesRead:      atomic.LoadInt64(&l.bytesRead),
		BytesWritten:   atomic.LoadInt64(&l.bytesWritten),
		LinesRead:      atomic.LoadInt64(&l.linesRead),
		LinesWritten:   atomic.LoadInt64(&l.linesWritten),
		LinesDropped:   atomic.LoadInt64(&l.linesDropped),
		DecodeFailures: atomic.LoadInt64(&l.decodeFailures),
		LastActivity:   time.Unix(atomic.LoadInt64(&l.lastActivity), 0),
		RemoteAddr:     l.conn.RemoteAddr().String(),
	}
}

// LinkStatistics holds statistics for a link
type LinkStatistics struct {
	LinkID         string          `json:"link_id"`
	State          ConnectionState `json:"state"`
	BytesRead      int64           `json:"bytes_read"`
	BytesWritten   int64           `json:"bytes_written"`
	LinesRead      int64           `json:"lines_read"`
	LinesWritten   int64           `json:"lines_written"`
	LinesDropped   int64           `json:"lines_dropped"`
	DecodeFailures int64           `json:"decode_failures"`
	LastActivity   time.Time       `json:"last_activity"`
	RemoteAddr     string          `json:"remote_addr"`
}

// String returns the string representation of link statistics
func (s LinkStatistics) String() string {
	return fmt.Sprintf("Link[%s] State=%s BytesR/W=%d/%d LinesR/W=%d/%d Dropped=%d DecodeFailures=%d Remote=%s",
		s.LinkID, s.State, s.BytesRead, s.BytesWritten, s.LinesRead, s.LinesWritten,
		s.LinesDropped, s.DecodeFailures, s.RemoteAddr)
}
