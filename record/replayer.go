package record

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/najoast/yakr/logging"
)

// Mismatch is a recorded outbound line that the router did not reproduce.
type Mismatch struct {
	// Line is the 1-based line number in the session log.
	Line     int
	Expected string
	Got      string

	// Missing is set when the router sent nothing. TimedOut narrows that
	// to the replay timeout expiring before the router stopped.
	Missing  bool
	TimedOut bool
}

// Diff renders the difference between the expected and actual line, with
// deletions as [-text-] and insertions as {+text+}.
func (m Mismatch) Diff() string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(m.Expected, m.Got, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var b strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			b.WriteString("[-" + d.Text + "-]")
		case diffmatchpatch.DiffInsert:
			b.WriteString("{+" + d.Text + "+}")
		case diffmatchpatch.DiffEqual:
			b.WriteString(d.Text)
		}
	}
	return b.String()
}

// String returns the string representation of the mismatch
func (m Mismatch) String() string {
	if m.TimedOut {
		return fmt.Sprintf("line %d: expected %q, router sent nothing before the timeout", m.Line, m.Expected)
	}
	if m.Missing {
		return fmt.Sprintf("line %d: expected %q, router sent nothing", m.Line, m.Expected)
	}
	return fmt.Sprintf("line %d: %s", m.Line, m.Diff())
}

// Result summarises a replay.
type Result struct {
	Injected   int
	Compared   int
	Mismatches []Mismatch

	// Unexpected holds lines the router sent after the log was exhausted.
	Unexpected []string

	// Malformed counts skipped log lines.
	Malformed int
}

// OK reports whether the router reproduced the log exactly.
func (r Result) OK() bool {
	return len(r.Mismatches) == 0 && len(r.Unexpected) == 0
}

// Replayer stands in for the network during a regression run. It injects
// every "> " entry of a session log into the router and compares each
// "< " entry against the router's next outbound line.
//
// Mismatches are collected and logged; they never stop the replay. Once
// the log is exhausted the Replayer closes Inbound and keeps draining
// Outbound until the router closes it.
type Replayer struct {
	entries []indexedEntry
	logger  logging.Logger
	timeout time.Duration

	inbound  chan string
	outbound chan string

	pending []string // outbound lines received while injecting
	closed  bool     // router closed Outbound

	result Result
	done   chan struct{}
}

// Option configures a Replayer.
type Option func(*Replayer)

// WithTimeout bounds the wait for each recorded outbound line. A line the
// router does not send in time is reported as missing and the replay moves
// on. Zero waits until the router closes Outbound.
func WithTimeout(d time.Duration) Option {
	return func(p *Replayer) {
		p.timeout = d
	}
}

type indexedEntry struct {
	Entry
	line int
}

// NewReplayer loads the session log at path and starts playback.
func NewReplayer(path string, capacity int, logger logging.Logger, opts ...Option) (*Replayer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session log: %w", err)
	}
	defer f.Close()

	return NewReplayerFromReader(f, capacity, logger, opts...)
}

// NewReplayerFromReader loads a session log from r and starts playback.
func NewReplayerFromReader(r io.Reader, capacity int, logger logging.Logger, opts ...Option) (*Replayer, error) {
	if capacity <= 0 {
		capacity = 1
	}
	if logger == nil {
		logger = logging.Nop
	}

	p := &Replayer{
		logger:   logger.With("component", "replayer"),
		inbound:  make(chan string, capacity),
		outbound: make(chan string, capacity),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for n := 1; scanner.Scan(); n++ {
		entry, err := ParseEntry(scanner.Text())
		if err != nil {
			p.logger.Warn("skipping log line", "line", n, "error", err)
			p.result.Malformed++
			continue
		}
		p.entries = append(p.entries, indexedEntry{Entry: entry, line: n})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read session log: %w", err)
	}

	go p.run()
	return p, nil
}

// Inbound returns the recorded network lines.
func (p *Replayer) Inbound() <-chan string {
	return p.inbound
}

// Outbound returns the queue the router sends to.
func (p *Replayer) Outbound() chan<- string {
	return p.outbound
}

// Done is closed when the replay has finished.
func (p *Replayer) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the router has closed Outbound and returns the result.
func (p *Replayer) Wait() Result {
	<-p.done
	return p.result
}

func (p *Replayer) run() {
	defer close(p.done)

	for _, e := range p.entries {
		switch e.Direction {
		case FromNetwork:
			if p.inject(e.Line) {
				p.result.Injected++
			}
		case ToNetwork:
			p.compare(e)
		}
	}
	close(p.inbound)

	for {
		got, ok := p.next()
		if !ok {
			break
		}
		p.logger.Warn("unexpected outbound line", "got", got)
		p.result.Unexpected = append(p.result.Unexpected, got)
	}

	p.logger.Info("replay finished",
		"injected", p.result.Injected,
		"compared", p.result.Compared,
		"mismatches", len(p.result.Mismatches),
		"unexpected", len(p.result.Unexpected))
}

// inject delivers line to the router, buffering any outbound lines the
// router sends meanwhile so it never blocks on a full Outbound.
func (p *Replayer) inject(line string) bool {
	for !p.closed {
		select {
		case p.inbound <- line:
			return true
		case got, ok := <-p.outbound:
			if !ok {
				p.closed = true
				break
			}
			p.pending = append(p.pending, got)
		}
	}
	return false
}

func (p *Replayer) compare(e indexedEntry) {
	p.result.Compared++

	got, ok, timedOut := p.expect()
	if !ok {
		m := Mismatch{Line: e.line, Expected: e.Line, Missing: true, TimedOut: timedOut}
		p.logger.Warn("replay mismatch", "line", e.line, "expected", e.Line, "got", nil, "timed_out", timedOut)
		p.result.Mismatches = append(p.result.Mismatches, m)
		return
	}
	if got != e.Line {
		m := Mismatch{Line: e.line, Expected: e.Line, Got: got}
		p.logger.Warn("replay mismatch", "line", e.line, "expected", e.Line, "got", got, "diff", m.Diff())
		p.result.Mismatches = append(p.result.Mismatches, m)
	}
}

// expect is next bounded by the replay timeout.
func (p *Replayer) expect() (line string, ok, timedOut bool) {
	if p.timeout <= 0 || len(p.pending) > 0 || p.closed {
		line, ok = p.next()
		return line, ok, false
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case line, ok = <-p.outbound:
		if !ok {
			p.closed = true
		}
		return line, ok, false
	case <-timer.C:
		return "", false, true
	}
}

// next returns the router's next outbound line, or false once the router
// has closed Outbound.
func (p *Replayer) next() (string, bool) {
	if len(p.pending) > 0 {
		line := p.pending[0]
		p.pending = p.pending[1:]
		return line, true
	}
	if p.closed {
		return "", false
	}
	line, ok := <-p.outbound
	if !ok {
		p.closed = true
	}
	return line, ok
}
