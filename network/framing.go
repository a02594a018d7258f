package network

import (
	"strings"
	"unicode/utf8"
)

// Framer accumulates decoded text and splits it into delimiter-terminated
// lines. It is not safe for concurrent use.
type Framer struct {
	delimiter string
	buffer    string
}

// NewFramer creates a framer for the given delimiter.
func NewFramer(delimiter string) (*Framer, error) {
	if delimiter == "" {
		return nil, ErrEmptyDelimiter
	}
	return &Framer{delimiter: delimiter}, nil
}

// Feed appends text to the buffer and returns every complete line, in order,
// without its delimiter. Any trailing partial line stays buffered.
func (f *Framer) Feed(text string) []string {
	f.buffer += text

	var lines []string
	for {
		i := strings.Index(f.buffer, f.delimiter)
		if i < 0 {
			break
		}
		lines = append(lines, f.buffer[:i])
		f.buffer = f.buffer[i+len(f.delimiter):]
	}
	return lines
}

// Buffered returns the pending partial line.
func (f *Framer) Buffered() string {
	return f.buffer
}

// Encode returns line with the delimiter appended, ready for the wire.
func (f *Framer) Encode(line string) []byte {
	return []byte(line + f.delimiter)
}

// splitIncomplete holds back a multi-byte rune cut off at the end of a read
// so that it can be completed by the next chunk.
func splitIncomplete(b []byte) (complete, rest []byte) {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				return b[:i], b[i:]
			}
			break
		}
	}
	return b, nil
}
