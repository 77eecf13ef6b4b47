package protocol

import (
	"bytes"
	stlog "log/slog"
)

// DefaultMaxFrameBytes bounds the carry-over buffer when the peer never sends
// a delimiter.
const DefaultMaxFrameBytes = 64 * 1024

const delimiter = '\n'

// Framer splits a byte stream into newline-terminated messages, carrying any
// partial trailing bytes over to the next Feed.
type Framer struct {
	buf    bytes.Buffer
	max    int
	logger *stlog.Logger

	// skipping is set after an overflow until the rest of the oversized
	// message has been thrown away.
	skipping bool

	// OnOverflow, when set, is called with the number of bytes discarded
	// because the buffer exceeded its cap, including the remainder of the
	// oversized message dropped by later Feeds.
	OnOverflow func(discarded int)
}

// NewFramer returns a framer that holds at most maxBytes of undelimited data.
func NewFramer(maxBytes int, logger *stlog.Logger) *Framer {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFrameBytes
	}
	if logger == nil {
		logger = stlog.Default()
	}
	return &Framer{max: maxBytes, logger: logger}
}

// Feed appends p and returns every complete message now available, in order.
// Trailing whitespace is trimmed and blank lines are dropped.
func (f *Framer) Feed(p []byte) []string {
	f.buf.Write(p)

	if f.skipping {
		i := bytes.IndexByte(f.buf.Bytes(), delimiter)
		if i < 0 {
			f.discard(f.buf.Len())
			f.buf.Reset()
			return nil
		}
		f.discard(i + 1)
		f.buf.Next(i + 1)
		f.skipping = false
	}

	var lines []string
	for {
		data := f.buf.Bytes()
		i := bytes.IndexByte(data, delimiter)
		if i < 0 {
			break
		}
		line := bytes.TrimRight(data[:i], " \t\r\v\f")
		if len(bytes.TrimSpace(line)) > 0 {
			lines = append(lines, string(line))
		}
		f.buf.Next(i + 1)
	}

	if n := f.buf.Len(); n > f.max {
		f.buf.Reset()
		f.skipping = true
		f.logger.Warn("Frame buffer overflow, discarding message", "discarded", n, "max", f.max)
		f.discard(n)
	}
	return lines
}

func (f *Framer) discard(n int) {
	if n > 0 && f.OnOverflow != nil {
		f.OnOverflow(n)
	}
}

// Buffered returns the number of bytes waiting for a delimiter.
func (f *Framer) Buffered() int {
	return f.buf.Len()
}

func (f *Framer) Reset() {
	f.buf.Reset()
	f.skipping = false
}
