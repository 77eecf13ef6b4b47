// Package replay records the inbound message stream of a session and plays it
// back later, so decoder and screen behaviour can be reproduced offline.
//
// A recording is a sequence of length-delimited protobuf Struct messages, one
// per received line, each with the fields "atMs" (offset from the start of the
// recording) and "line" (the raw message text).
package replay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	fieldAt   = "atMs"
	fieldLine = "line"
)

// Entry is one recorded message.
type Entry struct {
	At   time.Duration
	Line string
}

// Recorder appends entries to a writer. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	start  time.Time
	now    func() time.Time
	count  int
}

// Create truncates path and returns a Recorder writing to it.
func Create(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	r := NewRecorder(f)
	r.closer = f
	return r, nil
}

func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{w: bufio.NewWriter(w), start: time.Now(), now: time.Now}
}

// Record appends one line stamped with the time since the recorder started.
func (r *Recorder) Record(line string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	at := r.now().Sub(r.start)
	return r.write(Entry{At: at, Line: line})
}

func (r *Recorder) write(e Entry) error {
	msg, err := structpb.NewStruct(map[string]any{
		fieldAt:   float64(e.At.Milliseconds()),
		fieldLine: e.Line,
	})
	if err != nil {
		return fmt.Errorf("record entry: %w", err)
	}
	if _, err := protodelim.MarshalTo(r.w, msg); err != nil {
		return fmt.Errorf("record entry: %w", err)
	}
	r.count++
	return nil
}

// Count returns the number of entries written so far.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Close flushes buffered entries and closes the underlying file, if any.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.w.Flush()
	if r.closer != nil {
		err = errors.Join(err, r.closer.Close())
		r.closer = nil
	}
	return err
}

// Reader decodes entries from a recording.
type Reader struct {
	r      *bufio.Reader
	closer io.Closer
}

// Open opens a recording file for reading.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	r := NewReader(f)
	r.closer = f
	return r, nil
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next entry, or io.EOF at the clean end of the recording.
// A record missing its line is an error; a missing offset reads as zero.
func (r *Reader) Next() (Entry, error) {
	var msg structpb.Struct
	if err := protodelim.UnmarshalFrom(r.r, &msg); err != nil {
		if errors.Is(err, io.EOF) {
			return Entry{}, io.EOF
		}
		return Entry{}, fmt.Errorf("read entry: %w", err)
	}
	fields := msg.GetFields()
	line, ok := fields[fieldLine]
	if !ok {
		return Entry{}, errors.New("read entry: missing line")
	}
	at := time.Duration(fields[fieldAt].GetNumberValue()) * time.Millisecond
	return Entry{At: at, Line: line.GetStringValue()}, nil
}

func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	return err
}

// Play feeds every entry to fn, waiting between entries so that they arrive
// with their recorded spacing divided by speed. A speed of zero or less plays
// as fast as possible. Play stops at the end of the recording, when ctx is
// done, or when fn returns an error.
func Play(ctx context.Context, r *Reader, speed float64, fn func(Entry) error) (int, error) {
	start := time.Now()
	n := 0
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if speed > 0 {
			due := start.Add(time.Duration(float64(e.At) / speed))
			if wait := time.Until(due); wait > 0 {
				t := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					t.Stop()
					return n, ctx.Err()
				case <-t.C:
				}
			}
		} else if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := fn(e); err != nil {
			return n, err
		}
		n++
	}
}
