package network

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is one established stream to the server. Receive and Send may be
// called concurrently with each other, but each only from one goroutine at a
// time.
type Transport interface {
	// Receive reads available bytes into p, waiting at most timeout. A
	// timeout is reported as an error whose Timeout method returns true.
	Receive(p []byte, timeout time.Duration) (int, error)
	// Send writes all of b or fails within timeout.
	Send(b []byte, timeout time.Duration) error
	Close() error
}

// DialTransport connects to addr. ws:// and wss:// addresses use a websocket;
// anything else (optionally prefixed tcp://) is a plain TCP stream.
func DialTransport(ctx context.Context, addr string, timeout time.Duration) (Transport, error) {
	switch {
	case strings.HasPrefix(addr, "ws://"), strings.HasPrefix(addr, "wss://"):
		dialer := websocket.Dialer{HandshakeTimeout: timeout}
		conn, _, err := dialer.DialContext(ctx, addr, nil)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		return NewWSTransport(conn), nil
	default:
		addr = strings.TrimPrefix(addr, "tcp://")
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		return NewStreamTransport(conn), nil
	}
}

// --- TCP ---

type streamTransport struct {
	conn      net.Conn
	closeOnce sync.Once
	closeErr  error
}

// NewStreamTransport wraps any net.Conn carrying newline-delimited messages.
func NewStreamTransport(conn net.Conn) Transport {
	return &streamTransport{conn: conn}
}

func (t *streamTransport) Receive(p []byte, timeout time.Duration) (int, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, err
	}
	return t.conn.Read(p)
}

func (t *streamTransport) Send(b []byte, timeout time.Duration) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return writeAll(t.conn, b)
}

func (t *streamTransport) Close() error {
	t.closeOnce.Do(func() { t.closeErr = t.conn.Close() })
	return t.closeErr
}

// writeAll writes the entirety of data to w, returning an error if the write
// fails or is short.
func writeAll(w io.Writer, data []byte) error {
	for len(data) > 0 {
		n, err := w.Write(data)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		data = data[n:]
	}
	return nil
}

// --- WebSocket ---

const wsReadQueue = 64

// wsTransport adapts message-oriented websocket frames to the byte stream the
// framer expects: each frame is followed by a delimiter. Gorilla connections
// are unusable after a read deadline fires, so a pump goroutine owns reads and
// Receive waits on its queue instead.
type wsTransport struct {
	conn    *websocket.Conn
	msgs    chan []byte
	done    chan struct{} // Closed when the read pump exits
	closed  chan struct{}
	readErr error
	pending []byte

	closeOnce sync.Once
}

func NewWSTransport(conn *websocket.Conn) Transport {
	t := &wsTransport{
		conn:   conn,
		msgs:   make(chan []byte, wsReadQueue),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go t.readPump()
	return t
}

func (t *wsTransport) readPump() {
	defer close(t.done)
	for {
		_, msg, err := t.conn.ReadMessage()
		if err != nil {
			t.readErr = err
			return
		}
		select {
		case t.msgs <- msg:
		case <-t.closed:
			t.readErr = net.ErrClosed
			return
		}
	}
}

func (t *wsTransport) Receive(p []byte, timeout time.Duration) (int, error) {
	if len(t.pending) == 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case msg := <-t.msgs:
			t.pending = append(bytes.TrimRight(msg, "\n"), '\n')
		case <-t.done:
			// Drain frames queued before the pump stopped.
			select {
			case msg := <-t.msgs:
				t.pending = append(bytes.TrimRight(msg, "\n"), '\n')
			default:
				return 0, t.readErr
			}
		case <-timer.C:
			return 0, os.ErrDeadlineExceeded
		}
	}
	n := copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

func (t *wsTransport) Send(b []byte, timeout time.Duration) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, bytes.TrimRight(b, "\n"))
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"),
			time.Now().Add(time.Second))
		err = t.conn.Close()
	})
	return err
}
