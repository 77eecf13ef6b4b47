package network

import (
	"context"
	"errors"
	"fmt"
	stlog "log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/irishsmurf/kongjr-client/protocol"
)

// State is the lifecycle position of a Conn.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

const (
	DefaultRecvTimeout  = 100 * time.Millisecond
	DefaultWriteTimeout = 50 * time.Millisecond
	DefaultJoinTimeout  = 2 * time.Second
	DefaultRetryDelay   = 10 * time.Millisecond
	DefaultDialTimeout  = 3 * time.Second

	readChunk = 4096
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrClosed       = errors.New("connection closed")
	errZeroRead     = errors.New("peer closed the stream")
)

// Options tune a Conn. Zero values select the defaults above.
type Options struct {
	RecvTimeout   time.Duration
	WriteTimeout  time.Duration
	JoinTimeout   time.Duration
	RetryDelay    time.Duration
	DialTimeout   time.Duration
	MaxFrameBytes int
	Logger        *stlog.Logger

	// Dial replaces DialTransport, mostly for tests.
	Dial func(ctx context.Context, addr string, timeout time.Duration) (Transport, error)
}

func (o *Options) setDefaults() {
	if o.RecvTimeout <= 0 {
		o.RecvTimeout = DefaultRecvTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.JoinTimeout <= 0 {
		o.JoinTimeout = DefaultJoinTimeout
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = protocol.DefaultMaxFrameBytes
	}
	if o.Logger == nil {
		o.Logger = stlog.Default()
	}
	if o.Dial == nil {
		o.Dial = DialTransport
	}
}

// Handler receives everything the receive loop produces. Both methods run on
// the receive goroutine and must not call Close.
type Handler interface {
	// HandleLine is called once per complete inbound message.
	HandleLine(line string)
	// HandleDisconnect is called at most once, when the connection fails.
	// It is not called for a clean Close initiated by the owner.
	HandleDisconnect(cause error)
}

// Conn owns one server connection: a receive goroutine that frames inbound
// bytes and hands lines to a Handler, and a bounded-time Send.
type Conn struct {
	opts    Options
	logger  *stlog.Logger
	handler Handler

	state   atomic.Int32
	running atomic.Bool
	started atomic.Bool

	transport Transport
	framer    *protocol.Framer
	sendMu    sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}

	closeOnce sync.Once
	causeMu   sync.Mutex
	cause     error

	bytesIn     atomic.Int64
	bytesOut    atomic.Int64
	connectedAt time.Time
}

func NewConn(h Handler, opts Options) *Conn {
	opts.setDefaults()
	c := &Conn{
		opts:    opts,
		logger:  opts.Logger.With("component", "conn"),
		handler: h,
		done:    make(chan struct{}),
	}
	c.framer = protocol.NewFramer(opts.MaxFrameBytes, c.logger)
	c.framer.OnOverflow = func(n int) { droppedFrameBytesCounter.Add(float64(n)) }
	c.setState(StateDisconnected)
	return c
}

// Dial connects to addr and starts the receive loop. A Conn is single-use:
// a second Dial, or a Dial after Close, returns ErrClosed.
func (c *Conn) Dial(ctx context.Context, addr string) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrClosed
	}
	c.setState(StateConnecting)
	t, err := c.opts.Dial(ctx, addr, c.opts.DialTimeout)
	if err != nil {
		c.setState(StateDisconnected)
		c.recordCause(err)
		close(c.done)
		c.logger.Error("Connect failed", "addr", addr, "error", err)
		return err
	}
	c.logger = c.logger.With("addr", addr)
	c.start(t)
	return nil
}

// Attach starts the receive loop over an already established transport.
func (c *Conn) Attach(t Transport) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrClosed
	}
	c.start(t)
	return nil
}

func (c *Conn) start(t Transport) {
	ctx, cancel := context.WithCancel(context.Background())
	c.transport = t
	c.cancel = cancel
	c.connectedAt = time.Now()
	c.running.Store(true)
	c.setState(StateConnected)
	c.logger.Info("Connected")
	go c.receiveLoop(ctx)
}

func (c *Conn) receiveLoop(ctx context.Context) {
	defer close(c.done)
	buf := make([]byte, readChunk)
	for c.running.Load() && ctx.Err() == nil {
		n, err := c.transport.Receive(buf, c.opts.RecvTimeout)
		if n > 0 {
			c.bytesIn.Add(int64(n))
			receivedBytesCounter.Add(float64(n))
			for _, line := range c.framer.Feed(buf[:n]) {
				c.handler.HandleLine(line)
			}
		}
		switch {
		case err != nil && isTimeout(err):
			receiveTimeoutsCounter.Inc()
			select {
			case <-ctx.Done():
			case <-time.After(c.opts.RetryDelay):
			}
		case err != nil:
			c.fail(fmt.Errorf("receive: %w", err))
			return
		case n == 0:
			c.fail(errZeroRead)
			return
		}
	}
}

// isTimeout reports whether err only means no data arrived in time.
func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// fail marks the connection lost. Only the first failure while running is
// reported to the handler; errors caused by our own Close are swallowed.
func (c *Conn) fail(err error) {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	c.recordCause(err)
	c.setState(StateDisconnected)
	c.logger.Error("Connection lost", "error", err)
	_ = c.transport.Close()
	c.handler.HandleDisconnect(err)
}

// Send writes one message, appending the delimiter when missing. A write that
// fails or cannot finish within the write timeout is fatal.
func (c *Conn) Send(msg []byte) error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}
	if len(msg) == 0 || msg[len(msg)-1] != '\n' {
		msg = append(msg[:len(msg):len(msg)], '\n')
	}
	c.sendMu.Lock()
	err := c.transport.Send(msg, c.opts.WriteTimeout)
	c.sendMu.Unlock()
	if err != nil {
		err = fmt.Errorf("send: %w", err)
		c.fail(err)
		return err
	}
	c.bytesOut.Add(int64(len(msg)))
	sentBytesCounter.Add(float64(len(msg)))
	return nil
}

// Close sends goodbye (if non-nil and still connected), closes the transport
// and waits a bounded time for the receive loop. It is idempotent and safe
// after the loop has already exited on error.
func (c *Conn) Close(goodbye []byte) error {
	c.closeOnce.Do(func() {
		if !c.started.Load() {
			c.started.Store(true)
			close(c.done)
			return
		}
		if goodbye != nil && c.State() == StateConnected {
			if err := c.Send(goodbye); err != nil {
				c.logger.Debug("Goodbye not delivered", "error", err)
			}
		}
		wasRunning := c.running.Swap(false)
		c.setState(StateDisconnected)
		if c.cancel != nil {
			c.cancel()
		}
		if c.transport != nil {
			if err := c.transport.Close(); err != nil && wasRunning {
				c.logger.Debug("Transport close", "error", err)
			}
		}
		select {
		case <-c.done:
		case <-time.After(c.opts.JoinTimeout):
			c.logger.Warn("Receive loop did not exit in time", "wait", c.opts.JoinTimeout)
		}
		if wasRunning {
			c.recordCause(ErrClosed)
		}
	})
	return nil
}

func (c *Conn) State() State {
	return State(c.state.Load())
}

func (c *Conn) setState(s State) {
	c.state.Store(int32(s))
	connectionStateGauge.Set(float64(s))
}

// Done is closed once the receive loop has exited (or will never start).
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the first reason the connection ended, or nil while it is up.
func (c *Conn) Err() error {
	c.causeMu.Lock()
	defer c.causeMu.Unlock()
	return c.cause
}

func (c *Conn) recordCause(err error) {
	c.causeMu.Lock()
	if c.cause == nil {
		c.cause = err
	}
	c.causeMu.Unlock()
}

// Stats summarises traffic for the lifetime of the connection.
type Stats struct {
	BytesIn   int64
	BytesOut  int64
	Connected time.Time
}

func (c *Conn) Stats() Stats {
	return Stats{BytesIn: c.bytesIn.Load(), BytesOut: c.bytesOut.Load(), Connected: c.connectedAt}
}
