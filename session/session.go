// Package session is the facade a presentation layer drives: it owns the
// connection, the shared state store and the input coalescer for one player.
package session

import (
	"context"
	"errors"
	stlog "log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"
	"golang.org/x/time/rate"

	"github.com/irishsmurf/kongjr-client/config"
	"github.com/irishsmurf/kongjr-client/game"
	"github.com/irishsmurf/kongjr-client/network"
	"github.com/irishsmurf/kongjr-client/protocol"
)

// LineRecorder receives every inbound line before it is decoded.
type LineRecorder interface {
	Record(line string) error
}

// Session connects one player to a game server. All methods are safe for
// concurrent use; the presentation loop typically calls ReadLatestState,
// NotifyKey* and PollInput while the receive loop publishes state.
type Session struct {
	cfg       config.Config
	logger    *stlog.Logger
	id        string
	spectator bool

	store *game.Store
	input *game.Coalescer

	limiter *rate.Limiter
	dropLog rate.Sometimes

	mu       sync.Mutex
	conn     *network.Conn
	recorder LineRecorder

	live     atomic.Bool
	used     atomic.Bool
	done     chan struct{}
	doneOnce sync.Once

	linesIn       atomic.Int64
	inputsSent    atomic.Int64
	inputsDropped atomic.Int64

	now func() time.Time
}

func New(cfg config.Config, logger *stlog.Logger) *Session {
	if logger == nil {
		logger = stlog.Default()
	}
	id := game.NewPlayerID(cfg.PlayerPrefix)
	return &Session{
		cfg:       cfg,
		logger:    logger.With("component", "session", "player", id),
		id:        id,
		spectator: cfg.Spectator(),
		store:     game.NewStore(),
		input:     game.NewCoalescer(),
		limiter:   rate.NewLimiter(rate.Limit(cfg.InputRate), max(cfg.InputBurst, 1)),
		dropLog:   rate.Sometimes{Interval: 5 * time.Second},
		done:      make(chan struct{}),
		now:       time.Now,
	}
}

// PlayerID is the identifier sent with every message.
func (s *Session) PlayerID() string {
	return s.id
}

// Store exposes the underlying state store, mostly for renderers that want
// Version.
func (s *Session) Store() *game.Store {
	return s.store
}

// SetRecorder installs r to receive raw inbound lines. Pass nil to stop.
func (s *Session) SetRecorder(r LineRecorder) {
	s.mu.Lock()
	s.recorder = r
	s.mu.Unlock()
}

// RequestConnect dials the configured server and announces the player. It
// returns false on any failure, leaving the screen Disconnected. A Session
// connects at most once.
func (s *Session) RequestConnect(ctx context.Context) bool {
	if !s.used.CompareAndSwap(false, true) {
		s.logger.Warn("Session already used; create a new one to reconnect")
		return false
	}
	conn := network.NewConn(s, s.cfg.ConnOptions(s.logger))
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.logger.Info("Connecting", "addr", s.cfg.ServerAddr, "clientType", s.cfg.ClientType)
	if err := conn.Dial(ctx, s.cfg.ServerAddr); err != nil {
		s.store.ForceDisconnected(err)
		s.finish()
		return false
	}
	return s.announce(conn)
}

// Attach is RequestConnect over an already established transport.
func (s *Session) Attach(t network.Transport) bool {
	if !s.used.CompareAndSwap(false, true) {
		return false
	}
	conn := network.NewConn(s, s.cfg.ConnOptions(s.logger))
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	if err := conn.Attach(t); err != nil {
		s.store.ForceDisconnected(err)
		s.finish()
		return false
	}
	return s.announce(conn)
}

func (s *Session) announce(conn *network.Conn) bool {
	s.live.Store(true)
	msg, err := protocol.EncodeConnect(s.id, s.cfg.ClientType)
	if err == nil {
		err = conn.Send(msg)
	}
	if err != nil {
		s.logger.Error("Failed to announce player", "error", err)
		s.live.Store(false)
		s.store.ForceDisconnected(err)
		conn.Close(nil)
		s.finish()
		return false
	}
	network.ObserveSent(protocol.TypeConnect)
	s.store.SetScreen(game.ScreenPlaying)
	s.logger.Info("Connected")
	return true
}

// RequestDisconnect notifies the server (when still connected), closes the
// connection and waits a bounded time for the receive loop. Safe to call more
// than once, and after the connection has already failed.
func (s *Session) RequestDisconnect() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	s.live.Store(false)
	if conn != nil {
		var goodbye []byte
		if conn.State() == network.StateConnected {
			goodbye, _ = protocol.EncodeDisconnect(s.id)
		}
		conn.Close(goodbye)
		if goodbye != nil {
			network.ObserveSent(protocol.TypeDisconnect)
		}
	}
	s.store.ForceDisconnected(network.ErrClosed)
	s.input.Reset()
	s.finish()
}

// Done is closed once the session has ended, by either side.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the session ended, or nil while it is running.
func (s *Session) Err() error {
	return s.store.Cause()
}

// ReadLatestState returns a private copy of the latest snapshot and the
// current screen state.
func (s *Session) ReadLatestState() (game.Snapshot, game.ScreenState) {
	return s.store.Read()
}

// Effects returns the remaining time on transient visual effects.
func (s *Session) Effects() game.Effects {
	return s.store.Effects(s.now())
}

func (s *Session) NotifyKeyDown(a game.Action) {
	s.input.KeyDown(a)
}

func (s *Session) NotifyKeyUp(a game.Action) {
	s.input.KeyUp(a)
}

// PollInput runs one input tick and sends the resulting actions. It returns
// the actions actually written. Spectators and disconnected sessions still
// advance the coalescer but send nothing.
func (s *Session) PollInput() []game.Action {
	actions := s.input.Tick()
	if len(actions) == 0 || s.spectator || !s.live.Load() {
		return nil
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}

	var sent []game.Action
	for _, a := range actions {
		// Tick has already disarmed jump and grab, so they bypass the limiter.
		if !a.EdgeTriggered() && !s.limiter.Allow() {
			s.inputsDropped.Add(1)
			s.dropLog.Do(func() {
				s.logger.Warn("Input rate limit reached, dropping actions", "dropped", s.inputsDropped.Load())
			})
			continue
		}
		msg, err := protocol.EncodeInput(s.id, a, s.cfg.InputVelocity)
		if err != nil {
			s.logger.Error("Failed to encode input", "action", a, "error", err)
			continue
		}
		if err := conn.Send(msg); err != nil {
			// The connection reports the failure through HandleDisconnect.
			break
		}
		network.ObserveSent(protocol.TypeInput)
		s.inputsSent.Add(1)
		sent = append(sent, a)
	}
	return sent
}

// HandleLine decodes one inbound line and applies it to the store. It is
// called by the receive loop, and by replay.
func (s *Session) HandleLine(line string) {
	s.linesIn.Add(1)
	s.mu.Lock()
	rec := s.recorder
	s.mu.Unlock()
	if rec != nil {
		if err := rec.Record(line); err != nil {
			s.logger.Error("Recording failed, disabling recorder", "error", err)
			s.SetRecorder(nil)
		}
	}

	m := protocol.DecodeString(line)
	network.ObserveMessage(m.Kind.String(), len(m.Diagnostics))
	for _, d := range m.Diagnostics {
		s.logger.Debug("Decode diagnostic", "kind", m.Kind, "detail", d)
	}

	switch m.Kind {
	case protocol.KindState:
		if m.Truncated {
			s.logger.Warn("Truncated state message, publishing partial snapshot", "tick", m.State.Tick)
		}
		before := s.store.Screen()
		after := s.store.Publish(m.State)
		if before != after {
			s.logger.Info("Screen recovered from snapshot", "from", before, "to", after, "tick", m.State.Tick)
		}
	case protocol.KindEvent:
		if m.Event.Name == "" {
			s.logger.Warn("Ignoring event without a name", "raw", line)
			return
		}
		r := s.store.ApplyEvent(m.Event, s.now())
		if !r.Known {
			s.logger.Warn("Unrecognized event", "name", m.Event.Name)
			return
		}
		s.logger.Debug("Event", "name", m.Event.Name, "target", m.Event.PlayerID, "screen", r.Next)
	case protocol.KindError:
		s.logger.Warn("Server reported an error", "error", m.ErrorText, "raw", line)
	case protocol.KindUnknown:
		s.logger.Warn("Unrecognized message type", "type", m.Type)
	default:
		s.logger.Warn("Discarding malformed message", "raw", truncate(line, 200))
	}
}

// HandleDisconnect is called by the receive loop on a fatal connection error.
func (s *Session) HandleDisconnect(cause error) {
	s.live.Store(false)
	s.store.ForceDisconnected(cause)
	s.input.Reset()
	s.finish()
}

func (s *Session) finish() {
	s.doneOnce.Do(func() {
		s.logSummary()
		close(s.done)
	})
}

func (s *Session) logSummary() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	attrs := []any{
		"lines", s.linesIn.Load(),
		"inputsSent", s.inputsSent.Load(),
		"inputsDropped", s.inputsDropped.Load(),
	}
	if conn != nil {
		st := conn.Stats()
		attrs = append(attrs, "received", humanize.Bytes(uint64(st.BytesIn)), "sent", humanize.Bytes(uint64(st.BytesOut)))
		if !st.Connected.IsZero() {
			attrs = append(attrs, "uptime", durafmt.Parse(time.Since(st.Connected)).LimitFirstN(2).String())
		}
	}
	if cause := s.store.Cause(); cause != nil && !errors.Is(cause, network.ErrClosed) {
		attrs = append(attrs, "cause", cause)
	}
	s.logger.Info("Session ended", attrs...)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
