package server

import (
	"context"
	"encoding/json"
	stlog "log/slog"
	"time"

	"github.com/irishsmurf/kongjr-client/game"
	"github.com/irishsmurf/kongjr-client/protocol"
)

// clientRequest is any message a game client sends. Older clients send only
// one of id and playerId.
type clientRequest struct {
	Type       string  `json:"type"`
	ID         string  `json:"id"`
	PlayerID   string  `json:"playerId"`
	ClientType string  `json:"clientType"`
	Action     string  `json:"action"`
	Velocity   float64 `json:"velocity"`
}

func (r clientRequest) player() string {
	if r.PlayerID != "" {
		return r.PlayerID
	}
	return r.ID
}

type inbound struct {
	client *Client
	req    clientRequest
}

type stateMessage struct {
	Type string    `json:"type"`
	Data wireState `json:"data"`
}

type eventPayload struct {
	PlayerID    string `json:"playerId,omitempty"`
	CrocodileID string `json:"crocodileId,omitempty"`
	Points      int    `json:"points,omitempty"`
	Level       int    `json:"level,omitempty"`
}

type eventMessage struct {
	Type    string       `json:"type"`
	Name    string       `json:"name"`
	Payload eventPayload `json:"payload"`
}

type errorMessage struct {
	Type    string            `json:"type"`
	Payload map[string]string `json:"payload"`
}

// Hub owns the world and the set of connected clients. Everything that
// touches either runs on the Run goroutine.
type Hub struct {
	logger  *stlog.Logger
	world   *World
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	done       chan struct{}

	tickRate time.Duration
}

func NewHub(logger *stlog.Logger, seed int64) *Hub {
	if logger == nil {
		logger = stlog.Default()
	}
	return &Hub{
		logger:     logger.With("component", "hub"),
		world:      NewWorld(seed),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound, 256),
		done:       make(chan struct{}),
		tickRate:   game.ServerTickRateMs * time.Millisecond,
	}
}

// Run processes registrations, client requests and world ticks until ctx is
// cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.tickRate)
	h.logger.Info("Hub started", "tickRate", h.tickRate)
	defer func() {
		ticker.Stop()
		close(h.done)
		for c := range h.clients {
			h.drop(c)
		}
		h.logger.Info("Hub stopped")
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.clients[c] = true
			connectedClientsGauge.Set(float64(len(h.clients)))
		case c := <-h.unregister:
			h.drop(c)
		case in := <-h.inbound:
			h.handleRequest(in.client, in.req)
		case <-ticker.C:
			h.runGameTick()
		}
	}
}

// Done is closed when Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) drop(c *Client) {
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	if c.playerID != "" {
		h.world.Leave(c.playerID)
	}
	close(c.send)
	connectedClientsGauge.Set(float64(len(h.clients)))
	c.logger.Info("Client unregistered", "playerId", c.playerID)
}

func (h *Hub) handleRequest(c *Client, req clientRequest) {
	if !h.clients[c] {
		return
	}
	processedClientMessagesCounter.WithLabelValues(req.Type).Inc()
	switch req.Type {
	case protocol.TypeConnect:
		id := req.player()
		if id == "" {
			c.sendJSON(errorMessage{Type: protocol.TypeError, Payload: map[string]string{"error": "missing player id"}}, protocol.TypeError)
			return
		}
		c.playerID = id
		if req.ClientType == protocol.ClientSpectator {
			c.spectator = true
			c.logger.Info("Spectator joined", "playerId", id)
			return
		}
		if err := h.world.Join(id); err != nil {
			c.sendJSON(errorMessage{Type: protocol.TypeError, Payload: map[string]string{"error": err.Error()}}, protocol.TypeError)
			return
		}
		c.logger.Info("Player joined", "playerId", id)
	case protocol.TypeInput:
		if c.playerID == "" || c.spectator {
			c.sendJSON(errorMessage{Type: protocol.TypeError, Payload: map[string]string{"error": "input before CONNECT"}}, protocol.TypeError)
			return
		}
		vel := req.Velocity
		if vel <= 0 {
			vel = protocol.DefaultVelocity
		}
		if err := h.world.Apply(c.playerID, req.Action, vel); err != nil {
			c.logger.Debug("Rejected input", "action", req.Action, "error", err)
		}
	case protocol.TypeDisconnect:
		c.logger.Info("Client said goodbye", "playerId", c.playerID)
		h.drop(c)
	default:
		c.logger.Warn("Received unknown client request type", "type", req.Type)
	}
}

func (h *Hub) runGameTick() {
	events := h.world.Step(h.tickRate.Seconds())
	for _, ev := range events {
		msg := eventMessage{Type: protocol.TypeEvent, Name: ev.Name, Payload: eventPayload{
			PlayerID:    ev.PlayerID,
			CrocodileID: ev.CrocodileID,
			Points:      ev.Points,
		}}
		if ev.Name == game.EventLevelUp {
			msg.Payload.Level = h.world.level
		}
		h.broadcast(msg, protocol.TypeEvent)
	}
	h.broadcast(stateMessage{Type: protocol.TypeState, Data: h.world.State()}, protocol.TypeState)
}

func (h *Hub) broadcast(v any, label string) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("Failed to marshal server message", "type", label, "error", err)
		return
	}
	for c := range h.clients {
		c.queue(data, label)
	}
}
