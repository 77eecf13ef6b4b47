package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	stlog "log/slog"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second // Time allowed to write a message to the peer.
	maxMessageSize = 4096             // Maximum message size allowed from peer.
	sendQueue      = 256
)

// peer is one client connection carrying one JSON message per frame or line.
type peer interface {
	ReadMessage() ([]byte, error)
	WriteMessage(msg []byte) error
	Close() error
}

// Client is a middleman between a peer connection and the hub.
type Client struct {
	hub    *Hub
	conn   peer
	send   chan []byte
	logger *stlog.Logger

	// Owned by the hub goroutine.
	playerID  string
	spectator bool
}

func newClient(hub *Hub, conn peer, logger *stlog.Logger) *Client {
	return &Client{hub: hub, conn: conn, send: make(chan []byte, sendQueue), logger: logger}
}

// start registers the client and launches its pumps. It returns false if the
// hub has already stopped.
func (c *Client) start() bool {
	select {
	case c.hub.register <- c:
	case <-c.hub.done:
		c.conn.Close()
		return false
	}
	go c.writePump()
	go c.readPump()
	return true
}

// readPump pumps messages from the connection to the hub.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
		c.logger.Info("Client readPump finished")
	}()

	for {
		message, err := c.conn.ReadMessage()
		if err != nil {
			c.logger.Debug("Client read ended", "error", err)
			return
		}
		receivedBytesCounter.Add(float64(len(message)))

		message = bytes.TrimSpace(message)
		if len(message) == 0 {
			continue
		}
		var req clientRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.logger.Warn("Failed to unmarshal client message", "error", err)
			continue
		}
		select {
		case c.hub.inbound <- inbound{client: c, req: req}:
		case <-c.hub.done:
			return
		}
	}
}

// writePump pumps messages from the hub to the connection. It exits, closing
// the connection, when the hub closes the send channel.
func (c *Client) writePump() {
	defer func() {
		c.conn.Close()
		c.logger.Info("Client writePump finished")
	}()
	for message := range c.send {
		if err := c.conn.WriteMessage(message); err != nil {
			c.logger.Error("Client write error", "error", err)
			// Closing ends readPump, which unregisters us and closes send.
			c.conn.Close()
			for range c.send {
			}
			return
		}
	}
}

func (c *Client) sendJSON(v any, label string) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to marshal server message", "type", label, "error", err)
		return
	}
	c.queue(data, label)
}

// queue hands data to the write pump without blocking the hub.
func (c *Client) queue(data []byte, label string) {
	select {
	case c.send <- data:
		sentServerMessagesCounter.WithLabelValues(label).Inc()
		sentBytesCounter.Add(float64(len(data)))
	default:
		droppedServerMessagesCounter.WithLabelValues(label).Inc()
		c.logger.Warn("Client send buffer full, dropping message", "type", label)
	}
}

// --- Line-delimited TCP ---

type linePeer struct {
	conn net.Conn
	r    *bufio.Reader
}

func newLinePeer(conn net.Conn) *linePeer {
	return &linePeer{conn: conn, r: bufio.NewReaderSize(conn, maxMessageSize)}
}

func (p *linePeer) ReadMessage() ([]byte, error) {
	line, err := p.r.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		// Oversized line: drop it up to the next delimiter.
		for err == bufio.ErrBufferFull {
			_, err = p.r.ReadSlice('\n')
		}
		if err != nil {
			return nil, err
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), line...), nil
}

func (p *linePeer) WriteMessage(msg []byte) error {
	p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	buf := make([]byte, 0, len(msg)+1)
	buf = append(append(buf, msg...), '\n')
	_, err := p.conn.Write(buf)
	return err
}

func (p *linePeer) Close() error {
	return p.conn.Close()
}

// --- WebSocket ---

type wsPeer struct {
	conn *websocket.Conn
}

func newWSPeer(conn *websocket.Conn) *wsPeer {
	conn.SetReadLimit(maxMessageSize)
	return &wsPeer{conn: conn}
}

func (p *wsPeer) ReadMessage() ([]byte, error) {
	for {
		messageType, message, err := p.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType == websocket.TextMessage {
			return message, nil
		}
	}
}

func (p *wsPeer) WriteMessage(msg []byte) error {
	p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteMessage(websocket.TextMessage, msg)
}

func (p *wsPeer) Close() error {
	return p.conn.Close()
}
