// Package server is a loopback game server speaking the client's wire
// protocol. It exists for local play and end-to-end tests; the real game
// server is a separate program.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // Local development only
}

// ServeTCP accepts line-delimited clients on ln until ctx is cancelled or the
// listener fails.
func ServeTCP(ctx context.Context, hub *Hub, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		tempID := "pending_" + uuid.New().String()[:4]
		logger := hub.logger.With("clientId", tempID, "remoteAddr", conn.RemoteAddr().String(), "transport", "tcp")
		if newClient(hub, newLinePeer(conn), logger).start() {
			logger.Info("TCP connection established")
		}
	}
}

// ServeWs handles websocket requests from the peer.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	// Try X-Forwarded-For first (if behind proxy)
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip, _, _ = net.SplitHostPort(r.RemoteAddr)
	} else {
		ip = strings.Split(ip, ",")[0]
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade error", "remoteAddr", r.RemoteAddr, "error", err)
		return
	}

	tempID := "pending_" + uuid.New().String()[:4]
	clientLogger := hub.logger.With("clientId", tempID, "remoteAddr", ip, "transport", "ws")
	if newClient(hub, newWSPeer(conn), clientLogger).start() {
		clientLogger.Info("WebSocket connection established")
	}
}
