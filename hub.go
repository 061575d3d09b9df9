// FILE: hub.go
// Package main – Websocket fan-out for live decisions and status.
//
// One Hub instance broadcasts every Decision (and periodic status frames)
// to all connected /ws clients. Write deadlines and ping/pong keepalives
// drop dead clients instead of blocking the broadcaster.
package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub tracks websocket clients and broadcasts JSON frames to them.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	logs    *LogRing
}

func NewHub(logs *LogRing) *Hub {
	return &Hub{clients: make(map[*websocket.Conn]bool), logs: logs}
}

// ServeWS upgrades a request and registers the client. Reads are drained
// only to service pong frames; clients are write-only consumers.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logs.Warnf("ws upgrade failed: %v", err)
		return
	}
	h.mu.Lock()
	h.clients[conn] = true
	n := len(h.clients)
	h.mu.Unlock()
	h.logs.Infof("[WS] client connected (%d total)", n)

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	go h.pingLoop(conn)
	go h.readLoop(conn)
}

func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.drop(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) pingLoop(conn *websocket.Conn) {
	t := time.NewTicker(wsPingPeriod)
	defer t.Stop()
	for range t.C {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			h.drop(conn)
			return
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	h.mu.Unlock()
}

// Broadcast marshals v and writes it to every client, dropping any client
// whose write fails or times out.
func (h *Hub) Broadcast(kind string, v any) {
	frame, err := json.Marshal(map[string]any{"type": kind, "data": v})
	if err != nil {
		return
	}
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := c.WriteMessage(websocket.TextMessage, frame); err != nil {
			h.drop(c)
		}
	}
}
