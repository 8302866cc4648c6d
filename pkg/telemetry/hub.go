// Package telemetry broadcasts rig state to WebSocket clients and accepts
// commands from them.
package telemetry

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gwillem/drillrig/pkg/drill"
)

// Sender queues commands for the control loop.
type Sender interface {
	Send(cmd drill.Command) bool
}

// Message is what clients receive for every state update.
type Message struct {
	drill.State
	Error string `json:"error,omitempty"`
}

// Request is what clients send to command the rig.
type Request struct {
	Command string `json:"command"`
}

// Reply answers a Request.
type Reply struct {
	Command  string `json:"command"`
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// Hub fans state updates out to connected clients.
type Hub struct {
	sender   Sender
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[int64]*client
	nextID  int64
}

// NewHub creates a hub. Commands from clients go to sender, which may be
// nil for a read-only hub.
func NewHub(sender Sender) *Hub {
	return &Hub{
		sender: sender,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[int64]*client),
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends s to every client.
func (h *Hub) Broadcast(s drill.State) {
	msg := Message{State: s}
	if s.Error != nil {
		msg.Error = s.Error.Error()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.send(msg)
	}
}

// Run broadcasts every state received on states until ctx is done.
func (h *Hub) Run(ctx context.Context, states <-chan drill.State) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-states:
			h.Broadcast(s)
		}
	}
}

// ServeHTTP upgrades the request to a WebSocket connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("telemetry: upgrade failed: %v", err)
		return
	}

	c := &client{
		id:     atomic.AddInt64(&h.nextID, 1),
		conn:   conn,
		hub:    h,
		sendCh: make(chan any, 16),
		done:   make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	go c.writePump()
	go c.readPump()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
}

func (h *Hub) handle(data []byte) Reply {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Reply{Error: "parse error"}
	}
	cmd, ok := drill.ParseCommand(req.Command)
	if !ok {
		return Reply{Command: req.Command, Error: "unknown command"}
	}
	if h.sender == nil {
		return Reply{Command: req.Command, Error: "read-only"}
	}
	if !h.sender.Send(cmd) {
		return Reply{Command: req.Command, Error: "command queue full"}
	}
	return Reply{Command: req.Command, Accepted: true}
}

type client struct {
	id     int64
	conn   *websocket.Conn
	hub    *Hub
	sendCh chan any
	done   chan struct{}
	once   sync.Once
}

func (c *client) send(msg any) {
	select {
	case c.sendCh <- msg:
	case <-c.done:
	default:
		// Drop if client is slow
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("telemetry: read error: %v", err)
			}
			return
		}
		c.send(c.hub.handle(data))
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
