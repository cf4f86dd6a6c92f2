package server

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/pulsefeed/pulsefeed/internal/feed"
)

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.Mutex
	topics map[string]bool
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn:   conn,
		send:   make(chan []byte, 64),
		topics: make(map[string]bool),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

func (c *client) subscribe(topic string) {
	c.mu.Lock()
	c.topics[topic] = true
	c.mu.Unlock()
}

func (c *client) subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topics[topic]
}

// Hub tracks connected channel clients and fans events out to the ones
// subscribed to each topic.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]bool)}
}

func (h *Hub) Add(conn *websocket.Conn) *client {
	c := newClient(conn)
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	return c
}

func (h *Hub) Remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

// Subscribe attaches a client to a topic and acknowledges with a
// "subscribed" status on that client only.
func (h *Hub) Subscribe(c *client, topic string) {
	c.subscribe(topic)
	data, err := feed.Marshal(feed.MsgStatus, feed.StatusPayload{Topic: topic, Status: feed.StatusSubscribed})
	if err != nil {
		return
	}
	h.deliver(c, data)
}

// BroadcastChange sends one row change to every subscriber of the topic.
func (h *Hub) BroadcastChange(topic string, kind feed.EventKind, row any) {
	raw, err := json.Marshal(row)
	if err != nil {
		log.Printf("change marshal error: %v", err)
		return
	}
	data, err := feed.Marshal(feed.MsgChange, feed.ChangePayload{Topic: topic, Kind: kind, Row: raw})
	if err != nil {
		return
	}
	h.broadcast(topic, data)
}

// BroadcastStatus pushes a raw status string to every subscriber of the
// topic. The chaos endpoint uses it to exercise client failure handling.
func (h *Hub) BroadcastStatus(topic, status string) {
	data, err := feed.Marshal(feed.MsgStatus, feed.StatusPayload{Topic: topic, Status: status})
	if err != nil {
		return
	}
	h.broadcast(topic, data)
}

func (h *Hub) broadcast(topic string, data []byte) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if c.subscribed(topic) {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.deliver(c, data)
	}
}

func (h *Hub) deliver(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		// Client can't keep up, disconnect it
		log.Printf("ws client too slow, disconnecting")
		h.Remove(c)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
