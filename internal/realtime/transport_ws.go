package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pulsefeed/pulsefeed/internal/feed"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

// WSTransport opens push channels over a WebSocket connection to the feed
// server. Each Open dials a fresh connection and attaches it to one topic.
type WSTransport struct {
	url    string
	token  string
	dialer *websocket.Dialer
}

// NewWSTransport creates a transport for the given WebSocket URL
// (e.g. "ws://127.0.0.1:8080/ws"). token may be empty.
func NewWSTransport(url, token string) *WSTransport {
	return &WSTransport{url: url, token: token, dialer: websocket.DefaultDialer}
}

// Open dials the server, sends the subscribe request for the target's topic,
// and starts the read and ping loops. Status and change callbacks fire from
// the read goroutine until Release is called or the connection dies.
func (t *WSTransport) Open(ctx context.Context, target feed.Target, onChange func(feed.Event), onStatus func(Status)) (Handle, error) {
	header := http.Header{}
	if t.token != "" {
		header.Set("Authorization", "Bearer "+t.token)
	}

	conn, _, err := t.dialer.DialContext(ctx, t.url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.url, err)
	}

	sub, err := feed.Marshal(feed.MsgSubscribe, feed.SubscribePayload{Topic: target.Topic()})
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe %s: %w", target.Topic(), err)
	}

	h := &wsHandle{conn: conn, done: make(chan struct{})}
	go h.readLoop(onChange, onStatus)
	go h.pingLoop()
	return h, nil
}

type wsHandle struct {
	conn    *websocket.Conn
	done    chan struct{}
	once    sync.Once
	writeMu sync.Mutex // serialises ping writes against future control writes
}

// Release closes the connection and stops both loops. Idempotent.
func (h *wsHandle) Release() {
	h.once.Do(func() {
		close(h.done)
		h.conn.Close()
	})
}

func (h *wsHandle) released() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *wsHandle) readLoop(onChange func(feed.Event), onStatus func(Status)) {
	h.conn.SetPongHandler(func(string) error {
		h.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		return nil
	})
	h.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))

	for {
		_, data, err := h.conn.ReadMessage()
		if err != nil {
			// A read error after Release is the expected close; anything
			// else is a dropped connection the orchestrator must hear about.
			if !h.released() {
				h.conn.Close()
				onStatus(Status{Kind: StatusFailure, Reason: feed.StatusClosed, Raw: err.Error()})
			}
			return
		}

		var env feed.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		switch env.Type {
		case feed.MsgStatus:
			var p feed.StatusPayload
			if json.Unmarshal(env.Payload, &p) == nil {
				onStatus(ParseStatus(p.Status))
			}
		case feed.MsgChange:
			var p feed.ChangePayload
			if json.Unmarshal(env.Payload, &p) == nil {
				onChange(feed.Event{Kind: p.Kind, Topic: p.Topic, Row: p.Row})
			}
		default:
			// Unknown message types are skipped for forward compatibility.
		}
	}
}

func (h *wsHandle) pingLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.writeMu.Lock()
			h.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			err := h.conn.WriteMessage(websocket.PingMessage, nil)
			h.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
