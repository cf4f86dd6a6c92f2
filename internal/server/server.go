// Package server is the pulsefeed development push server: it serves the
// REST resync endpoints and fans like/notification changes out over
// WebSocket channels. It exists so the client subsystem can be exercised
// end to end in tests and demos; it is not a production fan-out tier.
package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pulsefeed/pulsefeed/internal/feed"
)

type Server struct {
	store          *Store
	hub            *Hub
	authToken      string
	allowedOrigins map[string]bool
}

func NewServer(store *Store, hub *Hub, authToken string, allowedOrigins []string) *Server {
	s := &Server{
		store:          store,
		hub:            hub,
		authToken:      authToken,
		allowedOrigins: make(map[string]bool),
	}
	for _, origin := range allowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			s.allowedOrigins[trimmed] = true
		}
	}
	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/likes", s.handleLikes)
	mux.HandleFunc("/api/notifications", s.handleNotifications)
	mux.HandleFunc("/api/session", s.handleSession)
	mux.HandleFunc("/api/chaos", s.handleChaos)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}

	log.Printf("channel client connected: %s", r.RemoteAddr)
	c := s.hub.Add(conn)

	go func() {
		defer func() {
			s.hub.Remove(c)
			log.Printf("channel client disconnected: %s", r.RemoteAddr)
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env feed.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				continue
			}
			if env.Type != feed.MsgSubscribe {
				continue
			}
			var p feed.SubscribePayload
			if json.Unmarshal(env.Payload, &p) != nil || p.Topic == "" {
				continue
			}
			s.hub.Subscribe(c, p.Topic)
		}
	}()
}

// handleLikes serves GET ?target= and accepts POST {targetId, actorId} /
// DELETE ?target=&id=, broadcasting the change to topic subscribers.
func (s *Server) handleLikes(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		target := r.URL.Query().Get("target")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.store.Likes(target))

	case http.MethodPost:
		var row feed.LikeRow
		if err := json.NewDecoder(r.Body).Decode(&row); err != nil || row.TargetID == "" {
			http.Error(w, "invalid like", http.StatusBadRequest)
			return
		}
		if row.ID == "" {
			row.ID = fmt.Sprintf("like-%d", time.Now().UnixNano())
		}
		if row.CreatedAt.IsZero() {
			row.CreatedAt = time.Now()
		}
		s.store.AddLike(row)
		s.hub.BroadcastChange(likeTopic(row.TargetID), feed.EventInsert, row)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(row)

	case http.MethodDelete:
		target := r.URL.Query().Get("target")
		id := r.URL.Query().Get("id")
		row, ok := s.store.RemoveLike(target, id)
		if !ok {
			http.Error(w, "like not found", http.StatusNotFound)
			return
		}
		s.hub.BroadcastChange(likeTopic(target), feed.EventRemove, row)
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		recipient := r.URL.Query().Get("recipient")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.store.Notifications(recipient))

	case http.MethodPost:
		var row feed.NotificationRow
		if err := json.NewDecoder(r.Body).Decode(&row); err != nil || row.RecipientID == "" {
			http.Error(w, "invalid notification", http.StatusBadRequest)
			return
		}
		if row.ID == "" {
			row.ID = fmt.Sprintf("notif-%d", time.Now().UnixNano())
		}
		if row.CreatedAt.IsZero() {
			row.CreatedAt = time.Now()
		}
		s.store.AddNotification(row)
		s.hub.BroadcastChange(activityTopic(row.RecipientID), feed.EventInsert, row)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(row)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSession is the readiness probe: 204 when the presented credential is
// acceptable, 401 otherwise.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleChaos pushes an arbitrary status string to a topic's subscribers so
// the client's failure/fallback paths can be exercised on a live setup.
func (s *Server) handleChaos(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Topic  string `json:"topic"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Topic == "" || req.Status == "" {
		http.Error(w, "invalid chaos request", http.StatusBadRequest)
		return
	}
	log.Printf("chaos: pushing status %q to %s", req.Status, req.Topic)
	s.hub.BroadcastStatus(req.Topic, req.Status)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	if r.URL.Query().Get("token") == s.authToken {
		return true
	}
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(s.allowedOrigins) > 0 {
		return s.allowedOrigins[origin]
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := parsed.Host
	if host == r.Host {
		return true
	}
	for _, local := range []string{"localhost", "127.0.0.1", "::1"} {
		if host == local || strings.HasPrefix(host, local+":") || strings.HasPrefix(host, "["+local+"]:") {
			return true
		}
	}
	return false
}

func likeTopic(targetID string) string {
	return feed.Target{Type: feed.TargetPost, ID: targetID}.Topic()
}

func activityTopic(recipientID string) string {
	return feed.Target{Type: feed.TargetActivity, ID: recipientID}.Topic()
}

func ListenAndServe(host string, port int, mux *http.ServeMux) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Printf("pulsefeedd listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}
