package app

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"counselhub/api/internal/auth"
	"counselhub/api/internal/chat"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS policy is enforced by the HTTP middleware
	},
}

// handleMessagesWS streams the full merged message list for one
// conversation: once on connect and again after every change on either
// directional path.
func (s *HTTPServer) handleMessagesWS(w http.ResponseWriter, r *http.Request, actor auth.Actor) {
	other, ok := withParam(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade: %v", err)
		return
	}

	cancel, err := s.service.SubscribeMessages(r.Context(), actor, other, func(messages []chat.Message) {
		if messages == nil {
			messages = []chat.Message{}
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(map[string]any{"messages": messages}); err != nil {
			log.Printf("ws: write messages for %s: %v", actor.Name, err)
		}
	})
	if err != nil {
		log.Printf("ws: subscribe messages for %s: %v", actor.Name, err)
		_ = conn.Close()
		return
	}

	s.drainUntilClosed(conn, cancel)
}

// handleUnreadWS streams the actor's unread-count map across all of their
// resolved participants.
func (s *HTTPServer) handleUnreadWS(w http.ResponseWriter, r *http.Request, actor auth.Actor) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade: %v", err)
		return
	}

	cancel, err := s.service.SubscribeUnreadCounts(r.Context(), actor, func(counts map[string]int) {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(map[string]any{"counts": counts}); err != nil {
			log.Printf("ws: write counts for %s: %v", actor.Name, err)
		}
	})
	if err != nil {
		log.Printf("ws: subscribe counts for %s: %v", actor.Name, err)
		_ = conn.Close()
		return
	}

	s.drainUntilClosed(conn, cancel)
}

// drainUntilClosed consumes client frames until the peer goes away, then
// releases the store watches. The cancel must always run; a dangling
// watch is a resource leak.
func (s *HTTPServer) drainUntilClosed(conn *websocket.Conn, cancel func()) {
	defer cancel()
	defer conn.Close()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
