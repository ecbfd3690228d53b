package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"counselhub/api/internal/auth"
	"counselhub/api/internal/chat"
	"counselhub/api/internal/metrics"
	"counselhub/api/internal/roles"
)

type HTTPServer struct {
	service    *Service
	metrics    *metrics.Metrics
	corsOrigin string
}

func NewHTTPServer(service *Service, m *metrics.Metrics, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, metrics: m, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"store": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["store"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		s.metrics.Handler().ServeHTTP(w, r)
		return
	}

	// Everything under /api/chat acts on behalf of an authenticated actor.
	if strings.HasPrefix(r.URL.Path, "/api/chat/") {
		actor, err := s.service.Authenticate(requestToken(r))
		if err != nil {
			respondError(w, err)
			return
		}
		s.handleChat(w, r, actor)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleChat(w http.ResponseWriter, r *http.Request, actor auth.Actor) {
	if !roles.Can(actor.Role, roles.ActionChat) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Role may not use chat", nil)
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/chat/participants":
		participants := s.service.Participants(r.Context(), actor)
		writeJSON(w, http.StatusOK, map[string]any{"participants": participants})

	case r.Method == http.MethodPost && r.URL.Path == "/api/chat/messages":
		var input struct {
			Recipient string `json:"recipient"`
			Content   string `json:"content"`
		}
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION", err.Error(), nil)
			return
		}
		msg, err := s.service.SendMessage(r.Context(), actor, input.Recipient, input.Content)
		if err != nil {
			respondError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"message": msg})

	case r.Method == http.MethodGet && r.URL.Path == "/api/chat/messages":
		other, ok := withParam(w, r)
		if !ok {
			return
		}
		messages := s.service.Messages(r.Context(), actor, other)
		if messages == nil {
			messages = []chat.Message{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": messages})

	case r.Method == http.MethodGet && r.URL.Path == "/api/chat/messages/last":
		other, ok := withParam(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"content": s.service.LastMessage(r.Context(), actor, other)})

	case r.Method == http.MethodGet && r.URL.Path == "/api/chat/unread":
		other, ok := withParam(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"count": s.service.UnreadCount(r.Context(), actor, other)})

	case r.Method == http.MethodPost && r.URL.Path == "/api/chat/unread/reset":
		var input struct {
			With string `json:"with"`
		}
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION", err.Error(), nil)
			return
		}
		if strings.TrimSpace(input.With) == "" {
			writeError(w, http.StatusBadRequest, "VALIDATION", "Missing 'with' participant", nil)
			return
		}
		s.service.ResetUnread(r.Context(), actor, input.With)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case r.Method == http.MethodPost && r.URL.Path == "/api/chat/counts/init":
		participants := s.service.InitCounts(r.Context(), actor)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "participants": participants})

	case r.Method == http.MethodGet && r.URL.Path == "/api/chat/search":
		text := r.URL.Query().Get("q")
		if strings.TrimSpace(text) == "" {
			writeError(w, http.StatusBadRequest, "VALIDATION", "Missing query", nil)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, s.service.SearchMessages(r.Context(), actor, text, limit))

	case r.Method == http.MethodGet && r.URL.Path == "/api/chat/ws/messages":
		s.handleMessagesWS(w, r, actor)

	case r.Method == http.MethodGet && r.URL.Path == "/api/chat/ws/unread":
		s.handleUnreadWS(w, r, actor)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func withParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	other := strings.TrimSpace(r.URL.Query().Get("with"))
	if other == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION", "Missing 'with' participant", nil)
		return "", false
	}
	return other, true
}

func respondError(w http.ResponseWriter, err error) {
	var domain *DomainError
	if errors.As(err, &domain) {
		writeError(w, domain.Status, domain.Code, domain.Message, domain.Details)
		return
	}
	writeError(w, http.StatusInternalServerError, "INTERNAL", "Internal error", nil)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, origin string) {
	header.Set("Access-Control-Allow-Origin", origin)
	header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
}

func randomRequestID() string {
	bytes := make([]byte, 8)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// requestToken pulls the actor token from the Authorization header, or
// from the token query parameter for WebSocket clients that cannot set
// headers.
func requestToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
