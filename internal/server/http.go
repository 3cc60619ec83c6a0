package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zeusync/scenesync/internal/auth"
	"github.com/zeusync/scenesync/internal/core/observability/log"
	"github.com/zeusync/scenesync/internal/core/protocol"
	"github.com/zeusync/scenesync/internal/core/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/scenes/{id}", s.handleScene)
	r.Get("/ws", s.handleWebSocket)
	return r
}

type sceneResponse struct {
	ID        string          `json:"id"`
	Canvas    json.RawMessage `json:"canvas"`
	Title     string          `json:"title,omitempty"`
	Revision  uint64          `json:"revision"`
	CreatedAt int64           `json:"createdAt,omitempty"`
	UpdatedAt int64           `json:"updatedAt,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := s.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"clients":       stats.Clients,
		"subscriptions": stats.Subscriptions,
	})
}

func (s *Server) handleScene(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.authorize(r, id); !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	rec, err := s.store.Get(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "scene not found", http.StatusNotFound)
		return
	case err != nil:
		s.logger.Error("Failed to load scene", log.String("scene_id", id), log.Error(err))
		http.Error(w, "failed to load scene", http.StatusInternalServerError)
		return
	}

	resp := sceneResponse{
		ID:       rec.SceneID,
		Canvas:   rec.Canvas,
		Title:    rec.Title,
		Revision: rec.Revision,
	}
	if !rec.CreatedAt.IsZero() {
		resp.CreatedAt = rec.CreatedAt.UnixMilli()
	}
	if !rec.UpdatedAt.IsZero() {
		resp.UpdatedAt = rec.UpdatedAt.UnixMilli()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.authorize(r, "")
	if !ok {
		atomic.AddInt64(&s.rejected, 1)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", log.Error(err))
		return
	}

	cs := newClientSession(s, protocol.NewConn(ws, s.config.Conn), claims)
	if !s.register(cs) {
		s.logger.Warn("Maximum clients reached, rejecting connection",
			log.String("remote_addr", ws.RemoteAddr().String()))
		_ = cs.conn.WriteFrame(protocol.Frame{
			Op:        protocol.OpError,
			RequestID: "connect",
			Error:     &protocol.Error{Code: protocol.ErrorCodeConnectionClosed, Message: ErrMaxClientsReached.Error()},
		})
		_ = cs.conn.Close()
		return
	}

	cs.serve()
}

// authorize checks the ?token= query parameter when a secret is configured.
// Without a secret every request is allowed and claims are nil.
func (s *Server) authorize(r *http.Request, sceneID string) (*auth.Claims, bool) {
	if s.config.JWTSecret == "" {
		return nil, true
	}
	claims, err := auth.Verify([]byte(s.config.JWTSecret), r.URL.Query().Get("token"))
	if err != nil {
		s.logger.Debug("Rejected token", log.String("remote_addr", r.RemoteAddr), log.Error(err))
		return nil, false
	}
	if sceneID != "" && !claims.Allows(sceneID) {
		return nil, false
	}
	return claims, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
