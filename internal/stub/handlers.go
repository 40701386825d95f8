package stub

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/washline/washline/internal/models"
)

// upgrader upgrades HTTP connections to WebSocket
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow connections from any origin (CORS handled by middleware)
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleHealth handles GET /health
// Returns the server's health status for monitoring.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "washline stub backend is running",
	})
}

// handleConversation handles GET /api/messages/conversation/{customerID}/{adminID}/{shopID}
// Returns the conversation's full history in ascending chronological order.
func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")
	adminID := chi.URLParam(r, "adminID")
	shopID := chi.URLParam(r, "shopID")
	if customerID == "" || adminID == "" || shopID == "" {
		http.Error(w, "customer, admin and shop ids are required", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, s.store.Conversation(customerID, adminID, shopID))
}

// handleCreateMessage handles POST /api/messages
// Persists a message and returns the stored record with id and timestamp.
func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	var msg models.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(msg.Text) == "" {
		http.Error(w, "message_text is required", http.StatusBadRequest)
		return
	}

	stored := s.store.Append(msg)
	s.log.Info("stored message",
		slog.Int64("id", stored.ID),
		slog.String("room", models.MessageKey(stored)))
	writeJSON(w, http.StatusCreated, stored)
}

// handleShops handles GET /api/shop
// Returns the seeded counterparty directory.
func (s *Server) handleShops(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Shops())
}

// handleWS handles GET /ws
// Upgrades the connection and hands it to the relay hub.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	c := newClient(s.hub, conn)
	s.hub.register <- c

	go c.writePump()
	go c.readPump()
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
