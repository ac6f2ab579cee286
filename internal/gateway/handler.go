package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/voteroom/internal/events"
)

// HandleWS upgrades an HTTP request to a WebSocket connection. Identity is
// self-reported per request; the upgrade itself needs no parameters.
func (s *Service) HandleWS(w http.ResponseWriter, r *http.Request) {
	if _, err := s.manager.UpgradeConnection(w, r); err != nil {
		log.Error().Err(err).Str("remote", r.RemoteAddr).Msg("failed to upgrade WebSocket connection")
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
	}
}

// handleRoomState serves a read-only JSON snapshot of a live room
func (s *Service) handleRoomState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	code := strings.TrimPrefix(r.URL.Path, "/api/rooms/")
	if code == "" || strings.Contains(code, "/") {
		http.Error(w, "room code is required", http.StatusBadRequest)
		return
	}

	rm, ok := s.registry.Get(code)
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(events.RoomStateOf(rm)); err != nil {
		log.Error().Err(err).Str("room_code", rm.Code).Msg("failed to encode room state")
	}
}

// RegisterRoutes registers the WebSocket and room state routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.HandleWS)
	mux.HandleFunc("/api/rooms/", s.handleRoomState)
	log.Info().Msg("gateway routes registered")
}

// Stats returns statistics about active connections
func (s *Service) Stats() map[string]int {
	return s.manager.Stats()
}
