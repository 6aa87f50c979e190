package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/joaotav/malicious-network-agents/game"
	"github.com/joaotav/malicious-network-agents/protocol"
)

// GameView is the read-only slice of a game the observer needs.
type GameView interface {
	Roster() []protocol.AgentDescriptor
	Status() game.Status
}

// GameHandler serves the observer endpoints over a running game.
type GameHandler struct {
	game GameView
}

func NewGameHandler(g GameView) *GameHandler {
	return &GameHandler{game: g}
}

func (h *GameHandler) RegisterRoutes(r chi.Router) {
	r.Get("/roster", h.handleRoster)
	r.Get("/status", h.handleStatus)
}

func (h *GameHandler) handleRoster(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.game.Roster())
}

func (h *GameHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.game.Status())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding failed", http.StatusInternalServerError)
	}
}
