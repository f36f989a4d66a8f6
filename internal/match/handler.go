// handler.go

package match

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/verdantlab/BotanyBattle-Server/internal/models"
	"github.com/verdantlab/BotanyBattle-Server/internal/rating"
)

// Handler exposes the matchmaking status API.
type Handler struct {
	service *Service
	store   rating.Store
}

// NewHandler creates the match HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// AttachStore wires the player store for the history endpoints.
func (h *Handler) AttachStore(store rating.Store) {
	h.store = store
}

// RegisterHandlers registers the match routes.
func (h *Handler) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/match/status", h.handleStatus)
	mux.HandleFunc("/players/ranks/", h.handleRankHistory)
}

// statusResponse reports the live matchmaking load.
type statusResponse struct {
	Success bool       `json:"success"`
	Message string     `json:"message"`
	Data    statusData `json:"data"`
}

type statusData struct {
	Queued         int `json:"queued"`
	OpenInvites    int `json:"open_invites"`
	ActiveSessions int `json:"active_sessions"`
}

// rankHistoryResponse lists a player's rank achievements.
type rankHistoryResponse struct {
	Success bool                     `json:"success"`
	Message string                   `json:"message"`
	Data    []models.RankAchievement `json:"data"`
}

// handleHealth serves GET /health.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "only GET is supported", http.StatusMethodNotAllowed)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// handleStatus serves GET /match/status.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "only GET is supported", http.StatusMethodNotAllowed)
		return
	}

	resp := statusResponse{
		Success: true,
		Message: "ok",
		Data: statusData{
			Queued:         h.service.QueueLength(),
			OpenInvites:    h.service.OpenInvites(),
			ActiveSessions: h.service.registry.ActiveCount(),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("encode response failed: %v", err)
	}
}

// handleRankHistory serves GET /players/ranks/{player_id}.
func (h *Handler) handleRankHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "only GET is supported", http.StatusMethodNotAllowed)
		return
	}
	if h.store == nil {
		http.Error(w, "history unavailable", http.StatusServiceUnavailable)
		return
	}

	playerID := r.URL.Path[len("/players/ranks/"):]
	if playerID == "" {
		http.Error(w, "missing player id", http.StatusBadRequest)
		return
	}

	if _, err := h.store.GetPlayer(r.Context(), playerID); err != nil {
		if errors.Is(err, rating.ErrPlayerNotFound) {
			http.Error(w, "player not found", http.StatusNotFound)
			return
		}
		log.Printf("rank history lookup failed: %v", err)
		http.Error(w, "history query failed", http.StatusInternalServerError)
		return
	}

	history, err := h.store.RankHistory(r.Context(), playerID)
	if err != nil {
		log.Printf("rank history query failed: %v", err)
		http.Error(w, "history query failed", http.StatusInternalServerError)
		return
	}

	resp := rankHistoryResponse{
		Success: true,
		Message: "ok",
		Data:    history,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("encode response failed: %v", err)
	}
}
