// handler.go

package leaderboard

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/verdantlab/BotanyBattle-Server/internal/models"
)

// Handler exposes the leaderboard query API.
type Handler struct {
	service *Service
}

// NewHandler creates the leaderboard HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterHandlers registers the leaderboard routes.
func (h *Handler) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/leaderboard", h.handleLeaderboard)
}

// LeaderboardResponse is the query API envelope.
type LeaderboardResponse struct {
	Success bool                      `json:"success"`
	Message string                    `json:"message"`
	Data    []models.LeaderboardEntry `json:"data"`
}

// handleLeaderboard serves GET /leaderboard?limit&offset.
func (h *Handler) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "only GET is supported", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	limit := 20
	offset := 0

	if limitStr := query.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= MaxPageSize {
			limit = l
		}
	}
	if offsetStr := query.Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	entries, err := h.service.GetLeaderboard(r.Context(), limit, offset)
	if err != nil {
		log.Printf("leaderboard query failed: %v", err)
		http.Error(w, "leaderboard query failed", http.StatusInternalServerError)
		return
	}

	resp := LeaderboardResponse{
		Success: true,
		Message: "ok",
		Data:    entries,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("encode response failed: %v", err)
	}
}
