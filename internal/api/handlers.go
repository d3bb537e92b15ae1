package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/game-lobby/internal/auth"
	"github.com/game-lobby/internal/game"
	"github.com/game-lobby/internal/kafka"
	"github.com/game-lobby/internal/lifecycle"
	"github.com/game-lobby/internal/lobby"
	"github.com/game-lobby/internal/storage"
)

// Archive is the durable record of past games
type Archive interface {
	GetGame(ctx context.Context, id string) (*storage.ArchivedGame, []game.Entry, error)
	GetLeaderboard(ctx context.Context, gameType game.Type, limit int) ([]storage.LeaderboardEntry, error)
	GetPlayerStats(ctx context.Context, address string) (*storage.PlayerStats, error)
	GetAnalytics(ctx context.Context, now time.Time) (*storage.GameAnalytics, error)
}

// Connections reports the number of open websocket connections
type Connections interface {
	Count() int
}

// Handlers holds API handler dependencies
type Handlers struct {
	archive   Archive
	lifecycle *lifecycle.Manager
	lobby     *lobby.Manager
	conns     Connections
	producer  *kafka.Producer
	consumer  *kafka.Consumer
	now       func() time.Time
}

// NewHandlers creates a new API handlers instance. archive and consumer may be nil.
func NewHandlers(archive Archive, lc *lifecycle.Manager, lobbyManager *lobby.Manager, conns Connections, producer *kafka.Producer, consumer *kafka.Consumer) *Handlers {
	return &Handlers{
		archive:   archive,
		lifecycle: lc,
		lobby:     lobbyManager,
		conns:     conns,
		producer:  producer,
		consumer:  consumer,
		now:       time.Now,
	}
}

// RegisterRoutes registers API routes
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/status", h.GetStatus)
	r.Get("/lobby", h.GetLobby)
	r.Get("/games/{id}", h.GetGame)
	r.Get("/games/{id}/history", h.GetHistory)
	r.Get("/leaderboard", h.GetLeaderboard)
	r.Get("/players/{address}", h.GetPlayer)
	r.Get("/analytics", h.GetAnalytics)
}

// GetStatus returns server status
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]any{
		"status":         "ok",
		"games":          h.lifecycle.GameCount(),
		"connections":    h.conns.Count(),
		"kafkaEnabled":   h.producer.IsEnabled(),
		"archiveEnabled": h.archive != nil,
	})
}

// GetLobby returns the lobby snapshot
func (h *Handlers) GetLobby(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, h.lobby.Snapshot())
}

// GetGame returns a live game, falling back to the archive
func (h *Handlers) GetGame(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if v, err := h.lifecycle.Game(id); err == nil {
		respondJSON(w, v)
		return
	}
	if h.archive == nil {
		respondError(w, game.ErrGameNotFound)
		return
	}

	archived, _, err := h.archive.GetGame(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, archived)
}

// HistoryResponse is a game's replayable history with its integrity check.
// BrokenAt is the first entry whose hash does not chain, -1 when intact.
type HistoryResponse struct {
	Game     string       `json:"game"`
	Entries  []game.Entry `json:"entries"`
	Verified bool         `json:"verified"`
	BrokenAt int          `json:"brokenAt"`
}

// GetHistory returns a game's history and verifies its hash chain
func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	entries, err := h.lifecycle.History(id)
	if err != nil && h.archive != nil && game.KindOf(err) == game.KindNotFound {
		_, entries, err = h.archive.GetGame(r.Context(), id)
	}
	if err != nil {
		respondError(w, err)
		return
	}
	if entries == nil {
		entries = []game.Entry{}
	}

	broken := game.VerifyChain(entries)
	respondJSON(w, HistoryResponse{Game: id, Entries: entries, Verified: broken < 0, BrokenAt: broken})
}

// GetLeaderboard returns the rankings from the archive, or the in-memory boards
// when no archive is configured
func (h *Handlers) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	gameType := game.Type(r.URL.Query().Get("gameType"))
	if gameType != "" && !gameType.Valid() {
		respondError(w, game.Validationf("unknown game type %q", gameType))
		return
	}

	if h.archive == nil {
		if gameType == "" {
			respondJSON(w, h.lobby.Leaderboards())
			return
		}
		respondJSON(w, h.lobby.Leaderboard(gameType))
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > lobby.LeaderboardSize {
			respondError(w, game.Validationf("limit must be between 1 and %d", lobby.LeaderboardSize))
			return
		}
		limit = n
	}

	entries, err := h.archive.GetLeaderboard(r.Context(), gameType, limit)
	if err != nil {
		log.Error().Err(err).Msg("load leaderboard")
		http.Error(w, "Failed to get leaderboard", http.StatusInternalServerError)
		return
	}
	respondJSON(w, entries)
}

// GetPlayer returns a player's live record and archived statistics
func (h *Handlers) GetPlayer(w http.ResponseWriter, r *http.Request) {
	address := auth.NormalizeAddress(chi.URLParam(r, "address"))

	response := map[string]any{"address": address}
	found := false
	if p, err := h.lifecycle.Player(address); err == nil {
		response["player"] = p
		found = true
	}
	if h.archive != nil {
		stats, err := h.archive.GetPlayerStats(r.Context(), address)
		if err != nil {
			log.Error().Err(err).Str("address", address).Msg("load player stats")
			http.Error(w, "Failed to get player stats", http.StatusInternalServerError)
			return
		}
		response["archive"] = stats
		found = found || stats.TotalGames > 0
	}
	if !found {
		respondError(w, game.ErrPlayerNotFound)
		return
	}
	respondJSON(w, response)
}

// GetAnalytics returns game analytics
func (h *Handlers) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"realtime": map[string]any{
			"games":        h.lifecycle.GameCount(),
			"connections":  h.conns.Count(),
			"lobby":        h.lobby.Snapshot().ProtocolStats,
			"kafkaEnabled": h.producer.IsEnabled(),
		},
	}

	if h.archive != nil {
		dbAnalytics, err := h.archive.GetAnalytics(r.Context(), h.now())
		if err != nil {
			log.Error().Err(err).Msg("load analytics")
			http.Error(w, "Failed to get analytics", http.StatusInternalServerError)
			return
		}
		response["database"] = dbAnalytics
	}

	if h.consumer != nil {
		response["kafka"] = map[string]any{
			"avgGameDuration":    h.consumer.GetAverageGameDuration(),
			"mostFrequentWinner": h.consumer.GetMostFrequentWinner(),
			"gamesPerHour":       h.consumer.GetGamesPerHour(h.now()),
			"metrics":            h.consumer.GetMetrics(),
		}
	}

	respondJSON(w, response)
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn().Err(err).Msg("write response")
	}
}

// respondError maps an error kind to its HTTP status
func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch game.KindOf(err) {
	case game.KindNotFound:
		status = http.StatusNotFound
	case game.KindValidation:
		status = http.StatusBadRequest
	case game.KindAuthentication:
		status = http.StatusUnauthorized
	case game.KindState:
		status = http.StatusConflict
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("api request failed")
		msg = "internal error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
