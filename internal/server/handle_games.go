package server

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/femildignizant/tambola/internal/game"
	"github.com/femildignizant/tambola/internal/tambola"
)

// CreateGameRequest is the request body for POST /api/games.
type CreateGameRequest struct {
	Title  string `json:"title"`
	Preset string `json:"preset,omitempty"`
}

// SettingsRequest is the request body for PATCH /api/games/{gameID}.
// Omitted fields keep their value.
type SettingsRequest struct {
	NumberInterval *int `json:"numberInterval,omitempty"`
	MinPlayers     *int `json:"minPlayers,omitempty"`
	MaxPlayers     *int `json:"maxPlayers,omitempty"`
}

// PatternsRequest replaces a game's patterns, either explicitly or from a
// named preset.
type PatternsRequest struct {
	Patterns []PatternConfig `json:"patterns,omitempty"`
	Preset   string          `json:"preset,omitempty"`
}

type PatternsResponse struct {
	Patterns []PatternConfig `json:"patterns"`
}

type Preset struct {
	Name     string          `json:"name"`
	Patterns []PatternConfig `json:"patterns"`
}

type HistoryItem struct {
	Game        GameResponse      `json:"game"`
	PlayerCount int               `json:"playerCount"`
	ClaimCount  int               `json:"claimCount"`
	Winner      *LeaderboardEntry `json:"winner,omitempty"`
}

func handleCreateGame(logger *slog.Logger, svc *game.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateGameRequest
		if err := readJSON(r, &req); err != nil {
			writeCodeError(w, http.StatusBadRequest, tambola.CodeInvalidInput, "invalid request body")
			return
		}

		g, err := svc.CreateGame(r.Context(), hostFrom(r), req.Title, req.Preset)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, toGame(g))
	}
}

func handleListGames(logger *slog.Logger, svc *game.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		games, err := svc.HostGames(r.Context(), hostFrom(r))
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		out := make([]GameSummaryResponse, 0, len(games))
		for _, g := range games {
			out = append(out, GameSummaryResponse{GameResponse: toGame(g.Game), PlayerCount: g.PlayerCount})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleUpdateSettings(logger *slog.Logger, svc *game.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SettingsRequest
		if err := readJSON(r, &req); err != nil {
			writeCodeError(w, http.StatusBadRequest, tambola.CodeInvalidInput, "invalid request body")
			return
		}

		g, err := svc.UpdateSettings(r.Context(), hostFrom(r), chi.URLParam(r, "gameID"), game.SettingsPatch{
			NumberInterval: req.NumberInterval,
			MinPlayers:     req.MinPlayers,
			MaxPlayers:     req.MaxPlayers,
		})
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toGame(g))
	}
}

func handleReplacePatterns(logger *slog.Logger, svc *game.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PatternsRequest
		if err := readJSON(r, &req); err != nil {
			writeCodeError(w, http.StatusBadRequest, tambola.CodeInvalidInput, "invalid request body")
			return
		}

		patterns := fromPatterns(req.Patterns)
		if req.Preset != "" {
			preset, ok := svc.Presets()[req.Preset]
			if !ok {
				writeCodeError(w, http.StatusBadRequest, tambola.CodeInvalidInput, "unknown preset "+req.Preset)
				return
			}
			patterns = preset
		}

		gameID := chi.URLParam(r, "gameID")
		if err := svc.ReplacePatterns(r.Context(), hostFrom(r), gameID, patterns); err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		stored, err := svc.Patterns(r.Context(), gameID)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, PatternsResponse{Patterns: toPatterns(stored)})
	}
}

func handlePatterns(logger *slog.Logger, svc *game.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patterns, err := svc.Patterns(r.Context(), chi.URLParam(r, "gameID"))
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, PatternsResponse{Patterns: toPatterns(patterns)})
	}
}

func handlePresets(svc *game.Service) http.HandlerFunc {
	presets := svc.Presets()
	out := make([]Preset, 0, len(presets))
	for name, patterns := range presets {
		out = append(out, Preset{Name: name, Patterns: toPatterns(patterns)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, out)
	}
}

func handleHistory(logger *slog.Logger, svc *game.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := svc.History(r.Context(), hostFrom(r))
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		out := make([]HistoryItem, 0, len(entries))
		for _, e := range entries {
			item := HistoryItem{Game: toGame(e.Game), PlayerCount: e.PlayerCount, ClaimCount: e.ClaimCount}
			if e.Winner != nil {
				winner := LeaderboardEntry(*e.Winner)
				item.Winner = &winner
			}
			out = append(out, item)
		}
		writeJSON(w, http.StatusOK, out)
	}
}
