package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/femildignizant/tambola/internal/game"
	"github.com/femildignizant/tambola/internal/tambola"
)

type LookupRequest struct {
	Code string `json:"code"`
}

type LookupResponse struct {
	GameID      string             `json:"gameId"`
	Title       string             `json:"title"`
	Status      tambola.GameStatus `json:"status"`
	PlayerCount int                `json:"playerCount"`
	MaxPlayers  int                `json:"maxPlayers"`
}

type JoinRequest struct {
	Name string `json:"name"`
}

// JoinResponse carries the player's session token. Send it as a bearer
// token on player routes.
type JoinResponse struct {
	Player PlayerResponse `json:"player"`
	Ticket TicketResponse `json:"ticket"`
	Token  string         `json:"token"`
}

type StartResponse struct {
	GameID    string             `json:"gameId"`
	Status    tambola.GameStatus `json:"status"`
	StartedAt time.Time          `json:"startedAt"`
}

func handleLookup(logger *slog.Logger, svc *game.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LookupRequest
		if err := readJSON(r, &req); err != nil {
			writeCodeError(w, http.StatusBadRequest, tambola.CodeInvalidInput, "invalid request body")
			return
		}

		res, err := svc.Lookup(r.Context(), req.Code)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, LookupResponse{
			GameID:      res.Game.ID,
			Title:       res.Game.Title,
			Status:      res.Game.Status,
			PlayerCount: res.PlayerCount,
			MaxPlayers:  res.Game.MaxPlayers,
		})
	}
}

func handleJoin(logger *slog.Logger, svc *game.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req JoinRequest
		if err := readJSON(r, &req); err != nil {
			writeCodeError(w, http.StatusBadRequest, tambola.CodeInvalidInput, "invalid request body")
			return
		}

		res, err := svc.Join(r.Context(), chi.URLParam(r, "gameID"), req.Name)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, JoinResponse{
			Player: toPlayer(res.Player),
			Ticket: toTicket(res.Ticket),
			Token:  res.Player.Token,
		})
	}
}

func handleStart(logger *slog.Logger, svc *game.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gameID := chi.URLParam(r, "gameID")
		startedAt, err := svc.Start(r.Context(), hostFrom(r), gameID)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, StartResponse{
			GameID:    gameID,
			Status:    tambola.StatusStarted,
			StartedAt: startedAt,
		})
	}
}
