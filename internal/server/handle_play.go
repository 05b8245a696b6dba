package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/femildignizant/tambola/internal/game"
	"github.com/femildignizant/tambola/internal/tambola"
)

type CallNumberResponse struct {
	Number    int       `json:"number,omitempty"`
	Sequence  int       `json:"sequence"`
	Remaining int       `json:"remaining"`
	Timestamp time.Time `json:"timestamp"`
	Ended     bool      `json:"ended"`
}

type ClaimRequest struct {
	Pattern string `json:"pattern"`
}

type ClaimResult struct {
	Claim           ClaimResponse `json:"claim"`
	VerifiedNumbers []int         `json:"verifiedNumbers"`
	GameEnded       bool          `json:"gameEnded"`
}

type EndResponse struct {
	GameID      string             `json:"gameId"`
	Status      tambola.GameStatus `json:"status"`
	Reason      tambola.EndReason  `json:"reason"`
	CompletedAt time.Time          `json:"completedAt"`
}

// MarkRequest toggles one number on the caller's ticket. Action is MARK or
// UNMARK.
type MarkRequest struct {
	Number int    `json:"number"`
	Action string `json:"action"`
}

type MarkResponse struct {
	MarkedNumbers []int `json:"markedNumbers"`
}

type PatternClaims struct {
	Pattern tambola.Pattern `json:"pattern"`
	Claims  []ClaimResponse `json:"claims"`
}

type ClaimsResponse struct {
	Patterns []PatternClaims `json:"patterns"`
}

type StateResponse struct {
	Game          GameResponse       `json:"game"`
	CalledNumbers []int              `json:"calledNumbers"`
	LastNumber    *int               `json:"lastNumber"`
	Patterns      []PatternConfig    `json:"patterns"`
	Claims        []ClaimResponse    `json:"claims"`
	Leaderboard   []LeaderboardEntry `json:"leaderboard"`
	Players       []PlayerResponse   `json:"players"`
	IsHost        bool               `json:"isHost"`
	Player        *PlayerResponse    `json:"player,omitempty"`
	Ticket        *TicketResponse    `json:"ticket,omitempty"`
}

type VerifyPlayerResponse struct {
	Player PlayerResponse `json:"player"`
	GameID string         `json:"gameId"`
}

func handleCallNumber(logger *slog.Logger, svc *game.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.Advance(r.Context(), chi.URLParam(r, "gameID"))
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, CallNumberResponse{
			Number:    res.Number,
			Sequence:  res.Sequence,
			Remaining: res.Remaining,
			Timestamp: res.Timestamp,
			Ended:     res.Ended,
		})
	}
}

func handleClaim(logger *slog.Logger, svc *game.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ClaimRequest
		if err := readJSON(r, &req); err != nil {
			writeCodeError(w, http.StatusBadRequest, tambola.CodeInvalidInput, "invalid request body")
			return
		}
		p, err := tambola.ParsePattern(req.Pattern)
		if err != nil {
			writeCodeError(w, http.StatusBadRequest, tambola.CodeInvalidInput, err.Error())
			return
		}

		res, err := svc.Claim(r.Context(), chi.URLParam(r, "gameID"), playerFrom(r).ID, p)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, ClaimResult{
			Claim:           toClaim(res.Claim),
			VerifiedNumbers: res.VerifiedNumbers,
			GameEnded:       res.GameEnded,
		})
	}
}

func handleEnd(logger *slog.Logger, svc *game.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gameID := chi.URLParam(r, "gameID")
		completedAt, err := svc.ForceStop(r.Context(), hostFrom(r), gameID)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, EndResponse{
			GameID:      gameID,
			Status:      tambola.StatusCompleted,
			Reason:      tambola.EndForceStop,
			CompletedAt: completedAt,
		})
	}
}

func handleMark(logger *slog.Logger, svc *game.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MarkRequest
		if err := readJSON(r, &req); err != nil {
			writeCodeError(w, http.StatusBadRequest, tambola.CodeInvalidInput, "invalid request body")
			return
		}

		var mark bool
		switch req.Action {
		case "MARK":
			mark = true
		case "UNMARK":
		default:
			writeCodeError(w, http.StatusBadRequest, tambola.CodeInvalidInput, "action must be MARK or UNMARK")
			return
		}

		marked, err := svc.Mark(r.Context(), chi.URLParam(r, "gameID"), playerFrom(r).ID, req.Number, mark)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		if marked == nil {
			marked = []int{}
		}
		writeJSON(w, http.StatusOK, MarkResponse{MarkedNumbers: marked})
	}
}

func handleClaims(logger *slog.Logger, svc *game.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := svc.ClaimsByPattern(r.Context(), chi.URLParam(r, "gameID"))
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		// claims arrive ordered by pattern, then rank.
		resp := ClaimsResponse{Patterns: []PatternClaims{}}
		for _, c := range claims {
			n := len(resp.Patterns)
			if n == 0 || resp.Patterns[n-1].Pattern != c.Pattern {
				resp.Patterns = append(resp.Patterns, PatternClaims{Pattern: c.Pattern})
				n++
			}
			resp.Patterns[n-1].Claims = append(resp.Patterns[n-1].Claims, toClaim(c))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleState(logger *slog.Logger, svc *game.Service, tokens *HostTokens) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hostID, _ := hostFromRequest(r, tokens)

		st, err := svc.State(r.Context(), chi.URLParam(r, "gameID"), hostID, bearerToken(r))
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		resp := StateResponse{
			Game:        toGame(st.Game),
			Patterns:    toPatterns(st.Patterns),
			Claims:      toClaims(st.Claims),
			Leaderboard: toLeaderboard(st.Leaderboard),
			Players:     make([]PlayerResponse, 0, len(st.Players)),
			IsHost:      st.IsHost,
		}
		resp.CalledNumbers = resp.Game.CalledNumbers
		if n := st.Game.LastNumber(); n != 0 {
			resp.LastNumber = &n
		}
		for _, p := range st.Players {
			resp.Players = append(resp.Players, toPlayer(p))
		}
		if st.Player != nil {
			p := toPlayer(*st.Player)
			resp.Player = &p
		}
		if st.Ticket != nil {
			t := toTicket(*st.Ticket)
			resp.Ticket = &t
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleVerifyPlayer(logger *slog.Logger, svc *game.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gameID := chi.URLParam(r, "gameID")
		if _, err := svc.Game(r.Context(), gameID); err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		p := playerFrom(r)
		if p.GameID != gameID {
			writeCodeError(w, http.StatusForbidden, tambola.CodePlayerNotFound, "player is not in this game")
			return
		}
		writeJSON(w, http.StatusOK, VerifyPlayerResponse{Player: toPlayer(p), GameID: gameID})
	}
}
