package server

import (
	"log/slog"
	"net/http"

	"github.com/femildignizant/tambola/internal/game"
	"github.com/femildignizant/tambola/internal/tambola"
)

// RegisterRequest is the request body for POST /api/hosts/register.
type RegisterRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

// LoginRequest is the request body for POST /api/hosts/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is returned by register and login. Token is the same value
// set in the host_token cookie, for clients that prefer a bearer header.
type AuthResponse struct {
	Host  HostResponse `json:"host"`
	Token string       `json:"token"`
}

func handleRegister(logger *slog.Logger, svc *game.Service, tokens *HostTokens) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterRequest
		if err := readJSON(r, &req); err != nil {
			writeCodeError(w, http.StatusBadRequest, tambola.CodeInvalidInput, "invalid request body")
			return
		}

		h, err := svc.RegisterHost(r.Context(), req.Email, req.Name, req.Password)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		token, err := tokens.Issue(h.ID)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		tokens.setCookie(w, token)
		writeJSON(w, http.StatusCreated, AuthResponse{Host: toHost(h), Token: token})
	}
}

func handleLogin(logger *slog.Logger, svc *game.Service, tokens *HostTokens) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := readJSON(r, &req); err != nil {
			writeCodeError(w, http.StatusBadRequest, tambola.CodeInvalidInput, "invalid request body")
			return
		}

		h, err := svc.AuthenticateHost(r.Context(), req.Email, req.Password)
		if tambola.CodeOf(err) == tambola.CodeUnauthorized {
			writeCodeError(w, http.StatusUnauthorized, tambola.CodeUnauthorized, "invalid credentials")
			return
		}
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		token, err := tokens.Issue(h.ID)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		tokens.setCookie(w, token)
		writeJSON(w, http.StatusOK, AuthResponse{Host: toHost(h), Token: token})
	}
}

func handleLogout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clearHostCookie(w)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func handleMe(logger *slog.Logger, svc *game.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h, err := svc.Host(r.Context(), hostFrom(r))
		if tambola.CodeOf(err) == tambola.CodeUnauthorized {
			writeCodeError(w, http.StatusUnauthorized, tambola.CodeUnauthorized, "not authenticated")
			return
		}
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, toHost(h))
	}
}
