package server

import (
	"context"
	"net/http"

	"github.com/femildignizant/tambola/internal/game"
	"github.com/femildignizant/tambola/internal/tambola"
)

type ctxKey int

const (
	ctxKeyHost ctxKey = iota
	ctxKeyPlayer
)

func hostAuthMiddleware(tokens *HostTokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hostID, err := hostFromRequest(r, tokens)
			if err != nil {
				writeCodeError(w, http.StatusUnauthorized, tambola.CodeUnauthorized, "not authenticated")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyHost, hostID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// playerAuthMiddleware resolves the player session from the bearer token.
func playerAuthMiddleware(svc *game.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeCodeError(w, http.StatusUnauthorized, tambola.CodeUnauthorized, "player token required")
				return
			}

			p, err := svc.PlayerByToken(r.Context(), token)
			if err != nil {
				if tambola.CodeOf(err) == tambola.CodeUnauthorized {
					writeCodeError(w, http.StatusUnauthorized, tambola.CodeUnauthorized, "invalid session token")
					return
				}
				writeCodeError(w, http.StatusInternalServerError, tambola.CodeInternal, "internal error")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyPlayer, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func hostFrom(r *http.Request) string {
	return r.Context().Value(ctxKeyHost).(string)
}

func playerFrom(r *http.Request) tambola.Player {
	return r.Context().Value(ctxKeyPlayer).(tambola.Player)
}
