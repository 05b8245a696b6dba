package server

import (
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/swaggest/swgui/v5emb"

	"github.com/femildignizant/tambola/internal/handler/stream"
)

func addRoutes(r chi.Router, logger *slog.Logger, deps Deps) {
	svc := deps.Games

	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", v5emb.New("Tambola API", "/openapi.json", "/docs"))

	// Host accounts.
	r.Post("/api/hosts/register", handleRegister(logger, svc, deps.Tokens))
	r.Post("/api/hosts/login", handleLogin(logger, svc, deps.Tokens))
	r.Post("/api/hosts/logout", handleLogout())
	r.With(hostAuthMiddleware(deps.Tokens)).Get("/api/hosts/me", handleMe(logger, svc))

	r.Get("/api/presets", handlePresets(svc))

	r.Route("/api/games", func(r chi.Router) {
		r.Post("/lookup", handleLookup(logger, svc))

		// Host routes.
		r.Group(func(r chi.Router) {
			r.Use(hostAuthMiddleware(deps.Tokens))
			r.Get("/", handleListGames(logger, svc))
			r.Post("/", handleCreateGame(logger, svc))
			r.Get("/history", handleHistory(logger, svc))
			r.Patch("/{gameID}", handleUpdateSettings(logger, svc))
			r.Put("/{gameID}/patterns", handleReplacePatterns(logger, svc))
			r.Post("/{gameID}/start", handleStart(logger, svc))
			r.Post("/{gameID}/end", handleEnd(logger, svc))
		})

		// Player routes.
		r.Group(func(r chi.Router) {
			r.Use(playerAuthMiddleware(svc))
			r.Post("/{gameID}/claim", handleClaim(logger, svc))
			r.Post("/{gameID}/ticket/mark", handleMark(logger, svc))
			r.Get("/{gameID}/verify-player", handleVerifyPlayer(logger, svc))
		})

		r.Post("/{gameID}/join", handleJoin(logger, svc))
		r.Post("/{gameID}/call-number", handleCallNumber(logger, svc))
		r.Get("/{gameID}/patterns", handlePatterns(logger, svc))
		r.Get("/{gameID}/claims", handleClaims(logger, svc))
		r.Get("/{gameID}/state", handleState(logger, svc, deps.Tokens))
		r.Get("/{gameID}/events", handleEvents(logger, svc, deps.Events))
		r.Mount("/{gameID}/ws", stream.NewHandler(logger, deps.Events, svc).Routes())
	})

	if deps.StaticDir != "" {
		if info, err := os.Stat(deps.StaticDir); err == nil && info.IsDir() {
			logger.Info("serving web client", "dir", deps.StaticDir)
			r.NotFound(handleSPA(deps.StaticDir))
		}
	}
}
