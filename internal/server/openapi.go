package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"

	"github.com/femildignizant/tambola/internal/handler/health"
)

// gamePath documents the {gameID} URL parameter shared by the per-game routes.
type gamePath struct {
	GameID string `path:"gameID" description:"Game id."`
}

func newOpenAPISpec() (*openapi3.Spec, error) {
	r := openapi3.NewReflector()

	var errs []error
	add := func(oc openapi.OperationContext) {
		if err := r.AddOperation(oc); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", oc.Method(), oc.PathPattern(), err))
		}
	}

	r.Spec.Info.Title = "Tambola API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Real-time Tambola: hosts run games, players join with a code and race to claim prizes.")

	// GET /healthz
	getHealthz, _ := r.NewOperationContext(http.MethodGet, "/healthz")
	getHealthz.SetSummary("Health check")
	getHealthz.SetDescription("Returns the health status of the game store and the lock store.")
	getHealthz.AddRespStructure(health.Response{}, openapi.WithHTTPStatus(http.StatusOK))
	getHealthz.AddRespStructure(health.Response{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	add(getHealthz)

	// POST /api/hosts/register
	register, _ := r.NewOperationContext(http.MethodPost, "/api/hosts/register")
	register.SetSummary("Register host")
	register.SetDescription("Creates a host account and sets the host_token cookie.")
	register.AddReqStructure(RegisterRequest{})
	register.AddRespStructure(AuthResponse{}, openapi.WithHTTPStatus(http.StatusCreated))
	register.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	register.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	add(register)

	// POST /api/hosts/login
	login, _ := r.NewOperationContext(http.MethodPost, "/api/hosts/login")
	login.SetSummary("Host login")
	login.SetDescription("Authenticate with email and password. Sets the host_token cookie.")
	login.AddReqStructure(LoginRequest{})
	login.AddRespStructure(AuthResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	login.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	add(login)

	// POST /api/hosts/logout
	logout, _ := r.NewOperationContext(http.MethodPost, "/api/hosts/logout")
	logout.SetSummary("Host logout")
	logout.SetDescription("Clears the host_token cookie.")
	logout.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusOK))
	add(logout)

	// GET /api/hosts/me
	me, _ := r.NewOperationContext(http.MethodGet, "/api/hosts/me")
	me.SetSummary("Current host")
	me.SetDescription("Returns the authenticated host. Requires the host token.")
	me.AddRespStructure(HostResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	me.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	add(me)

	// GET /api/presets
	presets, _ := r.NewOperationContext(http.MethodGet, "/api/presets")
	presets.SetSummary("Pattern presets")
	presets.SetDescription("Named pattern configurations a game can be created or reconfigured from.")
	presets.AddRespStructure([]Preset{}, openapi.WithHTTPStatus(http.StatusOK))
	add(presets)

	// GET /api/games
	listGames, _ := r.NewOperationContext(http.MethodGet, "/api/games")
	listGames.SetSummary("List games")
	listGames.SetDescription("Returns the host's games, newest first. Requires the host token.")
	listGames.AddRespStructure([]GameSummaryResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	listGames.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	add(listGames)

	// POST /api/games
	createGame, _ := r.NewOperationContext(http.MethodPost, "/api/games")
	createGame.SetSummary("Create game")
	createGame.SetDescription("Creates a game in CONFIGURING with a fresh join code. Requires the host token.")
	createGame.AddReqStructure(CreateGameRequest{})
	createGame.AddRespStructure(GameResponse{}, openapi.WithHTTPStatus(http.StatusCreated))
	createGame.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	createGame.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	add(createGame)

	// GET /api/games/history
	history, _ := r.NewOperationContext(http.MethodGet, "/api/games/history")
	history.SetSummary("Game history")
	history.SetDescription("Returns the host's completed games with their top winner. Requires the host token.")
	history.AddRespStructure([]HistoryItem{}, openapi.WithHTTPStatus(http.StatusOK))
	history.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	add(history)

	// PATCH /api/games/{gameID}
	settings, _ := r.NewOperationContext(http.MethodPatch, "/api/games/{gameID}")
	settings.AddReqStructure(gamePath{})
	settings.SetSummary("Update settings")
	settings.SetDescription("Changes pacing and capacity before the game starts. Requires the host token.")
	settings.AddReqStructure(SettingsRequest{})
	settings.AddRespStructure(GameResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	settings.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	settings.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusForbidden))
	settings.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	add(settings)

	// GET /api/games/{gameID}/patterns
	getPatterns, _ := r.NewOperationContext(http.MethodGet, "/api/games/{gameID}/patterns")
	getPatterns.AddReqStructure(gamePath{})
	getPatterns.SetSummary("Get patterns")
	getPatterns.SetDescription("Returns the game's prize patterns.")
	getPatterns.AddRespStructure(PatternsResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	getPatterns.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	add(getPatterns)

	// PUT /api/games/{gameID}/patterns
	putPatterns, _ := r.NewOperationContext(http.MethodPut, "/api/games/{gameID}/patterns")
	putPatterns.AddReqStructure(gamePath{})
	putPatterns.SetSummary("Replace patterns")
	putPatterns.SetDescription("Replaces the game's prize patterns, explicitly or from a preset. FULL_HOUSE is required. Requires the host token.")
	putPatterns.AddReqStructure(PatternsRequest{})
	putPatterns.AddRespStructure(PatternsResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	putPatterns.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	putPatterns.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusForbidden))
	add(putPatterns)

	// POST /api/games/lookup
	lookup, _ := r.NewOperationContext(http.MethodPost, "/api/games/lookup")
	lookup.SetSummary("Look up game")
	lookup.SetDescription("Resolves a 6-character join code to a joinable game.")
	lookup.AddReqStructure(LookupRequest{})
	lookup.AddRespStructure(LookupResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	lookup.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	lookup.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	add(lookup)

	// POST /api/games/{gameID}/join
	join, _ := r.NewOperationContext(http.MethodPost, "/api/games/{gameID}/join")
	join.AddReqStructure(gamePath{})
	join.SetSummary("Join game")
	join.SetDescription("Adds a player with a fresh ticket. Returns the player's session token.")
	join.AddReqStructure(JoinRequest{})
	join.AddRespStructure(JoinResponse{}, openapi.WithHTTPStatus(http.StatusCreated))
	join.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	join.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	add(join)

	// POST /api/games/{gameID}/start
	start, _ := r.NewOperationContext(http.MethodPost, "/api/games/{gameID}/start")
	start.AddReqStructure(gamePath{})
	start.SetSummary("Start game")
	start.SetDescription("Starts the game once enough players joined. Requires the host token.")
	start.AddRespStructure(StartResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	start.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	start.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusForbidden))
	add(start)

	// POST /api/games/{gameID}/call-number
	callNumber, _ := r.NewOperationContext(http.MethodPost, "/api/games/{gameID}/call-number")
	callNumber.AddReqStructure(gamePath{})
	callNumber.SetSummary("Call next number")
	callNumber.SetDescription("Draws the next number of a started game. A concurrent caller gets 409 CONCURRENT_UPDATE.")
	callNumber.AddRespStructure(CallNumberResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	callNumber.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	callNumber.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	add(callNumber)

	// POST /api/games/{gameID}/claim
	claim, _ := r.NewOperationContext(http.MethodPost, "/api/games/{gameID}/claim")
	claim.AddReqStructure(gamePath{})
	claim.SetSummary("Claim prize")
	claim.SetDescription("Verifies the caller's ticket against the called numbers and awards the lowest free rank. Requires the player token.")
	claim.AddReqStructure(ClaimRequest{})
	claim.AddRespStructure(ClaimResult{}, openapi.WithHTTPStatus(http.StatusOK))
	claim.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	claim.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	claim.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	add(claim)

	// POST /api/games/{gameID}/end
	end, _ := r.NewOperationContext(http.MethodPost, "/api/games/{gameID}/end")
	end.AddReqStructure(gamePath{})
	end.SetSummary("End game")
	end.SetDescription("Force-stops a started game. Requires the host token.")
	end.AddRespStructure(EndResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	end.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	end.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusForbidden))
	add(end)

	// POST /api/games/{gameID}/ticket/mark
	mark, _ := r.NewOperationContext(http.MethodPost, "/api/games/{gameID}/ticket/mark")
	mark.AddReqStructure(gamePath{})
	mark.SetSummary("Mark ticket")
	mark.SetDescription("Marks or unmarks a number on the caller's ticket. Requires the player token.")
	mark.AddReqStructure(MarkRequest{})
	mark.AddRespStructure(MarkResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	mark.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	mark.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	add(mark)

	// GET /api/games/{gameID}/verify-player
	verify, _ := r.NewOperationContext(http.MethodGet, "/api/games/{gameID}/verify-player")
	verify.AddReqStructure(gamePath{})
	verify.SetSummary("Verify player")
	verify.SetDescription("Checks that the player token belongs to this game.")
	verify.AddRespStructure(VerifyPlayerResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	verify.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	verify.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusForbidden))
	add(verify)

	// GET /api/games/{gameID}/claims
	claims, _ := r.NewOperationContext(http.MethodGet, "/api/games/{gameID}/claims")
	claims.AddReqStructure(gamePath{})
	claims.SetSummary("List claims")
	claims.SetDescription("Returns accepted claims grouped by pattern, in rank order.")
	claims.AddRespStructure(ClaimsResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	claims.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	add(claims)

	// GET /api/games/{gameID}/state
	state, _ := r.NewOperationContext(http.MethodGet, "/api/games/{gameID}/state")
	state.AddReqStructure(gamePath{})
	state.SetSummary("Get game state")
	state.SetDescription("Returns everything needed to render the game. A player token adds the caller's ticket.")
	state.AddRespStructure(StateResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	state.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	add(state)

	// GET /api/games/{gameID}/events
	getEvents, _ := r.NewOperationContext(http.MethodGet, "/api/games/{gameID}/events")
	getEvents.AddReqStructure(gamePath{})
	getEvents.SetSummary("SSE event stream")
	getEvents.SetDescription("Server-Sent Events: number:called, claim:accepted, game:ended, player:joined, game:started.")
	getEvents.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusOK),
		openapi.WithContentType("text/event-stream"))
	add(getEvents)

	// GET /api/games/{gameID}/ws
	getWS, _ := r.NewOperationContext(http.MethodGet, "/api/games/{gameID}/ws")
	getWS.AddReqStructure(gamePath{})
	getWS.SetSummary("WebSocket event stream")
	getWS.SetDescription("Upgrades to a WebSocket that receives the same events as JSON frames {type, data}.")
	getWS.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusSwitchingProtocols),
		openapi.WithContentType("application/json"))
	add(getWS)

	return r.Spec, errors.Join(errs...)
}

func handleOpenAPI() http.HandlerFunc {
	spec, err := newOpenAPISpec()
	if err != nil {
		panic(fmt.Sprintf("building openapi spec: %v", err))
	}
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
