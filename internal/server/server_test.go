package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/femildignizant/tambola/internal/broker"
	"github.com/femildignizant/tambola/internal/database"
	"github.com/femildignizant/tambola/internal/game"
	"github.com/femildignizant/tambola/internal/lock"
	"github.com/femildignizant/tambola/internal/migrations"
	"github.com/femildignizant/tambola/internal/store/sqlite"
	"github.com/femildignizant/tambola/internal/tambola"
)

type testAPI struct {
	t      *testing.T
	router http.Handler
	events *broker.Broker
}

func ptr(n int) *int { return &n }

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, filepath.Join(t.TempDir(), "tambola.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.Run(db, migrations.SQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logger := slog.New(slog.DiscardHandler)
	events := broker.New(logger)
	svc := game.NewService(sqlite.New(db), lock.NewLocal(), events, logger, game.Config{
		LockTTL: time.Second,
		Presets: map[string][]tambola.GamePattern{
			"party": {
				{Pattern: tambola.EarlyFive, Enabled: true, Points1st: 50, Points2nd: ptr(25)},
				{Pattern: tambola.FullHouse, Enabled: true, Points1st: 200},
			},
		},
	})

	deps := Deps{
		Games:       svc,
		Events:      events,
		Tokens:      NewHostTokens("test-secret", time.Hour),
		CORSOrigins: []string{"http://localhost:5173"},
	}
	return &testAPI{t: t, router: newRouter(logger, deps, nil), events: events}
}

func (a *testAPI) do(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			a.t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func expect(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d: %s", rec.Code, status, rec.Body.String())
	}
}

func expectCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code tambola.Code) {
	t.Helper()
	if rec.Code != status {
		t.Errorf("status = %d, want %d: %s", rec.Code, status, rec.Body.String())
	}
	if got := decode[ErrorResponse](t, rec); got.Code != code {
		t.Errorf("code = %q, want %q", got.Code, code)
	}
}

func (a *testAPI) registerHost(email string) string {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/hosts/register", "", RegisterRequest{
		Email: email, Name: "Host", Password: "correct horse",
	})
	expect(a.t, rec, http.StatusCreated)
	return decode[AuthResponse](a.t, rec).Token
}

// lobby creates a game with the party preset and joins n players.
func (a *testAPI) lobby(hostToken string, n int) (GameResponse, []JoinResponse) {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/games", hostToken, CreateGameRequest{Title: "Friday", Preset: "party"})
	expect(a.t, rec, http.StatusCreated)
	g := decode[GameResponse](a.t, rec)

	var joined []JoinResponse
	for i := range n {
		rec := a.do(http.MethodPost, "/api/games/"+g.ID+"/join", "", JoinRequest{Name: string(rune('A' + i))})
		expect(a.t, rec, http.StatusCreated)
		joined = append(joined, decode[JoinResponse](a.t, rec))
	}
	return g, joined
}

func TestHostAuth(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(http.MethodPost, "/api/hosts/register", "", RegisterRequest{
		Email: "host@example.com", Name: "Host", Password: "correct horse",
	})
	expect(t, rec, http.StatusCreated)
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != hostCookieName || !cookies[0].HttpOnly {
		t.Fatalf("cookies = %+v", cookies)
	}
	token := decode[AuthResponse](t, rec).Token

	rec = a.do(http.MethodPost, "/api/hosts/register", "", RegisterRequest{
		Email: "host@example.com", Name: "Again", Password: "correct horse",
	})
	expectCode(t, rec, http.StatusConflict, tambola.CodeEmailTaken)

	rec = a.do(http.MethodPost, "/api/hosts/login", "", LoginRequest{Email: "host@example.com", Password: "wrong horse"})
	expectCode(t, rec, http.StatusUnauthorized, tambola.CodeUnauthorized)

	rec = a.do(http.MethodPost, "/api/hosts/login", "", LoginRequest{Email: "host@example.com", Password: "correct horse"})
	expect(t, rec, http.StatusOK)

	rec = a.do(http.MethodGet, "/api/hosts/me", token, nil)
	expect(t, rec, http.StatusOK)
	if me := decode[HostResponse](t, rec); me.Email != "host@example.com" {
		t.Errorf("me = %+v", me)
	}

	// The cookie works without a bearer header.
	req := httptest.NewRequest(http.MethodGet, "/api/hosts/me", nil)
	req.AddCookie(cookies[0])
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	expect(t, rr, http.StatusOK)

	expectCode(t, a.do(http.MethodGet, "/api/hosts/me", "", nil), http.StatusUnauthorized, tambola.CodeUnauthorized)
	expectCode(t, a.do(http.MethodGet, "/api/hosts/me", "not-a-jwt", nil), http.StatusUnauthorized, tambola.CodeUnauthorized)

	forged, _ := NewHostTokens("other-secret", time.Hour).Issue("someone")
	expectCode(t, a.do(http.MethodGet, "/api/games", forged, nil), http.StatusUnauthorized, tambola.CodeUnauthorized)

	rec = a.do(http.MethodPost, "/api/hosts/logout", "", nil)
	expect(t, rec, http.StatusOK)
	if c := rec.Result().Cookies(); len(c) != 1 || c[0].MaxAge >= 0 {
		t.Errorf("logout cookies = %+v", c)
	}
}

func TestGameConfiguration(t *testing.T) {
	a := newTestAPI(t)
	host := a.registerHost("host@example.com")
	other := a.registerHost("other@example.com")
	g, _ := a.lobby(host, 0)

	if g.Status != tambola.StatusConfiguring || len(g.Code) != 6 {
		t.Errorf("game = %+v", g)
	}

	rec := a.do(http.MethodPatch, "/api/games/"+g.ID, host, SettingsRequest{NumberInterval: ptr(5), MaxPlayers: ptr(10)})
	expect(t, rec, http.StatusOK)
	if got := decode[GameResponse](t, rec); got.NumberInterval != 5 || got.MaxPlayers != 10 || got.MinPlayers != 2 {
		t.Errorf("settings = %+v", got)
	}
	expectCode(t, a.do(http.MethodPatch, "/api/games/"+g.ID, host, SettingsRequest{NumberInterval: ptr(1)}),
		http.StatusBadRequest, tambola.CodeInvalidInput)
	expectCode(t, a.do(http.MethodPatch, "/api/games/"+g.ID, other, SettingsRequest{NumberInterval: ptr(5)}),
		http.StatusForbidden, tambola.CodeUnauthorized)
	expectCode(t, a.do(http.MethodPatch, "/api/games/missing", host, SettingsRequest{NumberInterval: ptr(5)}),
		http.StatusNotFound, tambola.CodeNotFound)

	// Patterns come back in display order whatever order they were sent in.
	wantOrder := func(got []PatternConfig) {
		t.Helper()
		if len(got) != 2 || got[0].Pattern != tambola.TopRow || got[1].Pattern != tambola.FullHouse {
			t.Fatalf("patterns = %+v", got)
		}
		if got[1].Points2nd == nil || *got[1].Points2nd != 50 {
			t.Errorf("full house points = %+v", got[1])
		}
	}
	rec = a.do(http.MethodPut, "/api/games/"+g.ID+"/patterns", host, PatternsRequest{Patterns: []PatternConfig{
		{Pattern: tambola.FullHouse, Enabled: true, Points1st: 100, Points2nd: ptr(50)},
		{Pattern: tambola.TopRow, Enabled: true, Points1st: 30},
	}})
	expect(t, rec, http.StatusOK)
	wantOrder(decode[PatternsResponse](t, rec).Patterns)

	rec = a.do(http.MethodGet, "/api/games/"+g.ID+"/patterns", "", nil)
	expect(t, rec, http.StatusOK)
	wantOrder(decode[PatternsResponse](t, rec).Patterns)

	expectCode(t, a.do(http.MethodPut, "/api/games/"+g.ID+"/patterns", host, PatternsRequest{Patterns: []PatternConfig{
		{Pattern: tambola.TopRow, Enabled: true, Points1st: 30},
	}}), http.StatusBadRequest, tambola.CodeInvalidInput)
	expectCode(t, a.do(http.MethodPut, "/api/games/"+g.ID+"/patterns", host, PatternsRequest{Preset: "nope"}),
		http.StatusBadRequest, tambola.CodeInvalidInput)

	rec = a.do(http.MethodPut, "/api/games/"+g.ID+"/patterns", host, PatternsRequest{Preset: "party"})
	expect(t, rec, http.StatusOK)
	if got := decode[PatternsResponse](t, rec).Patterns; len(got) != 2 || got[0].Pattern != tambola.EarlyFive || got[1].Pattern != tambola.FullHouse {
		t.Errorf("preset patterns = %+v", got)
	}

	rec = a.do(http.MethodGet, "/api/games", host, nil)
	expect(t, rec, http.StatusOK)
	if list := decode[[]GameSummaryResponse](t, rec); len(list) != 1 || list[0].ID != g.ID {
		t.Errorf("games = %+v", list)
	}
	rec = a.do(http.MethodGet, "/api/games", other, nil)
	if list := decode[[]GameSummaryResponse](t, rec); len(list) != 0 {
		t.Errorf("other host sees %+v", list)
	}

	rec = a.do(http.MethodGet, "/api/presets", "", nil)
	expect(t, rec, http.StatusOK)
	presets := decode[[]Preset](t, rec)
	if len(presets) != 2 || presets[0].Name != game.DefaultPreset || presets[1].Name != "party" {
		t.Errorf("presets = %+v", presets)
	}
}

func TestLobby(t *testing.T) {
	a := newTestAPI(t)
	host := a.registerHost("host@example.com")
	g, joined := a.lobby(host, 1)

	rec := a.do(http.MethodPost, "/api/games/lookup", "", LookupRequest{Code: g.Code})
	expect(t, rec, http.StatusOK)
	if got := decode[LookupResponse](t, rec); got.GameID != g.ID || got.PlayerCount != 1 || got.Status != tambola.StatusLobby {
		t.Errorf("lookup = %+v", got)
	}
	expectCode(t, a.do(http.MethodPost, "/api/games/lookup", "", LookupRequest{Code: "??"}),
		http.StatusBadRequest, tambola.CodeInvalidInput)

	jr := joined[0]
	if jr.Token == "" || jr.Player.Name != "A" {
		t.Errorf("join = %+v", jr)
	}
	var cells, blanks int
	for _, row := range jr.Ticket.Grid {
		for _, cell := range row {
			if cell == nil {
				blanks++
			} else {
				cells++
			}
		}
	}
	if cells != 15 || blanks != 12 {
		t.Errorf("ticket has %d numbers and %d blanks", cells, blanks)
	}

	expectCode(t, a.do(http.MethodPost, "/api/games/"+g.ID+"/join", "", JoinRequest{Name: ""}),
		http.StatusBadRequest, tambola.CodeInvalidInput)

	rec = a.do(http.MethodPost, "/api/games/"+g.ID+"/start", host, nil)
	expectCode(t, rec, http.StatusBadRequest, tambola.CodeMinPlayersNotMet)

	a.do(http.MethodPost, "/api/games/"+g.ID+"/join", "", JoinRequest{Name: "B"})
	expectCode(t, a.do(http.MethodPost, "/api/games/"+g.ID+"/start", jr.Token, nil),
		http.StatusUnauthorized, tambola.CodeUnauthorized)

	rec = a.do(http.MethodPost, "/api/games/"+g.ID+"/start", host, nil)
	expect(t, rec, http.StatusOK)
	if got := decode[StartResponse](t, rec); got.Status != tambola.StatusStarted || got.StartedAt.IsZero() {
		t.Errorf("start = %+v", got)
	}

	expectCode(t, a.do(http.MethodPost, "/api/games/"+g.ID+"/join", "", JoinRequest{Name: "Late"}),
		http.StatusBadRequest, tambola.CodeGameAlreadyStarted)
	expectCode(t, a.do(http.MethodPost, "/api/games/lookup", "", LookupRequest{Code: g.Code}),
		http.StatusBadRequest, tambola.CodeGameAlreadyStarted)
}

func TestPlayFlow(t *testing.T) {
	a := newTestAPI(t)
	host := a.registerHost("host@example.com")
	g, joined := a.lobby(host, 2)
	player := joined[0]

	expectCode(t, a.do(http.MethodPost, "/api/games/"+g.ID+"/call-number", "", nil),
		http.StatusBadRequest, tambola.CodeGameNotStarted)
	expect(t, a.do(http.MethodPost, "/api/games/"+g.ID+"/start", host, nil), http.StatusOK)

	onTicket := make(map[int]bool)
	for _, row := range player.Ticket.Grid {
		for _, cell := range row {
			if cell != nil {
				onTicket[*cell] = true
			}
		}
	}

	// Call until five of the player's numbers are out.
	var hits, seq int
	for hits < 5 {
		rec := a.do(http.MethodPost, "/api/games/"+g.ID+"/call-number", "", nil)
		expect(t, rec, http.StatusOK)
		res := decode[CallNumberResponse](t, rec)
		seq++
		if res.Sequence != seq || res.Remaining != tambola.PoolSize-seq || res.Number < 1 || res.Number > tambola.PoolSize {
			t.Fatalf("call %d = %+v", seq, res)
		}
		if onTicket[res.Number] {
			hits++
		}
	}

	expectCode(t, a.do(http.MethodPost, "/api/games/"+g.ID+"/claim", "", ClaimRequest{Pattern: "EARLY_FIVE"}),
		http.StatusUnauthorized, tambola.CodeUnauthorized)
	expectCode(t, a.do(http.MethodPost, "/api/games/"+g.ID+"/claim", player.Token, ClaimRequest{Pattern: "DIAGONAL"}),
		http.StatusBadRequest, tambola.CodeInvalidInput)
	expectCode(t, a.do(http.MethodPost, "/api/games/"+g.ID+"/claim", player.Token, ClaimRequest{Pattern: "TOP_ROW"}),
		http.StatusBadRequest, tambola.CodePatternNotEnabled)

	rec := a.do(http.MethodPost, "/api/games/"+g.ID+"/claim", player.Token, ClaimRequest{Pattern: "EARLY_FIVE"})
	expect(t, rec, http.StatusOK)
	claim := decode[ClaimResult](t, rec)
	if claim.Claim.Rank != 1 || claim.Claim.Points != 50 || len(claim.VerifiedNumbers) != 5 || claim.GameEnded {
		t.Errorf("claim = %+v", claim)
	}
	expectCode(t, a.do(http.MethodPost, "/api/games/"+g.ID+"/claim", player.Token, ClaimRequest{Pattern: "EARLY_FIVE"}),
		http.StatusBadRequest, tambola.CodeAlreadyClaimed)

	var mark int
	for _, cell := range player.Ticket.Grid[0] {
		if cell != nil {
			mark = *cell
			break
		}
	}
	rec = a.do(http.MethodPost, "/api/games/"+g.ID+"/ticket/mark", player.Token, MarkRequest{Number: mark, Action: "MARK"})
	expect(t, rec, http.StatusOK)
	if got := decode[MarkResponse](t, rec).MarkedNumbers; len(got) != 1 || got[0] != mark {
		t.Errorf("marked = %v", got)
	}
	expectCode(t, a.do(http.MethodPost, "/api/games/"+g.ID+"/ticket/mark", player.Token, MarkRequest{Number: mark, Action: "FLIP"}),
		http.StatusBadRequest, tambola.CodeInvalidInput)

	rec = a.do(http.MethodGet, "/api/games/"+g.ID+"/claims", "", nil)
	expect(t, rec, http.StatusOK)
	claims := decode[ClaimsResponse](t, rec)
	if len(claims.Patterns) != 1 || claims.Patterns[0].Pattern != tambola.EarlyFive || len(claims.Patterns[0].Claims) != 1 {
		t.Errorf("claims = %+v", claims)
	}

	rec = a.do(http.MethodGet, "/api/games/"+g.ID+"/state", player.Token, nil)
	expect(t, rec, http.StatusOK)
	st := decode[StateResponse](t, rec)
	if st.IsHost || st.Player == nil || st.Ticket == nil || st.Ticket.MarkedNumbers[0] != mark {
		t.Errorf("player state = %+v", st)
	}
	if len(st.CalledNumbers) != seq || st.LastNumber == nil || *st.LastNumber != st.CalledNumbers[seq-1] {
		t.Errorf("called = %v last %v", st.CalledNumbers, st.LastNumber)
	}
	if len(st.Leaderboard) != 1 || st.Leaderboard[0].PlayerID != player.Player.ID || len(st.Players) != 2 {
		t.Errorf("leaderboard = %+v players = %d", st.Leaderboard, len(st.Players))
	}

	rec = a.do(http.MethodGet, "/api/games/"+g.ID+"/state", host, nil)
	if st := decode[StateResponse](t, rec); !st.IsHost || st.Ticket != nil {
		t.Errorf("host state = %+v", st)
	}

	expect(t, a.do(http.MethodGet, "/api/games/"+g.ID+"/verify-player", player.Token, nil), http.StatusOK)
	other, otherJoined := a.lobby(host, 1)
	expectCode(t, a.do(http.MethodGet, "/api/games/"+g.ID+"/verify-player", otherJoined[0].Token, nil),
		http.StatusForbidden, tambola.CodePlayerNotFound)

	expectCode(t, a.do(http.MethodPost, "/api/games/"+other.ID+"/end", host, nil),
		http.StatusBadRequest, tambola.CodeInvalidGameStatus)
	rec = a.do(http.MethodPost, "/api/games/"+g.ID+"/end", host, nil)
	expect(t, rec, http.StatusOK)
	if end := decode[EndResponse](t, rec); end.Status != tambola.StatusCompleted || end.Reason != tambola.EndForceStop {
		t.Errorf("end = %+v", end)
	}

	expectCode(t, a.do(http.MethodPost, "/api/games/"+g.ID+"/call-number", "", nil),
		http.StatusBadRequest, tambola.CodeGameNotStarted)
	expectCode(t, a.do(http.MethodPost, "/api/games/"+g.ID+"/claim", joined[1].Token, ClaimRequest{Pattern: "FULL_HOUSE"}),
		http.StatusBadRequest, tambola.CodeGameNotInProgress)

	rec = a.do(http.MethodGet, "/api/games/history", host, nil)
	expect(t, rec, http.StatusOK)
	hist := decode[[]HistoryItem](t, rec)
	if len(hist) != 1 || hist[0].Game.ID != g.ID || hist[0].ClaimCount != 1 || hist[0].Winner == nil {
		t.Errorf("history = %+v", hist)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code tambola.Code
		want int
	}{
		{tambola.CodeInvalidInput, http.StatusBadRequest},
		{tambola.CodeGameNotStarted, http.StatusBadRequest},
		{tambola.CodeAllPrizesClaimed, http.StatusBadRequest},
		{tambola.CodeNotFound, http.StatusNotFound},
		{tambola.CodeNoTicket, http.StatusNotFound},
		{tambola.CodeUnauthorized, http.StatusForbidden},
		{tambola.CodePlayerNotFound, http.StatusForbidden},
		{tambola.CodeConcurrentUpdate, http.StatusConflict},
		{tambola.CodeContendedRetry, http.StatusConflict},
		{tambola.CodeJustClaimed, http.StatusConflict},
		{tambola.CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := statusFor(tt.code); got != tt.want {
				t.Errorf("statusFor(%s) = %d, want %d", tt.code, got, tt.want)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	a := newTestAPI(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/games", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("allow-origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("allow-credentials = %q", got)
	}
}
