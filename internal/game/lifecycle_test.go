package game

import (
	"context"
	"slices"
	"strings"
	"testing"

	"github.com/femildignizant/tambola/internal/broker"
	"github.com/femildignizant/tambola/internal/tambola"
	"github.com/femildignizant/tambola/internal/ticket"
)

func TestHostAccounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RegisterHost(ctx, "HOST@example.com", "Again", "another password")
	assertCode(t, err, tambola.CodeEmailTaken)

	_, err = f.svc.RegisterHost(ctx, "not-an-email", "X", "long enough")
	assertCode(t, err, tambola.CodeInvalidInput)

	_, err = f.svc.RegisterHost(ctx, "new@example.com", "X", "short")
	assertCode(t, err, tambola.CodeInvalidInput)

	h, err := f.svc.AuthenticateHost(ctx, " Host@Example.com ", "correct horse")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if h.ID != f.hostID {
		t.Errorf("host = %+v", h)
	}

	_, err = f.svc.AuthenticateHost(ctx, "host@example.com", "wrong horse")
	assertCode(t, err, tambola.CodeUnauthorized)
	_, err = f.svc.AuthenticateHost(ctx, "nobody@example.com", "correct horse")
	assertCode(t, err, tambola.CodeUnauthorized)
}

func TestCreateGame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g, err := f.svc.CreateGame(ctx, f.hostID, "  Diwali special  ", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if g.Title != "Diwali special" || g.Status != tambola.StatusConfiguring || len(g.Code) != 6 {
		t.Errorf("game = %+v", g)
	}
	if g.NumberInterval != 10 || g.MinPlayers != 2 || g.MaxPlayers != 75 {
		t.Errorf("defaults = %d/%d/%d", g.NumberInterval, g.MinPlayers, g.MaxPlayers)
	}
	patterns, err := f.svc.Patterns(ctx, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(patterns) != 1 || patterns[0].Pattern != tambola.FullHouse {
		t.Errorf("default preset patterns = %+v", patterns)
	}

	_, err = f.svc.CreateGame(ctx, f.hostID, "", "")
	assertCode(t, err, tambola.CodeInvalidInput)
	_, err = f.svc.CreateGame(ctx, f.hostID, strings.Repeat("x", 101), "")
	assertCode(t, err, tambola.CodeInvalidInput)
	_, err = f.svc.CreateGame(ctx, f.hostID, "ok", "no-such-preset")
	assertCode(t, err, tambola.CodeInvalidInput)

	games, err := f.svc.HostGames(ctx, f.hostID)
	if err != nil || len(games) != 1 {
		t.Errorf("host games = %+v, %v", games, err)
	}
}

func TestNewCodeUniform(t *testing.T) {
	const codes = 20000
	counts := make(map[rune]int)
	for range codes {
		code, err := newCode()
		if err != nil {
			t.Fatal(err)
		}
		if len(code) != codeLength {
			t.Fatalf("code %q has length %d", code, len(code))
		}
		for _, c := range code {
			if !strings.ContainsRune(codeAlphabet, c) {
				t.Fatalf("code %q has %q outside the alphabet", code, c)
			}
			counts[c]++
		}
	}

	// A byte taken modulo 36 favours '0'-'3' by about 14%, which puts
	// their total around 15000 instead of 13333.
	total := codes * codeLength
	want := total * 4 / len(codeAlphabet)
	low := counts['0'] + counts['1'] + counts['2'] + counts['3']
	if diff := low - want; diff > 700 || diff < -700 {
		t.Errorf("'0'-'3' drawn %d times, want about %d", low, want)
	}
	if len(counts) != len(codeAlphabet) {
		t.Errorf("only %d of %d symbols drawn", len(counts), len(codeAlphabet))
	}
}

func TestUpdateSettings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, _ := f.lobby(t, 3)

	tests := []struct {
		name  string
		patch SettingsPatch
		want  tambola.Code
	}{
		{"interval too short", SettingsPatch{NumberInterval: ptr(1)}, tambola.CodeInvalidInput},
		{"interval too long", SettingsPatch{NumberInterval: ptr(61)}, tambola.CodeInvalidInput},
		{"min above max", SettingsPatch{MinPlayers: ptr(10), MaxPlayers: ptr(5)}, tambola.CodeInvalidInput},
		{"max over cap", SettingsPatch{MaxPlayers: ptr(201)}, tambola.CodeInvalidInput},
		{"max below joined", SettingsPatch{MaxPlayers: ptr(2)}, tambola.CodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.UpdateSettings(ctx, f.hostID, g.ID, tt.patch)
			assertCode(t, err, tt.want)
		})
	}

	_, err := f.svc.UpdateSettings(ctx, "intruder", g.ID, SettingsPatch{NumberInterval: ptr(5)})
	assertCode(t, err, tambola.CodeUnauthorized)

	got, err := f.svc.UpdateSettings(ctx, f.hostID, g.ID, SettingsPatch{NumberInterval: ptr(5), MaxPlayers: ptr(3)})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.NumberInterval != 5 || got.MinPlayers != 2 || got.MaxPlayers != 3 {
		t.Errorf("settings = %d/%d/%d", got.NumberInterval, got.MinPlayers, got.MaxPlayers)
	}

	_, err = f.svc.Join(ctx, g.ID, "Fourth")
	assertCode(t, err, tambola.CodeGameFull)
}

func TestValidatePatterns(t *testing.T) {
	tests := []struct {
		name     string
		patterns []tambola.GamePattern
		ok       bool
	}{
		{"full house only", []tambola.GamePattern{{Pattern: tambola.FullHouse, Enabled: true, Points1st: 100}}, true},
		{"three tiers", []tambola.GamePattern{
			{Pattern: tambola.TopRow, Enabled: true, Points1st: 30, Points2nd: ptr(20), Points3rd: ptr(10)},
			{Pattern: tambola.FullHouse, Enabled: true, Points1st: 100},
		}, true},
		{"no full house", []tambola.GamePattern{{Pattern: tambola.TopRow, Enabled: true, Points1st: 30}}, false},
		{"full house disabled", []tambola.GamePattern{{Pattern: tambola.FullHouse, Points1st: 100}}, false},
		{"unknown pattern", []tambola.GamePattern{
			{Pattern: "DIAGONAL", Enabled: true, Points1st: 10},
			{Pattern: tambola.FullHouse, Enabled: true, Points1st: 100},
		}, false},
		{"duplicate", []tambola.GamePattern{
			{Pattern: tambola.FullHouse, Enabled: true, Points1st: 100},
			{Pattern: tambola.FullHouse, Enabled: true, Points1st: 50},
		}, false},
		{"zero points", []tambola.GamePattern{{Pattern: tambola.FullHouse, Enabled: true}}, false},
		{"third without second", []tambola.GamePattern{{Pattern: tambola.FullHouse, Enabled: true, Points1st: 100, Points3rd: ptr(10)}}, false},
		{"second not below first", []tambola.GamePattern{{Pattern: tambola.FullHouse, Enabled: true, Points1st: 100, Points2nd: ptr(100)}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePatterns(tt.patterns)
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && tambola.CodeOf(err) != tambola.CodeInvalidInput {
				t.Errorf("got %v, want INVALID_INPUT", err)
			}
		})
	}
}

func TestReplacePatterns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, _ := f.lobby(t, 2)

	next := []tambola.GamePattern{
		{Pattern: tambola.FullHouse, Enabled: true, Points1st: 300},
		{Pattern: tambola.FourCorners, Enabled: true, Points1st: 60, Points2nd: ptr(30)},
		{Pattern: tambola.EarlyFive, Enabled: true, Points1st: 20},
	}
	if err := f.svc.ReplacePatterns(ctx, f.hostID, g.ID, next); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, _ := f.svc.Patterns(ctx, g.ID)
	var order []tambola.Pattern
	for _, gp := range got {
		order = append(order, gp.Pattern)
	}
	want := []tambola.Pattern{tambola.EarlyFive, tambola.FourCorners, tambola.FullHouse}
	if !slices.Equal(order, want) {
		t.Fatalf("patterns = %v, want %v", order, want)
	}

	if _, err := f.svc.Start(ctx, f.hostID, g.ID); err != nil {
		t.Fatal(err)
	}
	err := f.svc.ReplacePatterns(ctx, f.hostID, g.ID, next)
	assertCode(t, err, tambola.CodeInvalidGameStatus)
}

func TestLookupAndJoin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, err := f.svc.CreateGame(ctx, f.hostID, "Lookup", "test")
	if err != nil {
		t.Fatal(err)
	}

	res, err := f.svc.Lookup(ctx, " "+strings.ToLower(g.Code)+" ")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if res.Game.ID != g.ID || res.PlayerCount != 0 {
		t.Errorf("lookup = %+v", res)
	}
	_, err = f.svc.Lookup(ctx, "12")
	assertCode(t, err, tambola.CodeInvalidInput)
	_, err = f.svc.Lookup(ctx, "ZZZZZZ")
	if g.Code != "ZZZZZZ" {
		assertCode(t, err, tambola.CodeNotFound)
	}

	_, err = f.svc.Join(ctx, g.ID, "   ")
	assertCode(t, err, tambola.CodeInvalidInput)
	_, err = f.svc.Join(ctx, g.ID, strings.Repeat("n", 21))
	assertCode(t, err, tambola.CodeInvalidInput)

	jr, err := f.svc.Join(ctx, g.ID, "Asha")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := ticket.Validate(jr.Ticket.Grid); err != nil {
		t.Errorf("issued ticket invalid: %v", err)
	}
	if len(jr.Player.Token) != 32 {
		t.Errorf("token = %q", jr.Player.Token)
	}
	if got := f.game(t, g.ID); got.Status != tambola.StatusLobby {
		t.Errorf("status after join = %s", got.Status)
	}
	if e, ok := f.events.last(broker.TypePlayerJoined); !ok || e.Data.(PlayerJoined).Player.Name != "Asha" {
		t.Errorf("player:joined = %+v, %v", e, ok)
	}

	p, err := f.svc.PlayerByToken(ctx, jr.Player.Token)
	if err != nil || p.ID != jr.Player.ID {
		t.Errorf("by token = %+v, %v", p, err)
	}
	_, err = f.svc.PlayerByToken(ctx, "bogus")
	assertCode(t, err, tambola.CodeUnauthorized)
}

func TestStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, _ := f.lobby(t, 1)

	_, err := f.svc.Start(ctx, f.hostID, g.ID)
	assertCode(t, err, tambola.CodeMinPlayersNotMet)
	if !strings.Contains(err.Error(), "Minimum 2 players required. Currently 1 joined.") {
		t.Errorf("message = %q", err)
	}

	if _, err := f.svc.Join(ctx, g.ID, "Second"); err != nil {
		t.Fatal(err)
	}
	_, err = f.svc.Start(ctx, "intruder", g.ID)
	assertCode(t, err, tambola.CodeUnauthorized)

	startedAt, err := f.svc.Start(ctx, f.hostID, g.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	got := f.game(t, g.ID)
	if got.Status != tambola.StatusStarted || got.StartedAt == nil || !got.StartedAt.Equal(startedAt) {
		t.Errorf("game = %s started %v", got.Status, got.StartedAt)
	}
	if _, ok := f.events.last(broker.TypeGameStarted); !ok {
		t.Error("no game:started event")
	}

	_, err = f.svc.Start(ctx, f.hostID, g.ID)
	assertCode(t, err, tambola.CodeGameAlreadyStarted)
	_, err = f.svc.Join(ctx, g.ID, "Late")
	assertCode(t, err, tambola.CodeGameAlreadyStarted)
	_, err = f.svc.Lookup(ctx, g.Code)
	assertCode(t, err, tambola.CodeGameAlreadyStarted)
	_, err = f.svc.UpdateSettings(ctx, f.hostID, g.ID, SettingsPatch{NumberInterval: ptr(5)})
	assertCode(t, err, tambola.CodeInvalidGameStatus)

	if _, err := f.svc.ForceStop(ctx, f.hostID, g.ID); err != nil {
		t.Fatal(err)
	}
	_, err = f.svc.Join(ctx, g.ID, "Later")
	assertCode(t, err, tambola.CodeGameCompleted)
}
