package game

import (
	"cmp"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"

	"github.com/femildignizant/tambola/internal/tambola"
)

// markAttempts bounds how often Mark re-reads a ticket whose marks changed
// under it.
const markAttempts = 3

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// PlayerByToken resolves a player session token.
func (s *Service) PlayerByToken(ctx context.Context, token string) (tambola.Player, error) {
	p, err := s.store.PlayerByToken(ctx, token)
	if errors.Is(err, tambola.ErrNotFound) {
		return tambola.Player{}, tambola.Errorf(tambola.CodeUnauthorized, "invalid session token")
	}
	if err != nil {
		return tambola.Player{}, fmt.Errorf("resolving token: %w", err)
	}
	return p, nil
}

type LeaderboardEntry struct {
	Rank       int
	PlayerID   string
	PlayerName string
	Points     int
}

// Leaderboard totals points per player, highest first. Ties go to the
// player whose first claim came earlier.
func Leaderboard(claims []tambola.Claim) []LeaderboardEntry {
	type total struct {
		entry LeaderboardEntry
		first int
	}
	chrono := slices.Clone(claims)
	slices.SortStableFunc(chrono, func(a, b tambola.Claim) int { return a.ClaimedAt.Compare(b.ClaimedAt) })

	byPlayer := make(map[string]*total)
	var order []*total
	for i, c := range chrono {
		t, ok := byPlayer[c.PlayerID]
		if !ok {
			t = &total{entry: LeaderboardEntry{PlayerID: c.PlayerID, PlayerName: c.PlayerName}, first: i}
			byPlayer[c.PlayerID] = t
			order = append(order, t)
		}
		t.entry.Points += c.Points
	}

	slices.SortStableFunc(order, func(a, b *total) int {
		if c := cmp.Compare(b.entry.Points, a.entry.Points); c != 0 {
			return c
		}
		return cmp.Compare(a.first, b.first)
	})

	out := make([]LeaderboardEntry, len(order))
	for i, t := range order {
		t.entry.Rank = i + 1
		out[i] = t.entry
	}
	return out
}

type State struct {
	Game        tambola.Game
	Patterns    []tambola.GamePattern
	Claims      []tambola.Claim
	Leaderboard []LeaderboardEntry
	Players     []tambola.Player
	IsHost      bool
	// Player and Ticket are set when the request carried a valid player
	// token for this game.
	Player *tambola.Player
	Ticket *tambola.Ticket
}

// State assembles everything a client needs to render a game. hostID and
// token are optional.
func (s *Service) State(ctx context.Context, gameID, hostID, token string) (State, error) {
	g, err := s.loadGame(ctx, gameID)
	if err != nil {
		return State{}, err
	}

	st := State{Game: g, IsHost: hostID != "" && hostID == g.HostID}

	if st.Patterns, err = s.store.Patterns(ctx, g.ID); err != nil {
		return State{}, fmt.Errorf("loading patterns: %w", err)
	}
	sortPatterns(st.Patterns)
	if st.Claims, err = s.store.Claims(ctx, g.ID); err != nil {
		return State{}, fmt.Errorf("loading claims: %w", err)
	}
	sortClaims(st.Claims)
	st.Leaderboard = Leaderboard(st.Claims)
	if st.Players, err = s.store.Players(ctx, g.ID); err != nil {
		return State{}, fmt.Errorf("loading players: %w", err)
	}

	if token == "" {
		return st, nil
	}
	p, err := s.store.PlayerByToken(ctx, token)
	if errors.Is(err, tambola.ErrNotFound) || (err == nil && p.GameID != g.ID) {
		return st, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("resolving token: %w", err)
	}
	t, err := s.store.Ticket(ctx, g.ID, p.ID)
	if err != nil && !errors.Is(err, tambola.ErrNotFound) {
		return State{}, fmt.Errorf("loading ticket: %w", err)
	}
	st.Player = &p
	if err == nil {
		st.Ticket = &t
	}
	return st, nil
}

// Mark toggles a number on the player's ticket and returns the marked set.
// Marking is not checked against the called numbers.
func (s *Service) Mark(ctx context.Context, gameID, playerID string, number int, mark bool) ([]int, error) {
	t, err := s.store.Ticket(ctx, gameID, playerID)
	if errors.Is(err, tambola.ErrNotFound) {
		return nil, tambola.Errorf(tambola.CodeNoTicket, "player has no ticket")
	}
	if err != nil {
		return nil, fmt.Errorf("loading ticket: %w", err)
	}
	if number < 1 || number > tambola.PoolSize || !t.Grid.Contains(number) {
		return nil, tambola.Errorf(tambola.CodeInvalidInput, "%d is not on this ticket", number)
	}

	for attempt := 1; ; attempt++ {
		marked := slices.Clone(t.Marked)
		i, found := slices.BinarySearch(marked, number)
		switch {
		case mark && !found:
			marked = slices.Insert(marked, i, number)
		case !mark && found:
			marked = slices.Delete(marked, i, i+1)
		default:
			return marked, nil
		}

		err := s.store.SetMarked(ctx, t.ID, t.Marked, marked)
		if err == nil {
			return marked, nil
		}
		if !errors.Is(err, tambola.ErrStale) {
			return nil, fmt.Errorf("saving marks: %w", err)
		}
		if attempt == markAttempts {
			return nil, tambola.Errorf(tambola.CodeConcurrentUpdate, "ticket changed while marking, retry")
		}

		// Another toggle landed first; apply this one on top of it.
		if t, err = s.store.Ticket(ctx, gameID, playerID); err != nil {
			return nil, fmt.Errorf("reloading ticket: %w", err)
		}
	}
}

type HistoryEntry struct {
	Game        tambola.Game
	PlayerCount int
	ClaimCount  int
	Winner      *LeaderboardEntry
}

// History lists the host's completed games with their outcome.
func (s *Service) History(ctx context.Context, hostID string) ([]HistoryEntry, error) {
	games, err := s.store.HostGames(ctx, hostID)
	if err != nil {
		return nil, fmt.Errorf("listing games: %w", err)
	}

	var out []HistoryEntry
	for _, g := range games {
		if g.Status != tambola.StatusCompleted {
			continue
		}
		claims, err := s.store.Claims(ctx, g.ID)
		if err != nil {
			return nil, fmt.Errorf("loading claims for %s: %w", g.ID, err)
		}
		e := HistoryEntry{Game: g.Game, PlayerCount: g.PlayerCount, ClaimCount: len(claims)}
		if board := Leaderboard(claims); len(board) > 0 {
			e.Winner = &board[0]
		}
		out = append(out, e)
	}
	return out, nil
}
