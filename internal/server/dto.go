package server

import (
	"time"

	"github.com/femildignizant/tambola/internal/game"
	"github.com/femildignizant/tambola/internal/tambola"
)

type HostResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

func toHost(h tambola.Host) HostResponse {
	return HostResponse{ID: h.ID, Email: h.Email, Name: h.Name, CreatedAt: h.CreatedAt}
}

type GameResponse struct {
	ID             string             `json:"id"`
	Title          string             `json:"title"`
	Code           string             `json:"code"`
	Status         tambola.GameStatus `json:"status"`
	CalledNumbers  []int              `json:"calledNumbers"`
	Sequence       int                `json:"sequence"`
	NumberInterval int                `json:"numberInterval"`
	MinPlayers     int                `json:"minPlayers"`
	MaxPlayers     int                `json:"maxPlayers"`
	CreatedAt      time.Time          `json:"createdAt"`
	StartedAt      *time.Time         `json:"startedAt,omitempty"`
	CompletedAt    *time.Time         `json:"completedAt,omitempty"`
}

func toGame(g tambola.Game) GameResponse {
	called := g.CalledNumbers
	if called == nil {
		called = []int{}
	}
	return GameResponse{
		ID:             g.ID,
		Title:          g.Title,
		Code:           g.Code,
		Status:         g.Status,
		CalledNumbers:  called,
		Sequence:       g.Sequence,
		NumberInterval: g.NumberInterval,
		MinPlayers:     g.MinPlayers,
		MaxPlayers:     g.MaxPlayers,
		CreatedAt:      g.CreatedAt,
		StartedAt:      g.StartedAt,
		CompletedAt:    g.CompletedAt,
	}
}

type GameSummaryResponse struct {
	GameResponse
	PlayerCount int `json:"playerCount"`
}

// PatternConfig is one pattern's prize configuration. Points2nd and
// Points3rd are omitted for patterns with fewer ranked prizes.
type PatternConfig struct {
	Pattern   tambola.Pattern `json:"pattern"`
	Enabled   bool            `json:"enabled"`
	Points1st int             `json:"points1st"`
	Points2nd *int            `json:"points2nd,omitempty"`
	Points3rd *int            `json:"points3rd,omitempty"`
}

func toPatterns(patterns []tambola.GamePattern) []PatternConfig {
	out := make([]PatternConfig, 0, len(patterns))
	for _, gp := range patterns {
		out = append(out, PatternConfig{
			Pattern:   gp.Pattern,
			Enabled:   gp.Enabled,
			Points1st: gp.Points1st,
			Points2nd: gp.Points2nd,
			Points3rd: gp.Points3rd,
		})
	}
	return out
}

func fromPatterns(in []PatternConfig) []tambola.GamePattern {
	out := make([]tambola.GamePattern, 0, len(in))
	for _, pc := range in {
		out = append(out, tambola.GamePattern{
			Pattern:   pc.Pattern,
			Enabled:   pc.Enabled,
			Points1st: pc.Points1st,
			Points2nd: pc.Points2nd,
			Points3rd: pc.Points3rd,
		})
	}
	return out
}

type PlayerResponse struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joinedAt"`
}

func toPlayer(p tambola.Player) PlayerResponse {
	return PlayerResponse{ID: p.ID, Name: p.Name, JoinedAt: p.JoinedAt}
}

// TicketResponse carries the 3x9 grid with null for blank cells.
type TicketResponse struct {
	ID            string     `json:"id"`
	Grid          [3][9]*int `json:"grid"`
	MarkedNumbers []int      `json:"markedNumbers"`
}

func toTicket(t tambola.Ticket) TicketResponse {
	out := TicketResponse{ID: t.ID, MarkedNumbers: t.Marked}
	if out.MarkedNumbers == nil {
		out.MarkedNumbers = []int{}
	}
	for r, row := range t.Grid {
		for c, n := range row {
			if n != 0 {
				out.Grid[r][c] = &n
			}
		}
	}
	return out
}

type ClaimResponse struct {
	ID         string          `json:"id"`
	PlayerID   string          `json:"playerId"`
	PlayerName string          `json:"playerName"`
	Pattern    tambola.Pattern `json:"pattern"`
	Rank       int             `json:"rank"`
	Points     int             `json:"points"`
	ClaimedAt  time.Time       `json:"claimedAt"`
}

func toClaim(c tambola.Claim) ClaimResponse {
	return ClaimResponse{
		ID:         c.ID,
		PlayerID:   c.PlayerID,
		PlayerName: c.PlayerName,
		Pattern:    c.Pattern,
		Rank:       c.Rank,
		Points:     c.Points,
		ClaimedAt:  c.ClaimedAt,
	}
}

func toClaims(claims []tambola.Claim) []ClaimResponse {
	out := make([]ClaimResponse, 0, len(claims))
	for _, c := range claims {
		out = append(out, toClaim(c))
	}
	return out
}

type LeaderboardEntry struct {
	Rank       int    `json:"rank"`
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	Points     int    `json:"points"`
}

func toLeaderboard(board []game.LeaderboardEntry) []LeaderboardEntry {
	out := make([]LeaderboardEntry, 0, len(board))
	for _, e := range board {
		out = append(out, LeaderboardEntry(e))
	}
	return out
}
