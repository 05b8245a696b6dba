// Package tambola defines the core domain types shared by the engine, the
// stores and the HTTP layer. It has no external dependencies.
package tambola

import (
	"fmt"
	"time"
)

// PoolSize is the number of distinct numbers a game can call.
const PoolSize = 90

type GameStatus string

const (
	StatusConfiguring GameStatus = "CONFIGURING"
	StatusLobby       GameStatus = "LOBBY"
	StatusStarted     GameStatus = "STARTED"
	StatusCompleted   GameStatus = "COMPLETED"
)

// Joinable reports whether players may still join a game in this status.
func (s GameStatus) Joinable() bool {
	return s == StatusConfiguring || s == StatusLobby
}

type Pattern string

const (
	EarlyFive   Pattern = "EARLY_FIVE"
	TopRow      Pattern = "TOP_ROW"
	MiddleRow   Pattern = "MIDDLE_ROW"
	BottomRow   Pattern = "BOTTOM_ROW"
	FourCorners Pattern = "FOUR_CORNERS"
	FullHouse   Pattern = "FULL_HOUSE"
)

// Patterns lists every supported pattern in display order.
var Patterns = []Pattern{EarlyFive, TopRow, MiddleRow, BottomRow, FourCorners, FullHouse}

func ParsePattern(s string) (Pattern, error) {
	for _, p := range Patterns {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown pattern %q", s)
}

// EndReason explains why a game moved to COMPLETED.
type EndReason string

const (
	EndAllNumbersCalled EndReason = "ALL_NUMBERS_CALLED"
	EndFullHouse        EndReason = "FULL_HOUSE"
	EndForceStop        EndReason = "FORCE_STOP"
)

type Host struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
}

type Game struct {
	ID             string
	HostID         string
	Title          string
	Code           string
	Status         GameStatus
	CalledNumbers  []int
	Sequence       int
	NumberInterval int
	MinPlayers     int
	MaxPlayers     int
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// LastNumber returns the most recently called number, or 0 if none.
func (g Game) LastNumber() int {
	if len(g.CalledNumbers) == 0 {
		return 0
	}
	return g.CalledNumbers[len(g.CalledNumbers)-1]
}

// GameSummary is a game with its current player count.
type GameSummary struct {
	Game
	PlayerCount int
}

// Settings holds the host-editable pacing and capacity of a game.
type Settings struct {
	NumberInterval int
	MinPlayers     int
	MaxPlayers     int
}

// GamePattern is the prize configuration of one pattern in one game.
// Points2nd and Points3rd are nil when the pattern has fewer ranked slots.
type GamePattern struct {
	Pattern   Pattern
	Enabled   bool
	Points1st int
	Points2nd *int
	Points3rd *int
}

// MaxRank is the number of ranked prize slots configured for the pattern.
func (gp GamePattern) MaxRank() int {
	switch {
	case gp.Points3rd != nil:
		return 3
	case gp.Points2nd != nil:
		return 2
	default:
		return 1
	}
}

// PointsFor returns the award for rank. Missing tiers fall back to the
// first-place value.
func (gp GamePattern) PointsFor(rank int) int {
	switch {
	case rank == 2 && gp.Points2nd != nil:
		return *gp.Points2nd
	case rank == 3 && gp.Points3rd != nil:
		return *gp.Points3rd
	default:
		return gp.Points1st
	}
}

type Player struct {
	ID       string
	GameID   string
	Name     string
	Token    string
	JoinedAt time.Time
}

// Grid is a 3x9 ticket layout. Zero marks an empty cell.
type Grid [3][9]int

// Numbers returns the ticket's numbers in row-major order.
func (g Grid) Numbers() []int {
	nums := make([]int, 0, 15)
	for _, row := range g {
		for _, n := range row {
			if n != 0 {
				nums = append(nums, n)
			}
		}
	}
	return nums
}

// Row returns the numbers of row i, left to right.
func (g Grid) Row(i int) []int {
	if i < 0 || i >= len(g) {
		return nil
	}
	var nums []int
	for _, n := range g[i] {
		if n != 0 {
			nums = append(nums, n)
		}
	}
	return nums
}

// Contains reports whether n appears on the ticket.
func (g Grid) Contains(n int) bool {
	for _, row := range g {
		for _, v := range row {
			if v != 0 && v == n {
				return true
			}
		}
	}
	return false
}

type Ticket struct {
	ID       string
	GameID   string
	PlayerID string
	Grid     Grid
	Marked   []int
}

type Claim struct {
	ID         string
	GameID     string
	PlayerID   string
	PlayerName string
	Pattern    Pattern
	Rank       int
	Points     int
	ClaimedAt  time.Time
}
