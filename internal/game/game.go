// Package game runs the Tambola engine: game lifecycle, number calling and
// prize claim arbitration.
//
// The engine keeps no per-game state in memory. Every operation reads the
// durable game, decides, and writes back through conditional updates, so
// any number of server instances can serve the same game. Ordering between
// concurrent callers comes from the Store (sequence compare-and-swap, unique
// indexes) and the Locker (set-if-absent with expiry).
package game

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/femildignizant/tambola/internal/broker"
	"github.com/femildignizant/tambola/internal/tambola"
)

// Store is the durable game state. Conditional writes that match no row
// return tambola.ErrStale; unique violations return tambola.ErrDuplicate or
// one of the claim-specific variants.
type Store interface {
	CreateHost(ctx context.Context, h tambola.Host, passwordHash string) error
	HostCredentials(ctx context.Context, email string) (tambola.Host, string, error)
	Host(ctx context.Context, id string) (tambola.Host, error)

	CreateGame(ctx context.Context, g tambola.Game, patterns []tambola.GamePattern) error
	Game(ctx context.Context, id string) (tambola.Game, error)
	GameByCode(ctx context.Context, code string) (tambola.Game, error)
	HostGames(ctx context.Context, hostID string) ([]tambola.GameSummary, error)
	PlayerCount(ctx context.Context, gameID string) (int, error)
	UpdateSettings(ctx context.Context, gameID string, s tambola.Settings) error
	Patterns(ctx context.Context, gameID string) ([]tambola.GamePattern, error)
	ReplacePatterns(ctx context.Context, gameID string, patterns []tambola.GamePattern) error
	StartGame(ctx context.Context, gameID string, at time.Time) error
	// AppendNumber stores called as the new called list if the stored
	// sequence still equals prevSeq and the game is STARTED. A non-nil
	// completedAt completes the game in the same write.
	AppendNumber(ctx context.Context, gameID string, prevSeq int, called []int, completedAt *time.Time) error
	// CompleteGame moves a STARTED game to COMPLETED and returns its final
	// sequence.
	CompleteGame(ctx context.Context, gameID string, at time.Time) (int, error)

	JoinGame(ctx context.Context, p tambola.Player, t tambola.Ticket) error
	Player(ctx context.Context, id string) (tambola.Player, error)
	PlayerByToken(ctx context.Context, token string) (tambola.Player, error)
	Players(ctx context.Context, gameID string) ([]tambola.Player, error)
	Ticket(ctx context.Context, gameID, playerID string) (tambola.Ticket, error)
	// SetMarked replaces a ticket's marks if they still equal prev, and
	// returns ErrStale otherwise.
	SetMarked(ctx context.Context, ticketID string, prev, marked []int) error

	Claims(ctx context.Context, gameID string) ([]tambola.Claim, error)
	PatternClaims(ctx context.Context, gameID string, p tambola.Pattern) ([]tambola.Claim, error)
	ClaimAtRank(ctx context.Context, gameID string, p tambola.Pattern, rank int) (bool, error)
	InsertClaim(ctx context.Context, c tambola.Claim) error
}

// Locker is the fast lock store used to steer concurrent claims to ranks.
type Locker interface {
	TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key, owner string) error
}

// Publisher delivers events to a game's connected clients, fire and forget.
type Publisher interface {
	Publish(gameID string, event broker.Event)
}

type Config struct {
	// LockTTL bounds how long a crashed claim can hold a rank.
	LockTTL time.Duration
	// Presets are named pattern configurations; "default" seeds new games.
	Presets map[string][]tambola.GamePattern
}

const DefaultPreset = "default"

type Service struct {
	store   Store
	locks   Locker
	events  Publisher
	logger  *slog.Logger
	lockTTL time.Duration
	presets map[string][]tambola.GamePattern
	now     func() time.Time
}

func NewService(store Store, locks Locker, events Publisher, logger *slog.Logger, cfg Config) *Service {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Second
	}
	presets := cfg.Presets
	if _, ok := presets[DefaultPreset]; !ok {
		presets = make(map[string][]tambola.GamePattern, len(cfg.Presets)+1)
		for k, v := range cfg.Presets {
			presets[k] = v
		}
		presets[DefaultPreset] = []tambola.GamePattern{
			{Pattern: tambola.FullHouse, Enabled: true, Points1st: 100},
		}
	}
	return &Service{
		store:   store,
		locks:   locks,
		events:  events,
		logger:  logger,
		lockTTL: cfg.LockTTL,
		presets: presets,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Presets returns the named pattern configurations.
func (s *Service) Presets() map[string][]tambola.GamePattern {
	return s.presets
}

func newID() string { return uuid.NewString() }

// Event payloads.

type NumberCalled struct {
	Number    int       `json:"number"`
	Sequence  int       `json:"sequence"`
	Remaining int       `json:"remaining"`
	Timestamp time.Time `json:"timestamp"`
}

type Winner struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	Points     int    `json:"points"`
}

type GameEnded struct {
	Reason        tambola.EndReason `json:"reason"`
	FinalSequence *int              `json:"finalSequence,omitempty"`
	CompletedAt   time.Time         `json:"completedAt"`
	Winner        *Winner           `json:"winner,omitempty"`
}

type ClaimAccepted struct {
	ClaimID    string          `json:"claimId"`
	PlayerID   string          `json:"playerId"`
	PlayerName string          `json:"playerName"`
	Pattern    tambola.Pattern `json:"pattern"`
	Rank       int             `json:"rank"`
	Points     int             `json:"points"`
	ClaimedAt  time.Time       `json:"claimedAt"`
}

type JoinedPlayer struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joinedAt"`
}

type PlayerJoined struct {
	Player JoinedPlayer `json:"player"`
}

type GameStarted struct {
	GameID    string    `json:"gameId"`
	StartedAt time.Time `json:"startedAt"`
}
