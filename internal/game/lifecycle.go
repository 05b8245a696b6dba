package game

import (
	"cmp"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/femildignizant/tambola/internal/broker"
	"github.com/femildignizant/tambola/internal/tambola"
	"github.com/femildignizant/tambola/internal/ticket"
)

const (
	codeAlphabet  = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	codeLength    = 6
	codeAttempts  = 3
	maxTitleLen   = 100
	maxNameLen    = 20
	minInterval   = 2
	maxInterval   = 60
	maxPlayersCap = 200

	defaultInterval   = 10
	defaultMinPlayers = 2
	defaultMaxPlayers = 75
)

func newCode() (string, error) {
	size := big.NewInt(int64(len(codeAlphabet)))
	buf := make([]byte, codeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("reading random source: %w", err)
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// CreateGame creates a CONFIGURING game owned by hostID with patterns from
// the named preset.
func (s *Service) CreateGame(ctx context.Context, hostID, title, preset string) (tambola.Game, error) {
	title = strings.TrimSpace(title)
	if title == "" || utf8.RuneCountInString(title) > maxTitleLen {
		return tambola.Game{}, tambola.Errorf(tambola.CodeInvalidInput, "title must be 1-%d characters", maxTitleLen)
	}
	if preset == "" {
		preset = DefaultPreset
	}
	patterns, ok := s.presets[preset]
	if !ok {
		return tambola.Game{}, tambola.Errorf(tambola.CodeInvalidInput, "unknown preset %q", preset)
	}

	g := tambola.Game{
		ID:             newID(),
		HostID:         hostID,
		Title:          title,
		Status:         tambola.StatusConfiguring,
		NumberInterval: defaultInterval,
		MinPlayers:     defaultMinPlayers,
		MaxPlayers:     defaultMaxPlayers,
		CreatedAt:      s.now(),
	}

	for attempt := 1; ; attempt++ {
		code, err := newCode()
		if err != nil {
			return tambola.Game{}, fmt.Errorf("generating game code: %w", err)
		}
		g.Code = code

		err = s.store.CreateGame(ctx, g, patterns)
		if err == nil {
			break
		}
		if !errors.Is(err, tambola.ErrDuplicate) || attempt == codeAttempts {
			return tambola.Game{}, fmt.Errorf("creating game: %w", err)
		}
	}

	s.logger.Info("game created", "game_id", g.ID, "host_id", hostID, "code", g.Code)
	return g, nil
}

// HostGames lists the host's games, newest first.
func (s *Service) HostGames(ctx context.Context, hostID string) ([]tambola.GameSummary, error) {
	games, err := s.store.HostGames(ctx, hostID)
	if err != nil {
		return nil, fmt.Errorf("listing games: %w", err)
	}
	return games, nil
}

// hostGame loads a game and checks that hostID owns it.
func (s *Service) hostGame(ctx context.Context, hostID, gameID string) (tambola.Game, error) {
	g, err := s.loadGame(ctx, gameID)
	if err != nil {
		return tambola.Game{}, err
	}
	if g.HostID != hostID {
		return tambola.Game{}, tambola.Errorf(tambola.CodeUnauthorized, "only the host can change this game")
	}
	return g, nil
}

// SettingsPatch carries the settings a host wants to change; nil fields keep
// their current value.
type SettingsPatch struct {
	NumberInterval *int
	MinPlayers     *int
	MaxPlayers     *int
}

func (s *Service) UpdateSettings(ctx context.Context, hostID, gameID string, patch SettingsPatch) (tambola.Game, error) {
	g, err := s.hostGame(ctx, hostID, gameID)
	if err != nil {
		return tambola.Game{}, err
	}
	if !g.Status.Joinable() {
		return tambola.Game{}, tambola.Errorf(tambola.CodeInvalidGameStatus, "settings are locked once the game is %s", g.Status)
	}

	set := tambola.Settings{NumberInterval: g.NumberInterval, MinPlayers: g.MinPlayers, MaxPlayers: g.MaxPlayers}
	if patch.NumberInterval != nil {
		set.NumberInterval = *patch.NumberInterval
	}
	if patch.MinPlayers != nil {
		set.MinPlayers = *patch.MinPlayers
	}
	if patch.MaxPlayers != nil {
		set.MaxPlayers = *patch.MaxPlayers
	}

	switch {
	case set.NumberInterval < minInterval || set.NumberInterval > maxInterval:
		return tambola.Game{}, tambola.Errorf(tambola.CodeInvalidInput, "numberInterval must be %d-%d seconds", minInterval, maxInterval)
	case set.MinPlayers < 1 || set.MaxPlayers > maxPlayersCap || set.MinPlayers > set.MaxPlayers:
		return tambola.Game{}, tambola.Errorf(tambola.CodeInvalidInput, "players must satisfy 1 <= minPlayers <= maxPlayers <= %d", maxPlayersCap)
	}

	count, err := s.store.PlayerCount(ctx, g.ID)
	if err != nil {
		return tambola.Game{}, fmt.Errorf("counting players: %w", err)
	}
	if set.MaxPlayers < count {
		return tambola.Game{}, tambola.Errorf(tambola.CodeInvalidInput, "maxPlayers is below the %d players already joined", count)
	}

	err = s.store.UpdateSettings(ctx, g.ID, set)
	if errors.Is(err, tambola.ErrStale) {
		return tambola.Game{}, tambola.Errorf(tambola.CodeInvalidGameStatus, "game has already started")
	}
	if err != nil {
		return tambola.Game{}, fmt.Errorf("updating settings: %w", err)
	}

	g.NumberInterval, g.MinPlayers, g.MaxPlayers = set.NumberInterval, set.MinPlayers, set.MaxPlayers
	return g, nil
}

// ValidatePatterns checks a full pattern configuration.
func ValidatePatterns(patterns []tambola.GamePattern) error {
	seen := make(map[tambola.Pattern]bool, len(patterns))
	fullHouse := false
	for _, gp := range patterns {
		if _, err := tambola.ParsePattern(string(gp.Pattern)); err != nil {
			return tambola.Errorf(tambola.CodeInvalidInput, "%v", err)
		}
		if seen[gp.Pattern] {
			return tambola.Errorf(tambola.CodeInvalidInput, "%s appears more than once", gp.Pattern)
		}
		seen[gp.Pattern] = true

		if gp.Pattern == tambola.FullHouse {
			if !gp.Enabled {
				return tambola.Errorf(tambola.CodeInvalidInput, "FULL_HOUSE must be enabled")
			}
			fullHouse = true
		}
		if gp.Points1st <= 0 {
			return tambola.Errorf(tambola.CodeInvalidInput, "%s: points1st must be positive", gp.Pattern)
		}
		if gp.Points3rd != nil && gp.Points2nd == nil {
			return tambola.Errorf(tambola.CodeInvalidInput, "%s: points3rd requires points2nd", gp.Pattern)
		}
		if gp.Points2nd != nil && (*gp.Points2nd <= 0 || *gp.Points2nd >= gp.Points1st) {
			return tambola.Errorf(tambola.CodeInvalidInput, "%s: points2nd must be positive and below points1st", gp.Pattern)
		}
		if gp.Points3rd != nil && (*gp.Points3rd <= 0 || *gp.Points3rd >= *gp.Points2nd) {
			return tambola.Errorf(tambola.CodeInvalidInput, "%s: points3rd must be positive and below points2nd", gp.Pattern)
		}
	}
	if !fullHouse {
		return tambola.Errorf(tambola.CodeInvalidInput, "FULL_HOUSE is required")
	}
	return nil
}

// Patterns returns the game's pattern configuration in display order.
func (s *Service) Patterns(ctx context.Context, gameID string) ([]tambola.GamePattern, error) {
	if _, err := s.loadGame(ctx, gameID); err != nil {
		return nil, err
	}
	patterns, err := s.store.Patterns(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("loading patterns: %w", err)
	}
	sortPatterns(patterns)
	return patterns, nil
}

func sortPatterns(patterns []tambola.GamePattern) {
	slices.SortFunc(patterns, func(a, b tambola.GamePattern) int {
		return cmp.Compare(slices.Index(tambola.Patterns, a.Pattern), slices.Index(tambola.Patterns, b.Pattern))
	})
}

// ReplacePatterns swaps the whole pattern configuration of a game that has
// not started.
func (s *Service) ReplacePatterns(ctx context.Context, hostID, gameID string, patterns []tambola.GamePattern) error {
	g, err := s.hostGame(ctx, hostID, gameID)
	if err != nil {
		return err
	}
	if !g.Status.Joinable() {
		return tambola.Errorf(tambola.CodeInvalidGameStatus, "patterns are locked once the game is %s", g.Status)
	}
	if err := ValidatePatterns(patterns); err != nil {
		return err
	}

	err = s.store.ReplacePatterns(ctx, g.ID, patterns)
	if errors.Is(err, tambola.ErrStale) {
		return tambola.Errorf(tambola.CodeInvalidGameStatus, "game has already started")
	}
	if err != nil {
		return fmt.Errorf("replacing patterns: %w", err)
	}
	return nil
}

// joinRejection returns why a player cannot join g, or nil.
func joinRejection(g tambola.Game, playerCount int) error {
	switch {
	case g.Status == tambola.StatusCompleted:
		return tambola.Errorf(tambola.CodeGameCompleted, "game has ended")
	case g.Status == tambola.StatusStarted:
		return tambola.Errorf(tambola.CodeGameAlreadyStarted, "game has already started")
	case playerCount >= g.MaxPlayers:
		return tambola.Errorf(tambola.CodeGameFull, "game is full")
	}
	return nil
}

type LookupResult struct {
	Game        tambola.Game
	PlayerCount int
}

// Lookup resolves a join code to a game that can still be joined.
func (s *Service) Lookup(ctx context.Context, code string) (LookupResult, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != codeLength || strings.Trim(code, codeAlphabet) != "" {
		return LookupResult{}, tambola.Errorf(tambola.CodeInvalidInput, "game code must be %d letters or digits", codeLength)
	}

	g, err := s.store.GameByCode(ctx, code)
	if errors.Is(err, tambola.ErrNotFound) {
		return LookupResult{}, tambola.Errorf(tambola.CodeNotFound, "game not found")
	}
	if err != nil {
		return LookupResult{}, fmt.Errorf("looking up code: %w", err)
	}

	count, err := s.store.PlayerCount(ctx, g.ID)
	if err != nil {
		return LookupResult{}, fmt.Errorf("counting players: %w", err)
	}
	if err := joinRejection(g, count); err != nil {
		return LookupResult{}, err
	}
	return LookupResult{Game: g, PlayerCount: count}, nil
}

type JoinResult struct {
	Player tambola.Player
	Ticket tambola.Ticket
}

// Join adds a player with a fresh ticket. The first join moves the game to
// LOBBY.
func (s *Service) Join(ctx context.Context, gameID, name string) (JoinResult, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLen {
		return JoinResult{}, tambola.Errorf(tambola.CodeInvalidInput, "name must be 1-%d characters", maxNameLen)
	}

	g, err := s.loadGame(ctx, gameID)
	if err != nil {
		return JoinResult{}, err
	}
	count, err := s.store.PlayerCount(ctx, g.ID)
	if err != nil {
		return JoinResult{}, fmt.Errorf("counting players: %w", err)
	}
	if err := joinRejection(g, count); err != nil {
		return JoinResult{}, err
	}

	grid, err := ticket.Generate()
	if err != nil {
		return JoinResult{}, err
	}
	token, err := newToken()
	if err != nil {
		return JoinResult{}, fmt.Errorf("generating token: %w", err)
	}

	p := tambola.Player{
		ID:       newID(),
		GameID:   g.ID,
		Name:     name,
		Token:    token,
		JoinedAt: s.now(),
	}
	t := tambola.Ticket{
		ID:       newID(),
		GameID:   g.ID,
		PlayerID: p.ID,
		Grid:     grid,
	}

	err = s.store.JoinGame(ctx, p, t)
	if errors.Is(err, tambola.ErrStale) {
		// Status or capacity moved since the checks above.
		if g, err = s.loadGame(ctx, gameID); err != nil {
			return JoinResult{}, err
		}
		if count, err = s.store.PlayerCount(ctx, g.ID); err != nil {
			return JoinResult{}, fmt.Errorf("counting players: %w", err)
		}
		if err := joinRejection(g, count); err != nil {
			return JoinResult{}, err
		}
		return JoinResult{}, tambola.Errorf(tambola.CodeConcurrentUpdate, "game changed while joining, retry")
	}
	if err != nil {
		return JoinResult{}, fmt.Errorf("joining game: %w", err)
	}

	s.logger.Info("player joined", "game_id", g.ID, "player_id", p.ID)
	s.events.Publish(g.ID, broker.Event{Type: broker.TypePlayerJoined, Data: PlayerJoined{
		Player: JoinedPlayer{ID: p.ID, Name: p.Name, JoinedAt: p.JoinedAt},
	}})
	return JoinResult{Player: p, Ticket: t}, nil
}

func startRejection(g tambola.Game, playerCount int) error {
	switch {
	case g.Status == tambola.StatusStarted:
		return tambola.Errorf(tambola.CodeGameAlreadyStarted, "game has already started")
	case g.Status == tambola.StatusCompleted:
		return tambola.Errorf(tambola.CodeGameCompleted, "game has ended")
	case playerCount < g.MinPlayers:
		return tambola.Errorf(tambola.CodeMinPlayersNotMet,
			"Minimum %d players required. Currently %d joined.", g.MinPlayers, playerCount)
	}
	return nil
}

// Start moves a game to STARTED once enough players have joined.
func (s *Service) Start(ctx context.Context, hostID, gameID string) (time.Time, error) {
	g, err := s.hostGame(ctx, hostID, gameID)
	if err != nil {
		return time.Time{}, err
	}
	count, err := s.store.PlayerCount(ctx, g.ID)
	if err != nil {
		return time.Time{}, fmt.Errorf("counting players: %w", err)
	}
	if err := startRejection(g, count); err != nil {
		return time.Time{}, err
	}

	now := s.now()
	err = s.store.StartGame(ctx, g.ID, now)
	if errors.Is(err, tambola.ErrStale) {
		if g, err = s.loadGame(ctx, gameID); err != nil {
			return time.Time{}, err
		}
		if count, err = s.store.PlayerCount(ctx, g.ID); err != nil {
			return time.Time{}, fmt.Errorf("counting players: %w", err)
		}
		if err := startRejection(g, count); err != nil {
			return time.Time{}, err
		}
		return time.Time{}, tambola.Errorf(tambola.CodeConcurrentUpdate, "game changed while starting, retry")
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("starting game: %w", err)
	}

	s.logger.Info("game started", "game_id", g.ID, "players", count)
	s.events.Publish(g.ID, broker.Event{Type: broker.TypeGameStarted, Data: GameStarted{
		GameID:    g.ID,
		StartedAt: now,
	}})
	return now, nil
}
