// Package sqlite stores games in SQLite through libSQL.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/femildignizant/tambola/internal/tambola"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// uniqueViolation reports whether err is a UNIQUE constraint failure whose
// message names column.
func uniqueViolation(err error, column string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, column)
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return tambola.ErrStale
	}
	return nil
}

// Hosts

func (s *Store) CreateHost(ctx context.Context, h tambola.Host, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hosts (id, email, name, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, h.ID, h.Email, h.Name, passwordHash, formatTime(h.CreatedAt))
	if uniqueViolation(err, "hosts.email") {
		return tambola.ErrDuplicate
	}
	return err
}

func (s *Store) scanHost(row scanner) (tambola.Host, string, error) {
	var h tambola.Host
	var hash, created string
	err := row.Scan(&h.ID, &h.Email, &h.Name, &hash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return h, "", tambola.ErrNotFound
	}
	if err != nil {
		return h, "", err
	}
	if h.CreatedAt, err = parseTime(created); err != nil {
		return h, "", err
	}
	return h, hash, nil
}

func (s *Store) HostCredentials(ctx context.Context, email string) (tambola.Host, string, error) {
	return s.scanHost(s.db.QueryRowContext(ctx, `
		SELECT id, email, name, password_hash, created_at FROM hosts WHERE email = ?
	`, email))
}

func (s *Store) Host(ctx context.Context, id string) (tambola.Host, error) {
	h, _, err := s.scanHost(s.db.QueryRowContext(ctx, `
		SELECT id, email, name, password_hash, created_at FROM hosts WHERE id = ?
	`, id))
	return h, err
}

// Games

const gameColumns = `g.id, g.host_id, g.title, g.code, g.status, g.called_numbers, g.current_sequence,
	g.number_interval, g.min_players, g.max_players, g.created_at, g.started_at, g.completed_at`

func scanGame(row scanner, extra ...any) (tambola.Game, error) {
	var g tambola.Game
	var called, created string
	var started, completed sql.NullString
	dest := append([]any{
		&g.ID, &g.HostID, &g.Title, &g.Code, &g.Status, &called, &g.Sequence,
		&g.NumberInterval, &g.MinPlayers, &g.MaxPlayers, &created, &started, &completed,
	}, extra...)
	err := row.Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return g, tambola.ErrNotFound
	}
	if err != nil {
		return g, err
	}

	if err := json.Unmarshal([]byte(called), &g.CalledNumbers); err != nil {
		return g, fmt.Errorf("decoding called numbers: %w", err)
	}
	if g.CreatedAt, err = parseTime(created); err != nil {
		return g, err
	}
	if g.StartedAt, err = parseNullTime(started); err != nil {
		return g, err
	}
	if g.CompletedAt, err = parseNullTime(completed); err != nil {
		return g, err
	}
	return g, nil
}

func (s *Store) CreateGame(ctx context.Context, g tambola.Game, patterns []tambola.GamePattern) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO games (id, host_id, title, code, status, number_interval, min_players, max_players, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, g.ID, g.HostID, g.Title, g.Code, g.Status, g.NumberInterval, g.MinPlayers, g.MaxPlayers, formatTime(g.CreatedAt))
	if uniqueViolation(err, "games.code") {
		return tambola.ErrDuplicate
	}
	if err != nil {
		return err
	}

	if err := insertPatterns(ctx, tx, g.ID, patterns); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Game(ctx context.Context, id string) (tambola.Game, error) {
	return scanGame(s.db.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM games g WHERE g.id = ?`, id))
}

func (s *Store) GameByCode(ctx context.Context, code string) (tambola.Game, error) {
	return scanGame(s.db.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM games g WHERE g.code = ?`, code))
}

func (s *Store) HostGames(ctx context.Context, hostID string) ([]tambola.GameSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+gameColumns+`, (SELECT COUNT(*) FROM players p WHERE p.game_id = g.id)
		FROM games g
		WHERE g.host_id = ?
		ORDER BY g.created_at DESC
	`, hostID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var games []tambola.GameSummary
	for rows.Next() {
		var gs tambola.GameSummary
		g, err := scanGame(rows, &gs.PlayerCount)
		if err != nil {
			return nil, err
		}
		gs.Game = g
		games = append(games, gs)
	}
	return games, rows.Err()
}

func (s *Store) PlayerCount(ctx context.Context, gameID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM players WHERE game_id = ?`, gameID).Scan(&n)
	return n, err
}

func (s *Store) UpdateSettings(ctx context.Context, gameID string, set tambola.Settings) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE games
		SET number_interval = ?, min_players = ?, max_players = ?
		WHERE id = ? AND status IN ('CONFIGURING', 'LOBBY')
	`, set.NumberInterval, set.MinPlayers, set.MaxPlayers, gameID)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (s *Store) StartGame(ctx context.Context, gameID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE games
		SET status = 'STARTED', started_at = ?
		WHERE id = ? AND status IN ('CONFIGURING', 'LOBBY')
		  AND (SELECT COUNT(*) FROM players WHERE game_id = ?) >= min_players
	`, formatTime(at), gameID, gameID)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (s *Store) AppendNumber(ctx context.Context, gameID string, prevSeq int, called []int, completedAt *time.Time) error {
	data, err := json.Marshal(called)
	if err != nil {
		return err
	}
	completed := nullTime(completedAt)
	res, err := s.db.ExecContext(ctx, `
		UPDATE games
		SET called_numbers = ?,
		    current_sequence = ?,
		    status = CASE WHEN ? IS NOT NULL THEN 'COMPLETED' ELSE status END,
		    completed_at = COALESCE(?, completed_at)
		WHERE id = ? AND current_sequence = ? AND status = 'STARTED'
	`, string(data), len(called), completed, completed, gameID, prevSeq)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (s *Store) CompleteGame(ctx context.Context, gameID string, at time.Time) (int, error) {
	var seq int
	err := s.db.QueryRowContext(ctx, `
		UPDATE games
		SET status = 'COMPLETED', completed_at = ?
		WHERE id = ? AND status = 'STARTED'
		RETURNING current_sequence
	`, formatTime(at), gameID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, tambola.ErrStale
	}
	return seq, err
}

// Patterns

func insertPatterns(ctx context.Context, tx *sql.Tx, gameID string, patterns []tambola.GamePattern) error {
	for _, gp := range patterns {
		enabled := 0
		if gp.Enabled {
			enabled = 1
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO game_patterns (game_id, pattern, enabled, points_1st, points_2nd, points_3rd)
			VALUES (?, ?, ?, ?, ?, ?)
		`, gameID, gp.Pattern, enabled, gp.Points1st, nullInt(gp.Points2nd), nullInt(gp.Points3rd))
		if uniqueViolation(err, "game_patterns.pattern") {
			return fmt.Errorf("pattern %s: %w", gp.Pattern, tambola.ErrDuplicate)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func (s *Store) Patterns(ctx context.Context, gameID string) ([]tambola.GamePattern, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pattern, enabled, points_1st, points_2nd, points_3rd
		FROM game_patterns
		WHERE game_id = ?
	`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patterns []tambola.GamePattern
	for rows.Next() {
		var gp tambola.GamePattern
		var enabled int
		var p2, p3 sql.NullInt64
		if err := rows.Scan(&gp.Pattern, &enabled, &gp.Points1st, &p2, &p3); err != nil {
			return nil, err
		}
		gp.Enabled = enabled == 1
		gp.Points2nd, gp.Points3rd = intPtr(p2), intPtr(p3)
		patterns = append(patterns, gp)
	}
	return patterns, rows.Err()
}

func (s *Store) ReplacePatterns(ctx context.Context, gameID string, patterns []tambola.GamePattern) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Touch the game row first: it takes the write lock and fails once the
	// game has started.
	res, err := tx.ExecContext(ctx, `
		UPDATE games SET status = status
		WHERE id = ? AND status IN ('CONFIGURING', 'LOBBY')
	`, gameID)
	if err != nil {
		return err
	}
	if err := checkAffected(res); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM game_patterns WHERE game_id = ?`, gameID); err != nil {
		return err
	}
	if err := insertPatterns(ctx, tx, gameID, patterns); err != nil {
		return err
	}
	return tx.Commit()
}

// Players and tickets

func (s *Store) JoinGame(ctx context.Context, p tambola.Player, t tambola.Ticket) error {
	grid, err := json.Marshal(t.Grid)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE games SET status = 'LOBBY'
		WHERE id = ? AND status IN ('CONFIGURING', 'LOBBY')
		  AND (SELECT COUNT(*) FROM players WHERE game_id = ?) < max_players
	`, p.GameID, p.GameID)
	if err != nil {
		return err
	}
	if err := checkAffected(res); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO players (id, game_id, name, token, joined_at)
		VALUES (?, ?, ?, ?, ?)
	`, p.ID, p.GameID, p.Name, p.Token, formatTime(p.JoinedAt))
	if uniqueViolation(err, "players.token") {
		return tambola.ErrDuplicate
	}
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tickets (id, game_id, player_id, grid)
		VALUES (?, ?, ?, ?)
	`, t.ID, t.GameID, t.PlayerID, string(grid))
	if err != nil {
		return err
	}
	return tx.Commit()
}

const playerColumns = `id, game_id, name, token, joined_at`

func scanPlayer(row scanner) (tambola.Player, error) {
	var p tambola.Player
	var joined string
	err := row.Scan(&p.ID, &p.GameID, &p.Name, &p.Token, &joined)
	if errors.Is(err, sql.ErrNoRows) {
		return p, tambola.ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.JoinedAt, err = parseTime(joined)
	return p, err
}

func (s *Store) Player(ctx context.Context, id string) (tambola.Player, error) {
	return scanPlayer(s.db.QueryRowContext(ctx, `SELECT `+playerColumns+` FROM players WHERE id = ?`, id))
}

func (s *Store) PlayerByToken(ctx context.Context, token string) (tambola.Player, error) {
	return scanPlayer(s.db.QueryRowContext(ctx, `SELECT `+playerColumns+` FROM players WHERE token = ?`, token))
}

func (s *Store) Players(ctx context.Context, gameID string) ([]tambola.Player, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+playerColumns+` FROM players WHERE game_id = ? ORDER BY joined_at, id
	`, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []tambola.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

func (s *Store) Ticket(ctx context.Context, gameID, playerID string) (tambola.Ticket, error) {
	var t tambola.Ticket
	var grid, marked string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, game_id, player_id, grid, marked
		FROM tickets
		WHERE game_id = ? AND player_id = ?
	`, gameID, playerID).Scan(&t.ID, &t.GameID, &t.PlayerID, &grid, &marked)
	if errors.Is(err, sql.ErrNoRows) {
		return t, tambola.ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if err := json.Unmarshal([]byte(grid), &t.Grid); err != nil {
		return t, fmt.Errorf("decoding grid: %w", err)
	}
	if err := json.Unmarshal([]byte(marked), &t.Marked); err != nil {
		return t, fmt.Errorf("decoding marks: %w", err)
	}
	return t, nil
}

func marshalMarks(marked []int) (string, error) {
	if marked == nil {
		marked = []int{}
	}
	data, err := json.Marshal(marked)
	return string(data), err
}

func (s *Store) SetMarked(ctx context.Context, ticketID string, prev, marked []int) error {
	from, err := marshalMarks(prev)
	if err != nil {
		return err
	}
	to, err := marshalMarks(marked)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tickets SET marked = ? WHERE id = ? AND marked = ?`, to, ticketID, from)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

// Claims

const claimSelect = `
	SELECT c.id, c.game_id, c.player_id, p.name, c.pattern, c.prize_rank, c.points, c.claimed_at
	FROM claims c
	JOIN players p ON p.id = c.player_id
`

func (s *Store) queryClaims(ctx context.Context, query string, args ...any) ([]tambola.Claim, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claims []tambola.Claim
	for rows.Next() {
		var c tambola.Claim
		var claimed string
		if err := rows.Scan(&c.ID, &c.GameID, &c.PlayerID, &c.PlayerName, &c.Pattern, &c.Rank, &c.Points, &claimed); err != nil {
			return nil, err
		}
		if c.ClaimedAt, err = parseTime(claimed); err != nil {
			return nil, err
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

func (s *Store) Claims(ctx context.Context, gameID string) ([]tambola.Claim, error) {
	return s.queryClaims(ctx, claimSelect+`WHERE c.game_id = ? ORDER BY c.claimed_at, c.prize_rank`, gameID)
}

func (s *Store) PatternClaims(ctx context.Context, gameID string, p tambola.Pattern) ([]tambola.Claim, error) {
	return s.queryClaims(ctx, claimSelect+`WHERE c.game_id = ? AND c.pattern = ? ORDER BY c.prize_rank`, gameID, p)
}

func (s *Store) ClaimAtRank(ctx context.Context, gameID string, p tambola.Pattern, rank int) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM claims WHERE game_id = ? AND pattern = ? AND prize_rank = ?
	`, gameID, p, rank).Scan(&count)
	return count > 0, err
}

func (s *Store) InsertClaim(ctx context.Context, c tambola.Claim) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO claims (id, game_id, player_id, pattern, prize_rank, points, claimed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.GameID, c.PlayerID, c.Pattern, c.Rank, c.Points, formatTime(c.ClaimedAt))
	switch {
	case uniqueViolation(err, "claims.prize_rank"):
		return tambola.ErrRankTaken
	case uniqueViolation(err, "claims.player_id"):
		return tambola.ErrPlayerClaimed
	}
	return err
}
