// Package postgres stores games in PostgreSQL through pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	trmpgx "github.com/avito-tech/go-transaction-manager/drivers/pgxv5/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2/manager"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/femildignizant/tambola/internal/tambola"
)

const (
	tableHosts    = "hosts"
	tableGames    = "games"
	tablePatterns = "game_patterns"
	tablePlayers  = "players"
	tableTickets  = "tickets"
	tableClaims   = "claims"

	uniqueViolation = "23505"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var joinable = []string{string(tambola.StatusConfiguring), string(tambola.StatusLobby)}

type Store struct {
	pool   *pgxpool.Pool
	txm    *manager.Manager
	getter *trmpgx.CtxGetter
}

func New(pool *pgxpool.Pool) (*Store, error) {
	txm, err := manager.New(trmpgx.NewDefaultFactory(pool))
	if err != nil {
		return nil, fmt.Errorf("creating tx manager: %w", err)
	}
	return &Store{pool: pool, txm: txm, getter: trmpgx.DefaultCtxGetter}, nil
}

// conn returns the transaction bound to ctx, or the pool outside one.
func (s *Store) conn(ctx context.Context) trmpgx.Tr {
	return s.getter.DefaultTrOrDB(ctx, s.pool)
}

func (s *Store) exec(ctx context.Context, b sq.Sqlizer) (pgconn.CommandTag, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	return s.conn(ctx).Exec(ctx, query, args...)
}

func (s *Store) queryRow(ctx context.Context, b sq.Sqlizer) pgx.Row {
	query, args, err := b.ToSql()
	if err != nil {
		return errRow{err}
	}
	return s.conn(ctx).QueryRow(ctx, query, args...)
}

func (s *Store) query(ctx context.Context, b sq.Sqlizer) (pgx.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	return s.conn(ctx).Query(ctx, query, args...)
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

// constraint returns the name of the unique constraint err violated.
func constraint(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}

// validID reports whether id can be compared to a UUID column. Anything
// else cannot match a row.
func validID(id string) bool {
	return uuid.Validate(id) == nil
}

func affected(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return tambola.ErrStale
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return tambola.ErrNotFound
	}
	return err
}

// Hosts

func (s *Store) CreateHost(ctx context.Context, h tambola.Host, passwordHash string) error {
	_, err := s.exec(ctx, psql.Insert(tableHosts).
		Columns("id", "email", "name", "password_hash", "created_at").
		Values(h.ID, h.Email, h.Name, passwordHash, h.CreatedAt))
	if _, ok := constraint(err); ok {
		return tambola.ErrDuplicate
	}
	return err
}

func (s *Store) HostCredentials(ctx context.Context, email string) (tambola.Host, string, error) {
	var h tambola.Host
	var hash string
	err := s.queryRow(ctx, psql.Select("id", "email", "name", "password_hash", "created_at").
		From(tableHosts).
		Where(sq.Eq{"email": email})).
		Scan(&h.ID, &h.Email, &h.Name, &hash, &h.CreatedAt)
	return h, hash, notFound(err)
}

func (s *Store) Host(ctx context.Context, id string) (tambola.Host, error) {
	var h tambola.Host
	if !validID(id) {
		return h, tambola.ErrNotFound
	}
	err := s.queryRow(ctx, psql.Select("id", "email", "name", "created_at").
		From(tableHosts).
		Where(sq.Eq{"id": id})).
		Scan(&h.ID, &h.Email, &h.Name, &h.CreatedAt)
	return h, notFound(err)
}

// Games

var gameColumns = []string{
	"g.id", "g.host_id", "g.title", "g.code", "g.status", "g.called_numbers", "g.current_sequence",
	"g.number_interval", "g.min_players", "g.max_players", "g.created_at", "g.started_at", "g.completed_at",
}

func scanGame(row pgx.Row, extra ...any) (tambola.Game, error) {
	var g tambola.Game
	dest := append([]any{
		&g.ID, &g.HostID, &g.Title, &g.Code, &g.Status, &g.CalledNumbers, &g.Sequence,
		&g.NumberInterval, &g.MinPlayers, &g.MaxPlayers, &g.CreatedAt, &g.StartedAt, &g.CompletedAt,
	}, extra...)
	err := row.Scan(dest...)
	return g, notFound(err)
}

func selectGames() sq.SelectBuilder {
	return psql.Select(gameColumns...).From(tableGames + " g")
}

func (s *Store) CreateGame(ctx context.Context, g tambola.Game, patterns []tambola.GamePattern) error {
	return s.txm.Do(ctx, func(ctx context.Context) error {
		_, err := s.exec(ctx, psql.Insert(tableGames).
			Columns("id", "host_id", "title", "code", "status", "number_interval", "min_players", "max_players", "created_at").
			Values(g.ID, g.HostID, g.Title, g.Code, g.Status, g.NumberInterval, g.MinPlayers, g.MaxPlayers, g.CreatedAt))
		if name, ok := constraint(err); ok && name == "games_code_key" {
			return tambola.ErrDuplicate
		}
		if err != nil {
			return err
		}
		return s.insertPatterns(ctx, g.ID, patterns)
	})
}

func (s *Store) Game(ctx context.Context, id string) (tambola.Game, error) {
	if !validID(id) {
		return tambola.Game{}, tambola.ErrNotFound
	}
	return scanGame(s.queryRow(ctx, selectGames().Where(sq.Eq{"g.id": id})))
}

func (s *Store) GameByCode(ctx context.Context, code string) (tambola.Game, error) {
	return scanGame(s.queryRow(ctx, selectGames().Where(sq.Eq{"g.code": code})))
}

func (s *Store) HostGames(ctx context.Context, hostID string) ([]tambola.GameSummary, error) {
	if !validID(hostID) {
		return nil, nil
	}
	rows, err := s.query(ctx, selectGames().
		Column("(SELECT COUNT(*) FROM players p WHERE p.game_id = g.id)").
		Where(sq.Eq{"g.host_id": hostID}).
		OrderBy("g.created_at DESC"))
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
	if !validID(gameID) {
		return 0, nil
	}
	var n int
	err := s.queryRow(ctx, psql.Select("COUNT(*)").From(tablePlayers).Where(sq.Eq{"game_id": gameID})).Scan(&n)
	return n, err
}

func (s *Store) UpdateSettings(ctx context.Context, gameID string, set tambola.Settings) error {
	tag, err := s.exec(ctx, psql.Update(tableGames).
		Set("number_interval", set.NumberInterval).
		Set("min_players", set.MinPlayers).
		Set("max_players", set.MaxPlayers).
		Where(sq.Eq{"id": gameID, "status": joinable}))
	if err != nil {
		return err
	}
	return affected(tag)
}

// lockGame takes the game row lock inside a transaction and returns its
// status and capacity.
func (s *Store) lockGame(ctx context.Context, gameID string) (tambola.GameStatus, int, error) {
	var status tambola.GameStatus
	var maxPlayers int
	err := s.queryRow(ctx, psql.Select("status", "max_players").
		From(tableGames).
		Where(sq.Eq{"id": gameID}).
		Suffix("FOR UPDATE")).
		Scan(&status, &maxPlayers)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", 0, tambola.ErrStale
	}
	return status, maxPlayers, err
}

func (s *Store) StartGame(ctx context.Context, gameID string, at time.Time) error {
	return s.txm.Do(ctx, func(ctx context.Context) error {
		status, _, err := s.lockGame(ctx, gameID)
		if err != nil {
			return err
		}
		if !status.Joinable() {
			return tambola.ErrStale
		}
		tag, err := s.exec(ctx, psql.Update(tableGames).
			Set("status", tambola.StatusStarted).
			Set("started_at", at).
			Where(sq.Eq{"id": gameID}).
			Where("(SELECT COUNT(*) FROM players WHERE game_id = ?) >= min_players", gameID))
		if err != nil {
			return err
		}
		return affected(tag)
	})
}

func (s *Store) AppendNumber(ctx context.Context, gameID string, prevSeq int, called []int, completedAt *time.Time) error {
	b := psql.Update(tableGames).
		Set("called_numbers", called).
		Set("current_sequence", len(called)).
		Where(sq.Eq{"id": gameID, "current_sequence": prevSeq, "status": tambola.StatusStarted})
	if completedAt != nil {
		b = b.Set("status", tambola.StatusCompleted).Set("completed_at", *completedAt)
	}
	tag, err := s.exec(ctx, b)
	if err != nil {
		return err
	}
	return affected(tag)
}

func (s *Store) CompleteGame(ctx context.Context, gameID string, at time.Time) (int, error) {
	var seq int
	err := s.queryRow(ctx, psql.Update(tableGames).
		Set("status", tambola.StatusCompleted).
		Set("completed_at", at).
		Where(sq.Eq{"id": gameID, "status": tambola.StatusStarted}).
		Suffix("RETURNING current_sequence")).
		Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, tambola.ErrStale
	}
	return seq, err
}

// Patterns

func (s *Store) insertPatterns(ctx context.Context, gameID string, patterns []tambola.GamePattern) error {
	if len(patterns) == 0 {
		return nil
	}
	b := psql.Insert(tablePatterns).
		Columns("game_id", "pattern", "enabled", "points_1st", "points_2nd", "points_3rd")
	for _, gp := range patterns {
		b = b.Values(gameID, gp.Pattern, gp.Enabled, gp.Points1st, gp.Points2nd, gp.Points3rd)
	}
	_, err := s.exec(ctx, b)
	if name, ok := constraint(err); ok && name == "game_patterns_game_pattern_uq" {
		return fmt.Errorf("patterns: %w", tambola.ErrDuplicate)
	}
	return err
}

func (s *Store) Patterns(ctx context.Context, gameID string) ([]tambola.GamePattern, error) {
	if !validID(gameID) {
		return nil, nil
	}
	rows, err := s.query(ctx, psql.Select("pattern", "enabled", "points_1st", "points_2nd", "points_3rd").
		From(tablePatterns).
		Where(sq.Eq{"game_id": gameID}))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patterns []tambola.GamePattern
	for rows.Next() {
		var gp tambola.GamePattern
		if err := rows.Scan(&gp.Pattern, &gp.Enabled, &gp.Points1st, &gp.Points2nd, &gp.Points3rd); err != nil {
			return nil, err
		}
		patterns = append(patterns, gp)
	}
	return patterns, rows.Err()
}

func (s *Store) ReplacePatterns(ctx context.Context, gameID string, patterns []tambola.GamePattern) error {
	return s.txm.Do(ctx, func(ctx context.Context) error {
		status, _, err := s.lockGame(ctx, gameID)
		if err != nil {
			return err
		}
		if !status.Joinable() {
			return tambola.ErrStale
		}
		if _, err := s.exec(ctx, psql.Delete(tablePatterns).Where(sq.Eq{"game_id": gameID})); err != nil {
			return err
		}
		return s.insertPatterns(ctx, gameID, patterns)
	})
}

// Players and tickets

func (s *Store) JoinGame(ctx context.Context, p tambola.Player, t tambola.Ticket) error {
	grid, err := json.Marshal(t.Grid)
	if err != nil {
		return err
	}
	return s.txm.Do(ctx, func(ctx context.Context) error {
		status, maxPlayers, err := s.lockGame(ctx, p.GameID)
		if err != nil {
			return err
		}
		if !status.Joinable() {
			return tambola.ErrStale
		}
		// The row lock is held, so this count cannot change under us.
		count, err := s.PlayerCount(ctx, p.GameID)
		if err != nil {
			return err
		}
		if count >= maxPlayers {
			return tambola.ErrStale
		}

		if status != tambola.StatusLobby {
			if _, err := s.exec(ctx, psql.Update(tableGames).
				Set("status", tambola.StatusLobby).
				Where(sq.Eq{"id": p.GameID})); err != nil {
				return err
			}
		}

		_, err = s.exec(ctx, psql.Insert(tablePlayers).
			Columns("id", "game_id", "name", "token", "joined_at").
			Values(p.ID, p.GameID, p.Name, p.Token, p.JoinedAt))
		if _, ok := constraint(err); ok {
			return tambola.ErrDuplicate
		}
		if err != nil {
			return err
		}

		_, err = s.exec(ctx, psql.Insert(tableTickets).
			Columns("id", "game_id", "player_id", "grid").
			Values(t.ID, t.GameID, t.PlayerID, string(grid)))
		return err
	})
}

var playerColumns = []string{"id", "game_id", "name", "token", "joined_at"}

func scanPlayer(row pgx.Row) (tambola.Player, error) {
	var p tambola.Player
	err := row.Scan(&p.ID, &p.GameID, &p.Name, &p.Token, &p.JoinedAt)
	return p, notFound(err)
}

func (s *Store) Player(ctx context.Context, id string) (tambola.Player, error) {
	if !validID(id) {
		return tambola.Player{}, tambola.ErrNotFound
	}
	return scanPlayer(s.queryRow(ctx, psql.Select(playerColumns...).From(tablePlayers).Where(sq.Eq{"id": id})))
}

func (s *Store) PlayerByToken(ctx context.Context, token string) (tambola.Player, error) {
	return scanPlayer(s.queryRow(ctx, psql.Select(playerColumns...).From(tablePlayers).Where(sq.Eq{"token": token})))
}

func (s *Store) Players(ctx context.Context, gameID string) ([]tambola.Player, error) {
	if !validID(gameID) {
		return nil, nil
	}
	rows, err := s.query(ctx, psql.Select(playerColumns...).
		From(tablePlayers).
		Where(sq.Eq{"game_id": gameID}).
		OrderBy("joined_at", "id"))
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
	if !validID(gameID) || !validID(playerID) {
		return t, tambola.ErrNotFound
	}
	var grid []byte
	err := s.queryRow(ctx, psql.Select("id", "game_id", "player_id", "grid", "marked").
		From(tableTickets).
		Where(sq.Eq{"game_id": gameID, "player_id": playerID})).
		Scan(&t.ID, &t.GameID, &t.PlayerID, &grid, &t.Marked)
	if err != nil {
		return t, notFound(err)
	}
	if err := json.Unmarshal(grid, &t.Grid); err != nil {
		return t, fmt.Errorf("decoding grid: %w", err)
	}
	return t, nil
}

func (s *Store) SetMarked(ctx context.Context, ticketID string, prev, marked []int) error {
	if prev == nil {
		prev = []int{}
	}
	if marked == nil {
		marked = []int{}
	}
	tag, err := s.exec(ctx, psql.Update(tableTickets).
		Set("marked", marked).
		Where(sq.Eq{"id": ticketID}).
		Where(sq.Expr("marked = ?::integer[]", prev)))
	if err != nil {
		return err
	}
	return affected(tag)
}

// Claims

func selectClaims() sq.SelectBuilder {
	return psql.Select("c.id", "c.game_id", "c.player_id", "p.name", "c.pattern", "c.prize_rank", "c.points", "c.claimed_at").
		From(tableClaims + " c").
		Join(tablePlayers + " p ON p.id = c.player_id")
}

func (s *Store) queryClaims(ctx context.Context, b sq.SelectBuilder) ([]tambola.Claim, error) {
	rows, err := s.query(ctx, b)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claims []tambola.Claim
	for rows.Next() {
		var c tambola.Claim
		if err := rows.Scan(&c.ID, &c.GameID, &c.PlayerID, &c.PlayerName, &c.Pattern, &c.Rank, &c.Points, &c.ClaimedAt); err != nil {
			return nil, err
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

func (s *Store) Claims(ctx context.Context, gameID string) ([]tambola.Claim, error) {
	if !validID(gameID) {
		return nil, nil
	}
	return s.queryClaims(ctx, selectClaims().
		Where(sq.Eq{"c.game_id": gameID}).
		OrderBy("c.claimed_at", "c.prize_rank"))
}

func (s *Store) PatternClaims(ctx context.Context, gameID string, p tambola.Pattern) ([]tambola.Claim, error) {
	if !validID(gameID) {
		return nil, nil
	}
	return s.queryClaims(ctx, selectClaims().
		Where(sq.Eq{"c.game_id": gameID, "c.pattern": p}).
		OrderBy("c.prize_rank"))
}

func (s *Store) ClaimAtRank(ctx context.Context, gameID string, p tambola.Pattern, rank int) (bool, error) {
	var n int
	err := s.queryRow(ctx, psql.Select("COUNT(*)").
		From(tableClaims).
		Where(sq.Eq{"game_id": gameID, "pattern": p, "prize_rank": rank})).
		Scan(&n)
	return n > 0, err
}

func (s *Store) InsertClaim(ctx context.Context, c tambola.Claim) error {
	_, err := s.exec(ctx, psql.Insert(tableClaims).
		Columns("id", "game_id", "player_id", "pattern", "prize_rank", "points", "claimed_at").
		Values(c.ID, c.GameID, c.PlayerID, c.Pattern, c.Rank, c.Points, c.ClaimedAt))
	name, ok := constraint(err)
	switch {
	case ok && name == "claims_rank_uq":
		return tambola.ErrRankTaken
	case ok && name == "claims_player_uq":
		return tambola.ErrPlayerClaimed
	case ok:
		return tambola.ErrDuplicate
	}
	return err
}
