package game

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/femildignizant/tambola/internal/broker"
	"github.com/femildignizant/tambola/internal/pattern"
	"github.com/femildignizant/tambola/internal/tambola"
)

// completionAttempts bounds retries of the game-ending write that follows a
// winning FULL_HOUSE claim.
const completionAttempts = 3

type ClaimResult struct {
	Claim           tambola.Claim
	VerifiedNumbers []int
	// GameEnded is set when this claim completed the game.
	GameEnded bool
}

func lockKey(gameID string, p tambola.Pattern, rank int) string {
	return fmt.Sprintf("claim:%s:%s:%d", gameID, p, rank)
}

// Claim adjudicates a player's claim on a pattern and awards the lowest free
// rank. Ranks are steered by per-rank locks; the store's unique indexes are
// the final word on who holds a rank.
func (s *Service) Claim(ctx context.Context, gameID, playerID string, p tambola.Pattern) (ClaimResult, error) {
	player, err := s.store.Player(ctx, playerID)
	if errors.Is(err, tambola.ErrNotFound) || (err == nil && player.GameID != gameID) {
		return ClaimResult{}, tambola.Errorf(tambola.CodePlayerNotFound, "player not found in this game")
	}
	if err != nil {
		return ClaimResult{}, fmt.Errorf("loading player: %w", err)
	}

	t, err := s.store.Ticket(ctx, gameID, playerID)
	if errors.Is(err, tambola.ErrNotFound) {
		return ClaimResult{}, tambola.Errorf(tambola.CodeNoTicket, "player has no ticket")
	}
	if err != nil {
		return ClaimResult{}, fmt.Errorf("loading ticket: %w", err)
	}

	g, err := s.loadGame(ctx, gameID)
	if err != nil {
		return ClaimResult{}, err
	}
	if g.Status != tambola.StatusStarted {
		return ClaimResult{}, tambola.Errorf(tambola.CodeGameNotInProgress, "game is %s", g.Status)
	}

	gp, err := s.enabledPattern(ctx, gameID, p)
	if err != nil {
		return ClaimResult{}, err
	}

	check := pattern.Check(t.Grid, g.CalledNumbers, p)
	if !check.Valid {
		return ClaimResult{}, tambola.Errorf(tambola.CodeInvalidClaim, "%s", check.Reason)
	}

	existing, err := s.store.PatternClaims(ctx, gameID, p)
	if err != nil {
		return ClaimResult{}, fmt.Errorf("loading claims: %w", err)
	}
	taken := make(map[int]bool, len(existing))
	for _, c := range existing {
		if c.PlayerID == playerID {
			return ClaimResult{}, tambola.Errorf(tambola.CodeAlreadyClaimed, "you already claimed %s", p)
		}
		taken[c.Rank] = true
	}
	maxRank := gp.MaxRank()
	if len(taken) >= maxRank {
		return ClaimResult{}, tambola.Errorf(tambola.CodeAllPrizesClaimed, "all prizes for %s are claimed", p)
	}

	claim := tambola.Claim{
		ID:         newID(),
		GameID:     gameID,
		PlayerID:   playerID,
		PlayerName: player.Name,
		Pattern:    p,
	}
	if err := s.award(ctx, &claim, gp, taken); err != nil {
		return ClaimResult{}, err
	}

	s.logger.Info("claim accepted",
		"game_id", gameID, "player_id", playerID, "pattern", p, "rank", claim.Rank, "points", claim.Points)
	s.events.Publish(gameID, broker.Event{Type: broker.TypeClaimAccepted, Data: ClaimAccepted{
		ClaimID:    claim.ID,
		PlayerID:   claim.PlayerID,
		PlayerName: claim.PlayerName,
		Pattern:    claim.Pattern,
		Rank:       claim.Rank,
		Points:     claim.Points,
		ClaimedAt:  claim.ClaimedAt,
	}})

	res := ClaimResult{Claim: claim, VerifiedNumbers: check.Numbers}
	if p == tambola.FullHouse && claim.Rank == 1 {
		res.GameEnded = s.completeOnFullHouse(context.WithoutCancel(ctx), claim)
	}
	return res, nil
}

func (s *Service) enabledPattern(ctx context.Context, gameID string, p tambola.Pattern) (tambola.GamePattern, error) {
	patterns, err := s.store.Patterns(ctx, gameID)
	if err != nil {
		return tambola.GamePattern{}, fmt.Errorf("loading patterns: %w", err)
	}
	for _, gp := range patterns {
		if gp.Pattern == p && gp.Enabled {
			return gp, nil
		}
	}
	return tambola.GamePattern{}, tambola.Errorf(tambola.CodePatternNotEnabled, "%s is not enabled for this game", p)
}

// award locks the lowest free rank, re-checks it, and inserts the claim.
// The lock is released before award returns, whatever the outcome.
func (s *Service) award(ctx context.Context, c *tambola.Claim, gp tambola.GamePattern, taken map[int]bool) error {
	owner := newID()

	var rank int
	var key string
	for r := 1; r <= gp.MaxRank(); r++ {
		if taken[r] {
			continue
		}
		k := lockKey(c.GameID, c.Pattern, r)
		ok, err := s.locks.TryLock(ctx, k, owner, s.lockTTL)
		if err != nil {
			return fmt.Errorf("locking rank %d: %w", r, err)
		}
		if ok {
			rank, key = r, k
			break
		}
	}
	if rank == 0 {
		s.logger.Debug("claim contended", "game_id", c.GameID, "pattern", c.Pattern)
		return tambola.Errorf(tambola.CodeContendedRetry, "prizes for %s are being claimed, retry", c.Pattern)
	}

	defer func() {
		if err := s.locks.Unlock(context.WithoutCancel(ctx), key, owner); err != nil {
			s.logger.Error("releasing claim lock", "key", key, "error", err)
		}
	}()

	occupied, err := s.store.ClaimAtRank(ctx, c.GameID, c.Pattern, rank)
	if err != nil {
		return fmt.Errorf("checking rank %d: %w", rank, err)
	}
	if occupied {
		s.logger.Debug("rank claimed under lock", "game_id", c.GameID, "pattern", c.Pattern, "rank", rank)
		return tambola.Errorf(tambola.CodeJustClaimed, "%s rank %d was just claimed", c.Pattern, rank)
	}

	c.Rank = rank
	c.Points = gp.PointsFor(rank)
	c.ClaimedAt = s.now()

	err = s.store.InsertClaim(ctx, *c)
	switch {
	case errors.Is(err, tambola.ErrPlayerClaimed):
		return tambola.Errorf(tambola.CodeAlreadyClaimed, "you already claimed %s", c.Pattern)
	case errors.Is(err, tambola.ErrDuplicate):
		s.logger.Debug("rank claimed at insert", "game_id", c.GameID, "pattern", c.Pattern, "rank", rank)
		return tambola.Errorf(tambola.CodeJustClaimed, "%s rank %d was just claimed", c.Pattern, rank)
	case err != nil:
		return fmt.Errorf("inserting claim: %w", err)
	}
	return nil
}

// completeOnFullHouse ends the game after a first-place FULL_HOUSE. The
// claim is already recorded; if this step fails the game stays STARTED and
// the failure is logged for the host to force-stop.
func (s *Service) completeOnFullHouse(ctx context.Context, c tambola.Claim) bool {
	var final int
	var err error
	for attempt := 1; ; attempt++ {
		final, err = s.store.CompleteGame(ctx, c.GameID, c.ClaimedAt)
		if err == nil || errors.Is(err, tambola.ErrStale) || attempt == completionAttempts {
			break
		}
		time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
	}
	if errors.Is(err, tambola.ErrStale) {
		s.logger.Info("full house after game ended", "game_id", c.GameID)
		return false
	}
	if err != nil {
		s.logger.Error("completing game after full house, game left STARTED",
			"game_id", c.GameID, "claim_id", c.ID, "error", err)
		return false
	}

	s.logger.Info("game completed", "game_id", c.GameID, "reason", tambola.EndFullHouse, "sequence", final)
	s.events.Publish(c.GameID, broker.Event{Type: broker.TypeGameEnded, Data: GameEnded{
		Reason:        tambola.EndFullHouse,
		FinalSequence: &final,
		CompletedAt:   c.ClaimedAt,
		Winner: &Winner{
			PlayerID:   c.PlayerID,
			PlayerName: c.PlayerName,
			Points:     c.Points,
		},
	}})
	return true
}

// ClaimsByPattern lists a game's claims in pattern display order, then rank.
func (s *Service) ClaimsByPattern(ctx context.Context, gameID string) ([]tambola.Claim, error) {
	if _, err := s.loadGame(ctx, gameID); err != nil {
		return nil, err
	}
	claims, err := s.store.Claims(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("loading claims: %w", err)
	}
	sortClaims(claims)
	return claims, nil
}

func sortClaims(claims []tambola.Claim) {
	slices.SortFunc(claims, func(a, b tambola.Claim) int {
		if c := cmp.Compare(slices.Index(tambola.Patterns, a.Pattern), slices.Index(tambola.Patterns, b.Pattern)); c != 0 {
			return c
		}
		return cmp.Compare(a.Rank, b.Rank)
	})
}
