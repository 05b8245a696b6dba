package game

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/femildignizant/tambola/internal/broker"
	"github.com/femildignizant/tambola/internal/draw"
	"github.com/femildignizant/tambola/internal/tambola"
)

type AdvanceResult struct {
	Number    int
	Sequence  int
	Remaining int
	Ended     bool
	Timestamp time.Time
}

// Advance calls the next number of a started game. Concurrent callers race
// on the game's sequence: exactly one wins per sequence value and the rest
// get CONCURRENT_UPDATE. A game whose pool is exhausted reports Ended
// without writing.
func (s *Service) Advance(ctx context.Context, gameID string) (AdvanceResult, error) {
	g, err := s.loadGame(ctx, gameID)
	if err != nil {
		return AdvanceResult{}, err
	}

	if draw.IsComplete(g.CalledNumbers) {
		return AdvanceResult{Sequence: g.Sequence, Ended: true, Timestamp: s.now()}, nil
	}
	if g.Status != tambola.StatusStarted {
		return AdvanceResult{}, tambola.Errorf(tambola.CodeGameNotStarted, "game is %s", g.Status)
	}

	n, err := draw.Next(g.CalledNumbers)
	if err != nil {
		return AdvanceResult{}, fmt.Errorf("drawing number: %w", err)
	}

	called := append(slices.Clip(g.CalledNumbers), n)
	now := s.now()
	var completedAt *time.Time
	if draw.IsComplete(called) {
		completedAt = &now
	}

	err = s.store.AppendNumber(ctx, g.ID, g.Sequence, called, completedAt)
	if errors.Is(err, tambola.ErrStale) {
		s.logger.Debug("advance lost race", "game_id", g.ID, "sequence", g.Sequence)
		return AdvanceResult{}, tambola.Errorf(tambola.CodeConcurrentUpdate, "game advanced concurrently, retry")
	}
	if err != nil {
		return AdvanceResult{}, fmt.Errorf("appending number: %w", err)
	}

	res := AdvanceResult{
		Number:    n,
		Sequence:  len(called),
		Remaining: draw.Remaining(called),
		Ended:     completedAt != nil,
		Timestamp: now,
	}

	if res.Ended {
		s.logger.Info("game completed", "game_id", g.ID, "reason", tambola.EndAllNumbersCalled)
		s.events.Publish(g.ID, broker.Event{Type: broker.TypeGameEnded, Data: GameEnded{
			Reason:        tambola.EndAllNumbersCalled,
			FinalSequence: &res.Sequence,
			CompletedAt:   now,
		}})
		return res, nil
	}

	s.events.Publish(g.ID, broker.Event{Type: broker.TypeNumberCalled, Data: NumberCalled{
		Number:    res.Number,
		Sequence:  res.Sequence,
		Remaining: res.Remaining,
		Timestamp: now,
	}})
	return res, nil
}

// ForceStop ends a started game on the host's request.
func (s *Service) ForceStop(ctx context.Context, hostID, gameID string) (time.Time, error) {
	g, err := s.loadGame(ctx, gameID)
	if err != nil {
		return time.Time{}, err
	}
	if g.HostID != hostID {
		return time.Time{}, tambola.Errorf(tambola.CodeUnauthorized, "only the host can end the game")
	}
	if g.Status != tambola.StatusStarted {
		return time.Time{}, tambola.Errorf(tambola.CodeInvalidGameStatus, "game is %s", g.Status)
	}

	now := s.now()
	final, err := s.store.CompleteGame(ctx, g.ID, now)
	if errors.Is(err, tambola.ErrStale) {
		return time.Time{}, tambola.Errorf(tambola.CodeInvalidGameStatus, "game already ended")
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("completing game: %w", err)
	}

	s.logger.Info("game completed", "game_id", g.ID, "reason", tambola.EndForceStop, "sequence", final)
	s.events.Publish(g.ID, broker.Event{Type: broker.TypeGameEnded, Data: GameEnded{
		Reason:        tambola.EndForceStop,
		FinalSequence: &final,
		CompletedAt:   now,
	}})
	return now, nil
}

// Game returns the current state of a game.
func (s *Service) Game(ctx context.Context, gameID string) (tambola.Game, error) {
	return s.loadGame(ctx, gameID)
}

func (s *Service) loadGame(ctx context.Context, gameID string) (tambola.Game, error) {
	g, err := s.store.Game(ctx, gameID)
	if errors.Is(err, tambola.ErrNotFound) {
		return tambola.Game{}, tambola.Errorf(tambola.CodeNotFound, "game not found")
	}
	if err != nil {
		return tambola.Game{}, fmt.Errorf("loading game: %w", err)
	}
	return g, nil
}
