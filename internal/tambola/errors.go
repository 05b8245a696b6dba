package tambola

import (
	"errors"
	"fmt"
)

// Store-level sentinels. Stores return these (possibly wrapped) so the
// engine can tell designed-for outcomes apart from real failures.
var (
	ErrNotFound = errors.New("not found")
	// ErrStale means a conditional write matched no row: the version or
	// status it was conditioned on has moved.
	ErrStale = errors.New("stale write")
	// ErrDuplicate is a unique-constraint violation.
	ErrDuplicate = errors.New("duplicate")
	// ErrRankTaken is a violation of the one-row-per-rank claim index.
	ErrRankTaken = fmt.Errorf("%w: rank already awarded", ErrDuplicate)
	// ErrPlayerClaimed is a violation of the one-claim-per-player claim index.
	ErrPlayerClaimed = fmt.Errorf("%w: player already holds pattern", ErrDuplicate)
)

// Code is a stable, machine-readable rejection code.
type Code string

const (
	CodeInvalidInput      Code = "INVALID_INPUT"
	CodeNotFound          Code = "NOT_FOUND"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeGameNotStarted    Code = "GAME_NOT_STARTED"
	CodeConcurrentUpdate  Code = "CONCURRENT_UPDATE"
	CodeInvalidGameStatus Code = "INVALID_GAME_STATUS"

	CodePlayerNotFound    Code = "PLAYER_NOT_FOUND"
	CodeNoTicket          Code = "NO_TICKET"
	CodeGameNotInProgress Code = "GAME_NOT_IN_PROGRESS"
	CodePatternNotEnabled Code = "PATTERN_NOT_ENABLED"
	CodeInvalidClaim      Code = "INVALID_CLAIM"
	CodeAlreadyClaimed    Code = "ALREADY_CLAIMED"
	CodeAllPrizesClaimed  Code = "ALL_PRIZES_CLAIMED"
	CodeContendedRetry    Code = "CONTENDED_RETRY"
	CodeJustClaimed       Code = "JUST_CLAIMED"

	CodeGameAlreadyStarted Code = "GAME_ALREADY_STARTED"
	CodeGameCompleted      Code = "GAME_COMPLETED"
	CodeGameFull           Code = "GAME_FULL"
	CodeMinPlayersNotMet   Code = "MIN_PLAYERS_NOT_MET"
	CodeEmailTaken         Code = "EMAIL_TAKEN"

	CodeInternal Code = "INTERNAL"
)

// Error is a rejection with a stable code.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Retryable reports whether the rejection came from a lost race rather than
// from the state of the game.
func (e *Error) Retryable() bool {
	switch e.Code {
	case CodeConcurrentUpdate, CodeContendedRetry, CodeJustClaimed:
		return true
	}
	return false
}

func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the rejection code from err, or CodeInternal if err is not
// a rejection.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
