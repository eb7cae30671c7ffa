package engine

import "errors"

// Transition failures surfaced to the caller. All are recoverable; none are
// process-fatal. ErrTurnMismatch in particular signals a lost race or a
// replayed request, and the caller should re-fetch authoritative state
// rather than retry blindly.
var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInvalidQuote      = errors.New("invalid quote")
	ErrTurnMismatch      = errors.New("turn index mismatch")
	ErrRoundNotLive      = errors.New("round is not live")
	ErrAlreadySettled    = errors.New("round already settled")
	ErrGameFull          = errors.New("game already has a taker")
	ErrSelfJoin          = errors.New("cannot join your own game")
	ErrNoQuestions       = errors.New("no questions available")
)
