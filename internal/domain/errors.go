package domain

import "errors"

// Sentinel errors for the validation failures the core can report.
// Callers match with errors.Is; storage and session wrap them with
// additional context.
var (
	ErrInvalidRating  = errors.New("invalid rating")
	ErrCardNotFound   = errors.New("card not found")
	ErrCardSuspended  = errors.New("card is suspended")
	ErrSessionClosed  = errors.New("session already ended")
	ErrSessionUnknown = errors.New("session not found")
)
