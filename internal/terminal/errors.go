package terminal

import "errors"

var (
	// ErrResourceExhausted is returned when the live session count has
	// reached the configured maximum.
	ErrResourceExhausted = errors.New("maximum session count reached")

	// ErrNoSlotAvailable is returned when no display slot number is free.
	// Checked defensively even though ErrResourceExhausted should fire first.
	ErrNoSlotAvailable = errors.New("no slot number available")

	// ErrNotFound is returned for operations on an unknown session.
	ErrNotFound = errors.New("session not found")

	// ErrAlreadyInProgress is returned when a destroy is requested for a
	// session that is already being torn down. Callers should treat this
	// as an expected race, not a hard failure.
	ErrAlreadyInProgress = errors.New("destroy already in progress")

	// ErrUnavailable is returned when the process handle no longer
	// supports the requested operation.
	ErrUnavailable = errors.New("operation unavailable on session handle")
)
