package session

import "errors"

// Domain errors for the session package.
var (
	// ErrClosed is returned when submitting to a closed session.
	ErrClosed = errors.New("session: closed")

	// ErrQueueFull is returned when the request queue is saturated.
	// Callers fail fast rather than block the dispatcher.
	ErrQueueFull = errors.New("session: request queue full")

	// ErrTimeout marks a read that received no response in time.
	ErrTimeout = errors.New("session: request timed out")
)
