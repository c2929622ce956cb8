package session

import (
	"github.com/google/uuid"

	"github.com/nerrad567/multigate/internal/transport"
)

// Kind identifies what a Result reports.
type Kind int

const (
	// KindRead is a completed (or failed) read, solicited or not.
	KindRead Kind = iota

	// KindWrite is a completed (or failed) write submission.
	KindWrite

	// KindLink is a device-link up/down transition.
	KindLink
)

// String returns the kind name for logging.
func (k Kind) String() string {
	switch k {
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	case KindLink:
		return "link"
	default:
		return "unknown"
	}
}

// Status is the outcome of a request.
type Status int

const (
	StatusOK Status = iota
	StatusFailed
	StatusTimedOut
)

// String returns the status name for logging.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusFailed:
		return "failed"
	case StatusTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Result is one event emitted by a session to the dispatcher.
type Result struct {
	// Device is the owning device identifier.
	Device string

	// Command names the command, empty for KindLink.
	Command string

	Kind   Kind
	Status Status

	// ID correlates the result with a Submit call. uuid.Nil for
	// unsolicited reads and link events.
	ID uuid.UUID

	// Value is the decoded item-side value for successful reads.
	Value any

	// Connected carries the link state for KindLink.
	Connected bool

	// Err holds the failure cause for StatusFailed and StatusTimedOut.
	Err error
}

// Snapshot is a point-in-time view of a session for status reporting.
type Snapshot struct {
	Device    string          `json:"device"`
	Connected bool            `json:"connected"`
	Pending   int             `json:"pending"`
	Link      transport.Stats `json:"link"`
}
