package dispatcher

import "errors"

// Domain errors for the dispatcher package.
var (
	// ErrClosed is returned when submitting to a closed dispatcher.
	ErrClosed = errors.New("dispatcher: closed")

	// ErrUnknownItem is returned for items with no binding.
	ErrUnknownItem = errors.New("dispatcher: unknown item")

	// ErrUnknownDevice is returned for devices with no session.
	ErrUnknownDevice = errors.New("dispatcher: unknown device")

	// ErrAlreadyStarted is returned when mutating a running dispatcher.
	ErrAlreadyStarted = errors.New("dispatcher: already started")
)
