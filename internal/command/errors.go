package command

import "errors"

// Domain errors for the command package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, command.ErrUnknownCommand) {
//	    // handle unknown command
//	}
var (
	// ErrInvalidSpec is returned when a table cannot be constructed,
	// for example two entries sharing a name with conflicting direction
	// capability.
	ErrInvalidSpec = errors.New("command: invalid spec")

	// ErrUnknownCommand is returned when a command name is not present
	// in the table.
	ErrUnknownCommand = errors.New("command: unknown command")

	// ErrNotReadable is returned when a read is requested for a command
	// without read capability.
	ErrNotReadable = errors.New("command: not readable")

	// ErrNotWritable is returned when a write is requested for a command
	// without write capability.
	ErrNotWritable = errors.New("command: not writable")

	// ErrEncoding is returned when a value cannot be encoded for the wire.
	ErrEncoding = errors.New("command: encoding failed")

	// ErrDecoding is returned when a device response cannot be decoded
	// into a typed value.
	ErrDecoding = errors.New("command: decoding failed")
)
