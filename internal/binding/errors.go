package binding

import "errors"

// Domain errors for the binding package.
var (
	// ErrAmbiguousWriter is returned when two write-enabled bindings
	// target the same (device, command) pair.
	ErrAmbiguousWriter = errors.New("binding: ambiguous writer")

	// ErrUnknownDevice is returned when a binding references a device
	// that is not configured.
	ErrUnknownDevice = errors.New("binding: unknown device")

	// ErrDuplicateItem is returned when two bindings use the same item
	// identifier.
	ErrDuplicateItem = errors.New("binding: duplicate item")
)
