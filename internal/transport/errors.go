package transport

import "errors"

// Domain errors for the transport package.
var (
	// ErrNotConnected is returned when sending while the link is down.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrConnectionFailed indicates the link could not be established.
	ErrConnectionFailed = errors.New("transport: connection failed")

	// ErrSendFailed indicates a frame could not be written to the link.
	ErrSendFailed = errors.New("transport: send failed")

	// ErrFrameTooLarge indicates an incoming frame exceeded the limit.
	// Fatal for the connection: the stream position is unrecoverable.
	ErrFrameTooLarge = errors.New("transport: frame too large")
)
