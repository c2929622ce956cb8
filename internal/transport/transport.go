package transport

import (
	"context"
	"sync"
	"time"
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Stats holds operational statistics for a connector.
type Stats struct {
	FramesTx        uint64
	FramesRx        uint64
	FramesDropped   uint64 // Frames discarded during shutdown
	ErrorsTotal     uint64
	ReconnectsTotal uint64 // Successful reconnections
	LastActivity    time.Time
	Connected       bool
	Reconnecting    bool
}

// Connector carries frames between a device session and the device.
// Implementations must be safe for concurrent use.
type Connector interface {
	// Send writes one request frame to the device.
	Send(ctx context.Context, frame []byte) error

	// SetOnFrame registers the callback invoked for each received frame,
	// one at a time, in receive order. The slice the callback receives is
	// owned by the callback.
	SetOnFrame(callback func(frame []byte))

	// SetOnState registers the callback invoked when the link goes up or
	// down. Used by sessions to drive availability and initial reads.
	SetOnState(callback func(connected bool))

	IsConnected() bool
	Stats() Stats
	Close() error
}

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}
