package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Default timeouts and limits for device links.
const (
	// defaultConnectTimeout is the maximum time to wait per dial attempt.
	defaultConnectTimeout = 10 * time.Second

	// defaultReadTimeout is the idle timeout for individual read attempts.
	// Hitting it is normal on a quiet link and does not drop the connection.
	defaultReadTimeout = 30 * time.Second

	// defaultWriteTimeout is the timeout for write operations.
	defaultWriteTimeout = 5 * time.Second

	// defaultReconnectInterval is the initial delay between reconnection attempts.
	defaultReconnectInterval = 5 * time.Second

	// maxReconnectInterval is the maximum delay between reconnection attempts.
	maxReconnectInterval = 2 * time.Minute

	// defaultMaxFrameSize bounds a single incoming frame.
	defaultMaxFrameSize = 64 * 1024

	// defaultTerminator frames messages on the wire.
	defaultTerminator = "\r\n"

	// callbackQueueSize buffers received frames ahead of the delivery
	// goroutine. Enqueueing blocks when full: responses must not be
	// dropped, the consumer matches them to outstanding requests.
	callbackQueueSize = 256
)

// TCPConfig holds device-link connection configuration.
type TCPConfig struct {
	// Address is the device endpoint as "host:port".
	Address string

	// Terminator frames messages in both directions.
	// Default: "\r\n".
	Terminator string

	// ConnectTimeout is the maximum time per dial attempt.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// ReadTimeout is the idle timeout for read attempts.
	// Default: 30 seconds.
	ReadTimeout time.Duration

	// ReconnectInterval is the initial delay between reconnection attempts.
	// Default: 5 seconds.
	ReconnectInterval time.Duration

	// MaxFrameSize bounds a single incoming frame. Default: 64 KiB.
	MaxFrameSize int
}

// Ensure TCPClient implements Connector.
var _ Connector = (*TCPClient)(nil)

// TCPClient is a terminator-framed TCP connector for a single device.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Frame callbacks are invoked from a single delivery goroutine, in
//     the order frames arrived on the wire.
//
// Auto-Reconnection:
//   - The client dials in the background; an unreachable device at startup
//     is handled the same way as a dropped connection.
//   - Uses exponential backoff starting at ReconnectInterval up to
//     maxReconnectInterval (2min). Reconnection stops only on Close().
type TCPClient struct {
	cfg  TCPConfig
	term []byte

	// Connection state
	connMu    sync.RWMutex
	conn      net.Conn
	reader    *bufio.Reader
	connected bool

	// Reconnection state
	reconnecting   atomic.Bool
	reconnectCount atomic.Int32

	// Partial frame accumulated across read attempts
	partial []byte

	// Callbacks
	onFrame    func([]byte)
	onState    func(bool)
	callbackMu sync.RWMutex

	// Frame delivery queue (single consumer preserves wire order)
	callbackQueue chan []byte

	// Shutdown coordination (closeOnce prevents double-close panics)
	done *closeOnce
	wg   sync.WaitGroup

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	framesTx        atomic.Uint64
	framesRx        atomic.Uint64
	framesDropped   atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
	lastActivity    atomic.Int64 // Unix timestamp
}

// Open creates a TCPClient and starts connecting in the background.
//
// Open never waits for the device: the first dial happens on the manage
// goroutine so a powered-off device does not block startup. Use the state
// callback to learn when the link comes up.
//
// Parameters:
//   - cfg: Connection configuration
//
// Returns:
//   - *TCPClient: Client ready for use (possibly not yet connected)
//   - error: If the configuration is invalid
func Open(cfg TCPConfig) (*TCPClient, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("%w: address is required", ErrConnectionFailed)
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = defaultMaxFrameSize
	}
	if cfg.Terminator == "" {
		cfg.Terminator = defaultTerminator
	}

	client := &TCPClient{
		cfg:           cfg,
		term:          []byte(cfg.Terminator),
		done:          newCloseOnce(),
		callbackQueue: make(chan []byte, callbackQueueSize),
	}
	client.lastActivity.Store(time.Now().Unix())

	client.wg.Add(1)
	go client.deliverLoop()

	client.wg.Add(1)
	go client.receiveLoop()

	return client, nil
}

// receiveLoop reads frames from the device. While the link is down it runs
// the reconnect cycle; it exits only on Close().
func (c *TCPClient) receiveLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			return
		default:
		}

		if !c.IsConnected() {
			if !c.reconnect() {
				return // Shutdown during reconnection
			}
			continue
		}

		frame, err := c.readFrame()
		if err != nil {
			if c.handleReadError(err) {
				if c.isClosed() {
					return
				}
				continue // Loop re-enters reconnect
			}
			continue // Recoverable (idle timeout), retry
		}

		if len(frame) > 0 {
			c.handleFrame(frame)
		}
	}
}

// readFrame reads bytes until the terminator and returns the frame without
// it. A partial frame survives idle timeouts; it is reset on reconnect.
func (c *TCPClient) readFrame() ([]byte, error) {
	c.connMu.RLock()
	conn, reader := c.conn, c.reader
	c.connMu.RUnlock()

	if conn == nil || reader == nil {
		return nil, ErrNotConnected
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	for {
		b, err := reader.ReadByte()
		if err != nil {
			return nil, err
		}

		c.partial = append(c.partial, b)

		if len(c.partial) > c.cfg.MaxFrameSize {
			c.errorsTotal.Add(1)
			return nil, ErrFrameTooLarge
		}

		if bytes.HasSuffix(c.partial, c.term) {
			frame := make([]byte, len(c.partial)-len(c.term))
			copy(frame, c.partial)
			c.partial = c.partial[:0]
			return frame, nil
		}
	}
}

// handleReadError processes a read error and returns true if the connection
// must be rebuilt.
func (c *TCPClient) handleReadError(err error) bool {
	if c.isClosed() {
		return true
	}

	// Oversized frames leave the stream position unknown. Close the socket
	// and resynchronise on a fresh connection.
	if errors.Is(err, ErrFrameTooLarge) {
		c.logError("oversized frame, closing connection to resync", err)
		c.closeOldConnection()
		c.handleDisconnect()
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false // Idle link, keep waiting
	}

	c.logError("read failed", err)
	c.errorsTotal.Add(1)
	c.handleDisconnect()
	return true
}

// handleFrame queues a received frame for in-order delivery. Blocks the
// receive loop when the queue is full rather than dropping: a lost
// response would desynchronise request matching downstream.
func (c *TCPClient) handleFrame(frame []byte) {
	c.framesRx.Add(1)
	c.lastActivity.Store(time.Now().Unix())

	c.callbackMu.RLock()
	hasCallback := c.onFrame != nil
	c.callbackMu.RUnlock()

	if !hasCallback {
		return
	}

	select {
	case c.callbackQueue <- frame:
	case <-c.done.Done():
		c.framesDropped.Add(1)
	}
}

// deliverLoop hands queued frames to the registered callback one at a
// time. A single goroutine owns delivery so frames reach the consumer in
// the order they arrived on the wire.
func (c *TCPClient) deliverLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			c.drainCallbackQueue()
			return
		case frame := <-c.callbackQueue:
			c.callbackMu.RLock()
			callback := c.onFrame
			c.callbackMu.RUnlock()

			if callback != nil {
				func() {
					defer func() {
						if r := recover(); r != nil {
							c.logError("frame callback panic", fmt.Errorf("%v", r))
						}
					}()
					callback(frame)
				}()
			}
		}
	}
}

// handleDisconnect marks the link down and notifies the state callback.
func (c *TCPClient) handleDisconnect() {
	c.connMu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.connMu.Unlock()

	if wasConnected {
		c.logInfo("connection lost, will attempt reconnection", "address", c.cfg.Address)
		c.notifyState(false)
	}
}

// reconnect re-establishes the device link with exponential backoff.
// Returns false if shutdown was signalled.
func (c *TCPClient) reconnect() bool {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return c.waitForReconnection()
	}
	defer c.reconnecting.Store(false)

	backoff := c.cfg.ReconnectInterval

	for {
		if c.isClosed() {
			return false
		}

		attempt := c.reconnectCount.Add(1)
		if attempt > 1 {
			c.logInfo("attempting reconnection",
				"address", c.cfg.Address, "attempt", attempt, "backoff", backoff.String())
		}

		c.closeOldConnection()

		conn, err := c.dialWithTimeout()
		if err != nil {
			backoff = c.handleReconnectFailure(err, backoff)
			if backoff == 0 {
				return false // Shutdown signalled
			}
			continue
		}

		c.finalizeReconnection(conn)
		return true
	}
}

// waitForReconnection waits for another goroutine to complete reconnection.
func (c *TCPClient) waitForReconnection() bool {
	for c.reconnecting.Load() && !c.isClosed() {
		time.Sleep(100 * time.Millisecond)
	}
	return !c.isClosed() && c.IsConnected()
}

// closeOldConnection closes the existing connection if any.
func (c *TCPClient) closeOldConnection() {
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.reader = nil
	}
	c.connMu.Unlock()
}

// dialWithTimeout attempts to dial the device with timeout.
func (c *TCPClient) dialWithTimeout() (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.Address, err)
	}
	return conn, nil
}

// handleReconnectFailure handles a failed dial attempt.
// Returns the new backoff duration, or 0 if shutdown was signalled.
func (c *TCPClient) handleReconnectFailure(err error, backoff time.Duration) time.Duration {
	c.logError("reconnect: dial failed", err)
	c.errorsTotal.Add(1)

	select {
	case <-c.done.Done():
		return 0
	case <-time.After(backoff):
	}

	// Exponential backoff with cap
	newBackoff := time.Duration(float64(backoff) * 1.5)
	if newBackoff > maxReconnectInterval {
		newBackoff = maxReconnectInterval
	}
	return newBackoff
}

// finalizeReconnection installs the new connection and updates stats.
func (c *TCPClient) finalizeReconnection(conn net.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	c.connected = true
	c.connMu.Unlock()

	c.partial = c.partial[:0]
	wasReconnect := c.reconnectsTotal.Load() > 0 || c.reconnectCount.Load() > 1
	c.reconnectCount.Store(0)
	c.lastActivity.Store(time.Now().Unix())

	if wasReconnect {
		c.reconnectsTotal.Add(1)
		c.logInfo("reconnection successful",
			"address", c.cfg.Address, "total_reconnects", c.reconnectsTotal.Load())
	} else {
		c.logInfo("connected", "address", c.cfg.Address)
	}

	c.notifyState(true)
}

// notifyState invokes the state callback on its own goroutine so a callback
// that submits work cannot stall the receive loop.
func (c *TCPClient) notifyState(connected bool) {
	c.callbackMu.RLock()
	callback := c.onState
	c.callbackMu.RUnlock()

	if callback != nil {
		go callback(connected)
	}
}

// drainCallbackQueue discards remaining frames during shutdown.
func (c *TCPClient) drainCallbackQueue() {
	for {
		select {
		case <-c.callbackQueue:
		default:
			return
		}
	}
}

// isClosed returns true if the client has been closed.
func (c *TCPClient) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// Close gracefully closes the device link.
//
// It signals the receive loop to stop and closes the underlying network
// connection. Safe to call multiple times (uses sync.Once).
//
// Returns:
//   - error: nil (closing is best-effort)
func (c *TCPClient) Close() error {
	c.done.Close()

	c.connMu.Lock()
	c.connected = false
	conn := c.conn
	c.connMu.Unlock()

	if conn != nil {
		conn.Close()
	}

	c.wg.Wait()

	c.logInfo("connection closed", "address", c.cfg.Address)
	return nil
}

// Send writes one request frame, appending the terminator.
//
// Parameters:
//   - ctx: Context for cancellation
//   - frame: Request payload without terminator
//
// Returns:
//   - error: ErrNotConnected while the link is down, ErrSendFailed on
//     write errors
func (c *TCPClient) Send(ctx context.Context, frame []byte) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrSendFailed, ctx.Err())
	default:
	}

	c.connMu.RLock()
	conn := c.conn
	connected := c.connected
	c.connMu.RUnlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrSendFailed, err)
	}

	msg := make([]byte, 0, len(frame)+len(c.term))
	msg = append(msg, frame...)
	msg = append(msg, c.term...)

	if _, err := conn.Write(msg); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: write: %w", ErrSendFailed, err)
	}

	c.framesTx.Add(1)
	c.lastActivity.Store(time.Now().Unix())

	return nil
}

// SetOnFrame sets the callback for received frames.
//
// The callback is invoked from a single delivery goroutine, in the order
// frames arrived on the wire. Panics in the callback are recovered and
// logged.
func (c *TCPClient) SetOnFrame(callback func([]byte)) {
	c.callbackMu.Lock()
	c.onFrame = callback
	c.callbackMu.Unlock()
}

// SetOnState sets the callback for link up/down transitions.
func (c *TCPClient) SetOnState(callback func(bool)) {
	c.callbackMu.Lock()
	c.onState = callback
	c.callbackMu.Unlock()
}

// SetLogger sets the logger for this client.
func (c *TCPClient) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// IsConnected returns true if the device link is up.
func (c *TCPClient) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// Stats returns current operational statistics.
func (c *TCPClient) Stats() Stats {
	return Stats{
		FramesTx:        c.framesTx.Load(),
		FramesRx:        c.framesRx.Load(),
		FramesDropped:   c.framesDropped.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
		ReconnectsTotal: c.reconnectsTotal.Load(),
		LastActivity:    time.Unix(c.lastActivity.Load(), 0),
		Connected:       c.IsConnected(),
		Reconnecting:    c.reconnecting.Load(),
	}
}

// logInfo logs an info message if logger is set.
func (c *TCPClient) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (c *TCPClient) logError(msg string, err error) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
