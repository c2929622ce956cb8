package session

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/multigate/internal/command"
	"github.com/nerrad567/multigate/internal/transport"
)

const (
	// defaultQueueSize is the request queue depth per session.
	defaultQueueSize = 64

	// frameQueueSize buffers frames between the connector and the run loop.
	frameQueueSize = 64

	// defaultRequestTimeout applies to reads whose spec has no timeout.
	defaultRequestTimeout = 5 * time.Second

	// sendTimeout bounds handing a frame to the link.
	sendTimeout = 5 * time.Second

	// payloadSeparators are trimmed between an echoed opcode and the value.
	payloadSeparators = " :=,;"
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Config holds per-device session configuration.
type Config struct {
	// Device is the device identifier, used in every Result.
	Device string

	// Params are the device parameters substituted into request templates.
	Params map[string]any

	// Table is the device's command table.
	Table *command.Table

	// Cycles is the merged cyclic read schedule, keyed by command name.
	Cycles map[string]time.Duration

	// RequestTimeout applies to reads whose spec carries no timeout.
	// Default: 5 seconds.
	RequestTimeout time.Duration

	// QueueSize is the request queue depth. Default: 64.
	QueueSize int
}

// request travels from Submit calls to the run loop.
type request struct {
	id    uuid.UUID
	spec  command.Spec
	kind  Kind
	value any
}

// pendingRead is one read awaiting its response.
type pendingRead struct {
	id       uuid.UUID
	spec     command.Spec
	deadline time.Time
	seq      uint64
}

// cycleState tracks one command's cyclic read schedule.
type cycleState struct {
	interval time.Duration
	next     time.Time
}

// Session is the worker goroutine owning one device.
//
// Thread Safety:
//   - Submit, Tick, Snapshot and Close are safe for concurrent use.
//   - All protocol state is confined to the run goroutine.
type Session struct {
	cfg     Config
	conn    transport.Connector
	results chan<- Result

	requests chan request
	frames   chan []byte
	states   chan bool

	// Run-loop state (no locking: single goroutine)
	pending map[string][]pendingRead
	seq     uint64

	// Cycle schedule, guarded by cycleMu: Tick runs on the dispatcher's
	// scheduler goroutine.
	cycleMu sync.Mutex
	cycles  map[string]*cycleState

	// specsByOpcode orders specs by opcode length, longest first, for
	// response attribution.
	specsByOpcode []command.Spec

	pendingCount atomic.Int32
	connected    atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates the session and starts its run loop.
//
// The session takes ownership of conn: Close tears the link down. Results,
// including unsolicited device updates and link transitions, are delivered
// on the shared results channel.
//
// Parameters:
//   - cfg: Session configuration
//   - conn: Device link, already opened
//   - results: Channel the dispatcher consumes
//
// Returns:
//   - *Session: Running session
//   - error: If the configuration is invalid
func New(cfg Config, conn transport.Connector, results chan<- Result) (*Session, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("session: device identifier is required")
	}
	if cfg.Table == nil {
		return nil, fmt.Errorf("session: command table is required")
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = defaultQueueSize
	}

	s := &Session{
		cfg:      cfg,
		conn:     conn,
		results:  results,
		requests: make(chan request, cfg.QueueSize),
		frames:   make(chan []byte, frameQueueSize),
		states:   make(chan bool, 4),
		pending:  make(map[string][]pendingRead),
		cycles:   make(map[string]*cycleState),
		done:     make(chan struct{}),
	}

	for name, interval := range cfg.Cycles {
		if _, err := cfg.Table.Resolve(name); err != nil {
			return nil, fmt.Errorf("session: cycle command: %w", err)
		}
		s.cycles[name] = &cycleState{interval: interval}
	}

	for _, name := range cfg.Table.Names() {
		spec, err := cfg.Table.Resolve(name)
		if err != nil {
			return nil, err
		}
		if spec.Opcode != "" {
			s.specsByOpcode = append(s.specsByOpcode, spec)
		}
	}
	// Longest opcode wins attribution so "PWRSTATE" is not eaten by "PWR".
	sort.SliceStable(s.specsByOpcode, func(i, j int) bool {
		return len(s.specsByOpcode[i].Opcode) > len(s.specsByOpcode[j].Opcode)
	})

	conn.SetOnFrame(func(frame []byte) {
		select {
		case s.frames <- frame:
		case <-s.done:
		}
	})
	conn.SetOnState(func(up bool) {
		select {
		case s.states <- up:
		case <-s.done:
		}
	})

	s.wg.Add(1)
	go s.run()

	return s, nil
}

// SubmitRead enqueues a read of cmd.
//
// Returns:
//   - uuid.UUID: Request ID matching the eventual Result
//   - error: Resolution or capability errors, ErrQueueFull, ErrClosed
func (s *Session) SubmitRead(cmd string) (uuid.UUID, error) {
	spec, err := s.cfg.Table.Resolve(cmd)
	if err != nil {
		return uuid.Nil, err
	}
	if !spec.Readable() {
		return uuid.Nil, fmt.Errorf("%w: %q", command.ErrNotReadable, cmd)
	}
	return s.enqueue(request{id: uuid.New(), spec: spec, kind: KindRead})
}

// SubmitWrite enqueues a write of value to cmd.
//
// The Result reports the hand-off to the link; a device that confirms
// writes does so via a later unsolicited read.
func (s *Session) SubmitWrite(cmd string, value any) (uuid.UUID, error) {
	spec, err := s.cfg.Table.Resolve(cmd)
	if err != nil {
		return uuid.Nil, err
	}
	if !spec.Writable() {
		return uuid.Nil, fmt.Errorf("%w: %q", command.ErrNotWritable, cmd)
	}
	return s.enqueue(request{id: uuid.New(), spec: spec, kind: KindWrite, value: value})
}

func (s *Session) enqueue(req request) (uuid.UUID, error) {
	select {
	case <-s.done:
		return uuid.Nil, ErrClosed
	default:
	}

	select {
	case s.requests <- req:
		return req.id, nil
	default:
		return uuid.Nil, ErrQueueFull
	}
}

// Tick advances the cycle schedule and returns the commands now due for a
// cyclic read. Due commands report exactly once and re-arm at
// now+interval; missed intervals are not replayed. The first tick only
// arms the schedule so cyclic reads start one interval after boot, not at
// boot (startup reads are a separate concern).
//
// The caller issues the reads: routing them through the dispatcher lets a
// cyclic read share an outstanding on-demand read of the same command
// instead of opening a second device transaction. While the link is down
// due commands are skipped, not queued.
func (s *Session) Tick(now time.Time) []string {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	var due []string
	for name, cs := range s.cycles {
		if cs.next.IsZero() {
			cs.next = now.Add(cs.interval)
			continue
		}
		if now.Before(cs.next) {
			continue
		}
		cs.next = now.Add(cs.interval)

		if !s.connected.Load() {
			continue // Skipped, not queued: no catch-up on reconnect
		}
		due = append(due, name)
	}
	return due
}

// Connected reports the device-link state.
func (s *Session) Connected() bool {
	return s.connected.Load()
}

// Device returns the device identifier.
func (s *Session) Device() string {
	return s.cfg.Device
}

// Snapshot returns a point-in-time view for status reporting.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		Device:    s.cfg.Device,
		Connected: s.connected.Load(),
		Pending:   int(s.pendingCount.Load()),
		Link:      s.conn.Stats(),
	}
}

// SetLogger sets the logger for this session.
func (s *Session) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// Close stops the run loop and tears down the device link.
// Safe to call multiple times.
func (s *Session) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	err := s.conn.Close()
	s.wg.Wait()
	return err
}

// run is the session's single goroutine. It owns pending queues and the
// cycle schedule.
func (s *Session) run() {
	defer s.wg.Done()

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		s.armTimer(timer)

		select {
		case <-s.done:
			return
		case req := <-s.requests:
			s.dispatch(req)
		case frame := <-s.frames:
			s.handleFrame(frame)
		case up := <-s.states:
			s.handleState(up)
		case now := <-timer.C:
			s.expire(now)
		}
	}
}

// armTimer points timer at the earliest pending deadline, if any.
func (s *Session) armTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}

	deadline, ok := s.earliestDeadline()
	if ok {
		timer.Reset(time.Until(deadline))
	}
}

func (s *Session) earliestDeadline() (time.Time, bool) {
	var earliest time.Time
	found := false
	for _, q := range s.pending {
		// Per-command timeouts are uniform, so queue fronts are earliest.
		if len(q) > 0 && (!found || q[0].deadline.Before(earliest)) {
			earliest = q[0].deadline
			found = true
		}
	}
	return earliest, found
}

// dispatch encodes and sends one request.
func (s *Session) dispatch(req request) {
	var frame []byte
	var err error
	switch req.kind {
	case KindWrite:
		frame, err = command.EncodeWrite(req.spec, s.cfg.Params, req.value)
	default:
		frame, err = command.EncodeRead(req.spec, s.cfg.Params)
	}
	if err != nil {
		s.emit(Result{Command: req.spec.Name, Kind: req.kind, ID: req.id, Status: StatusFailed, Err: err})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	err = s.conn.Send(ctx, frame)
	cancel()
	if err != nil {
		s.emit(Result{Command: req.spec.Name, Kind: req.kind, ID: req.id, Status: StatusFailed, Err: err})
		return
	}

	if req.kind == KindWrite {
		s.emit(Result{Command: req.spec.Name, Kind: KindWrite, ID: req.id, Status: StatusOK, Value: req.value})
		return
	}

	s.seq++
	s.pending[req.spec.Name] = append(s.pending[req.spec.Name], pendingRead{
		id:       req.id,
		spec:     req.spec,
		deadline: time.Now().Add(s.timeoutFor(req.spec)),
		seq:      s.seq,
	})
	s.pendingCount.Add(1)
}

func (s *Session) timeoutFor(spec command.Spec) time.Duration {
	if spec.Timeout > 0 {
		return spec.Timeout
	}
	return s.cfg.RequestTimeout
}

// handleFrame attributes one response frame and completes a pending read,
// or surfaces it as an unsolicited update.
func (s *Session) handleFrame(frame []byte) {
	if spec, payload, ok := s.identify(frame); ok {
		if q := s.pending[spec.Name]; len(q) > 0 {
			s.pending[spec.Name] = q[1:]
			s.pendingCount.Add(-1)
			s.emitDecoded(spec, payload, q[0].id)
			return
		}
		s.emitDecoded(spec, payload, uuid.Nil)
		return
	}

	// No opcode echo: attribute to the oldest pending read overall.
	if p, ok := s.popOldest(); ok {
		s.emitDecoded(p.spec, frame, p.id)
		return
	}

	s.logDebug("unmatched frame", "frame", string(frame))
}

// identify finds the command whose opcode prefixes the frame, longest
// opcode first, and returns the remaining payload.
func (s *Session) identify(frame []byte) (command.Spec, []byte, bool) {
	for _, spec := range s.specsByOpcode {
		if bytes.HasPrefix(frame, []byte(spec.Opcode)) {
			payload := bytes.TrimLeft(frame[len(spec.Opcode):], payloadSeparators)
			return spec, payload, true
		}
	}
	return command.Spec{}, nil, false
}

// popOldest removes and returns the pending read with the lowest sequence
// number across all commands.
func (s *Session) popOldest() (pendingRead, bool) {
	var oldestCmd string
	found := false
	var oldest pendingRead
	for cmd, q := range s.pending {
		if len(q) > 0 && (!found || q[0].seq < oldest.seq) {
			oldest = q[0]
			oldestCmd = cmd
			found = true
		}
	}
	if !found {
		return pendingRead{}, false
	}
	s.pending[oldestCmd] = s.pending[oldestCmd][1:]
	s.pendingCount.Add(-1)
	return oldest, true
}

// emitDecoded decodes payload per spec and emits the read result.
func (s *Session) emitDecoded(spec command.Spec, payload []byte, id uuid.UUID) {
	value, err := command.Decode(spec, payload)
	if err != nil {
		s.emit(Result{Command: spec.Name, Kind: KindRead, ID: id, Status: StatusFailed, Err: err})
		return
	}
	s.emit(Result{Command: spec.Name, Kind: KindRead, ID: id, Status: StatusOK, Value: value})
}

// expire completes every pending read whose deadline has passed.
func (s *Session) expire(now time.Time) {
	for cmd, q := range s.pending {
		for len(q) > 0 && !q[0].deadline.After(now) {
			s.emit(Result{Command: cmd, Kind: KindRead, ID: q[0].id, Status: StatusTimedOut, Err: ErrTimeout})
			q = q[1:]
			s.pendingCount.Add(-1)
		}
		s.pending[cmd] = q
	}
}

// handleState reacts to a link transition. Going down fails every pending
// read immediately: no response can arrive on a dead link.
func (s *Session) handleState(up bool) {
	s.connected.Store(up)

	if !up {
		for cmd, q := range s.pending {
			for _, p := range q {
				s.emit(Result{Command: cmd, Kind: KindRead, ID: p.id, Status: StatusFailed, Err: transport.ErrNotConnected})
			}
			s.pendingCount.Add(int32(-len(q)))
			delete(s.pending, cmd)
		}
	}

	s.emit(Result{Kind: KindLink, Status: StatusOK, Connected: up})
}

// emit delivers a result to the dispatcher, aborting on shutdown.
func (s *Session) emit(r Result) {
	r.Device = s.cfg.Device
	select {
	case s.results <- r:
	case <-s.done:
	}
}

func (s *Session) logDebug(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
