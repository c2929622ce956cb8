package dispatcher

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/multigate/internal/binding"
	"github.com/nerrad567/multigate/internal/command"
	"github.com/nerrad567/multigate/internal/session"
	"github.com/nerrad567/multigate/internal/transport"
)

const (
	// SelfSource tags item updates Multigate emitted itself. Changes
	// arriving back with this source are dropped to break update loops.
	SelfSource = "multigate"

	// defaultCycleTick is the resolution of the cycle scheduler.
	defaultCycleTick = time.Second

	// eventQueueSize buffers host-side events ahead of the run loop.
	eventQueueSize = 256

	// resultQueueSize buffers session results ahead of the run loop.
	resultQueueSize = 256
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Emitter receives the dispatcher's outbound events. The host boundary
// implements it; composite emitters fan the events further (history,
// telemetry, update streams).
type Emitter interface {
	// EmitItem delivers a new item value.
	EmitItem(item string, value any)

	// EmitItemError delivers a per-item failure indicator in place of a
	// value. The item's last good value is not disturbed.
	EmitItemError(item string, code string, err error)

	// EmitAvailability delivers a device online/offline transition.
	EmitAvailability(device string, online bool)
}

// Config holds dispatcher configuration.
type Config struct {
	// CycleTick is the cycle scheduler resolution. Default: 1 second.
	CycleTick time.Duration
}

type eventKind int

const (
	eventItemChanged eventKind = iota
	eventItemRead
	eventReadAll
)

type event struct {
	kind   eventKind
	item   string
	device string
	value  any
}

type pairKey struct {
	device  string
	command string
}

// Dispatcher routes item events to sessions and session results to the
// emitter. All routing state is confined to the run goroutine.
type Dispatcher struct {
	cfg      Config
	registry *binding.Registry
	emitter  Emitter

	sessions map[string]*session.Session

	events  chan event
	results chan session.Result

	// Run-loop state
	inflight map[pairKey]bool
	byID     map[uuid.UUID]pairKey

	started bool
	mu      sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a dispatcher. Register sessions with AddSession, then call
// Start.
func New(cfg Config, registry *binding.Registry, emitter Emitter) *Dispatcher {
	if cfg.CycleTick == 0 {
		cfg.CycleTick = defaultCycleTick
	}

	return &Dispatcher{
		cfg:      cfg,
		registry: registry,
		emitter:  emitter,
		sessions: make(map[string]*session.Session),
		events:   make(chan event, eventQueueSize),
		results:  make(chan session.Result, resultQueueSize),
		inflight: make(map[pairKey]bool),
		byID:     make(map[uuid.UUID]pairKey),
		done:     make(chan struct{}),
	}
}

// Results returns the channel sessions must emit into.
func (d *Dispatcher) Results() chan<- session.Result {
	return d.results
}

// AddSession registers a device session. Must be called before Start.
func (d *Dispatcher) AddSession(s *session.Session) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return ErrAlreadyStarted
	}
	if _, dup := d.sessions[s.Device()]; dup {
		return fmt.Errorf("dispatcher: duplicate session for device %q", s.Device())
	}
	d.sessions[s.Device()] = s
	return nil
}

// Start launches the run loop.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return ErrAlreadyStarted
	}
	d.started = true

	d.wg.Add(1)
	go d.run()
	return nil
}

// OnItemChanged routes a host-side item update.
//
// Updates tagged with SelfSource are Multigate's own state emissions
// reflected back by the host and are dropped. A change on a read-all
// trigger item reads every readable command of its device; a change on a
// writer item becomes a device write.
//
// Parameters:
//   - item: Host item identifier
//   - value: New item value
//   - source: Originator tag, SelfSource for Multigate's own emissions
//
// Returns:
//   - error: ErrUnknownItem, ErrClosed
func (d *Dispatcher) OnItemChanged(item string, value any, source string) error {
	if source == SelfSource {
		return nil
	}
	if _, ok := d.registry.Binding(item); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownItem, item)
	}
	return d.submit(event{kind: eventItemChanged, item: item, value: value})
}

// OnItemRead requests a fresh device read for an item.
func (d *Dispatcher) OnItemRead(item string) error {
	if _, ok := d.registry.Binding(item); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownItem, item)
	}
	return d.submit(event{kind: eventItemRead, item: item})
}

// OnReadAll reads every readable command of device, deduplicated against
// reads already in flight.
func (d *Dispatcher) OnReadAll(device string) error {
	d.mu.Lock()
	_, ok := d.sessions[device]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDevice, device)
	}
	return d.submit(event{kind: eventReadAll, device: device})
}

func (d *Dispatcher) submit(ev event) error {
	select {
	case <-d.done:
		return ErrClosed
	case d.events <- ev:
		return nil
	}
}

// Snapshots returns per-device session views, sorted by device.
func (d *Dispatcher) Snapshots() []session.Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]session.Snapshot, 0, len(d.sessions))
	for _, s := range d.sessions {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Device < out[j].Device })
	return out
}

// SetLogger sets the logger for this dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.loggerMu.Lock()
	d.logger = logger
	d.loggerMu.Unlock()
}

// Close stops the run loop and closes every session.
// Safe to call multiple times.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	sessions := make([]*session.Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		sessions = append(sessions, s)
	}
	d.mu.Unlock()

	// Sessions first: their emits abort on their own done channel, so the
	// run loop never deadlocks on a closing session.
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			d.logError("session close failed", err)
		}
	}

	d.closeOnce.Do(func() { close(d.done) })
	d.wg.Wait()
	return nil
}

// run is the coordinating goroutine.
func (d *Dispatcher) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.CycleTick)
	defer ticker.Stop()

	for {
		select {
		case <-d.done:
			return
		case ev := <-d.events:
			d.handleEvent(ev)
		case r := <-d.results:
			d.handleResult(r)
		case now := <-ticker.C:
			// Due cyclic reads go through submitRead so they coalesce
			// with an on-demand read of the same command still in flight.
			for device, s := range d.sessions {
				for _, cmd := range s.Tick(now) {
					d.submitRead(device, cmd)
				}
			}
		}
	}
}

func (d *Dispatcher) handleEvent(ev event) {
	switch ev.kind {
	case eventItemChanged:
		d.handleItemChanged(ev.item, ev.value)
	case eventItemRead:
		d.handleItemRead(ev.item)
	case eventReadAll:
		d.readAll(ev.device)
	}
}

func (d *Dispatcher) handleItemChanged(item string, value any) {
	b, ok := d.registry.Binding(item)
	if !ok {
		return
	}

	if b.ReadAll {
		d.readAll(b.Device)
		return
	}

	if !b.Write {
		d.logDebug("item change on non-writer binding ignored", "item", item)
		return
	}

	s := d.sessions[b.Device]
	if s == nil {
		d.logError("no session for device", fmt.Errorf("%w: %q", ErrUnknownDevice, b.Device))
		return
	}

	id, err := s.SubmitWrite(b.Command, value)
	if err != nil {
		d.logError("write submit failed", err, "item", item, "device", b.Device, "command", b.Command)
		return
	}
	d.logDebug("write submitted", "item", item, "device", b.Device, "command", b.Command, "id", id.String())
}

func (d *Dispatcher) handleItemRead(item string) {
	b, ok := d.registry.Binding(item)
	if !ok {
		return
	}
	if b.ReadAll {
		d.readAll(b.Device)
		return
	}
	d.submitRead(b.Device, b.Command)
}

// readAll issues one read per readable command of device.
func (d *Dispatcher) readAll(device string) {
	for _, cmd := range d.registry.ReadableCommands(device) {
		d.submitRead(device, cmd)
	}
}

// submitRead issues a coalesced read: while one read of (device, command)
// is in flight, duplicates are dropped.
func (d *Dispatcher) submitRead(device, cmd string) {
	key := pairKey{device, cmd}
	if d.inflight[key] {
		d.logDebug("read coalesced", "device", device, "command", cmd)
		return
	}

	s := d.sessions[device]
	if s == nil {
		d.logError("no session for device", fmt.Errorf("%w: %q", ErrUnknownDevice, device))
		return
	}

	id, err := s.SubmitRead(cmd)
	if err != nil {
		d.logError("read submit failed", err, "device", device, "command", cmd)
		return
	}

	d.inflight[key] = true
	d.byID[id] = key
}

func (d *Dispatcher) handleResult(r session.Result) {
	if r.ID != uuid.Nil {
		if key, ok := d.byID[r.ID]; ok {
			delete(d.byID, r.ID)
			delete(d.inflight, key)
		}
	}

	switch r.Kind {
	case session.KindLink:
		d.handleLink(r)

	case session.KindWrite:
		if r.Status != session.StatusOK {
			d.logWarn("write failed", "device", r.Device, "command", r.Command, "error", errString(r.Err))
			if writer, ok := d.registry.WriterFor(r.Device, r.Command); ok {
				d.emitter.EmitItemError(writer.Item, errCode(r), r.Err)
			}
		}

	case session.KindRead:
		if r.Status != session.StatusOK {
			d.logWarn("read failed", "device", r.Device, "command", r.Command,
				"status", r.Status.String(), "error", errString(r.Err))
			for _, b := range d.registry.ReadersFor(r.Device, r.Command) {
				d.emitter.EmitItemError(b.Item, errCode(r), r.Err)
			}
			return
		}
		readers := d.registry.ReadersFor(r.Device, r.Command)
		if len(readers) == 0 {
			d.logDebug("read result with no bound readers", "device", r.Device, "command", r.Command)
			return
		}
		for _, b := range readers {
			d.emitter.EmitItem(b.Item, r.Value)
		}
	}
}

// handleLink publishes availability and, on link-up, issues the device's
// startup reads.
func (d *Dispatcher) handleLink(r session.Result) {
	d.emitter.EmitAvailability(r.Device, r.Connected)

	if !r.Connected {
		return
	}
	for _, cmd := range d.registry.InitialCommands(r.Device) {
		d.submitRead(r.Device, cmd)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// errCode maps a failed result to a stable error indicator for the host.
func errCode(r session.Result) string {
	if r.Status == session.StatusTimedOut {
		return "timeout"
	}
	switch {
	case errors.Is(r.Err, transport.ErrNotConnected):
		return "not_connected"
	case errors.Is(r.Err, command.ErrDecoding):
		return "decode_error"
	case errors.Is(r.Err, command.ErrEncoding):
		return "encoding_error"
	default:
		return "failed"
	}
}

func (d *Dispatcher) logDebug(msg string, keysAndValues ...any) {
	if l := d.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}

func (d *Dispatcher) logWarn(msg string, keysAndValues ...any) {
	if l := d.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (d *Dispatcher) logError(msg string, err error, keysAndValues ...any) {
	if l := d.getLogger(); l != nil {
		l.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}

func (d *Dispatcher) getLogger() Logger {
	d.loggerMu.RLock()
	defer d.loggerMu.RUnlock()
	return d.logger
}
