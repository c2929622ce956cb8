package gateway

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/multigate/internal/binding"
	"github.com/nerrad567/multigate/internal/dispatcher"
	"github.com/nerrad567/multigate/internal/infrastructure/config"
	"github.com/nerrad567/multigate/internal/infrastructure/mqtt"
	"github.com/nerrad567/multigate/internal/session"
	"github.com/nerrad567/multigate/internal/transport"
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Broker is the slice of the MQTT client the gateway needs.
// Satisfied by *mqtt.Client.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishJSON(topic string, value any, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Recorder receives every item update and availability change, for
// persistence or telemetry. Recorder errors are logged, never fatal.
type Recorder interface {
	RecordItem(item string, value any, ts time.Time) error
	RecordAvailability(device string, online bool, ts time.Time) error
}

// Update is one entry on a Watch channel.
type Update struct {
	Type   string       `json:"type"` // "item" or "availability"
	Item   string       `json:"item,omitempty"`
	Device string       `json:"device,omitempty"`
	Value  any          `json:"value,omitempty"`
	Online bool         `json:"online,omitempty"`
	Error  *UpdateError `json:"error,omitempty"`
	TS     time.Time    `json:"ts"`
}

// UpdateError is the per-item error indicator carried in place of a value.
type UpdateError struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// Update types.
const (
	UpdateItem         = "item"
	UpdateAvailability = "availability"
)

// Options configures gateway construction.
type Options struct {
	// Broker is the MQTT client. Required.
	Broker Broker

	// Recorders receive item updates and availability changes.
	Recorders []Recorder

	// Logger receives gateway, session and transport logs.
	Logger Logger

	// Dial opens a device connection. Defaults to transport.Open;
	// overridable for tests.
	Dial func(cfg transport.TCPConfig) (transport.Connector, error)
}

// Gateway owns the assembled device pipeline and its MQTT surface.
type Gateway struct {
	cfg       *config.Config
	broker    Broker
	recorders []Recorder
	logger    Logger
	topics    mqtt.Topics
	qos       byte

	registry   *binding.Registry
	dispatcher *dispatcher.Dispatcher
	sessions   []*session.Session

	mu          sync.RWMutex
	values      map[string]any
	online      map[string]bool
	watchers    map[int]chan Update
	nextWatcher int

	closeOnce sync.Once
	closeErr  error
}

// New assembles the pipeline from configuration: command tables, binding
// registry, one transport and session per device, and the dispatcher.
// Nothing is started; call Start after construction.
//
// Returns:
//   - *Gateway: the assembled gateway
//   - error: validation or connection setup failure; partially opened
//     devices are closed before returning
func New(cfg *config.Config, opts Options) (*Gateway, error) {
	if opts.Broker == nil {
		return nil, ErrNoBroker
	}
	if len(cfg.Devices) == 0 {
		return nil, ErrNoDevices
	}

	tables, err := buildTables(cfg)
	if err != nil {
		return nil, err
	}

	registry, err := binding.NewRegistry(buildBindings(cfg.Items), tables)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		cfg:       cfg,
		broker:    opts.Broker,
		recorders: opts.Recorders,
		logger:    opts.Logger,
		qos:       byte(cfg.MQTT.QoS),
		registry:  registry,
		values:    make(map[string]any),
		online:    make(map[string]bool),
		watchers:  make(map[int]chan Update),
	}

	for _, note := range registry.Notes() {
		g.logWarn("binding demoted", "note", note)
	}

	d := dispatcher.New(dispatcher.Config{CycleTick: cfg.CycleTick()}, registry, g)
	if opts.Logger != nil {
		d.SetLogger(opts.Logger)
	}
	g.dispatcher = d

	dial := opts.Dial
	if dial == nil {
		dial = func(tc transport.TCPConfig) (transport.Connector, error) {
			return transport.Open(tc)
		}
	}

	for _, dev := range cfg.Devices {
		conn, err := dial(transport.TCPConfig{
			Address:    dev.Address,
			Terminator: dev.Terminator,
		})
		if err != nil {
			g.teardown()
			return nil, fmt.Errorf("device %q: %w", dev.ID, err)
		}
		if withLogger, ok := conn.(interface{ SetLogger(transport.Logger) }); ok && opts.Logger != nil {
			withLogger.SetLogger(opts.Logger)
		}

		timeout := cfg.RequestTimeout()
		if dev.TimeoutSeconds > 0 {
			timeout = time.Duration(dev.TimeoutSeconds) * time.Second
		}

		sess, err := session.New(session.Config{
			Device:         dev.ID,
			Params:         dev.Params,
			Table:          tables[dev.ID],
			Cycles:         registry.Cycles(dev.ID),
			RequestTimeout: timeout,
		}, conn, d.Results())
		if err != nil {
			conn.Close()
			g.teardown()
			return nil, fmt.Errorf("device %q: %w", dev.ID, err)
		}
		if opts.Logger != nil {
			sess.SetLogger(opts.Logger)
		}

		if err := d.AddSession(sess); err != nil {
			sess.Close()
			g.teardown()
			return nil, fmt.Errorf("device %q: %w", dev.ID, err)
		}
		g.sessions = append(g.sessions, sess)
	}

	return g, nil
}

// Start subscribes to the host-facing topics, publishes the initial
// availability state and starts the dispatcher.
func (g *Gateway) Start() error {
	subs := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{g.topics.AllItemSets(), g.handleSet},
		{g.topics.AllItemReads(), g.handleRead},
		{g.topics.AllDeviceReadAlls(), g.handleReadAll},
	}
	for _, s := range subs {
		if err := g.broker.Subscribe(s.topic, g.qos, s.handler); err != nil {
			return fmt.Errorf("subscribe %s: %w", s.topic, err)
		}
	}

	// Devices start offline until their link reports up. Retained so hosts
	// see a defined state immediately.
	for _, dev := range g.cfg.Devices {
		g.mu.Lock()
		if _, seen := g.online[dev.ID]; !seen {
			g.online[dev.ID] = false
		}
		g.mu.Unlock()
		if err := g.broker.Publish(g.topics.DeviceAvailability(dev.ID), []byte(availabilityOffline), g.qos, true); err != nil {
			g.logWarn("initial availability publish failed", "device", dev.ID, "error", err)
		}
	}

	if err := g.dispatcher.Start(); err != nil {
		return err
	}
	g.logInfo("gateway started",
		"devices", len(g.cfg.Devices),
		"items", g.registry.Len())
	return nil
}

// Close shuts down the dispatcher and every session, then releases all
// watcher channels. Safe to call multiple times.
func (g *Gateway) Close() error {
	g.closeOnce.Do(func() {
		g.closeErr = g.dispatcher.Close()

		g.mu.Lock()
		for id, ch := range g.watchers {
			close(ch)
			delete(g.watchers, id)
		}
		g.mu.Unlock()
	})
	return g.closeErr
}

// =============================================================================
// MQTT handlers
// =============================================================================

func (g *Gateway) handleSet(topic string, payload []byte) error {
	item, ok := g.topics.ItemFromTopic(topic)
	if !ok {
		return fmt.Errorf("unexpected set topic %q", topic)
	}
	value, source, err := decodeSet(payload)
	if err != nil {
		return fmt.Errorf("item %q: %w", item, err)
	}
	if source == "" {
		source = "mqtt"
	}
	if err := g.dispatcher.OnItemChanged(item, value, source); err != nil {
		// Stray retained messages on unbound items are not a fault.
		if errors.Is(err, dispatcher.ErrUnknownItem) {
			g.logDebug("set for unbound item ignored", "item", item)
			return nil
		}
		return err
	}
	return nil
}

func (g *Gateway) handleRead(topic string, payload []byte) error {
	item, ok := g.topics.ItemFromTopic(topic)
	if !ok {
		return fmt.Errorf("unexpected read topic %q", topic)
	}
	if err := g.dispatcher.OnItemRead(item); err != nil {
		if errors.Is(err, dispatcher.ErrUnknownItem) {
			g.logDebug("read for unbound item ignored", "item", item)
			return nil
		}
		return err
	}
	return nil
}

func (g *Gateway) handleReadAll(topic string, payload []byte) error {
	device, ok := g.topics.DeviceFromTopic(topic)
	if !ok {
		return fmt.Errorf("unexpected read-all topic %q", topic)
	}
	return g.dispatcher.OnReadAll(device)
}

// =============================================================================
// dispatcher.Emitter
// =============================================================================

// EmitItem publishes an item value retained, records it and notifies
// watchers.
func (g *Gateway) EmitItem(item string, value any) {
	ts := time.Now().UTC()

	g.mu.Lock()
	g.values[item] = value
	g.mu.Unlock()

	payload := statePayload{Value: value, TS: ts}
	if err := g.broker.PublishJSON(g.topics.ItemState(item), payload, g.qos, true); err != nil {
		g.logWarn("state publish failed", "item", item, "error", err)
	}

	for _, rec := range g.recorders {
		if err := rec.RecordItem(item, value, ts); err != nil {
			g.logWarn("item record failed", "item", item, "error", err)
		}
	}

	g.notify(Update{Type: UpdateItem, Item: item, Value: value, TS: ts})
}

// EmitItemError publishes an error indicator on the item's state topic.
// The cached last good value is left untouched.
func (g *Gateway) EmitItemError(item string, code string, err error) {
	ts := time.Now().UTC()

	info := UpdateError{Code: code}
	if err != nil {
		info.Message = err.Error()
	}

	payload := errorPayload{Error: info, TS: ts}
	if pubErr := g.broker.PublishJSON(g.topics.ItemState(item), payload, g.qos, true); pubErr != nil {
		g.logWarn("error-state publish failed", "item", item, "error", pubErr)
	}

	g.notify(Update{Type: UpdateItem, Item: item, Error: &info, TS: ts})
}

// EmitAvailability publishes device availability retained, records it and
// notifies watchers.
func (g *Gateway) EmitAvailability(device string, online bool) {
	ts := time.Now().UTC()

	g.mu.Lock()
	g.online[device] = online
	g.mu.Unlock()

	payload := availabilityOffline
	if online {
		payload = availabilityOnline
	}
	if err := g.broker.Publish(g.topics.DeviceAvailability(device), []byte(payload), g.qos, true); err != nil {
		g.logWarn("availability publish failed", "device", device, "error", err)
	}

	for _, rec := range g.recorders {
		if err := rec.RecordAvailability(device, online, ts); err != nil {
			g.logWarn("availability record failed", "device", device, "error", err)
		}
	}

	g.notify(Update{Type: UpdateAvailability, Device: device, Online: online, TS: ts})
}

// =============================================================================
// Read-side accessors (API surface)
// =============================================================================

// SetItem routes a host-originated item change into the pipeline, as if it
// arrived on the item's set topic.
func (g *Gateway) SetItem(item string, value any, source string) error {
	if source == "" {
		source = "api"
	}
	return g.dispatcher.OnItemChanged(item, value, source)
}

// RequestRead asks the bound device for a fresh value of the item.
func (g *Gateway) RequestRead(item string) error {
	return g.dispatcher.OnItemRead(item)
}

// ReadAll triggers a read of every readable command of the device.
func (g *Gateway) ReadAll(device string) error {
	return g.dispatcher.OnReadAll(device)
}

// Value returns the last emitted value for an item.
func (g *Gateway) Value(item string) (any, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	v, ok := g.values[item]
	return v, ok
}

// Values returns a copy of all last emitted item values.
func (g *Gateway) Values() map[string]any {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]any, len(g.values))
	for k, v := range g.values {
		out[k] = v
	}
	return out
}

// Availability returns a copy of the per-device link state.
func (g *Gateway) Availability() map[string]bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]bool, len(g.online))
	for k, v := range g.online {
		out[k] = v
	}
	return out
}

// Snapshots returns per-device diagnostics from every session.
func (g *Gateway) Snapshots() []session.Snapshot {
	return g.dispatcher.Snapshots()
}

// Registry exposes the immutable binding registry.
func (g *Gateway) Registry() *binding.Registry {
	return g.registry
}

// Watch returns a channel of item and availability updates plus a cancel
// function. Slow consumers lose updates rather than blocking the pipeline.
func (g *Gateway) Watch(buffer int) (<-chan Update, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Update, buffer)

	g.mu.Lock()
	id := g.nextWatcher
	g.nextWatcher++
	g.watchers[id] = ch
	g.mu.Unlock()

	cancel := func() {
		g.mu.Lock()
		if existing, ok := g.watchers[id]; ok {
			delete(g.watchers, id)
			close(existing)
		}
		g.mu.Unlock()
	}
	return ch, cancel
}

// notify fans an update out to every watcher, dropping on full buffers.
func (g *Gateway) notify(u Update) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, ch := range g.watchers {
		select {
		case ch <- u:
		default:
		}
	}
}

// teardown closes whatever New managed to assemble before failing.
func (g *Gateway) teardown() {
	g.dispatcher.Close()
}

// =============================================================================
// Logging helpers
// =============================================================================

func (g *Gateway) logDebug(msg string, keysAndValues ...any) {
	if g.logger != nil {
		g.logger.Debug(msg, keysAndValues...)
	}
}

func (g *Gateway) logInfo(msg string, keysAndValues ...any) {
	if g.logger != nil {
		g.logger.Info(msg, keysAndValues...)
	}
}

func (g *Gateway) logWarn(msg string, keysAndValues ...any) {
	if g.logger != nil {
		g.logger.Warn(msg, keysAndValues...)
	}
}
