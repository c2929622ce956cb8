package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/multigate/internal/binding"
	"github.com/nerrad567/multigate/internal/command"
	"github.com/nerrad567/multigate/internal/session"
	"github.com/nerrad567/multigate/internal/transport"
)

// mockConnector is a hand-rolled transport.Connector for dispatcher tests.
type mockConnector struct {
	mu      sync.Mutex
	sent    []string
	sendErr error
	onFrame func([]byte)
	onState func(bool)
}

func (m *mockConnector) Send(_ context.Context, frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, string(frame))
	return nil
}

func (m *mockConnector) failSends(err error) {
	m.mu.Lock()
	m.sendErr = err
	m.mu.Unlock()
}

func (m *mockConnector) SetOnFrame(cb func([]byte)) {
	m.mu.Lock()
	m.onFrame = cb
	m.mu.Unlock()
}

func (m *mockConnector) SetOnState(cb func(bool)) {
	m.mu.Lock()
	m.onState = cb
	m.mu.Unlock()
}

func (m *mockConnector) IsConnected() bool      { return true }
func (m *mockConnector) Stats() transport.Stats { return transport.Stats{} }
func (m *mockConnector) Close() error           { return nil }

func (m *mockConnector) deliver(frame string) {
	m.mu.Lock()
	cb := m.onFrame
	m.mu.Unlock()
	if cb != nil {
		cb([]byte(frame))
	}
}

func (m *mockConnector) setState(up bool) {
	m.mu.Lock()
	cb := m.onState
	m.mu.Unlock()
	if cb != nil {
		cb(up)
	}
}

func (m *mockConnector) sentFrames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

// mockEmitter records emitted item values and availability transitions.
type mockEmitter struct {
	mu           sync.Mutex
	items        []itemEvent
	errors       []errorEvent
	availability []availEvent
}

type itemEvent struct {
	item  string
	value any
}

type errorEvent struct {
	item string
	code string
}

type availEvent struct {
	device string
	online bool
}

func (m *mockEmitter) EmitItem(item string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, itemEvent{item, value})
}

func (m *mockEmitter) EmitItemError(item string, code string, _ error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, errorEvent{item, code})
}

func (m *mockEmitter) EmitAvailability(device string, online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.availability = append(m.availability, availEvent{device, online})
}

func (m *mockEmitter) itemEvents() []itemEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]itemEvent(nil), m.items...)
}

func (m *mockEmitter) availEvents() []availEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]availEvent(nil), m.availability...)
}

func (m *mockEmitter) errorEvents() []errorEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]errorEvent(nil), m.errors...)
}

// newTestDispatcher wires one device ("beamer") with a mock link behind a
// real session.
func newTestDispatcher(t *testing.T) (*Dispatcher, *mockConnector, *mockEmitter) {
	t.Helper()

	tbl, err := command.NewTable("projector", []command.Spec{
		{Name: "power", Opcode: "PWR", Read: true, Write: true, WriteCmd: "$C=$V", Type: command.ValueBool},
		{Name: "temp", Opcode: "TMP", Read: true, Type: command.ValueFloat},
	})
	if err != nil {
		t.Fatalf("NewTable() error: %v", err)
	}
	tables := map[string]*command.Table{"beamer": tbl}

	reg, err := binding.NewRegistry([]binding.Binding{
		{Item: "av.power", Device: "beamer", Command: "power", Read: true, Write: true, ReadInitial: true},
		{Item: "av.power.mirror", Device: "beamer", Command: "power", Read: true},
		{Item: "av.temp", Device: "beamer", Command: "temp", Read: true},
		{Item: "av.refresh", Device: "beamer", ReadAll: true},
	}, tables)
	if err != nil {
		t.Fatalf("NewRegistry() error: %v", err)
	}

	emitter := &mockEmitter{}
	d := New(Config{CycleTick: time.Hour}, reg, emitter)

	conn := &mockConnector{}
	sess, err := session.New(session.Config{
		Device: "beamer",
		Table:  tbl,
	}, conn, d.Results())
	if err != nil {
		t.Fatalf("session.New() error: %v", err)
	}
	if err := d.AddSession(sess); err != nil {
		t.Fatalf("AddSession() error: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	return d, conn, emitter
}

func TestDispatcherWriteFlow(t *testing.T) {
	d, conn, _ := newTestDispatcher(t)

	if err := d.OnItemChanged("av.power", true, "mqtt"); err != nil {
		t.Fatalf("OnItemChanged() error: %v", err)
	}

	waitFor(t, func() bool { return len(conn.sentFrames()) == 1 })
	if frames := conn.sentFrames(); frames[0] != "PWR=1" {
		t.Errorf("sent frame = %q, want %q", frames[0], "PWR=1")
	}
}

func TestDispatcherSuppressesOwnEmissions(t *testing.T) {
	d, conn, _ := newTestDispatcher(t)

	if err := d.OnItemChanged("av.power", true, SelfSource); err != nil {
		t.Fatalf("OnItemChanged() error: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if frames := conn.sentFrames(); len(frames) != 0 {
		t.Errorf("self-sourced change reached the device: %v", frames)
	}
}

func TestDispatcherIgnoresNonWriterChanges(t *testing.T) {
	d, conn, _ := newTestDispatcher(t)

	// av.power.mirror reads power but does not own writes.
	if err := d.OnItemChanged("av.power.mirror", true, "mqtt"); err != nil {
		t.Fatalf("OnItemChanged() error: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if frames := conn.sentFrames(); len(frames) != 0 {
		t.Errorf("non-writer change reached the device: %v", frames)
	}
}

func TestDispatcherReadFanOut(t *testing.T) {
	d, conn, emitter := newTestDispatcher(t)

	if err := d.OnItemRead("av.power"); err != nil {
		t.Fatalf("OnItemRead() error: %v", err)
	}
	waitFor(t, func() bool { return len(conn.sentFrames()) == 1 })

	conn.deliver("PWR=1")

	waitFor(t, func() bool { return len(emitter.itemEvents()) == 2 })
	got := map[string]any{}
	for _, ev := range emitter.itemEvents() {
		got[ev.item] = ev.value
	}
	if got["av.power"] != true || got["av.power.mirror"] != true {
		t.Errorf("fan-out = %v, want av.power and av.power.mirror both true", got)
	}
}

func TestDispatcherUnsolicitedUpdateFansOut(t *testing.T) {
	_, conn, emitter := newTestDispatcher(t)

	conn.deliver("TMP=21.5")

	waitFor(t, func() bool { return len(emitter.itemEvents()) == 1 })
	ev := emitter.itemEvents()[0]
	if ev.item != "av.temp" || ev.value != 21.5 {
		t.Errorf("unsolicited fan-out = %s/%v, want av.temp/21.5", ev.item, ev.value)
	}
}

func TestDispatcherCoalescesReads(t *testing.T) {
	d, conn, _ := newTestDispatcher(t)

	if err := d.OnItemRead("av.power"); err != nil {
		t.Fatalf("OnItemRead() error: %v", err)
	}
	waitFor(t, func() bool { return len(conn.sentFrames()) == 1 })

	// Same (device, command) while the first read is still unanswered.
	if err := d.OnItemRead("av.power.mirror"); err != nil {
		t.Fatalf("OnItemRead() error: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if frames := conn.sentFrames(); len(frames) != 1 {
		t.Fatalf("coalescing failed, sent %v", frames)
	}

	// Completion clears the in-flight mark.
	conn.deliver("PWR=1")
	waitFor(t, func() bool {
		if err := d.OnItemRead("av.power"); err != nil {
			return false
		}
		return len(conn.sentFrames()) >= 2
	})
}

func TestDispatcherCoalescesCyclicWithPendingRead(t *testing.T) {
	tbl, err := command.NewTable("projector", []command.Spec{
		{Name: "temp", Opcode: "TMP", Read: true, Type: command.ValueFloat},
	})
	if err != nil {
		t.Fatalf("NewTable() error: %v", err)
	}
	tables := map[string]*command.Table{"beamer": tbl}

	reg, err := binding.NewRegistry([]binding.Binding{
		{Item: "av.temp", Device: "beamer", Command: "temp", Read: true, Cycle: 40 * time.Millisecond},
	}, tables)
	if err != nil {
		t.Fatalf("NewRegistry() error: %v", err)
	}

	emitter := &mockEmitter{}
	d := New(Config{CycleTick: 10 * time.Millisecond}, reg, emitter)

	conn := &mockConnector{}
	sess, err := session.New(session.Config{
		Device: "beamer",
		Table:  tbl,
		Cycles: map[string]time.Duration{"temp": 40 * time.Millisecond},
	}, conn, d.Results())
	if err != nil {
		t.Fatalf("session.New() error: %v", err)
	}
	if err := d.AddSession(sess); err != nil {
		t.Fatalf("AddSession() error: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	conn.setState(true)
	waitFor(t, func() bool { return len(emitter.availEvents()) == 1 })

	// On-demand read left unanswered.
	if err := d.OnItemRead("av.temp"); err != nil {
		t.Fatalf("OnItemRead() error: %v", err)
	}
	waitFor(t, func() bool { return len(conn.sentFrames()) == 1 })

	// Several cycle intervals elapse while the read is still pending: the
	// cyclic read must share the outstanding request, not open a second
	// device transaction.
	time.Sleep(150 * time.Millisecond)
	if frames := conn.sentFrames(); len(frames) != 1 {
		t.Fatalf("device saw %v, want a single outstanding TMP read", frames)
	}

	// Completion releases the pair; the next due cycle reads afresh.
	conn.deliver("TMP=21.5")
	waitFor(t, func() bool { return len(conn.sentFrames()) >= 2 })
}

func TestDispatcherReadAllTrigger(t *testing.T) {
	d, conn, _ := newTestDispatcher(t)

	// Any value on the trigger item reads every readable command once.
	if err := d.OnItemChanged("av.refresh", 1, "mqtt"); err != nil {
		t.Fatalf("OnItemChanged() error: %v", err)
	}

	waitFor(t, func() bool { return len(conn.sentFrames()) == 2 })
	frames := conn.sentFrames()
	if frames[0] != "PWR" || frames[1] != "TMP" {
		t.Errorf("read-all sent %v, want [PWR TMP]", frames)
	}
}

func TestDispatcherLinkUpRunsStartupReads(t *testing.T) {
	_, conn, emitter := newTestDispatcher(t)

	conn.setState(true)

	waitFor(t, func() bool { return len(emitter.availEvents()) == 1 })
	if ev := emitter.availEvents()[0]; ev.device != "beamer" || !ev.online {
		t.Errorf("availability = %+v, want beamer online", ev)
	}

	// av.power carries the only read_initial flag.
	waitFor(t, func() bool { return len(conn.sentFrames()) == 1 })
	if frames := conn.sentFrames(); frames[0] != "PWR" {
		t.Errorf("startup read sent %v, want [PWR]", frames)
	}
}

func TestDispatcherUnknownItem(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	if err := d.OnItemChanged("nope", 1, "mqtt"); !errors.Is(err, ErrUnknownItem) {
		t.Errorf("OnItemChanged(nope) = %v, want ErrUnknownItem", err)
	}
	if err := d.OnItemRead("nope"); !errors.Is(err, ErrUnknownItem) {
		t.Errorf("OnItemRead(nope) = %v, want ErrUnknownItem", err)
	}
	if err := d.OnReadAll("ghost"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("OnReadAll(ghost) = %v, want ErrUnknownDevice", err)
	}
}

func TestDispatcherReadFailureEmitsErrors(t *testing.T) {
	d, conn, emitter := newTestDispatcher(t)

	conn.failSends(transport.ErrNotConnected)
	if err := d.OnItemRead("av.temp"); err != nil {
		t.Fatalf("OnItemRead() error: %v", err)
	}

	waitFor(t, func() bool { return len(emitter.errorEvents()) == 1 })
	ev := emitter.errorEvents()[0]
	if ev.item != "av.temp" {
		t.Errorf("error item = %q, want av.temp", ev.item)
	}
	if ev.code != "not_connected" {
		t.Errorf("error code = %q, want not_connected", ev.code)
	}
	if len(emitter.itemEvents()) != 0 {
		t.Errorf("item events = %v, want none for a failed read", emitter.itemEvents())
	}
}

func TestDispatcherWriteFailureEmitsErrorToWriter(t *testing.T) {
	d, conn, emitter := newTestDispatcher(t)

	conn.failSends(transport.ErrNotConnected)
	if err := d.OnItemChanged("av.power", true, "mqtt"); err != nil {
		t.Fatalf("OnItemChanged() error: %v", err)
	}

	waitFor(t, func() bool { return len(emitter.errorEvents()) == 1 })
	ev := emitter.errorEvents()[0]
	if ev.item != "av.power" {
		t.Errorf("error item = %q, want the writer item av.power", ev.item)
	}
	if ev.code != "not_connected" {
		t.Errorf("error code = %q, want not_connected", ev.code)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition not reached in time")
	}
}
