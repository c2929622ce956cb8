package mqtt

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/multigate/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "multigate-test",
			TLS:      false,
		},
		Auth: config.MQTTAuthConfig{
			Username: "",
			Password: "",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// requireBroker skips the test when no broker is listening locally.
// Topic builder tests run regardless.
func requireBroker(t *testing.T) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", "127.0.0.1:1883", 500*time.Millisecond)
	if err != nil {
		t.Skip("no MQTT broker at 127.0.0.1:1883")
	}
	conn.Close()
}

// =============================================================================
// Topic Builder Tests
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"item state", topics.ItemState("av.projector.power"), "multigate/item/av.projector.power/state"},
		{"item set", topics.ItemSet("av.projector.power"), "multigate/item/av.projector.power/set"},
		{"item read", topics.ItemRead("av.projector.power"), "multigate/item/av.projector.power/read"},
		{"device availability", topics.DeviceAvailability("beamer"), "multigate/device/beamer/availability"},
		{"device read all", topics.DeviceReadAll("beamer"), "multigate/device/beamer/read_all"},
		{"system status", topics.SystemStatus(), "multigate/system/status"},
		{"all item sets", topics.AllItemSets(), "multigate/item/+/set"},
		{"all item reads", topics.AllItemReads(), "multigate/item/+/read"},
		{"all device read alls", topics.AllDeviceReadAlls(), "multigate/device/+/read_all"},
		{"all topics", topics.AllTopics(), "multigate/#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestItemFromTopic(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		topic    string
		wantItem string
		wantOK   bool
	}{
		{"multigate/item/av.projector.power/set", "av.projector.power", true},
		{"multigate/item/av.projector.power/read", "av.projector.power", true},
		{"multigate/item/av.projector.power/state", "av.projector.power", true},
		{"multigate/device/beamer/availability", "", false},
		{"multigate/item//set", "", false},
		{"multigate/item/deep/path/set", "", false},
		{"other/item/x/set", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		item, ok := topics.ItemFromTopic(tt.topic)
		if item != tt.wantItem || ok != tt.wantOK {
			t.Errorf("ItemFromTopic(%q) = (%q, %v), want (%q, %v)",
				tt.topic, item, ok, tt.wantItem, tt.wantOK)
		}
	}
}

func TestDeviceFromTopic(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		topic      string
		wantDevice string
		wantOK     bool
	}{
		{"multigate/device/beamer/read_all", "beamer", true},
		{"multigate/device/beamer/availability", "beamer", true},
		{"multigate/item/av.power/set", "", false},
		{"multigate/device//read_all", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		device, ok := topics.DeviceFromTopic(tt.topic)
		if device != tt.wantDevice || ok != tt.wantOK {
			t.Errorf("DeviceFromTopic(%q) = (%q, %v), want (%q, %v)",
				tt.topic, device, ok, tt.wantDevice, tt.wantOK)
		}
	}
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	requireBroker(t)
	cfg := testConfig()

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
}

func TestConnectInvalidBroker(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19999 // Nothing listens here

	_, err := Connect(cfg)
	if err == nil {
		t.Fatal("Connect() expected error for invalid broker")
	}

	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClose(t *testing.T) {
	requireBroker(t)
	cfg := testConfig()

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	err = client.Close()
	if err != nil {
		t.Errorf("Close() error = %v", err)
	}

	if client.IsConnected() {
		t.Error("IsConnected() = true after Close(), want false")
	}
}

func TestCloseNil(t *testing.T) {
	client := &Client{}
	err := client.Close()
	if err != nil {
		t.Errorf("Close() on zero client error = %v, want nil", err)
	}
}

// =============================================================================
// HealthCheck Tests
// =============================================================================

func TestHealthCheck(t *testing.T) {
	requireBroker(t)
	cfg := testConfig()

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v, want nil", err)
	}
}

func TestHealthCheckDisconnected(t *testing.T) {
	requireBroker(t)
	cfg := testConfig()

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	client.Close()

	if err := client.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() after Close() = nil, want error")
	}
}

// =============================================================================
// Publish Tests
// =============================================================================

func TestPublish(t *testing.T) {
	requireBroker(t)
	cfg := testConfig()

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topic := Topics{}.ItemState("test.publish")
	if err := client.Publish(topic, []byte(`{"value":true}`), 1, false); err != nil {
		t.Errorf("Publish() error = %v", err)
	}
}

func TestPublishDisconnected(t *testing.T) {
	requireBroker(t)
	cfg := testConfig()

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	client.Close()

	err = client.Publish("multigate/item/x/state", []byte("1"), 1, false)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() after Close() error = %v, want ErrNotConnected", err)
	}
}

func TestPublishJSON(t *testing.T) {
	requireBroker(t)
	cfg := testConfig()

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	payload := map[string]any{"value": 42.5, "source": "device"}
	if err := client.PublishJSON("multigate/item/test.json/state", payload, 1, false); err != nil {
		t.Errorf("PublishJSON() error = %v", err)
	}
}

// =============================================================================
// Subscribe Tests
// =============================================================================

func TestSubscribeReceivesMessage(t *testing.T) {
	requireBroker(t)
	cfg := testConfig()

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topic := Topics{}.ItemSet("test.subscribe")
	received := make(chan string, 1)
	var once sync.Once

	err = client.Subscribe(topic, 1, func(topic string, payload []byte) error {
		once.Do(func() { received <- string(payload) })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	if err := client.Publish(topic, []byte("on"), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case msg := <-received:
		if msg != "on" {
			t.Errorf("received %q, want %q", msg, "on")
		}
	case <-time.After(5 * time.Second):
		t.Error("timeout waiting for message")
	}
}

func TestSubscribeWildcard(t *testing.T) {
	requireBroker(t)
	cfg := testConfig()

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	received := make(chan string, 2)

	err = client.Subscribe(Topics{}.AllItemSets(), 1, func(topic string, payload []byte) error {
		if item, ok := (Topics{}).ItemFromTopic(topic); ok {
			received <- item
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	for _, item := range []string{"av.power", "av.source"} {
		if err := client.Publish(Topics{}.ItemSet(item), []byte("1"), 1, false); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case item := <-received:
			got[item] = true
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout, received so far: %v", got)
		}
	}
	if !got["av.power"] || !got["av.source"] {
		t.Errorf("wildcard received %v, want both items", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	requireBroker(t)
	cfg := testConfig()

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topic := Topics{}.ItemRead("test.unsub")
	handler := func(topic string, payload []byte) error { return nil }

	if err := client.Subscribe(topic, 1, handler); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(topic) {
		t.Error("HasSubscription() = false after Subscribe()")
	}

	if err := client.Unsubscribe(topic); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if client.HasSubscription(topic) {
		t.Error("HasSubscription() = true after Unsubscribe()")
	}
}

func TestSubscriptionCount(t *testing.T) {
	requireBroker(t)
	cfg := testConfig()

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	handler := func(topic string, payload []byte) error { return nil }
	topics := []string{
		Topics{}.AllItemSets(),
		Topics{}.AllItemReads(),
		Topics{}.AllDeviceReadAlls(),
	}

	for _, topic := range topics {
		if err := client.Subscribe(topic, 1, handler); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}

	if got := client.SubscriptionCount(); got != len(topics) {
		t.Errorf("SubscriptionCount() = %d, want %d", got, len(topics))
	}
}

// =============================================================================
// Logger Tests
// =============================================================================

func TestSetLogger(t *testing.T) {
	client := &Client{}

	logger := &mockLogger{}
	client.SetLogger(logger)
	if client.getLogger() == nil {
		t.Error("getLogger() = nil after SetLogger()")
	}

	client.SetLogger(nil)
	if client.getLogger() != nil {
		t.Error("getLogger() != nil after SetLogger(nil)")
	}
}

// mockLogger implements Logger interface for testing.
type mockLogger struct {
	errors []string
	warns  []string
	mu     sync.Mutex
}

func (l *mockLogger) Error(msg string, args ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Warn(msg string, args ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}
