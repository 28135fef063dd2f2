package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/HerbHall/apwatch/internal/tracker"
	"github.com/HerbHall/apwatch/pkg/models"
	"github.com/HerbHall/apwatch/pkg/plugin"
	"github.com/HerbHall/apwatch/pkg/plugin/plugintest"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// fakeToken completes immediately.
type fakeToken struct {
	pahomqtt.Token
	err error
}

func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Error() error                   { return t.err }

type sent struct {
	topic    string
	retained bool
	payload  string
}

// fakeClient records publishes. Methods the module never calls are left to
// the embedded nil interface.
type fakeClient struct {
	pahomqtt.Client
	mu        sync.Mutex
	connected bool
	msgs      []sent
}

func (c *fakeClient) IsConnected() bool { return c.connected }

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload any) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	var body string
	switch p := payload.(type) {
	case []byte:
		body = string(p)
	case string:
		body = p
	}
	c.msgs = append(c.msgs, sent{topic: topic, retained: retained, payload: body})
	return fakeToken{}
}

func (c *fakeClient) Disconnect(uint) { c.connected = false }

func (c *fakeClient) topics() map[string]sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]sent, len(c.msgs))
	for _, m := range c.msgs {
		out[m.topic] = m
	}
	return out
}

func (c *fakeClient) reset() {
	c.mu.Lock()
	c.msgs = nil
	c.mu.Unlock()
}

func connectedModule(ha bool) (*Module, *fakeClient) {
	fc := &fakeClient{connected: true}
	cfg := DefaultConfig()
	cfg.BrokerURL = "tcp://localhost:1883"
	cfg.HADiscovery = ha
	m := New()
	m.logger = zap.NewNop()
	m.cfg = cfg
	m.haEnabled = ha
	m.haPrefix = cfg.HADiscoveryPrefix
	m.client = fc
	return m, fc
}

func tvDevice(state models.DeviceState) models.MergedDevice {
	signal := -48
	return models.MergedDevice{
		Identity:            models.CanonicalIdentity{PrimaryMAC: "aa:bb:cc:dd:ee:01", Scope: "home"},
		State:               state,
		Hostname:            "tv",
		IP:                  "192.168.1.20",
		MACs:                []string{"aa:bb:cc:dd:ee:01"},
		Signal:              &signal,
		ConnectionType:      models.ConnectionWireless,
		ContributingSources: []string{"ap1"},
		LastSeenAt:          time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestContract(t *testing.T) {
	plugintest.TestPluginContract(t, func() plugin.Plugin { return New() })
}

func TestInfo_ReturnsCorrectMetadata(t *testing.T) {
	m := New()
	info := m.Info()

	if info.Name != "mqtt" {
		t.Errorf("Name = %q, want mqtt", info.Name)
	}
	if info.Version != "0.1.0" {
		t.Errorf("Version = %q, want 0.1.0", info.Version)
	}
	if len(info.Roles) != 2 {
		t.Fatalf("Roles length = %d, want 2", len(info.Roles))
	}
	if info.Roles[0] != "notification" || info.Roles[1] != "integration" {
		t.Errorf("Roles = %v, want [notification integration]", info.Roles)
	}
	if info.APIVersion != plugin.APIVersionCurrent {
		t.Errorf("APIVersion = %d, want %d", info.APIVersion, plugin.APIVersionCurrent)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ClientID != "apwatch" || cfg.TopicPrefix != "apwatch" {
		t.Errorf("ClientID/TopicPrefix = %q/%q, want apwatch", cfg.ClientID, cfg.TopicPrefix)
	}
	if cfg.statusTopic() != "apwatch/status" {
		t.Errorf("statusTopic() = %q", cfg.statusTopic())
	}
}

func TestSubscriptions_ReturnsExpectedTopics(t *testing.T) {
	m := New()
	if err := m.Init(context.Background(), plugin.Dependencies{Logger: zap.NewNop()}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	subs := m.Subscriptions()
	if len(subs) != 6 {
		t.Fatalf("Subscriptions() returned %d, want 6", len(subs))
	}

	topics := make(map[string]bool)
	for _, s := range subs {
		topics[s.Topic] = true
	}

	expected := []string{
		tracker.TopicMACPending,
		tracker.TopicMACAssociated,
		tracker.TopicDeviceOnline,
		tracker.TopicDeviceOffline,
		tracker.TopicCycleCompleted,
		tracker.TopicSourceFailed,
	}
	for _, topic := range expected {
		if !topics[topic] {
			t.Errorf("missing subscription for topic %q", topic)
		}
	}
}

func TestMqttTopicFromEvent_MapsCorrectly(t *testing.T) {
	m := &Module{cfg: Config{TopicPrefix: "apwatch"}}

	tests := []struct {
		eventTopic string
		want       string
	}{
		{tracker.TopicMACPending, "apwatch/mac/pending"},
		{tracker.TopicMACAssociated, "apwatch/mac/associated"},
		{tracker.TopicDeviceOnline, "apwatch/device/online"},
		{tracker.TopicDeviceOffline, "apwatch/device/offline"},
		{tracker.TopicCycleCompleted, "apwatch/cycle/completed"},
		{tracker.TopicSourceFailed, "apwatch/source/failed"},
		{"unknown.topic", "apwatch/unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.eventTopic, func(t *testing.T) {
			got := m.mqttTopicFromEvent(tt.eventTopic)
			if got != tt.want {
				t.Errorf("mqttTopicFromEvent(%q) = %q, want %q", tt.eventTopic, got, tt.want)
			}
		})
	}
}

func TestMqttTopicFromEvent_CustomPrefix(t *testing.T) {
	m := &Module{cfg: Config{TopicPrefix: "homelab/net"}}

	got := m.mqttTopicFromEvent(tracker.TopicMACPending)
	want := "homelab/net/mac/pending"
	if got != want {
		t.Errorf("mqttTopicFromEvent with custom prefix = %q, want %q", got, want)
	}
}

func TestPublishEvent_NoOpWhenClientNil(t *testing.T) {
	m := &Module{
		logger: zap.NewNop(),
		cfg:    DefaultConfig(),
	}

	// client is nil -- should not panic.
	m.publishEvent(context.Background(), plugin.Event{
		Topic:     tracker.TopicMACPending,
		Source:    "tracker",
		Timestamp: time.Now(),
		Payload:   tracker.PendingEvent{MAC: "11:22:33:44:55:66", Scope: "home"},
	})
}

func TestPublishEvent_SkipsWhenDisconnected(t *testing.T) {
	m, fc := connectedModule(false)
	fc.connected = false

	m.publishEvent(context.Background(), plugin.Event{
		Topic:   tracker.TopicMACPending,
		Payload: tracker.PendingEvent{MAC: "11:22:33:44:55:66", Scope: "home"},
	})
	if len(fc.topics()) != 0 {
		t.Errorf("published %d messages while disconnected", len(fc.topics()))
	}
}

func TestPublishEvent_WritesJSONPayload(t *testing.T) {
	m, fc := connectedModule(false)

	m.publishEvent(context.Background(), plugin.Event{
		Topic:   tracker.TopicMACPending,
		Payload: tracker.PendingEvent{MAC: "11:22:33:44:55:66", Scope: "home", Randomized: true},
	})

	msg, ok := fc.topics()["apwatch/mac/pending"]
	if !ok {
		t.Fatalf("nothing published to apwatch/mac/pending: %v", fc.topics())
	}
	if msg.retained {
		t.Error("event messages should not be retained by default")
	}
	var got tracker.PendingEvent
	if err := json.Unmarshal([]byte(msg.payload), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.MAC != "11:22:33:44:55:66" || !got.Randomized {
		t.Errorf("payload = %+v", got)
	}
	if len(fc.topics()) != 1 {
		t.Errorf("HA disabled but published %d topics", len(fc.topics()))
	}
}

func TestHADiscovery_CycleAnnouncesOnce(t *testing.T) {
	m, fc := connectedModule(true)
	ctx := context.Background()
	cycle := func(state models.DeviceState) plugin.Event {
		return plugin.Event{
			Topic:   tracker.TopicCycleCompleted,
			Payload: tracker.CycleEvent{Scope: "home", Devices: []models.MergedDevice{tvDevice(state)}},
		}
	}

	m.publishEvent(ctx, cycle(models.DeviceOnline))
	got := fc.topics()

	discovery, ok := got["homeassistant/device_tracker/apwatch_home_aabbccddee01/config"]
	if !ok || !discovery.retained {
		t.Fatalf("device_tracker discovery missing or not retained: %v", got)
	}
	var cfg TrackerConfig
	if err := json.Unmarshal([]byte(discovery.payload), &cfg); err != nil {
		t.Fatalf("unmarshal discovery: %v", err)
	}
	if cfg.StateTopic != "apwatch/device/home_aabbccddee01/state" {
		t.Errorf("StateTopic = %q", cfg.StateTopic)
	}
	if _, ok := got["homeassistant/sensor/apwatch_home_aabbccddee01/signal/config"]; !ok {
		t.Error("signal sensor discovery missing")
	}
	if s := got["apwatch/device/home_aabbccddee01/state"]; s.payload != StateHome || !s.retained {
		t.Errorf("state = %+v, want retained home", s)
	}
	if s := got["apwatch/device/home_aabbccddee01/signal"]; s.payload != "-48" {
		t.Errorf("signal = %q, want -48", s.payload)
	}
	var attrs DeviceAttributes
	if err := json.Unmarshal([]byte(got["apwatch/device/home_aabbccddee01/attributes"].payload), &attrs); err != nil {
		t.Fatalf("unmarshal attributes: %v", err)
	}
	if attrs.Hostname != "tv" || attrs.Scope != "home" {
		t.Errorf("attributes = %+v", attrs)
	}

	// An unchanged cycle only re-sends the event itself.
	fc.reset()
	m.publishEvent(ctx, cycle(models.DeviceOnline))
	if got := fc.topics(); len(got) != 1 {
		t.Errorf("unchanged cycle published %v, want only the cycle event", got)
	}

	fc.reset()
	m.publishEvent(ctx, cycle(models.DeviceOffline))
	got = fc.topics()
	if s := got["apwatch/device/home_aabbccddee01/state"]; s.payload != StateNotHome {
		t.Errorf("state = %q, want not_home", s.payload)
	}
	if _, ok := got["homeassistant/device_tracker/apwatch_home_aabbccddee01/config"]; ok {
		t.Error("discovery re-sent for an announced device")
	}
}

func TestHADiscovery_DeviceEventPublishesState(t *testing.T) {
	m, fc := connectedModule(true)

	m.publishEvent(context.Background(), plugin.Event{
		Topic:   tracker.TopicDeviceOffline,
		Payload: tracker.DeviceEvent{Device: tvDevice(models.DeviceOffline)},
	})
	if s := fc.topics()["apwatch/device/home_aabbccddee01/state"]; s.payload != StateNotHome {
		t.Errorf("state = %q, want not_home", s.payload)
	}
}

func TestHADiscovery_AssociationRemovesRetiredIdentity(t *testing.T) {
	m, fc := connectedModule(true)
	ctx := context.Background()
	provisional := tvDevice(models.DeviceOnline)
	provisional.Identity.PrimaryMAC = "11:22:33:44:55:66"
	provisional.Provisional = true

	m.publishEvent(ctx, plugin.Event{
		Topic:   tracker.TopicDeviceOnline,
		Payload: tracker.DeviceEvent{Device: provisional},
	})
	fc.reset()

	m.publishEvent(ctx, plugin.Event{
		Topic: tracker.TopicMACAssociated,
		Payload: tracker.AssociatedEvent{
			MAC:        "11:22:33:44:55:66",
			Scope:      "home",
			PrimaryMAC: "aa:bb:cc:dd:ee:01",
			Retired:    "11:22:33:44:55:66",
		},
	})

	removal, ok := fc.topics()["homeassistant/device_tracker/apwatch_home_112233445566/config"]
	if !ok {
		t.Fatalf("retired identity not removed: %v", fc.topics())
	}
	if removal.payload != "" || !removal.retained {
		t.Errorf("removal = %+v, want empty retained payload", removal)
	}
	m.haMu.Lock()
	_, still := m.published["home_112233445566"]
	m.haMu.Unlock()
	if still {
		t.Error("retired identity should be forgotten")
	}
}

func TestOnConnect_ResetsAnnouncements(t *testing.T) {
	m, fc := connectedModule(true)
	m.syncDevice(ptr(tvDevice(models.DeviceOnline)))
	fc.reset()

	m.onConnect(fc)

	if s := fc.topics()["apwatch/status"]; s.payload != "online" || !s.retained {
		t.Errorf("status = %+v, want retained online", s)
	}
	m.haMu.Lock()
	n := len(m.published)
	m.haMu.Unlock()
	if n != 0 {
		t.Errorf("published has %d entries after reconnect, want 0", n)
	}
}

func TestStop_PublishesOffline(t *testing.T) {
	m, fc := connectedModule(false)

	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s := fc.topics()["apwatch/status"]; s.payload != "offline" {
		t.Errorf("status = %q, want offline", s.payload)
	}
	if fc.connected {
		t.Error("client still connected after Stop")
	}
}

func TestExtractors_AcceptSerializedPayloads(t *testing.T) {
	raw := map[string]any{
		"scope":   "home",
		"devices": []any{map[string]any{"identity": map[string]any{"primary_mac": "aa:bb:cc:dd:ee:01", "scope": "home"}}},
	}
	cycle, ok := extractCycle(raw)
	if !ok || len(cycle.Devices) != 1 {
		t.Errorf("extractCycle(map) = %+v, %v", cycle, ok)
	}
	if _, ok := extractCycle("garbage"); ok {
		t.Error("extractCycle(string) should fail")
	}
	if _, ok := extractDeviceEvent(map[string]any{}); ok {
		t.Error("extractDeviceEvent(empty) should fail")
	}
	ae, ok := extractAssociation(&tracker.AssociatedEvent{MAC: "11:22:33:44:55:66", Scope: "home"})
	if !ok || ae.Scope != "home" {
		t.Errorf("extractAssociation(ptr) = %+v, %v", ae, ok)
	}
}

func TestStart_NoOpWithEmptyBrokerURL(t *testing.T) {
	m := New()
	if err := m.Init(context.Background(), plugin.Dependencies{Logger: zap.NewNop()}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	// BrokerURL is empty by default -- Start should return nil without attempting connection.
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v, want nil", err)
	}

	if m.client != nil {
		t.Error("client should be nil when no broker URL is configured")
	}
}

func TestHealth_NoBrokerConfigured(t *testing.T) {
	m := New()
	if err := m.Init(context.Background(), plugin.Dependencies{Logger: zap.NewNop()}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	status := m.Health(context.Background())
	if status.Status != "healthy" {
		t.Errorf("Health().Status = %q, want healthy", status.Status)
	}
	if status.Message != "no broker configured (no-op mode)" {
		t.Errorf("Health().Message = %q, want 'no broker configured (no-op mode)'", status.Message)
	}
}

func TestHealth_DegradedWhenNotConnected(t *testing.T) {
	m := &Module{
		logger: zap.NewNop(),
		cfg:    Config{BrokerURL: "tcp://localhost:1883"},
		// client is nil -- simulates "configured but not connected"
	}

	status := m.Health(context.Background())
	if status.Status != "degraded" {
		t.Errorf("Health().Status = %q, want degraded", status.Status)
	}
}

func TestHealth_HealthyWhenConnected(t *testing.T) {
	m, _ := connectedModule(false)
	if status := m.Health(context.Background()); status.Status != "healthy" {
		t.Errorf("Health().Status = %q, want healthy", status.Status)
	}
}

func ptr[T any](v T) *T { return &v }
