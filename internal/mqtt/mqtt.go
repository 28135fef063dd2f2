package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/HerbHall/apwatch/internal/tracker"
	"github.com/HerbHall/apwatch/pkg/models"
	"github.com/HerbHall/apwatch/pkg/plugin"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin          = (*Module)(nil)
	_ plugin.EventSubscriber = (*Module)(nil)
	_ plugin.HealthChecker   = (*Module)(nil)
)

// Module implements the MQTT publisher plugin. It subscribes to tracker
// events via the event bus and publishes them to an MQTT broker, optionally
// announcing merged devices to Home Assistant as device_tracker entities.
type Module struct {
	logger    *zap.Logger
	cfg       Config
	client    pahomqtt.Client
	mu        sync.RWMutex
	haEnabled bool
	haPrefix  string

	haMu      sync.Mutex
	published map[string]deviceSnapshot // by DeviceSlug, guarded by haMu
}

// deviceSnapshot is what was last published for one device, so unchanged
// retained values are not re-sent every cycle.
type deviceSnapshot struct {
	announced bool
	state     string
	attrs     string
	signal    string
}

// New creates a new MQTT publisher plugin instance.
func New() *Module {
	return &Module{published: make(map[string]deviceSnapshot)}
}

func (m *Module) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		Name:        "mqtt",
		Version:     "0.1.0",
		Description: "Publishes tracker events and device presence to an MQTT broker",
		Roles:       []string{"notification", "integration"},
		APIVersion:  plugin.APIVersionCurrent,
	}
}

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	m.logger = deps.Logger
	m.cfg = DefaultConfig()

	if deps.Config != nil {
		if u := deps.Config.GetString("broker_url"); u != "" {
			m.cfg.BrokerURL = u
		}
		if u := deps.Config.GetString("username"); u != "" {
			m.cfg.Username = u
		}
		if p := deps.Config.GetString("password"); p != "" {
			m.cfg.Password = p
		}
		if c := deps.Config.GetString("client_id"); c != "" {
			m.cfg.ClientID = c
		}
		if t := deps.Config.GetString("topic_prefix"); t != "" {
			m.cfg.TopicPrefix = t
		}
		if deps.Config.IsSet("qos") {
			m.cfg.QoS = byte(deps.Config.GetInt("qos"))
		}
		if deps.Config.IsSet("retain") {
			m.cfg.Retain = deps.Config.GetBool("retain")
		}
		if deps.Config.IsSet("use_tls") {
			m.cfg.UseTLS = deps.Config.GetBool("use_tls")
		}
		if d := deps.Config.GetDuration("timeout"); d > 0 {
			m.cfg.Timeout = d
		}
		if deps.Config.IsSet("ha_discovery") {
			m.cfg.HADiscovery = deps.Config.GetBool("ha_discovery")
		}
		if p := deps.Config.GetString("ha_discovery_prefix"); p != "" {
			m.cfg.HADiscoveryPrefix = p
		}
	}

	m.haEnabled = m.cfg.HADiscovery
	m.haPrefix = m.cfg.HADiscoveryPrefix
	if m.published == nil {
		m.published = make(map[string]deviceSnapshot)
	}

	if m.cfg.BrokerURL == "" {
		m.logger.Warn("MQTT broker URL not configured; events will be dropped",
			zap.String("component", "mqtt"),
		)
	}

	m.logger.Info("mqtt module initialized",
		zap.String("broker_url", m.cfg.BrokerURL),
		zap.String("client_id", m.cfg.ClientID),
		zap.String("topic_prefix", m.cfg.TopicPrefix),
		zap.Uint8("qos", m.cfg.QoS),
		zap.Bool("ha_discovery", m.haEnabled),
	)
	return nil
}

func (m *Module) Start(_ context.Context) error {
	if m.cfg.BrokerURL == "" {
		m.logger.Info("mqtt module started (no-op: no broker configured)")
		return nil
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(m.cfg.BrokerURL).
		SetClientID(m.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(m.cfg.Timeout).
		SetWill(m.cfg.statusTopic(), "offline", m.cfg.QoS, true).
		SetOnConnectHandler(m.onConnect).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			m.logger.Warn("mqtt connection lost", zap.Error(err))
		})

	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
		opts.SetPassword(m.cfg.Password) //nolint:gosec // G101: config field
	}
	if m.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	client := pahomqtt.NewClient(opts)
	m.mu.Lock()
	m.client = client
	m.mu.Unlock()
	token := client.Connect()

	switch {
	case !token.WaitTimeout(m.cfg.Timeout):
		m.logger.Warn("mqtt connection timed out; will reconnect in background")
	case token.Error() != nil:
		m.logger.Warn("mqtt connection failed; will reconnect in background",
			zap.Error(token.Error()),
		)
	default:
		m.logger.Info("mqtt connected to broker",
			zap.String("broker_url", m.cfg.BrokerURL),
		)
	}
	return nil
}

// onConnect marks the publisher available and forgets what was announced,
// so discovery and state are re-sent after a broker restart.
func (m *Module) onConnect(c pahomqtt.Client) {
	token := c.Publish(m.cfg.statusTopic(), m.cfg.QoS, true, []byte("online"))
	if token.WaitTimeout(m.cfg.Timeout) && token.Error() != nil {
		m.logger.Warn("mqtt status publish failed", zap.Error(token.Error()))
	}
	m.haMu.Lock()
	clear(m.published)
	m.haMu.Unlock()
}

func (m *Module) Stop(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil && m.client.IsConnected() {
		token := m.client.Publish(m.cfg.statusTopic(), m.cfg.QoS, true, []byte("offline"))
		token.WaitTimeout(m.cfg.Timeout)
		m.client.Disconnect(250)
		m.logger.Info("mqtt disconnected")
	}
	return nil
}

// Subscriptions implements plugin.EventSubscriber.
func (m *Module) Subscriptions() []plugin.Subscription {
	return []plugin.Subscription{
		{Topic: tracker.TopicMACPending, Handler: m.publishEvent},
		{Topic: tracker.TopicMACAssociated, Handler: m.publishEvent},
		{Topic: tracker.TopicDeviceOnline, Handler: m.publishEvent},
		{Topic: tracker.TopicDeviceOffline, Handler: m.publishEvent},
		{Topic: tracker.TopicCycleCompleted, Handler: m.publishEvent},
		{Topic: tracker.TopicSourceFailed, Handler: m.publishEvent},
	}
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	if m.cfg.BrokerURL == "" {
		return plugin.HealthStatus{
			Status:  "healthy",
			Message: "no broker configured (no-op mode)",
		}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil || !m.client.IsConnected() {
		return plugin.HealthStatus{
			Status:  "degraded",
			Message: "not connected to MQTT broker",
		}
	}
	return plugin.HealthStatus{
		Status:  "healthy",
		Message: "connected to " + m.cfg.BrokerURL,
	}
}

// mqttTopicFromEvent maps an event bus topic to an MQTT topic path.
func (m *Module) mqttTopicFromEvent(eventTopic string) string {
	switch eventTopic {
	case tracker.TopicMACPending:
		return m.cfg.TopicPrefix + "/mac/pending"
	case tracker.TopicMACAssociated:
		return m.cfg.TopicPrefix + "/mac/associated"
	case tracker.TopicDeviceOnline:
		return m.cfg.TopicPrefix + "/device/online"
	case tracker.TopicDeviceOffline:
		return m.cfg.TopicPrefix + "/device/offline"
	case tracker.TopicCycleCompleted:
		return m.cfg.TopicPrefix + "/cycle/completed"
	case tracker.TopicSourceFailed:
		return m.cfg.TopicPrefix + "/source/failed"
	default:
		return m.cfg.TopicPrefix + "/unknown"
	}
}

func (m *Module) publishEvent(_ context.Context, event plugin.Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.client == nil || !m.client.IsConnected() {
		return
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		m.logger.Warn("failed to marshal MQTT payload",
			zap.String("topic", event.Topic),
			zap.Error(err),
		)
		return
	}

	mqttTopic := m.mqttTopicFromEvent(event.Topic)
	token := m.client.Publish(mqttTopic, m.cfg.QoS, m.cfg.Retain, payload)
	if !token.WaitTimeout(m.cfg.Timeout) {
		m.logger.Warn("mqtt publish timed out",
			zap.String("mqtt_topic", mqttTopic),
		)
		return
	}
	if token.Error() != nil {
		m.logger.Warn("mqtt publish failed",
			zap.String("mqtt_topic", mqttTopic),
			zap.Error(token.Error()),
		)
		return
	}

	m.logger.Debug("mqtt event published",
		zap.String("mqtt_topic", mqttTopic),
		zap.String("event_topic", event.Topic),
	)

	if m.haEnabled {
		m.publishHAForEvent(event)
	}
}

// publishHAForEvent keeps HA device_tracker entities in step with the
// merged device tables.
func (m *Module) publishHAForEvent(event plugin.Event) {
	switch event.Topic {
	case tracker.TopicCycleCompleted:
		cycle, ok := extractCycle(event.Payload)
		if !ok {
			return
		}
		for i := range cycle.Devices {
			m.syncDevice(&cycle.Devices[i])
		}

	case tracker.TopicDeviceOnline, tracker.TopicDeviceOffline:
		de, ok := extractDeviceEvent(event.Payload)
		if !ok {
			return
		}
		m.syncDevice(&de.Device)

	case tracker.TopicMACAssociated:
		ae, ok := extractAssociation(event.Payload)
		if !ok || ae.Retired == "" {
			return
		}
		retired := models.CanonicalIdentity{PrimaryMAC: ae.Retired, Scope: ae.Scope}
		m.publishHADiscovery(BuildDeviceRemovalConfigs(retired, m.haPrefix))
		m.haMu.Lock()
		delete(m.published, DeviceSlug(retired))
		m.haMu.Unlock()
	}
}

// syncDevice announces a device on first sight and publishes whichever of
// its retained values changed since the last call.
func (m *Module) syncDevice(d *models.MergedDevice) {
	slug := DeviceSlug(d.Identity)
	root := deviceTopic(m.cfg.TopicPrefix, d.Identity)

	m.haMu.Lock()
	defer m.haMu.Unlock()
	prev := m.published[slug]
	next := prev

	if !prev.announced {
		m.publishHADiscovery(BuildDeviceDiscoveryConfigs(d, m.cfg.TopicPrefix, m.haPrefix))
		next.announced = true
	}
	if state := TrackerState(d.State); state != prev.state {
		m.publishState(root+"/state", state)
		next.state = state
	}
	if attrs, err := json.Marshal(BuildDeviceAttributes(d)); err == nil && string(attrs) != prev.attrs {
		m.publishState(root+"/attributes", string(attrs))
		next.attrs = string(attrs)
	}
	if d.Signal != nil {
		if signal := strconv.Itoa(*d.Signal); signal != prev.signal {
			m.publishState(root+"/signal", signal)
			next.signal = signal
		}
	}
	m.published[slug] = next
}

// publishHADiscovery publishes a batch of HA discovery config payloads.
func (m *Module) publishHADiscovery(configs []DiscoveryConfig) {
	for i := range configs {
		var payload []byte
		if configs[i].Payload != nil {
			payload = configs[i].Payload
		}
		// Discovery configs are always retained so HA picks them up on restart.
		token := m.client.Publish(configs[i].Topic, m.cfg.QoS, true, payload)
		if !token.WaitTimeout(m.cfg.Timeout) {
			m.logger.Warn("ha discovery publish timed out",
				zap.String("topic", configs[i].Topic),
			)
			continue
		}
		if token.Error() != nil {
			m.logger.Warn("ha discovery publish failed",
				zap.String("topic", configs[i].Topic),
				zap.Error(token.Error()),
			)
			continue
		}
		m.logger.Debug("ha discovery published",
			zap.String("topic", configs[i].Topic),
			zap.Bool("removal", len(configs[i].Payload) == 0),
		)
	}
}

// publishState publishes a retained state value to an MQTT topic.
func (m *Module) publishState(topic, value string) {
	token := m.client.Publish(topic, m.cfg.QoS, true, []byte(value))
	if !token.WaitTimeout(m.cfg.Timeout) {
		m.logger.Warn("state publish timed out", zap.String("topic", topic))
		return
	}
	if token.Error() != nil {
		m.logger.Warn("state publish failed",
			zap.String("topic", topic),
			zap.Error(token.Error()),
		)
		return
	}
	m.logger.Debug("state published", zap.String("topic", topic), zap.String("value", value))
}

// extractCycle attempts to extract a tracker.CycleEvent from an event payload.
func extractCycle(payload any) (tracker.CycleEvent, bool) {
	switch v := payload.(type) {
	case tracker.CycleEvent:
		return v, true
	case *tracker.CycleEvent:
		if v == nil {
			return tracker.CycleEvent{}, false
		}
		return *v, true
	default:
		var ce tracker.CycleEvent
		if !roundTrip(payload, &ce) || ce.Scope == "" {
			return tracker.CycleEvent{}, false
		}
		return ce, true
	}
}

// extractDeviceEvent attempts to extract a tracker.DeviceEvent from an event payload.
func extractDeviceEvent(payload any) (tracker.DeviceEvent, bool) {
	switch v := payload.(type) {
	case tracker.DeviceEvent:
		return v, true
	case *tracker.DeviceEvent:
		if v == nil {
			return tracker.DeviceEvent{}, false
		}
		return *v, true
	default:
		var de tracker.DeviceEvent
		if !roundTrip(payload, &de) || de.Device.Identity.PrimaryMAC == "" {
			return tracker.DeviceEvent{}, false
		}
		return de, true
	}
}

// extractAssociation attempts to extract a tracker.AssociatedEvent from an event payload.
func extractAssociation(payload any) (tracker.AssociatedEvent, bool) {
	switch v := payload.(type) {
	case tracker.AssociatedEvent:
		return v, true
	case *tracker.AssociatedEvent:
		if v == nil {
			return tracker.AssociatedEvent{}, false
		}
		return *v, true
	default:
		var ae tracker.AssociatedEvent
		if !roundTrip(payload, &ae) || ae.MAC == "" {
			return tracker.AssociatedEvent{}, false
		}
		return ae, true
	}
}

// roundTrip decodes payloads that arrive in serialized form, such as maps.
func roundTrip(payload, into any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, into) == nil
}
