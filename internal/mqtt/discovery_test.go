package mqtt

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/HerbHall/apwatch/pkg/models"
)

func TestSafeObjectID(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple hostname", "web-server-01", "web_server_01"},
		{"dots and colons", "00:1a:2b:3c:4d:5e", "00_1a_2b_3c_4d_5e"},
		{"IP address", "192.168.1.1", "192_168_1_1"},
		{"already clean", "mydevice", "mydevice"},
		{"uppercase", "MyDevice", "mydevice"},
		{"leading special chars", "---test", "test"},
		{"trailing special chars", "test---", "test"},
		{"empty string", "", "unknown"},
		{"only special chars", "---", "unknown"},
		{"mixed special", "device@home#1", "device_home_1"},
		{"underscores preserved", "my_device_01", "my_device_01"},
		{"spaces", "my device", "my_device"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SafeObjectID(tt.input)
			if got != tt.want {
				t.Errorf("SafeObjectID(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestDeviceSlug(t *testing.T) {
	tests := []struct {
		id   models.CanonicalIdentity
		want string
	}{
		{models.CanonicalIdentity{PrimaryMAC: "aa:bb:cc:dd:ee:01", Scope: "home"}, "home_aabbccddee01"},
		{models.CanonicalIdentity{PrimaryMAC: "aa:bb:cc:dd:ee:01", Scope: "Office-2"}, "office_2_aabbccddee01"},
		{models.CanonicalIdentity{PrimaryMAC: "aa:bb:cc:dd:ee:01"}, "aabbccddee01"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := DeviceSlug(tt.id); got != tt.want {
				t.Errorf("DeviceSlug(%+v) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestTrackerState(t *testing.T) {
	if got := TrackerState(models.DeviceOnline); got != "home" {
		t.Errorf("TrackerState(online) = %q", got)
	}
	if got := TrackerState(models.DeviceOffline); got != "not_home" {
		t.Errorf("TrackerState(offline) = %q", got)
	}
}

func TestConnectionIcon(t *testing.T) {
	tests := []struct {
		ct   models.ConnectionType
		want string
	}{
		{models.ConnectionWireless, "mdi:wifi"},
		{models.ConnectionWired, "mdi:ethernet"},
		{"", "mdi:help-network"},
		{models.ConnectionType("carrier_pigeon"), "mdi:help-network"},
	}
	for _, tt := range tests {
		t.Run(string(tt.ct), func(t *testing.T) {
			if got := ConnectionIcon(tt.ct); got != tt.want {
				t.Errorf("ConnectionIcon(%q) = %q, want %q", tt.ct, got, tt.want)
			}
		})
	}
}

func TestBuildDeviceDiscoveryConfigs(t *testing.T) {
	d := tvDevice(models.DeviceOnline)
	d.MACs = append(d.MACs, "11:22:33:44:55:66")

	configs := BuildDeviceDiscoveryConfigs(&d, "apwatch", "homeassistant")
	if len(configs) != 2 {
		t.Fatalf("BuildDeviceDiscoveryConfigs() returned %d configs, want 2", len(configs))
	}

	for i, cfg := range configs {
		if !cfg.Retain {
			t.Errorf("configs[%d].Retain = false, want true", i)
		}
		if len(cfg.Payload) == 0 {
			t.Errorf("configs[%d].Payload is empty", i)
		}
	}

	if configs[0].Topic != "homeassistant/device_tracker/apwatch_home_aabbccddee01/config" {
		t.Errorf("configs[0].Topic = %q", configs[0].Topic)
	}

	var tc TrackerConfig
	if err := json.Unmarshal(configs[0].Payload, &tc); err != nil {
		t.Fatalf("unmarshal tracker config: %v", err)
	}
	if tc.PayloadHome != "home" || tc.PayloadNotHome != "not_home" {
		t.Errorf("payloads = %q/%q", tc.PayloadHome, tc.PayloadNotHome)
	}
	if tc.SourceType != "router" {
		t.Errorf("SourceType = %q, want router", tc.SourceType)
	}
	if tc.StateTopic != "apwatch/device/home_aabbccddee01/state" {
		t.Errorf("StateTopic = %q", tc.StateTopic)
	}
	if tc.JSONAttributesTopic != "apwatch/device/home_aabbccddee01/attributes" {
		t.Errorf("JSONAttributesTopic = %q", tc.JSONAttributesTopic)
	}
	if tc.AvailabilityTopic != "apwatch/status" {
		t.Errorf("AvailabilityTopic = %q", tc.AvailabilityTopic)
	}
	if tc.Icon != "mdi:wifi" {
		t.Errorf("Icon = %q, want mdi:wifi", tc.Icon)
	}
	if tc.Device.Name != "tv" {
		t.Errorf("Device.Name = %q, want tv", tc.Device.Name)
	}
	if len(tc.Device.Connections) != 2 || tc.Device.Connections[1] != [2]string{"mac", "11:22:33:44:55:66"} {
		t.Errorf("Device.Connections = %v, want every MAC", tc.Device.Connections)
	}

	var signal SensorConfig
	if err := json.Unmarshal(configs[1].Payload, &signal); err != nil {
		t.Fatalf("unmarshal signal config: %v", err)
	}
	if signal.DeviceClass != "signal_strength" || signal.UnitOfMeasurement != "dBm" {
		t.Errorf("signal = %+v", signal)
	}
	if signal.StateTopic != "apwatch/device/home_aabbccddee01/signal" {
		t.Errorf("signal.StateTopic = %q", signal.StateTopic)
	}
}

func TestBuildDeviceDiscoveryConfigs_WiredDevice(t *testing.T) {
	d := models.MergedDevice{
		Identity:       models.CanonicalIdentity{PrimaryMAC: "02:00:00:00:00:01", Scope: "lab"},
		IP:             "10.0.0.5",
		Interface:      "lan1",
		ConnectionType: models.ConnectionWired,
	}

	configs := BuildDeviceDiscoveryConfigs(&d, "net", "homeassistant")
	if len(configs) != 1 {
		t.Fatalf("got %d configs, want 1 (no signal sensor without signal)", len(configs))
	}

	// Name falls back to IP since hostname is empty.
	var tc TrackerConfig
	if err := json.Unmarshal(configs[0].Payload, &tc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if tc.Device.Name != "10.0.0.5" {
		t.Errorf("Device.Name = %q, want 10.0.0.5 (fallback to IP)", tc.Device.Name)
	}
	if tc.Icon != "mdi:ethernet" {
		t.Errorf("Icon = %q", tc.Icon)
	}
}

func TestBuildDeviceDiscoveryConfigs_NameFallsBackToMAC(t *testing.T) {
	d := models.MergedDevice{Identity: models.CanonicalIdentity{PrimaryMAC: "02:00:00:00:00:01", Scope: "lab"}}
	configs := BuildDeviceDiscoveryConfigs(&d, "apwatch", "homeassistant")
	var tc TrackerConfig
	if err := json.Unmarshal(configs[0].Payload, &tc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if tc.Name != "02:00:00:00:00:01" {
		t.Errorf("Name = %q, want the primary MAC", tc.Name)
	}
}

func TestBuildDeviceDiscoveryConfigs_NilDevice(t *testing.T) {
	configs := BuildDeviceDiscoveryConfigs(nil, "apwatch", "homeassistant")
	if configs != nil {
		t.Errorf("BuildDeviceDiscoveryConfigs(nil) = %v, want nil", configs)
	}
}

func TestBuildDeviceDiscoveryConfigs_CustomPrefixes(t *testing.T) {
	d := tvDevice(models.DeviceOnline)

	configs := BuildDeviceDiscoveryConfigs(&d, "mynet/presence", "ha_custom")
	for _, cfg := range configs {
		if !strings.HasPrefix(cfg.Topic, "ha_custom/") {
			t.Errorf("discovery topic = %q, want ha_custom/ prefix", cfg.Topic)
		}
	}
	var tc TrackerConfig
	if err := json.Unmarshal(configs[0].Payload, &tc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !strings.HasPrefix(tc.StateTopic, "mynet/presence/device/") {
		t.Errorf("StateTopic = %q, want mynet/presence/device/ prefix", tc.StateTopic)
	}
}

func TestBuildDeviceRemovalConfigs(t *testing.T) {
	id := models.CanonicalIdentity{PrimaryMAC: "11:22:33:44:55:66", Scope: "home"}
	configs := BuildDeviceRemovalConfigs(id, "homeassistant")
	if len(configs) != 2 {
		t.Fatalf("got %d removal configs, want 2", len(configs))
	}
	for i, cfg := range configs {
		if cfg.Payload != nil {
			t.Errorf("configs[%d].Payload = %q, want nil", i, cfg.Payload)
		}
		if !cfg.Retain {
			t.Errorf("configs[%d].Retain = false", i)
		}
		if !strings.Contains(cfg.Topic, "apwatch_home_112233445566") {
			t.Errorf("configs[%d].Topic = %q", i, cfg.Topic)
		}
	}
}

func TestBuildDeviceAttributes(t *testing.T) {
	d := tvDevice(models.DeviceOnline)
	d.IPv6 = "fd00::1e"
	d.DHCPSource = "dynamic"
	attrs := BuildDeviceAttributes(&d)
	if attrs.IPv6 != "fd00::1e" || attrs.DHCPSource != "dynamic" {
		t.Errorf("addressing = %q/%q", attrs.IPv6, attrs.DHCPSource)
	}
	if attrs.PrimaryMAC != "aa:bb:cc:dd:ee:01" || attrs.Scope != "home" {
		t.Errorf("identity = %s/%s", attrs.Scope, attrs.PrimaryMAC)
	}
	if attrs.LastSeenAt != "2024-06-01T12:00:00Z" {
		t.Errorf("LastSeenAt = %q", attrs.LastSeenAt)
	}
	if len(attrs.Sources) != 1 || attrs.Sources[0] != "ap1" {
		t.Errorf("Sources = %v", attrs.Sources)
	}
}
