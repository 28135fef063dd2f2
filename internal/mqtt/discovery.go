package mqtt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/HerbHall/apwatch/pkg/models"
)

// Home Assistant device_tracker payloads.
const (
	StateHome    = "home"
	StateNotHome = "not_home"
)

// nonAlphanumeric matches any character that is not alphanumeric or underscore.
var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// DiscoveryConfig holds a single HA MQTT discovery payload.
type DiscoveryConfig struct {
	Topic   string // Full MQTT topic (homeassistant/...)
	Payload []byte // JSON-encoded config (empty = remove)
	Retain  bool   // Discovery configs should always be retained
}

// HADevice is the "device" block in HA discovery payloads.
type HADevice struct {
	Identifiers  []string    `json:"identifiers"`
	Name         string      `json:"name"`
	Connections  [][2]string `json:"connections,omitempty"`
	Manufacturer string      `json:"manufacturer,omitempty"`
	Model        string      `json:"model,omitempty"`
	ViaDevice    string      `json:"via_device,omitempty"`
}

// TrackerConfig is the HA discovery payload for device_tracker.
type TrackerConfig struct {
	Name                string   `json:"name"`
	ObjectID            string   `json:"object_id"`
	UniqueID            string   `json:"unique_id"`
	StateTopic          string   `json:"state_topic"`
	JSONAttributesTopic string   `json:"json_attributes_topic"`
	PayloadHome         string   `json:"payload_home"`
	PayloadNotHome      string   `json:"payload_not_home"`
	SourceType          string   `json:"source_type"`
	AvailabilityTopic   string   `json:"availability_topic,omitempty"`
	Icon                string   `json:"icon,omitempty"`
	Device              HADevice `json:"device"`
}

// SensorConfig is the HA discovery payload for sensor.
type SensorConfig struct {
	Name              string   `json:"name"`
	ObjectID          string   `json:"object_id"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	DeviceClass       string   `json:"device_class,omitempty"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	AvailabilityTopic string   `json:"availability_topic,omitempty"`
	Icon              string   `json:"icon,omitempty"`
	Device            HADevice `json:"device"`
}

// DeviceAttributes is published on a device's attributes topic and shown by
// HA as the tracker entity's attributes.
type DeviceAttributes struct {
	Scope          string                `json:"scope"`
	PrimaryMAC     string                `json:"primary_mac"`
	MACs           []string              `json:"macs"`
	Hostname       string                `json:"host_name,omitempty"`
	IP             string                `json:"ip,omitempty"`
	IPv6           string                `json:"ipv6,omitempty"`
	DHCPSource     string                `json:"dhcp_source,omitempty"`
	Interface      string                `json:"interface,omitempty"`
	ConnectionType models.ConnectionType `json:"connection_type,omitempty"`
	Sources        []string              `json:"sources"`
	Provisional    bool                  `json:"provisional"`
	LastSeenAt     string                `json:"last_seen_at"`
}

// SafeObjectID sanitizes a string for use as an HA object_id.
// Replaces any non-alphanumeric character (except underscore) with underscore,
// lowercases, and trims leading/trailing underscores.
func SafeObjectID(s string) string {
	s = strings.ToLower(s)
	s = nonAlphanumeric.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "unknown"
	}
	return s
}

// DeviceSlug is the stable object id of an identity: its scope and primary
// MAC without separators.
func DeviceSlug(id models.CanonicalIdentity) string {
	return SafeObjectID(id.Scope + "_" + strings.ReplaceAll(id.PrimaryMAC, ":", ""))
}

// deviceTopic is the root of a device's state topics under prefix.
func deviceTopic(topicPrefix string, id models.CanonicalIdentity) string {
	return topicPrefix + "/device/" + DeviceSlug(id)
}

// TrackerState maps a device state to the device_tracker payload.
func TrackerState(state models.DeviceState) string {
	if state == models.DeviceOnline {
		return StateHome
	}
	return StateNotHome
}

// deviceName picks the friendliest label available for a device.
func deviceName(d *models.MergedDevice) string {
	switch {
	case d.Hostname != "":
		return d.Hostname
	case d.IP != "":
		return d.IP
	default:
		return d.Identity.PrimaryMAC
	}
}

// buildHADevice creates the HA device block from a merged device.
func buildHADevice(d *models.MergedDevice) HADevice {
	conns := make([][2]string, 0, len(d.MACs))
	for _, mac := range d.MACs {
		conns = append(conns, [2]string{"mac", mac})
	}
	return HADevice{
		Identifiers: []string{"apwatch_" + DeviceSlug(d.Identity)},
		Name:        deviceName(d),
		Connections: conns,
		Model:       string(d.ConnectionType),
		ViaDevice:   "apwatch",
	}
}

// BuildDeviceDiscoveryConfigs creates HA discovery config payloads for a
// merged device: a device_tracker entity and, for radio clients, a signal
// strength sensor.
func BuildDeviceDiscoveryConfigs(d *models.MergedDevice, topicPrefix, haPrefix string) []DiscoveryConfig {
	if d == nil {
		return nil
	}

	slug := DeviceSlug(d.Identity)
	root := deviceTopic(topicPrefix, d.Identity)
	haDevice := buildHADevice(d)

	configs := make([]DiscoveryConfig, 0, 2)

	trackerCfg := TrackerConfig{
		Name:                deviceName(d),
		ObjectID:            "apwatch_" + slug,
		UniqueID:            "apwatch_" + slug,
		StateTopic:          root + "/state",
		JSONAttributesTopic: root + "/attributes",
		PayloadHome:         StateHome,
		PayloadNotHome:      StateNotHome,
		SourceType:          "router",
		AvailabilityTopic:   topicPrefix + "/status",
		Icon:                ConnectionIcon(d.ConnectionType),
		Device:              haDevice,
	}
	payload, err := json.Marshal(trackerCfg)
	if err == nil {
		configs = append(configs, DiscoveryConfig{
			Topic:   fmt.Sprintf("%s/device_tracker/apwatch_%s/config", haPrefix, slug),
			Payload: payload,
			Retain:  true,
		})
	}

	if d.Signal != nil {
		signalCfg := SensorConfig{
			Name:              deviceName(d) + " Signal",
			ObjectID:          "apwatch_" + slug + "_signal",
			UniqueID:          "apwatch_" + slug + "_signal",
			StateTopic:        root + "/signal",
			DeviceClass:       "signal_strength",
			UnitOfMeasurement: "dBm",
			AvailabilityTopic: topicPrefix + "/status",
			Device:            haDevice,
		}
		payload, err := json.Marshal(signalCfg)
		if err == nil {
			configs = append(configs, DiscoveryConfig{
				Topic:   fmt.Sprintf("%s/sensor/apwatch_%s/signal/config", haPrefix, slug),
				Payload: payload,
				Retain:  true,
			})
		}
	}

	return configs
}

// BuildDeviceRemovalConfigs returns discovery configs with empty payloads to
// remove an identity from HA. Publishing an empty payload to a discovery
// topic tells HA to remove the entity.
func BuildDeviceRemovalConfigs(id models.CanonicalIdentity, haPrefix string) []DiscoveryConfig {
	slug := DeviceSlug(id)
	return []DiscoveryConfig{
		{
			Topic:   fmt.Sprintf("%s/device_tracker/apwatch_%s/config", haPrefix, slug),
			Payload: nil,
			Retain:  true,
		},
		{
			Topic:   fmt.Sprintf("%s/sensor/apwatch_%s/signal/config", haPrefix, slug),
			Payload: nil,
			Retain:  true,
		},
	}
}

// BuildDeviceAttributes returns the attributes document of a device.
func BuildDeviceAttributes(d *models.MergedDevice) DeviceAttributes {
	return DeviceAttributes{
		Scope:          d.Identity.Scope,
		PrimaryMAC:     d.Identity.PrimaryMAC,
		MACs:           d.MACs,
		Hostname:       d.Hostname,
		IP:             d.IP,
		IPv6:           d.IPv6,
		DHCPSource:     d.DHCPSource,
		Interface:      d.Interface,
		ConnectionType: d.ConnectionType,
		Sources:        d.ContributingSources,
		Provisional:    d.Provisional,
		LastSeenAt:     d.LastSeenAt.UTC().Format(time.RFC3339),
	}
}

// ConnectionIcon maps a connection type to a Material Design Icon string
// for use in Home Assistant.
func ConnectionIcon(ct models.ConnectionType) string {
	switch ct {
	case models.ConnectionWireless:
		return "mdi:wifi"
	case models.ConnectionWired:
		return "mdi:ethernet"
	}
	return "mdi:help-network"
}
