package tracker

import (
	"time"

	"github.com/HerbHall/apwatch/pkg/models"
)

// Event topics published by the tracker module.
const (
	TopicMACPending     = "tracker.mac.pending"
	TopicMACAssociated  = "tracker.mac.associated"
	TopicDeviceOnline   = "tracker.device.online"
	TopicDeviceOffline  = "tracker.device.offline"
	TopicCycleCompleted = "tracker.cycle.completed"
	TopicSourceFailed   = "tracker.source.failed"
)

// PendingEvent is the payload for TopicMACPending. It is raised once, when
// a MAC first becomes pending in a scope.
type PendingEvent struct {
	MAC         string    `json:"mac"`
	Scope       string    `json:"scope"`
	Hostname    string    `json:"hostname,omitempty"`
	Randomized  bool      `json:"randomized"`
	FirstSeenAt time.Time `json:"first_seen_at"`
}

// AssociatedEvent is the payload for TopicMACAssociated.
type AssociatedEvent struct {
	MAC        string    `json:"mac"`
	Scope      string    `json:"scope"`
	PrimaryMAC string    `json:"primary_mac"`
	Retired    string    `json:"retired_primary_mac,omitempty"`
	Auto       bool      `json:"auto"`
	At         time.Time `json:"at"`
}

// DeviceEvent is the payload for TopicDeviceOnline and TopicDeviceOffline.
type DeviceEvent struct {
	Device models.MergedDevice `json:"device"`
}

// CycleEvent is the payload for TopicCycleCompleted. Devices is the scope's
// full table after the rebuild.
type CycleEvent struct {
	Scope    string                `json:"scope"`
	SourceID string                `json:"source_id,omitempty"`
	Devices  []models.MergedDevice `json:"devices"`
	Online   int                   `json:"online"`
	Offline  int                   `json:"offline"`
	Pending  int                   `json:"pending"`
	At       time.Time             `json:"at"`
}

// SourceFailedEvent is the payload for TopicSourceFailed.
type SourceFailedEvent struct {
	SourceID string    `json:"source_id"`
	Scope    string    `json:"scope"`
	Error    string    `json:"error"`
	At       time.Time `json:"at"`
}
