package ws

import (
	"time"

	"github.com/HerbHall/apwatch/internal/tracker"
)

// MessageType discriminates WebSocket messages. Values match the event bus
// topics they are forwarded from.
type MessageType string

const (
	MessageMACPending     MessageType = tracker.TopicMACPending
	MessageMACAssociated  MessageType = tracker.TopicMACAssociated
	MessageDeviceOnline   MessageType = tracker.TopicDeviceOnline
	MessageDeviceOffline  MessageType = tracker.TopicDeviceOffline
	MessageCycleCompleted MessageType = tracker.TopicCycleCompleted
	MessageSourceFailed   MessageType = tracker.TopicSourceFailed
)

// Message is the envelope for all WebSocket messages. Data holds the
// tracker event payload unchanged.
type Message struct {
	Type      MessageType `json:"type"`
	Scope     string      `json:"scope"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data"`
}

// messageFor converts a tracker payload into a Message. ok is false for
// payloads the stream does not carry.
func messageFor(topic string, at time.Time, payload any) (Message, bool) {
	msg := Message{Type: MessageType(topic), Timestamp: at, Data: payload}
	switch p := payload.(type) {
	case tracker.PendingEvent:
		msg.Scope = p.Scope
	case tracker.AssociatedEvent:
		msg.Scope = p.Scope
	case tracker.DeviceEvent:
		msg.Scope = p.Device.Identity.Scope
	case tracker.CycleEvent:
		msg.Scope = p.Scope
	case tracker.SourceFailedEvent:
		msg.Scope = p.Scope
	default:
		return Message{}, false
	}
	return msg, true
}
