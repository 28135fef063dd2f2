package ws

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestClient(subject, scope string) *Client {
	return &Client{
		conn:    nil, // Not needed for hub tests
		subject: subject,
		scope:   scope,
		send:    make(chan Message, sendBuffer),
		logger:  zap.NewNop(),
	}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(zap.NewNop())
	client := newTestClient("ops", "")

	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Fatalf("ClientCount() = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
	}
	if _, ok := <-client.send; ok {
		t.Error("client.send channel is not closed")
	}

	// A second unregister must not close the channel again.
	hub.Unregister(client)
}

func TestUnregisterNotRegistered(t *testing.T) {
	hub := NewHub(zap.NewNop())
	client := newTestClient("ops", "")

	hub.Unregister(client)

	select {
	case _, ok := <-client.send:
		if !ok {
			t.Error("channel closed for unregistered client")
		}
	default:
	}
}

func TestBroadcast_ScopeFilter(t *testing.T) {
	hub := NewHub(zap.NewNop())
	all := newTestClient("all", "")
	home := newTestClient("home", "home")
	office := newTestClient("office", "office")
	for _, c := range []*Client{all, home, office} {
		hub.Register(c)
	}

	hub.Broadcast(Message{Type: MessageMACPending, Scope: "home", Timestamp: time.Now()})

	tests := []struct {
		client *Client
		want   int
	}{
		{all, 1},
		{home, 1},
		{office, 0},
	}
	for _, tt := range tests {
		if got := len(tt.client.send); got != tt.want {
			t.Errorf("client %s received %d messages, want %d", tt.client.subject, got, tt.want)
		}
	}
}

func TestBroadcastDropsMessagesWhenBufferFull(t *testing.T) {
	hub := NewHub(zap.NewNop())
	client := &Client{subject: "slow", send: make(chan Message, 2), logger: zap.NewNop()}
	hub.Register(client)

	for range 5 {
		hub.Broadcast(Message{Type: MessageCycleCompleted, Scope: "home"})
	}

	if got := len(client.send); got != 2 {
		t.Errorf("buffered = %d, want 2", got)
	}
	if hub.Dropped() != 3 {
		t.Errorf("Dropped() = %d, want 3", hub.Dropped())
	}
}

func TestConcurrentRegisterUnregisterBroadcast(t *testing.T) {
	hub := NewHub(zap.NewNop())
	var wg sync.WaitGroup

	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newTestClient("c", "")
			hub.Register(c)
			hub.Broadcast(Message{Type: MessageDeviceOnline, Scope: "home"})
			if i%2 == 0 {
				hub.Unregister(c)
			}
		}()
	}
	wg.Wait()

	if got := hub.ClientCount(); got != 10 {
		t.Errorf("ClientCount() = %d, want 10", got)
	}
}
