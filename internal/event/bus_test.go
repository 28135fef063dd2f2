package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/HerbHall/apwatch/pkg/plugin"
	"go.uber.org/zap"
)

func TestPublish_DeliversToTopicAndAllSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop())
	defer bus.Close()

	var got []string
	bus.Subscribe("tracker.mac.pending", func(_ context.Context, e plugin.Event) {
		got = append(got, "topic:"+e.Topic)
	})
	bus.SubscribeAll(func(_ context.Context, e plugin.Event) {
		got = append(got, "all:"+e.Topic)
	})
	bus.Subscribe("tracker.device.online", func(_ context.Context, _ plugin.Event) {
		t.Error("handler for another topic must not run")
	})

	if err := bus.Publish(context.Background(), plugin.Event{Topic: "tracker.mac.pending"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	want := []string{"topic:tracker.mac.pending", "all:tracker.mac.pending"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus(zap.NewNop())
	defer bus.Close()

	calls := 0
	unsub := bus.Subscribe("a", func(context.Context, plugin.Event) { calls++ })
	unsubAll := bus.SubscribeAll(func(context.Context, plugin.Event) { calls++ })

	_ = bus.Publish(context.Background(), plugin.Event{Topic: "a"})
	unsub()
	unsubAll()
	_ = bus.Publish(context.Background(), plugin.Event{Topic: "a"})

	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestPublish_RecoversHandlerPanic(t *testing.T) {
	bus := NewBus(zap.NewNop())
	defer bus.Close()

	reached := false
	bus.Subscribe("a", func(context.Context, plugin.Event) { panic("boom") })
	bus.Subscribe("a", func(context.Context, plugin.Event) { reached = true })

	_ = bus.Publish(context.Background(), plugin.Event{Topic: "a"})
	if !reached {
		t.Error("second handler should run after the first panicked")
	}
}

func TestPublishAsync_Delivers(t *testing.T) {
	bus := NewBus(zap.NewNop())
	defer bus.Close()

	var wg sync.WaitGroup
	wg.Add(3)
	bus.Subscribe("a", func(context.Context, plugin.Event) { wg.Done() })

	for range 3 {
		bus.PublishAsync(context.Background(), plugin.Event{Topic: "a"})
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async events not delivered")
	}
}

func TestPublishAsync_DropsWhenQueueFull(t *testing.T) {
	bus := NewBusWithQueue(zap.NewNop(), 1)
	defer bus.Close()

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	bus.Subscribe("a", func(context.Context, plugin.Event) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})

	bus.PublishAsync(context.Background(), plugin.Event{Topic: "a"})
	<-started // worker is now blocked inside the handler
	bus.PublishAsync(context.Background(), plugin.Event{Topic: "a"}) // fills the queue
	bus.PublishAsync(context.Background(), plugin.Event{Topic: "a"}) // dropped
	close(release)

	if got := bus.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
}

func TestPublishAsync_AfterCloseIsNoop(t *testing.T) {
	bus := NewBus(zap.NewNop())
	bus.Close()
	bus.PublishAsync(context.Background(), plugin.Event{Topic: "a"})
	if bus.Dropped() != 0 {
		t.Error("publishing after Close should not count as a drop")
	}
}
