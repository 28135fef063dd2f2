// Package event provides the in-process implementation of plugin.EventBus
// that carries tracker notifications to the mqtt, ws and influx modules.
package event

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/HerbHall/apwatch/pkg/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var eventsDropped = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "apwatch_events_dropped_total",
		Help: "Async events discarded because the delivery queue was full.",
	},
	[]string{"topic"},
)

func init() {
	prometheus.MustRegister(eventsDropped)
}

// Compile-time interface guard.
var _ plugin.EventBus = (*Bus)(nil)

// DefaultQueueSize bounds the number of events waiting for async delivery.
const DefaultQueueSize = 256

// Bus is an in-memory event bus.
// Publish runs handlers in the caller's goroutine. PublishAsync enqueues the
// event on a bounded queue drained by a single worker; when the queue is
// full the event is dropped and counted so the publisher never blocks.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]handlerEntry
	allSubs  []handlerEntry
	nextID   uint64
	logger   *zap.Logger

	queue     chan queued
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	dropped   atomic.Uint64
}

type handlerEntry struct {
	id      uint64
	handler plugin.EventHandler
}

type queued struct {
	ctx   context.Context
	event plugin.Event
}

// NewBus creates a bus with the default async queue size.
func NewBus(logger *zap.Logger) *Bus {
	return NewBusWithQueue(logger, DefaultQueueSize)
}

// NewBusWithQueue creates a bus whose async queue holds at most size events.
func NewBusWithQueue(logger *zap.Logger, size int) *Bus {
	if size <= 0 {
		size = DefaultQueueSize
	}
	b := &Bus{
		handlers: make(map[string][]handlerEntry),
		logger:   logger,
		queue:    make(chan queued, size),
		done:     make(chan struct{}),
	}
	b.wg.Add(1)
	go b.drain()
	return b
}

// Publish dispatches an event synchronously to all matching handlers.
func (b *Bus) Publish(ctx context.Context, event plugin.Event) error {
	for _, h := range b.snapshot(event.Topic) {
		b.safeCall(ctx, h.handler, event)
	}
	return nil
}

// PublishAsync queues an event for delivery by the bus worker.
func (b *Bus) PublishAsync(ctx context.Context, event plugin.Event) {
	select {
	case <-b.done:
		return
	default:
	}
	// Handlers outlive the publisher's request scope.
	ctx = context.WithoutCancel(ctx)
	select {
	case b.queue <- queued{ctx: ctx, event: event}:
	default:
		n := b.dropped.Add(1)
		eventsDropped.WithLabelValues(event.Topic).Inc()
		b.logger.Warn("event queue full, dropping event",
			zap.String("topic", event.Topic),
			zap.Uint64("dropped_total", n),
		)
	}
}

// Dropped returns how many async events were discarded because the queue was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close stops the async worker after delivering everything already queued.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
		b.wg.Wait()
	})
}

// Subscribe registers a handler for a specific topic. Returns an unsubscribe function.
func (b *Bus) Subscribe(topic string, handler plugin.EventHandler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[topic] = append(b.handlers[topic], handlerEntry{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.handlers[topic] = removeEntry(b.handlers[topic], id)
	}
}

// SubscribeAll registers a handler for all topics. Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler plugin.EventHandler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.allSubs = append(b.allSubs, handlerEntry{id: id, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.allSubs = removeEntry(b.allSubs, id)
	}
}

func (b *Bus) drain() {
	defer b.wg.Done()
	for {
		select {
		case q := <-b.queue:
			b.deliver(q)
		case <-b.done:
			for {
				select {
				case q := <-b.queue:
					b.deliver(q)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) deliver(q queued) {
	for _, h := range b.snapshot(q.event.Topic) {
		b.safeCall(q.ctx, h.handler, q.event)
	}
}

// snapshot copies the handlers for topic followed by the catch-all handlers.
func (b *Bus) snapshot(topic string) []handlerEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]handlerEntry, 0, len(b.handlers[topic])+len(b.allSubs))
	out = append(out, b.handlers[topic]...)
	return append(out, b.allSubs...)
}

func removeEntry(entries []handlerEntry, id uint64) []handlerEntry {
	for i, e := range entries {
		if e.id == id {
			return append(entries[:i:i], entries[i+1:]...)
		}
	}
	return entries
}

func (b *Bus) safeCall(ctx context.Context, handler plugin.EventHandler, event plugin.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("topic", event.Topic),
				zap.String("source", event.Source),
				zap.Any("panic", r),
			)
		}
	}()
	handler(ctx, event)
}
