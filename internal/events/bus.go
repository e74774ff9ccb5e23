// ABOUTME: In-process publish/subscribe bus keyed by exact event-type strings
// ABOUTME: Dispatches each handler in its own goroutine with panic isolation

package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope delivered to subscribers.
type Event struct {
	ID      string
	Type    string
	Source  string
	Time    time.Time
	Payload Payload
}

// HandlerFunc processes one published event. Returned errors are logged by
// the bus; they do not affect delivery to other subscribers.
type HandlerFunc func(ctx context.Context, evt Event) error

type subscription struct {
	id        string
	eventType string
	fn        HandlerFunc
}

// Bus is an in-memory pub/sub registry. Matching is exact-string; there are
// no wildcards. Subscribers for a type are kept in insertion order, but
// dispatch order is not guaranteed because handlers run concurrently.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]*subscription // eventType -> ordered subscriptions
	byID        map[string]*subscription
	closed      bool
	handlers    sync.WaitGroup
	logger      *slog.Logger
}

// NewBus creates a bus. Pass nil logger for default.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[string][]*subscription),
		byID:        make(map[string]*subscription),
		logger:      logger.With("component", "eventbus"),
	}
}

// Subscribe registers a handler for the given event type and returns the
// subscription id. Returns an empty id if the bus is closed.
func (b *Bus) Subscribe(eventType string, fn HandlerFunc) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		b.logger.Warn("subscribe on closed bus", "event_type", eventType)
		return ""
	}

	sub := &subscription{
		id:        uuid.New().String(),
		eventType: eventType,
		fn:        fn,
	}
	b.subscribers[eventType] = append(b.subscribers[eventType], sub)
	b.byID[sub.id] = sub

	b.logger.Debug("subscriber added",
		"event_type", eventType,
		"subscription_id", sub.id)

	return sub.id
}

// Unsubscribe removes a subscription by id. Returns false if the id is
// unknown (already removed or never existed).
func (b *Bus) Unsubscribe(subscriptionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.byID[subscriptionID]
	if !ok {
		return false
	}
	delete(b.byID, subscriptionID)

	subs := b.subscribers[sub.eventType]
	for i, s := range subs {
		if s.id == subscriptionID {
			b.subscribers[sub.eventType] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	// Reclaim empty type buckets
	if len(b.subscribers[sub.eventType]) == 0 {
		delete(b.subscribers, sub.eventType)
	}

	b.logger.Debug("subscriber removed",
		"event_type", sub.eventType,
		"subscription_id", subscriptionID)

	return true
}

// Publish delivers the payload to every subscriber of eventType present at
// call time and returns the event id. It never blocks on handler execution:
// each handler runs in its own goroutine, and a panic or error in one handler
// is logged without affecting the others. Delivery to a subscriber that
// disconnects mid-dispatch is simply lost.
func (b *Bus) Publish(ctx context.Context, eventType string, payload Payload, source string) string {
	evt := Event{
		ID:      uuid.New().String(),
		Type:    eventType,
		Source:  source,
		Time:    time.Now().UTC(),
		Payload: payload,
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ""
	}
	// Handlers are launched under the read lock so Close cannot begin
	// waiting between the closed check and the goroutine start. The
	// handlers themselves run outside the lock.
	subs := b.subscribers[eventType]
	for _, sub := range subs {
		b.handlers.Go(func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked",
						"event_type", evt.Type,
						"subscription_id", sub.id,
						"panic", r)
				}
			}()
			if err := sub.fn(ctx, evt); err != nil {
				b.logger.Warn("event handler failed",
					"event_type", evt.Type,
					"subscription_id", sub.id,
					"error", err)
			}
		})
	}
	delivered := len(subs)
	b.mu.RUnlock()

	if delivered == 0 {
		b.logger.Debug("no subscribers for event",
			"event_type", eventType,
			"source", source)
	}

	return evt.ID
}

// Subscribers returns the subscription ids registered for the event type, in
// insertion order.
func (b *Bus) Subscribers(eventType string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := b.subscribers[eventType]
	ids := make([]string, 0, len(subs))
	for _, s := range subs {
		ids = append(ids, s.id)
	}
	return ids
}

// SubscriberCount returns the number of subscriptions for one event type.
func (b *Bus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[eventType])
}

// Counts returns the number of subscriptions per event type.
func (b *Bus) Counts() map[string]int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	counts := make(map[string]int, len(b.subscribers))
	for eventType, subs := range b.subscribers {
		counts[eventType] = len(subs)
	}
	return counts
}

// Close stops the bus, drops all subscriptions, and waits for in-flight
// handlers to finish. Publish and Subscribe become no-ops afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.subscribers = make(map[string][]*subscription)
	b.byID = make(map[string]*subscription)
	b.mu.Unlock()

	b.handlers.Wait()
	b.logger.Debug("event bus closed")
}
