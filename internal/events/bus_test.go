// ABOUTME: Tests for the in-process event bus
// ABOUTME: Covers delivery, type isolation, panic recovery, unsubscribe, concurrency

package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collector() (HandlerFunc, <-chan Event) {
	ch := make(chan Event, 16)
	fn := func(ctx context.Context, evt Event) error {
		// Non-blocking so an unread collector never wedges bus shutdown
		select {
		case ch <- evt:
		default:
		}
		return nil
	}
	return fn, ch
}

func TestBus_SingleSubscriberReceivesEvent(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	fn, ch := collector()
	b.Subscribe(TypeMessageReceived, fn)

	payload := &ReceivedEvent{MessageID: "msg-1", ConversationID: "conv-1", Content: "hi"}
	eventID := b.Publish(t.Context(), TypeMessageReceived, payload, "test")
	require.NotEmpty(t, eventID)

	select {
	case evt := <-ch:
		assert.Equal(t, eventID, evt.ID)
		assert.Equal(t, TypeMessageReceived, evt.Type)
		assert.Equal(t, "test", evt.Source)
		rcv, ok := evt.Payload.(*ReceivedEvent)
		require.True(t, ok)
		assert.Equal(t, "msg-1", rcv.MessageID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_MultipleSubscribersReceiveSameEvent(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	fn1, ch1 := collector()
	fn2, ch2 := collector()
	fn3, ch3 := collector()
	b.Subscribe("conversation.typing_indicator", fn1)
	b.Subscribe("conversation.typing_indicator", fn2)
	b.Subscribe("conversation.typing_indicator", fn3)

	b.Publish(t.Context(), "conversation.typing_indicator", &TypingEvent{ConversationID: "conv-1", Typing: true}, "test")

	for i, ch := range []<-chan Event{ch1, ch2, ch3} {
		select {
		case evt := <-ch:
			assert.Equal(t, "conversation.typing_indicator", evt.Type, "subscriber %d got wrong event", i)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestBus_EventTypesAreExactMatch(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	fn1, ch1 := collector()
	fn2, ch2 := collector()
	b.Subscribe(OutputMessageType(ChannelConversation), fn1)
	b.Subscribe(OutputMessageType(ChannelUser), fn2)

	b.Publish(t.Context(), OutputMessageType(ChannelConversation), &MessageEvent{Message: &OutputMessage{MessageID: "m1"}}, "router")

	select {
	case evt := <-ch1:
		assert.Equal(t, "output.conversation.message", evt.Type)
	case <-time.After(time.Second):
		t.Fatal("conversation subscriber timed out")
	}

	select {
	case <-ch2:
		t.Fatal("user-channel subscriber should not receive conversation events")
	case <-time.After(100 * time.Millisecond):
		// Expected: no event
	}
}

func TestBus_PublishDoesNotBlockOnSlowHandler(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	release := make(chan struct{})
	b.Subscribe(TypeMessageReceived, func(ctx context.Context, evt Event) error {
		<-release
		return nil
	})

	start := time.Now()
	b.Publish(t.Context(), TypeMessageReceived, &ReceivedEvent{MessageID: "m1"}, "test")
	elapsed := time.Since(start)
	close(release)

	assert.Less(t, elapsed, 100*time.Millisecond, "publish should return without waiting for the handler")
}

func TestBus_PanickingHandlerDoesNotAffectOthers(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	b.Subscribe(TypeMessageReceived, func(ctx context.Context, evt Event) error {
		panic("handler blew up")
	})
	fn, ch := collector()
	b.Subscribe(TypeMessageReceived, fn)

	b.Publish(t.Context(), TypeMessageReceived, &ReceivedEvent{MessageID: "m1"}, "test")
	b.Publish(t.Context(), TypeMessageReceived, &ReceivedEvent{MessageID: "m2"}, "test")

	// Handlers run concurrently, so collect both before asserting
	got := make([]string, 0, 2)
	for range 2 {
		select {
		case evt := <-ch:
			got = append(got, evt.Payload.(*ReceivedEvent).MessageID)
		case <-time.After(time.Second):
			t.Fatal("healthy subscriber timed out")
		}
	}
	assert.ElementsMatch(t, []string{"m1", "m2"}, got)
}

func TestBus_HandlerErrorDoesNotAffectOthers(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	b.Subscribe(TypeMessageReceived, func(ctx context.Context, evt Event) error {
		return errors.New("handler failed")
	})
	fn, ch := collector()
	b.Subscribe(TypeMessageReceived, fn)

	b.Publish(t.Context(), TypeMessageReceived, &ReceivedEvent{MessageID: "m1"}, "test")

	select {
	case evt := <-ch:
		assert.Equal(t, "m1", evt.Payload.(*ReceivedEvent).MessageID)
	case <-time.After(time.Second):
		t.Fatal("healthy subscriber timed out")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	fn, ch := collector()
	subID := b.Subscribe(TypeMessageReceived, fn)
	require.NotEmpty(t, subID)

	assert.True(t, b.Unsubscribe(subID))
	assert.False(t, b.Unsubscribe(subID), "second unsubscribe should report unknown id")

	b.Publish(t.Context(), TypeMessageReceived, &ReceivedEvent{MessageID: "m1"}, "test")

	select {
	case <-ch:
		t.Fatal("unsubscribed handler should not receive events")
	case <-time.After(100 * time.Millisecond):
		// Expected
	}

	// Empty type bucket is reclaimed
	b.mu.RLock()
	_, exists := b.subscribers[TypeMessageReceived]
	b.mu.RUnlock()
	assert.False(t, exists, "empty event-type bucket should be deleted")
}

func TestBus_SubscribersReturnsInsertionOrder(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	noop := func(ctx context.Context, evt Event) error { return nil }
	id1 := b.Subscribe("a", noop)
	id2 := b.Subscribe("a", noop)
	id3 := b.Subscribe("a", noop)

	assert.Equal(t, []string{id1, id2, id3}, b.Subscribers("a"))
	assert.Empty(t, b.Subscribers("b"))
}

func TestBus_Counts(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	noop := func(ctx context.Context, evt Event) error { return nil }
	b.Subscribe("a", noop)
	b.Subscribe("a", noop)
	b.Subscribe("b", noop)

	counts := b.Counts()
	assert.Equal(t, 2, counts["a"])
	assert.Equal(t, 1, counts["b"])

	assert.Equal(t, 2, b.SubscriberCount("a"))
	assert.Equal(t, 1, b.SubscriberCount("b"))
	assert.Zero(t, b.SubscriberCount("c"))
}

func TestBus_CloseStopsDelivery(t *testing.T) {
	b := NewBus(nil)

	fn, ch := collector()
	b.Subscribe(TypeMessageReceived, fn)

	b.Close()

	assert.Empty(t, b.Publish(t.Context(), TypeMessageReceived, &ReceivedEvent{MessageID: "m1"}, "test"))
	assert.Empty(t, b.Subscribe(TypeMessageReceived, fn), "subscribe on closed bus should return empty id")

	select {
	case <-ch:
		t.Fatal("closed bus should not deliver events")
	case <-time.After(100 * time.Millisecond):
		// Expected
	}

	// Second close is a no-op
	b.Close()
}

func TestBus_CloseWaitsForInflightHandlers(t *testing.T) {
	b := NewBus(nil)

	started := make(chan struct{})
	var finished bool
	b.Subscribe(TypeMessageReceived, func(ctx context.Context, evt Event) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished = true
		return nil
	})

	b.Publish(t.Context(), TypeMessageReceived, &ReceivedEvent{MessageID: "m1"}, "test")
	<-started
	b.Close()

	assert.True(t, finished, "Close should wait for the in-flight handler")
}

func TestBus_ConcurrentPublishSubscribe(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	var wg sync.WaitGroup

	for range 10 {
		wg.Go(func() {
			fn, ch := collector()
			subID := b.Subscribe("stress", fn)
			for range 5 {
				select {
				case <-ch:
				case <-time.After(500 * time.Millisecond):
					b.Unsubscribe(subID)
					return
				}
			}
			b.Unsubscribe(subID)
		})
	}

	for range 10 {
		wg.Go(func() {
			for range 20 {
				b.Publish(context.Background(), "stress", &TypingEvent{ConversationID: "conv-1"}, "test")
			}
		})
	}

	wg.Wait()
	// Passing means no deadlock, panic, or race
}

func TestBus_PublishWithNoSubscribers(t *testing.T) {
	b := NewBus(nil)
	defer b.Close()

	eventID := b.Publish(t.Context(), "nobody.listening", &TypingEvent{ConversationID: "conv-1"}, "test")
	assert.NotEmpty(t, eventID)
}
