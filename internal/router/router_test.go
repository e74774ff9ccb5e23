// ABOUTME: Tests for the message router worker
// ABOUTME: Covers the echo flow, delays, isolation, backpressure, and shutdown

package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthchat/relay/internal/events"
	"github.com/hearthchat/relay/internal/store"
)

type published struct {
	eventType string
	payload   events.Payload
}

// captureBus records publishes in call order without dispatching anything.
type captureBus struct {
	ch chan published
}

func newCaptureBus() *captureBus {
	return &captureBus{ch: make(chan published, 64)}
}

func (b *captureBus) Publish(ctx context.Context, eventType string, payload events.Payload, source string) string {
	b.ch <- published{eventType: eventType, payload: payload}
	return "evt-1"
}

func (b *captureBus) next(t *testing.T) published {
	t.Helper()
	select {
	case p := <-b.ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published event")
		return published{}
	}
}

func (b *captureBus) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case p := <-b.ch:
		t.Fatalf("unexpected event published: %s", p.eventType)
	case <-time.After(wait):
	}
}

type memMessageStore struct {
	mu       sync.Mutex
	messages []*store.Message
	err      error
}

func (s *memMessageStore) CreateMessage(ctx context.Context, msg *store.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, msg)
	return nil
}

func (s *memMessageStore) all() []*store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*store.Message(nil), s.messages...)
}

type fixedPolicy struct {
	decision *Decision
}

func (p fixedPolicy) Decide(msg *events.InputMessage) *Decision { return p.decision }

func convMessage(content string) *events.InputMessage {
	msg := events.NewInputMessage(events.ChannelConversation, "conv-1", "user-1", content)
	msg.ConversationID = "conv-1"
	msg.WorkspaceID = "ws-1"
	return msg
}

func fastConfig() Config {
	return Config{DelayUnit: time.Millisecond, QueueSize: 16}
}

func TestRouter_EchoFlow(t *testing.T) {
	bus := newCaptureBus()
	msgs := &memMessageStore{}
	r := New(bus, msgs, nil, nil, fastConfig(), nil)
	r.Start(t.Context())
	defer r.Stop()

	require.True(t, r.ProcessInput(convMessage("hello")))

	// Status first, then typing on/off, then the response
	p := bus.next(t)
	assert.Equal(t, "output.conversation.status", p.eventType)
	status := p.payload.(*events.StatusEvent)
	assert.Equal(t, DefaultProcessingMessage, status.Status)
	assert.Contains(t, status.Metadata, "correlation_id")

	p = bus.next(t)
	require.Equal(t, events.TypeTypingIndicator, p.eventType)
	assert.True(t, p.payload.(*events.TypingEvent).Typing)

	p = bus.next(t)
	require.Equal(t, events.TypeTypingIndicator, p.eventType)
	assert.False(t, p.payload.(*events.TypingEvent).Typing)

	p = bus.next(t)
	assert.Equal(t, "output.conversation.message", p.eventType)
	out := p.payload.(*events.MessageEvent).Message
	assert.Equal(t, "ECHO: hello", out.Content)
	assert.Equal(t, events.ChannelConversation, out.ChannelType)
}

func TestRouter_ResponseReferencesInput(t *testing.T) {
	bus := newCaptureBus()
	r := New(bus, nil, nil, nil, fastConfig(), nil)
	r.Start(t.Context())
	defer r.Stop()

	in := convMessage("hello")
	require.True(t, r.ProcessInput(in))

	var out *events.OutputMessage
	for out == nil {
		if p := bus.next(t); p.eventType == "output.conversation.message" {
			out = p.payload.(*events.MessageEvent).Message
		}
	}
	assert.Equal(t, in.MessageID, out.ReferenceMessageID)
	assert.NotEqual(t, in.MessageID, out.MessageID)
	assert.Equal(t, "conv-1", out.ConversationID)
	assert.Contains(t, out.Metadata, "correlation_id")
}

func TestRouter_PersistsAssistantReply(t *testing.T) {
	bus := newCaptureBus()
	msgs := &memMessageStore{}
	r := New(bus, msgs, nil, nil, fastConfig(), nil)
	r.Start(t.Context())
	defer r.Stop()

	require.True(t, r.ProcessInput(convMessage("hello")))

	var out *events.OutputMessage
	for out == nil {
		if p := bus.next(t); p.eventType == "output.conversation.message" {
			out = p.payload.(*events.MessageEvent).Message
		}
	}

	recorded := msgs.all()
	require.Len(t, recorded, 1)
	assert.Equal(t, out.MessageID, recorded[0].ID)
	assert.Equal(t, "assistant", recorded[0].Role)
	assert.Equal(t, "ECHO: hello", recorded[0].Content)
	assert.Equal(t, "conv-1", recorded[0].ConversationID)
}

func TestRouter_GlobalMessagesAreNotPersisted(t *testing.T) {
	bus := newCaptureBus()
	msgs := &memMessageStore{}
	r := New(bus, msgs, nil, nil, fastConfig(), nil)
	r.Start(t.Context())
	defer r.Stop()

	require.True(t, r.ProcessInput(events.NewInputMessage(events.ChannelGlobal, "", "user-1", "ping")))

	// Global flow: status then response, no typing events
	p := bus.next(t)
	assert.Equal(t, "output.global.status", p.eventType)
	p = bus.next(t)
	assert.Equal(t, "output.global.message", p.eventType)
	assert.Equal(t, "ECHO: ping", p.payload.(*events.MessageEvent).Message.Content)

	assert.Empty(t, msgs.all())
}

func TestRouter_StoreFailureStillPublishes(t *testing.T) {
	bus := newCaptureBus()
	msgs := &memMessageStore{err: errors.New("disk full")}
	r := New(bus, msgs, nil, nil, fastConfig(), nil)
	r.Start(t.Context())
	defer r.Stop()

	require.True(t, r.ProcessInput(convMessage("hello")))

	for {
		if p := bus.next(t); p.eventType == "output.conversation.message" {
			assert.Equal(t, "ECHO: hello", p.payload.(*events.MessageEvent).Message.Content)
			return
		}
	}
}

type panicCompleter struct{}

func (panicCompleter) Complete(ctx context.Context, msg *events.InputMessage) (string, error) {
	if msg.Content == "boom" {
		panic("completion exploded")
	}
	return "ECHO: " + msg.Content, nil
}

func TestRouter_PoisonedMessageDoesNotStopWorker(t *testing.T) {
	bus := newCaptureBus()
	r := New(bus, nil, panicCompleter{}, nil, fastConfig(), nil)
	r.Start(t.Context())
	defer r.Stop()

	require.True(t, r.ProcessInput(convMessage("boom")))
	require.True(t, r.ProcessInput(convMessage("hello")))

	for {
		if p := bus.next(t); p.eventType == "output.conversation.message" {
			assert.Equal(t, "ECHO: hello", p.payload.(*events.MessageEvent).Message.Content)
			break
		}
	}

	stats := r.Stats()
	assert.Equal(t, int64(1), stats.Processed)
	assert.Equal(t, int64(1), stats.Failed)
}

type errorCompleter struct{}

func (errorCompleter) Complete(ctx context.Context, msg *events.InputMessage) (string, error) {
	return "", errors.New("model unavailable")
}

func TestRouter_CompletionFailureDegradesToSilence(t *testing.T) {
	bus := newCaptureBus()
	r := New(bus, nil, errorCompleter{}, nil, fastConfig(), nil)
	r.Start(t.Context())
	defer r.Stop()

	require.True(t, r.ProcessInput(convMessage("hello")))

	// Status and both typing edges still go out
	assert.Equal(t, "output.conversation.status", bus.next(t).eventType)
	assert.Equal(t, events.TypeTypingIndicator, bus.next(t).eventType)
	assert.Equal(t, events.TypeTypingIndicator, bus.next(t).eventType)

	// But no response follows
	bus.expectNone(t, 100*time.Millisecond)
	assert.Equal(t, int64(1), r.Stats().Failed)
}

func TestRouter_IgnoreProducesNoOutput(t *testing.T) {
	bus := newCaptureBus()
	policy := fixedPolicy{decision: &Decision{Action: ActionIgnore, Priority: 3}}
	r := New(bus, nil, nil, policy, fastConfig(), nil)
	r.Start(t.Context())
	defer r.Stop()

	require.True(t, r.ProcessInput(convMessage("hello")))

	bus.expectNone(t, 100*time.Millisecond)
	assert.Equal(t, int64(1), r.Stats().Processed)
}

func TestRouter_ProcessActionSharesOutputContract(t *testing.T) {
	bus := newCaptureBus()
	policy := fixedPolicy{decision: &Decision{
		Action:        ActionProcess,
		Priority:      5,
		StatusMessage: "working on it",
	}}
	r := New(bus, nil, nil, policy, fastConfig(), nil)
	r.Start(t.Context())
	defer r.Stop()

	require.True(t, r.ProcessInput(convMessage("hello")))

	p := bus.next(t)
	assert.Equal(t, "output.conversation.status", p.eventType)
	assert.Equal(t, "working on it", p.payload.(*events.StatusEvent).Status)

	for {
		if p := bus.next(t); p.eventType == "output.conversation.message" {
			assert.Equal(t, "ECHO: hello", p.payload.(*events.MessageEvent).Message.Content)
			return
		}
	}
}

func TestRouter_UnknownActionIsContractError(t *testing.T) {
	bus := newCaptureBus()
	policy := fixedPolicy{decision: &Decision{Action: Action("EXPLODE"), Priority: 3}}
	r := New(bus, nil, nil, policy, fastConfig(), nil)
	r.Start(t.Context())
	defer r.Stop()

	require.True(t, r.ProcessInput(convMessage("hello")))

	bus.expectNone(t, 100*time.Millisecond)
	assert.Equal(t, int64(1), r.Stats().Failed)
}

type blockingCompleter struct {
	started chan struct{}
	release chan struct{}
}

func (c *blockingCompleter) Complete(ctx context.Context, msg *events.InputMessage) (string, error) {
	c.started <- struct{}{}
	<-c.release
	return "ECHO: " + msg.Content, nil
}

func TestRouter_FullQueueRejectsNewMessages(t *testing.T) {
	bus := newCaptureBus()
	completer := &blockingCompleter{
		started: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
	cfg := Config{QueueSize: 1, DelayUnit: time.Millisecond}
	r := New(bus, nil, completer, nil, cfg, nil)
	r.Start(t.Context())
	defer r.Stop()

	// First message occupies the worker
	require.True(t, r.ProcessInput(convMessage("one")))
	select {
	case <-completer.started:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never started on the first message")
	}

	// Second fills the queue, third is rejected
	assert.True(t, r.ProcessInput(convMessage("two")))
	assert.False(t, r.ProcessInput(convMessage("three")))
	assert.Equal(t, 1, r.QueueDepth())

	close(completer.release)
}

func TestRouter_StopJoinsWorkerAndRejectsInput(t *testing.T) {
	bus := newCaptureBus()
	cfg := Config{DelayUnit: 200 * time.Millisecond, QueueSize: 16}
	r := New(bus, nil, nil, nil, cfg, nil)
	r.Start(t.Context())

	require.True(t, r.ProcessInput(convMessage("hello")))

	// Wait until the worker is inside the response delay
	assert.Equal(t, "output.conversation.status", bus.next(t).eventType)
	assert.Equal(t, events.TypeTypingIndicator, bus.next(t).eventType)

	start := time.Now()
	r.Stop()
	assert.Less(t, time.Since(start), 500*time.Millisecond, "Stop should interrupt the delay")

	assert.False(t, r.ProcessInput(convMessage("after stop")))

	// The in-flight response was abandoned
	bus.expectNone(t, 100*time.Millisecond)

	// Second stop is a no-op
	r.Stop()
}

func TestRouter_RejectsBeforeStart(t *testing.T) {
	r := New(newCaptureBus(), nil, nil, nil, fastConfig(), nil)
	assert.False(t, r.ProcessInput(convMessage("hello")))
	assert.False(t, r.ProcessInput(nil))
}

func TestStubPolicy_Defaults(t *testing.T) {
	policy := StubPolicy{}
	msg := convMessage("hello")

	d1 := policy.Decide(msg)
	d2 := policy.Decide(msg)

	assert.Equal(t, ActionRespond, d1.Action)
	assert.Equal(t, 3, d1.Priority)
	assert.Equal(t, DefaultProcessingMessage, d1.StatusMessage)
	assert.Equal(t, []string{"conv-1"}, d1.TargetChannels)
	assert.Equal(t, msg.MessageID, d1.ReferenceID)
	assert.NotEqual(t, d1.Metadata["correlation_id"], d2.Metadata["correlation_id"])
}

func TestResponseDelay(t *testing.T) {
	tests := []struct {
		priority int
		minWait  int
		want     time.Duration
	}{
		{3, 1, 3 * time.Millisecond},
		{5, 1, 1 * time.Millisecond},
		{1, 1, 5 * time.Millisecond},
		{5, 4, 4 * time.Millisecond},
		{0, 1, 5 * time.Millisecond},
		{9, 1, 1 * time.Millisecond},
	}

	for _, tt := range tests {
		r := New(newCaptureBus(), nil, nil, nil, Config{DelayUnit: time.Millisecond, MinWait: tt.minWait}, nil)
		if got := r.responseDelay(tt.priority); got != tt.want {
			t.Errorf("responseDelay(%d) with minWait %d = %v, want %v", tt.priority, tt.minWait, got, tt.want)
		}
	}
}
