// ABOUTME: Single-consumer message router: queue, decision, status, delayed response
// ABOUTME: Failures are isolated per message; one poisoned message never stops the worker

package router

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hearthchat/relay/internal/events"
	"github.com/hearthchat/relay/internal/store"
)

const (
	defaultQueueSize = 256
	defaultDelayUnit = time.Second
	defaultMinWait   = 1
	defaultPriority  = 3

	// DefaultProcessingMessage is the status text announced while a message
	// is being handled.
	DefaultProcessingMessage = "Processing your request..."
)

// Action is the router's choice for an inbound message.
type Action string

const (
	ActionRespond  Action = "RESPOND"
	ActionProcess  Action = "PROCESS"
	ActionDelegate Action = "DELEGATE"
	ActionIgnore   Action = "IGNORE"
)

// Decision is produced and consumed within one routing cycle; it is never
// persisted. TargetChannels lists the channel ids the output is intended for,
// which for the stub policy is just the message's own channel.
type Decision struct {
	Action         Action
	Priority       int // 1 (slowest) .. 5 (fastest), inverted delay scale
	TargetChannels []string
	StatusMessage  string
	ReferenceID    string
	Metadata       map[string]any
}

// Policy produces a routing decision for an inbound message.
type Policy interface {
	Decide(msg *events.InputMessage) *Decision
}

// StubPolicy always responds at the default priority with a generic
// processing notice and a fresh correlation id. Any real policy is expected
// to replace this via the Policy interface.
type StubPolicy struct {
	StatusMessage string
}

func (p StubPolicy) Decide(msg *events.InputMessage) *Decision {
	status := p.StatusMessage
	if status == "" {
		status = DefaultProcessingMessage
	}
	return &Decision{
		Action:         ActionRespond,
		Priority:       defaultPriority,
		TargetChannels: []string{msg.ChannelID},
		StatusMessage:  status,
		ReferenceID:    msg.MessageID,
		Metadata:       map[string]any{"correlation_id": uuid.New().String()},
	}
}

// Publisher is what the router needs from the event bus.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload events.Payload, source string) string
}

var _ Publisher = (*events.Bus)(nil)

// MessageStore is what the router needs from persistence: recording the
// assistant replies it produces.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *store.Message) error
}

// Config tunes the router. Zero values take the defaults above.
type Config struct {
	QueueSize         int
	DelayUnit         time.Duration
	MinWait           int
	ProcessingMessage string
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.DelayUnit <= 0 {
		c.DelayUnit = defaultDelayUnit
	}
	if c.MinWait <= 0 {
		c.MinWait = defaultMinWait
	}
	if c.ProcessingMessage == "" {
		c.ProcessingMessage = DefaultProcessingMessage
	}
	return c
}

// Stats is a point-in-time snapshot of router activity.
type Stats struct {
	QueueDepth int   `json:"queue_depth"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
}

// Router owns the intake queue and its single consumer worker. Producers are
// many; the consumer is exactly one, which keeps responses in order within a
// queue.
type Router struct {
	bus       Publisher
	messages  MessageStore
	completer Completer
	policy    Policy
	cfg       Config
	logger    *slog.Logger

	queue chan *events.InputMessage
	stop  chan struct{}
	done  chan struct{}

	mu        sync.Mutex
	running   bool
	processed int64
	failed    int64
}

// New creates a router. messages may be nil when persistence is not wired
// (responses are then published without being recorded). A nil policy falls
// back to the StubPolicy, a nil completer to the EchoCompleter.
func New(bus Publisher, messages MessageStore, completer Completer, policy Policy, cfg Config, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	if completer == nil {
		completer = EchoCompleter{}
	}
	if policy == nil {
		policy = StubPolicy{StatusMessage: cfg.ProcessingMessage}
	}
	return &Router{
		bus:       bus,
		messages:  messages,
		completer: completer,
		policy:    policy,
		cfg:       cfg,
		logger:    logger.With("component", "router"),
		queue:     make(chan *events.InputMessage, cfg.QueueSize),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the consumer worker. The worker exits when ctx is cancelled
// or Stop is called.
func (r *Router) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	go r.worker(ctx)
	r.logger.Info("router started", "queue_size", r.cfg.QueueSize)
}

// Stop halts intake and joins the worker. Safe to call more than once.
func (r *Router) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	close(r.stop)
	<-r.done
	r.logger.Info("router stopped", "queued_remaining", len(r.queue))
}

// Running reports whether the consumer worker is active.
func (r *Router) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// ProcessInput enqueues a message for routing. Returns true once the message
// is accepted into the queue (fire and forget), false when the router is
// stopped or the queue is full. A full queue is surfaced to the caller rather
// than silently dropped so clients can retry.
func (r *Router) ProcessInput(msg *events.InputMessage) bool {
	if msg == nil {
		r.logger.Warn("nil message rejected")
		return false
	}

	r.mu.Lock()
	running := r.running
	r.mu.Unlock()
	if !running {
		r.logger.Warn("message rejected, router not running",
			"message_id", msg.MessageID)
		return false
	}

	select {
	case r.queue <- msg:
		r.logger.Debug("message queued",
			"message_id", msg.MessageID,
			"channel_type", msg.ChannelType,
			"channel_id", msg.ChannelID,
			"queue_depth", len(r.queue))
		return true
	default:
		r.logger.Warn("intake queue full, message rejected",
			"message_id", msg.MessageID,
			"queue_size", r.cfg.QueueSize)
		return false
	}
}

// QueueDepth reports how many messages are waiting.
func (r *Router) QueueDepth() int {
	return len(r.queue)
}

// Stats returns a snapshot of router activity.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		QueueDepth: len(r.queue),
		Processed:  r.processed,
		Failed:     r.failed,
	}
}

func (r *Router) worker(ctx context.Context) {
	defer close(r.done)
	defer r.markStopped()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case msg := <-r.queue:
			r.handleMessage(ctx, msg)
		}
	}
}

func (r *Router) markStopped() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}

// handleMessage runs one full routing cycle. A panic anywhere in the cycle is
// recovered here so the worker survives poisoned messages.
func (r *Router) handleMessage(ctx context.Context, msg *events.InputMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			r.countFailed()
			r.logger.Error("message processing panicked",
				"message_id", msg.MessageID,
				"panic", rec)
		}
	}()

	r.logger.Debug("deciding message",
		"message_id", msg.MessageID,
		"channel_type", msg.ChannelType)

	decision := r.policy.Decide(msg)
	if decision == nil {
		r.countFailed()
		r.logger.Error("policy returned no decision", "message_id", msg.MessageID)
		return
	}

	r.logger.Info("message routed",
		"message_id", msg.MessageID,
		"action", decision.Action,
		"priority", decision.Priority)

	switch decision.Action {
	case ActionRespond:
		r.respond(ctx, msg, decision, 1)
	case ActionProcess, ActionDelegate:
		// Alternate latency profile, same output contract
		r.respond(ctx, msg, decision, 2)
	case ActionIgnore:
		r.countProcessed()
		r.logger.Info("message ignored", "message_id", msg.MessageID)
	default:
		r.countFailed()
		r.logger.Error("unknown routing action",
			"message_id", msg.MessageID,
			"action", decision.Action)
	}
}

// respond emits the status event, waits out the priority-derived delay, then
// publishes the completed reply.
func (r *Router) respond(ctx context.Context, msg *events.InputMessage, decision *Decision, delayFactor int) {
	status := &events.StatusEvent{
		ChannelType:    msg.ChannelType,
		ChannelID:      msg.ChannelID,
		ConversationID: msg.ConversationID,
		UserID:         msg.UserID,
		Status:         decision.StatusMessage,
		ReferenceID:    decision.ReferenceID,
		Metadata:       decision.Metadata,
	}
	r.bus.Publish(ctx, events.OutputStatusType(msg.ChannelType), status, "router")

	r.setTyping(ctx, msg, true)

	delay := time.Duration(delayFactor) * r.responseDelay(decision.Priority)
	if !r.wait(ctx, delay) {
		r.logger.Debug("response abandoned during shutdown",
			"message_id", msg.MessageID)
		return
	}

	r.setTyping(ctx, msg, false)

	content, err := r.completer.Complete(ctx, msg)
	if err != nil {
		r.countFailed()
		r.logger.Error("completion failed",
			"message_id", msg.MessageID,
			"error", err)
		return
	}

	out := events.Reply(msg, content)
	out.Metadata = decision.Metadata

	if r.messages != nil && out.ConversationID != "" {
		rec := &store.Message{
			ID:             out.MessageID,
			ConversationID: out.ConversationID,
			UserID:         out.UserID,
			Role:           store.RoleAssistant,
			Content:        out.Content,
			Metadata:       out.Metadata,
			CreatedAt:      out.Timestamp,
		}
		if err := r.messages.CreateMessage(ctx, rec); err != nil {
			// The reply is still published; persistence failure costs
			// history, not delivery
			r.logger.Error("failed to persist response",
				"message_id", out.MessageID,
				"error", err)
		}
	}

	r.bus.Publish(ctx, events.OutputMessageType(msg.ChannelType), &events.MessageEvent{Message: out}, "router")
	r.countProcessed()

	r.logger.Debug("response published",
		"message_id", out.MessageID,
		"reference_message_id", out.ReferenceMessageID)
}

// setTyping publishes a typing indicator edge for conversation-scoped
// messages. Other channels have no typing surface.
func (r *Router) setTyping(ctx context.Context, msg *events.InputMessage, typing bool) {
	if msg.ConversationID == "" {
		return
	}
	r.bus.Publish(ctx, events.TypeTypingIndicator, &events.TypingEvent{
		ConversationID: msg.ConversationID,
		UserID:         msg.UserID,
		Typing:         typing,
	}, "router")
}

// responseDelay converts a priority into the artificial wait before the
// response: max(min_wait, 6 - priority) delay units. Lower priority numbers
// wait longer; the inverted scale is intentional.
func (r *Router) responseDelay(priority int) time.Duration {
	if priority < 1 {
		priority = 1
	}
	if priority > 5 {
		priority = 5
	}
	units := 6 - priority
	if units < r.cfg.MinWait {
		units = r.cfg.MinWait
	}
	return time.Duration(units) * r.cfg.DelayUnit
}

// wait sleeps for d, returning false if the router is stopping.
func (r *Router) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-r.stop:
		return false
	case <-ctx.Done():
		return false
	}
}

func (r *Router) countProcessed() {
	r.mu.Lock()
	r.processed++
	r.mu.Unlock()
}

func (r *Router) countFailed() {
	r.mu.Lock()
	r.failed++
	r.mu.Unlock()
}
