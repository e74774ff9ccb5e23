// ABOUTME: Channel types, event-name constants, and typed event payloads
// ABOUTME: Defines the internal wire contract carried across the event bus

package events

import (
	"fmt"
	"time"
)

// ChannelType is a logical delivery scope used to bucket SSE subscribers.
// It is distinct from a Go channel.
type ChannelType string

const (
	ChannelGlobal       ChannelType = "global"
	ChannelUser         ChannelType = "user"
	ChannelWorkspace    ChannelType = "workspace"
	ChannelConversation ChannelType = "conversation"
	ChannelNotification ChannelType = "notification"
)

// ParseChannelType validates a channel type string. Unknown values are a
// contract error, not a soft failure.
func ParseChannelType(s string) (ChannelType, error) {
	ct := ChannelType(s)
	if !ct.Valid() {
		return "", fmt.Errorf("unknown channel type %q", s)
	}
	return ct, nil
}

// Valid reports whether the channel type is one of the known scopes.
func (c ChannelType) Valid() bool {
	switch c {
	case ChannelGlobal, ChannelUser, ChannelWorkspace, ChannelConversation, ChannelNotification:
		return true
	}
	return false
}

func (c ChannelType) String() string { return string(c) }

// Event type names shared across the system. Channel-scoped names are built
// with OutputMessageType and OutputStatusType.
const (
	TypeTypingIndicator = "conversation.typing_indicator"
	TypeMessageReceived = "conversation.message_received"
)

// OutputMessageType returns the event type for routed response messages on
// the given channel, e.g. "output.conversation.message".
func OutputMessageType(ct ChannelType) string {
	return "output." + string(ct) + ".message"
}

// OutputStatusType returns the event type for routing status announcements on
// the given channel, e.g. "output.conversation.status".
func OutputStatusType(ct ChannelType) string {
	return "output." + string(ct) + ".status"
}

// Payload is implemented by every typed event body carried on the bus. Kind
// doubles as the SSE event name when the payload is relayed to clients.
type Payload interface {
	Kind() string
}

// MessageEvent wraps a routed OutputMessage for output.<channel>.message.
type MessageEvent struct {
	Message *OutputMessage `json:"message"`
}

func (e *MessageEvent) Kind() string { return "message" }

// StatusEvent announces routing progress for output.<channel>.status, e.g.
// the "Processing your request..." notice emitted before a response.
type StatusEvent struct {
	ChannelType    ChannelType    `json:"channel_type"`
	ChannelID      string         `json:"channel_id"`
	ConversationID string         `json:"conversation_id,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	Status         string         `json:"status"`
	ReferenceID    string         `json:"reference_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func (e *StatusEvent) Kind() string { return "status" }

// TypingEvent toggles the typing indicator for a conversation.
type TypingEvent struct {
	ConversationID string         `json:"conversation_id"`
	UserID         string         `json:"user_id,omitempty"`
	Typing         bool           `json:"typing"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func (e *TypingEvent) Kind() string { return "typing_indicator" }

// ReceivedEvent acknowledges that an inbound message was accepted and
// persisted. Other devices subscribed to the conversation use it to render
// the sender's message without polling.
type ReceivedEvent struct {
	MessageID      string         `json:"message_id"`
	ConversationID string         `json:"conversation_id"`
	UserID         string         `json:"user_id"`
	Role           string         `json:"role"`
	Content        string         `json:"content"`
	CreatedAt      time.Time      `json:"created_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func (e *ReceivedEvent) Kind() string { return "message_received" }
