// ABOUTME: InputMessage and OutputMessage structs routed through the system
// ABOUTME: Inbound messages are immutable once queued; outbound are published once

package events

import (
	"time"

	"github.com/google/uuid"
)

// InputMessage is an inbound user or system message. It is created once per
// ingress action and consumed exactly once by the router.
type InputMessage struct {
	MessageID      string         `json:"message_id"`
	ChannelID      string         `json:"channel_id"`
	ChannelType    ChannelType    `json:"channel_type"`
	Content        string         `json:"content"`
	UserID         string         `json:"user_id"`
	WorkspaceID    string         `json:"workspace_id,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// NewInputMessage builds an InputMessage with a fresh id and timestamp.
func NewInputMessage(ct ChannelType, channelID, userID, content string) *InputMessage {
	return &InputMessage{
		MessageID:   uuid.New().String(),
		ChannelID:   channelID,
		ChannelType: ct,
		Content:     content,
		UserID:      userID,
		Timestamp:   time.Now().UTC(),
	}
}

// OutputMessage is a routed response produced by the router. Multiple SSE
// subscribers may each receive a copy; the struct itself is published once.
type OutputMessage struct {
	MessageID          string         `json:"message_id"`
	ChannelID          string         `json:"channel_id"`
	ChannelType        ChannelType    `json:"channel_type"`
	Content            string         `json:"content"`
	UserID             string         `json:"user_id"`
	WorkspaceID        string         `json:"workspace_id,omitempty"`
	ConversationID     string         `json:"conversation_id,omitempty"`
	ReferenceMessageID string         `json:"reference_message_id,omitempty"`
	ContextIDs         []string       `json:"context_ids,omitempty"`
	Timestamp          time.Time      `json:"timestamp"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

// Reply builds an OutputMessage answering the given input on the same
// channel, carrying the input's id as the reference.
func Reply(in *InputMessage, content string) *OutputMessage {
	return &OutputMessage{
		MessageID:          uuid.New().String(),
		ChannelID:          in.ChannelID,
		ChannelType:        in.ChannelType,
		Content:            content,
		UserID:             in.UserID,
		WorkspaceID:        in.WorkspaceID,
		ConversationID:     in.ConversationID,
		ReferenceMessageID: in.MessageID,
		Timestamp:          time.Now().UTC(),
	}
}
