// ABOUTME: Bridges bus events onto SSE connections scoped by channel and resource
// ABOUTME: Durable event kinds are retained for replay; typing indicators are not

package gateway

import (
	"context"
	"fmt"

	"github.com/hearthchat/relay/internal/events"
)

// startBridges subscribes relay handlers for every event type that reaches
// clients: routed messages and statuses on all five channel scopes, plus
// typing indicators and ingress acknowledgements on conversations. Returns
// the subscription ids so Shutdown can detach them.
func (g *Gateway) startBridges() []string {
	channelTypes := []events.ChannelType{
		events.ChannelGlobal,
		events.ChannelUser,
		events.ChannelWorkspace,
		events.ChannelConversation,
		events.ChannelNotification,
	}

	subs := make([]string, 0, 2*len(channelTypes)+2)
	for _, ct := range channelTypes {
		subs = append(subs, g.bus.Subscribe(events.OutputMessageType(ct), g.relayMessage))
		subs = append(subs, g.bus.Subscribe(events.OutputStatusType(ct), g.relayStatus))
	}
	subs = append(subs, g.bus.Subscribe(events.TypeTypingIndicator, g.relayTyping))
	subs = append(subs, g.bus.Subscribe(events.TypeMessageReceived, g.relayReceived))
	return subs
}

// relayMessage forwards a routed response to the subscribers of its channel.
// Messages are retained for replay so a client that reconnects still sees
// the response it was waiting for.
func (g *Gateway) relayMessage(ctx context.Context, evt events.Event) error {
	payload, ok := evt.Payload.(*events.MessageEvent)
	if !ok || payload.Message == nil {
		return fmt.Errorf("unexpected payload %T for %s", evt.Payload, evt.Type)
	}
	msg := payload.Message

	delivered := g.sse.SendEvent(msg.ChannelType, msg.ChannelID, payload.Kind(), payload, true)
	g.logger.Debug("relayed message event",
		"event_type", evt.Type,
		"channel_type", msg.ChannelType,
		"channel_id", msg.ChannelID,
		"delivered", delivered)
	return nil
}

// relayStatus forwards a routing status announcement. Statuses are retained
// for replay alongside the message they precede.
func (g *Gateway) relayStatus(ctx context.Context, evt events.Event) error {
	payload, ok := evt.Payload.(*events.StatusEvent)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", evt.Payload, evt.Type)
	}

	g.sse.SendEvent(payload.ChannelType, payload.ChannelID, payload.Kind(), payload, true)
	return nil
}

// relayTyping forwards a typing indicator to the conversation's subscribers.
// Typing state is momentary, so it is never replayed to late joiners.
func (g *Gateway) relayTyping(ctx context.Context, evt events.Event) error {
	payload, ok := evt.Payload.(*events.TypingEvent)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", evt.Payload, evt.Type)
	}

	g.sse.SendEvent(events.ChannelConversation, payload.ConversationID, payload.Kind(), payload, false)
	return nil
}

// relayReceived forwards an ingress acknowledgement so other devices on the
// conversation render the sender's message without polling.
func (g *Gateway) relayReceived(ctx context.Context, evt events.Event) error {
	payload, ok := evt.Payload.(*events.ReceivedEvent)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", evt.Payload, evt.Type)
	}

	g.sse.SendEvent(events.ChannelConversation, payload.ConversationID, payload.Kind(), payload, true)
	return nil
}
