// Package events provides the in-process publish/subscribe bus and the typed
// event vocabulary shared by the router, the SSE layer, and the HTTP gateway.
//
// # Overview
//
// The Bus is an in-memory registry of subscribers keyed by exact event-type
// strings. Publishing never blocks on subscriber execution: every handler runs
// in its own goroutine, and a panicking or failing handler is logged without
// affecting delivery to the others. Delivery is fire-once to the subscriber
// set present at publish time; there is no persistence and no redelivery.
//
// # Event Names
//
// Event types form the internal wire contract between the router and the
// delivery layer:
//
//	output.<channel_type>.message    routed response messages
//	output.<channel_type>.status     routing progress announcements
//	conversation.typing_indicator    typing indicator on/off
//	conversation.message_received    inbound message acknowledgments
//
// Use OutputMessageType and OutputStatusType to build the channel-scoped
// names rather than formatting strings by hand.
//
// # Payloads
//
// Event payloads are typed structs (MessageEvent, StatusEvent, TypingEvent,
// ReceivedEvent) implementing the Payload interface. Each carries an optional
// Metadata map as the escape hatch for frontend-specific extras, so the typed
// core stays closed while the edges stay open.
//
// # Usage
//
//	bus := events.NewBus(logger)
//	subID := bus.Subscribe(events.TypeMessageReceived, func(ctx context.Context, evt events.Event) error {
//	    rcv := evt.Payload.(*events.ReceivedEvent)
//	    ...
//	    return nil
//	})
//	bus.Publish(ctx, events.TypeMessageReceived, &events.ReceivedEvent{...}, "ingress")
//	bus.Unsubscribe(subID)
package events
