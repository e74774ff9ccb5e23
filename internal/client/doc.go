// Package client is the Go SDK for the relay gateway HTTP API.
//
// # Overview
//
// Client wraps the gateway's REST endpoints (conversations, message ingress,
// stats, experts) and its SSE event streams behind typed methods. It is used
// by relay-admin's remote subcommands and is importable by any Go program
// that talks to a gateway.
//
// # Usage
//
//	c := client.New("http://localhost:8080", client.WithToken(token))
//
//	conv, err := c.CreateConversation(ctx, client.CreateConversationRequest{
//		Title: "support",
//	})
//	if err != nil {
//		return err
//	}
//
//	ack, err := c.SendMessage(ctx, conv.ID, client.SendMessageRequest{
//		Content: "hello",
//	})
//
// # Streaming
//
// StreamEvents subscribes to one channel scope and delivers every frame to
// the handler, including the synthetic "connect" frame and periodic
// "heartbeat" frames:
//
//	err := c.StreamEvents(ctx, events.ChannelConversation, conv.ID, func(ev client.Event) {
//		fmt.Printf("%s: %s\n", ev.Type, ev.Data)
//	})
//
// The call blocks until the stream ends or ctx is cancelled. Cancellation is
// the normal way to stop tailing and returns nil.
//
// # Acknowledgements
//
// SendMessage returns an acceptance ack, not the routed response. The
// response arrives as a "message" frame on the conversation's event stream.
// Retries carrying the same metadata client_message_id receive a "duplicate"
// ack instead of creating a second message.
package client
