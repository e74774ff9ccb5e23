// Package gateway orchestrates the relay server components.
//
// # Overview
//
// The gateway package is the central coordinator of the relay server. It owns
// and wires all major components: the event bus, the SSE connection manager,
// the message router, the expert hub, the dedupe cache, and the store, and it
// runs the HTTP server that exposes them.
//
// # HTTP API
//
// The gateway exposes HTTP endpoints in api.go:
//
//   - GET /api/events/global - Subscribe to the global event stream
//   - GET /api/events/users/{id} - Subscribe to a user's stream (self only)
//   - GET /api/events/workspaces/{id} - Subscribe to a workspace stream (members)
//   - GET /api/events/conversations/{id} - Subscribe to a conversation stream
//   - GET /api/events/notifications/{id} - Subscribe to notifications (self only)
//   - POST /api/conversations - Create a conversation
//   - GET /api/conversations - List the caller's conversations
//   - GET /api/conversations/{id} - Fetch one conversation
//   - GET /api/conversations/{id}/messages - List messages (?limit=, ?format=html)
//   - POST /api/conversations/{id}/messages - Message ingress
//   - GET /api/experts - Expert connection statuses
//   - POST /api/experts/{name}/tools/{tool} - Invoke an expert tool
//   - GET /api/stats - Runtime statistics
//   - GET /health - Liveness check
//   - GET /ready - Readiness check
//
// # Message Ingress
//
// POST /api/conversations/{id}/messages accepts a message, persists it, and
// acknowledges with 202 before the response is produced:
//
//  1. Validate the body and the caller's access to the conversation
//  2. Suppress duplicates by metadata.client_message_id
//  3. Persist the user message and publish conversation.message_received
//  4. Enqueue an InputMessage for the router (full queue replies 503)
//
// The routed response arrives asynchronously on the conversation's SSE
// stream.
//
// # Event Bridge
//
// bridge.go subscribes the SSE manager to the bus. Routed messages, statuses,
// and received acknowledgements are relayed into the matching channel bucket
// and retained for replay; typing indicators are relayed but never replayed.
// The SSE frame name is the payload kind:
//
//	event: message
//	data: {"message": {"message_id": "...", "content": "ECHO: hi", ...}}
//
//	event: typing_indicator
//	data: {"conversation_id": "...", "typing": true}
//
// # Lifecycle
//
// Start the gateway:
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx)
//
// Run blocks until ctx is canceled or the server fails, then performs a
// graceful shutdown bounded by server.shutdown_grace.
//
// # Key Files
//
//   - gateway.go: Gateway struct, initialization, Run/Shutdown
//   - api.go: HTTP handlers
//   - bridge.go: bus to SSE relay subscriptions
package gateway
