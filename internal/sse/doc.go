// Package sse tracks live Server-Sent-Event subscribers and streams queued
// events to them.
//
// # Overview
//
// The Manager keys connections by (channel type, resource id): the global
// channel is a flat list, every other channel is a map of resource id to its
// connections. Each connection owns a bounded delivery queue; SendEvent looks
// up the exact bucket and pushes an envelope to every connection in it. There
// is deliberately no fallback to a broader audience on a miss, so events can
// never leak across resources.
//
// # Delivery Semantics
//
// Queue writes are non-blocking: when a consumer stalls and its queue fills,
// new envelopes for that connection are dropped and counted rather than
// blocking the publisher. Events sent with the republish flag are retained in
// a small per-resource replay ring and handed to connections that register
// later, marked as republished, which gives reconnecting clients
// at-least-once delivery of recent traffic.
//
// # Streaming
//
// Serve writes the wire protocol: a synthetic connect frame first, then one
// frame per envelope, with heartbeat frames injected on an interval by a
// companion goroutine so idle connections stay alive through proxies. On
// client disconnect the heartbeat goroutine is signalled and awaited with a
// short grace timeout, and the connection is removed from the manager.
//
//	mgr := sse.NewManager(sse.Config{}, logger)
//	conn, err := mgr.Register(events.ChannelConversation, "conv-123", "user-1")
//	...
//	err = mgr.Serve(w, r, conn)
package sse
