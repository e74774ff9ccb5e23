// Package router consumes inbound messages from a bounded queue, makes a
// routing decision, and publishes status and response events back through the
// event bus.
//
// # Overview
//
// One background worker dequeues messages in order, so responses within a
// conversation never overtake each other. ProcessInput is fire-and-forget for
// the caller: it reports whether the message was accepted into the queue, not
// whether it was processed.
//
// Per message the worker runs the state machine
//
//	QUEUED -> DECIDING -> {RESPONDING | PROCESSING | DELEGATING | IGNORED} -> DONE
//
// and any failure while handling a single message is caught, logged, and
// isolated to that message.
//
// # Decisions
//
// A Policy maps each message to a Decision (action, priority 1..5, status
// text, correlation metadata). The default StubPolicy always responds at
// priority 3 with a generic processing notice. On RESPOND the worker emits a
// status event immediately, toggles the typing indicator, waits the
// priority-derived delay (max(min_wait, 6-priority) delay units; the inverted
// scale is intentional and kept from the original behavior), persists the
// assistant reply, and publishes it. PROCESS and DELEGATE share the output
// contract with a doubled delay profile; IGNORE logs and produces nothing.
//
// # Completion
//
// Response content comes from a Completer, the stand-in for the language
// model call. The default EchoCompleter answers "ECHO: " plus the inbound
// content. Real model integration lives behind the same interface.
package router
