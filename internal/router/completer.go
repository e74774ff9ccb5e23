// ABOUTME: Completer interface standing in for the language-model call
// ABOUTME: EchoCompleter is the baseline stub policy used until a real model is wired

package router

import (
	"context"

	"github.com/hearthchat/relay/internal/events"
)

// Completer produces response content for a routed message. It models the
// model-provider call as a black box: implementations may call out to any
// completion backend, the router only needs text back.
type Completer interface {
	Complete(ctx context.Context, msg *events.InputMessage) (string, error)
}

// DefaultEchoPrefix is prepended by EchoCompleter.
const DefaultEchoPrefix = "ECHO: "

// EchoCompleter echoes the inbound content back with a prefix. It is the
// baseline stub used in development and tests.
type EchoCompleter struct {
	// Prefix overrides DefaultEchoPrefix when non-empty.
	Prefix string
}

func (e EchoCompleter) Complete(ctx context.Context, msg *events.InputMessage) (string, error) {
	prefix := e.Prefix
	if prefix == "" {
		prefix = DefaultEchoPrefix
	}
	return prefix + msg.Content, nil
}
