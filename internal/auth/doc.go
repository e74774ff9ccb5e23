// Package auth provides JWT verification and per-channel access checks.
//
// Authentication is passthrough: the gateway verifies HS256 tokens signed
// with a shared secret and trusts the "sub" claim as the user ID. There is
// no login flow here; tokens are minted elsewhere (or by the admin CLI for
// development).
//
// [Middleware] extracts a bearer token from the Authorization header, or
// from the "token" query parameter for EventSource clients that cannot set
// headers. When require_auth is disabled, requests without credentials
// proceed as the anonymous identity; credentials that are present but
// invalid are always rejected.
//
// [ResourceAccess] decides whether an identity may subscribe to a channel:
// user and notification channels are self-only, workspace channels require
// membership, conversation channels require ownership or workspace
// membership, and the global channel admits any authenticated identity.
package auth
