// Package dedupe suppresses duplicate message submissions using a TTL and
// size bounded cache of client-supplied message ids.
package dedupe
