// Package experts manages connections to external domain-expert services
// speaking the Model Context Protocol (MCP) over Streamable HTTP.
//
// # Catalog
//
// Experts are declared in a TOML catalog file. Each [[experts]] entry names
// one endpoint:
//
//	[[experts]]
//	name = "weather"
//	endpoint = "https://weather.internal:8443/mcp"
//	type = "tools"
//	enabled = true
//
// [LoadCatalog] expands ${VAR} references from the environment and rejects
// unknown fields, so typos in the catalog fail at startup rather than being
// silently ignored.
//
// # Client lifecycle
//
// Each endpoint gets one [Client]. Connecting performs the JSON-RPC
// initialize handshake, records the server's advertised capabilities, sends
// the notifications/initialized follow-up, and captures the Mcp-Session-Id
// header for subsequent requests. Disconnecting terminates the session with
// an HTTP DELETE.
//
// Clients move through StatusDisconnected, StatusConnecting, and
// StatusConnected, with StatusReconnecting and StatusError as excursions
// when the endpoint misbehaves.
//
// # Hub
//
// The [Hub] owns all clients. ConnectAll logs and records per-client
// failures without aborting the rest; a direct Connect on one client
// returns its error. A background loop probes connected clients with
// tools/list every health interval and moves failing clients into a
// reconnect cycle with exponential backoff.
//
// Outward calls made through the hub (ListTools, CallTool, ReadResource)
// run through a per-endpoint circuit breaker. While a breaker is open the
// hub fails fast with [ErrExpertUnavailable] and never touches the network.
package experts
