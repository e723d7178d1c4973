// Package dispatch implements the gateway's HTTP dispatcher.
//
// Handlers are registered with a verb and a path suffix and return a
// uniform Result carrying exactly one of a redirect URL, a JSON payload,
// or an explicit status with an optional raw body. The dispatcher owns the
// translation of results and errors into wire responses: client errors
// become short 4xx responses, everything else is caught at the boundary,
// logged in full, and surfaced as a generic 500 so internal detail never
// leaks to the client.
//
// Every handler invocation runs inside a fresh execution context that is
// finished on every exit path, including panics.
package dispatch
