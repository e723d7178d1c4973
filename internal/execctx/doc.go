// Package execctx implements the per-request execution context.
//
// Every unit of work the gateway performs, whether an inbound HTTP request
// or a single message on a duplex connection, runs inside exactly one
// Context. The context carries a correlation id, an immutable snapshot of
// the server configuration, and the authenticated user and bound
// connection once they are known. It is finalized exactly once via Finish,
// which reports any accumulated error, and is discarded afterwards.
package execctx
