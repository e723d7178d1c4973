// Package realtime implements the duplex-connection side of the gateway:
// the per-user connection registry, the liveness monitor, the inbound
// message router, and outbound delivery.
//
// # Liveness
//
// Each accepted connection runs an independent liveness loop. Every period
// the loop either closes the connection (no liveness reply for more than a
// full period) or sends a probe; the first check fires half a period after
// connection start so a freshly opened connection is never closed before
// it has had a chance to reply once. The probe and reply are the reserved
// text frames "__ping__" and "__pong__"; both are consumed before routing
// and never reach message handlers.
//
// # Routing
//
// Inbound payloads are decoded once at the boundary into a tagged union
// (open, service message, application message). The "open" handshake gates
// everything else: until a connection has successfully authenticated via
// open, service and application messages on it are dropped with a warning.
//
// # Delivery
//
// Outbound messages are serialized exactly once and written either to the
// single connection bound to an execution context (unicast) or to every
// registered session of the context's user (multicast); the wire shape is
// identical in both modes.
package realtime
