// Package instrumentation provides OpenTelemetry-based metrics and tracing
// for the gateway.
//
// The Provider wires a meter provider (Prometheus, OTLP, or stdout
// exporters) and a tracer provider, and exposes a Metrics recorder with
// gateway-specific instruments: HTTP request counts and latencies, active
// duplex connections, routed messages, message deliveries, liveness
// timeouts, and account-linking outcomes.
//
// All recorder methods are safe to call on a zero-value Metrics, which is
// what a disabled Provider hands out; instrumentation can therefore be
// threaded through the gateway unconditionally.
package instrumentation
