package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys.
const (
	attrMethod = "method"
	attrRoute  = "route"
	attrStatus = "status"
	attrKind   = "kind"
	attrResult = "result"
	attrMode   = "mode"
	attrStep   = "step"
)

// Metrics provides methods for recording gateway observability metrics.
// The zero value is a no-op recorder.
type Metrics struct {
	// HTTP dispatcher metrics
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram

	// Duplex connection metrics
	activeConnections     metric.Int64UpDownCounter
	messagesTotal         metric.Int64Counter
	deliveriesTotal       metric.Int64Counter
	livenessTimeoutsTotal metric.Int64Counter

	// Account-linking metrics
	linkStepsTotal metric.Int64Counter
}

// NewMetrics creates a Metrics instance with all instruments initialized.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.httpRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}

	m.activeConnections, err = meter.Int64UpDownCounter(
		"gateway_connections_active",
		metric.WithDescription("Number of registered duplex connections"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway_connections_active gauge: %w", err)
	}

	m.messagesTotal, err = meter.Int64Counter(
		"gateway_messages_total",
		metric.WithDescription("Total number of inbound connection messages routed"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway_messages_total counter: %w", err)
	}

	m.deliveriesTotal, err = meter.Int64Counter(
		"gateway_deliveries_total",
		metric.WithDescription("Total number of outbound message deliveries"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway_deliveries_total counter: %w", err)
	}

	m.livenessTimeoutsTotal, err = meter.Int64Counter(
		"gateway_liveness_timeouts_total",
		metric.WithDescription("Connections closed for missing liveness replies"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway_liveness_timeouts_total counter: %w", err)
	}

	m.linkStepsTotal, err = meter.Int64Counter(
		"account_link_steps_total",
		metric.WithDescription("Account-linking state machine step outcomes"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create account_link_steps_total counter: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with method, route suffix,
// status code, and duration.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, duration time.Duration) {
	if m.httpRequestsTotal == nil || m.httpRequestDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrMethod, method),
		attribute.String(attrRoute, route),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	}

	m.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// ConnectionRegistered increments the active connection gauge.
func (m *Metrics) ConnectionRegistered(ctx context.Context) {
	if m.activeConnections == nil {
		return
	}
	m.activeConnections.Add(ctx, 1)
}

// ConnectionUnregistered decrements the active connection gauge.
func (m *Metrics) ConnectionUnregistered(ctx context.Context) {
	if m.activeConnections == nil {
		return
	}
	m.activeConnections.Add(ctx, -1)
}

// RecordMessage records one routed inbound message.
// kind is the message classification (open, service, app, malformed);
// result is one of "success", "error", "dropped".
func (m *Metrics) RecordMessage(ctx context.Context, kind, result string) {
	if m.messagesTotal == nil {
		return
	}
	m.messagesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrKind, kind),
		attribute.String(attrResult, result),
	))
}

// RecordDelivery records outbound deliveries.
// mode is "unicast" or "multicast"; count is the number of connections
// the message was written to.
func (m *Metrics) RecordDelivery(ctx context.Context, mode string, count int) {
	if m.deliveriesTotal == nil {
		return
	}
	m.deliveriesTotal.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String(attrMode, mode),
	))
}

// RecordLivenessTimeout records a connection closed for failing liveness.
func (m *Metrics) RecordLivenessTimeout(ctx context.Context) {
	if m.livenessTimeoutsTotal == nil {
		return
	}
	m.livenessTimeoutsTotal.Add(ctx, 1)
}

// RecordLinkStep records one account-linking state machine step outcome.
// step is one of the LinkStep constants; result is "success" or "error".
func (m *Metrics) RecordLinkStep(ctx context.Context, step, result string) {
	if m.linkStepsTotal == nil {
		return
	}
	m.linkStepsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrStep, step),
		attribute.String(attrResult, result),
	))
}
