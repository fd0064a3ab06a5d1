// Package observe provides OpenTelemetry metrics and tracing for VoiceCoach.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped via
// the Prometheus exporter bridge set up by [InitProvider]. Tests should use
// [NewMetrics] with their own [metric.MeterProvider] instead of
// [DefaultMetrics] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/dkeye/VoiceCoach"

// Metrics holds all metric instruments. The OTel types handle their own
// synchronisation, so a *Metrics is safe for concurrent use.
type Metrics struct {
	// ActiveSessions tracks provisioned sessions currently held in the store.
	ActiveSessions metric.Int64UpDownCounter

	// SessionsCreated counts successful createSession calls.
	SessionsCreated metric.Int64Counter

	// SessionsEnded counts removals. Attribute: reason.
	SessionsEnded metric.Int64Counter

	// ProvisionDuration tracks the latency of the start agent session call.
	ProvisionDuration metric.Float64Histogram

	// ProvisionErrors counts failed provisioning attempts. Attribute: kind.
	ProvisionErrors metric.Int64Counter

	// WebhookEvents counts inbound agent events. Attribute: outcome.
	WebhookEvents metric.Int64Counter

	// BroadcastDeliveries counts per-connection deliveries. Attribute: status.
	BroadcastDeliveries metric.Int64Counter

	// LiveConnections tracks registered events connections.
	LiveConnections metric.Int64UpDownCounter

	// HTTPRequestDuration tracks request latency. Attributes: method, route.
	HTTPRequestDuration metric.Float64Histogram
}

var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20,
}

// NewMetrics creates all instruments on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ActiveSessions, err = m.Int64UpDownCounter("voicecoach.sessions.active",
		metric.WithDescription("Number of provisioned voice sessions currently held."),
	); err != nil {
		return nil, err
	}
	if met.SessionsCreated, err = m.Int64Counter("voicecoach.sessions.created",
		metric.WithDescription("Total voice sessions provisioned."),
	); err != nil {
		return nil, err
	}
	if met.SessionsEnded, err = m.Int64Counter("voicecoach.sessions.ended",
		metric.WithDescription("Total voice sessions ended by reason."),
	); err != nil {
		return nil, err
	}
	if met.ProvisionDuration, err = m.Float64Histogram("voicecoach.provision.duration",
		metric.WithDescription("Latency of the start agent session call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProvisionErrors, err = m.Int64Counter("voicecoach.provision.errors",
		metric.WithDescription("Total failed provisioning attempts by kind."),
	); err != nil {
		return nil, err
	}
	if met.WebhookEvents, err = m.Int64Counter("voicecoach.webhook.events",
		metric.WithDescription("Total inbound agent events by outcome."),
	); err != nil {
		return nil, err
	}
	if met.BroadcastDeliveries, err = m.Int64Counter("voicecoach.broadcast.deliveries",
		metric.WithDescription("Per-connection broadcast deliveries by status."),
	); err != nil {
		return nil, err
	}
	if met.LiveConnections, err = m.Int64UpDownCounter("voicecoach.connections.live",
		metric.WithDescription("Number of registered events connections."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicecoach.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level instance built on the global
// meter provider. Panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

func (m *Metrics) RecordSessionEnded(ctx context.Context, reason string) {
	m.SessionsEnded.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	m.ActiveSessions.Add(ctx, -1)
}

func (m *Metrics) RecordSessionCreated(ctx context.Context) {
	m.SessionsCreated.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
}

func (m *Metrics) RecordProvisionError(ctx context.Context, kind string) {
	m.ProvisionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) RecordWebhookEvent(ctx context.Context, outcome string) {
	m.WebhookEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordBroadcast adds n deliveries with the given status (sent, skipped, dropped).
func (m *Metrics) RecordBroadcast(ctx context.Context, status string, n int) {
	if n == 0 {
		return
	}
	m.BroadcastDeliveries.Add(ctx, int64(n), metric.WithAttributes(attribute.String("status", status)))
}
