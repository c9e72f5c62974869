package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// TrafficMetrics counts requests turned away by the middleware chain.
// A nil *TrafficMetrics records nothing.
type TrafficMetrics struct {
	rateLimited  metric.Int64Counter
	corsRejected metric.Int64Counter
}

// InitTrafficMetrics initializes middleware rejection metrics
func InitTrafficMetrics() (*TrafficMetrics, error) {
	meter := otel.Meter("tidb-datatables/traffic")

	rateLimited, err := meter.Int64Counter(
		"http.rate_limited.total",
		metric.WithDescription("Total number of requests rejected by the rate limiter"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limited counter: %w", err)
	}

	corsRejected, err := meter.Int64Counter(
		"http.cors.rejected.total",
		metric.WithDescription("Total number of cross-origin requests from disallowed origins"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cors rejected counter: %w", err)
	}

	return &TrafficMetrics{rateLimited: rateLimited, corsRejected: corsRejected}, nil
}

// RecordRateLimited records a request rejected by the rate limiter.
func (m *TrafficMetrics) RecordRateLimited(ctx context.Context, path string) {
	if m == nil {
		return
	}
	m.rateLimited.Add(ctx, 1, metric.WithAttributes(attribute.String("path", path)))
}

// RecordCORSRejected records a request whose Origin is not allowed.
func (m *TrafficMetrics) RecordCORSRejected(ctx context.Context) {
	if m == nil {
		return
	}
	m.corsRejected.Add(ctx, 1)
}
