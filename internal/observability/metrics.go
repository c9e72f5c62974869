package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Request outcomes recorded on view metrics.
const (
	OutcomeOK          = "ok"
	OutcomeRejected    = "rejected"
	OutcomeNotFound    = "not_found"
	OutcomeSourceError = "source_error"
	OutcomeTooLarge    = "too_large"
)

// ViewMetrics holds metrics for protocol and export requests against views.
// A nil *ViewMetrics records nothing.
type ViewMetrics struct {
	requestDuration metric.Float64Histogram
	requestCounter  metric.Int64Counter
	rejectedCounter metric.Int64Counter
	rowsReturned    metric.Int64Histogram
	totalRecords    metric.Int64Histogram
	exportRows      metric.Int64Histogram
	activeRequests  metric.Int64UpDownCounter
}

// InitViewMetrics initializes view-specific metrics
func InitViewMetrics() (*ViewMetrics, error) {
	meter := otel.Meter("tidb-datatables")

	requestDuration, err := meter.Float64Histogram(
		"datatables.request.duration",
		metric.WithDescription("Duration of view requests in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request duration histogram: %w", err)
	}

	requestCounter, err := meter.Int64Counter(
		"datatables.requests.total",
		metric.WithDescription("Total number of view requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}

	rejectedCounter, err := meter.Int64Counter(
		"datatables.requests.rejected.total",
		metric.WithDescription("Number of view requests rejected as malformed, by parameter"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rejected counter: %w", err)
	}

	rowsReturned, err := meter.Int64Histogram(
		"datatables.rows.returned",
		metric.WithDescription("Number of rows returned in aaData"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rows returned histogram: %w", err)
	}

	totalRecords, err := meter.Int64Histogram(
		"datatables.records.total",
		metric.WithDescription("Total records reported by the row source"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create total records histogram: %w", err)
	}

	exportRows, err := meter.Int64Histogram(
		"datatables.export.rows",
		metric.WithDescription("Number of rows written to exported workbooks"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create export rows histogram: %w", err)
	}

	activeRequests, err := meter.Int64UpDownCounter(
		"datatables.requests.active",
		metric.WithDescription("Number of in-flight view requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active requests counter: %w", err)
	}

	return &ViewMetrics{
		requestDuration: requestDuration,
		requestCounter:  requestCounter,
		rejectedCounter: rejectedCounter,
		rowsReturned:    rowsReturned,
		totalRecords:    totalRecords,
		exportRows:      exportRows,
		activeRequests:  activeRequests,
	}, nil
}

// RecordRequest records one view request with its duration and outcome.
func (m *ViewMetrics) RecordRequest(ctx context.Context, view, kind, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("view", view),
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	)
	m.requestDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	m.requestCounter.Add(ctx, 1, attrs)
}

// RecordRejected records a request rejected because of the named parameter.
func (m *ViewMetrics) RecordRejected(ctx context.Context, view, field string) {
	if m == nil {
		return
	}
	m.rejectedCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("view", view),
		attribute.String("field", field),
	))
}

// RecordPage records the size of a served page and the source total.
func (m *ViewMetrics) RecordPage(ctx context.Context, view string, rows int, total int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("view", view))
	m.rowsReturned.Record(ctx, int64(rows), attrs)
	m.totalRecords.Record(ctx, total, attrs)
}

// RecordExport records the number of rows written to a workbook.
func (m *ViewMetrics) RecordExport(ctx context.Context, view string, rows int) {
	if m == nil {
		return
	}
	m.exportRows.Record(ctx, int64(rows), metric.WithAttributes(attribute.String("view", view)))
}

// IncrementActiveRequests increments the active requests counter
func (m *ViewMetrics) IncrementActiveRequests(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeRequests.Add(ctx, 1)
}

// DecrementActiveRequests decrements the active requests counter
func (m *ViewMetrics) DecrementActiveRequests(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeRequests.Add(ctx, -1)
}

// InitMetrics initializes all custom metrics and returns the ViewMetrics instance
func InitMetrics(logger *slog.Logger) (*ViewMetrics, error) {
	metrics, err := InitViewMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize view metrics: %w", err)
	}

	logger.Info("custom view metrics initialized")
	return metrics, nil
}
