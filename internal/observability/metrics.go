package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "tidb-dataframe"

// EngineMetrics holds custom metrics for event loop passes. A nil
// *EngineMetrics records nothing.
type EngineMetrics struct {
	passCounter     metric.Int64Counter
	passErrors      metric.Int64Counter
	passDuration    metric.Float64Histogram
	entriesCounter  metric.Int64Counter
	actionsBooked   metric.Int64Histogram
	filterAccepted  metric.Int64Counter
	filterRejected  metric.Int64Counter
	activePasses    metric.Int64UpDownCounter
	lastSuccessUnix atomic.Int64
}

// InitEngineMetrics initializes event loop metrics on the global meter provider.
func InitEngineMetrics(logger *slog.Logger) (*EngineMetrics, error) {
	m, err := NewEngineMetrics(otel.Meter(meterName))
	if err != nil {
		return nil, err
	}
	logger.Info("event loop metrics initialized")
	return m, nil
}

// NewEngineMetrics creates event loop metrics on the given meter.
func NewEngineMetrics(meter metric.Meter) (*EngineMetrics, error) {
	passCounter, err := meter.Int64Counter(
		"dataframe.pass.total",
		metric.WithDescription("Total number of event loop passes"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pass counter: %w", err)
	}

	passErrors, err := meter.Int64Counter(
		"dataframe.pass.errors.total",
		metric.WithDescription("Total number of failed event loop passes"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pass error counter: %w", err)
	}

	passDuration, err := meter.Float64Histogram(
		"dataframe.pass.duration",
		metric.WithDescription("Duration of event loop passes in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pass duration histogram: %w", err)
	}

	entriesCounter, err := meter.Int64Counter(
		"dataframe.entries.total",
		metric.WithDescription("Total number of records processed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create entries counter: %w", err)
	}

	actionsBooked, err := meter.Int64Histogram(
		"dataframe.pass.actions",
		metric.WithDescription("Number of actions executed per pass"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create actions histogram: %w", err)
	}

	filterAccepted, err := meter.Int64Counter(
		"dataframe.filter.accepted.total",
		metric.WithDescription("Records accepted by named filters"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create filter accepted counter: %w", err)
	}

	filterRejected, err := meter.Int64Counter(
		"dataframe.filter.rejected.total",
		metric.WithDescription("Records rejected by named filters"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create filter rejected counter: %w", err)
	}

	activePasses, err := meter.Int64UpDownCounter(
		"dataframe.pass.active",
		metric.WithDescription("Number of event loop passes in progress"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active passes counter: %w", err)
	}

	lastSuccessGauge, err := meter.Int64ObservableGauge(
		"dataframe.pass.last_success_unix",
		metric.WithDescription("Unix timestamp of the last successful pass"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create last success gauge: %w", err)
	}

	m := &EngineMetrics{
		passCounter:    passCounter,
		passErrors:     passErrors,
		passDuration:   passDuration,
		entriesCounter: entriesCounter,
		actionsBooked:  actionsBooked,
		filterAccepted: filterAccepted,
		filterRejected: filterRejected,
		activePasses:   activePasses,
	}

	_, err = meter.RegisterCallback(
		func(ctx context.Context, observer metric.Observer) error {
			if v := m.lastSuccessUnix.Load(); v > 0 {
				observer.ObserveInt64(lastSuccessGauge, v)
			}
			return nil
		},
		lastSuccessGauge,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register last success gauge callback: %w", err)
	}
	return m, nil
}

// PassStarted marks a pass as in progress.
func (m *EngineMetrics) PassStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.activePasses.Add(ctx, 1)
}

// RecordPass records a finished pass.
func (m *EngineMetrics) RecordPass(ctx context.Context, info PassInfo, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.activePasses.Add(ctx, -1)
	attrs := []attribute.KeyValue{
		attribute.Int("slots", info.Slots),
		attribute.Bool("success", err == nil),
	}
	m.passCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.passDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	m.entriesCounter.Add(ctx, info.Entries)
	m.actionsBooked.Record(ctx, int64(info.Actions))
	if err != nil {
		m.passErrors.Add(ctx, 1)
		return
	}
	m.lastSuccessUnix.Store(time.Now().Unix())
}

// RecordFilter records the outcome of a named filter over one pass.
func (m *EngineMetrics) RecordFilter(ctx context.Context, name string, accepted, rejected uint64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("filter", name))
	m.filterAccepted.Add(ctx, int64(accepted), attrs)
	m.filterRejected.Add(ctx, int64(rejected), attrs)
}

// RequestMetrics holds metrics for the result API.
type RequestMetrics struct {
	requestDuration metric.Float64Histogram
	requestCounter  metric.Int64Counter
	errorCounter    metric.Int64Counter
	activeRequests  metric.Int64UpDownCounter
}

// InitRequestMetrics initializes result API metrics
func InitRequestMetrics() (*RequestMetrics, error) {
	meter := otel.Meter(meterName)

	requestDuration, err := meter.Float64Histogram(
		"graphql.request.duration",
		metric.WithDescription("Duration of GraphQL requests in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request duration histogram: %w", err)
	}

	requestCounter, err := meter.Int64Counter(
		"graphql.requests.total",
		metric.WithDescription("Total number of GraphQL requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"graphql.errors.total",
		metric.WithDescription("Total number of GraphQL errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}

	activeRequests, err := meter.Int64UpDownCounter(
		"graphql.requests.active",
		metric.WithDescription("Number of active GraphQL requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active requests counter: %w", err)
	}

	return &RequestMetrics{
		requestDuration: requestDuration,
		requestCounter:  requestCounter,
		errorCounter:    errorCounter,
		activeRequests:  activeRequests,
	}, nil
}

// RecordRequest records a GraphQL request with its duration and outcome
func (m *RequestMetrics) RecordRequest(ctx context.Context, duration time.Duration, hasErrors bool, operationType string) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("operation_type", operationType),
		attribute.Bool("has_errors", hasErrors),
	}
	m.requestDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	m.requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	if hasErrors {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation_type", operationType),
		))
	}
}

// IncrementActiveRequests increments the active requests counter
func (m *RequestMetrics) IncrementActiveRequests(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeRequests.Add(ctx, 1)
}

// DecrementActiveRequests decrements the active requests counter
func (m *RequestMetrics) DecrementActiveRequests(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeRequests.Add(ctx, -1)
}

// InitMetrics initializes the result API metrics
func InitMetrics(logger *slog.Logger) (*RequestMetrics, error) {
	metrics, err := InitRequestMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize request metrics: %w", err)
	}

	logger.Info("custom GraphQL metrics initialized")
	return metrics, nil
}
