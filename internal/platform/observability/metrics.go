package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Metrics holds all application metrics
type Metrics struct {
	meter metric.Meter

	// Recommendation request metrics
	RequestsTotal   metric.Int64Counter
	RequestDuration metric.Float64Histogram

	// Cache metrics
	CacheHits      metric.Int64Counter
	CacheMisses    metric.Int64Counter
	CacheEvictions metric.Int64Counter

	// Rate limiter metrics
	RateLimitRejections metric.Int64Counter

	// Provider cascade metrics
	ProviderAttempts   metric.Int64Counter
	ProviderDuration   metric.Float64Histogram
	ProviderFallbacks  metric.Int64Counter
	CascadeExhaustions metric.Int64Counter

	// Palette extraction metrics
	ExtractionDuration     metric.Float64Histogram
	ExtractionInsufficient metric.Int64Counter

	// Diversity metrics
	DiversityScore      metric.Float64Histogram
	DiversityViolations metric.Int64Counter

	// Background task metrics
	BackgroundTasksStarted metric.Int64Counter
	BackgroundTaskFailures metric.Int64Counter

	// Incident publishing metrics
	IncidentPublishes metric.Int64Counter
	IncidentDuration  metric.Float64Histogram

	// Circuit breaker metrics
	CircuitBreakerState metric.Int64Gauge

	// Error metrics
	Errors metric.Int64Counter

	// Prometheus exporter for HTTP handler
	exporter *prometheus.Exporter
}

// NewMetrics creates a new Metrics instance
func NewMetrics(serviceName string, enabled bool) (*Metrics, error) {
	if !enabled {
		return &Metrics{}, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	meter := provider.Meter(serviceName)

	m := &Metrics{
		meter:    meter,
		exporter: exporter,
	}

	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return m, nil
}

// initMetrics creates all metric instruments
func (m *Metrics) initMetrics() error {
	var err error

	if m.RequestsTotal, err = m.meter.Int64Counter(
		"stylist_requests_total",
		metric.WithDescription("Total recommendation requests processed"),
	); err != nil {
		return err
	}

	if m.RequestDuration, err = m.meter.Float64Histogram(
		"stylist_request_duration_ms",
		metric.WithDescription("End-to-end recommendation request latency"),
	); err != nil {
		return err
	}

	if m.CacheHits, err = m.meter.Int64Counter(
		"stylist_cache_hits_total",
		metric.WithDescription("Cache hits by tier"),
	); err != nil {
		return err
	}

	if m.CacheMisses, err = m.meter.Int64Counter(
		"stylist_cache_misses_total",
		metric.WithDescription("Cache misses by tier"),
	); err != nil {
		return err
	}

	if m.CacheEvictions, err = m.meter.Int64Counter(
		"stylist_cache_evictions_total",
		metric.WithDescription("Entries evicted by LRU or TTL sweep"),
	); err != nil {
		return err
	}

	if m.RateLimitRejections, err = m.meter.Int64Counter(
		"stylist_rate_limit_rejections_total",
		metric.WithDescription("Requests rejected by the per-key rate limiter"),
	); err != nil {
		return err
	}

	if m.ProviderAttempts, err = m.meter.Int64Counter(
		"stylist_provider_attempts_total",
		metric.WithDescription("Generation provider call attempts by provider and status"),
	); err != nil {
		return err
	}

	if m.ProviderDuration, err = m.meter.Float64Histogram(
		"stylist_provider_duration_ms",
		metric.WithDescription("Generation provider call latency"),
	); err != nil {
		return err
	}

	if m.ProviderFallbacks, err = m.meter.Int64Counter(
		"stylist_provider_fallbacks_total",
		metric.WithDescription("Times the cascade advanced past a candidate"),
	); err != nil {
		return err
	}

	if m.CascadeExhaustions, err = m.meter.Int64Counter(
		"stylist_cascade_exhaustions_total",
		metric.WithDescription("Requests that exhausted every provider candidate"),
	); err != nil {
		return err
	}

	if m.ExtractionDuration, err = m.meter.Float64Histogram(
		"stylist_extraction_duration_ms",
		metric.WithDescription("Color palette extraction latency"),
	); err != nil {
		return err
	}

	if m.ExtractionInsufficient, err = m.meter.Int64Counter(
		"stylist_extraction_insufficient_total",
		metric.WithDescription("Extractions that returned insufficient signal"),
	); err != nil {
		return err
	}

	if m.DiversityScore, err = m.meter.Float64Histogram(
		"stylist_diversity_score",
		metric.WithDescription("Diversity score distribution per batch"),
	); err != nil {
		return err
	}

	if m.DiversityViolations, err = m.meter.Int64Counter(
		"stylist_diversity_violations_total",
		metric.WithDescription("Diversity violations by kind"),
	); err != nil {
		return err
	}

	if m.BackgroundTasksStarted, err = m.meter.Int64Counter(
		"stylist_background_tasks_started_total",
		metric.WithDescription("Background tasks submitted to the worker pool"),
	); err != nil {
		return err
	}

	if m.BackgroundTaskFailures, err = m.meter.Int64Counter(
		"stylist_background_task_failures_total",
		metric.WithDescription("Background task failures routed to the reporter"),
	); err != nil {
		return err
	}

	if m.IncidentPublishes, err = m.meter.Int64Counter(
		"stylist_incident_publishes_total",
		metric.WithDescription("Incident reports published by kind and status"),
	); err != nil {
		return err
	}

	if m.IncidentDuration, err = m.meter.Float64Histogram(
		"stylist_incident_publish_duration_ms",
		metric.WithDescription("Incident publish latency"),
	); err != nil {
		return err
	}

	if m.CircuitBreakerState, err = m.meter.Int64Gauge(
		"stylist_circuit_breaker_state",
		metric.WithDescription("Circuit breaker state (0=closed, 1=open, 2=half-open)"),
	); err != nil {
		return err
	}

	if m.Errors, err = m.meter.Int64Counter(
		"stylist_errors_total",
		metric.WithDescription("Errors by component"),
	); err != nil {
		return err
	}

	return nil
}

// RecordRequest records a completed recommendation request
func (m *Metrics) RecordRequest(ctx context.Context, outcome string, duration time.Duration) {
	if m.RequestsTotal == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.RequestsTotal.Add(ctx, 1, attrs)
	m.RequestDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordCacheHit records a cache hit for the given tier (l1, l2, layered)
func (m *Metrics) RecordCacheHit(ctx context.Context, tier string) {
	if m.CacheHits == nil {
		return
	}
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
}

// RecordCacheMiss records a cache miss for the given tier
func (m *Metrics) RecordCacheMiss(ctx context.Context, tier string) {
	if m.CacheMisses == nil {
		return
	}
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
}

// RecordCacheEviction records an eviction with its cause (lru, ttl)
func (m *Metrics) RecordCacheEviction(ctx context.Context, cause string) {
	if m.CacheEvictions == nil {
		return
	}
	m.CacheEvictions.Add(ctx, 1, metric.WithAttributes(attribute.String("cause", cause)))
}

// RecordRateLimitRejection records a rejected request for a key class
func (m *Metrics) RecordRateLimitRejection(ctx context.Context) {
	if m.RateLimitRejections == nil {
		return
	}
	m.RateLimitRejections.Add(ctx, 1)
}

// RecordProviderAttempt records one provider call attempt
func (m *Metrics) RecordProviderAttempt(ctx context.Context, provider, status string, duration time.Duration) {
	if m.ProviderAttempts == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	)
	m.ProviderAttempts.Add(ctx, 1, attrs)
	m.ProviderDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordProviderFallback records the cascade advancing past a candidate
func (m *Metrics) RecordProviderFallback(ctx context.Context, provider string) {
	if m.ProviderFallbacks == nil {
		return
	}
	m.ProviderFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordCascadeExhaustion records a request that used up every candidate
func (m *Metrics) RecordCascadeExhaustion(ctx context.Context) {
	if m.CascadeExhaustions == nil {
		return
	}
	m.CascadeExhaustions.Add(ctx, 1)
}

// RecordExtraction records a palette extraction run
func (m *Metrics) RecordExtraction(ctx context.Context, duration time.Duration, insufficient bool) {
	if m.ExtractionDuration == nil {
		return
	}
	m.ExtractionDuration.Record(ctx, float64(duration.Milliseconds()))
	if insufficient {
		m.ExtractionInsufficient.Add(ctx, 1)
	}
}

// RecordDiversity records a batch diversity report
func (m *Metrics) RecordDiversity(ctx context.Context, score float64, violations int) {
	if m.DiversityScore == nil {
		return
	}
	m.DiversityScore.Record(ctx, score)
	if violations > 0 {
		m.DiversityViolations.Add(ctx, int64(violations))
	}
}

// RecordBackgroundTask records a background task submission
func (m *Metrics) RecordBackgroundTask(ctx context.Context, task string) {
	if m.BackgroundTasksStarted == nil {
		return
	}
	m.BackgroundTasksStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("task", task)))
}

// RecordBackgroundFailure records a background task failure
func (m *Metrics) RecordBackgroundFailure(ctx context.Context, task string) {
	if m.BackgroundTaskFailures == nil {
		return
	}
	m.BackgroundTaskFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("task", task)))
}

// RecordIncidentPublish records an incident report publish attempt
func (m *Metrics) RecordIncidentPublish(ctx context.Context, kind, status string, duration time.Duration) {
	if m.IncidentPublishes == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	)
	m.IncidentPublishes.Add(ctx, 1, attrs)
	m.IncidentDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// SetCircuitBreakerState sets the circuit breaker state gauge
func (m *Metrics) SetCircuitBreakerState(ctx context.Context, name string, state int64) {
	if m.CircuitBreakerState == nil {
		return
	}
	m.CircuitBreakerState.Record(ctx, state, metric.WithAttributes(attribute.String("breaker", name)))
}

// RecordError records an error for a component
func (m *Metrics) RecordError(ctx context.Context, component string) {
	if m.Errors == nil {
		return
	}
	m.Errors.Add(ctx, 1, metric.WithAttributes(attribute.String("component", component)))
}

// Handler returns the HTTP handler serving Prometheus metrics
func (m *Metrics) Handler() http.Handler {
	if m.exporter == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("metrics disabled"))
		})
	}
	return promhttp.Handler()
}
