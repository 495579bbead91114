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

// QueryMetrics holds custom metrics for query compilation and execution
type QueryMetrics struct {
	compileDuration metric.Float64Histogram
	compileCounter  metric.Int64Counter
	compileErrors   metric.Int64Counter
	executeDuration metric.Float64Histogram
	resultRows      metric.Int64Histogram
	cacheHits       metric.Int64Counter
	cacheMisses     metric.Int64Counter
	activeJobs      metric.Int64UpDownCounter
	jobsSubmitted   metric.Int64Counter
	jobsFailed      metric.Int64Counter
}

// InitQueryMetrics initializes query-specific metrics
func InitQueryMetrics() (*QueryMetrics, error) {
	meter := otel.Meter("reportql")

	compileDuration, err := meter.Float64Histogram(
		"query.compile.duration",
		metric.WithDescription("Duration of query compilation in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create compile duration histogram: %w", err)
	}

	compileCounter, err := meter.Int64Counter(
		"query.compile.total",
		metric.WithDescription("Total number of query compilations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create compile counter: %w", err)
	}

	compileErrors, err := meter.Int64Counter(
		"query.compile.errors.total",
		metric.WithDescription("Total number of failed query compilations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create compile error counter: %w", err)
	}

	executeDuration, err := meter.Float64Histogram(
		"query.execute.duration",
		metric.WithDescription("Duration of query execution in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create execute duration histogram: %w", err)
	}

	resultRows, err := meter.Int64Histogram(
		"query.result.rows",
		metric.WithDescription("Number of rows returned by executed queries"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create result rows histogram: %w", err)
	}

	cacheHits, err := meter.Int64Counter(
		"query.cache.hits",
		metric.WithDescription("Number of result cache hits"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}

	cacheMisses, err := meter.Int64Counter(
		"query.cache.misses",
		metric.WithDescription("Number of result cache misses"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache misses counter: %w", err)
	}

	activeJobs, err := meter.Int64UpDownCounter(
		"query.jobs.active",
		metric.WithDescription("Number of background query jobs currently running"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active jobs counter: %w", err)
	}

	jobsSubmitted, err := meter.Int64Counter(
		"query.jobs.submitted.total",
		metric.WithDescription("Total number of background query jobs submitted"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create jobs submitted counter: %w", err)
	}

	jobsFailed, err := meter.Int64Counter(
		"query.jobs.failed.total",
		metric.WithDescription("Total number of background query jobs that failed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create jobs failed counter: %w", err)
	}

	return &QueryMetrics{
		compileDuration: compileDuration,
		compileCounter:  compileCounter,
		compileErrors:   compileErrors,
		executeDuration: executeDuration,
		resultRows:      resultRows,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		activeJobs:      activeJobs,
		jobsSubmitted:   jobsSubmitted,
		jobsFailed:      jobsFailed,
	}, nil
}

// RecordCompile records a query compilation with its duration and outcome.
// errorCode is empty when compilation succeeded.
func (m *QueryMetrics) RecordCompile(ctx context.Context, duration time.Duration, mode string, errorCode string) {
	attrs := []attribute.KeyValue{
		attribute.String("mode", mode),
		attribute.Bool("has_errors", errorCode != ""),
	}

	m.compileDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	m.compileCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if errorCode != "" {
		m.compileErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("error_code", errorCode),
		))
	}
}

// RecordExecution records the duration of an executed query
func (m *QueryMetrics) RecordExecution(ctx context.Context, duration time.Duration, mode string) {
	m.executeDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(
		attribute.String("mode", mode),
	))
}

// RecordResultRows records the number of rows returned
func (m *QueryMetrics) RecordResultRows(ctx context.Context, count int64, mode string) {
	m.resultRows.Record(ctx, count, metric.WithAttributes(
		attribute.String("mode", mode),
	))
}

func (m *QueryMetrics) RecordCacheHit(ctx context.Context) {
	m.cacheHits.Add(ctx, 1)
}

func (m *QueryMetrics) RecordCacheMiss(ctx context.Context) {
	m.cacheMisses.Add(ctx, 1)
}

// RecordJobSubmitted records a background job submission
func (m *QueryMetrics) RecordJobSubmitted(ctx context.Context) {
	m.jobsSubmitted.Add(ctx, 1)
	m.activeJobs.Add(ctx, 1)
}

// RecordJobFinished records a background job completion
func (m *QueryMetrics) RecordJobFinished(ctx context.Context, failed bool) {
	m.activeJobs.Add(ctx, -1)
	if failed {
		m.jobsFailed.Add(ctx, 1)
	}
}

// InitMetrics initializes all custom metrics and returns the QueryMetrics instance
func InitMetrics(logger *slog.Logger) (*QueryMetrics, error) {
	metrics, err := InitQueryMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize query metrics: %w", err)
	}

	logger.Info("custom query metrics initialized")
	return metrics, nil
}
