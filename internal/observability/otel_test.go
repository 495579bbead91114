package observability

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func reportingServiceConfig() Config {
	return Config{
		ServiceName:    "reportql-test",
		ServiceVersion: "0.0.0",
		Environment:    "test",
	}
}

func TestInitMeterProvider_PrometheusExporter(t *testing.T) {
	mp, err := InitMeterProvider(reportingServiceConfig())
	require.NoError(t, err)
	require.NotNil(t, mp)
	require.NotNil(t, mp.provider)
	require.NotNil(t, mp.exporter)

	assert.NoError(t, mp.Shutdown(context.Background(), discardLogger()))
}

func TestInitMetrics_QueryInstruments(t *testing.T) {
	mp, err := InitMeterProvider(reportingServiceConfig())
	require.NoError(t, err)
	defer func() { _ = mp.Shutdown(context.Background(), discardLogger()) }()

	metrics, err := InitMetrics(discardLogger())
	require.NoError(t, err)
	require.NotNil(t, metrics)

	// Every instrument the query pipeline records against must exist.
	require.NotNil(t, metrics.compileDuration)
	require.NotNil(t, metrics.compileCounter)
	require.NotNil(t, metrics.compileErrors)
	require.NotNil(t, metrics.executeDuration)
	require.NotNil(t, metrics.resultRows)
	require.NotNil(t, metrics.cacheHits)
	require.NotNil(t, metrics.cacheMisses)
	require.NotNil(t, metrics.activeJobs)
	require.NotNil(t, metrics.jobsSubmitted)
	require.NotNil(t, metrics.jobsFailed)
}

func TestBuildTLSConfig_Errors(t *testing.T) {
	t.Run("missing ca file", func(t *testing.T) {
		_, err := buildTLSConfig(OTLPExporterConfig{TLSCertFile: "/nonexistent/ca.pem"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read OTLP TLS CA file")
	})

	t.Run("non-pem ca payload", func(t *testing.T) {
		path := t.TempDir() + "/ca.pem"
		require.NoError(t, os.WriteFile(path, []byte("plain text"), 0600))

		_, err := buildTLSConfig(OTLPExporterConfig{TLSCertFile: path})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse OTLP TLS CA file")
	})

	t.Run("client cert without key", func(t *testing.T) {
		path := t.TempDir() + "/client.crt"
		require.NoError(t, os.WriteFile(path, []byte("plain text"), 0600))

		_, err := buildTLSConfig(OTLPExporterConfig{TLSClientCertFile: path})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "OTLP TLS client cert and key must both be set")
	})
}

func TestTraceSamplerForRatio_Boundaries(t *testing.T) {
	drop := traceSamplerForRatio(0).ShouldSample(sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       trace.TraceID{1},
		Name:          "compile",
	}).Decision
	assert.Equal(t, sdktrace.Drop, drop)

	keep := traceSamplerForRatio(1).ShouldSample(sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       trace.TraceID{2},
		Name:          "compile",
	}).Decision
	assert.Equal(t, sdktrace.RecordAndSample, keep)
}

func TestTraceSamplerForRatio_FollowsRemoteParent(t *testing.T) {
	sampler := traceSamplerForRatio(0.5)

	withParent := func(sampled bool) context.Context {
		flags := trace.TraceFlags(0)
		if sampled {
			flags = trace.FlagsSampled
		}
		return trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    trace.TraceID{7},
			SpanID:     trace.SpanID{1},
			TraceFlags: flags,
			Remote:     true,
		}))
	}

	sampledChild := sampler.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: withParent(true),
		TraceID:       trace.TraceID{8},
		Name:          "execute",
	}).Decision
	assert.Equal(t, sdktrace.RecordAndSample, sampledChild)

	droppedChild := sampler.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: withParent(false),
		TraceID:       trace.TraceID{9},
		Name:          "execute",
	}).Decision
	assert.Equal(t, sdktrace.Drop, droppedChild)
}
