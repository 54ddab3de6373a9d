// Package metrics holds the Prometheus collectors and the tracer shared by the
// indexing pipeline, the query engine and the HTTP layer.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Prometheus metrics
var (
	ChunksIndexed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ragassist_chunks_indexed_total",
			Help: "Total number of chunks embedded and registered in the vector index",
		},
	)

	OrphanVectors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ragassist_orphan_vectors_total",
			Help: "Vectors appended to the index whose registry write failed",
		},
	)

	IndexVectors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ragassist_index_vectors",
			Help: "Number of vectors currently held by the vector index",
		},
	)

	RetrievalDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ragassist_retrieval_duration_seconds",
			Help:    "Time spent embedding the query, searching and hydrating hits",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
	)

	GenerationRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragassist_generation_requests_total",
			Help: "Generation backend calls by provider, mode and outcome",
		},
		[]string{"provider", "mode", "outcome"},
	)

	GenerationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ragassist_generation_duration_seconds",
			Help:    "Latency of generation backend calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~200s
		},
		[]string{"provider", "mode"},
	)

	GuardrailRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ragassist_guardrail_rejections_total",
			Help: "Questions answered with the insufficient-context message without calling a backend",
		},
	)

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragassist_http_requests_total",
			Help: "HTTP requests by method, route pattern and status code",
		},
		[]string{"method", "route", "status"},
	)
)

// Registry holds every ragassist collector plus the Go and process collectors.
var Registry = prometheus.NewRegistry()

// Tracer is the OpenTelemetry tracer for ragassist spans.
var Tracer = otel.Tracer("ragassist")

func init() {
	Registry.MustRegister(
		ChunksIndexed,
		OrphanVectors,
		IndexVectors,
		RetrievalDuration,
		GenerationRequests,
		GenerationDuration,
		GuardrailRejections,
		HTTPRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// StartSpan starts a span with the given attributes.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
