// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector exposes the engine's prometheus metrics.
type Collector struct {
	// HTTP
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Generation
	generationsTotal   *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	tokensStreamed     *prometheus.CounterVec

	// Symposium
	debateTurnsTotal   *prometheus.CounterVec
	interjectionsTotal *prometheus.CounterVec

	// Retrieval
	retrievalDuration prometheus.Histogram
	passagesReturned  prometheus.Histogram

	// Scheduler
	pokesTotal *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector creates a collector registered on reg. A nil reg uses the
// default registerer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.generationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Total number of backend generations",
		},
		[]string{"backend", "persona", "status"},
	)

	c.generationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Backend generation duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"backend"},
	)

	c.tokensStreamed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_streamed_total",
			Help:      "Total number of token events streamed to clients",
		},
		[]string{"backend"},
	)

	c.debateTurnsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "debate_turns_total",
			Help:      "Total number of completed debate turns",
		},
		[]string{"slot"},
	)

	c.interjectionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interjections_total",
			Help:      "Total number of moderator interjections",
		},
		[]string{"target"},
	)

	c.retrievalDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Library retrieval duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	c.passagesReturned = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_passages_returned",
			Help:      "Number of passages returned per retrieval",
			Buckets:   []float64{0, 1, 2, 3, 5, 10},
		},
	)

	c.pokesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduled_pokes_total",
			Help:      "Total number of scheduled pokes",
		},
		[]string{"status"},
	)

	return c
}

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, httpStatusLabel(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordGeneration records one finished backend generation.
func (c *Collector) RecordGeneration(backend, persona, status string, duration time.Duration, tokens int) {
	c.generationsTotal.WithLabelValues(backend, persona, status).Inc()
	c.generationDuration.WithLabelValues(backend).Observe(duration.Seconds())
	c.tokensStreamed.WithLabelValues(backend).Add(float64(tokens))
}

// RecordDebateTurn records one completed debate turn.
func (c *Collector) RecordDebateTurn(slot string) {
	c.debateTurnsTotal.WithLabelValues(slot).Inc()
}

// RecordInterjection records one moderator interjection.
func (c *Collector) RecordInterjection(target string) {
	c.interjectionsTotal.WithLabelValues(target).Inc()
}

// RecordRetrieval records one library search.
func (c *Collector) RecordRetrieval(duration time.Duration, passages int) {
	c.retrievalDuration.Observe(duration.Seconds())
	c.passagesReturned.Observe(float64(passages))
}

// RecordPoke records one scheduled poke attempt.
func (c *Collector) RecordPoke(status string) {
	c.pokesTotal.WithLabelValues(status).Inc()
}

func httpStatusLabel(status int) string {
	switch {
	case status < 200:
		return "1xx"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
