// Package metrics registers the process-wide Prometheus collectors. All
// counters live on the default registry and are served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "aragora"

var (
	// DebatesStarted counts debates admitted by the debate service.
	DebatesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "debates_started_total",
		Help:      "Debates admitted for execution.",
	})

	// DebatesCompleted counts sealed debates by terminal outcome.
	DebatesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "debates_completed_total",
		Help:      "Debates sealed, labeled by outcome.",
	}, []string{"outcome"})

	// EventsPublished counts events accepted by the bus, by type.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_published_total",
		Help:      "Events appended to the durable log and broadcast.",
	}, []string{"type"})

	// TokenDeltas counts streamed token delta events.
	TokenDeltas = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_deltas_total",
		Help:      "Token delta events streamed by agents.",
	})

	// WSConnections tracks currently open WebSocket connections.
	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_connections",
		Help:      "Open WebSocket connections.",
	})

	// HTTPRequests counts API requests by method, route, and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests served, labeled by method, route, and status.",
	}, []string{"method", "route", "status"})

	// RateLimited counts requests rejected by the rate limiter.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Requests rejected with 429.",
	})
)
