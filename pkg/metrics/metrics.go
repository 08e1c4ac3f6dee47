package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Global collectors, registered via promauto so no explicit initialization
// is needed.

var (
	// HTTP requests, labeled by method, path and status code.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neurograph_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	// HTTP response time.
	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "neurograph_http_request_duration_seconds",
			Help: "Duration of HTTP requests in seconds",
			// From sub-millisecond lookups to multi-second training queries.
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)

	// Pulse queries executed, labeled by outcome ("ok", "syntax_error",
	// "validation_error", "capacity_error", "error").
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neurograph_queries_total",
			Help: "Total number of Pulse queries executed",
		},
		[]string{"outcome"},
	)

	// Propagation run duration.
	PropagationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "neurograph_propagation_duration_seconds",
			Help:    "Duration of spike propagation runs in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	// Spikes fired across all propagation runs.
	SpikesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "neurograph_spikes_total",
			Help: "Total number of node spikes fired",
		},
	)

	// Hebbian weight updates applied (simulated runs excluded).
	WeightUpdatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "neurograph_weight_updates_total",
			Help: "Total number of edge strength updates applied by learning",
		},
	)

	// Graph size.
	NodesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "neurograph_nodes_total",
			Help: "Current number of nodes in the hypergraph",
		},
	)
	EdgesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "neurograph_edges_total",
			Help: "Current number of hyperedges in the hypergraph",
		},
	)
)
