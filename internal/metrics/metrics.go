// Package metrics declares the relay's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "murelay_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "murelay_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		},
		[]string{"method", "path"},
	)

	// Pipeline metrics
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "murelay_messages_processed_total",
			Help: "Messages run through the processor, by outcome",
		},
		[]string{"outcome"}, // "executed", "cached", or an error kind
	)

	SequencerSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "murelay_sequencer_submissions_total",
			Help: "Interactions submitted to the sequencer, by result",
		},
		[]string{"result"}, // "ok", "rejected", "unavailable"
	)

	ComputeFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "murelay_compute_fetches_total",
			Help: "Outbox fetches from compute nodes, by result",
		},
		[]string{"node", "result"},
	)

	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "murelay_retries_total",
			Help: "Retried leaf calls, by operation",
		},
		[]string{"op"},
	)

	CrankNodes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "murelay_crank_nodes",
			Help:    "Nodes in a crank result tree",
			Buckets: prometheus.ExponentialBuckets(1, 2, 11),
		},
	)

	CrankDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "murelay_crank_duration_seconds",
			Help:    "Wall time of a crank, by final status",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"status"},
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "murelay_store_latency_seconds",
			Help:    "Cache store operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
		[]string{"op"},
	)
)
