// Package metrics provides Prometheus metrics for the ledger node.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tokenledger"

// Batch and instruction outcomes.
const (
	StatusCommitted = "committed"
	StatusRejected  = "rejected"
)

// Metrics holds every collector the node exports.
type Metrics struct {
	registry *prometheus.Registry

	// Runtime
	Batches           *prometheus.CounterVec
	Instructions      *prometheus.CounterVec
	BatchLatency      prometheus.Histogram
	Slot              prometheus.Gauge
	AirdroppedTotal   prometheus.Counter
	CommitSubscribers prometheus.Gauge

	// RPC
	RPCRequests *prometheus.CounterVec
	RPCLatency  *prometheus.HistogramVec
	WSClients   prometheus.Gauge

	// Index
	IndexQueueDepth prometheus.Gauge
	IndexWrites     *prometheus.CounterVec
}

// New creates a Metrics instance on a fresh registry that also carries
// the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Batches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "batches_total",
			Help:      "Batches processed by outcome",
		}, []string{"status"}),
		Instructions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "instructions_total",
			Help:      "Instructions executed by kind and result",
		}, []string{"kind", "result"}),
		BatchLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "batch_duration_seconds",
			Help:      "Time to validate, execute and commit a batch",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		}),
		Slot: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "slot",
			Help:      "Last committed slot",
		}),
		AirdroppedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "airdropped_lamports_total",
			Help:      "Lamports credited by the faucet and genesis",
		}),
		CommitSubscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "commit_handlers",
			Help:      "Registered commit handlers",
		}),

		RPCRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "JSON-RPC requests by method and result",
		}, []string{"method", "result"}),
		RPCLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "JSON-RPC request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		WSClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "ws_clients",
			Help:      "Connected websocket clients",
		}),

		IndexQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "queue_depth",
			Help:      "Commits waiting to be written to the index",
		}),
		IndexWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "writes_total",
			Help:      "Index write attempts by result",
		}, []string{"result"}),
	}
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveBatch records one batch outcome and its latency.
func (m *Metrics) ObserveBatch(status string, started time.Time) {
	m.Batches.WithLabelValues(status).Inc()
	m.BatchLatency.Observe(time.Since(started).Seconds())
}

// ObserveInstruction records one instruction result.
func (m *Metrics) ObserveInstruction(kind, result string) {
	m.Instructions.WithLabelValues(kind, result).Inc()
}

// ObserveRPC records one JSON-RPC call.
func (m *Metrics) ObserveRPC(method string, failed bool, started time.Time) {
	result := "ok"
	if failed {
		result = "error"
	}
	m.RPCRequests.WithLabelValues(method, result).Inc()
	m.RPCLatency.WithLabelValues(method).Observe(time.Since(started).Seconds())
}
