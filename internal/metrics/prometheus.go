// Package metrics exposes BetterMQ's runtime observability data to
// Prometheus scrapers.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps the prometheus collectors for a running broker.
type Metrics struct {
	registry *prometheus.Registry

	rpcTotal    *prometheus.CounterVec
	rpcDuration *prometheus.HistogramVec

	topicReady    *prometheus.GaugeVec
	topicDelayed  *prometheus.GaugeVec
	topicsCreated prometheus.Counter
	topicsRemoved prometheus.Counter

	nacksTotal prometheus.Counter
	acksTotal  prometheus.Counter

	uptime prometheus.GaugeFunc
}

var defaultBuckets = []float64{0.1, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000}

var startTime = time.Now()

var current *Metrics

// Init initializes the Prometheus metrics registry for namespace (e.g.
// "bettermq"). Safe to call once at startup.
func Init(namespace string) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,

		rpcTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rpc_requests_total",
				Help:      "Total RPC requests by method and result",
			},
			[]string{"method", "result"},
		),

		rpcDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rpc_duration_milliseconds",
				Help:      "RPC handler duration in milliseconds",
				Buckets:   defaultBuckets,
			},
			[]string{"method"},
		),

		topicReady: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "topic_ready_size",
				Help:      "Number of ready-to-deliver messages by topic",
			},
			[]string{"topic"},
		),

		topicDelayed: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "topic_delayed_size",
				Help:      "Number of delayed/leased messages by topic",
			},
			[]string{"topic"},
		),

		topicsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "topics_created_total",
				Help:      "Total topics created",
			},
		),

		topicsRemoved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "topics_removed_total",
				Help:      "Total topics removed",
			},
		),

		acksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "acks_total",
				Help:      "Total acknowledged messages",
			},
		),

		nacksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "nacks_total",
				Help:      "Total negatively-acknowledged messages",
			},
		),
	}

	m.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the broker process started",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)

	registry.MustRegister(
		m.rpcTotal,
		m.rpcDuration,
		m.topicReady,
		m.topicDelayed,
		m.topicsCreated,
		m.topicsRemoved,
		m.acksTotal,
		m.nacksTotal,
		m.uptime,
	)

	current = m
}

// RecordRPC records one RPC call's outcome and duration.
func RecordRPC(method, result string, durationMs float64) {
	if current == nil {
		return
	}
	current.rpcTotal.WithLabelValues(method, result).Inc()
	current.rpcDuration.WithLabelValues(method).Observe(durationMs)
}

// SetTopicStats updates the ready/delayed gauges for one topic.
func SetTopicStats(topic string, ready, delayed int) {
	if current == nil {
		return
	}
	current.topicReady.WithLabelValues(topic).Set(float64(ready))
	current.topicDelayed.WithLabelValues(topic).Set(float64(delayed))
}

// RecordTopicCreated increments the topics-created counter.
func RecordTopicCreated() {
	if current == nil {
		return
	}
	current.topicsCreated.Inc()
}

// RecordTopicRemoved increments the topics-removed counter.
func RecordTopicRemoved() {
	if current == nil {
		return
	}
	current.topicsRemoved.Inc()
}

// RecordAck increments the acks counter.
func RecordAck() {
	if current == nil {
		return
	}
	current.acksTotal.Inc()
}

// RecordNack increments the nacks counter.
func RecordNack() {
	if current == nil {
		return
	}
	current.nacksTotal.Inc()
}

// Handler returns an HTTP handler for Prometheus scraping.
func Handler() http.Handler {
	if current == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(current.registry, promhttp.HandlerOpts{})
}
