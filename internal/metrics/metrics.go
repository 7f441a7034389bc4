// Package metrics holds the Prometheus collectors of the authorizer and the
// reporting worker. Everything is registered on Registry, not the global default.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "threescale_authorizer"

const (
	LabelMode      = "mode"
	LabelEffect    = "effect"
	LabelPath      = "path"
	LabelResult    = "result"
	LabelOperation = "operation"
)

var Registry = prometheus.NewRegistry()

var (
	Decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decisions_total",
		Help:      "Authorization decisions by mode, effect and decision path.",
	}, []string{LabelMode, LabelEffect, LabelPath})

	Reports = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reports_total",
		Help:      "Async usage reports by mode and result.",
	}, []string{LabelMode, LabelResult})

	DispatchFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_failures_total",
		Help:      "Reporting messages that could not be handed to the async channel.",
	})

	CacheErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_errors_total",
		Help:      "Token cache backend failures by operation.",
	}, []string{LabelOperation})

	AuthorityLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "authority_request_duration_seconds",
		Help:      "Latency of calls to the 3scale backend by operation and result.",
		Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{LabelOperation, LabelResult})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		Decisions,
		Reports,
		DispatchFailures,
		CacheErrors,
		AuthorityLatency,
	)
}

// ObserveAuthority records one backend round trip.
func ObserveAuthority(operation string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	AuthorityLatency.WithLabelValues(operation, result).Observe(time.Since(start).Seconds())
}

// Handler serves Registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
