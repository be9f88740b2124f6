// Package metrics exposes Prometheus collectors for tool dispatch, transfer
// outcomes and the HTTP facade.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aiweb3"

var (
	toolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_calls_total",
		Help:      "Tool dispatches by tool and outcome code.",
	}, []string{"tool", "code"})

	toolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tool_call_duration_seconds",
		Help:      "Tool dispatch latency.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 15, 30, 60, 120},
	}, []string{"tool"})

	transfers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transfers_total",
		Help:      "Transfer pipeline terminal states.",
	}, []string{"state"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route, method and status.",
	}, []string{"handler", "method", "code"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"handler", "method"})
)

// ObserveToolCall records one dispatch of a registered tool. code is "OK"
// on success or the error code otherwise.
func ObserveToolCall(tool, code string, duration time.Duration) {
	toolCalls.WithLabelValues(tool, code).Inc()
	toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// ObserveTransfer counts a transfer reaching a terminal state.
func ObserveTransfer(state string) {
	transfers.WithLabelValues(state).Inc()
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
