// Package metrics holds the prometheus collectors exported by the bridge.
package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bridge",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests by route class and status code",
	}, []string{"route", "code"})
	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bridge",
		Name:      "http_request_duration_seconds",
		Help:      "Histogram of HTTP request durations in seconds by route class",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
	authRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bridge",
		Name:      "auth_rejected_total",
		Help:      "Total number of API requests rejected by the authentication gate by mode",
	}, []string{"mode"})
	brandingOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bridge",
		Name:      "branding_fetch_total",
		Help:      "Branding bundle fetch attempts by outcome",
	}, []string{"outcome"})
)

// Register initializes metrics with the global Prometheus registry (idempotent)
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, authRejected, brandingOutcomes)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveRequest(route string, code int, seconds float64) {
	httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	httpDuration.WithLabelValues(route).Observe(seconds)
}

func IncAuthRejected(mode string)       { authRejected.WithLabelValues(mode).Inc() }
func IncBrandingOutcome(outcome string) { brandingOutcomes.WithLabelValues(outcome).Inc() }
