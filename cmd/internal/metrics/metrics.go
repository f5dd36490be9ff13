// Package metrics owns the Prometheus collectors of auth-ms.
//
// Every recording method is safe on a nil *Metrics so components can treat
// metrics as optional.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "authms"

type Metrics struct {
	reg *prometheus.Registry

	codesIssued      *prometheus.CounterVec
	codesChecked     *prometheus.CounterVec
	dispatchAttempts *prometheus.CounterVec
	dispatchQueue    prometheus.Gauge
	logins           *prometheus.CounterVec
	activations      prometheus.Counter
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry, plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		codesIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "otp_issued_total",
			Help:      "Verification codes issued, by channel kind, mode and result.",
		}, []string{"kind", "mode", "result"}),
		codesChecked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "otp_checked_total",
			Help:      "Verification code checks, by channel kind, mode and result.",
		}, []string{"kind", "mode", "result"}),
		dispatchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_attempts_total",
			Help:      "Delivery attempts, by channel kind and outcome.",
		}, []string{"kind", "outcome"}),
		dispatchQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_queue_depth",
			Help:      "Messages waiting in the in-process dispatch queue.",
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		activations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_activations_total",
			Help:      "Accounts activated by channel verification.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status class.",
		}, []string{"method", "class"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.codesIssued,
		m.codesChecked,
		m.dispatchAttempts,
		m.dispatchQueue,
		m.logins,
		m.activations,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func mode(reset bool) string {
	if reset {
		return "reset"
	}
	return "verify"
}

func (m *Metrics) CodeIssued(kind string, reset bool, result string) {
	if m == nil {
		return
	}
	m.codesIssued.WithLabelValues(kind, mode(reset), result).Inc()
}

func (m *Metrics) CodeChecked(kind string, reset bool, result string) {
	if m == nil {
		return
	}
	m.codesChecked.WithLabelValues(kind, mode(reset), result).Inc()
}

func (m *Metrics) DispatchAttempt(kind, outcome string) {
	if m == nil {
		return
	}
	m.dispatchAttempts.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.dispatchQueue.Set(float64(n))
}

func (m *Metrics) Login(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

func (m *Metrics) Activation() {
	if m == nil {
		return
	}
	m.activations.Inc()
}

func (m *Metrics) HTTPRequest(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, StatusClass(status)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(d.Seconds())
}

// StatusClass buckets a status code as "2xx", "4xx", ...
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}
