// Package metrics exposes Prometheus counters for authentication outcomes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by the service and transport layers.
const (
	OutcomeSuccess     = "success"
	OutcomeInvalid     = "invalid_credentials"
	OutcomeDisabled    = "disabled"
	OutcomeRejected    = "rejected"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
)

// Recorder receives auth events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	RecordLogin(outcome string)
	RecordRefresh(outcome string)
	RecordAuthenticate(outcome string)
	RecordRevocations(count int)
	RecordRPC(method, code string, d time.Duration)
}

// Collector is the Prometheus Recorder.
type Collector struct {
	logins       *prometheus.CounterVec
	refreshes    *prometheus.CounterVec
	authenticate *prometheus.CounterVec
	revocations  prometheus.Counter
	rpcs         *prometheus.CounterVec
	rpcLatency   *prometheus.HistogramVec
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionkeeper_login_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionkeeper_refresh_total",
			Help: "Refresh attempts by outcome.",
		}, []string{"outcome"}),
		authenticate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionkeeper_authenticate_total",
			Help: "Access token checks by outcome.",
		}, []string{"outcome"}),
		revocations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sessionkeeper_sessions_revoked_total",
			Help: "Sessions revoked by logout, rotation or bulk invalidation.",
		}),
		rpcs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionkeeper_grpc_requests_total",
			Help: "gRPC requests by method and status code.",
		}, []string{"method", "code"}),
		rpcLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sessionkeeper_grpc_request_duration_seconds",
			Help:    "gRPC request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}

	reg.MustRegister(c.logins, c.refreshes, c.authenticate, c.revocations, c.rpcs, c.rpcLatency)
	return c
}

func (c *Collector) RecordLogin(outcome string)        { c.logins.WithLabelValues(outcome).Inc() }
func (c *Collector) RecordRefresh(outcome string)      { c.refreshes.WithLabelValues(outcome).Inc() }
func (c *Collector) RecordAuthenticate(outcome string) { c.authenticate.WithLabelValues(outcome).Inc() }

// RecordRevocations adds count to the revocation counter. Non-positive
// counts are ignored.
func (c *Collector) RecordRevocations(count int) {
	if count > 0 {
		c.revocations.Add(float64(count))
	}
}

func (c *Collector) RecordRPC(method, code string, d time.Duration) {
	c.rpcs.WithLabelValues(method, code).Inc()
	c.rpcLatency.WithLabelValues(method).Observe(d.Seconds())
}

// Handler serves the Prometheus scrape endpoint for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

type nop struct{}

// Nop returns a Recorder that discards everything.
func Nop() Recorder { return nop{} }

func (nop) RecordLogin(string)                      {}
func (nop) RecordRefresh(string)                    {}
func (nop) RecordAuthenticate(string)               {}
func (nop) RecordRevocations(int)                   {}
func (nop) RecordRPC(string, string, time.Duration) {}
