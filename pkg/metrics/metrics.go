// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package metrics exposes the module's Prometheus instrumentation: the
// small set of gauges and counters that let an operator see session
// health and proxy traffic without reading logs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the collectors the registry and engine report into.
// Construct one with NewMetrics and pass it down, rather than relying
// on the default global registry, so tests can use their own.
type Metrics struct {
	SessionsOpen           prometheus.Gauge
	SessionsErroredTotal    prometheus.Counter
	ProxyRequestsTotal      *prometheus.CounterVec
	TunnelInitAttemptsTotal prometheus.Counter
}

// NewMetrics registers every collector against reg and returns the
// bundle. Pass prometheus.NewRegistry() in tests to avoid colliding
// with the default global registry across parallel test binaries.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SessionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "l8tunnel_sessions_open",
			Help: "Number of provider sessions currently in the OPEN state.",
		}),
		SessionsErroredTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "l8tunnel_sessions_errored_total",
			Help: "Total number of provider sessions that transitioned to ERRORED.",
		}),
		ProxyRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "l8tunnel_proxy_requests_total",
			Help: "Total /proxy attempts by outcome (delivered, proxy_error, needs_rotation, aborted).",
		}, []string{"outcome"}),
		TunnelInitAttemptsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "l8tunnel_tunnel_init_attempts_total",
			Help: "Total tunnel initializations started across all providers; retries inside one initialization are not counted separately.",
		}),
	}
}
