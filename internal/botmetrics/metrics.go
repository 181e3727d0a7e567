// Package botmetrics exposes Prometheus counters and gauges describing the
// health of a running bot: how often its supervised services restart, how
// often its chat client connects, and how many listeners have been
// registered on it (the listener gauge is never decremented when a listener
// exits).
package botmetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors a bot updates over its lifetime.
type Metrics struct {
	SupervisorRestarts *prometheus.CounterVec
	ClientReconnects   prometheus.Counter
	ListenersConnected prometheus.Gauge
}

// New registers a fresh set of collectors against reg.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		SupervisorRestarts: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "bot_supervisor_restarts_total",
			Help: "Number of times a supervised service child has been restarted.",
		}, []string{"child"}),
		ClientReconnects: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "bot_client_reconnects_total",
			Help: "Number of times the chat client has reconnected.",
		}),
		ListenersConnected: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "bot_listeners_connected",
			Help: "Number of listeners registered on the chat client; exited listeners are not subtracted.",
		}),
	}
}

// Handler serves the registry's metrics in the Prometheus text exposition
// format, suitable for mounting at /metrics on a debug endpoint.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
