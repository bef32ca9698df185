// Package metrics exposes the core's Prometheus instrumentation (§3.9):
// counters and gauges incremented inline at the call sites where the counted
// event is decided, following the CounterVec/GaugeVec registration style used across the
// pack's streaming trading services.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps the metric families used across the bus, connectivity, and
// auth packages. A single Registry is created at startup and passed down to
// the components that increment it.
type Registry struct {
	BusDropped       *prometheus.CounterVec
	Reconnects       *prometheus.CounterVec
	ChecksumFailures *prometheus.CounterVec
	TokenRefreshes   *prometheus.CounterVec
	BookStaleness    *prometheus.GaugeVec
}

// NewRegistry creates and registers all metric families against reg.
// Callers typically pass prometheus.NewRegistry() to keep this core's
// metrics isolated from the default global registry.
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		BusDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deskbot_bus_dropped_total",
			Help: "Messages or commands dropped because a bus channel was full.",
		}, []string{"stream", "variant"}),

		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deskbot_reconnects_total",
			Help: "WebSocket session reconnect attempts by session name.",
		}, []string{"session"}),

		ChecksumFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deskbot_checksum_failures_total",
			Help: "Order book checksum mismatches by symbol.",
		}, []string{"symbol"}),

		TokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deskbot_token_refreshes_total",
			Help: "Auth token fetch attempts by result.",
		}, []string{"result"}),

		BookStaleness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "deskbot_book_staleness_seconds",
			Help: "Seconds since the order book for a symbol last matched its checksum.",
		}, []string{"symbol"}),
	}

	reg.MustRegister(m.BusDropped, m.Reconnects, m.ChecksumFailures, m.TokenRefreshes, m.BookStaleness)
	return m
}

// Handler returns the HTTP handler serving gathered metrics in the
// Prometheus text exposition format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
