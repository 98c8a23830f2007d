package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectionState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ordersync_connection_state",
		Help: "Realtime channel state (0=disconnected, 1=connecting, 2=connected, 3=auth_failed).",
	})
	ReconnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ordersync_reconnect_attempts_total",
		Help: "Total reconnection attempts scheduled after a transport failure.",
	})
	AuthFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ordersync_auth_failures_total",
		Help: "Total handshakes rejected for authentication reasons.",
	})

	EmitsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ordersync_emits_dropped_total",
		Help: "Total outbound events dropped, by reason.",
	}, []string{"reason"})
	EventsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ordersync_events_received_total",
		Help: "Total inbound data events, by event name.",
	}, []string{"event"})

	CacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ordersync_cache_hits_total",
		Help: "Total cache reads served from memory.",
	}, []string{"cache"})
	CacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ordersync_cache_misses_total",
		Help: "Total cache reads that required a fetch.",
	}, []string{"cache"})
	CacheFetchErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ordersync_cache_fetch_errors_total",
		Help: "Total failed cache fetches.",
	}, []string{"cache"})

	PollerRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ordersync_poller_refreshes_total",
		Help: "Total degraded-mode partition refreshes, by result.",
	}, []string{"source", "result"})

	LocationsWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ordersync_locations_written_total",
		Help: "Total location updates persisted.",
	})
	LocationsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ordersync_locations_dropped_total",
		Help: "Total location updates dropped before persistence, by reason.",
	}, []string{"reason"})
	WriterFlushSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ordersync_writer_flush_seconds",
		Help:    "Duration of location batch flushes.",
		Buckets: prometheus.DefBuckets,
	})
)

var registerOnce sync.Once

// Register adds all collectors to the default registry. Safe to call more
// than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ConnectionState, ReconnectAttempts, AuthFailures,
			EmitsDropped, EventsReceived,
			CacheHits, CacheMisses, CacheFetchErrors,
			PollerRefreshes,
			LocationsWritten, LocationsDropped, WriterFlushSeconds,
		)
	})
}

// Handler returns the scrape handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
