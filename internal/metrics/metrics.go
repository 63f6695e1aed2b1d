package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shelfie"

// Result label values.
const (
	ResultOK        = "ok"
	ResultTimeout   = "timeout"
	ResultNoListing = "no_listing"
	ResultNoMatches = "no_matches"
	ResultError     = "error"
)

var (
	Registry = prometheus.NewRegistry()

	Searches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "searches_total",
		Help:      "Searches by result.",
	}, []string{"result"})

	Downloads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "downloads_total",
		Help:      "Downloads by result.",
	}, []string{"result"})

	Reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconnect_attempts_total",
		Help:      "Automatic reconnection attempts.",
	})

	BytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "received_bytes_total",
		Help:      "Bytes received over DCC transfers.",
	})

	EnrichLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "enrich_lookups_total",
		Help:      "Metadata lookups by cache outcome.",
	}, []string{"outcome"})
)

func init() {
	Registry.MustRegister(Searches, Downloads, Reconnects, BytesReceived, EnrichLookups)
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
