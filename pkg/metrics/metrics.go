package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Data-sharing metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_requests_total",
			Help: "Total number of relayed requests by protocol and outcome",
		},
		[]string{"protocol", "outcome"},
	)

	RequestsInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_requests_in_flight",
			Help: "Requests currently awaiting a driver or peer reply",
		},
		[]string{"protocol"},
	)

	// Event metrics
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_published_total",
			Help: "Event payloads fanned out to subscribers by target kind and outcome",
		},
		[]string{"target", "outcome"},
	)

	SubscriptionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_subscriptions_active",
			Help: "Event subscriptions currently held on this relay",
		},
	)

	// Asset-transfer metrics
	TransferSessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_transfer_sessions_total",
			Help: "Asset-transfer sessions by terminal outcome",
		},
		[]string{"outcome"},
	)

	TransferPhase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_transfer_phase",
			Help: "Current phase index per in-flight asset-transfer session role",
		},
		[]string{"role"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestsInFlight,
		EventsPublishedTotal,
		SubscriptionsActive,
		TransferSessionsTotal,
		TransferPhase,
	)
}

// Serve exposes the Prometheus endpoint on addr. It blocks, so run it in
// its own goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return server.ListenAndServe()
}
