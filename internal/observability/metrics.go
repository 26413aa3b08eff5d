package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ride_dispatch"

var (
	MatchesTotal       = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "matches_total", Help: "Candidate searches that returned at least one driver"})
	MatchLatency       = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "match_latency_seconds", Help: "Candidate search latency seconds"})
	CandidatesReturned = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "candidates_returned", Help: "Candidates returned per search", Buckets: []float64{0, 1, 2, 5, 10, 20, 50}})
	SourceErrorsTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "driver_source_errors_total", Help: "Driver-location source failures"})
	DriverUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "driver_location_updates_total", Help: "Driver location updates accepted"})

	RidesCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rides_created_total", Help: "Rides created"},
		[]string{"vehicle_class"},
	)
	RideTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_transitions_total", Help: "Committed ride status transitions"},
		[]string{"from", "to"},
	)
	RideTransitionConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "ride_transition_conflicts_total", Help: "Conditional ride updates that lost a race and were re-evaluated"})
	RideEventPublishErrors  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "ride_event_publish_errors_total", Help: "Ride events that could not be published"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
