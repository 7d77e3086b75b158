package watcher

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics (registered once).
var (
	killsReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "killradar_kills_received_total",
			Help: "Kill notifications received from the feed",
		},
	)
	killsFiltered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killradar_kills_filtered_total",
			Help: "Kills dropped by a filter rule",
		},
		[]string{"rule"},
	)
	alertsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "killradar_alerts_sent_total",
			Help: "Alerts delivered to the notification sink",
		},
	)
	enrichmentFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "killradar_enrichment_failures_total",
			Help: "Kills dropped because enrichment or delivery failed",
		},
	)
	refreshFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "killradar_refresh_failures_total",
			Help: "Topology refresh ticks skipped after an error",
		},
	)
	activeSystems = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "killradar_active_systems",
			Help: "Systems on the monitored map at the last refresh",
		},
	)
	reachableSystems = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "killradar_reachable_systems",
			Help: "Systems reachable from the root at the last refresh",
		},
	)
	killMemorySize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "killradar_kill_memory_entries",
			Help: "Kills currently remembered for rally requests",
		},
	)
	rallyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "killradar_rally_requests_total",
			Help: "Rally point requests by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(killsReceived)
	prometheus.MustRegister(killsFiltered)
	prometheus.MustRegister(alertsSent)
	prometheus.MustRegister(enrichmentFailures)
	prometheus.MustRegister(refreshFailures)
	prometheus.MustRegister(activeSystems)
	prometheus.MustRegister(reachableSystems)
	prometheus.MustRegister(killMemorySize)
	prometheus.MustRegister(rallyRequests)
}
