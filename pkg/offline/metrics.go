package offline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthnet_offline_fetches_total",
			Help: "Fetches answered by the offline agent, by source",
		},
		[]string{"source"},
	)

	InstallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthnet_offline_cache_installs_total",
			Help: "Cache generation installs, by outcome",
		},
		[]string{"outcome"},
	)

	SyncsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthnet_offline_syncs_total",
			Help: "Offline queue flush attempts, by outcome",
		},
		[]string{"outcome"},
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "healthnet_offline_sync_duration_seconds",
			Help:    "Duration of offline queue submissions in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	EntriesSynced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "healthnet_offline_entries_synced_total",
			Help: "Queued entries confirmed delivered to the sync endpoint",
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "healthnet_offline_queue_depth",
			Help: "Entries waiting in the offline queue",
		},
	)

	Online = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "healthnet_offline_backend_online",
			Help: "1 when the last connectivity probe reached the backend",
		},
	)
)
