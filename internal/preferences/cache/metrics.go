package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var preferenceCacheLookups = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "notificationqueue",
		Subsystem: "preferences",
		Name:      "cache_lookups_total",
		Help:      "Preference cache lookups by result",
	},
	[]string{"result"},
)

func recordCacheLookup(result string) {
	preferenceCacheLookups.WithLabelValues(result).Inc()
}
