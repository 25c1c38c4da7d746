// Package metrics holds the Prometheus collectors of the content layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farmstay_cache_hits_total",
		Help: "Cache reads served from the store.",
	}, []string{"store"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farmstay_cache_misses_total",
		Help: "Cache reads that found nothing usable.",
	}, []string{"store"})

	Invalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farmstay_cache_invalidations_total",
		Help: "Invalidation passes, by resource type (\"all\" for full clears).",
	}, []string{"kind"})

	FallbackReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farmstay_fallback_reads_total",
		Help: "Reads answered from the static snapshot because the API was unavailable.",
	}, []string{"kind"})

	SimulatedWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "farmstay_simulated_writes_total",
		Help: "Creates that could not reach the API and were simulated locally.",
	}, []string{"kind"})
)
