package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AdviceLatency measures time from request to advisory
	AdviceLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cropguard_advice_latency_seconds",
			Help:    "Advisory latency in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.002, 0.005, 0.01, 0.025, 0.05},
		},
		[]string{"transport"},
	)

	// Requests counts recommendation requests by outcome
	Requests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cropguard_recommendation_requests_total",
			Help: "Total number of recommendation requests",
		},
		[]string{"transport", "outcome"},
	)

	// RuleMatches counts matched rules
	RuleMatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cropguard_rule_matches_total",
			Help: "Total number of matched rules",
		},
		[]string{"rule_type"},
	)

	// TreePredictions counts decision tree predictions
	TreePredictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cropguard_tree_predictions_total",
			Help: "Total number of decision tree predictions",
		},
		[]string{"model"},
	)

	// CacheLookups counts advisory cache hits and misses
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cropguard_advisory_cache_lookups_total",
			Help: "Advisory cache lookups",
		},
		[]string{"result"},
	)

	// CatalogVersion exposes the live rule catalog version
	CatalogVersion = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cropguard_rule_catalog_version",
			Help: "Version of the rule catalog currently served",
		},
	)

	// CatalogReloads counts hot reloads of the rule catalog file
	CatalogReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cropguard_rule_catalog_reloads_total",
			Help: "Rule catalog reload attempts",
		},
		[]string{"outcome"},
	)

	// StorageLatency measures audit write latency
	StorageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cropguard_audit_storage_latency_seconds",
			Help:    "Database latency for advisory audit records in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
		[]string{"operation"},
	)
)
