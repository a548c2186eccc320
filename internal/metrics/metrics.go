// Shopkeeper - Multi-Tenant Small Business Management Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopkeeper

// Package metrics provides Prometheus instrumentation for the tenant
// router, subscription lifecycle, and HTTP surface.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tenant registry metrics
	RegistryCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_cache_hits_total",
			Help: "Total number of tenant registry cache hits",
		},
	)

	RegistryCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_cache_misses_total",
			Help: "Total number of tenant registry cache misses",
		},
	)

	RegistryInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_invalidations_total",
			Help: "Total number of tenant registry cache invalidations",
		},
	)

	RegistryLookupErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_lookup_errors_total",
			Help: "Total number of admin-store lookup failures (after retry)",
		},
	)

	// Connection pool metrics
	PoolClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "datastore_pool_clients",
			Help: "Current number of open datastore clients in the pool",
		},
	)

	PoolOpens = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "datastore_pool_opens_total",
			Help: "Total number of datastore clients opened",
		},
	)

	PoolEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "datastore_pool_evictions_total",
			Help: "Total number of datastore clients evicted from the pool",
		},
	)

	// Access gate metrics
	GateDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_gate_denials_total",
			Help: "Total number of access gate denials by subscription status",
		},
		[]string{"status"},
	)

	// Subscription lifecycle metrics
	SubscriptionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_transitions_total",
			Help: "Total number of committed subscription transitions",
		},
		[]string{"from", "to", "triggered_by"},
	)

	ReaperSweeps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reaper_sweeps_total",
			Help: "Total number of reaper sweep runs",
		},
	)

	ReaperAdvanced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reaper_subscriptions_advanced_total",
			Help: "Total number of subscriptions advanced by the reaper",
		},
	)

	ReaperErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reaper_errors_total",
			Help: "Total number of per-subscription reaper failures",
		},
	)

	ReaperSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reaper_sweep_duration_seconds",
			Help:    "Duration of a full reaper sweep in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Warranty resolve metrics
	WarrantyResolves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warranty_resolves_total",
			Help: "Total number of warranty token resolutions",
		},
		[]string{"outcome"}, // "resolved", "invalid"
	)

	// API endpoint metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of in-flight API requests",
		},
	)
)

// RecordAPIRequest records one completed API request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight request gauge.
func TrackActiveRequest(start bool) {
	if start {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordGateDenial records an access gate denial.
func RecordGateDenial(status string) {
	GateDenials.WithLabelValues(status).Inc()
}

// RecordTransition records a committed subscription transition.
func RecordTransition(from, to, triggeredBy string) {
	SubscriptionTransitions.WithLabelValues(from, to, triggeredBy).Inc()
}

// FormatStatusCode converts an HTTP status to its label form.
func FormatStatusCode(code int) string {
	return strconv.Itoa(code)
}
