// Package metrics defines the Prometheus collectors the ACL engine exposes:
// decision counts by outcome and identity kind, quota denials, rate-limit trips, and
// permission-cache hit/miss counts.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// DecisionsTotal counts ACL dispatcher decisions by outcome ("allow"/"deny")
// and the identity kind that produced them.
var DecisionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "aclmeter",
		Subsystem: "acl",
		Name:      "decisions_total",
		Help:      "Total number of ACL check decisions by outcome and identity kind.",
	},
	[]string{"outcome", "identity"},
)

// AuthFailuresTotal counts basic-auth (JWT) verification failures.
var AuthFailuresTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "aclmeter",
		Subsystem: "auth",
		Name:      "failures_total",
		Help:      "Total number of basic-auth JWT verification failures.",
	},
)

// QuotaDeniedTotal counts reads denied for crossing a capability's monthly
// byte quota, labeled by organization and capability.
var QuotaDeniedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "aclmeter",
		Subsystem: "quota",
		Name:      "denied_total",
		Help:      "Total number of reads denied for exceeding the metered-capability byte quota.",
	},
	[]string{"org", "capability"},
)

// MeteredBytesTotal accumulates read bytes metered per organization and
// capability, mirroring the in-memory cap_usage counters.
var MeteredBytesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "aclmeter",
		Subsystem: "quota",
		Name:      "metered_bytes_total",
		Help:      "Total read bytes metered per organization and capability.",
	},
	[]string{"org", "capability"},
)

// RateLimitTrippedTotal counts clients moved into the limited state by the
// write rate limiter.
var RateLimitTrippedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "aclmeter",
		Subsystem: "ratelimit",
		Name:      "tripped_total",
		Help:      "Total number of clients placed into the firewall limit set for exceeding the burst threshold.",
	},
)

// RateLimitClearedTotal counts clients released from the limited state by
// the decay sweep.
var RateLimitClearedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "aclmeter",
		Subsystem: "ratelimit",
		Name:      "cleared_total",
		Help:      "Total number of clients released from the firewall limit set after decaying below threshold.",
	},
)

// PermCacheResultsTotal counts permission-cache lookups by result ("hit"/"miss").
var PermCacheResultsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "aclmeter",
		Subsystem: "permcache",
		Name:      "results_total",
		Help:      "Total number of permission-cache lookups by hit/miss.",
	},
	[]string{"result"},
)

// AccountRefreshTotal counts account-cache refresh attempts by outcome.
var AccountRefreshTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "aclmeter",
		Subsystem: "account",
		Name:      "refresh_total",
		Help:      "Total number of account-cache refresh attempts by outcome.",
	},
	[]string{"outcome"},
)

// MeterFlushTotal counts meter-flush runs by outcome.
var MeterFlushTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "aclmeter",
		Subsystem: "meter",
		Name:      "flush_total",
		Help:      "Total number of meter flush runs by outcome.",
	},
	[]string{"outcome"},
)

// All returns every collector this package defines, for registration
// against a *prometheus.Registry at process startup.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		DecisionsTotal,
		AuthFailuresTotal,
		QuotaDeniedTotal,
		MeteredBytesTotal,
		RateLimitTrippedTotal,
		RateLimitClearedTotal,
		PermCacheResultsTotal,
		AccountRefreshTotal,
		MeterFlushTotal,
	}
}
