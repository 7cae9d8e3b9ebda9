// Package metrics exposes the Prometheus collectors instrumenting the ACL
// dispatcher, JWT verifier, quota meter, rate limiter, and permission cache.
// Components increment these directly rather than going through a service
// locator; cmd/aclmeterd registers them once via NewRegistry and serves them
// over /metrics.
package metrics
