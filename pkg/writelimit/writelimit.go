// Package writelimit implements the per-client publish rate limiter: an
// additive-decay counter, not a classic token bucket, that trips a
// packet-filter hook when a client's write rate crosses BURST_THRESHOLD and
// clears it again once the client's count decays back under THRESHOLD.
package writelimit

import (
	"sync"
	"time"

	"github.com/transitiverobotics/mqtt-aclmeter/pkg/metrics"
)

// Threshold is the steady-state rate, in writes per second, a client is
// allowed before its count starts accumulating toward the burst limit.
const Threshold = 200

// BurstThreshold is the count at which a client is cut off and added to the
// firewall's limit set.
const BurstThreshold = 2 * Threshold

// sweepInterval is the minimum gap between decay sweeps; a sweep is only
// ever run opportunistically from the write path, never on its own timer.
const sweepInterval = 2 * time.Second

// Firewall is the external collaborator invoked when a client crosses or
// un-crosses the burst threshold. Implemented by *firewall.Controller in
// production; failures are the firewall package's concern, not this one's.
type Firewall interface {
	Add(ip string)
	Remove(ip string)
}

type clientState struct {
	count   float64
	limited bool
	ip      string
}

// Limiter tracks per-client write counts and decays them over time.
type Limiter struct {
	firewall Firewall

	mu         sync.Mutex
	clients    map[string]*clientState
	lastSweep  time.Time
}

// New constructs a Limiter that reports over-threshold clients to fw.
func New(fw Firewall) *Limiter {
	return &Limiter{
		firewall:  fw,
		clients:   make(map[string]*clientState),
		lastSweep: time.Time{},
	}
}

// RecordWrite registers one write from username at ip, decaying all
// clients' counters first if enough time has passed since the last sweep.
// It reports whether the client is (now) rate-limited.
func (l *Limiter) RecordWrite(username, ip string, now time.Time) (limited bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.decayLocked(now)

	c, ok := l.clients[username]
	if !ok {
		c = &clientState{ip: ip}
		l.clients[username] = c
	}
	c.ip = ip
	c.count++

	if !c.limited && c.count > BurstThreshold {
		c.limited = true
		l.firewall.Add(ip)
		metrics.RateLimitTrippedTotal.Inc()
	}
	return c.limited
}

// decayLocked applies additive decay to every tracked client if at least
// sweepInterval has elapsed since the previous sweep. Callers must hold mu.
func (l *Limiter) decayLocked(now time.Time) {
	if l.lastSweep.IsZero() {
		l.lastSweep = now
		return
	}
	elapsed := now.Sub(l.lastSweep)
	if elapsed < sweepInterval {
		return
	}
	decay := Threshold * elapsed.Seconds()
	for _, c := range l.clients {
		c.count -= decay
		if c.count < 0 {
			c.count = 0
		}
		if c.limited && c.count < Threshold {
			c.limited = false
			l.firewall.Remove(c.ip)
			metrics.RateLimitClearedTotal.Inc()
		}
	}
	l.lastSweep = now
}

// Limited reports whether username is currently rate-limited, without
// recording a write.
func (l *Limiter) Limited(username string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.clients[username]
	return ok && c.limited
}

// Forget discards a client's tracked state, called on disconnect so a
// long-lived broker doesn't accumulate per-client memory indefinitely. If
// the client was limited, its IP is NOT removed from the firewall set here:
// the decay sweep is the only place that clears the firewall side effect.
// "Client gone" and "client no longer misbehaving" are separate events, and
// a reconnecting flooder should still find itself limited.
func (l *Limiter) Forget(username string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.clients, username)
}
