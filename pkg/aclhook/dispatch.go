// Package aclhook implements the ACL dispatcher: the orchestration layer
// that, for every broker ACL check, classifies the requesting identity,
// consults the permission cache and evaluator, meters read bandwidth,
// enforces monthly quotas, and drives the write rate limiter.
package aclhook

import (
	"log/slog"
	"strings"
	"time"

	"github.com/transitiverobotics/mqtt-aclmeter/pkg/account"
	"github.com/transitiverobotics/mqtt-aclmeter/pkg/identity"
	"github.com/transitiverobotics/mqtt-aclmeter/pkg/metrics"
	"github.com/transitiverobotics/mqtt-aclmeter/pkg/permission"
	"github.com/transitiverobotics/mqtt-aclmeter/pkg/topic"
)

func outcomeLabel(allow bool) string {
	if allow {
		return "allow"
	}
	return "deny"
}

func idKind2Label(k identity.Kind) string {
	switch k {
	case identity.Superuser:
		return "superuser"
	case identity.Capability:
		return "capability"
	case identity.Device:
		return "device"
	case identity.WebsocketUser:
		return "websocket"
	default:
		return "unknown"
	}
}

// Access mirrors the four access kinds the broker's ACL contract exposes.
// SUBSCRIBE is treated identically to READ by the evaluator's readAccess
// flag; UNSUBSCRIBE never reaches the evaluator's read/write branches and
// only matters for the final namespace rules.
type Access int

const (
	Read Access = iota
	Write
	Subscribe
	Unsubscribe
)

func (a Access) isReadLike() bool {
	return a == Read || a == Subscribe
}

// uptimeTopic is the one public heartbeat topic allowed unconditionally.
const uptimeTopic = "$SYS/broker/uptime"

// CheckRequest is everything the dispatcher needs to decide one ACL check,
// mirroring the broker's per-check event fields: client, topic, access,
// payload length, username.
type CheckRequest struct {
	Topic         string
	Username      string
	ClientID      string
	IP            string
	Access        Access
	PayloadLength int64
}

// AccountLookup resolves an organization id to its cached account.
type AccountLookup interface {
	Get(id string) *account.Account
}

// PermCache is the subset of *permcache.Cache the dispatcher depends on.
type PermCache interface {
	Allowed(username, topic string, now time.Time) bool
	Grant(username, topic string, now time.Time)
}

// RateLimiter is the subset of *writelimit.Limiter the dispatcher depends
// on for the write-path side effect.
type RateLimiter interface {
	RecordWrite(username, ip string, now time.Time) bool
}

// Dispatcher implements the ordered rule chain of the ACL dispatcher.
type Dispatcher struct {
	Accounts    AccountLookup
	PermCache   PermCache
	RateLimiter RateLimiter
	Log         *slog.Logger

	// Now is the dispatcher's clock, overridable in tests.
	Now func() time.Time
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Decide runs the ten ordered dispatcher rules against req and returns the
// ALLOW (true) / DENY (false) decision. It never panics on malformed input;
// any rule that cannot be satisfied falls through to DENY.
func (d *Dispatcher) Decide(req CheckRequest) (allow bool) {
	idKind := "unknown"
	defer func() {
		if r := recover(); r != nil {
			d.Log.Error("aclhook: recovered from panic in dispatcher, denying", "panic", r)
			allow = false
		}
		metrics.DecisionsTotal.WithLabelValues(outcomeLabel(allow), idKind).Inc()
	}()

	// Rule 1.
	if req.Topic == "" || req.Username == "" || req.ClientID == "" {
		return false
	}

	// Rule 2.
	if req.Topic == uptimeTopic {
		return true
	}

	id := identity.Parse(req.Username)
	idKind = idKind2Label(id.Kind)

	// Rule 3.
	if id.Kind == identity.Superuser {
		return true
	}

	parts := topic.Split(req.Topic)

	// Rule 4.
	if req.Access == Read && !strings.HasPrefix(req.Topic, "$") && parts.Valid() {
		if d.meterAndCheckQuota(parts.Org(), parts.Name(), req.PayloadLength) {
			return false
		}
	}

	// Rule 5.
	if id.Kind == identity.WebsocketUser {
		return d.decideWebsocket(req, id, parts)
	}

	// Rule 6.
	if req.Access == Write {
		d.RateLimiter.RecordWrite(req.Username, req.IP, d.now())
	}

	// Rule 7.
	if !parts.Valid() {
		return false
	}

	// Rule 8.
	if id.Kind == identity.Capability {
		return id.Scope == parts.Scope() && id.Name == parts.Name()
	}

	// Rule 9.
	return d.decideDevice(req, id, parts)
}

// meterAndCheckQuota adds n bytes to the org's cap_usage[name] counter and
// reports whether this crosses the quota for an account that cannot pay.
func (d *Dispatcher) meterAndCheckQuota(org, name string, n int64) (quotaExceeded bool) {
	acct := d.Accounts.Get(org)
	if acct == nil {
		return false
	}
	total, exceeded := acct.AddRead(name, n)
	metrics.MeteredBytesTotal.WithLabelValues(org, name).Add(float64(n))
	if exceeded {
		d.Log.Warn("aclhook: quota exceeded",
			"org", org, "capability", name, "usage", total, "limit", account.MaxBytes)
		metrics.QuotaDeniedTotal.WithLabelValues(org, name).Inc()
	}
	return exceeded
}

func (d *Dispatcher) decideWebsocket(req CheckRequest, id identity.Identity, parts topic.Parts) bool {
	now := d.now()
	if d.PermCache.Allowed(req.Username, req.Topic, now) {
		return true
	}

	readAccess := req.Access.isReadLike()
	allow := permission.Evaluate(parts, id.Raw, readAccess, now.Unix())
	if allow {
		d.PermCache.Grant(req.Username, req.Topic, now)
	}
	return allow
}

func (d *Dispatcher) decideDevice(req CheckRequest, id identity.Identity, parts topic.Parts) bool {
	if id.Kind != identity.Device {
		return false
	}
	if id.Org != parts.Org() {
		return false
	}
	if req.Access.isReadLike() && id.DeviceID == permission.FleetDevice {
		return true
	}
	return id.DeviceID == parts.Device()
}
