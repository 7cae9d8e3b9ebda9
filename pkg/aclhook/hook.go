package aclhook

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/transitiverobotics/mqtt-aclmeter/pkg/authjwt"
	"github.com/transitiverobotics/mqtt-aclmeter/pkg/identity"
	"github.com/transitiverobotics/mqtt-aclmeter/pkg/metrics"
	"github.com/transitiverobotics/mqtt-aclmeter/pkg/permcache"
	"github.com/transitiverobotics/mqtt-aclmeter/pkg/topic"
)

// SecretRefresher resolves an account id to its JWT secret, triggering an
// account-cache refresh and retrying once on a miss.
type SecretRefresher func(accountID string) (secret string, ok bool)

// Hook wires the Dispatcher into mochi-mqtt's hook system: connect-time
// JWT verification, per-check ACL decisions, metering on publish, and
// permission-cache/rate-limiter cleanup on disconnect.
type Hook struct {
	mqtt.HookBase

	Dispatcher      *Dispatcher
	PermCache       *permcache.Cache
	RateLimiterDrop interface{ Forget(username string) }
	ResolveSecret   SecretRefresher
	Log             *slog.Logger
}

// ID identifies this hook to the broker.
func (h *Hook) ID() string { return "acl-meter-hook" }

// Provides reports which hook points this hook implements.
func (h *Hook) Provides(b byte) bool {
	switch b {
	case mqtt.OnConnectAuthenticate, mqtt.OnACLCheck, mqtt.OnDisconnect, mqtt.OnPublish:
		return true
	default:
		return false
	}
}

// OnConnectAuthenticate verifies connecting clients. Only websocket
// (JSON-username) clients carry a JWT this engine can verify; device,
// capability-service, and superuser credentials are accepted here and
// authorized per-check by OnACLCheck instead; their connect-time
// credential verification is a broker-level concern outside this engine.
func (h *Hook) OnConnectAuthenticate(cl *mqtt.Client, pk packets.Packet) bool {
	username := string(cl.Properties.Username)
	id := identity.Parse(username)
	if id.Kind != identity.WebsocketUser {
		return id.Kind != identity.Unknown
	}

	password := string(pk.Connect.Password)
	err := authjwt.Verify(username, password, authjwt.SecretLookup(h.ResolveSecret), time.Now().Unix())
	if err != nil {
		h.Log.Warn("aclhook: connect authentication failed", "client", cl.ID, "error", err)
		metrics.AuthFailuresTotal.Inc()
		return false
	}
	return true
}

// OnACLCheck is the dispatcher's entry point for publish/subscribe
// authorization. mochi-mqtt reports only a write flag, not a four-way
// {READ, WRITE, SUBSCRIBE, UNSUBSCRIBE} split: write=true is a publish
// attempt, write=false is a subscribe attempt. Bandwidth metering happens
// separately in OnPublish, where the actual payload length is available.
func (h *Hook) OnACLCheck(cl *mqtt.Client, topicStr string, write bool) bool {
	access := Subscribe
	if write {
		access = Write
	}
	req := CheckRequest{
		Topic:    topicStr,
		Username: string(cl.Properties.Username),
		ClientID: cl.ID,
		IP:       cl.Net.Remote,
		Access:   access,
	}
	return h.Dispatcher.Decide(req)
}

// OnPublish meters read bandwidth for the capability a message was
// published to and rejects the publish if doing so crosses that
// capability's monthly quota. Metering is keyed by the topic's
// organization and capability name, independent of which clients end up
// receiving the message.
func (h *Hook) OnPublish(cl *mqtt.Client, pk packets.Packet) (packets.Packet, error) {
	parts := topic.Split(pk.TopicName)
	if strings.HasPrefix(pk.TopicName, "$") || !parts.Valid() {
		return pk, nil
	}
	if h.Dispatcher.meterAndCheckQuota(parts.Org(), parts.Name(), int64(len(pk.Payload))) {
		return pk, fmt.Errorf("aclmeter: quota exceeded for %s/%s", parts.Org(), parts.Name())
	}
	return pk, nil
}

// OnDisconnect flushes the permission cache and forgets rate-limiter state
// for the disconnecting client.
func (h *Hook) OnDisconnect(cl *mqtt.Client, err error, expire bool) {
	username := string(cl.Properties.Username)
	if h.PermCache != nil {
		h.PermCache.Flush(username)
	}
	if h.RateLimiterDrop != nil {
		h.RateLimiterDrop.Forget(username)
	}
}
