// Package permission evaluates permission tokens against requested topics.
//
// A permission token is JSON embedded in a client's username (and, for
// websocket clients, additionally signed as a JWT carried in the password).
// The username document is parsed with ojg's decoder into an untyped tree
// (map[string]any / []any / scalars); the JWT-decoded payload arrives as the
// same kind of tree from encoding/json. StructurallyEqual compares the two
// by value, so equality checks are structural rather than tied to one
// decoder: one internal value representation regardless of where the
// document came from.
package permission

import (
	"fmt"
	"strings"

	"github.com/ohler55/ojg/oj"
)

// AgentCapability is the reserved capability identifier for the
// per-device agent topic. A valid device token always confers read access
// to it, and a _fleet token confers cross-device read access to it.
const AgentCapability = "@transitive-robotics/_robot-agent"

// FleetDevice is the reserved device identifier granting org-wide scope.
const FleetDevice = "_fleet"

// Claims is the typed view of a permission token's payload.
type Claims struct {
	ID         string
	Device     string
	Capability string
	IAT        int64
	Validity   int64
	Topics     []string
	HasTopics  bool
}

// Token is a parsed permission token: the outer id claiming the
// organization, and the payload describing what the bearer may access.
type Token struct {
	ID      string
	Payload Claims

	// raw holds the untyped payload tree, used for structural equality
	// against a separately-decoded JWT payload (see authjwt).
	raw map[string]any
}

// RawPayload returns the untyped payload tree backing this token, for
// structural comparison against a JWT-decoded payload.
func (t *Token) RawPayload() map[string]any {
	return t.raw
}

// ParseToken parses a permission token from the JSON document embedded in a
// client's username. Any parse error, or a document that isn't an object
// with a string id and object payload, is reported back to the caller —
// callers that want DENY-on-malformed-input semantics (the evaluator) treat
// any error as deny; callers that want AUTH-FAIL semantics (the JWT
// verifier) treat it as an auth failure.
func ParseToken(usernameJSON string) (*Token, error) {
	var data any
	if err := oj.Unmarshal([]byte(usernameJSON), &data); err != nil {
		return nil, fmt.Errorf("permission: invalid JSON: %w", err)
	}

	root, ok := data.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("permission: username is not a JSON object")
	}

	id, ok := root["id"].(string)
	if !ok {
		return nil, fmt.Errorf("permission: missing or non-string id")
	}

	payloadRaw, ok := root["payload"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("permission: missing or non-object payload")
	}

	return &Token{
		ID:      id,
		Payload: parseClaims(payloadRaw),
		raw:     payloadRaw,
	}, nil
}

func parseClaims(m map[string]any) Claims {
	c := Claims{
		ID:         asString(m["id"]),
		Device:     asString(m["device"]),
		Capability: asString(m["capability"]),
	}
	if n, ok := asNumber(m["iat"]); ok {
		c.IAT = int64(n)
	}
	if n, ok := asNumber(m["validity"]); ok {
		c.Validity = int64(n)
	}
	if rawTopics, present := m["topics"]; present {
		c.HasTopics = true
		if arr, ok := rawTopics.([]any); ok {
			for _, item := range arr {
				if s, ok := item.(string); ok {
					c.Topics = append(c.Topics, s)
				}
			}
		}
	}
	return c
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// asNumber accepts any of the numeric representations ojg or
// encoding/json might hand back (float64, int64, int) and reports whether v
// was numeric at all — used to implement "present as a number" checks.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// TopicsContainPrefixOf reports whether any entry of topics is a literal
// prefix of sub. MQTT-style wildcards inside topics entries are not
// expanded.
func TopicsContainPrefixOf(topics []string, sub string) bool {
	for _, t := range topics {
		if strings.HasPrefix(sub, t) {
			return true
		}
	}
	return false
}
