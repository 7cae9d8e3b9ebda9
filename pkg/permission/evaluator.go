package permission

import (
	"github.com/transitiverobotics/mqtt-aclmeter/pkg/topic"
)

// Evaluate decides ALLOW (true) / DENY (false) for a permission token
// against a requested topic. Malformed input (unparseable token, too few
// topic parts) yields DENY; there is no error channel.
func Evaluate(parts topic.Parts, usernameJSON string, readAccess bool, now int64) bool {
	if !parts.Valid() {
		return false
	}

	tok, err := ParseToken(usernameJSON)
	if err != nil {
		return false
	}

	return EvaluateToken(parts, tok, readAccess, now)
}

// EvaluateToken is Evaluate's core, operating on an already-parsed Token.
// Exposed separately so callers that parsed the token once (for the org
// precondition or for the JWT verifier) don't pay to parse it twice.
func EvaluateToken(parts topic.Parts, tok *Token, readAccess bool, now int64) bool {
	if !parts.Valid() {
		return false
	}

	org := parts.Org()
	device := parts.Device()
	capability := parts.Capability()
	sub := parts.Sub()

	payload := tok.Payload

	if tok.ID != payload.ID || tok.ID != org {
		return false
	}
	if !hasValidity(tok) || !hasIAT(tok) {
		return false
	}
	if payload.IAT+payload.Validity <= now {
		return false
	}

	deviceMatch := payload.Device == device
	capMatch := payload.Capability == capability
	agentPermission := payload.Capability == AgentCapability
	agentRequested := capability == AgentCapability
	fleetPermission := payload.Device == FleetDevice
	noTopicConstraints := !payload.HasTopics

	rule1 := deviceMatch &&
		(capMatch || agentPermission) &&
		(noTopicConstraints || TopicsContainPrefixOf(payload.Topics, sub))

	rule2 := deviceMatch && readAccess && agentRequested

	rule3 := fleetPermission && readAccess && agentRequested && noTopicConstraints

	rule4 := fleetPermission && (capMatch || agentPermission) && noTopicConstraints

	return rule1 || rule2 || rule3 || rule4
}

// hasValidity and hasIAT distinguish "present but zero" from "absent":
// both fields must be present, not merely non-zero. A token with
// validity:0 is structurally present but expires immediately via the
// iat+validity>now test, so in practice the distinction only matters for
// strictly absent fields.
func hasValidity(tok *Token) bool {
	_, present := tok.raw["validity"]
	return present
}

func hasIAT(tok *Token) bool {
	_, present := tok.raw["iat"]
	return present
}
