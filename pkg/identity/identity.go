// Package identity classifies a broker username into one of the four forms
// the ACL dispatcher understands, replacing prefix-sniffing scattered
// through the dispatcher with a single parse performed once per check.
package identity

import "strings"

// Kind discriminates which of the four username forms was parsed.
type Kind int

const (
	// Unknown means the username matched none of the recognized forms.
	Unknown Kind = iota
	// Superuser is a "transitiverobotics:" prefixed operator username.
	Superuser
	// Capability is a "cap:<scope>/<name>" cloud service username.
	Capability
	// Device is an "<orgId>:<deviceId>" robot/device credential.
	Device
	// WebsocketUser is a JSON-object username carrying a permission token.
	WebsocketUser
)

const (
	superuserPrefix  = "transitiverobotics:"
	capabilityPrefix = "cap:"
)

// Identity is the parsed, typed form of a raw MQTT username.
type Identity struct {
	Kind Kind

	// Capability fields, set when Kind == Capability.
	Scope string
	Name  string

	// Device fields, set when Kind == Device.
	Org      string
	DeviceID string

	// Raw is the original username, always set. For WebsocketUser it is the
	// JSON document passed on to the permission package.
	Raw string
}

// Parse classifies username into an Identity. Any string not matching a
// recognized form comes back as Kind == Unknown, which the dispatcher
// treats as DENY.
func Parse(username string) Identity {
	id := Identity{Raw: username}

	switch {
	case strings.HasPrefix(username, superuserPrefix):
		id.Kind = Superuser

	case strings.HasPrefix(username, capabilityPrefix):
		rest := strings.TrimPrefix(username, capabilityPrefix)
		scope, name, ok := splitOnce(rest, "/")
		if !ok {
			return Identity{Raw: username, Kind: Unknown}
		}
		id.Kind = Capability
		id.Scope = scope
		id.Name = name

	case strings.HasPrefix(username, "{"):
		id.Kind = WebsocketUser

	default:
		org, device, ok := splitOnce(username, ":")
		if !ok {
			return Identity{Raw: username, Kind: Unknown}
		}
		id.Kind = Device
		id.Org = org
		id.DeviceID = device
	}

	return id
}

func splitOnce(s, sep string) (before, after string, ok bool) {
	i := strings.Index(s, sep)
	if i < 0 {
		return "", "", false
	}
	return s[:i], s[i+len(sep):], true
}
