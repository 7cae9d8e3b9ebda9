// Package topic splits broker topic strings into the fixed hierarchical
// namespace /{org}/{device}/{scope}/{name}/{version}/{sub...} used
// throughout the ACL engine.
package topic

import "strings"

// maxParts bounds the number of segments Split will return, protecting the
// evaluator from pathological topics with unbounded depth.
const maxParts = 100

// Parts is the ordered sequence of strings obtained by splitting a topic on
// '/'. By convention Parts[0] is empty (the topic has a leading slash),
// Parts[1] is the org, Parts[2] the device, Parts[3] the scope, Parts[4] the
// name, Parts[5] the version, and Parts[6:] the sub-path.
type Parts []string

// Split parses a raw topic string into Parts, bounded to maxParts segments.
func Split(t string) Parts {
	segments := strings.Split(t, "/")
	if len(segments) > maxParts {
		segments = segments[:maxParts]
	}
	return Parts(segments)
}

// Valid reports whether there are enough parts to extract org, device,
// scope, and name: at least 5 parts ("", org, device, scope, name).
func (p Parts) Valid() bool {
	return len(p) >= 5
}

// Org returns parts[1], the organization making the claim.
func (p Parts) Org() string {
	if len(p) <= 1 {
		return ""
	}
	return p[1]
}

// Device returns parts[2].
func (p Parts) Device() string {
	if len(p) <= 2 {
		return ""
	}
	return p[2]
}

// Scope returns parts[3].
func (p Parts) Scope() string {
	if len(p) <= 3 {
		return ""
	}
	return p[3]
}

// Name returns parts[4].
func (p Parts) Name() string {
	if len(p) <= 4 {
		return ""
	}
	return p[4]
}

// Capability returns the composite "scope/name" capability identifier.
func (p Parts) Capability() string {
	return p.Scope() + "/" + p.Name()
}

// Sub returns the '/'-joined sub-path beyond the version segment
// (parts[6:]), or the empty string if there are fewer than 7 parts.
func (p Parts) Sub() string {
	if len(p) < 7 {
		return ""
	}
	return strings.Join(p[6:], "/")
}
