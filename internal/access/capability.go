package access

import "strings"

// CapabilitySet is a set of capabilities granted to a user. Keys look like
// "Leave Application:read" and may use wildcards ("Leave Application:*", "*").
type CapabilitySet map[string]bool

// Has returns true if the set contains the exact capability or a wildcard
// that matches it.
func (cs CapabilitySet) Has(capability string) bool {
	if cs[capability] {
		return true
	}
	for pattern := range cs {
		if matchWildcard(pattern, capability) {
			return true
		}
	}
	return false
}

// matchWildcard reports whether pattern matches capability.
//
//	"*"                    matches anything
//	"Leave Application:*"  matches "Leave Application:read"
//	"Leave Application"    matches nothing but itself
func matchWildcard(pattern, capability string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.HasSuffix(pattern, ":*") {
		return false
	}
	return strings.HasPrefix(capability, pattern[:len(pattern)-1])
}

// ReadCapability is the capability that grants read access to a doctype.
func ReadCapability(doctype string) string {
	return doctype + ":read"
}
