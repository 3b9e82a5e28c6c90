package auth

import (
	"net/http"
	"strings"
)

// Policy determines which requests need a device token.
type Policy struct {
	ExemptPaths       map[string]struct{}
	ProtectedPrefixes []string
}

// NewDefaultPolicy builds a policy protecting the given prefixes except for
// exempt paths.
func NewDefaultPolicy(exemptPaths []string, protectedPrefixes []string) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	return Policy{ExemptPaths: set, ProtectedPrefixes: protectedPrefixes}
}

// RequiresDevice returns true when the request must carry a device token.
func (p Policy) RequiresDevice(r *http.Request) bool {
	if r == nil {
		return false
	}
	if r.Method == http.MethodOptions {
		return false
	}
	if _, ok := p.ExemptPaths[r.URL.Path]; ok {
		return false
	}
	for _, prefix := range p.ProtectedPrefixes {
		if r.URL.Path == prefix || strings.HasPrefix(r.URL.Path, strings.TrimSuffix(prefix, "/")+"/") {
			return true
		}
	}
	return false
}
