package gateway

import (
	"fmt"
	"regexp"
	"strings"
)

var hostnamePattern = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)*[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// ValidHostname reports whether h is a bare DNS name: no scheme, port or path.
func ValidHostname(h string) bool {
	return len(h) <= 253 && hostnamePattern.MatchString(h)
}

// NormalizeHost strips an optional scheme and path from raw, lowercases the
// remainder and validates it as a bare DNS name.
func NormalizeHost(raw string) (string, error) {
	h := strings.TrimSpace(raw)
	if i := strings.Index(h, "://"); i >= 0 {
		h = h[i+3:]
	}
	if i := strings.IndexAny(h, "/?#"); i >= 0 {
		h = h[:i]
	}
	h = strings.TrimSuffix(strings.ToLower(h), ".")
	if !ValidHostname(h) {
		return "", fmt.Errorf("%q is not a valid hostname", raw)
	}
	return h, nil
}
