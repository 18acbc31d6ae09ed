// Package hostutil provides shared utilities for API base URL handling.
package hostutil

import (
	"fmt"
	"net/url"
	"strings"
)

// Normalize converts a host or URL string to a base URL without a trailing slash.
// - Empty string returns empty
// - localhost/127.0.0.1 defaults to http://
// - Other bare hostnames default to https://
// - Full URLs keep their scheme
func Normalize(host string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if host == "" {
		return ""
	}
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}
	if IsLocalhost(hostPart(host)) {
		return "http://" + host
	}
	return "https://" + host
}

// Host returns the host[:port] of a base URL, used to scope per-server
// state such as stored tokens and circuit breaker files.
func Host(baseURL string) string {
	if u, err := url.Parse(Normalize(baseURL)); err == nil && u.Host != "" {
		return u.Host
	}
	return hostPart(baseURL)
}

// RequireSecureURL rejects plain http:// URLs unless they point at localhost.
// Tokens are sent on every request, so a remote http endpoint would leak them.
func RequireSecureURL(baseURL string) error {
	if !strings.HasPrefix(baseURL, "http://") {
		return nil
	}
	if IsLocalhost(Host(baseURL)) {
		return nil
	}
	return fmt.Errorf("insecure http:// base URL %q: use https:// (http is allowed for localhost only)", baseURL)
}

// IsLocalhost returns true if host is localhost, a .localhost subdomain,
// 127.0.0.1, or [::1] (with optional port).
func IsLocalhost(host string) bool {
	// Strip port if present for easier matching
	hostWithoutPort := host
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		// Check if this is IPv6 bracketed address
		if !strings.HasPrefix(host, "[") || strings.HasPrefix(host, "[::1]:") {
			hostWithoutPort = host[:idx]
		}
	}

	if hostWithoutPort == "localhost" || strings.HasSuffix(hostWithoutPort, ".localhost") {
		return true
	}
	if hostWithoutPort == "127.0.0.1" {
		return true
	}
	// IPv6 loopback (must be bracketed for valid URL)
	return hostWithoutPort == "[::1]"
}

// hostPart strips any scheme and path from s.
func hostPart(s string) string {
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return s
}
