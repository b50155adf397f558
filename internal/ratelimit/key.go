package ratelimit

import (
	"net/http"
	"strings"
)

// ClientIP extracts the client IP from the request, preferring
// forwarding headers set by upstream proxies over the socket address.
func ClientIP(r *http.Request) string {
	// X-Forwarded-For holds the original client first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// CF-Connecting-IP header (Cloudflare)
	if cfip := r.Header.Get("CF-Connecting-IP"); cfip != "" {
		return cfip
	}

	// True-Client-IP header (Akamai, Cloudflare Enterprise)
	if tcip := r.Header.Get("True-Client-IP"); tcip != "" {
		return tcip
	}

	// Fall back to RemoteAddr without the port
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}

	// Remove brackets from IPv6 addresses
	ip = strings.TrimPrefix(ip, "[")
	ip = strings.TrimSuffix(ip, "]")

	return ip
}
