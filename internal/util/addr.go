package util

import (
	"net"
	"strconv"
	"strings"
)

var privatePrefixes = []string{"127.", "10.", "192.168.", "169.254.", "0."}

// IsPrivateHost reports whether a URL host names loopback or a private range.
// It works on the literal host text only and never resolves names.
func IsPrivateHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	h = strings.TrimSuffix(strings.TrimPrefix(h, "["), "]")
	h = strings.TrimSuffix(h, ".")

	if h == "" || h == "localhost" || strings.HasSuffix(h, ".localhost") {
		return true
	}

	if ip := net.ParseIP(h); ip != nil {
		return IsPrivateIP(ip)
	}

	for _, p := range privatePrefixes {
		if strings.HasPrefix(h, p) {
			return true
		}
	}
	if strings.HasPrefix(h, "172.") {
		parts := strings.SplitN(h, ".", 3)
		if len(parts) >= 2 {
			if n, err := strconv.Atoi(parts[1]); err == nil && n >= 16 && n <= 31 {
				return true
			}
		}
	}
	return false
}

// IsPrivateIP reports whether ip is loopback, link-local, unspecified or in a private range.
func IsPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}
