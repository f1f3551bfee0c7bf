package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/agjmills/nimbus/internal/logger"
)

// ParseTrustedCIDRs parses a list of CIDR strings into net.IPNet objects.
// Bare addresses are treated as /32 or /128. Invalid entries are logged and skipped.
func ParseTrustedCIDRs(cidrs []string) []*net.IPNet {
	var result []*net.IPNet
	for _, cidr := range cidrs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			if ip := net.ParseIP(cidr); ip != nil {
				bits := 128
				if ip.To4() != nil {
					bits = 32
				}
				result = append(result, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
				continue
			}
			logger.Warn("invalid trusted proxy CIDR, skipping", "cidr", cidr, "error", err)
			continue
		}
		result = append(result, ipNet)
	}
	return result
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func isIPInCIDRs(addr string, cidrs []*net.IPNet) bool {
	ip := net.ParseIP(hostOnly(addr))
	if ip == nil {
		return false
	}
	for _, cidr := range cidrs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// clientIP prefers X-Real-IP, then the leftmost X-Forwarded-For entry, but only
// when the direct peer is a trusted proxy.
func clientIP(r *http.Request, trusted []*net.IPNet) string {
	if len(trusted) > 0 && isIPInCIDRs(r.RemoteAddr, trusted) {
		if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(realIP) != nil {
			return realIP
		}
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
				return ip
			}
		}
	}
	return hostOnly(r.RemoteAddr)
}

// RealIP rewrites r.RemoteAddr to the client address reported by a trusted proxy.
// Requests from untrusted peers keep their socket address, so forwarded headers
// cannot be spoofed to dodge rate limits or share visitor accounting.
func RealIP(trusted []string) func(http.Handler) http.Handler {
	cidrs := ParseTrustedCIDRs(trusted)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ip := clientIP(r, cidrs); ip != hostOnly(r.RemoteAddr) {
				r.RemoteAddr = net.JoinHostPort(ip, "0")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the host part of r.RemoteAddr. Run RealIP first when the
// server sits behind a proxy.
func ClientIP(r *http.Request) string {
	return hostOnly(r.RemoteAddr)
}
