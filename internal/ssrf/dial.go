package ssrf

import (
	"context"
	"fmt"
	"net"
	"syscall"
	"time"
)

// isDisallowedIP returns true if the IP is within private, loopback, link-local,
// multicast, unspecified, 0.0.0.0/8 or unique-local (IPv6) ranges.
func isDisallowedIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsUnspecified() || ip.IsMulticast() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		return isInternalV4([4]int{int(v4[0]), int(v4[1]), int(v4[2]), int(v4[3])})
	}
	// Unique local IPv6 fc00::/7
	if ip.To16() != nil {
		b0 := ip[0]
		if b0&0xfe == 0xfc {
			return true
		}
	}
	return false
}

// NewDialer returns a dialer that refuses to connect to internal addresses
// after DNS resolution, so public names pointing at private IPs are caught too.
func NewDialer(timeout time.Duration) *net.Dialer {
	return &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
		Control: func(network, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return fmt.Errorf("%w: %s", ErrForbidden, address)
			}
			ip := net.ParseIP(host)
			if ip == nil || isDisallowedIP(ip) {
				return fmt.Errorf("%w: %s", ErrForbidden, host)
			}
			return nil
		},
	}
}

// SafeDialContext is a DialContext for http.Transport backed by NewDialer.
func SafeDialContext(timeout time.Duration) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return NewDialer(timeout).DialContext
}
