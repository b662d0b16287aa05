package middleware

import (
	"fmt"
	"net"
	"strings"

	"github.com/labstack/echo/v4"
)

// TrustedProxies points c.RealIP() at the client behind the reverse proxies
// in cidrs. Rate limit buckets and auth_events.ip_address are keyed on it.
// Only the listed ranges are trusted; echo's default trust of loopback,
// link-local and private addresses is switched off. An invalid range is an
// error so a typo cannot silently fall back to the proxy's address.
func TrustedProxies(e *echo.Echo, cidrs []string) error {
	extract, err := ipExtractor(cidrs)
	if err != nil {
		return err
	}
	e.IPExtractor = extract
	return nil
}

// ipExtractor walks X-Forwarded-For from the right and returns the first
// hop outside the trusted ranges. Requests arriving directly from an
// untrusted peer use the socket address and ignore forwarding headers.
func ipExtractor(cidrs []string) (echo.IPExtractor, error) {
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(strings.TrimSpace(cidr))
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy range %q: %w", cidr, err)
		}
		opts = append(opts, echo.TrustIPRange(network))
	}
	return echo.ExtractIPFromXFFHeader(opts...), nil
}
