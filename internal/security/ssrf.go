package security

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/net/idna"

	"github.com/Origamihase/wien-oepnv/internal/apperr"
)

// blockedTLDs are top level labels that never resolve to a public upstream.
var blockedTLDs = map[string]struct{}{
	"test":       {},
	"example":    {},
	"invalid":    {},
	"localhost":  {},
	"local":      {},
	"internal":   {},
	"arpa":       {},
	"intranet":   {},
	"corp":       {},
	"home":       {},
	"lan":        {},
	"kubernetes": {},
}

// metadataEndpoints are cloud metadata services addressed directly.
var metadataEndpoints = map[string]struct{}{
	"169.254.169.254":          {},
	"metadata.google.internal": {},
	"100.100.100.200":          {},
	"192.0.0.192":              {},
}

// GuardConfig tunes the URLGuard.
type GuardConfig struct {
	// AllowedPorts lists explicit ports accepted in URLs. Empty means
	// {80, 443}. Scheme default ports are always accepted.
	AllowedPorts []int
	DNSCacheTTL  time.Duration
	DNSCacheSize int
	// AllowLocal skips the address range and port checks. Only tests use
	// it; local test servers bind loopback addresses on high ports.
	AllowLocal bool
	// LookupIP overrides DNS resolution. Nil uses net.DefaultResolver.
	LookupIP func(ctx context.Context, host string) ([]net.IP, error)
}

// URLGuard rejects URLs and connections that would reach internal
// infrastructure. Validation happens twice: on the URL before any
// connection, and on the connected peer address before any response byte
// is read, so a DNS answer that changes between the two is caught.
type URLGuard struct {
	allowedPorts map[string]bool
	allowLocal   bool
	lookupIP     func(ctx context.Context, host string) ([]net.IP, error)
	dnsCache     *expirable.LRU[string, []net.IP]
}

// NewURLGuard creates a guard.
func NewURLGuard(cfg GuardConfig) *URLGuard {
	ports := cfg.AllowedPorts
	if len(ports) == 0 {
		ports = []int{80, 443}
	}
	portSet := make(map[string]bool, len(ports))
	for _, p := range ports {
		portSet[strconv.Itoa(p)] = true
	}
	ttl := cfg.DNSCacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	size := cfg.DNSCacheSize
	if size <= 0 {
		size = 256
	}
	lookup := cfg.LookupIP
	if lookup == nil {
		lookup = func(ctx context.Context, host string) ([]net.IP, error) {
			return net.DefaultResolver.LookupIP(ctx, "ip", host)
		}
	}
	return &URLGuard{
		allowedPorts: portSet,
		allowLocal:   cfg.AllowLocal,
		lookupIP:     lookup,
		dnsCache:     expirable.NewLRU[string, []net.IP](size, nil, ttl),
	}
}

// ValidateURL runs the full pre-connection pipeline: scheme, host, port,
// hostname normalisation, TLD blocklist, metadata endpoints and every
// resolved address.
func (g *URLGuard) ValidateURL(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return apperr.URLRejected("URL does not parse", map[string]interface{}{"url": Redact(rawURL)})
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return apperr.URLRejected(fmt.Sprintf("scheme %q is not allowed", scheme), map[string]interface{}{"url": Redact(rawURL)})
	}
	host := u.Hostname()
	if host == "" {
		return apperr.URLRejected("URL has no host", map[string]interface{}{"url": Redact(rawURL)})
	}
	if port := u.Port(); port != "" && !g.allowLocal && !g.allowedPorts[port] {
		return apperr.URLRejected(fmt.Sprintf("port %s is not allowed", port), map[string]interface{}{"url": Redact(rawURL)})
	}

	lower := strings.TrimSuffix(strings.ToLower(host), ".")
	if ip := net.ParseIP(lower); ip != nil {
		if _, blocked := metadataEndpoints[lower]; blocked {
			return apperr.URLRejected("metadata endpoint is blocked", map[string]interface{}{"host": lower})
		}
		return g.validateIP(ip, lower)
	}

	ascii, err := idna.ToASCII(lower)
	if err != nil {
		return apperr.URLRejected("hostname does not normalise", map[string]interface{}{"host": host})
	}
	if _, blocked := metadataEndpoints[ascii]; blocked {
		return apperr.URLRejected("metadata endpoint is blocked", map[string]interface{}{"host": ascii})
	}

	if labels := strings.Split(ascii, "."); len(labels) > 0 {
		if _, blocked := blockedTLDs[labels[len(labels)-1]]; blocked {
			return apperr.URLRejected("top level domain is blocked", map[string]interface{}{"host": ascii})
		}
	}

	ips, err := g.resolve(ctx, ascii)
	if err != nil {
		return apperr.URLRejected("hostname does not resolve", map[string]interface{}{"host": ascii})
	}
	for _, ip := range ips {
		if err := g.validateIP(ip, ascii); err != nil {
			return err
		}
	}
	return nil
}

// DialControl is installed as the net.Dialer Control hook. It revalidates
// the peer address at connect time, before any request is written, so a
// rebinding DNS answer cannot route the request internally.
func (g *URLGuard) DialControl(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return apperr.RebindingRejected("peer address does not parse", map[string]interface{}{"address": address})
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return apperr.RebindingRejected("peer address is not an IP", map[string]interface{}{"address": address})
	}
	if err := g.validateIP(ip, host); err != nil {
		return apperr.RebindingRejected("peer address failed validation", map[string]interface{}{"address": host})
	}
	return nil
}

func (g *URLGuard) resolve(ctx context.Context, host string) ([]net.IP, error) {
	if ips, ok := g.dnsCache.Get(host); ok {
		return ips, nil
	}
	ips, err := g.lookupIP(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no addresses for %s", host)
	}
	g.dnsCache.Add(host, ips)
	return ips, nil
}

func (g *URLGuard) validateIP(ip net.IP, host string) error {
	if g.allowLocal {
		return nil
	}
	if isPrivateOrDangerous(ip) {
		return apperr.URLRejected("address is in a blocked range", map[string]interface{}{"host": host})
	}
	return nil
}

func isPrivateOrDangerous(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() || ip.IsUnspecified() || ip.IsPrivate() {
		return true
	}
	if v4 := ip.To4(); v4 != nil {
		// 240.0.0.0/4 reserved, 255.255.255.255 broadcast, 192.0.0.0/24
		// protocol assignments, 198.18.0.0/15 benchmarking.
		if v4[0] >= 240 {
			return true
		}
		if v4[0] == 192 && v4[1] == 0 && v4[2] == 0 {
			return true
		}
		if v4[0] == 198 && (v4[1] == 18 || v4[1] == 19) {
			return true
		}
		return false
	}
	// Site-local (deprecated fec0::/10) and unique-local fc00::/7 are both
	// internal; IsPrivate covers fc00::/7 only.
	if len(ip) == net.IPv6len && (ip[0] == 0xfe && ip[1]&0xc0 == 0xc0) {
		return true
	}
	return false
}
