package proxy

import (
	"context"
	"net"
	"net/url"
	"strings"

	"github.com/edgeserve/edgeserve/internal/apperr"
)

// SSRFGuard rejects proxy targets that resolve into address space the
// operator has not explicitly allowed, so a ProxyExternal rule cannot be
// used to reach internal infrastructure.
type SSRFGuard interface {
	Check(ctx context.Context, target *url.URL) error
}

// denyRanges are the address blocks rejected by default: loopback,
// unicast link-local, the RFC 1918 private ranges, and 0.0.0.0/8.
// IPv6 unique local addresses (fc00::/7) are included alongside their
// IPv4 counterparts. Multicast ranges are not in the list.
var denyRanges = mustParseCIDRs(
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
	"0.0.0.0/8",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic("proxy: invalid built-in CIDR " + c)
		}
		nets = append(nets, n)
	}
	return nets
}

// guard is the default SSRFGuard: it resolves the target host and
// rejects it if any resolved address falls within denyRanges, unless the
// host is present in allowlist.
type guard struct {
	allowlist map[string]bool
	resolver  *net.Resolver
}

// NewSSRFGuard builds a guard that additionally permits the given
// hostnames (e.g. a known internal API gateway an operator has
// deliberately wired a ProxyExternal rule to) regardless of what address
// space they resolve into.
func NewSSRFGuard(allowedHosts []string) SSRFGuard {
	allow := make(map[string]bool, len(allowedHosts))
	for _, h := range allowedHosts {
		allow[h] = true
	}
	return &guard{allowlist: allow, resolver: net.DefaultResolver}
}

// isSameClusterHop reports whether host is one of the hostnames always
// permitted for same-cluster proxy hops, regardless of the configured
// allowlist: the loopback names and the ".svc"/".svc.cluster.local"
// suffixes Kubernetes assigns in-cluster services.
func isSameClusterHop(host string) bool {
	if host == "localhost" || host == "127.0.0.1" {
		return true
	}
	return strings.HasSuffix(host, ".svc") || strings.HasSuffix(host, ".svc.cluster.local")
}

func (g *guard) Check(ctx context.Context, target *url.URL) error {
	host := target.Hostname()
	if host == "" {
		return apperr.New(apperr.KindBadRequest, "INVALID_TARGET_HOST", "proxy target has no host")
	}
	if g.allowlist[host] || isSameClusterHop(host) {
		return nil
	}

	if ip := net.ParseIP(host); ip != nil {
		if denied(ip) {
			return apperr.New(apperr.KindSSRF, "SSRF_REJECTED", "proxy target resolves to a disallowed address")
		}
		return nil
	}

	addrs, err := g.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return apperr.Wrap(apperr.KindUpstreamFailure, "UPSTREAM_DNS_ERROR", "could not resolve proxy target host", err)
	}
	for _, a := range addrs {
		if denied(a.IP) {
			return apperr.New(apperr.KindSSRF, "SSRF_REJECTED", "proxy target resolves to a disallowed address")
		}
	}
	return nil
}

func denied(ip net.IP) bool {
	for _, n := range denyRanges {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
