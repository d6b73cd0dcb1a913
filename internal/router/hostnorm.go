package router

import (
	"net"
	"strings"

	"golang.org/x/net/idna"
)

// NormalizeHost strips the port and a trailing dot from an incoming
// Host header and lowercases it, the same split-then-lowercase shape the
// teacher uses to pull a bare host out of "host:port" before any further
// domain lookup (see netutil.ExtractDomain). Unlike that helper we do not
// reduce to eTLD+1: domain_mappings rows are matched against the exact
// registered host.
//
// A host containing non-ASCII characters is converted to its punycode
// (A-label) form so domain_mappings rows, which are always stored in
// ASCII, match regardless of how the browser or operator typed the
// Unicode domain.
func NormalizeHost(hostHeader string) string {
	host := hostHeader
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	} else if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}
	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		host = ascii
	}
	return host
}
