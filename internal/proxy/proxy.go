// Package proxy implements the outbound reverse-proxy data plane for
// ProxyExternal and ProxyInternalRewrite rules resolved by internal/router:
// target URL composition, header assembly, the cookie-to-bearer auth
// transform, an SSRF guard on the resolved target, and streaming via
// httputil.ReverseProxy.
package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/edgeserve/edgeserve/internal/apperr"
	"github.com/edgeserve/edgeserve/internal/model"
)

// DefaultTimeout is used when a ProxyRule does not set TimeoutMs.
const DefaultTimeout = 30 * time.Second

// hopByHopHeaders are stripped from both the outbound request and the
// inbound response, per RFC 7230 §6.1.
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// forwardingIdentityHeaders disclose the proxy chain and are stripped
// by assembleHeaders inside ReverseProxy's Director, mirroring the teacher's
// stripForwardingIdentityHeaders.
var forwardingIdentityHeaders = []string{
	"Forwarded",
	"X-Forwarded-For",
	"X-Forwarded-Host",
	"X-Forwarded-Proto",
	"X-Real-Ip",
}

func stripHeaders(h http.Header, names []string) {
	for _, n := range names {
		h.Del(n)
	}
}

// Forwarder dispatches requests to a ProxyRule's TargetURL.
type Forwarder struct {
	transport *http.Transport
	guard     SSRFGuard
	logger    *slog.Logger
}

// NewForwarder builds a Forwarder sharing one keep-alive transport across
// all outbound requests, grounded on the teacher's OutboundTransportPool
// defaults.
func NewForwarder(guard SSRFGuard, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{
		transport: &http.Transport{
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        1024,
			MaxIdleConnsPerHost: 64,
			IdleConnTimeout:     90 * time.Second,
		},
		guard:  guard,
		logger: logger,
	}
}

// BuildTarget composes the outbound URL for a matched rule: TargetURL
// joined with rulePath (the request path relative to the rule's pattern)
// and the original query string.
func BuildTarget(rule model.ProxyRule, rulePath, rawQuery string) (*url.URL, error) {
	base, err := url.Parse(strings.TrimSuffix(rule.TargetURL, "/"))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindBadRequest, "INVALID_TARGET_URL", "proxy rule target url is invalid", err)
	}
	target := *base
	target.Path = base.Path + rulePath
	target.RawQuery = rawQuery
	return &target, nil
}

// ServeHTTP proxies r to rule's target, applying header assembly, the
// auth transform, and the SSRF guard, and streams the upstream response
// back to w.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request, rule model.ProxyRule, rulePath string) {
	target, err := BuildTarget(rule, rulePath, r.URL.RawQuery)
	if err != nil {
		apperr.WriteHTTP(w, err)
		return
	}

	if f.guard != nil {
		if err := f.guard.Check(r.Context(), target); err != nil {
			apperr.WriteHTTP(w, err)
			return
		}
	}

	timeout := DefaultTimeout
	if rule.TimeoutMs > 0 {
		timeout = time.Duration(rule.TimeoutMs) * time.Millisecond
	}

	rp := &httputil.ReverseProxy{
		Transport: f.transport,
		Director: func(req *http.Request) {
			req.URL = target
			req.Host = target.Host
			inboundCookies := req.Header.Values("Cookie")
			assembleHeaders(req, rule)
			// applyAuthTransform reads the inbound cookies, which
			// assembleHeaders may have removed from the outbound request.
			outboundCookies := req.Header.Values("Cookie")
			req.Header["Cookie"] = inboundCookies
			applyAuthTransform(req, rule)
			if len(outboundCookies) == 0 {
				req.Header.Del("Cookie")
			} else {
				req.Header["Cookie"] = outboundCookies
			}
		},
		ModifyResponse: func(resp *http.Response) error {
			stripHeaders(resp.Header, hopByHopHeaders)
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			apperr.WriteHTTP(w, classifyUpstreamError(err))
		},
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	rp.ServeHTTP(w, r.WithContext(ctx))
}

// assembleHeaders applies HeaderConfig.Forward (an allowlist; empty means
// forward everything not stripped), HeaderConfig.Strip, and
// HeaderConfig.Add, and strips hop-by-hop and forwarding-identity headers.
// ForwardCookies=false additionally removes the Cookie header.
func assembleHeaders(req *http.Request, rule model.ProxyRule) {
	stripHeaders(req.Header, hopByHopHeaders)
	stripHeaders(req.Header, forwardingIdentityHeaders)

	if len(rule.HeaderConfig.Forward) > 0 {
		allowed := make(map[string]bool, len(rule.HeaderConfig.Forward))
		for _, h := range rule.HeaderConfig.Forward {
			allowed[http.CanonicalHeaderKey(h)] = true
		}
		for name := range req.Header {
			if !allowed[http.CanonicalHeaderKey(name)] {
				req.Header.Del(name)
			}
		}
	}
	for _, h := range rule.HeaderConfig.Strip {
		req.Header.Del(h)
	}
	if !rule.ForwardCookies {
		req.Header.Del("Cookie")
	}
	for k, v := range rule.HeaderConfig.Add {
		req.Header.Set(k, v)
	}
}

// applyAuthTransform rewrites outbound authorization per
// rule.AuthTransformKind. AuthTransformCookieBearer reads the cookie
// named AuthTransformArg from the inbound request and forwards it as a
// Bearer Authorization header. Whether the Cookie header itself reaches
// the upstream is decided by ForwardCookies in assembleHeaders.
func applyAuthTransform(req *http.Request, rule model.ProxyRule) {
	if rule.AuthTransformKind != model.AuthTransformCookieBearer {
		return
	}
	cookie, err := req.Cookie(rule.AuthTransformArg)
	if err != nil || cookie.Value == "" {
		req.Header.Del("Authorization")
		return
	}
	req.Header.Set("Authorization", "Bearer "+cookie.Value)
}

// classifyUpstreamError maps a transport-level error from
// httputil.ReverseProxy into an apperr.Error, grounded on the teacher's
// classifyUpstreamError.
func classifyUpstreamError(err error) error {
	if errors.Is(err, context.Canceled) {
		return apperr.New(apperr.KindUpstreamFailure, "UPSTREAM_CANCELED", "request canceled")
	}
	if os.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindUpstreamTimeout, "UPSTREAM_TIMEOUT", "upstream did not respond in time", err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return apperr.Wrap(apperr.KindUpstreamFailure, "UPSTREAM_DNS_ERROR", "upstream host could not be resolved", err)
	}
	return apperr.Wrap(apperr.KindUpstreamFailure, "UPSTREAM_REQUEST_FAILED", "upstream request failed", err)
}
