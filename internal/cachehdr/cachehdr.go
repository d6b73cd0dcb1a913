// Package cachehdr synthesizes the Cache-Control response header for a
// served asset from the project's compiled cache rules (§4.H): the
// highest-priority enabled rule whose path pattern matches wins; ties
// break by declaration order (the rule list is already sorted by the
// repository layer).
package cachehdr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/edgeserve/edgeserve/internal/model"
	"github.com/edgeserve/edgeserve/internal/rulecache"
)

// Directives is the fully-resolved, unrendered set of Cache-Control
// parameters for one response.
type Directives struct {
	Public               bool
	Private              bool
	BrowserMaxAge        int
	CDNMaxAge            *int
	StaleWhileRevalidate *int
	Immutable            bool
}

// DefaultBrowserMaxAge is applied when no cache rule matches a path and
// the path is neither a content-hashed URL nor an HTML document: a
// conservative five minutes, matching a typical static-asset default.
const DefaultBrowserMaxAge = 300

// immutableMaxAge is the default max-age applied to a content-hashed URL
// that no cache rule matches: one year, the conventional ceiling for an
// asset whose filename changes whenever its bytes do.
const immutableMaxAge = 365 * 24 * 3600

// originTTLFloor is the minimum origin-cache TTL 4.H step 4 allows,
// regardless of how small the computed max(B, C) is.
const originTTLFloor = 300

// htmlSuffixes are checked case-insensitively against path to apply the
// zero-max-age HTML default: an alias can move to a new commit at any
// time, so an HTML document must always revalidate.
var htmlSuffixes = []string{".html", ".htm"}

// Resolve picks the winning compiled cache rule for path (the first
// match in descending-priority order) and combines it with the
// project/alias-level effective publicness to produce Directives. When no
// rule matches, isImmutableUrl and path's extension pick among the three
// defaults: content-hashed URLs get a one-year immutable max-age,
// .html/.htm get max-age=0, everything else gets DefaultBrowserMaxAge.
func Resolve(path string, rules []rulecache.CompiledCacheRule, isImmutableUrl, effectiveIsPublic bool) Directives {
	for _, cr := range rules {
		if !cr.Pattern.Match(path) {
			continue
		}
		return directivesFromRule(cr.Rule, effectiveIsPublic)
	}
	return defaultDirectives(path, isImmutableUrl, effectiveIsPublic)
}

func defaultDirectives(path string, isImmutableUrl, effectiveIsPublic bool) Directives {
	d := Directives{
		Public:  effectiveIsPublic,
		Private: !effectiveIsPublic,
	}
	switch {
	case isImmutableUrl:
		d.BrowserMaxAge = immutableMaxAge
		d.Immutable = true
	case hasHTMLSuffix(path):
		d.BrowserMaxAge = 0
	default:
		d.BrowserMaxAge = DefaultBrowserMaxAge
	}
	return d
}

func hasHTMLSuffix(path string) bool {
	lower := strings.ToLower(path)
	for _, suffix := range htmlSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// IsImmutablePath reports whether relPath's filename embeds contentHash,
// the shape a content-hashed build output (e.g. "app.3f9c1a2b.js")
// takes: the served URL changes whenever the bytes do, so it is safe to
// cache forever.
func IsImmutablePath(relPath, contentHash string) bool {
	if len(contentHash) < 8 {
		return false
	}
	base := relPath
	if idx := strings.LastIndexByte(base, '/'); idx >= 0 {
		base = base[idx+1:]
	}
	return strings.Contains(strings.ToLower(base), strings.ToLower(contentHash[:8]))
}

// OriginTTL computes the origin-cache TTL (§4.H step 4): the longer of
// the browser and CDN max-ages plus a 60s buffer, floored at 300s so an
// origin is never hammered harder than the floor even when a cache rule
// sets a very short browser max-age.
func OriginTTL(d Directives) int {
	cdn := 0
	if d.CDNMaxAge != nil {
		cdn = *d.CDNMaxAge
	}
	ttl := d.BrowserMaxAge
	if cdn > ttl {
		ttl = cdn
	}
	ttl += 60
	if ttl < originTTLFloor {
		ttl = originTTLFloor
	}
	return ttl
}

func directivesFromRule(rule model.CacheRule, effectiveIsPublic bool) Directives {
	d := Directives{
		BrowserMaxAge:        rule.BrowserMaxAge,
		CDNMaxAge:            rule.CDNMaxAge,
		StaleWhileRevalidate: rule.StaleWhileRevalidate,
		Immutable:            rule.Immutable,
	}
	switch rule.Cacheability {
	case model.CacheabilityPublic:
		d.Public = true
	case model.CacheabilityPrivate:
		d.Private = true
	default: // CacheabilityInherit
		d.Public = effectiveIsPublic
		d.Private = !effectiveIsPublic
	}
	return d
}

// Render produces the literal Cache-Control header value.
func Render(d Directives) string {
	var parts []string
	if d.Public {
		parts = append(parts, "public")
	} else if d.Private {
		parts = append(parts, "private")
	}
	parts = append(parts, "max-age="+strconv.Itoa(d.BrowserMaxAge))
	if d.CDNMaxAge != nil && *d.CDNMaxAge != d.BrowserMaxAge {
		parts = append(parts, fmt.Sprintf("s-maxage=%d", *d.CDNMaxAge))
	}
	if d.StaleWhileRevalidate != nil {
		parts = append(parts, fmt.Sprintf("stale-while-revalidate=%d", *d.StaleWhileRevalidate))
	}
	if d.Immutable {
		parts = append(parts, "immutable")
	}
	return strings.Join(parts, ", ")
}
