package cachehdr

import (
	"testing"

	"github.com/edgeserve/edgeserve/internal/glob"
	"github.com/edgeserve/edgeserve/internal/model"
	"github.com/edgeserve/edgeserve/internal/rulecache"
)

func TestResolveFallsBackWhenNoRuleMatches(t *testing.T) {
	d := Resolve("/app.js", nil, false, true)
	if !d.Public || d.BrowserMaxAge != DefaultBrowserMaxAge {
		t.Fatalf("unexpected fallback directives: %+v", d)
	}
}

func TestResolveFallsBackToImmutableForContentHashedURL(t *testing.T) {
	d := Resolve("/assets/app.3f9c1a2b.js", nil, true, true)
	if !d.Immutable || d.BrowserMaxAge != immutableMaxAge {
		t.Fatalf("unexpected content-hashed fallback: %+v", d)
	}
}

func TestResolveFallsBackToZeroMaxAgeForHTML(t *testing.T) {
	d := Resolve("/index.html", nil, false, true)
	if d.BrowserMaxAge != 0 || d.Immutable {
		t.Fatalf("unexpected html fallback: %+v", d)
	}
}

func TestIsImmutablePathMatchesHashedFilename(t *testing.T) {
	if !IsImmutablePath("/assets/app.3f9c1a2b.js", "3f9c1a2bdeadbeef00112233") {
		t.Fatal("expected hashed filename to be detected as immutable")
	}
	if IsImmutablePath("/index.html", "3f9c1a2bdeadbeef00112233") {
		t.Fatal("expected index.html not to be detected as immutable")
	}
}

func TestOriginTTLFloorsAtMinimum(t *testing.T) {
	if got := OriginTTL(Directives{BrowserMaxAge: 0}); got != originTTLFloor {
		t.Fatalf("got %d, want floor %d", got, originTTLFloor)
	}
	cdn := 1000
	if got := OriginTTL(Directives{BrowserMaxAge: 60, CDNMaxAge: &cdn}); got != 1060 {
		t.Fatalf("got %d, want 1060", got)
	}
}

func TestResolveMatchesHighestPriorityFirst(t *testing.T) {
	cdn := 600
	rules := []rulecache.CompiledCacheRule{
		{Rule: model.CacheRule{PathPattern: "*.js", BrowserMaxAge: 86400, Immutable: true, Cacheability: model.CacheabilityPublic, CDNMaxAge: &cdn}, Pattern: glob.Compile("*.js")},
		{Rule: model.CacheRule{PathPattern: "/*", BrowserMaxAge: 60, Cacheability: model.CacheabilityPrivate}, Pattern: glob.Compile("/*")},
	}
	d := Resolve("/app.js", rules, false, false)
	if d.BrowserMaxAge != 86400 || !d.Immutable || !d.Public {
		t.Fatalf("expected js rule to win: %+v", d)
	}
	if d.CDNMaxAge == nil || *d.CDNMaxAge != 600 {
		t.Fatalf("expected cdn max-age 600: %+v", d)
	}
}

func TestCacheabilityInherit(t *testing.T) {
	rules := []rulecache.CompiledCacheRule{
		{Rule: model.CacheRule{PathPattern: "/*", BrowserMaxAge: 120, Cacheability: model.CacheabilityInherit}, Pattern: glob.Compile("/*")},
	}
	d := Resolve("/foo", rules, false, true)
	if !d.Public || d.Private {
		t.Fatalf("expected inherit to take effective publicness: %+v", d)
	}
}

func TestRenderFormatsAllDirectives(t *testing.T) {
	swr := 30
	cdn := 600
	got := Render(Directives{Public: true, BrowserMaxAge: 3600, CDNMaxAge: &cdn, StaleWhileRevalidate: &swr, Immutable: true})
	want := "public, max-age=3600, s-maxage=600, stale-while-revalidate=30, immutable"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRenderOmitsSMaxageWhenEqualToMaxAge(t *testing.T) {
	cdn := 3600
	got := Render(Directives{Public: true, BrowserMaxAge: 3600, CDNMaxAge: &cdn})
	want := "public, max-age=3600"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRenderPrivateNoExtras(t *testing.T) {
	got := Render(Directives{Private: true, BrowserMaxAge: 0})
	if got != "private, max-age=0" {
		t.Fatalf("got %q", got)
	}
}
