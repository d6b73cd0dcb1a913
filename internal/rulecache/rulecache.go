// Package rulecache holds the two read-path caches that sit in front of
// the repository: compiled proxy rule sets and compiled cache rule sets.
// Both are bounded otter caches keyed by project/rule-set ID, the same
// pattern the teacher uses for its per-domain latency table (see
// internal/node/latency.go), generalized from an unbounded LRU of scalar
// stats to a TTL cache of compiled rule slices.
package rulecache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/maypok86/otter"

	"github.com/edgeserve/edgeserve/internal/glob"
	"github.com/edgeserve/edgeserve/internal/model"
)

// CompiledProxyRule pairs a ProxyRule with its pre-compiled path pattern
// so the router never recompiles a glob on the request path.
type CompiledProxyRule struct {
	Rule    model.ProxyRule
	Pattern glob.Pattern
}

// CompiledCacheRule pairs a CacheRule with its pre-compiled path pattern.
type CompiledCacheRule struct {
	Rule    model.CacheRule
	Pattern glob.Pattern
}

// ProxyRuleLoader fetches and compiles the live rule set for a rule-set
// ID, invoked on a cache miss.
type ProxyRuleLoader func(ctx context.Context, ruleSetID model.ID) ([]CompiledProxyRule, error)

// CacheRuleLoader fetches and compiles the live cache rules for a
// project, invoked on a cache miss.
type CacheRuleLoader func(ctx context.Context, projectID model.ID) ([]CompiledCacheRule, error)

const (
	// ProxyRuleTTL bounds how stale a proxy rule set may be after a
	// mutation that didn't go through Invalidate (e.g. a direct DB edit).
	ProxyRuleTTL = 10 * time.Second
	// CacheRuleTTL is longer: cache rules change far less often than
	// proxy routing and a slightly stale Cache-Control header is low risk.
	CacheRuleTTL = 5 * time.Minute
)

// Cache serves compiled proxy/cache rule sets, backed by otter TTL caches
// with synchronous invalidation on mutation (§5: "every mutation must
// synchronously call the cache invalidator").
type Cache struct {
	proxyRules otter.Cache[model.ID, []CompiledProxyRule]
	cacheRules otter.Cache[model.ID, []CompiledCacheRule]

	loadProxyRules ProxyRuleLoader
	loadCacheRules CacheRuleLoader

	// generation is bumped on every explicit invalidation so callers can
	// detect (for metrics/logging only) whether a read raced a write.
	generation atomic.Int64
}

// New builds a Cache that loads misses through the given loaders.
func New(loadProxyRules ProxyRuleLoader, loadCacheRules CacheRuleLoader) (*Cache, error) {
	proxyRules, err := otter.MustBuilder[model.ID, []CompiledProxyRule](4096).
		Cost(func(_ model.ID, _ []CompiledProxyRule) uint32 { return 1 }).
		WithTTL(ProxyRuleTTL).
		Build()
	if err != nil {
		return nil, err
	}
	cacheRules, err := otter.MustBuilder[model.ID, []CompiledCacheRule](4096).
		Cost(func(_ model.ID, _ []CompiledCacheRule) uint32 { return 1 }).
		WithTTL(CacheRuleTTL).
		Build()
	if err != nil {
		return nil, err
	}
	return &Cache{
		proxyRules:     proxyRules,
		cacheRules:     cacheRules,
		loadProxyRules: loadProxyRules,
		loadCacheRules: loadCacheRules,
	}, nil
}

// ProxyRules returns the compiled proxy rules for ruleSetID, loading and
// populating the cache on a miss.
func (c *Cache) ProxyRules(ctx context.Context, ruleSetID model.ID) ([]CompiledProxyRule, error) {
	if rules, ok := c.proxyRules.Get(ruleSetID); ok {
		return rules, nil
	}
	rules, err := c.loadProxyRules(ctx, ruleSetID)
	if err != nil {
		return nil, err
	}
	c.proxyRules.Set(ruleSetID, rules)
	return rules, nil
}

// CacheRules returns the compiled cache rules for projectID, loading and
// populating the cache on a miss.
func (c *Cache) CacheRules(ctx context.Context, projectID model.ID) ([]CompiledCacheRule, error) {
	if rules, ok := c.cacheRules.Get(projectID); ok {
		return rules, nil
	}
	rules, err := c.loadCacheRules(ctx, projectID)
	if err != nil {
		return nil, err
	}
	c.cacheRules.Set(projectID, rules)
	return rules, nil
}

// InvalidateProxyRules evicts a rule set immediately, called synchronously
// by the admin surface after any ProxyRule/ProxyRuleSet mutation.
func (c *Cache) InvalidateProxyRules(ruleSetID model.ID) {
	c.proxyRules.Delete(ruleSetID)
	c.generation.Add(1)
}

// InvalidateCacheRules evicts a project's cache rules immediately, called
// synchronously by the admin surface after any CacheRule mutation.
func (c *Cache) InvalidateCacheRules(projectID model.ID) {
	c.cacheRules.Delete(projectID)
	c.generation.Add(1)
}

// Generation returns the current invalidation generation counter, useful
// for tests and diagnostics.
func (c *Cache) Generation() int64 {
	return c.generation.Load()
}

// CompileProxyRules compiles a slice of model.ProxyRule into their cached
// form; extracted so both the Loader and tests can produce the same
// shape without going through a real repository.
func CompileProxyRules(rules []model.ProxyRule) []CompiledProxyRule {
	out := make([]CompiledProxyRule, 0, len(rules))
	for _, r := range rules {
		out = append(out, CompiledProxyRule{Rule: r, Pattern: glob.Compile(r.PathPattern)})
	}
	return out
}

// CompileCacheRules compiles a slice of model.CacheRule into their cached
// form.
func CompileCacheRules(rules []model.CacheRule) []CompiledCacheRule {
	out := make([]CompiledCacheRule, 0, len(rules))
	for _, r := range rules {
		out = append(out, CompiledCacheRule{Rule: r, Pattern: glob.Compile(r.PathPattern)})
	}
	return out
}
