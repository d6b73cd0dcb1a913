// Package router implements the request routing state machine (§4.F):
// host normalization, domain lookup, redirect short-circuit, alias/commit
// resolution, rule-set resolution, proxy rule evaluation, and asset
// dispatch with SPA fallback. It is the component everything else (proxy,
// cachehdr, formhandler) is invoked from.
package router

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/edgeserve/edgeserve/internal/apperr"
	"github.com/edgeserve/edgeserve/internal/model"
	"github.com/edgeserve/edgeserve/internal/repo"
	"github.com/edgeserve/edgeserve/internal/rulecache"
	"github.com/edgeserve/edgeserve/internal/visibility"
)

// ResultKind classifies how a resolved request should be handled next.
type ResultKind int

const (
	KindRedirect ResultKind = iota
	KindProxyExternal
	KindProxyInternalRewrite
	KindEmailForm
	KindAsset
)

// StickyCookieAction instructs the HTTP layer what to do with the sticky
// session cookie for this response: set it to bind the visitor to
// BindAliasID, or leave it alone (nil action).
type StickyCookieAction struct {
	BindAliasID string
	Duration    time.Duration
}

// Result is the outcome of resolving one request.
type Result struct {
	Kind ResultKind

	RedirectURL    string
	RedirectStatus int

	Project  model.Project
	Alias    model.DeploymentAlias
	Domain   model.DomainMapping
	Vis      visibility.Effective
	RulePath string // request path relative to domain path + alias base path

	ProxyRule *model.ProxyRule
	Asset     *model.Asset

	StickyCookie *StickyCookieAction
}

// Router resolves incoming (host, path) pairs against the persisted
// routing configuration.
type Router struct {
	store         *repo.Store
	rules         *rulecache.Cache
	primaryDomain string
}

// New builds a Router backed by store for persisted lookups and rules for
// compiled proxy/cache rule access. primaryDomain is the operator's
// configured base domain (PRIMARY_DOMAIN), consulted as a last-resort
// fallback when an incoming host has no domain mapping of its own
// (§4.F step 2); pass "" to disable the fallback.
func New(store *repo.Store, rules *rulecache.Cache, primaryDomain string) *Router {
	return &Router{store: store, rules: rules, primaryDomain: primaryDomain}
}

// ProductionAliasName is the conventional alias name a project-root domain
// mapping (one with no AliasID of its own) resolves to. Projects are
// expected to maintain an alias with this name pointing at whichever
// commit is currently "live".
const ProductionAliasName = "main"

// commitShaLength is the fixed length of a git commit SHA; a ref segment
// of exactly this many hex characters is treated as a commit, anything
// else as an alias name (§4.F step 4).
const commitShaLength = 40

// Resolve matches a request against either the /public/ direct-serving
// shapes (§6) or, failing that, domain_mappings, and returns how the
// request should be handled. stickyBoundAliasID is the alias ID carried
// by the request's sticky cookie, or "" (the cookie is verified in
// internal/crypto before Resolve is called).
// forwardedHost is the X-Forwarded-Host header value, consulted only by
// the /public/subdomain-alias/ shape when its alias name can't be
// resolved directly.
func (rt *Router) Resolve(ctx context.Context, hostHeader, urlPath, forwardedHost, stickyBoundAliasID string) (Result, error) {
	if strings.HasPrefix(urlPath, "/public/") {
		return rt.resolvePublicPath(ctx, urlPath, forwardedHost, stickyBoundAliasID)
	}
	return rt.resolveByDomain(ctx, hostHeader, urlPath, stickyBoundAliasID)
}

// resolveByDomain implements §4.F steps 1–3 and 6–9 for a request
// resolved purely via domain_mappings (custom domain, wildcard
// subdomain, or project-root redirect mapping).
func (rt *Router) resolveByDomain(ctx context.Context, hostHeader, urlPath, stickyBoundAliasID string) (Result, error) {
	host := NormalizeHost(hostHeader)

	mappings, err := rt.lookupMappingsWithFallback(ctx, host)
	if err != nil {
		return Result{}, fmt.Errorf("router: lookup domain %s: %w", host, err)
	}
	mapping, ok := pickMapping(mappings, urlPath)
	if !ok {
		return Result{}, apperr.New(apperr.KindNotFound, "DOMAIN_NOT_FOUND", "no active mapping for this host")
	}

	if mapping.DomainType == model.DomainRedirect {
		return Result{
			Kind:           KindRedirect,
			Domain:         mapping,
			RedirectURL:    composeRedirectURL(mapping, urlPath),
			RedirectStatus: 301,
		}, nil
	}

	project, alias, err := rt.resolveProjectAndAlias(ctx, mapping, stickyBoundAliasID)
	if err != nil {
		return Result{}, err
	}

	relPath := stripPrefixes(urlPath, mapping.Path, alias.BasePath)
	return rt.serveResolved(ctx, project, alias, mapping, relPath)
}

// lookupMappingsWithFallback tries host, then its www/non-www twin, then
// the operator's configured primary domain, returning the first
// non-empty result (§4.F step 2).
func (rt *Router) lookupMappingsWithFallback(ctx context.Context, host string) ([]model.DomainMapping, error) {
	mappings, err := rt.store.Domains.ByDomain(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(mappings) > 0 {
		return mappings, nil
	}

	if twin := wwwTwin(host); twin != host {
		mappings, err = rt.store.Domains.ByDomain(ctx, twin)
		if err != nil {
			return nil, err
		}
		if len(mappings) > 0 {
			return mappings, nil
		}
	}

	if rt.primaryDomain != "" && host != rt.primaryDomain {
		mappings, err = rt.store.Domains.ByDomain(ctx, rt.primaryDomain)
		if err != nil {
			return nil, err
		}
	}
	return mappings, nil
}

// wwwTwin toggles a host's leading "www." label, used to try the
// www/non-www counterpart of a host with no domain mapping of its own.
func wwwTwin(host string) string {
	if strings.HasPrefix(host, "www.") {
		return strings.TrimPrefix(host, "www.")
	}
	return "www." + host
}

// resolvePublicPath implements §4.F step 4-5 and §6's three /public/
// serving shapes: owner/repo scoped by ref or alias, and the wildcard
// subdomain-alias form.
func (rt *Router) resolvePublicPath(ctx context.Context, urlPath, forwardedHost, stickyBoundAliasID string) (Result, error) {
	segments := strings.Split(strings.Trim(strings.TrimPrefix(urlPath, "/public/"), "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return Result{}, apperr.New(apperr.KindBadRequest, "INVALID_PUBLIC_PATH", "public path has no owner/repo or subdomain-alias segment")
	}

	if segments[0] == "subdomain-alias" {
		return rt.resolveSubdomainAlias(ctx, segments[1:], forwardedHost, stickyBoundAliasID)
	}

	if len(segments) < 3 {
		return Result{}, apperr.New(apperr.KindBadRequest, "INVALID_PUBLIC_PATH", "public path must be /public/{owner}/{repo}/{ref|alias/name}/...")
	}
	project, err := rt.store.Projects.GetByOwnerName(ctx, segments[0], segments[1])
	if err != nil {
		return Result{}, err
	}

	var alias model.DeploymentAlias
	var subSegments []string
	if segments[2] == "alias" {
		if len(segments) < 4 {
			return Result{}, apperr.New(apperr.KindBadRequest, "INVALID_PUBLIC_PATH", "public alias path must be /public/{owner}/{repo}/alias/{name}/...")
		}
		alias, err = rt.store.Aliases.ByAlias(ctx, project.ID, segments[3])
		if err != nil {
			return Result{}, err
		}
		subSegments = segments[4:]
	} else {
		ref := segments[2]
		subSegments = segments[3:]
		if isCommitSHA(ref) {
			alias = model.DeploymentAlias{ProjectID: project.ID, CommitSha: ref}
		} else {
			alias, err = rt.store.Aliases.ByAlias(ctx, project.ID, ref)
			if err != nil {
				return Result{}, err
			}
		}
	}

	relPath := stripPrefixes("/"+strings.Join(subSegments, "/"), "", alias.BasePath)
	return rt.serveResolved(ctx, project, alias, model.DomainMapping{}, relPath)
}

// resolveSubdomainAlias implements the /public/subdomain-alias/{name}/...
// shape: an auto-preview alias looked up by name with no project
// context, falling back to resolving forwardedHost as an ordinary
// domain-mapped host when the name isn't found (§4.F step 4-5).
func (rt *Router) resolveSubdomainAlias(ctx context.Context, segments []string, forwardedHost, stickyBoundAliasID string) (Result, error) {
	if len(segments) == 0 || segments[0] == "" {
		return Result{}, apperr.New(apperr.KindBadRequest, "INVALID_PUBLIC_PATH", "subdomain-alias path must be /public/subdomain-alias/{name}/...")
	}
	aliasName := segments[0]
	subpath := "/" + strings.Join(segments[1:], "/")

	alias, ok, err := rt.store.Aliases.ByNameAnyProject(ctx, aliasName)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		if forwardedHost == "" {
			return Result{}, apperr.New(apperr.KindNotFound, "ALIAS_NOT_FOUND", "no auto-preview alias with this name")
		}
		return rt.resolveByDomain(ctx, forwardedHost, subpath, stickyBoundAliasID)
	}

	project, err := rt.store.Projects.Get(ctx, alias.ProjectID)
	if err != nil {
		return Result{}, err
	}
	relPath := stripPrefixes(subpath, "", alias.BasePath)
	return rt.serveResolved(ctx, project, alias, model.DomainMapping{}, relPath)
}

// isCommitSHA reports whether ref is a 40 hex-character commit SHA
// rather than an alias name (§4.F step 4).
func isCommitSHA(ref string) bool {
	if len(ref) != commitShaLength {
		return false
	}
	for _, c := range ref {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

// serveResolved implements the shared tail of §4.F (steps 6–9) once a
// project, alias, and relative request path are known, regardless of
// whether resolution came from a domain mapping (mapping is non-zero) or
// a direct /public/ path (mapping is the zero value).
func (rt *Router) serveResolved(ctx context.Context, project model.Project, alias model.DeploymentAlias, mapping model.DomainMapping, relPath string) (Result, error) {
	var domainPtr *model.DomainMapping
	if !model.ZeroID(mapping.ID) {
		domainPtr = &mapping
	}
	eff := visibility.Resolve(project, &alias, domainPtr)

	result := Result{
		Project:  project,
		Alias:    alias,
		Domain:   mapping,
		Vis:      eff,
		RulePath: relPath,
	}

	if mapping.StickySessions {
		result.StickyCookie = &StickyCookieAction{BindAliasID: alias.ID.String(), Duration: mapping.StickyDuration}
	}

	ruleSetID := alias.ProxyRuleSetID
	if ruleSetID == nil {
		ruleSetID = project.DefaultRuleSetID
	}
	if ruleSetID != nil {
		cr, matched, err := rt.matchProxyRule(ctx, *ruleSetID, relPath)
		if err != nil {
			return Result{}, err
		}
		if matched {
			return dispatchProxyRule(result, cr, relPath), nil
		}
	}

	asset, err := rt.resolveAsset(ctx, project.ID, alias.CommitSha, relPath, mapping.IsSpa)
	if err != nil {
		return Result{}, err
	}
	result.Kind = KindAsset
	result.Asset = asset
	return result, nil
}

// pickMapping returns the mapping among candidates (already ordered
// longest-path-first by the repository) whose Path is a prefix of
// urlPath, preferring the most specific (longest) match.
func pickMapping(candidates []model.DomainMapping, urlPath string) (model.DomainMapping, bool) {
	for _, m := range candidates {
		if m.Path == "" || m.Path == "/" {
			return m, true
		}
		if strings.HasPrefix(urlPath, m.Path) {
			return m, true
		}
	}
	return model.DomainMapping{}, false
}

func composeRedirectURL(mapping model.DomainMapping, urlPath string) string {
	target := strings.TrimSuffix(mapping.RedirectTarget, "/")
	remainder := strings.TrimPrefix(urlPath, mapping.Path)
	if remainder == "" {
		return target + "/"
	}
	return target + remainder
}

func (rt *Router) resolveProjectAndAlias(ctx context.Context, mapping model.DomainMapping, stickyBoundAliasID string) (model.Project, model.DeploymentAlias, error) {
	var projectID model.ID
	var alias model.DeploymentAlias
	var err error

	switch {
	case mapping.AliasID != nil:
		alias, err = rt.store.Aliases.Get(ctx, *mapping.AliasID)
		if err != nil {
			return model.Project{}, model.DeploymentAlias{}, err
		}
		projectID = alias.ProjectID
	case mapping.ProjectID != nil:
		projectID = *mapping.ProjectID
		alias, err = rt.resolveNominalAlias(ctx, projectID, stickyBoundAliasID)
		if err != nil {
			return model.Project{}, model.DeploymentAlias{}, err
		}
	default:
		return model.Project{}, model.DeploymentAlias{}, apperr.New(apperr.KindInternal, "DOMAIN_MAPPING_INCOMPLETE", "domain mapping has neither project nor alias")
	}

	project, err := rt.store.Projects.Get(ctx, projectID)
	if err != nil {
		return model.Project{}, model.DeploymentAlias{}, err
	}
	return project, alias, nil
}

// resolveNominalAlias implements sticky-session alias pinning for
// project-root domain mappings: if the visitor already carries a valid
// sticky cookie bound to an alias of this project, that exact alias is
// reused (so a mid-rollout swap of which alias is "main" doesn't yank an
// in-progress session onto a different commit); otherwise the
// conventional production alias is resolved by name.
func (rt *Router) resolveNominalAlias(ctx context.Context, projectID model.ID, stickyBoundAliasID string) (model.DeploymentAlias, error) {
	if stickyBoundAliasID != "" {
		if boundID, err := model.ParseID(stickyBoundAliasID); err == nil {
			if alias, err := rt.store.Aliases.Get(ctx, boundID); err == nil && alias.ProjectID == projectID {
				return alias, nil
			}
		}
	}
	return rt.store.Aliases.ByAlias(ctx, projectID, ProductionAliasName)
}

func stripPrefixes(urlPath, domainPath, aliasBasePath string) string {
	p := strings.TrimPrefix(urlPath, domainPath)
	p = strings.TrimPrefix(p, aliasBasePath)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

func (rt *Router) matchProxyRule(ctx context.Context, ruleSetID model.ID, relPath string) (rulecache.CompiledProxyRule, bool, error) {
	compiled, err := rt.rules.ProxyRules(ctx, ruleSetID)
	if err != nil {
		return rulecache.CompiledProxyRule{}, false, fmt.Errorf("router: load proxy rules: %w", err)
	}
	for _, cr := range compiled {
		if !cr.Rule.IsEnabled {
			continue
		}
		if cr.Pattern.Match(relPath) {
			return cr, true, nil
		}
	}
	return rulecache.CompiledProxyRule{}, false, nil
}

func dispatchProxyRule(result Result, cr rulecache.CompiledProxyRule, relPath string) Result {
	rule := cr.Rule
	result.ProxyRule = &rule
	switch rule.ProxyType {
	case model.ProxyExternal:
		result.Kind = KindProxyExternal
		if rule.StripPrefix {
			result.RulePath = cr.Pattern.StripPrefix(relPath)
		}
	case model.ProxyEmailForm:
		result.Kind = KindEmailForm
	case model.ProxyInternalRewrite:
		result.Kind = KindProxyInternalRewrite
		if rule.StripPrefix {
			result.RulePath = cr.Pattern.StripPrefix(relPath)
		}
	}
	return result
}

func (rt *Router) resolveAsset(ctx context.Context, projectID model.ID, commitSha, relPath string, isSpa bool) (*model.Asset, error) {
	asset, ok, err := rt.store.Assets.ByPublicPath(ctx, projectID, commitSha, relPath)
	if err != nil {
		return nil, fmt.Errorf("router: lookup asset: %w", err)
	}
	if ok {
		return &asset, nil
	}
	if !isSpa {
		return nil, apperr.New(apperr.KindNotFound, "ASSET_NOT_FOUND", "no asset at this path")
	}
	asset, ok, err = rt.store.Assets.ByPublicPath(ctx, projectID, commitSha, "/index.html")
	if err != nil {
		return nil, fmt.Errorf("router: lookup spa fallback: %w", err)
	}
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "ASSET_NOT_FOUND", "no index.html for spa fallback")
	}
	return &asset, nil
}
