// Package adminapi defines the contract an external CRUD surface must
// satisfy to mutate the serving core's configuration without violating
// the invariants the read path (router, proxy, cachehdr) relies on (§6
// [EXPANSION]). It is interfaces, request/response DTOs, and
// invariant-checking validators only — no handler bodies; implementing
// the CRUD surface itself (HTTP transport, persistence, authz enforcement
// per request) is out of scope per §1.
package adminapi

import (
	"context"
	"fmt"
	"strings"

	"github.com/edgeserve/edgeserve/internal/model"
)

// ProjectAdmin manages Project rows.
type ProjectAdmin interface {
	Create(ctx context.Context, req CreateProjectRequest) (model.Project, error)
	Update(ctx context.Context, id model.ID, req UpdateProjectRequest) (model.Project, error)
	Delete(ctx context.Context, id model.ID) error
}

// CreateProjectRequest is the input DTO for ProjectAdmin.Create.
type CreateProjectRequest struct {
	Owner                string
	Name                 string
	IsPublic             bool
	UnauthorizedBehavior model.UnauthorizedBehavior
	RequiredRole         model.Role
	StorageQuotaBytes    int64
}

// UpdateProjectRequest is the input DTO for ProjectAdmin.Update. Nil
// fields mean "leave unchanged".
type UpdateProjectRequest struct {
	IsPublic             *bool
	UnauthorizedBehavior *model.UnauthorizedBehavior
	RequiredRole         *model.Role
	DefaultRuleSetID     *model.ID
	StorageQuotaBytes    *int64
}

// ProxyRuleSetAdmin manages ProxyRuleSet rows and the ProxyRule rows they
// contain. Every mutating method must call
// rulecache.Cache.InvalidateProxyRules(ruleSetID) synchronously, before
// returning success, so a reader can never observe a rule set older than
// the write that just completed (§5).
type ProxyRuleSetAdmin interface {
	CreateRuleSet(ctx context.Context, req CreateProxyRuleSetRequest) (model.ProxyRuleSet, error)
	DeleteRuleSet(ctx context.Context, id model.ID) error

	PutRule(ctx context.Context, ruleSetID model.ID, req PutProxyRuleRequest) (model.ProxyRule, error)
	DeleteRule(ctx context.Context, ruleSetID model.ID, ruleID model.ID) error
}

// CreateProxyRuleSetRequest is the input DTO for creating a ProxyRuleSet.
type CreateProxyRuleSetRequest struct {
	ProjectID   model.ID
	Name        string
	Environment string
}

// PutProxyRuleRequest is the input DTO for creating or replacing a
// ProxyRule within a rule set.
type PutProxyRuleRequest struct {
	PathPattern        string
	TargetURL          string
	ProxyType          model.ProxyKind
	StripPrefix        bool
	Order              int
	TimeoutMs          int
	PreserveHost       bool
	ForwardCookies     bool
	HeaderConfig       model.HeaderConfig
	AuthTransformKind  model.AuthTransformKind
	AuthTransformArg   string
	EmailHandlerConfig *model.EmailHandlerConfig
	IsEnabled          bool
}

// CacheRuleAdmin manages CacheRule rows. Every mutating method must call
// rulecache.Cache.InvalidateCacheRules(projectID) synchronously.
type CacheRuleAdmin interface {
	Put(ctx context.Context, projectID model.ID, req PutCacheRuleRequest) (model.CacheRule, error)
	Delete(ctx context.Context, projectID model.ID, ruleID model.ID) error
}

// PutCacheRuleRequest is the input DTO for creating or replacing a
// CacheRule.
type PutCacheRuleRequest struct {
	PathPattern          string
	BrowserMaxAge        int
	CDNMaxAge            *int
	StaleWhileRevalidate *int
	Immutable            bool
	Cacheability         model.Cacheability
	Priority             int
	IsEnabled            bool
}

// AliasAdmin manages DeploymentAlias rows. Repointing an alias
// (Upsert-by-name) is the core of a deploy/rollback and takes effect for
// the very next request, per §5 "propagation delay: immediate".
type AliasAdmin interface {
	Upsert(ctx context.Context, req UpsertAliasRequest) (model.DeploymentAlias, error)
	Delete(ctx context.Context, id model.ID) error
}

// UpsertAliasRequest is the input DTO for AliasAdmin.Upsert.
type UpsertAliasRequest struct {
	ProjectID            model.ID
	Alias                string
	CommitSha            string
	DeploymentID         model.ID
	IsAutoPreview        bool
	BasePath             string
	ProxyRuleSetID       *model.ID
	IsPublic             *bool
	UnauthorizedBehavior *model.UnauthorizedBehavior
	RequiredRole         *model.Role
}

// DomainAdmin manages DomainMapping rows.
type DomainAdmin interface {
	Create(ctx context.Context, req CreateDomainMappingRequest) (model.DomainMapping, error)
	Delete(ctx context.Context, id model.ID) error
}

// CreateDomainMappingRequest is the input DTO for DomainAdmin.Create.
type CreateDomainMappingRequest struct {
	ProjectID      *model.ID
	AliasID        *model.ID
	Path           string
	Domain         string
	DomainType     model.DomainType
	RedirectTarget string
	IsPublic       *bool
	IsSpa          bool
	IsPrimary      bool
	WWWBehavior    model.WWWBehavior
	StickySessions bool
	StickyDuration int64 // nanoseconds; converted by the caller
}

// RetentionRuleAdmin manages RetentionRule rows.
type RetentionRuleAdmin interface {
	Put(ctx context.Context, req PutRetentionRuleRequest) (model.RetentionRule, error)
	Delete(ctx context.Context, id model.ID) error
}

// PutRetentionRuleRequest is the input DTO for RetentionRuleAdmin.Put.
type PutRetentionRuleRequest struct {
	ProjectID       model.ID
	Name            string
	BranchPattern   string
	ExcludeBranches []string
	RetentionDays   int
	KeepWithAlias   bool
	KeepMinimum     int
	PathPatterns    []string
	PathMode        model.PathMode
	Enabled         bool
}

// APIKeyAdmin manages APIKeyRecord rows. Create/Revoke must call
// authz.APIKeyIndex.Put/Remove synchronously so a key becomes usable (or
// stops being usable) on the very next request.
type APIKeyAdmin interface {
	Create(ctx context.Context, projectID model.ID, rawKey string) (model.APIKeyRecord, error)
	Revoke(ctx context.Context, id model.ID) error
}

// ValidateProxyRuleSet reports the first invariant violation found in a
// candidate rule list for one rule set: a duplicate pathPattern or a
// duplicate Order value (either would make "first enabled match wins"
// ambiguous at evaluation time, §4.F), or an email-form rule with no
// EmailHandlerConfig. Returns nil if the set is internally consistent.
func ValidateProxyRuleSet(rules []model.ProxyRule) error {
	seenPattern := make(map[string]bool, len(rules))
	seenOrder := make(map[int]bool, len(rules))
	for _, r := range rules {
		if seenPattern[r.PathPattern] {
			return fmt.Errorf("adminapi: duplicate path pattern %q in rule set", r.PathPattern)
		}
		seenPattern[r.PathPattern] = true
		if seenOrder[r.Order] {
			return fmt.Errorf("adminapi: duplicate order %d in rule set", r.Order)
		}
		seenOrder[r.Order] = true
		if r.ProxyType == model.ProxyEmailForm && r.EmailHandlerConfig == nil {
			return fmt.Errorf("adminapi: rule %q is email_form_handler but has no EmailHandlerConfig", r.PathPattern)
		}
	}
	return nil
}

// ValidateAliasName rejects alias names that would collide with the
// router's reserved production-alias convention in a way the caller
// probably didn't intend (empty name, or the reserved name reused with a
// different casing than the canonical one).
func ValidateAliasName(alias string) error {
	if alias == "" {
		return fmt.Errorf("adminapi: alias name must not be empty")
	}
	// "main" is router.ProductionAliasName.
	if alias != "main" && strings.EqualFold(alias, "main") {
		return fmt.Errorf("adminapi: alias name %q differs from the reserved %q only by case", alias, "main")
	}
	return nil
}

// ValidateDomainMapping rejects a mapping that would violate the
// project/alias exclusivity invariant (exactly one of ProjectID, AliasID
// set) or the custom-domain-must-be-public rule from §4.E.
func ValidateDomainMapping(req CreateDomainMappingRequest, targetIsPublic bool) error {
	if (req.ProjectID == nil) == (req.AliasID == nil) {
		return fmt.Errorf("adminapi: domain mapping must set exactly one of ProjectID or AliasID")
	}
	if req.Domain == "" {
		return fmt.Errorf("adminapi: domain must not be empty")
	}
	if !targetIsPublic {
		return fmt.Errorf("adminapi: custom domain mappings require the target to be public (session cookies cannot cross origins)")
	}
	return nil
}

// ValidateRetentionRule rejects a retention rule whose path filter is
// inconsistent (PathMode set without patterns, or vice versa).
func ValidateRetentionRule(req PutRetentionRuleRequest) error {
	hasMode := req.PathMode != model.PathModeNone
	hasPatterns := len(req.PathPatterns) > 0
	if hasMode != hasPatterns {
		return fmt.Errorf("adminapi: PathMode and PathPatterns must be set together or not at all")
	}
	if req.RetentionDays <= 0 {
		return fmt.Errorf("adminapi: RetentionDays must be positive")
	}
	return nil
}
