package model

// UnauthorizedBehavior controls what happens when a visitor lacks the
// required role to view a project's content.
type UnauthorizedBehavior string

const (
	UnauthorizedNotFound      UnauthorizedBehavior = "not_found"
	UnauthorizedRedirectLogin UnauthorizedBehavior = "redirect_login"
)

// Role is the capability level a user holds on a project, in ascending
// order of privilege.
type Role string

const (
	RoleAuthenticated Role = "authenticated"
	RoleViewer        Role = "viewer"
	RoleContributor   Role = "contributor"
	RoleAdmin         Role = "admin"
	RoleOwner         Role = "owner"
)

var roleRank = map[Role]int{
	RoleAuthenticated: 0,
	RoleViewer:        1,
	RoleContributor:   2,
	RoleAdmin:         3,
	RoleOwner:         4,
}

// Satisfies reports whether held meets or exceeds required.
func (held Role) Satisfies(required Role) bool {
	return roleRank[held] >= roleRank[required]
}

// DomainType classifies a DomainMapping row.
type DomainType string

const (
	DomainSubdomain DomainType = "subdomain"
	DomainCustom    DomainType = "custom"
	DomainRedirect  DomainType = "redirect"
)

// WWWBehavior controls how the www/non-www twin of a custom domain is
// handled.
type WWWBehavior string

const (
	WWWBehaviorNone       WWWBehavior = ""
	WWWBehaviorRedirectTo WWWBehavior = "redirect_to_www"
	WWWBehaviorRedirectOf WWWBehavior = "redirect_to_non_www"
)

// ProxyKind is the behavior of a ProxyRule on a match.
type ProxyKind string

const (
	ProxyExternal        ProxyKind = "external_proxy"
	ProxyInternalRewrite ProxyKind = "internal_rewrite"
	ProxyEmailForm       ProxyKind = "email_form_handler"
)

// Cacheability is the explicit public/private override of a CacheRule.
type Cacheability string

const (
	CacheabilityInherit Cacheability = "inherit"
	CacheabilityPublic  Cacheability = "public"
	CacheabilityPrivate Cacheability = "private"
)

// PathMode controls how RetentionRule.pathPatterns is interpreted.
type PathMode string

const (
	PathModeNone    PathMode = ""
	PathModeInclude PathMode = "include"
	PathModeExclude PathMode = "exclude"
)

// AuthTransformKind is the kind of outbound authorization rewrite a
// ProxyRule may apply.
type AuthTransformKind string

const (
	AuthTransformNone         AuthTransformKind = ""
	AuthTransformCookieBearer AuthTransformKind = "cookie-to-bearer"
)

// VisibilitySource records which tier of the domain -> alias -> project
// chain produced an effective visibility value, for observability.
type VisibilitySource string

const (
	SourceDomain  VisibilitySource = "domain"
	SourceAlias   VisibilitySource = "alias"
	SourceProject VisibilitySource = "project"
)
