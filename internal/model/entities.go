package model

import "time"

// Project is the tenant unit. (owner, name) is unique.
type Project struct {
	ID                   ID
	Owner                string
	Name                 string
	IsPublic             bool
	UnauthorizedBehavior UnauthorizedBehavior
	RequiredRole         Role
	DefaultRuleSetID      *ID
	StorageQuotaBytes    int64
	CreatedAtNs          int64
}

func (p Project) CreatedAt() time.Time { return time.Unix(0, p.CreatedAtNs).UTC() }

// Asset is a single stored file belonging to a project.
type Asset struct {
	ID           ID
	ProjectID    ID
	FileName     string
	StorageKey   string
	MimeType     string
	Size         int64
	ContentHash  string // MD5, hex-encoded
	CommitSha    string // empty for upload-scoped assets
	Branch       string
	DeploymentID *ID
	PublicPath   string
	UploadedBy   *ID
	CreatedAtNs  int64
}

func (a Asset) CreatedAt() time.Time { return time.Unix(0, a.CreatedAtNs).UTC() }

// DeploymentAlias is a mutable human-readable pointer at an immutable
// commit. (projectId, alias) is unique. Nil override fields mean "inherit
// from project".
type DeploymentAlias struct {
	ID                   ID
	ProjectID            ID
	Alias                string
	CommitSha            string
	DeploymentID         ID
	IsAutoPreview        bool
	BasePath             string
	ProxyRuleSetID       *ID
	IsPublic             *bool
	UnauthorizedBehavior *UnauthorizedBehavior
	RequiredRole         *Role
	CreatedAtNs          int64
}

func (a DeploymentAlias) CreatedAt() time.Time { return time.Unix(0, a.CreatedAtNs).UTC() }

// DomainMapping binds an external domain (or platform subdomain) to a
// project/alias/path. domain is globally unique; at most one row has
// IsPrimary true.
type DomainMapping struct {
	ID              ID
	ProjectID       *ID
	AliasID         *ID
	Path            string
	Domain          string
	DomainType      DomainType
	RedirectTarget  string
	IsActive        bool
	IsPublic        *bool
	IsSpa           bool
	IsPrimary       bool
	WWWBehavior     WWWBehavior
	StickySessions  bool
	StickyDuration  time.Duration
	CreatedAtNs     int64
}

func (d DomainMapping) CreatedAt() time.Time { return time.Unix(0, d.CreatedAtNs).UTC() }

// ProxyRuleSet is a named, reusable collection of ProxyRule rows.
// (projectId, name) is unique.
type ProxyRuleSet struct {
	ID          ID
	ProjectID   ID
	Name        string
	Environment string
	CreatedAtNs int64
}

// HeaderConfig describes the header transformation a ProxyRule applies.
// Add holds plaintext values in-process; at rest, the repository layer
// stores the encrypted wire form (see internal/crypto) and decrypts on
// load.
type HeaderConfig struct {
	Forward []string
	Strip   []string
	Add     map[string]string
}

// ProxyRule is one reverse-proxy rule within a ProxyRuleSet.
// (ruleSetId, pathPattern) is unique; evaluation is ascending by Order,
// first enabled match wins.
type ProxyRule struct {
	ID                ID
	RuleSetID         ID
	PathPattern       string
	TargetURL         string
	ProxyType         ProxyKind
	StripPrefix       bool
	Order             int
	TimeoutMs         int
	PreserveHost      bool
	ForwardCookies    bool
	HeaderConfig      HeaderConfig
	AuthTransformKind AuthTransformKind
	AuthTransformArg  string // cookie name, for cookie-to-bearer
	EmailHandlerConfig *EmailHandlerConfig
	IsEnabled         bool
	CreatedAtNs       int64
}

// EmailHandlerConfig configures an email_form_handler ProxyRule.
type EmailHandlerConfig struct {
	DestinationEmail string
	RequireAuth      bool
	HoneypotField    string
	ReplyToField     string
	CorsOrigin       string
	SuccessRedirect  string
}

// CacheRule is one Cache-Control synthesis rule scoped to a project.
type CacheRule struct {
	ID                   ID
	ProjectID            ID
	PathPattern          string
	BrowserMaxAge        int
	CDNMaxAge            *int
	StaleWhileRevalidate *int
	Immutable            bool
	Cacheability         Cacheability
	Priority             int
	IsEnabled            bool
	CreatedAtNs          int64
}

// RetentionRule declares the retention policy for one project.
type RetentionRule struct {
	ID                 ID
	ProjectID          ID
	Name               string
	BranchPattern      string
	ExcludeBranches    []string
	RetentionDays      int
	KeepWithAlias      bool
	KeepMinimum        int
	PathPatterns       []string
	PathMode           PathMode
	Enabled            bool
	LastRunAtNs        *int64
	NextRunAtNs        int64
	ExecutionStartedAtNs *int64
	LastRunSummary     string // JSON-encoded RetentionSummary
}

// RetentionSummary is the JSON shape stored in RetentionRule.LastRunSummary.
type RetentionSummary struct {
	CommitsDeleted int      `json:"commitsDeleted"`
	AssetsDeleted  int      `json:"assetsDeleted"`
	BytesFreed     int64    `json:"bytesFreed"`
	Errors         []string `json:"errors,omitempty"`
	DryRun         bool     `json:"dryRun"`
	FinishedAtNs   int64    `json:"finishedAtNs"`
}

// RetentionLog is an append-only audit row written for every commit (or
// partial-file set) a retention run deletes.
type RetentionLog struct {
	ID          ID
	ProjectID   ID
	RuleID      *ID
	CommitSha   string
	Branch      string
	AssetCount  int
	FreedBytes  int64
	IsPartial   bool
	DeletedAtNs int64
}

// APIKeyRecord is the fingerprint-indexed half of API key verification
// (Design Note: key by fingerprint for O(1) lookup instead of scanning
// every key and bcrypt-verifying against each).
type APIKeyRecord struct {
	ID           ID
	ProjectID    ID
	Fingerprint  string // hex xxh3 of the raw key
	VerifierHash string // external verifier's slow hash, opaque to us
	CreatedAtNs  int64
	RevokedAtNs  *int64
}
