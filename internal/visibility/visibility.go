// Package visibility implements the domain -> alias -> project precedence
// chain (§4.E) that resolves the three effective visibility knobs a
// request is judged against: isPublic, unauthorizedBehavior, and
// requiredRole. The alias tier may override any of the three, or leave a
// nil pointer meaning "inherit from the project". The domain tier carries
// only an isPublic override; unauthorizedBehavior and requiredRole are
// never taken from the domain mapping.
package visibility

import "github.com/edgeserve/edgeserve/internal/model"

// Effective is the fully-resolved visibility decision for one request,
// plus which tier produced each field, so the caller can log/debug why a
// request was allowed or denied.
type Effective struct {
	IsPublic             bool
	IsPublicSource       model.VisibilitySource
	UnauthorizedBehavior model.UnauthorizedBehavior
	UnauthorizedSource   model.VisibilitySource
	RequiredRole         model.Role
	RequiredRoleSource   model.VisibilitySource
}

// Resolve computes the effective visibility for a request matched to
// project, optionally an alias, and optionally a domain mapping. domain
// and alias may be nil (e.g. a raw storage-key request with no domain
// mapping); project must always be supplied since it carries the
// ground-truth defaults.
func Resolve(project model.Project, alias *model.DeploymentAlias, domain *model.DomainMapping) Effective {
	eff := Effective{
		IsPublic:             project.IsPublic,
		IsPublicSource:       model.SourceProject,
		UnauthorizedBehavior: project.UnauthorizedBehavior,
		UnauthorizedSource:   model.SourceProject,
		RequiredRole:         project.RequiredRole,
		RequiredRoleSource:   model.SourceProject,
	}

	if alias != nil {
		if alias.IsPublic != nil {
			eff.IsPublic = *alias.IsPublic
			eff.IsPublicSource = model.SourceAlias
		}
		if alias.UnauthorizedBehavior != nil {
			eff.UnauthorizedBehavior = *alias.UnauthorizedBehavior
			eff.UnauthorizedSource = model.SourceAlias
		}
		if alias.RequiredRole != nil {
			eff.RequiredRole = *alias.RequiredRole
			eff.RequiredRoleSource = model.SourceAlias
		}
	}

	if domain != nil {
		if domain.IsPublic != nil {
			eff.IsPublic = *domain.IsPublic
			eff.IsPublicSource = model.SourceDomain
		}
	}

	return eff
}
