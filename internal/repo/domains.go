package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/edgeserve/edgeserve/internal/apperr"
	"github.com/edgeserve/edgeserve/internal/model"
)

// DomainRepo persists model.DomainMapping rows.
type DomainRepo struct {
	db *sql.DB
}

const domainColumns = `id, project_id, alias_id, path, domain, domain_type, redirect_target, is_active, is_public, is_spa, is_primary, www_behavior, sticky_sessions, sticky_duration_ns, created_at_ns`

// Create inserts a new domain mapping.
func (r *DomainRepo) Create(ctx context.Context, d model.DomainMapping) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO domain_mappings (`+domainColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID.String(), idPtrToNullString(d.ProjectID), idPtrToNullString(d.AliasID), d.Path, d.Domain, string(d.DomainType),
		d.RedirectTarget, boolToInt(d.IsActive), boolPtrToNull(d.IsPublic), boolToInt(d.IsSpa), boolToInt(d.IsPrimary),
		string(d.WWWBehavior), boolToInt(d.StickySessions), int64(d.StickyDuration), d.CreatedAtNs,
	)
	if err != nil {
		return fmt.Errorf("insert domain mapping: %w", err)
	}
	return nil
}

func scanDomain(row rowScanner) (model.DomainMapping, error) {
	var d model.DomainMapping
	var idStr string
	var projectID, aliasID sql.NullString
	var domainType, wwwBehavior string
	var isActive, isSpa, isPrimary, stickySessions int64
	var stickyDurationNs int64
	var isPublic sql.NullInt64
	if err := row.Scan(&idStr, &projectID, &aliasID, &d.Path, &d.Domain, &domainType, &d.RedirectTarget,
		&isActive, &isPublic, &isSpa, &isPrimary, &wwwBehavior, &stickySessions, &stickyDurationNs, &d.CreatedAtNs); err != nil {
		return model.DomainMapping{}, err
	}
	id, err := model.ParseID(idStr)
	if err != nil {
		return model.DomainMapping{}, fmt.Errorf("parse domain mapping id: %w", err)
	}
	d.ID = id
	if d.ProjectID, err = nullStringToIDPtr(projectID); err != nil {
		return model.DomainMapping{}, err
	}
	if d.AliasID, err = nullStringToIDPtr(aliasID); err != nil {
		return model.DomainMapping{}, err
	}
	d.DomainType = model.DomainType(domainType)
	d.WWWBehavior = model.WWWBehavior(wwwBehavior)
	d.IsActive = intToBool(isActive)
	d.IsPublic = nullToBoolPtr(isPublic)
	d.IsSpa = intToBool(isSpa)
	d.IsPrimary = intToBool(isPrimary)
	d.StickySessions = intToBool(stickySessions)
	d.StickyDuration = time.Duration(stickyDurationNs)
	return d, nil
}

// ByDomain returns every active mapping for a host, ordered longest-path
// first so the router can pick the most specific path match.
func (r *DomainRepo) ByDomain(ctx context.Context, domain string) ([]model.DomainMapping, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+domainColumns+` FROM domain_mappings
		WHERE domain = ? AND is_active = 1
		ORDER BY length(path) DESC`, domain)
	if err != nil {
		return nil, fmt.Errorf("query domain mappings: %w", err)
	}
	defer rows.Close()

	var out []model.DomainMapping
	for rows.Next() {
		d, err := scanDomain(rows)
		if err != nil {
			return nil, fmt.Errorf("scan domain mapping: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Get looks up a domain mapping by ID.
func (r *DomainRepo) Get(ctx context.Context, id model.ID) (model.DomainMapping, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+domainColumns+` FROM domain_mappings WHERE id = ?`, id.String())
	d, err := scanDomain(row)
	if err == sql.ErrNoRows {
		return model.DomainMapping{}, apperr.New(apperr.KindNotFound, "DOMAIN_NOT_FOUND", "domain mapping not found")
	}
	if err != nil {
		return model.DomainMapping{}, fmt.Errorf("scan domain mapping: %w", err)
	}
	return d, nil
}

// Delete removes a domain mapping.
func (r *DomainRepo) Delete(ctx context.Context, id model.ID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM domain_mappings WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete domain mapping: %w", err)
	}
	return requireRowsAffected(res, "domain mapping")
}
