package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/edgeserve/edgeserve/internal/apperr"
	"github.com/edgeserve/edgeserve/internal/model"
)

// AliasRepo persists model.DeploymentAlias rows.
type AliasRepo struct {
	db *sql.DB
}

const aliasColumns = `id, project_id, alias, commit_sha, deployment_id, is_auto_preview, base_path, proxy_rule_set_id, is_public, unauthorized_behavior, required_role, created_at_ns`

// Upsert creates or repoints an alias (e.g. "main" moving to a new commit
// on every push).
func (r *AliasRepo) Upsert(ctx context.Context, a model.DeploymentAlias) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO deployment_aliases (`+aliasColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, alias) DO UPDATE SET
			commit_sha = excluded.commit_sha,
			deployment_id = excluded.deployment_id,
			is_auto_preview = excluded.is_auto_preview,
			base_path = excluded.base_path,
			proxy_rule_set_id = excluded.proxy_rule_set_id,
			is_public = excluded.is_public,
			unauthorized_behavior = excluded.unauthorized_behavior,
			required_role = excluded.required_role`,
		a.ID.String(), a.ProjectID.String(), a.Alias, a.CommitSha, a.DeploymentID.String(), boolToInt(a.IsAutoPreview), a.BasePath,
		idPtrToNullString(a.ProxyRuleSetID), boolPtrToNull(a.IsPublic), nullableUnauthorizedBehavior(a.UnauthorizedBehavior), nullableRole(a.RequiredRole), a.CreatedAtNs,
	)
	if err != nil {
		return fmt.Errorf("upsert alias: %w", err)
	}
	return nil
}

func nullableUnauthorizedBehavior(b *model.UnauthorizedBehavior) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*b), Valid: true}
}

func nullableRole(r *model.Role) sql.NullString {
	if r == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*r), Valid: true}
}

func scanAlias(row rowScanner) (model.DeploymentAlias, error) {
	var a model.DeploymentAlias
	var idStr, projectIDStr, deploymentIDStr string
	var ruleSetID, unauthorizedBehavior, requiredRole sql.NullString
	var isPublic sql.NullInt64
	var isAutoPreview int64
	if err := row.Scan(&idStr, &projectIDStr, &a.Alias, &a.CommitSha, &deploymentIDStr, &isAutoPreview, &a.BasePath,
		&ruleSetID, &isPublic, &unauthorizedBehavior, &requiredRole, &a.CreatedAtNs); err != nil {
		return model.DeploymentAlias{}, err
	}
	id, err := model.ParseID(idStr)
	if err != nil {
		return model.DeploymentAlias{}, fmt.Errorf("parse alias id: %w", err)
	}
	projectID, err := model.ParseID(projectIDStr)
	if err != nil {
		return model.DeploymentAlias{}, fmt.Errorf("parse alias project id: %w", err)
	}
	deploymentID, err := model.ParseID(deploymentIDStr)
	if err != nil {
		return model.DeploymentAlias{}, fmt.Errorf("parse alias deployment id: %w", err)
	}
	a.ID, a.ProjectID, a.DeploymentID = id, projectID, deploymentID
	a.IsAutoPreview = intToBool(isAutoPreview)
	if a.ProxyRuleSetID, err = nullStringToIDPtr(ruleSetID); err != nil {
		return model.DeploymentAlias{}, err
	}
	a.IsPublic = nullToBoolPtr(isPublic)
	if unauthorizedBehavior.Valid {
		v := model.UnauthorizedBehavior(unauthorizedBehavior.String)
		a.UnauthorizedBehavior = &v
	}
	if requiredRole.Valid {
		v := model.Role(requiredRole.String)
		a.RequiredRole = &v
	}
	return a, nil
}

// ByAlias looks up the alias within a project by its human name.
func (r *AliasRepo) ByAlias(ctx context.Context, projectID model.ID, alias string) (model.DeploymentAlias, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+aliasColumns+` FROM deployment_aliases WHERE project_id = ? AND alias = ?`, projectID.String(), alias)
	a, err := scanAlias(row)
	if err == sql.ErrNoRows {
		return model.DeploymentAlias{}, apperr.New(apperr.KindNotFound, "ALIAS_NOT_FOUND", "alias not found")
	}
	if err != nil {
		return model.DeploymentAlias{}, fmt.Errorf("scan alias: %w", err)
	}
	return a, nil
}

// Get looks up an alias by ID.
func (r *AliasRepo) Get(ctx context.Context, id model.ID) (model.DeploymentAlias, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+aliasColumns+` FROM deployment_aliases WHERE id = ?`, id.String())
	a, err := scanAlias(row)
	if err == sql.ErrNoRows {
		return model.DeploymentAlias{}, apperr.New(apperr.KindNotFound, "ALIAS_NOT_FOUND", "alias not found")
	}
	if err != nil {
		return model.DeploymentAlias{}, fmt.Errorf("scan alias: %w", err)
	}
	return a, nil
}

// ListByProject returns every alias in a project, used by retention to
// determine which commits are pinned by a live alias (KeepWithAlias).
func (r *AliasRepo) ListByProject(ctx context.Context, projectID model.ID) ([]model.DeploymentAlias, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+aliasColumns+` FROM deployment_aliases WHERE project_id = ?`, projectID.String())
	if err != nil {
		return nil, fmt.Errorf("query aliases by project: %w", err)
	}
	defer rows.Close()

	var out []model.DeploymentAlias
	for rows.Next() {
		a, err := scanAlias(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alias: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ByNameAnyProject looks up an auto-preview alias by name alone, with no
// project context, the shape a wildcard preview subdomain
// (/public/subdomain-alias/{aliasName}/...) carries: the auto-preview
// naming scheme generates effectively-unique names so the first match
// is taken (no index covers alias alone), but it is restricted to
// is_auto_preview rows since alias names are otherwise only unique
// per-project. ok is false if no auto-preview alias has this name.
func (r *AliasRepo) ByNameAnyProject(ctx context.Context, alias string) (model.DeploymentAlias, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+aliasColumns+` FROM deployment_aliases
		WHERE alias = ? AND is_auto_preview = 1 LIMIT 1`, alias)
	a, err := scanAlias(row)
	if err == sql.ErrNoRows {
		return model.DeploymentAlias{}, false, nil
	}
	if err != nil {
		return model.DeploymentAlias{}, false, fmt.Errorf("scan alias: %w", err)
	}
	return a, true, nil
}

// DeleteByCommit removes every auto-preview alias in projectID pointing at
// commitSha. Called by the retention engine's full-mode commit delete
// (§4.J step 6) so a deleted commit never leaves a dangling preview
// alias behind; non-auto-preview aliases (e.g. "production") are never
// touched here even if they happen to point at the deleted commit, since
// a pinned non-preview alias keeps its commit out of the deletion set in
// the first place.
func (r *AliasRepo) DeleteByCommit(ctx context.Context, projectID model.ID, commitSha string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM deployment_aliases WHERE project_id = ? AND commit_sha = ? AND is_auto_preview = 1`,
		projectID.String(), commitSha,
	)
	if err != nil {
		return fmt.Errorf("delete aliases by commit: %w", err)
	}
	return nil
}

// Delete removes an alias.
func (r *AliasRepo) Delete(ctx context.Context, id model.ID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM deployment_aliases WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete alias: %w", err)
	}
	return requireRowsAffected(res, "alias")
}
