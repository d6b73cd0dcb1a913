package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/edgeserve/edgeserve/internal/apperr"
	"github.com/edgeserve/edgeserve/internal/model"
)

// ProjectRepo persists model.Project rows.
type ProjectRepo struct {
	db *sql.DB
}

// Create inserts a new project.
func (r *ProjectRepo) Create(ctx context.Context, p model.Project) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO projects (id, owner, name, is_public, unauthorized_behavior, required_role, default_rule_set_id, storage_quota_bytes, created_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.Owner, p.Name, boolToInt(p.IsPublic), string(p.UnauthorizedBehavior), string(p.RequiredRole),
		idPtrToNullString(p.DefaultRuleSetID), p.StorageQuotaBytes, p.CreatedAtNs,
	)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

// Get returns the project by ID.
func (r *ProjectRepo) Get(ctx context.Context, id model.ID) (model.Project, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, owner, name, is_public, unauthorized_behavior, required_role, default_rule_set_id, storage_quota_bytes, created_at_ns
		FROM projects WHERE id = ?`, id.String())
	return scanProject(row)
}

// GetByOwnerName returns the project by its (owner, name) unique key.
func (r *ProjectRepo) GetByOwnerName(ctx context.Context, owner, name string) (model.Project, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, owner, name, is_public, unauthorized_behavior, required_role, default_rule_set_id, storage_quota_bytes, created_at_ns
		FROM projects WHERE owner = ? AND name = ?`, owner, name)
	return scanProject(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (model.Project, error) {
	var p model.Project
	var idStr string
	var isPublic int64
	var unauthorizedBehavior, requiredRole string
	var defaultRuleSetID sql.NullString
	if err := row.Scan(&idStr, &p.Owner, &p.Name, &isPublic, &unauthorizedBehavior, &requiredRole, &defaultRuleSetID, &p.StorageQuotaBytes, &p.CreatedAtNs); err != nil {
		if err == sql.ErrNoRows {
			return model.Project{}, apperr.New(apperr.KindNotFound, "PROJECT_NOT_FOUND", "project not found")
		}
		return model.Project{}, fmt.Errorf("scan project: %w", err)
	}
	id, err := model.ParseID(idStr)
	if err != nil {
		return model.Project{}, fmt.Errorf("parse project id: %w", err)
	}
	p.ID = id
	p.IsPublic = intToBool(isPublic)
	p.UnauthorizedBehavior = model.UnauthorizedBehavior(unauthorizedBehavior)
	p.RequiredRole = model.Role(requiredRole)
	ruleSetID, err := nullStringToIDPtr(defaultRuleSetID)
	if err != nil {
		return model.Project{}, fmt.Errorf("parse default rule set id: %w", err)
	}
	p.DefaultRuleSetID = ruleSetID
	return p, nil
}

// Update overwrites the mutable fields of an existing project.
func (r *ProjectRepo) Update(ctx context.Context, p model.Project) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE projects SET is_public = ?, unauthorized_behavior = ?, required_role = ?, default_rule_set_id = ?, storage_quota_bytes = ?
		WHERE id = ?`,
		boolToInt(p.IsPublic), string(p.UnauthorizedBehavior), string(p.RequiredRole), idPtrToNullString(p.DefaultRuleSetID), p.StorageQuotaBytes, p.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return requireRowsAffected(res, "project")
}

// Delete removes a project; cascades to all owned entities via FK.
func (r *ProjectRepo) Delete(ctx context.Context, id model.ID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return requireRowsAffected(res, "project")
}

// UsedStorageBytes sums Asset.Size for the project, for quota enforcement.
func (r *ProjectRepo) UsedStorageBytes(ctx context.Context, projectID model.ID) (int64, error) {
	var total sql.NullInt64
	err := r.db.QueryRowContext(ctx, `SELECT SUM(size) FROM assets WHERE project_id = ?`, projectID.String()).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum asset sizes: %w", err)
	}
	return total.Int64, nil
}

func requireRowsAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return apperr.New(apperr.KindNotFound, "NOT_FOUND", fmt.Sprintf("%s not found", what))
	}
	return nil
}
