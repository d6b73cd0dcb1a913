package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/edgeserve/edgeserve/internal/apperr"
	"github.com/edgeserve/edgeserve/internal/model"
)

// RuleSetRepo persists model.ProxyRuleSet rows.
type RuleSetRepo struct {
	db *sql.DB
}

// Create inserts a new proxy rule set.
func (r *RuleSetRepo) Create(ctx context.Context, s model.ProxyRuleSet) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO proxy_rule_sets (id, project_id, name, environment, created_at_ns)
		VALUES (?, ?, ?, ?, ?)`,
		s.ID.String(), s.ProjectID.String(), s.Name, s.Environment, s.CreatedAtNs,
	)
	if err != nil {
		return fmt.Errorf("insert rule set: %w", err)
	}
	return nil
}

// Get looks up a rule set by ID.
func (r *RuleSetRepo) Get(ctx context.Context, id model.ID) (model.ProxyRuleSet, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, project_id, name, environment, created_at_ns FROM proxy_rule_sets WHERE id = ?`, id.String())
	var s model.ProxyRuleSet
	var idStr, projectIDStr string
	if err := row.Scan(&idStr, &projectIDStr, &s.Name, &s.Environment, &s.CreatedAtNs); err != nil {
		if err == sql.ErrNoRows {
			return model.ProxyRuleSet{}, apperr.New(apperr.KindNotFound, "RULESET_NOT_FOUND", "rule set not found")
		}
		return model.ProxyRuleSet{}, fmt.Errorf("scan rule set: %w", err)
	}
	id2, err := model.ParseID(idStr)
	if err != nil {
		return model.ProxyRuleSet{}, fmt.Errorf("parse rule set id: %w", err)
	}
	projectID, err := model.ParseID(projectIDStr)
	if err != nil {
		return model.ProxyRuleSet{}, fmt.Errorf("parse rule set project id: %w", err)
	}
	s.ID, s.ProjectID = id2, projectID
	return s, nil
}

// ListByProject returns every rule set owned by a project.
func (r *RuleSetRepo) ListByProject(ctx context.Context, projectID model.ID) ([]model.ProxyRuleSet, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, project_id, name, environment, created_at_ns FROM proxy_rule_sets WHERE project_id = ?`, projectID.String())
	if err != nil {
		return nil, fmt.Errorf("query rule sets: %w", err)
	}
	defer rows.Close()

	var out []model.ProxyRuleSet
	for rows.Next() {
		var s model.ProxyRuleSet
		var idStr, projectIDStr string
		if err := rows.Scan(&idStr, &projectIDStr, &s.Name, &s.Environment, &s.CreatedAtNs); err != nil {
			return nil, fmt.Errorf("scan rule set: %w", err)
		}
		id, err := model.ParseID(idStr)
		if err != nil {
			return nil, fmt.Errorf("parse rule set id: %w", err)
		}
		pid, err := model.ParseID(projectIDStr)
		if err != nil {
			return nil, fmt.Errorf("parse rule set project id: %w", err)
		}
		s.ID, s.ProjectID = id, pid
		out = append(out, s)
	}
	return out, rows.Err()
}
