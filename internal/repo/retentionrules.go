package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/edgeserve/edgeserve/internal/apperr"
	"github.com/edgeserve/edgeserve/internal/model"
)

// RetentionRuleRepo persists model.RetentionRule rows.
type RetentionRuleRepo struct {
	db *sql.DB
}

const retentionRuleColumns = `id, project_id, name, branch_pattern, exclude_branches_json, retention_days, keep_with_alias, keep_minimum, path_patterns_json, path_mode, enabled, last_run_at_ns, next_run_at_ns, execution_started_at_ns, last_run_summary`

// Create inserts a new retention rule.
func (r *RetentionRuleRepo) Create(ctx context.Context, rule model.RetentionRule) error {
	excludeJSON, err := json.Marshal(rule.ExcludeBranches)
	if err != nil {
		return fmt.Errorf("marshal exclude branches: %w", err)
	}
	pathsJSON, err := json.Marshal(rule.PathPatterns)
	if err != nil {
		return fmt.Errorf("marshal path patterns: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO retention_rules (`+retentionRuleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID.String(), rule.ProjectID.String(), rule.Name, rule.BranchPattern, string(excludeJSON), rule.RetentionDays,
		boolToInt(rule.KeepWithAlias), rule.KeepMinimum, string(pathsJSON), string(rule.PathMode), boolToInt(rule.Enabled),
		int64PtrToNull(rule.LastRunAtNs), rule.NextRunAtNs, int64PtrToNull(rule.ExecutionStartedAtNs), rule.LastRunSummary,
	)
	if err != nil {
		return fmt.Errorf("insert retention rule: %w", err)
	}
	return nil
}

func scanRetentionRule(row rowScanner) (model.RetentionRule, error) {
	var rule model.RetentionRule
	var idStr, projectIDStr, pathMode string
	var excludeJSON, pathsJSON string
	var keepWithAlias, enabled int64
	var lastRunAtNs, executionStartedAtNs sql.NullInt64
	if err := row.Scan(&idStr, &projectIDStr, &rule.Name, &rule.BranchPattern, &excludeJSON, &rule.RetentionDays,
		&keepWithAlias, &rule.KeepMinimum, &pathsJSON, &pathMode, &enabled, &lastRunAtNs, &rule.NextRunAtNs,
		&executionStartedAtNs, &rule.LastRunSummary); err != nil {
		return model.RetentionRule{}, err
	}
	id, err := model.ParseID(idStr)
	if err != nil {
		return model.RetentionRule{}, fmt.Errorf("parse retention rule id: %w", err)
	}
	projectID, err := model.ParseID(projectIDStr)
	if err != nil {
		return model.RetentionRule{}, fmt.Errorf("parse retention rule project id: %w", err)
	}
	rule.ID, rule.ProjectID = id, projectID
	if err := json.Unmarshal([]byte(excludeJSON), &rule.ExcludeBranches); err != nil {
		return model.RetentionRule{}, fmt.Errorf("unmarshal exclude branches: %w", err)
	}
	if err := json.Unmarshal([]byte(pathsJSON), &rule.PathPatterns); err != nil {
		return model.RetentionRule{}, fmt.Errorf("unmarshal path patterns: %w", err)
	}
	rule.PathMode = model.PathMode(pathMode)
	rule.KeepWithAlias = intToBool(keepWithAlias)
	rule.Enabled = intToBool(enabled)
	rule.LastRunAtNs = nullToInt64Ptr(lastRunAtNs)
	rule.ExecutionStartedAtNs = nullToInt64Ptr(executionStartedAtNs)
	return rule, nil
}

// DueForRun returns every enabled rule whose NextRunAtNs has passed and
// which is not currently executing (ExecutionStartedAtNs nil), the
// candidate set the daily cron tick evaluates.
func (r *RetentionRuleRepo) DueForRun(ctx context.Context, nowNs int64) ([]model.RetentionRule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+retentionRuleColumns+` FROM retention_rules
		WHERE enabled = 1 AND next_run_at_ns <= ? AND execution_started_at_ns IS NULL`, nowNs)
	if err != nil {
		return nil, fmt.Errorf("query due retention rules: %w", err)
	}
	defer rows.Close()

	var out []model.RetentionRule
	for rows.Next() {
		rule, err := scanRetentionRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan retention rule: %w", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// TryClaim atomically marks a rule as executing, using a compare-and-swap
// on execution_started_at_ns to guard against two processes racing the
// same rule (the singleton-lock pattern used for the daily tick, §4.J).
func (r *RetentionRuleRepo) TryClaim(ctx context.Context, id model.ID, nowNs int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE retention_rules SET execution_started_at_ns = ?
		WHERE id = ? AND execution_started_at_ns IS NULL`, nowNs, id.String())
	if err != nil {
		return false, fmt.Errorf("claim retention rule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// FinishRun clears the execution lock, advances NextRunAtNs, and records
// the run summary.
func (r *RetentionRuleRepo) FinishRun(ctx context.Context, id model.ID, nowNs, nextRunAtNs int64, summary model.RetentionSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal retention summary: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE retention_rules
		SET execution_started_at_ns = NULL, last_run_at_ns = ?, next_run_at_ns = ?, last_run_summary = ?
		WHERE id = ?`, nowNs, nextRunAtNs, string(summaryJSON), id.String())
	if err != nil {
		return fmt.Errorf("finish retention run: %w", err)
	}
	return requireRowsAffected(res, "retention rule")
}

// Get looks up a retention rule by ID.
func (r *RetentionRuleRepo) Get(ctx context.Context, id model.ID) (model.RetentionRule, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+retentionRuleColumns+` FROM retention_rules WHERE id = ?`, id.String())
	rule, err := scanRetentionRule(row)
	if err == sql.ErrNoRows {
		return model.RetentionRule{}, apperr.New(apperr.KindNotFound, "RETENTION_RULE_NOT_FOUND", "retention rule not found")
	}
	if err != nil {
		return model.RetentionRule{}, fmt.Errorf("scan retention rule: %w", err)
	}
	return rule, nil
}

// ListByProject returns every retention rule for a project.
func (r *RetentionRuleRepo) ListByProject(ctx context.Context, projectID model.ID) ([]model.RetentionRule, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+retentionRuleColumns+` FROM retention_rules WHERE project_id = ?`, projectID.String())
	if err != nil {
		return nil, fmt.Errorf("query retention rules: %w", err)
	}
	defer rows.Close()

	var out []model.RetentionRule
	for rows.Next() {
		rule, err := scanRetentionRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan retention rule: %w", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}
