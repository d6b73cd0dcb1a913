package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/edgeserve/edgeserve/internal/model"
)

// RetentionLogRepo persists the append-only model.RetentionLog audit trail.
type RetentionLogRepo struct {
	db *sql.DB
}

// Create inserts one retention log row.
func (r *RetentionLogRepo) Create(ctx context.Context, l model.RetentionLog) error {
	var ruleID sql.NullString
	if l.RuleID != nil {
		ruleID = sql.NullString{String: l.RuleID.String(), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO retention_logs (id, project_id, rule_id, commit_sha, branch, asset_count, freed_bytes, is_partial, deleted_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID.String(), l.ProjectID.String(), ruleID, l.CommitSha, l.Branch, l.AssetCount, l.FreedBytes, boolToInt(l.IsPartial), l.DeletedAtNs,
	)
	if err != nil {
		return fmt.Errorf("insert retention log: %w", err)
	}
	return nil
}

// ListByProject returns the retention audit trail for a project, most
// recent first.
func (r *RetentionLogRepo) ListByProject(ctx context.Context, projectID model.ID, limit int) ([]model.RetentionLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, project_id, rule_id, commit_sha, branch, asset_count, freed_bytes, is_partial, deleted_at_ns
		FROM retention_logs WHERE project_id = ? ORDER BY deleted_at_ns DESC LIMIT ?`, projectID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("query retention logs: %w", err)
	}
	defer rows.Close()

	var out []model.RetentionLog
	for rows.Next() {
		var l model.RetentionLog
		var idStr, projectIDStr string
		var ruleID sql.NullString
		var isPartial int64
		if err := rows.Scan(&idStr, &projectIDStr, &ruleID, &l.CommitSha, &l.Branch, &l.AssetCount, &l.FreedBytes, &isPartial, &l.DeletedAtNs); err != nil {
			return nil, fmt.Errorf("scan retention log: %w", err)
		}
		id, err := model.ParseID(idStr)
		if err != nil {
			return nil, fmt.Errorf("parse retention log id: %w", err)
		}
		pid, err := model.ParseID(projectIDStr)
		if err != nil {
			return nil, fmt.Errorf("parse retention log project id: %w", err)
		}
		l.ID, l.ProjectID = id, pid
		if ruleID.Valid {
			rid, err := model.ParseID(ruleID.String)
			if err != nil {
				return nil, fmt.Errorf("parse retention log rule id: %w", err)
			}
			l.RuleID = &rid
		}
		l.IsPartial = intToBool(isPartial)
		out = append(out, l)
	}
	return out, rows.Err()
}
