package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/edgeserve/edgeserve/internal/model"
)

// CacheRuleRepo persists model.CacheRule rows.
type CacheRuleRepo struct {
	db *sql.DB
}

const cacheRuleColumns = `id, project_id, path_pattern, browser_max_age, cdn_max_age, stale_while_revalidate, immutable, cacheability, priority, is_enabled, created_at_ns`

// Create inserts a new cache rule.
func (r *CacheRuleRepo) Create(ctx context.Context, c model.CacheRule) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cache_rules (`+cacheRuleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.ProjectID.String(), c.PathPattern, c.BrowserMaxAge, intPtrToNull(c.CDNMaxAge),
		intPtrToNull(c.StaleWhileRevalidate), boolToInt(c.Immutable), string(c.Cacheability), c.Priority,
		boolToInt(c.IsEnabled), c.CreatedAtNs,
	)
	if err != nil {
		return fmt.Errorf("insert cache rule: %w", err)
	}
	return nil
}

func scanCacheRule(row rowScanner) (model.CacheRule, error) {
	var c model.CacheRule
	var idStr, projectIDStr, cacheability string
	var cdnMaxAge, staleWhileRevalidate sql.NullInt64
	var immutable, isEnabled int64
	if err := row.Scan(&idStr, &projectIDStr, &c.PathPattern, &c.BrowserMaxAge, &cdnMaxAge, &staleWhileRevalidate,
		&immutable, &cacheability, &c.Priority, &isEnabled, &c.CreatedAtNs); err != nil {
		return model.CacheRule{}, err
	}
	id, err := model.ParseID(idStr)
	if err != nil {
		return model.CacheRule{}, fmt.Errorf("parse cache rule id: %w", err)
	}
	projectID, err := model.ParseID(projectIDStr)
	if err != nil {
		return model.CacheRule{}, fmt.Errorf("parse cache rule project id: %w", err)
	}
	c.ID, c.ProjectID = id, projectID
	c.CDNMaxAge = nullToIntPtr(cdnMaxAge)
	c.StaleWhileRevalidate = nullToIntPtr(staleWhileRevalidate)
	c.Immutable = intToBool(immutable)
	c.Cacheability = model.Cacheability(cacheability)
	c.IsEnabled = intToBool(isEnabled)
	return c, nil
}

// ListByProject returns every enabled cache rule for a project, in
// descending priority; rules of equal priority keep creation order.
func (r *CacheRuleRepo) ListByProject(ctx context.Context, projectID model.ID) ([]model.CacheRule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+cacheRuleColumns+` FROM cache_rules
		WHERE project_id = ? AND is_enabled = 1
		ORDER BY priority DESC, created_at_ns ASC`, projectID.String())
	if err != nil {
		return nil, fmt.Errorf("query cache rules: %w", err)
	}
	defer rows.Close()

	var out []model.CacheRule
	for rows.Next() {
		c, err := scanCacheRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cache rule: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
