package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/edgeserve/edgeserve/internal/model"
)

// AssetRepo persists model.Asset rows.
type AssetRepo struct {
	db *sql.DB
}

// Create inserts a new asset row.
func (r *AssetRepo) Create(ctx context.Context, a model.Asset) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO assets (id, project_id, file_name, storage_key, mime_type, size, content_hash, commit_sha, branch, deployment_id, public_path, uploaded_by, created_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.ProjectID.String(), a.FileName, a.StorageKey, a.MimeType, a.Size, a.ContentHash,
		a.CommitSha, a.Branch, idPtrToNullString(a.DeploymentID), a.PublicPath, idPtrToNullString(a.UploadedBy), a.CreatedAtNs,
	)
	if err != nil {
		return fmt.Errorf("insert asset: %w", err)
	}
	return nil
}

const assetColumns = `id, project_id, file_name, storage_key, mime_type, size, content_hash, commit_sha, branch, deployment_id, public_path, uploaded_by, created_at_ns`

func scanAsset(row rowScanner) (model.Asset, error) {
	var a model.Asset
	var idStr, projectIDStr string
	var deploymentID, uploadedBy sql.NullString
	if err := row.Scan(&idStr, &projectIDStr, &a.FileName, &a.StorageKey, &a.MimeType, &a.Size, &a.ContentHash,
		&a.CommitSha, &a.Branch, &deploymentID, &a.PublicPath, &uploadedBy, &a.CreatedAtNs); err != nil {
		return model.Asset{}, err
	}
	id, err := model.ParseID(idStr)
	if err != nil {
		return model.Asset{}, fmt.Errorf("parse asset id: %w", err)
	}
	projectID, err := model.ParseID(projectIDStr)
	if err != nil {
		return model.Asset{}, fmt.Errorf("parse asset project id: %w", err)
	}
	a.ID, a.ProjectID = id, projectID
	if a.DeploymentID, err = nullStringToIDPtr(deploymentID); err != nil {
		return model.Asset{}, err
	}
	if a.UploadedBy, err = nullStringToIDPtr(uploadedBy); err != nil {
		return model.Asset{}, err
	}
	return a, nil
}

// ByPublicPath finds the asset within a commit whose PublicPath matches
// exactly, used by the router for the "precise path" lookup before falling
// back to SPA index.html.
func (r *AssetRepo) ByPublicPath(ctx context.Context, projectID model.ID, commitSha, publicPath string) (model.Asset, bool, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE project_id = ? AND commit_sha = ? AND public_path = ?`,
		projectID.String(), commitSha, publicPath)
	a, err := scanAsset(row)
	if err == sql.ErrNoRows {
		return model.Asset{}, false, nil
	}
	if err != nil {
		return model.Asset{}, false, fmt.Errorf("scan asset: %w", err)
	}
	return a, true, nil
}

// ListByCommit returns every asset belonging to a commit, used by
// retention to compute freed bytes and delete storage keys.
func (r *AssetRepo) ListByCommit(ctx context.Context, projectID model.ID, commitSha string) ([]model.Asset, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE project_id = ? AND commit_sha = ?`, projectID.String(), commitSha)
	if err != nil {
		return nil, fmt.Errorf("query assets by commit: %w", err)
	}
	defer rows.Close()
	return scanAssetRows(rows)
}

// CommitSummary is one (commitSha, branch, minCreatedAtNs) tuple returned
// by ListDistinctCommits, the candidate set the retention engine
// evaluates against its rules.
type CommitSummary struct {
	CommitSha   string
	Branch      string
	CreatedAtNs int64
}

// ListDistinctCommits returns one row per (commit_sha, branch) under the
// project, with its earliest created_at_ns (deployment time).
func (r *AssetRepo) ListDistinctCommits(ctx context.Context, projectID model.ID) ([]CommitSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT commit_sha, branch, MIN(created_at_ns)
		FROM assets
		WHERE project_id = ? AND commit_sha != ''
		GROUP BY commit_sha, branch`, projectID.String())
	if err != nil {
		return nil, fmt.Errorf("query distinct commits: %w", err)
	}
	defer rows.Close()

	var out []CommitSummary
	for rows.Next() {
		var s CommitSummary
		if err := rows.Scan(&s.CommitSha, &s.Branch, &s.CreatedAtNs); err != nil {
			return nil, fmt.Errorf("scan commit summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanAssetRows(rows *sql.Rows) ([]model.Asset, error) {
	var out []model.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteByCommit removes every asset row for a commit (full deletion).
func (r *AssetRepo) DeleteByCommit(ctx context.Context, projectID model.ID, commitSha string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM assets WHERE project_id = ? AND commit_sha = ?`, projectID.String(), commitSha)
	if err != nil {
		return fmt.Errorf("delete assets by commit: %w", err)
	}
	return nil
}

// DeleteByIDs removes a specific set of asset rows (partial deletion, when
// a retention rule's path filters only cover some of a commit's assets).
func (r *AssetRepo) DeleteByIDs(ctx context.Context, ids []model.ID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM assets WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("prepare delete: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id.String()); err != nil {
			return fmt.Errorf("delete asset %s: %w", id, err)
		}
	}
	return tx.Commit()
}
