package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/edgeserve/edgeserve/internal/apperr"
	"github.com/edgeserve/edgeserve/internal/model"
)

// APIKeyRepo persists model.APIKeyRecord rows.
type APIKeyRepo struct {
	db *sql.DB
}

// Create inserts a new API key record.
func (r *APIKeyRepo) Create(ctx context.Context, k model.APIKeyRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, project_id, fingerprint, verifier_hash, created_at_ns, revoked_at_ns)
		VALUES (?, ?, ?, ?, ?, ?)`,
		k.ID.String(), k.ProjectID.String(), k.Fingerprint, k.VerifierHash, k.CreatedAtNs, int64PtrToNull(k.RevokedAtNs),
	)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// ListAll loads every API key record, used to build authz.APIKeyIndex at
// startup.
func (r *APIKeyRepo) ListAll(ctx context.Context) ([]model.APIKeyRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, project_id, fingerprint, verifier_hash, created_at_ns, revoked_at_ns FROM api_keys`)
	if err != nil {
		return nil, fmt.Errorf("query api keys: %w", err)
	}
	defer rows.Close()

	var out []model.APIKeyRecord
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func scanAPIKey(row rowScanner) (model.APIKeyRecord, error) {
	var k model.APIKeyRecord
	var idStr, projectIDStr string
	var revokedAtNs sql.NullInt64
	if err := row.Scan(&idStr, &projectIDStr, &k.Fingerprint, &k.VerifierHash, &k.CreatedAtNs, &revokedAtNs); err != nil {
		return model.APIKeyRecord{}, err
	}
	id, err := model.ParseID(idStr)
	if err != nil {
		return model.APIKeyRecord{}, fmt.Errorf("parse api key id: %w", err)
	}
	projectID, err := model.ParseID(projectIDStr)
	if err != nil {
		return model.APIKeyRecord{}, fmt.Errorf("parse api key project id: %w", err)
	}
	k.ID, k.ProjectID = id, projectID
	k.RevokedAtNs = nullToInt64Ptr(revokedAtNs)
	return k, nil
}

// Revoke sets RevokedAtNs on a key, making it invisible to future
// authz.APIKeyIndex lookups once the caller also calls idx.Remove.
func (r *APIKeyRepo) Revoke(ctx context.Context, id model.ID, nowNs int64) (model.APIKeyRecord, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE api_keys SET revoked_at_ns = ? WHERE id = ? AND revoked_at_ns IS NULL`, nowNs, id.String())
	if err != nil {
		return model.APIKeyRecord{}, fmt.Errorf("revoke api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.APIKeyRecord{}, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return model.APIKeyRecord{}, apperr.New(apperr.KindNotFound, "API_KEY_NOT_FOUND", "api key not found or already revoked")
	}
	row := r.db.QueryRowContext(ctx, `SELECT id, project_id, fingerprint, verifier_hash, created_at_ns, revoked_at_ns FROM api_keys WHERE id = ?`, id.String())
	return scanAPIKey(row)
}
