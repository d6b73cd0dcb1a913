package repo

import (
	"database/sql"

	"github.com/edgeserve/edgeserve/internal/model"
)

func idPtrToNullString(id *model.ID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: id.String(), Valid: true}
}

func nullStringToIDPtr(ns sql.NullString) (*model.ID, error) {
	if !ns.Valid {
		return nil, nil
	}
	id, err := model.ParseID(ns.String)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func intToBool(i int64) bool { return i != 0 }

func boolPtrToNull(b *bool) sql.NullInt64 {
	if b == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: boolToInt(*b), Valid: true}
}

func nullToBoolPtr(n sql.NullInt64) *bool {
	if !n.Valid {
		return nil
	}
	v := intToBool(n.Int64)
	return &v
}

func intPtrToNull(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func nullToIntPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func int64PtrToNull(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

func nullToInt64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
