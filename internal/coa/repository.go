package coa

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type repository struct {
	db *pgxpool.Pool
}

// NewDirectory returns a Directory backed by the accounts table.
func NewDirectory(db *pgxpool.Pool) Directory {
	return &repository{db: db}
}

func (r *repository) ResolveAccount(ctx context.Context, tenantID shared.TenantID, ref shared.AccountID) (AccountInfo, error) {
	info := AccountInfo{Ref: ref}
	err := r.db.QueryRow(ctx,
		`SELECT accepts_direct, classification FROM accounts WHERE tenant_id=$1 AND id=$2`,
		tenantID, ref).
		Scan(&info.AcceptsDirectPostings, &info.Classification)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return info, nil
		}
		return AccountInfo{}, err
	}
	info.Exists = true
	return info, nil
}
