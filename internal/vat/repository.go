package vat

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository encapsulates DB operations for VAT movements.
type Repository interface {
	ListMovements(ctx context.Context, tenantID shared.TenantID, headerID shared.HeaderID) ([]Movement, error)
	Summarize(ctx context.Context, tenantID shared.TenantID, register Register, from, to time.Time) ([]RegisterSummary, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns the pgx-backed VAT repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) ListMovements(ctx context.Context, tenantID shared.TenantID, headerID shared.HeaderID) ([]Movement, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, tenant_id, header_id, register, base, rate, tax, created_at
FROM vat_movements WHERE tenant_id=$1 AND header_id=$2 ORDER BY id ASC`, tenantID, headerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMovements(rows)
}

func (r *repository) Summarize(ctx context.Context, tenantID shared.TenantID, register Register, from, to time.Time) ([]RegisterSummary, error) {
	rows, err := r.db.Query(ctx,
		`SELECT rate, SUM(base), SUM(tax)
FROM vat_movements
WHERE tenant_id=$1 AND register=$2 AND created_at >= $3 AND created_at < $4
GROUP BY rate ORDER BY rate ASC`, tenantID, register, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RegisterSummary
	for rows.Next() {
		s := RegisterSummary{TenantID: tenantID, Register: register, From: from, To: to}
		if err := rows.Scan(&s.Rate, &s.TotalBase, &s.TotalTax); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func collectMovements(rows pgx.Rows) ([]Movement, error) {
	var out []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.TenantID, &m.HeaderID, &m.Register, &m.Base, &m.Rate, &m.Tax, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// TxInsertMovement writes one movement inside an existing transaction.
func TxInsertMovement(ctx context.Context, tx pgx.Tx, m Movement) (Movement, error) {
	err := tx.QueryRow(ctx,
		`INSERT INTO vat_movements (tenant_id, header_id, register, base, rate, tax)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id, created_at`,
		m.TenantID, m.HeaderID, m.Register, m.Base, m.Rate, m.Tax).
		Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return Movement{}, err
	}
	return m, nil
}
