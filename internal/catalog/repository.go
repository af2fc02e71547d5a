package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/coa"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/vat"
)

// Repository encapsulates DB operations for the template catalog.
type Repository interface {
	GetTemplateByCode(ctx context.Context, tenantID shared.TenantID, code string) (FunctionTemplate, error)
	ListTemplates(ctx context.Context, tenantID shared.TenantID, page shared.Pagination) ([]FunctionTemplate, int, error)
	CreateTemplate(ctx context.Context, tpl FunctionTemplate) (FunctionTemplate, error)
	DeactivateTemplate(ctx context.Context, tenantID shared.TenantID, code string) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns the pgx-backed catalog repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) GetTemplateByCode(ctx context.Context, tenantID shared.TenantID, code string) (FunctionTemplate, error) {
	var tpl FunctionTemplate
	var flags []string
	err := r.db.QueryRow(ctx,
		`SELECT id, tenant_id, code, name, category, class, flags, active, created_at, updated_at
FROM function_templates WHERE tenant_id=$1 AND code=$2`, tenantID, code).
		Scan(&tpl.ID, &tpl.TenantID, &tpl.Code, &tpl.Name, &tpl.Category, &tpl.Class, &flags, &tpl.Active, &tpl.CreatedAt, &tpl.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FunctionTemplate{}, ErrTemplateNotFound
		}
		return FunctionTemplate{}, err
	}
	if !tpl.Active {
		return FunctionTemplate{}, ErrTemplateNotFound
	}
	for _, f := range flags {
		tpl.Flags = append(tpl.Flags, Flag(f))
	}
	rows, err := r.loadRows(ctx, tpl.ID)
	if err != nil {
		return FunctionTemplate{}, err
	}
	tpl.Rows = rows
	return tpl, nil
}

func (r *repository) loadRows(ctx context.Context, templateID shared.TemplateID) ([]FunctionRow, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, position, slot, account_kind, account_id, account_constraint, side, description, sub_editable, vat_bearing, vat_register
FROM function_rows WHERE template_id=$1 ORDER BY position ASC`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FunctionRow
	for rows.Next() {
		var row FunctionRow
		var accountID *int64
		var constraint, register *string
		if err := rows.Scan(&row.ID, &row.Position, &row.Slot, &row.Account.Kind, &accountID, &constraint, &row.Side, &row.Description, &row.SubAccountEditable, &row.VatBearing, &register); err != nil {
			return nil, err
		}
		if accountID != nil {
			row.Account.Fixed = shared.AccountID(*accountID)
		}
		if constraint != nil {
			row.Account.Constraint = coa.Classification(*constraint)
		}
		if register != nil {
			row.Register = vat.Register(*register)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *repository) ListTemplates(ctx context.Context, tenantID shared.TenantID, page shared.Pagination) ([]FunctionTemplate, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM function_templates WHERE tenant_id=$1`, tenantID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, tenant_id, code, name, category, class, flags, active, created_at, updated_at
FROM function_templates WHERE tenant_id=$1 ORDER BY code ASC LIMIT $2 OFFSET $3`,
		tenantID, page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []FunctionTemplate
	for rows.Next() {
		var tpl FunctionTemplate
		var flags []string
		if err := rows.Scan(&tpl.ID, &tpl.TenantID, &tpl.Code, &tpl.Name, &tpl.Category, &tpl.Class, &flags, &tpl.Active, &tpl.CreatedAt, &tpl.UpdatedAt); err != nil {
			return nil, 0, err
		}
		for _, f := range flags {
			tpl.Flags = append(tpl.Flags, Flag(f))
		}
		out = append(out, tpl)
	}
	return out, total, rows.Err()
}

func (r *repository) CreateTemplate(ctx context.Context, tpl FunctionTemplate) (FunctionTemplate, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return FunctionTemplate{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	flags := make([]string, 0, len(tpl.Flags))
	for _, f := range tpl.Flags {
		flags = append(flags, string(f))
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO function_templates (tenant_id, code, name, category, class, flags, active)
VALUES ($1,$2,$3,$4,$5,$6,TRUE) RETURNING id, created_at, updated_at`,
		tpl.TenantID, tpl.Code, tpl.Name, tpl.Category, tpl.Class, flags).
		Scan(&tpl.ID, &tpl.CreatedAt, &tpl.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return FunctionTemplate{}, ErrDuplicateCode
		}
		return FunctionTemplate{}, err
	}
	tpl.Active = true
	for i := range tpl.Rows {
		row := &tpl.Rows[i]
		row.Position = i + 1
		var accountID *int64
		var constraint *string
		switch row.Account.Kind {
		case RowAccountFixed:
			id := int64(row.Account.Fixed)
			accountID = &id
		case RowAccountSearchable:
			if row.Account.Constraint != "" {
				c := string(row.Account.Constraint)
				constraint = &c
			}
		default:
			return FunctionTemplate{}, ErrInvalidRow
		}
		var register *string
		if row.VatBearing {
			reg := string(row.Register)
			register = &reg
		}
		err := tx.QueryRow(ctx,
			`INSERT INTO function_rows (template_id, position, slot, account_kind, account_id, account_constraint, side, description, sub_editable, vat_bearing, vat_register)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`,
			tpl.ID, row.Position, row.Slot, row.Account.Kind, accountID, constraint, row.Side, row.Description, row.SubAccountEditable, row.VatBearing, register).
			Scan(&row.ID)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return FunctionTemplate{}, ErrDuplicateSlot
			}
			return FunctionTemplate{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return FunctionTemplate{}, err
	}
	return tpl, nil
}

func (r *repository) DeactivateTemplate(ctx context.Context, tenantID shared.TenantID, code string) error {
	cmd, err := r.db.Exec(ctx,
		`UPDATE function_templates SET active=FALSE, updated_at=NOW() WHERE tenant_id=$1 AND code=$2`, tenantID, code)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrTemplateNotFound
	}
	return nil
}
