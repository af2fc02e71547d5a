package openitems

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// ListFilter narrows open item listings.
type ListFilter struct {
	State        State
	Counterparty shared.AccountID
}

// Repository encapsulates DB operations for the open-items ledger.
type Repository interface {
	ListOpenItems(ctx context.Context, tenantID shared.TenantID, filter ListFilter, page shared.Pagination) ([]OpenItem, int, error)
	GetOpenItem(ctx context.Context, tenantID shared.TenantID, id shared.OpenItemID) (OpenItem, error)
	ListOutstanding(ctx context.Context, tenantID shared.TenantID) ([]OpenItem, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes methods available within a transaction.
type TxRepository interface {
	GetOpenItemForUpdate(ctx context.Context, tenantID shared.TenantID, id shared.OpenItemID) (OpenItem, error)
	InsertOpenItem(ctx context.Context, item OpenItem) (OpenItem, error)
	MarkClosed(ctx context.Context, tenantID shared.TenantID, id shared.OpenItemID) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns the pgx-backed open items repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const openItemColumns = `id, tenant_id, counterparty, header_id, ref_item_id, due_date, amount, state, kind, created_at, updated_at`

func scanOpenItem(row pgx.Row) (OpenItem, error) {
	var item OpenItem
	var headerID, refID *int64
	err := row.Scan(&item.ID, &item.TenantID, &item.Counterparty, &headerID, &refID, &item.DueDate, &item.Amount, &item.State, &item.Kind, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return OpenItem{}, err
	}
	if headerID != nil {
		item.HeaderID = shared.HeaderID(*headerID)
	}
	if refID != nil {
		id := shared.OpenItemID(*refID)
		item.RefItemID = &id
	}
	return item, nil
}

func (r *repository) ListOpenItems(ctx context.Context, tenantID shared.TenantID, filter ListFilter, page shared.Pagination) ([]OpenItem, int, error) {
	where := `WHERE tenant_id=$1`
	args := []any{tenantID}
	switch filter.State {
	case StateOpen:
		where += ` AND state='OPEN' AND due_date >= NOW()`
	case StateDelinquent:
		where += ` AND state='OPEN' AND due_date < NOW()`
	case StateClosed:
		where += ` AND state='CLOSED'`
	}
	if filter.Counterparty != 0 {
		args = append(args, filter.Counterparty)
		where += ` AND counterparty=$2`
	}
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM open_items `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + openItemColumns + ` FROM open_items ` + where +
		` ORDER BY due_date ASC, id ASC LIMIT ` + strconv.Itoa(page.PerPage) + ` OFFSET ` + strconv.Itoa(page.Offset())
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []OpenItem
	for rows.Next() {
		item, err := scanOpenItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	return items, total, rows.Err()
}

func (r *repository) GetOpenItem(ctx context.Context, tenantID shared.TenantID, id shared.OpenItemID) (OpenItem, error) {
	item, err := scanOpenItem(r.db.QueryRow(ctx,
		`SELECT `+openItemColumns+` FROM open_items WHERE tenant_id=$1 AND id=$2`, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return OpenItem{}, ErrOpenItemNotFound
		}
		return OpenItem{}, err
	}
	return item, nil
}

func (r *repository) ListOutstanding(ctx context.Context, tenantID shared.TenantID) ([]OpenItem, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+openItemColumns+` FROM open_items WHERE tenant_id=$1 AND state='OPEN' ORDER BY due_date ASC, id ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []OpenItem
	for rows.Next() {
		item, err := scanOpenItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// NewTxRepository wraps an existing transaction so other modules can issue
// open item movements inside their own atomic unit.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) GetOpenItemForUpdate(ctx context.Context, tenantID shared.TenantID, id shared.OpenItemID) (OpenItem, error) {
	item, err := scanOpenItem(r.tx.QueryRow(ctx,
		`SELECT `+openItemColumns+` FROM open_items WHERE tenant_id=$1 AND id=$2 FOR UPDATE`, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return OpenItem{}, ErrOpenItemNotFound
		}
		return OpenItem{}, err
	}
	return item, nil
}

func (r *txRepository) InsertOpenItem(ctx context.Context, item OpenItem) (OpenItem, error) {
	// A zero header means no journal entry backs the row, stored as NULL
	// so the foreign key holds for manual settlements.
	var headerID *int64
	if item.HeaderID != 0 {
		id := int64(item.HeaderID)
		headerID = &id
	}
	var refID *int64
	if item.RefItemID != nil {
		id := int64(*item.RefItemID)
		refID = &id
	}
	err := r.tx.QueryRow(ctx,
		`INSERT INTO open_items (tenant_id, counterparty, header_id, ref_item_id, due_date, amount, state, kind)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id, created_at, updated_at`,
		item.TenantID, item.Counterparty, headerID, refID, item.DueDate, item.Amount, item.State, item.Kind).
		Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return OpenItem{}, err
	}
	return item, nil
}

func (r *txRepository) MarkClosed(ctx context.Context, tenantID shared.TenantID, id shared.OpenItemID) error {
	cmd, err := r.tx.Exec(ctx,
		`UPDATE open_items SET state='CLOSED', updated_at=NOW() WHERE tenant_id=$1 AND id=$2 AND state='OPEN'`,
		tenantID, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrOpenItemNotOpen
	}
	return nil
}
