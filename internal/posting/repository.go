package posting

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/openitems"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/vat"
)

// Repository encapsulates DB operations for the posting engine.
type Repository interface {
	ListHeaders(ctx context.Context, tenantID shared.TenantID, page shared.Pagination) ([]JournalEntryHeader, int, error)
	GetHeaderWithLines(ctx context.Context, tenantID shared.TenantID, id shared.HeaderID) (JournalEntryHeader, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes methods available within a posting transaction. Open
// item and VAT writes ride the same transaction so the whole chain commits
// or rolls back as one unit.
type TxRepository interface {
	AllocateProtocol(ctx context.Context, tenantID shared.TenantID) (int64, error)
	InsertHeader(ctx context.Context, header JournalEntryHeader) (JournalEntryHeader, error)
	InsertLines(ctx context.Context, headerID shared.HeaderID, lines []JournalEntryLine) error
	InsertVatMovement(ctx context.Context, movement vat.Movement) (vat.Movement, error)
	OpenItems() openitems.TxRepository
}

// ErrHeaderNotFound indicates a missing journal header.
var ErrHeaderNotFound = errors.New("posting: journal header not found")

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns the pgx-backed posting repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const headerColumns = `id, tenant_id, protocol, document_date, document_number, document_total, counterparty, function_code, source_ref, created_at`

func scanHeader(row pgx.Row) (JournalEntryHeader, error) {
	var h JournalEntryHeader
	var counterparty *int64
	err := row.Scan(&h.ID, &h.TenantID, &h.Protocol, &h.DocumentDate, &h.DocumentNumber, &h.DocumentTotal, &counterparty, &h.FunctionCode, &h.SourceRef, &h.CreatedAt)
	if err != nil {
		return JournalEntryHeader{}, err
	}
	if counterparty != nil {
		id := shared.AccountID(*counterparty)
		h.Counterparty = &id
	}
	return h, nil
}

func (r *repository) ListHeaders(ctx context.Context, tenantID shared.TenantID, page shared.Pagination) ([]JournalEntryHeader, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM journal_headers WHERE tenant_id=$1`, tenantID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+headerColumns+` FROM journal_headers WHERE tenant_id=$1 ORDER BY protocol DESC LIMIT `+
			strconv.Itoa(page.PerPage)+` OFFSET `+strconv.Itoa(page.Offset()), tenantID)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var headers []JournalEntryHeader
	for rows.Next() {
		h, err := scanHeader(rows)
		if err != nil {
			return nil, 0, err
		}
		headers = append(headers, h)
	}
	return headers, total, rows.Err()
}

func (r *repository) GetHeaderWithLines(ctx context.Context, tenantID shared.TenantID, id shared.HeaderID) (JournalEntryHeader, error) {
	h, err := scanHeader(r.db.QueryRow(ctx,
		`SELECT `+headerColumns+` FROM journal_headers WHERE tenant_id=$1 AND id=$2`, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntryHeader{}, ErrHeaderNotFound
		}
		return JournalEntryHeader{}, err
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, header_id, account, side, amount, description FROM journal_lines WHERE header_id=$1 ORDER BY id ASC`, id)
	if err != nil {
		return JournalEntryHeader{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line JournalEntryLine
		if err := rows.Scan(&line.ID, &line.HeaderID, &line.Account, &line.Side, &line.Amount, &line.Description); err != nil {
			return JournalEntryHeader{}, err
		}
		h.Lines = append(h.Lines, line)
	}
	return h, rows.Err()
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return mapTxError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapTxError(err)
	}
	return nil
}

// mapTxError folds transient postgres failures into the retryable sentinel.
func mapTxError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization failure, deadlock detected
			return ErrProtocolConflict
		}
	}
	return err
}

type txRepository struct {
	tx pgx.Tx
}

// AllocateProtocol atomically increments and returns the tenant's next
// protocol number. The upsert-increment runs inside the posting transaction,
// so the number is only consumed when the header commits: gap-free under
// normal operation, duplicate-free always.
func (r *txRepository) AllocateProtocol(ctx context.Context, tenantID shared.TenantID) (int64, error) {
	var next int64
	err := r.tx.QueryRow(ctx,
		`INSERT INTO tenant_sequences (tenant_id, next_value) VALUES ($1, 2)
ON CONFLICT (tenant_id) DO UPDATE SET next_value = tenant_sequences.next_value + 1
RETURNING next_value - 1`, tenantID).Scan(&next)
	if err != nil {
		return 0, mapTxError(err)
	}
	return next, nil
}

func (r *txRepository) InsertHeader(ctx context.Context, header JournalEntryHeader) (JournalEntryHeader, error) {
	var counterparty *int64
	if header.Counterparty != nil {
		id := int64(*header.Counterparty)
		counterparty = &id
	}
	err := r.tx.QueryRow(ctx,
		`INSERT INTO journal_headers (tenant_id, protocol, document_date, document_number, document_total, counterparty, function_code, source_ref)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id, created_at`,
		header.TenantID, header.Protocol, header.DocumentDate, header.DocumentNumber, header.DocumentTotal, counterparty, header.FunctionCode, header.SourceRef).
		Scan(&header.ID, &header.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			switch pgErr.ConstraintName {
			case "uq_journal_headers_source":
				return JournalEntryHeader{}, ErrSourceAlreadyPosted
			case "uq_journal_headers_protocol":
				return JournalEntryHeader{}, ErrProtocolConflict
			}
		}
		return JournalEntryHeader{}, err
	}
	return header, nil
}

func (r *txRepository) InsertLines(ctx context.Context, headerID shared.HeaderID, lines []JournalEntryLine) error {
	for _, line := range lines {
		if _, err := r.tx.Exec(ctx,
			`INSERT INTO journal_lines (header_id, account, side, amount, description) VALUES ($1,$2,$3,$4,$5)`,
			headerID, line.Account, line.Side, line.Amount, line.Description); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) InsertVatMovement(ctx context.Context, movement vat.Movement) (vat.Movement, error) {
	return vat.TxInsertMovement(ctx, r.tx, movement)
}

func (r *txRepository) OpenItems() openitems.TxRepository {
	return openitems.NewTxRepository(r.tx)
}
