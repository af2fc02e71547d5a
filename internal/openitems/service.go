package openitems

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// AuditPort records ledger mutations for the audit trail.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages the open-items ledger.
type Service struct {
	repo  Repository
	audit AuditPort
	now   func() time.Time
}

// NewService builds a Service instance.
func NewService(repo Repository, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock, used by tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CloseOpenItem settles an open item by appending a closure row and
// transitioning the original to CLOSED, atomically. Closing an item that is
// not open fails with ErrOpenItemNotOpen and leaves state unchanged.
func (s *Service) CloseOpenItem(ctx context.Context, tenantID shared.TenantID, id shared.OpenItemID, kind MovementKind) (OpenItem, error) {
	if !IsClosingKind(kind) {
		return OpenItem{}, ErrInvalidKind
	}
	var closed OpenItem
	var closureID shared.OpenItemID
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := Settle(ctx, tx, tenantID, id, kind, 0)
		if err != nil {
			return err
		}
		closed = item.Original
		closureID = item.Closure.ID
		return nil
	})
	if err != nil {
		return OpenItem{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			TenantID: tenantID,
			Action:   "openitem.close",
			Entity:   shared.RefOpenItem(id),
			Meta: map[string]any{
				"kind":       string(kind),
				"closure_id": int64(closureID),
			},
			At: s.now(),
		})
	}
	return closed, nil
}

// SettledItem pairs the transitioned original with the appended closure row.
type SettledItem struct {
	Original OpenItem
	Closure  OpenItem
}

// Settle performs the closure inside an existing transaction. The posting
// engine calls this directly so linked "close item" functions share the
// chain's atomic unit. headerID may be zero when no journal header backs the
// closure (manual settlement through the API).
func Settle(ctx context.Context, tx TxRepository, tenantID shared.TenantID, id shared.OpenItemID, kind MovementKind, headerID shared.HeaderID) (SettledItem, error) {
	original, err := tx.GetOpenItemForUpdate(ctx, tenantID, id)
	if err != nil {
		return SettledItem{}, err
	}
	if original.State != StateOpen {
		return SettledItem{}, ErrOpenItemNotOpen
	}
	rowKind, err := ClosureRowKind(kind, original.Kind)
	if err != nil {
		return SettledItem{}, err
	}
	if err := tx.MarkClosed(ctx, tenantID, id); err != nil {
		return SettledItem{}, err
	}
	refID := original.ID
	closure, err := tx.InsertOpenItem(ctx, OpenItem{
		TenantID:     tenantID,
		Counterparty: original.Counterparty,
		HeaderID:     headerID,
		RefItemID:    &refID,
		DueDate:      original.DueDate,
		Amount:       original.Amount,
		State:        StateClosed,
		Kind:         rowKind,
	})
	if err != nil {
		return SettledItem{}, err
	}
	original.State = StateClosed
	return SettledItem{Original: original, Closure: closure}, nil
}

// Open creates a new open position inside an existing transaction.
func Open(ctx context.Context, tx TxRepository, item OpenItem) (OpenItem, error) {
	if !IsOpeningKind(item.Kind) {
		return OpenItem{}, ErrInvalidKind
	}
	if !item.Amount.IsPositive() {
		return OpenItem{}, ErrInvalidAmount
	}
	item.State = StateOpen
	return tx.InsertOpenItem(ctx, item)
}

// ListOpenItems returns the tenant's items with derived delinquency applied.
func (s *Service) ListOpenItems(ctx context.Context, tenantID shared.TenantID, filter ListFilter, page shared.Pagination) ([]OpenItem, shared.Pagination, error) {
	page = shared.NewPagination(page.Page, page.PerPage, 0)
	items, total, err := s.repo.ListOpenItems(ctx, tenantID, filter, page)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	asOf := s.now()
	for i := range items {
		items[i].State = items[i].EffectiveState(asOf)
	}
	return items, shared.NewPagination(page.Page, page.PerPage, total), nil
}

// GetOpenItem returns one item with derived delinquency applied.
func (s *Service) GetOpenItem(ctx context.Context, tenantID shared.TenantID, id shared.OpenItemID) (OpenItem, error) {
	item, err := s.repo.GetOpenItem(ctx, tenantID, id)
	if err != nil {
		return OpenItem{}, err
	}
	item.State = item.EffectiveState(s.now())
	return item, nil
}

// AgingBuckets summarises outstanding amounts by days overdue.
type AgingBuckets struct {
	Current   decimal.Decimal
	Bucket30  decimal.Decimal
	Bucket60  decimal.Decimal
	Bucket90  decimal.Decimal
	Bucket120 decimal.Decimal
}

// Aging groups outstanding items by due date buckets.
func (s *Service) Aging(ctx context.Context, tenantID shared.TenantID, asOf time.Time) (AgingBuckets, error) {
	items, err := s.repo.ListOutstanding(ctx, tenantID)
	if err != nil {
		return AgingBuckets{}, err
	}
	if asOf.IsZero() {
		asOf = s.now()
	}
	buckets := AgingBuckets{
		Current:   decimal.Zero,
		Bucket30:  decimal.Zero,
		Bucket60:  decimal.Zero,
		Bucket90:  decimal.Zero,
		Bucket120: decimal.Zero,
	}
	for _, item := range items {
		days := int(asOf.Sub(item.DueDate).Hours() / 24)
		switch {
		case days <= 0:
			buckets.Current = buckets.Current.Add(item.Amount)
		case days <= 30:
			buckets.Bucket30 = buckets.Bucket30.Add(item.Amount)
		case days <= 60:
			buckets.Bucket60 = buckets.Bucket60.Add(item.Amount)
		case days <= 90:
			buckets.Bucket90 = buckets.Bucket90.Add(item.Amount)
		default:
			buckets.Bucket120 = buckets.Bucket120.Add(item.Amount)
		}
	}
	return buckets, nil
}
