package catalog

import (
	"context"
	"fmt"
	"strconv"

	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/vat"
)

// Service resolves and administers accounting function templates.
type Service struct {
	repo  Repository
	cache *Cache
}

// NewService builds a Service instance.
func NewService(repo Repository, cache *Cache) *Service {
	return &Service{repo: repo, cache: cache}
}

// GetTemplate returns the active template and its ordered rows for the
// tenant, reading through the cache. Missing or inactive templates fail with
// ErrTemplateNotFound.
func (s *Service) GetTemplate(ctx context.Context, tenantID shared.TenantID, code string) (FunctionTemplate, error) {
	if code == "" {
		return FunctionTemplate{}, ErrTemplateNotFound
	}
	key, err := s.cache.BuildKey(ctx, "catalog", "tpl", strconv.FormatInt(int64(tenantID), 10), code)
	if err != nil {
		return FunctionTemplate{}, err
	}
	var tpl FunctionTemplate
	err = s.cache.FetchJSON(ctx, key, &tpl, func(ctx context.Context) (interface{}, error) {
		return s.repo.GetTemplateByCode(ctx, tenantID, code)
	})
	if err != nil {
		return FunctionTemplate{}, err
	}
	// A cache hit can still carry a template deactivated before the bump
	// reached this node; re-check the flag rather than trust the payload.
	if !tpl.Active {
		return FunctionTemplate{}, ErrTemplateNotFound
	}
	return tpl, nil
}

// ListTemplates returns templates for administration screens.
func (s *Service) ListTemplates(ctx context.Context, tenantID shared.TenantID, page shared.Pagination) ([]FunctionTemplate, shared.Pagination, error) {
	items, total, err := s.repo.ListTemplates(ctx, tenantID, page)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(page.Page, page.PerPage, total), nil
}

// CreateTemplate validates and stores a new template with its rows.
func (s *Service) CreateTemplate(ctx context.Context, tpl FunctionTemplate) (FunctionTemplate, error) {
	if err := validateTemplate(tpl); err != nil {
		return FunctionTemplate{}, err
	}
	created, err := s.repo.CreateTemplate(ctx, tpl)
	if err != nil {
		return FunctionTemplate{}, err
	}
	if err := s.cache.Bump(ctx); err != nil {
		return FunctionTemplate{}, err
	}
	return created, nil
}

// DeactivateTemplate soft-disables future use of the template.
func (s *Service) DeactivateTemplate(ctx context.Context, tenantID shared.TenantID, code string) error {
	if err := s.repo.DeactivateTemplate(ctx, tenantID, code); err != nil {
		return err
	}
	return s.cache.Bump(ctx)
}

func validateTemplate(tpl FunctionTemplate) error {
	if tpl.Code == "" || tpl.Name == "" {
		return fmt.Errorf("%w: code and name required", ErrInvalidRow)
	}
	switch tpl.Class {
	case ClassPrimary, ClassSecondary, ClassFinancial, ClassSystem:
	default:
		return fmt.Errorf("%w: unknown class %q", ErrInvalidRow, tpl.Class)
	}
	seen := make(map[string]struct{}, len(tpl.Rows))
	for _, row := range tpl.Rows {
		if row.Slot == "" {
			return fmt.Errorf("%w: row slot required", ErrInvalidRow)
		}
		if _, dup := seen[row.Slot]; dup {
			return ErrDuplicateSlot
		}
		seen[row.Slot] = struct{}{}
		if row.Side != Debit && row.Side != Credit {
			return fmt.Errorf("%w: row %q side must be debit or credit", ErrInvalidRow, row.Slot)
		}
		switch row.Account.Kind {
		case RowAccountFixed:
			if row.Account.Fixed == 0 {
				return fmt.Errorf("%w: row %q fixed account required", ErrInvalidRow, row.Slot)
			}
		case RowAccountSearchable:
		default:
			return fmt.Errorf("%w: row %q account kind unknown", ErrInvalidRow, row.Slot)
		}
		if row.VatBearing && row.Register != vat.RegisterSales && row.Register != vat.RegisterPurchases {
			return fmt.Errorf("%w: row %q needs a vat register", ErrInvalidRow, row.Slot)
		}
	}
	return nil
}
