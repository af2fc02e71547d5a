package posting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/catalog"
	"github.com/meridian-erp/meridian-erp/internal/chain"
	"github.com/meridian-erp/meridian-erp/internal/coa"
	"github.com/meridian-erp/meridian-erp/internal/openitems"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/vat"
)

// maxChainDepth bounds linked-function recursion. Configuration rejects
// self-loops but cannot see longer cycles; the engine refuses them here.
const maxChainDepth = 8

// TemplateCatalog resolves accounting function templates.
type TemplateCatalog interface {
	GetTemplate(ctx context.Context, tenantID shared.TenantID, code string) (catalog.FunctionTemplate, error)
}

// FunctionGraph resolves linked secondary functions in execution order.
type FunctionGraph interface {
	GetSecondaries(ctx context.Context, tenantID shared.TenantID, primaryCode string) ([]chain.Edge, error)
}

// AuditPort records posting activity for the audit trail.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort publishes posting outcomes.
type MetricsPort interface {
	ObservePosting(outcome string, depth int)
}

// Service is the posting generator: it expands templates into balanced
// journal entries and drives linked-function chains.
type Service struct {
	repo     Repository
	catalog  TemplateCatalog
	graph    FunctionGraph
	accounts coa.Directory
	audit    AuditPort
	metrics  MetricsPort
	now      func() time.Time
}

// NewService builds a Service instance.
func NewService(repo Repository, cat TemplateCatalog, graph FunctionGraph, accounts coa.Directory, audit AuditPort, metrics MetricsPort) *Service {
	return &Service{
		repo:     repo,
		catalog:  cat,
		graph:    graph,
		accounts: accounts,
		audit:    audit,
		metrics:  metrics,
		now:      time.Now,
	}
}

// WithNow overrides the clock, used by tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Post executes an accounting function and its linked chain as one atomic
// unit. Either every header, line, open item and VAT movement of the chain
// commits, or none of them are visible.
func (s *Service) Post(ctx context.Context, in PostingInput) (PostingResult, error) {
	if in.FunctionCode == "" {
		return PostingResult{}, catalog.ErrTemplateNotFound
	}
	if in.SourceRef == uuid.Nil {
		in.SourceRef = uuid.New()
	}
	if in.DocumentDate.IsZero() {
		in.DocumentDate = s.now()
	}

	var result PostingResult
	var depth int
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		level, err := s.postInTx(ctx, tx, in, nil, 0, []string{in.FunctionCode}, &result)
		if err != nil {
			return err
		}
		result.HeaderID = level.header.ID
		result.Protocol = level.header.Protocol
		depth = len(result.HeaderIDs) - 1
		return nil
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.ObservePosting("failed", depth)
		}
		return PostingResult{}, err
	}
	if s.metrics != nil {
		s.metrics.ObservePosting("posted", depth)
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			TenantID: in.TenantID,
			Action:   "posting.post",
			Entity:   shared.RefJournal(result.HeaderID),
			Meta: map[string]any{
				"function":   in.FunctionCode,
				"protocol":   result.Protocol,
				"headers":    len(result.HeaderIDs),
				"source_ref": in.SourceRef.String(),
			},
			At: s.now(),
		})
	}
	return result, nil
}

// levelResult carries one chain level's outputs back to its caller.
type levelResult struct {
	header JournalEntryHeader
	params ParamContext
}

// postInTx executes one chain level and recurses into its secondaries. The
// transaction, the parameter context and the function-code path are threaded
// explicitly; nothing about the chain lives in shared state.
func (s *Service) postInTx(ctx context.Context, tx TxRepository, in PostingInput, directive *openItemDirective, depth int, path []string, result *PostingResult) (levelResult, error) {
	if depth > maxChainDepth {
		return levelResult{}, &ChainError{Depth: depth, Path: path, Err: ErrChainTooDeep}
	}

	tpl, err := s.catalog.GetTemplate(ctx, in.TenantID, in.FunctionCode)
	if err != nil {
		return levelResult{}, err
	}

	exp, err := expandTemplate(tpl, in.Bindings)
	if err != nil {
		return levelResult{}, err
	}
	if err := s.checkAccounts(ctx, in.TenantID, tpl, exp); err != nil {
		return levelResult{}, err
	}

	protocol, err := tx.AllocateProtocol(ctx, in.TenantID)
	if err != nil {
		return levelResult{}, err
	}
	header, err := tx.InsertHeader(ctx, JournalEntryHeader{
		TenantID:       in.TenantID,
		Protocol:       protocol,
		DocumentDate:   in.DocumentDate,
		DocumentNumber: in.DocumentNumber,
		DocumentTotal:  exp.Total,
		Counterparty:   in.Counterparty,
		FunctionCode:   in.FunctionCode,
		SourceRef:      in.SourceRef,
	})
	if err != nil {
		return levelResult{}, err
	}
	if err := tx.InsertLines(ctx, header.ID, exp.Lines); err != nil {
		return levelResult{}, err
	}
	header.Lines = exp.Lines
	result.HeaderIDs = append(result.HeaderIDs, header.ID)

	for _, component := range exp.Vat {
		movement, err := tx.InsertVatMovement(ctx, vat.Movement{
			TenantID: in.TenantID,
			HeaderID: header.ID,
			Register: component.Register,
			Base:     component.Base,
			Rate:     component.Rate,
			Tax:      component.Tax,
		})
		if err != nil {
			return levelResult{}, err
		}
		result.VatMovementIDs = append(result.VatMovementIDs, movement.ID)
	}

	params := buildParamContext(in, exp, header)

	if tpl.HasFlag(catalog.FlagManagesOpenItems) {
		itemID, err := s.executeOpenItem(ctx, tx, in, tpl, header, exp.Total, directive, result)
		if err != nil {
			return levelResult{}, err
		}
		if itemID != 0 {
			ref := shared.RefOpenItem(itemID)
			params["open_item.id"] = ParamValue{Ref: &ref}
		}
	}

	edges, err := s.graph.GetSecondaries(ctx, in.TenantID, in.FunctionCode)
	if err != nil {
		return levelResult{}, err
	}
	for _, edge := range edges {
		secInput := PostingInput{
			TenantID:       in.TenantID,
			FunctionCode:   edge.SecondaryCode,
			Bindings:       Bindings{},
			DocumentDate:   in.DocumentDate,
			DocumentNumber: in.DocumentNumber,
			Counterparty:   in.Counterparty,
			DueDate:        in.DueDate,
			SourceRef:      uuid.New(),
		}
		secDirective, err := applyMappings(edge.Mappings, params, &secInput)
		if err != nil {
			return levelResult{}, &ChainError{Depth: depth + 1, Path: append(path, edge.SecondaryCode), Err: err}
		}
		if _, err := s.postInTx(ctx, tx, secInput, secDirective, depth+1, append(path, edge.SecondaryCode), result); err != nil {
			var chainErr *ChainError
			if errors.As(err, &chainErr) {
				return levelResult{}, err
			}
			return levelResult{}, &ChainError{Depth: depth + 1, Path: append(path, edge.SecondaryCode), Err: err}
		}
	}

	return levelResult{header: header, params: params}, nil
}

// checkAccounts verifies every expanded line posts to an existing account
// that accepts direct postings and satisfies the row's class constraint.
func (s *Service) checkAccounts(ctx context.Context, tenantID shared.TenantID, tpl catalog.FunctionTemplate, exp expansion) error {
	for i, line := range exp.Lines {
		info, err := s.accounts.ResolveAccount(ctx, tenantID, line.Account)
		if err != nil {
			return err
		}
		if !info.Exists || !info.AcceptsDirectPostings {
			return fmt.Errorf("%w: account %d", ErrAccountNotPostable, line.Account)
		}
		row := tpl.Rows[i]
		if row.Account.Kind == catalog.RowAccountSearchable && row.Account.Constraint != "" && info.Classification != row.Account.Constraint {
			return fmt.Errorf("%w: account %d is not %s", ErrAccountNotPostable, line.Account, row.Account.Constraint)
		}
	}
	return nil
}

// buildParamContext exposes this level's bindings and outputs to mappings.
// Slot values surface as "<slot>.account", "<slot>.amount", "<slot>.base"
// and "<slot>.rate"; document outputs as "document.*", "counterparty" and
// "header.id".
func buildParamContext(in PostingInput, exp expansion, header JournalEntryHeader) ParamContext {
	params := make(ParamContext, len(in.Bindings)*2+6)
	for slot, b := range in.Bindings {
		if b.Account != nil {
			params[slot+".account"] = ParamValue{Account: b.Account}
		}
		if b.Amount != nil {
			params[slot+".amount"] = ParamValue{Amount: b.Amount}
		}
		if b.TaxBase != nil {
			params[slot+".base"] = ParamValue{Amount: b.TaxBase}
		}
		if b.TaxRate != nil {
			params[slot+".rate"] = ParamValue{Amount: b.TaxRate}
		}
	}
	total := exp.Total
	params["document.total"] = ParamValue{Amount: &total}
	params["document.number"] = ParamValue{Text: in.DocumentNumber}
	docDate := in.DocumentDate
	params["document.date"] = ParamValue{Time: &docDate}
	if !in.DueDate.IsZero() {
		due := in.DueDate
		params["document.due_date"] = ParamValue{Time: &due}
	}
	if in.Counterparty != nil {
		params["counterparty"] = ParamValue{Account: in.Counterparty}
	}
	headerRef := shared.RefJournal(header.ID)
	params["header.id"] = ParamValue{Ref: &headerRef}
	return params
}

// openItemDirective is what parameter mappings resolved for the open item
// side effect of one chain level. A nil directive falls back to defaults
// derived from the level's own input.
type openItemDirective struct {
	counterparty *shared.AccountID
	amount       *decimal.Decimal
	dueDate      *time.Time
	kind         openitems.MovementKind
	refItem      *shared.OpenItemID
}

// applyMappings builds the secondary's bindings and open item directive from
// the primary's parameter context. An origin that resolves to nothing is a
// configuration error and aborts the chain.
func applyMappings(mappings []chain.ParameterMapping, params ParamContext, in *PostingInput) (*openItemDirective, error) {
	var directive *openItemDirective
	ensure := func() *openItemDirective {
		if directive == nil {
			directive = &openItemDirective{}
		}
		return directive
	}
	for _, m := range mappings {
		value, ok := params[m.Origin]
		if !ok {
			return nil, fmt.Errorf("%w: origin %q not present in parameter context", ErrMissingBinding, m.Origin)
		}
		switch m.DestEntity {
		case chain.DestBinding:
			slot, field, ok := splitDestField(m.DestField)
			if !ok {
				return nil, fmt.Errorf("%w: destination %q", ErrMissingBinding, m.DestField)
			}
			b := in.Bindings[slot]
			switch field {
			case "account":
				b.Account = value.Account
			case "amount":
				b.Amount = value.Amount
			case "base":
				b.TaxBase = value.Amount
			case "rate":
				b.TaxRate = value.Amount
			case "description":
				b.Description = value.Text
			default:
				return nil, fmt.Errorf("%w: destination %q", ErrMissingBinding, m.DestField)
			}
			in.Bindings[slot] = b
		case chain.DestOpenItem:
			d := ensure()
			switch m.DestField {
			case "counterparty":
				d.counterparty = value.Account
			case "amount":
				d.amount = value.Amount
			case "due_date":
				d.dueDate = value.Time
			case "kind":
				d.kind = openitems.MovementKind(value.Text)
			case "ref_item":
				if value.Ref == nil || value.Ref.Kind != shared.EntityOpenItem {
					return nil, fmt.Errorf("%w: origin %q is not an open item reference", ErrMissingBinding, m.Origin)
				}
				id := shared.OpenItemID(value.Ref.ID)
				d.refItem = &id
			default:
				return nil, fmt.Errorf("%w: destination %q", ErrMissingBinding, m.DestField)
			}
		}
	}
	return directive, nil
}

func splitDestField(dest string) (slot, field string, ok bool) {
	for i := len(dest) - 1; i >= 0; i-- {
		if dest[i] == '.' {
			return dest[:i], dest[i+1:], dest[:i] != "" && dest[i+1:] != ""
		}
	}
	return "", "", false
}

// executeOpenItem issues the open item creation or transition tied to a
// template flagged as managing open items, inside the chain's transaction.
func (s *Service) executeOpenItem(ctx context.Context, tx TxRepository, in PostingInput, tpl catalog.FunctionTemplate, header JournalEntryHeader, total decimal.Decimal, directive *openItemDirective, result *PostingResult) (shared.OpenItemID, error) {
	if directive == nil {
		directive = &openItemDirective{}
	}

	if directive.refItem != nil {
		kind := directive.kind
		if kind == "" {
			kind = openitems.KindClosure
		}
		settled, err := openitems.Settle(ctx, tx.OpenItems(), in.TenantID, *directive.refItem, kind, header.ID)
		if err != nil {
			return 0, err
		}
		result.OpenItemIDs = append(result.OpenItemIDs, settled.Closure.ID)
		return settled.Closure.ID, nil
	}

	counterparty := in.Counterparty
	if directive.counterparty != nil {
		counterparty = directive.counterparty
	}
	if counterparty == nil {
		return 0, fmt.Errorf("%w: open item requires a counterparty", ErrMissingBinding)
	}
	amount := total
	if directive.amount != nil {
		amount = *directive.amount
	}
	dueDate := in.DueDate
	if directive.dueDate != nil {
		dueDate = *directive.dueDate
	}
	if dueDate.IsZero() {
		dueDate = in.DocumentDate
	}
	kind := directive.kind
	if kind == "" {
		kind = defaultOpenKind(tpl)
	}
	item, err := openitems.Open(ctx, tx.OpenItems(), openitems.OpenItem{
		TenantID:     in.TenantID,
		Counterparty: *counterparty,
		HeaderID:     header.ID,
		DueDate:      dueDate,
		Amount:       amount,
		Kind:         kind,
	})
	if err != nil {
		return 0, err
	}
	result.OpenItemIDs = append(result.OpenItemIDs, item.ID)
	return item.ID, nil
}

// defaultOpenKind derives the movement kind from the side of the template's
// counterparty row: a credit counterparty is a payable (credit open), a
// debit counterparty a receivable (debit open).
func defaultOpenKind(tpl catalog.FunctionTemplate) openitems.MovementKind {
	for _, row := range tpl.Rows {
		if row.Account.Kind == catalog.RowAccountSearchable {
			if row.Side == catalog.Debit {
				return openitems.KindDebitOpen
			}
			return openitems.KindCreditOpen
		}
	}
	return openitems.KindCreditOpen
}

// ListJournal returns posted headers for the tenant, newest protocol first.
func (s *Service) ListJournal(ctx context.Context, tenantID shared.TenantID, page shared.Pagination) ([]JournalEntryHeader, shared.Pagination, error) {
	page = shared.NewPagination(page.Page, page.PerPage, 0)
	headers, total, err := s.repo.ListHeaders(ctx, tenantID, page)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return headers, shared.NewPagination(page.Page, page.PerPage, total), nil
}

// GetJournalEntry returns one header with its lines.
func (s *Service) GetJournalEntry(ctx context.Context, tenantID shared.TenantID, id shared.HeaderID) (JournalEntryHeader, error) {
	return s.repo.GetHeaderWithLines(ctx, tenantID, id)
}
