package posting

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/catalog"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// JournalEntryHeader captures one protocolled document. Headers are created
// atomically with their lines and, once posted, are never partially visible.
type JournalEntryHeader struct {
	ID             shared.HeaderID
	TenantID       shared.TenantID
	Protocol       int64
	DocumentDate   time.Time
	DocumentNumber string
	DocumentTotal  decimal.Decimal
	Counterparty   *shared.AccountID
	FunctionCode   string
	SourceRef      uuid.UUID
	CreatedAt      time.Time
	Lines          []JournalEntryLine
}

// JournalEntryLine stores a debit or credit amount for an account.
type JournalEntryLine struct {
	ID          int64
	HeaderID    shared.HeaderID
	Account     shared.AccountID
	Side        catalog.Side
	Amount      decimal.Decimal
	Description string
}

// Binding is the caller-supplied value for one template row slot. All fields
// are optional; which ones a row needs depends on its definition.
type Binding struct {
	Account     *shared.AccountID
	Amount      *decimal.Decimal
	TaxBase     *decimal.Decimal
	TaxRate     *decimal.Decimal
	Description string
}

// Bindings maps row slots to their runtime values.
type Bindings map[string]Binding

// PostingInput carries everything one Post call needs.
type PostingInput struct {
	TenantID       shared.TenantID
	FunctionCode   string
	Bindings       Bindings
	DocumentDate   time.Time
	DocumentNumber string
	Counterparty   *shared.AccountID
	DueDate        time.Time
	SourceRef      uuid.UUID
}

// PostingResult aggregates everything a completed chain produced.
type PostingResult struct {
	HeaderID       shared.HeaderID
	Protocol       int64
	HeaderIDs      []shared.HeaderID
	OpenItemIDs    []shared.OpenItemID
	VatMovementIDs []shared.VatMovementID
}

// ParamValue is one value in the chain's parameter context. Exactly one
// field is normally set; the zero value reads as "absent".
type ParamValue struct {
	Account *shared.AccountID
	Amount  *decimal.Decimal
	Text    string
	Time    *time.Time
	Ref     *shared.EntityRef
}

// ParamContext threads values produced or consumed by a primary execution
// into its linked secondaries. It is passed explicitly through the recursion
// so the whole chain stays free of shared mutable state.
type ParamContext map[string]ParamValue

// Clone returns a copy so a secondary's own outputs never leak upward.
func (c ParamContext) Clone() ParamContext {
	out := make(ParamContext, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
