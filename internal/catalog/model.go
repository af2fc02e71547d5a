package catalog

import (
	"time"

	"github.com/meridian-erp/meridian-erp/internal/coa"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/vat"
)

// TemplateClass enumerates accounting function classifications.
type TemplateClass string

const (
	ClassPrimary   TemplateClass = "PRIMARY"
	ClassSecondary TemplateClass = "SECONDARY"
	ClassFinancial TemplateClass = "FINANCIAL"
	ClassSystem    TemplateClass = "SYSTEM"
)

// Flag marks a management behaviour attached to a template.
type Flag string

const (
	// FlagHandlesVAT marks templates whose rows carry a tax component.
	FlagHandlesVAT Flag = "HANDLES_VAT"
	// FlagManagesOpenItems marks templates that open or close
	// receivable/payable positions as part of their execution.
	FlagManagesOpenItems Flag = "MANAGES_OPEN_ITEMS"
)

// Side is the posting side of a journal line.
type Side string

const (
	Debit  Side = "DEBIT"
	Credit Side = "CREDIT"
)

// RowAccountKind discriminates the account variant of a template row.
type RowAccountKind string

const (
	RowAccountFixed      RowAccountKind = "FIXED"
	RowAccountSearchable RowAccountKind = "SEARCHABLE"
)

// RowAccount is a tagged variant: either a fixed account baked into the
// template, or a searchable placeholder the caller must resolve at post time.
type RowAccount struct {
	Kind       RowAccountKind
	Fixed      shared.AccountID   // valid when Kind == RowAccountFixed
	Constraint coa.Classification // optional class constraint when searchable
}

// FixedAccount builds the fixed variant.
func FixedAccount(id shared.AccountID) RowAccount {
	return RowAccount{Kind: RowAccountFixed, Fixed: id}
}

// SearchableAccount builds the searchable variant.
func SearchableAccount(constraint coa.Classification) RowAccount {
	return RowAccount{Kind: RowAccountSearchable, Constraint: constraint}
}

// FunctionRow is one ordered row of a template.
type FunctionRow struct {
	ID          int64
	Position    int
	Slot        string // logical name callers bind against, e.g. "supplier"
	Account     RowAccount
	Side        Side
	Description string
	// SubAccountEditable permits the caller to override the account on a
	// fixed row. Overrides on non-editable fixed rows are ignored.
	SubAccountEditable bool
	// VatBearing rows carry the tax component; Register says which VAT
	// register the movement belongs to.
	VatBearing bool
	Register   vat.Register
}

// FunctionTemplate is a reusable accounting function definition. The engine
// never mutates templates at run time; deactivation only disables future use.
type FunctionTemplate struct {
	ID        shared.TemplateID
	TenantID  shared.TenantID
	Code      string
	Name      string
	Category  string
	Class     TemplateClass
	Flags     []Flag
	Active    bool
	Rows      []FunctionRow
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasFlag reports whether the template carries the given management flag.
func (t FunctionTemplate) HasFlag(flag Flag) bool {
	for _, f := range t.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Row returns the row bound to the given slot.
func (t FunctionTemplate) Row(slot string) (FunctionRow, bool) {
	for _, r := range t.Rows {
		if r.Slot == slot {
			return r, true
		}
	}
	return FunctionRow{}, false
}
