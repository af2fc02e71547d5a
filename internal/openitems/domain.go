package openitems

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// State enumerates open item lifecycle values. DELINQUENT is derived on the
// read side from the due date; it is never written.
type State string

const (
	StateOpen       State = "OPEN"
	StateClosed     State = "CLOSED"
	StateDelinquent State = "DELINQUENT"
)

// MovementKind enumerates open item movement kinds.
type MovementKind string

const (
	KindCreditOpen     MovementKind = "CREDIT_OPEN"
	KindDebitOpen      MovementKind = "DEBIT_OPEN"
	KindClosure        MovementKind = "CLOSURE"
	KindCreditReversal MovementKind = "CREDIT_REVERSAL"
	KindDebitReversal  MovementKind = "DEBIT_REVERSAL"
	KindClosureCredit  MovementKind = "CLOSURE_CREDIT"
	KindClosureDebit   MovementKind = "CLOSURE_DEBIT"
)

// OpenItem is one row of the receivable/payable ledger. Rows are never
// deleted; closures and reversals append new rows referencing the original
// and transition its state.
type OpenItem struct {
	ID           shared.OpenItemID
	TenantID     shared.TenantID
	Counterparty shared.AccountID
	// HeaderID is zero for manual settlements no journal entry backs.
	HeaderID shared.HeaderID
	// RefItemID points at the item a closure row settles; nil on opens.
	RefItemID *shared.OpenItemID
	DueDate   time.Time
	Amount    decimal.Decimal
	State     State
	Kind      MovementKind
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EffectiveState derives the read-side state: an open item past its due date
// reads as delinquent without a separate write path.
func (i OpenItem) EffectiveState(asOf time.Time) State {
	if i.State == StateOpen && i.DueDate.Before(asOf) {
		return StateDelinquent
	}
	return i.State
}

// IsOpeningKind reports whether the kind creates a new open position.
func IsOpeningKind(kind MovementKind) bool {
	return kind == KindCreditOpen || kind == KindDebitOpen
}

// IsClosingKind reports whether the kind settles an existing position.
func IsClosingKind(kind MovementKind) bool {
	switch kind {
	case KindClosure, KindClosureCredit, KindClosureDebit, KindCreditReversal, KindDebitReversal:
		return true
	}
	return false
}

// ClosureRowKind normalises the kind recorded on the appended closure row.
// Reversals are stored as Closure* rows against the original, which keeps
// the ledger append-only while still distinguishing the settled side.
func ClosureRowKind(requested, original MovementKind) (MovementKind, error) {
	switch requested {
	case KindClosure:
		switch original {
		case KindCreditOpen:
			return KindClosureCredit, nil
		case KindDebitOpen:
			return KindClosureDebit, nil
		}
	case KindCreditReversal, KindClosureCredit:
		if original == KindCreditOpen {
			return KindClosureCredit, nil
		}
	case KindDebitReversal, KindClosureDebit:
		if original == KindDebitOpen {
			return KindClosureDebit, nil
		}
	default:
		return "", ErrInvalidKind
	}
	return "", ErrIncompatibleKind
}
