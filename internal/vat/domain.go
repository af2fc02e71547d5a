package vat

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Register selects which VAT register a movement belongs to.
type Register string

const (
	RegisterSales     Register = "SALES"
	RegisterPurchases Register = "PURCHASES"
)

// Movement is one taxable-base/rate/tax triple recorded alongside a posting.
// Movements are written once and never mutated.
type Movement struct {
	ID        shared.VatMovementID
	TenantID  shared.TenantID
	HeaderID  shared.HeaderID
	Register  Register
	Base      decimal.Decimal
	Rate      decimal.Decimal
	Tax       decimal.Decimal
	CreatedAt time.Time
}

// Tax computes the tax amount for a taxable base and a percentage rate with
// banker's rounding to two decimal places. It is applied exactly once per
// movement; downstream code must never re-derive tax from rounded pieces.
func Tax(base, rate decimal.Decimal) decimal.Decimal {
	return base.Mul(rate).Div(decimal.NewFromInt(100)).RoundBank(2)
}

// RegisterSummary aggregates movements per (register, rate) over a range.
type RegisterSummary struct {
	TenantID  shared.TenantID
	Register  Register
	Rate      decimal.Decimal
	TotalBase decimal.Decimal
	TotalTax  decimal.Decimal
	From      time.Time
	To        time.Time
}
