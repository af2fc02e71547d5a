package posting

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/catalog"
	"github.com/meridian-erp/meridian-erp/internal/vat"
)

// vatComponent accumulates the taxable base for one (register, rate) pair.
type vatComponent struct {
	Register vat.Register
	Rate     decimal.Decimal
	Base     decimal.Decimal
	Tax      decimal.Decimal
}

// expansion is the concrete, balanced materialisation of a template. Lines
// align index-for-index with the template rows they came from.
type expansion struct {
	Lines []JournalEntryLine
	Total decimal.Decimal
	Vat   []vatComponent
}

// expandTemplate merges template defaults with caller bindings into concrete
// journal lines and validates the balance invariant. It performs no I/O;
// nothing is written unless the whole expansion succeeds.
func expandTemplate(tpl catalog.FunctionTemplate, bindings Bindings) (expansion, error) {
	var exp expansion
	debit := decimal.Zero
	credit := decimal.Zero
	vatIdx := make(map[string]int)

	for _, row := range tpl.Rows {
		b := bindings[row.Slot]

		var account = row.Account.Fixed
		switch row.Account.Kind {
		case catalog.RowAccountSearchable:
			if b.Account == nil {
				return expansion{}, fmt.Errorf("%w: slot %q requires an account", ErrMissingBinding, row.Slot)
			}
			account = *b.Account
		case catalog.RowAccountFixed:
			// Overrides on non-editable rows are ignored, not rejected.
			if row.SubAccountEditable && b.Account != nil {
				account = *b.Account
			}
		}

		var amount decimal.Decimal
		switch {
		case row.VatBearing && b.TaxBase != nil && b.TaxRate != nil:
			amount = vat.Tax(*b.TaxBase, *b.TaxRate)
			key := string(row.Register) + "/" + b.TaxRate.String()
			if i, ok := vatIdx[key]; ok {
				exp.Vat[i].Base = exp.Vat[i].Base.Add(*b.TaxBase)
			} else {
				vatIdx[key] = len(exp.Vat)
				exp.Vat = append(exp.Vat, vatComponent{
					Register: row.Register,
					Rate:     *b.TaxRate,
					Base:     *b.TaxBase,
				})
			}
		case b.Amount != nil:
			amount = *b.Amount
		default:
			return expansion{}, fmt.Errorf("%w: slot %q requires an amount", ErrMissingBinding, row.Slot)
		}
		if amount.IsNegative() {
			return expansion{}, fmt.Errorf("%w: slot %q", ErrNegativeAmount, row.Slot)
		}

		description := row.Description
		if b.Description != "" {
			description = b.Description
		}

		switch row.Side {
		case catalog.Debit:
			debit = debit.Add(amount)
		case catalog.Credit:
			credit = credit.Add(amount)
		}
		exp.Lines = append(exp.Lines, JournalEntryLine{
			Account:     account,
			Side:        row.Side,
			Amount:      amount,
			Description: description,
		})
	}

	if !debit.Equal(credit) {
		return expansion{}, fmt.Errorf("%w: debit %s, credit %s", ErrImbalancedPosting, debit.String(), credit.String())
	}
	exp.Total = debit

	// Tax is computed exactly once per movement from the full base, never
	// summed from per-row rounded values.
	for i := range exp.Vat {
		exp.Vat[i].Tax = vat.Tax(exp.Vat[i].Base, exp.Vat[i].Rate)
	}
	return exp, nil
}
