package coa

import (
	"context"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Classification enumerates account classes in the chart of accounts.
type Classification string

const (
	ClassAsset     Classification = "ASSET"
	ClassLiability Classification = "LIABILITY"
	ClassCost      Classification = "COST"
	ClassRevenue   Classification = "REVENUE"
)

// AccountInfo is the resolved view of one account reference.
type AccountInfo struct {
	Ref                   shared.AccountID
	Exists                bool
	AcceptsDirectPostings bool
	Classification        Classification
}

// Directory resolves account references against the chart of accounts.
// The chart itself is owned elsewhere; the engine only reads it.
type Directory interface {
	ResolveAccount(ctx context.Context, tenantID shared.TenantID, ref shared.AccountID) (AccountInfo, error)
}
