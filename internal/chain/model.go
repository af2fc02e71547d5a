package chain

import (
	"time"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// DestEntity names what a mapped parameter feeds in the secondary execution.
type DestEntity string

const (
	// DestBinding injects the value into the secondary's posting bindings.
	DestBinding DestEntity = "BINDING"
	// DestOpenItem injects the value into the open item created or closed
	// by the secondary execution.
	DestOpenItem DestEntity = "OPEN_ITEM"
)

// ParameterMapping routes one value produced or consumed by the primary
// execution into a field of the secondary execution's inputs.
type ParameterMapping struct {
	ID         int64
	EdgeID     shared.EdgeID
	Origin     string // parameter name in the primary's parameter context
	DestEntity DestEntity
	DestField  string // e.g. "supplier.account", "counterparty", "amount"
}

// Edge links a primary accounting function to one secondary, with a strict
// execution order among siblings of the same primary.
type Edge struct {
	ID            shared.EdgeID
	TenantID      shared.TenantID
	PrimaryCode   string
	SecondaryCode string
	Order         int
	Mappings      []ParameterMapping
	CreatedAt     time.Time
}
