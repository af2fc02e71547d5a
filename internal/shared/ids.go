package shared

import "strconv"

// Typed identifiers keep tenant, account and ledger entity IDs from being
// swapped at call sites. They are plain int64s on the wire and in postgres.
type (
	TenantID      int64
	AccountID     int64
	TemplateID    int64
	EdgeID        int64
	HeaderID      int64
	OpenItemID    int64
	VatMovementID int64
)

// EntityKind names the entity class an EntityRef points at.
type EntityKind string

const (
	EntityTenant   EntityKind = "tenant"
	EntityAccount  EntityKind = "account"
	EntityTemplate EntityKind = "template"
	EntityJournal  EntityKind = "journal_header"
	EntityOpenItem EntityKind = "open_item"
	EntityVat      EntityKind = "vat_movement"
)

// EntityRef is a tagged reference to any ledger entity, used by the audit
// trail and the chain parameter context.
type EntityRef struct {
	Kind EntityKind
	ID   int64
}

func RefTenant(id TenantID) EntityRef     { return EntityRef{Kind: EntityTenant, ID: int64(id)} }
func RefAccount(id AccountID) EntityRef   { return EntityRef{Kind: EntityAccount, ID: int64(id)} }
func RefTemplate(id TemplateID) EntityRef { return EntityRef{Kind: EntityTemplate, ID: int64(id)} }
func RefJournal(id HeaderID) EntityRef    { return EntityRef{Kind: EntityJournal, ID: int64(id)} }
func RefOpenItem(id OpenItemID) EntityRef { return EntityRef{Kind: EntityOpenItem, ID: int64(id)} }
func RefVat(id VatMovementID) EntityRef   { return EntityRef{Kind: EntityVat, ID: int64(id)} }

func (r EntityRef) String() string {
	return string(r.Kind) + "/" + strconv.FormatInt(r.ID, 10)
}
