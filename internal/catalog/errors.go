package catalog

import "errors"

var (
	// ErrTemplateNotFound indicates the template is absent or inactive for the tenant.
	ErrTemplateNotFound = errors.New("catalog: accounting function not found")
	// ErrDuplicateCode indicates the template code already exists for the tenant.
	ErrDuplicateCode = errors.New("catalog: accounting function code already exists")
	// ErrDuplicateSlot indicates two rows share a slot name.
	ErrDuplicateSlot = errors.New("catalog: duplicate row slot")
	// ErrInvalidRow indicates a row definition that cannot be stored.
	ErrInvalidRow = errors.New("catalog: invalid row definition")
)
