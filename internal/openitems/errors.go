package openitems

import "errors"

var (
	// ErrOpenItemNotFound indicates a missing item.
	ErrOpenItemNotFound = errors.New("openitems: item not found")
	// ErrOpenItemNotOpen indicates a closure against an already closed item.
	// Double closure is a caller error, not an idempotent no-op: it usually
	// signals a reconciliation bug upstream.
	ErrOpenItemNotOpen = errors.New("openitems: item is not open")
	// ErrIncompatibleKind indicates a closure kind that does not match the
	// original movement kind.
	ErrIncompatibleKind = errors.New("openitems: closure kind incompatible with item")
	// ErrInvalidKind indicates an unknown movement kind.
	ErrInvalidKind = errors.New("openitems: invalid movement kind")
	// ErrInvalidAmount indicates a non-positive amount.
	ErrInvalidAmount = errors.New("openitems: amount must be positive")
)
